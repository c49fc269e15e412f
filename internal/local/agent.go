// Package local implements the remote execution client: a long-lived
// process, run by the end user, that authenticates once, polls the relay
// for pending commands, executes them in the chosen isolation mode, and
// reports results. The backend can never reach it; every exchange starts
// here.
package local

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pentagent/pentagent/internal/conn"
	"github.com/pentagent/pentagent/internal/docker"
	"github.com/pentagent/pentagent/internal/shell"
	"github.com/pentagent/pentagent/pkg/client"
	"github.com/pentagent/pentagent/pkg/types"
)

const (
	// DefaultImage is the only image pulled automatically when absent; a
	// user-supplied image is used as-is.
	DefaultImage = "pentagent/sandbox"

	pollInterval   = 500 * time.Millisecond
	defaultTimeout = 60 * time.Second
)

// Config configures the remote execution client.
type Config struct {
	Token      string
	Name       string
	Image      string
	Mode       types.IsolationMode
	BackendURL string
}

// Agent is one running remote execution client.
type Agent struct {
	cfg     Config
	relay   *client.Client
	history *History

	docker      *docker.Client
	containerID string
	runner      Runner

	connectionID string
	userID       string
}

// New creates an unconnected agent.
func New(cfg Config) *Agent {
	return &Agent{
		cfg:   cfg,
		relay: client.NewClient(cfg.BackendURL),
	}
}

// Run drives the full client lifecycle: provision isolation, connect,
// run the heartbeat and poll loops until ctx is cancelled, then tear
// everything down. A provisioning or connect failure is terminal.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.provision(ctx); err != nil {
		a.teardown()
		return err
	}

	if err := a.connect(ctx); err != nil {
		a.teardown()
		return err
	}

	if history, err := OpenHistory(); err != nil {
		log.Printf("local: command history disabled: %v", err)
	} else {
		a.history = history
	}

	log.Printf("local: connected as %q (connection %s, mode=%s)",
		a.cfg.Name, a.connectionID, a.cfg.Mode)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		a.pollLoop(ctx)
	}()
	wg.Wait()

	a.teardown()
	return nil
}

// provision prepares the isolation mode. Containerized mode verifies the
// Docker runtime, pulls the default image if missing, and starts the
// long-lived container. Host mode skips all of it and warns.
func (a *Agent) provision(ctx context.Context) error {
	if a.cfg.Mode == types.IsolationHost {
		log.Printf("local: WARNING: running in host mode, commands execute directly on this machine with no isolation")
		a.runner = &HostRunner{}
		return nil
	}

	dockerClient, err := docker.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("docker runtime unavailable (use --dangerous to run without isolation): %w", err)
	}
	a.docker = dockerClient

	version, _ := dockerClient.Version(ctx)
	log.Printf("local: using %s", version)

	image := a.cfg.Image
	if image == "" {
		image = DefaultImage
	}
	exists, err := dockerClient.ImageExists(ctx, image)
	if err != nil {
		return fmt.Errorf("check image %s: %w", image, err)
	}
	if !exists {
		if image != DefaultImage {
			return fmt.Errorf("image %s not found locally; pull it first", image)
		}
		log.Printf("local: pulling %s (first run)", image)
		if err := dockerClient.PullImage(ctx, image); err != nil {
			return fmt.Errorf("pull image %s: %w", image, err)
		}
	}

	name := fmt.Sprintf("pentagent-%s", uuid.NewString()[:8])
	containerID, err := dockerClient.CreateContainer(ctx, docker.DefaultContainerConfig(name, image))
	if err != nil {
		return err
	}
	a.containerID = containerID
	a.runner = NewContainerRunner(dockerClient, containerID)
	log.Printf("local: execution container %s started", name)
	return nil
}

// connect performs the one-time authentication. No retry: a bad token or
// unreachable backend should fail the process with a diagnostic, not spin.
func (a *Agent) connect(ctx context.Context) error {
	req := types.ConnectRequest{
		Token:       a.cfg.Token,
		Name:        a.cfg.Name,
		Mode:        a.cfg.Mode,
		ContainerID: a.containerID,
	}
	if a.cfg.Mode == types.IsolationHost {
		hostname, _ := os.Hostname()
		req.OS = &types.OSInfo{
			Platform: runtime.GOOS,
			Arch:     runtime.GOARCH,
			Hostname: hostname,
		}
	}

	resp, err := a.relay.Connect(ctx, req)
	if err != nil {
		return fmt.Errorf("connect to backend: %w", err)
	}
	a.connectionID = resp.ConnectionID
	a.userID = resp.UserID
	return nil
}

// heartbeatLoop sends a liveness signal on a fixed interval. A failed
// heartbeat is logged and retried on the next tick; only the backend's
// staleness sweep decides when this connection is dead.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(conn.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := a.relay.Heartbeat(hbCtx, a.connectionID); err != nil {
				log.Printf("local: heartbeat failed: %v", err)
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// pollLoop asks the backend for pending commands on a tight interval and
// executes them serially in arrival order. One in-flight command at a
// time, by design: parallel tool output interleaved in one container is
// worse than a short queue.
func (a *Agent) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := a.relay.PendingCommands(ctx, a.connectionID)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("local: poll failed: %v", err)
				}
				continue
			}
			for _, cmd := range cmds {
				if ctx.Err() != nil {
					return
				}
				a.executeCommand(ctx, cmd)
			}
		case <-ctx.Done():
			return
		}
	}
}

// executeCommand claims, runs, and reports one command. Every path ends in
// a submitted result, including failures to run at all: the backend must
// never wait on a command that silently vanished.
func (a *Agent) executeCommand(ctx context.Context, cmd types.Command) {
	if err := a.relay.MarkExecuting(ctx, a.connectionID, cmd.ID); err != nil {
		log.Printf("local: claim %s failed: %v", cmd.ID, err)
		return
	}

	timeout := defaultTimeout
	if cmd.TimeoutMs > 0 {
		timeout = time.Duration(cmd.TimeoutMs) * time.Millisecond
	}

	effective := shell.Prefixed(cmd.Text, cmd.Cwd, cmd.Env)
	log.Printf("local: executing %s (timeout=%s)", cmd.ID, timeout)

	start := time.Now()
	out, err := a.runner.Exec(ctx, effective, timeout)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		// Could not even run it (container gone, shell missing). Report
		// that as a failed result rather than leaving the command hanging.
		out = &ExecOutput{Stderr: err.Error(), ExitCode: 127}
	}

	result := types.CommandResult{
		CommandID:  cmd.ID,
		Stdout:     out.Stdout,
		Stderr:     out.Stderr,
		ExitCode:   out.ExitCode,
		DurationMs: durationMs,
	}
	if err := a.relay.SubmitResult(ctx, a.connectionID, result); err != nil {
		log.Printf("local: submit result for %s failed: %v", cmd.ID, err)
	}

	if a.history != nil {
		if err := a.history.Record(cmd.ID, cmd.Text, cmd.Cwd,
			out.ExitCode, durationMs, len(out.Stdout), len(out.Stderr)); err != nil {
			log.Printf("local: history write failed: %v", err)
		}
	}
}

// teardown runs the full cleanup sequence. Unconditional and idempotent:
// every step logs its own failure and the next one still runs.
func (a *Agent) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.connectionID != "" {
		if err := a.relay.Disconnect(ctx, a.connectionID); err != nil {
			log.Printf("local: disconnect notification failed: %v", err)
		}
		a.connectionID = ""
	}

	if a.containerID != "" && a.docker != nil {
		if err := a.docker.RemoveContainer(ctx, a.containerID); err != nil {
			log.Printf("local: container removal failed: %v", err)
		}
		a.containerID = ""
	}

	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Printf("local: history close failed: %v", err)
		}
		a.history = nil
	}
}
