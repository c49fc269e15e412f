package local

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/pentagent/pentagent/internal/docker"
)

// ExecOutput is what executing one command yields. Timeouts and non-zero
// exits are outputs, not errors; err is reserved for "could not even run
// it" (container gone, shell missing).
type ExecOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes one shell command in the client's isolation mode.
type Runner interface {
	Exec(ctx context.Context, command string, timeout time.Duration) (*ExecOutput, error)
}

// HostRunner runs commands directly on the client host. No isolation.
type HostRunner struct{}

func (r *HostRunner) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecOutput, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Orphaned children inherit the output pipes; without a wait delay a
	// timed-out command with background children would stall Wait forever.
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()

	out := &ExecOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			out.ExitCode = 124
			out.Stderr += fmt.Sprintf("\ncommand timed out after %s", timeout)
			return out, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return nil, fmt.Errorf("exec failed: %w", err)
	}

	return out, nil
}

// ContainerRunner runs commands inside the client's long-lived container.
type ContainerRunner struct {
	client      *docker.Client
	containerID string
}

// NewContainerRunner creates a runner over an existing container.
func NewContainerRunner(client *docker.Client, containerID string) *ContainerRunner {
	return &ContainerRunner{client: client, containerID: containerID}
}

func (r *ContainerRunner) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecOutput, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := r.client.ExecInContainer(execCtx, r.containerID, command)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return &ExecOutput{
				ExitCode: 124,
				Stderr:   fmt.Sprintf("command timed out after %s", timeout),
			}, nil
		}
		return nil, fmt.Errorf("exec in container %s: %w", r.containerID, err)
	}

	// docker exec forwards the inner command's exit code.
	return &ExecOutput{
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
	}, nil
}
