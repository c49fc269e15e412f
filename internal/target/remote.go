package target

import (
	"context"
	"log"

	"github.com/pentagent/pentagent/internal/dispatch"
	"github.com/pentagent/pentagent/internal/process"
	"github.com/pentagent/pentagent/pkg/types"
)

// Liveness answers whether a remote connection heartbeated recently.
// Implemented by conn.Registry.
type Liveness interface {
	IsAlive(ctx context.Context, connectionID string) (bool, error)
}

// RemoteTarget runs commands on a user-operated client that polls the
// backend for work. There is no push channel: Run enqueues and waits,
// bounded by the command timeout.
type RemoteTarget struct {
	connectionID string
	dispatcher   *dispatch.Dispatcher
	liveness     Liveness
	tracker      *process.Tracker
}

// NewRemoteTarget creates a target over one remote connection.
func NewRemoteTarget(connectionID string, dispatcher *dispatch.Dispatcher, liveness Liveness, tracker *process.Tracker) *RemoteTarget {
	return &RemoteTarget{
		connectionID: connectionID,
		dispatcher:   dispatcher,
		liveness:     liveness,
		tracker:      tracker,
	}
}

// Run enqueues the command and blocks until the client reports a result or
// the timeout elapses (synthesized timeout result). A connection with no
// live heartbeat fails fast with ErrDisconnected instead of queueing.
func (t *RemoteTarget) Run(ctx context.Context, command string, opts RunOptions) (*types.CommandResult, error) {
	if !t.alive(ctx) {
		return nil, ErrDisconnected
	}
	return t.dispatcher.Run(ctx, t.connectionID, command, opts.Cwd, opts.Env, opts.TimeoutMs)
}

// RunBackground dispatches a nohup launch that prints the PID of the
// detached process, then registers that PID with the session tracker.
func (t *RemoteTarget) RunBackground(ctx context.Context, command string, opts RunOptions) (int, error) {
	if !t.alive(ctx) {
		return 0, ErrDisconnected
	}

	pid, err := process.LaunchDetached(ctx, t.runner(), command, opts.Cwd, opts.Env)
	if err != nil {
		return 0, err
	}
	if err := t.tracker.Register(pid, command, opts.ToolCallID, t.connectionID); err != nil {
		return 0, err
	}
	return pid, nil
}

// Kill force-terminates a tracked process on the remote host.
func (t *RemoteTarget) Kill(ctx context.Context, pid int) (bool, error) {
	if !t.alive(ctx) {
		// Nothing reachable to kill; treat as already gone.
		t.tracker.Remove(pid, t.connectionID)
		return false, nil
	}
	return t.tracker.Kill(ctx, t.runner(), pid, t.connectionID)
}

// CheckStatus verifies a batch of PIDs on the remote host. A disconnected
// client short-circuits every request to not-running without dispatching a
// single query.
func (t *RemoteTarget) CheckStatus(ctx context.Context, reqs []types.ProcessStatusRequest) []types.ProcessStatus {
	var runner process.Runner
	if t.alive(ctx) {
		runner = t.runner()
	}
	return process.CheckBatch(ctx, runner, reqs)
}

func (t *RemoteTarget) alive(ctx context.Context) bool {
	alive, err := t.liveness.IsAlive(ctx, t.connectionID)
	if err != nil {
		log.Printf("target: liveness check for %s failed: %v", t.connectionID, err)
		return false
	}
	return alive
}

func (t *RemoteTarget) runner() process.Runner {
	return &remoteRunner{connectionID: t.connectionID, dispatcher: t.dispatcher}
}

type remoteRunner struct {
	connectionID string
	dispatcher   *dispatch.Dispatcher
}

// RunCommand dispatches a short probe command to the remote client with a
// tight timeout so a wedged client cannot hang the backend.
func (r *remoteRunner) RunCommand(ctx context.Context, command string) (string, error) {
	result, err := r.dispatcher.Run(ctx, r.connectionID, command, "", nil, int(probeTimeout.Milliseconds()))
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}
