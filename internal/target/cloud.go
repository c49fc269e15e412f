package target

import (
	"context"
	"errors"
	"time"

	"github.com/pentagent/pentagent/internal/process"
	"github.com/pentagent/pentagent/internal/sandbox"
	"github.com/pentagent/pentagent/pkg/types"
)

// probeTimeout bounds status checks and kill signals so a wedged sandbox
// cannot hang a tool call that should be a single round-trip.
const probeTimeout = 10 * time.Second

// CloudTarget runs commands in a managed cloud sandbox through the
// provider SDK wrapper.
type CloudTarget struct {
	manager *sandbox.Manager
	tracker *process.Tracker
}

// NewCloudTarget creates a target over the session's sandbox manager and
// background-process tracker.
func NewCloudTarget(manager *sandbox.Manager, tracker *process.Tracker) *CloudTarget {
	return &CloudTarget{manager: manager, tracker: tracker}
}

// Run executes a command synchronously in the sandbox.
func (t *CloudTarget) Run(ctx context.Context, command string, opts RunOptions) (*types.CommandResult, error) {
	return t.manager.Run(ctx, types.Command{
		Text:      command,
		Cwd:       opts.Cwd,
		Env:       opts.Env,
		TimeoutMs: opts.TimeoutMs,
	})
}

// RunBackground launches a command, registers it with the tracker, and
// returns its PID.
func (t *CloudTarget) RunBackground(ctx context.Context, command string, opts RunOptions) (int, error) {
	pid, err := t.manager.RunBackground(ctx, types.Command{
		Text:      command,
		Cwd:       opts.Cwd,
		Env:       opts.Env,
		TimeoutMs: opts.TimeoutMs,
	})
	if err != nil {
		return 0, err
	}
	if err := t.tracker.Register(pid, command, opts.ToolCallID, t.manager.SandboxID()); err != nil {
		return 0, err
	}
	return pid, nil
}

// Kill force-terminates a tracked process in the sandbox.
func (t *CloudTarget) Kill(ctx context.Context, pid int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return t.tracker.Kill(ctx, t.runner(), pid, t.manager.SandboxID())
}

// CheckStatus verifies a batch of PIDs against the sandbox. With no
// resolved sandbox every request short-circuits to not-running without a
// process-table query.
func (t *CloudTarget) CheckStatus(ctx context.Context, reqs []types.ProcessStatusRequest) []types.ProcessStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return process.CheckBatch(ctx, t.runner(), reqs)
}

// runner returns a process.Runner over the sandbox, or nil when no
// sandbox has been resolved yet.
func (t *CloudTarget) runner() process.Runner {
	if t.manager.SandboxID() == "" {
		return nil
	}
	return &cloudRunner{manager: t.manager}
}

type cloudRunner struct {
	manager *sandbox.Manager
}

// RunCommand runs a short probe command in the sandbox. A non-zero exit is
// not an error here: ps exits 1 when a PID is gone, and an empty stdout
// already says everything the caller needs.
func (r *cloudRunner) RunCommand(ctx context.Context, command string) (string, error) {
	result, err := r.manager.Run(ctx, types.Command{
		Text:      command,
		TimeoutMs: int(probeTimeout.Milliseconds()),
	})
	if err != nil {
		var exitErr *sandbox.CommandExitError
		if errors.As(err, &exitErr) {
			return exitErr.Stdout, nil
		}
		return "", err
	}
	return result.Stdout, nil
}
