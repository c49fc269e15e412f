package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pentagent/pentagent/pkg/types"
)

// DuplicateProcessError is returned when a (sandboxID, pid) pair is
// registered while already tracked.
type DuplicateProcessError struct {
	SandboxID string
	PID       int
}

func (e *DuplicateProcessError) Error() string {
	return fmt.Sprintf("process %d already tracked for sandbox %s", e.PID, e.SandboxID)
}

// TrackedProcess is one background process owned by a chat session.
type TrackedProcess struct {
	PID             int
	ExpectedCommand string
	ToolCallID      string
	SandboxID       string
	StartedAt       time.Time
	LastStatus      *types.ProcessStatus
	LastCheckedAt   time.Time
}

type trackerKey struct {
	sandboxID string
	pid       int
}

// Tracker is the in-memory background-process registry for one chat
// session. It is discarded with the session; registries of different
// sessions never see each other. Safe for concurrent use by the session's
// tool invocations.
type Tracker struct {
	// KillGrace is how long a process gets between SIGTERM and SIGKILL.
	KillGrace time.Duration

	mu    sync.Mutex
	procs map[trackerKey]*TrackedProcess
}

// NewTracker creates an empty per-session tracker.
func NewTracker() *Tracker {
	return &Tracker{
		KillGrace: 2 * time.Second,
		procs:     make(map[trackerKey]*TrackedProcess),
	}
}

// Register adds a process to the registry. At most one entry may exist per
// (sandboxID, pid) pair at a time.
func (t *Tracker) Register(pid int, expectedCommand, toolCallID, sandboxID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := trackerKey{sandboxID, pid}
	if _, exists := t.procs[key]; exists {
		return &DuplicateProcessError{SandboxID: sandboxID, PID: pid}
	}
	t.procs[key] = &TrackedProcess{
		PID:             pid,
		ExpectedCommand: expectedCommand,
		ToolCallID:      toolCallID,
		SandboxID:       sandboxID,
		StartedAt:       time.Now(),
	}
	return nil
}

// List returns a snapshot of every tracked process.
func (t *Tracker) List() []TrackedProcess {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TrackedProcess, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, *p)
	}
	return out
}

// Get returns the tracked process for (sandboxID, pid), if any.
func (t *Tracker) Get(pid int, sandboxID string) (TrackedProcess, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[trackerKey{sandboxID, pid}]
	if !ok {
		return TrackedProcess{}, false
	}
	return *p, true
}

// RefreshStatus re-verifies every tracked process against its sandbox,
// batching one check per sandbox. resolve maps a sandbox ID to a Runner
// and may return nil for unreachable targets, in which case those entries
// report not-running. Stopped processes stay registered: callers decide
// whether "stopped" means finished or dead.
func (t *Tracker) RefreshStatus(ctx context.Context, resolve func(sandboxID string) Runner) []types.ProcessStatus {
	t.mu.Lock()
	bySandbox := make(map[string][]*TrackedProcess)
	for _, p := range t.procs {
		bySandbox[p.SandboxID] = append(bySandbox[p.SandboxID], p)
	}
	t.mu.Unlock()

	var all []types.ProcessStatus
	now := time.Now()
	for sandboxID, procs := range bySandbox {
		reqs := make([]types.ProcessStatusRequest, len(procs))
		for i, p := range procs {
			reqs[i] = types.ProcessStatusRequest{PID: p.PID, ExpectedCommand: p.ExpectedCommand}
		}

		statuses := CheckBatch(ctx, resolve(sandboxID), reqs)

		t.mu.Lock()
		for i, st := range statuses {
			key := trackerKey{sandboxID, procs[i].PID}
			if p, ok := t.procs[key]; ok {
				stCopy := st
				p.LastStatus = &stCopy
				p.LastCheckedAt = now
			}
		}
		t.mu.Unlock()

		all = append(all, statuses...)
	}
	return all
}

// Kill force-terminates a tracked process: SIGTERM, a grace period, SIGKILL
// if still alive, then confirmation via the identity check. The entry is
// removed only after the PID is confirmed gone. Returns killed=false, not
// an error, when the process had already exited.
func (t *Tracker) Kill(ctx context.Context, runner Runner, pid int, sandboxID string) (bool, error) {
	t.mu.Lock()
	p, tracked := t.procs[trackerKey{sandboxID, pid}]
	var expected string
	if tracked {
		expected = p.ExpectedCommand
	}
	t.mu.Unlock()

	status := Verify(ctx, runner, pid, expected)
	if !status.Running {
		t.Remove(pid, sandboxID)
		return false, nil
	}

	if _, err := runner.RunCommand(ctx, fmt.Sprintf("kill -TERM %d", pid)); err != nil {
		return false, fmt.Errorf("send SIGTERM to %d: %w", pid, err)
	}

	deadline := time.Now().Add(t.KillGrace)
	for time.Now().Before(deadline) {
		if st := Verify(ctx, runner, pid, expected); !st.Running {
			t.Remove(pid, sandboxID)
			return true, nil
		}
		select {
		case <-time.After(t.KillGrace / 4):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	if _, err := runner.RunCommand(ctx, fmt.Sprintf("kill -KILL %d", pid)); err != nil {
		return false, fmt.Errorf("send SIGKILL to %d: %w", pid, err)
	}
	if st := Verify(ctx, runner, pid, expected); st.Running {
		return false, fmt.Errorf("process %d survived SIGKILL", pid)
	}
	t.Remove(pid, sandboxID)
	return true, nil
}

// Remove deregisters without killing, for explicit tool-driven cleanup.
func (t *Tracker) Remove(pid int, sandboxID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, trackerKey{sandboxID, pid})
}

// RemoveSandbox drops every entry owned by a sandbox, used when the
// sandbox itself is torn down.
func (t *Tracker) RemoveSandbox(sandboxID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.procs {
		if key.sandboxID == sandboxID {
			delete(t.procs, key)
		}
	}
}
