// Package target abstracts "where commands run" for agent tool code: a
// managed cloud sandbox or a user-operated remote connection. Tools are
// written against Target and never see which one backs it.
package target

import (
	"context"
	"errors"

	"github.com/pentagent/pentagent/pkg/types"
)

// ErrDisconnected is returned by Run when the backing remote connection
// has no live heartbeat. Commands are not queued indefinitely for an
// offline client; the disconnected state is surfaced instead.
var ErrDisconnected = errors.New("remote connection is not connected")

// RunOptions modify a single command execution.
type RunOptions struct {
	Cwd        string
	Env        map[string]string
	TimeoutMs  int
	ToolCallID string
}

// Target is the execution surface consumed by agent tools. One instance is
// exclusive to one agent turn; the underlying registries are shared and
// keyed by session.
type Target interface {
	// Run executes a command and blocks until its result, bounded by the
	// option timeout.
	Run(ctx context.Context, command string, opts RunOptions) (*types.CommandResult, error)
	// RunBackground starts a command without waiting, registers it with
	// the session's background tracker, and returns its PID.
	RunBackground(ctx context.Context, command string, opts RunOptions) (int, error)
	// Kill force-terminates a tracked background process. killed=false
	// (not an error) when the process was already gone.
	Kill(ctx context.Context, pid int) (bool, error)
	// CheckStatus verifies a batch of tracked PIDs in one round-trip.
	CheckStatus(ctx context.Context, reqs []types.ProcessStatusRequest) []types.ProcessStatus
}
