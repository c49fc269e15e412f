// Package dispatch implements the command queue between the backend and
// remote execution clients: enqueue, idempotent claiming, last-write-wins
// result submission, and the bounded wait that turns a missing result into
// a synthesized timeout instead of a hung tool call.
package dispatch

import (
	"context"
	"errors"

	"github.com/pentagent/pentagent/pkg/types"
)

var (
	// ErrCommandNotFound is returned when a command ID does not exist.
	ErrCommandNotFound = errors.New("command not found")
	// ErrNotOwned is returned when a client tries to claim or resolve a
	// command that was dispatched to a different connection. Command IDs
	// are not secrets; ownership is what keeps one authenticated client
	// from touching another client's queue.
	ErrNotOwned = errors.New("command belongs to another connection")
)

// Store persists commands and results. The Postgres implementation lives in
// internal/db; MemoryStore below backs development and tests.
type Store interface {
	// EnqueueCommand records a new pending command.
	EnqueueCommand(ctx context.Context, cmd types.Command) error
	// PendingCommands returns unclaimed commands for a connection, oldest
	// first.
	PendingCommands(ctx context.Context, connectionID string) ([]types.Command, error)
	// MarkExecuting claims a command on behalf of connectionID. Safe to
	// call more than once: a command already claimed (or finished) stays
	// as it is. Returns ErrNotOwned when the command was dispatched to a
	// different connection.
	MarkExecuting(ctx context.Context, connectionID, commandID string) error
	// MarkAbandoned marks a command the backend gave up on before any
	// client claimed it. A no-op once the command left pending.
	MarkAbandoned(ctx context.Context, commandID string) error
	// CommandStatus returns the current lifecycle state of a command.
	CommandStatus(ctx context.Context, commandID string) (types.CommandStatus, error)
	// SubmitResult stores a result from connectionID. Duplicate submission
	// is not an error; last write wins. Returns ErrNotOwned when the
	// command was dispatched to a different connection.
	SubmitResult(ctx context.Context, connectionID string, result types.CommandResult) error
	// Result returns the stored result for a command, if any.
	Result(ctx context.Context, commandID string) (*types.CommandResult, error)
}
