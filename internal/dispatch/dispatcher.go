package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pentagent/pentagent/internal/metrics"
	"github.com/pentagent/pentagent/pkg/types"
)

const (
	defaultTimeoutMs      = 60_000
	defaultResultInterval = 250 * time.Millisecond
)

// EventSink receives command lifecycle notifications. Implemented by the
// NATS publisher; nil disables events.
type EventSink interface {
	CommandCompleted(cmd types.Command, result types.CommandResult)
	CommandAbandoned(cmd types.Command)
}

// Dispatcher enqueues commands for remote connections and waits for their
// results. There is no push channel to a remote client, so waiting is
// backend-side give-up logic: poll the result store, and synthesize a
// result if nothing arrives before the command's timeout.
type Dispatcher struct {
	store  Store
	events EventSink

	// ResultInterval is how often the result store is polled while a
	// run() call waits. Overridable in tests.
	ResultInterval time.Duration
}

// NewDispatcher creates a dispatcher over the given store. events may be nil.
func NewDispatcher(store Store, events EventSink) *Dispatcher {
	return &Dispatcher{
		store:          store,
		events:         events,
		ResultInterval: defaultResultInterval,
	}
}

// Enqueue creates and stores a pending command for a connection.
func (d *Dispatcher) Enqueue(ctx context.Context, connectionID, text, cwd string, env map[string]string, timeoutMs int) (types.Command, error) {
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	cmd := types.Command{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Text:         text,
		Cwd:          cwd,
		Env:          env,
		TimeoutMs:    timeoutMs,
		Status:       types.CommandStatusPending,
		CreatedAt:    time.Now(),
	}
	if err := d.store.EnqueueCommand(ctx, cmd); err != nil {
		return types.Command{}, fmt.Errorf("enqueue command: %w", err)
	}
	metrics.CommandsDispatchedTotal.WithLabelValues("remote").Inc()
	return cmd, nil
}

// Run enqueues a command and blocks until its result arrives or the
// command's timeout elapses. On timeout it returns a synthesized failure
// result instead of an error; the tool call must never hang on a client
// that went away. If ctx is cancelled (aborted agent turn) the wait stops
// immediately; a result that arrives later is simply never read.
func (d *Dispatcher) Run(ctx context.Context, connectionID, text, cwd string, env map[string]string, timeoutMs int) (*types.CommandResult, error) {
	cmd, err := d.Enqueue(ctx, connectionID, text, cwd, env, timeoutMs)
	if err != nil {
		return nil, err
	}
	return d.WaitForResult(ctx, cmd)
}

// WaitForResult polls the result store for cmd until a result appears or
// cmd's timeout elapses.
func (d *Dispatcher) WaitForResult(ctx context.Context, cmd types.Command) (*types.CommandResult, error) {
	deadline := time.Now().Add(time.Duration(cmd.TimeoutMs) * time.Millisecond)
	ticker := time.NewTicker(d.ResultInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		result, err := d.store.Result(ctx, cmd.ID)
		if err != nil {
			return nil, fmt.Errorf("poll result for %s: %w", cmd.ID, err)
		}
		if result != nil {
			metrics.CommandsCompletedTotal.Inc()
			metrics.CommandDuration.Observe(time.Since(start).Seconds())
			if d.events != nil {
				d.events.CommandCompleted(cmd, *result)
			}
			return result, nil
		}

		if time.Now().After(deadline) {
			return d.giveUp(ctx, cmd), nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// giveUp synthesizes a terminal result for a command whose result never
// arrived. A still-pending command becomes abandoned (the client never
// claimed it); a claimed one is counted as a timeout.
func (d *Dispatcher) giveUp(ctx context.Context, cmd types.Command) *types.CommandResult {
	status, err := d.store.CommandStatus(ctx, cmd.ID)
	if err != nil {
		log.Printf("dispatch: status lookup for %s failed: %v", cmd.ID, err)
		status = types.CommandStatusExecuting
	}

	stderr := fmt.Sprintf("command timed out after %dms", cmd.TimeoutMs)
	if status == types.CommandStatusPending {
		if err := d.store.MarkAbandoned(ctx, cmd.ID); err != nil {
			log.Printf("dispatch: mark %s abandoned failed: %v", cmd.ID, err)
		}
		metrics.CommandsAbandonedTotal.Inc()
		if d.events != nil {
			d.events.CommandAbandoned(cmd)
		}
		stderr = fmt.Sprintf("command timed out after %dms: connection did not pick it up", cmd.TimeoutMs)
	} else {
		metrics.CommandsTimedOutTotal.Inc()
	}

	return &types.CommandResult{
		CommandID:  cmd.ID,
		Stderr:     stderr,
		ExitCode:   124,
		DurationMs: cmd.TimeoutMs,
	}
}

// MarkExecuting claims a command on behalf of a polling client. Idempotent.
// The claim only succeeds for the connection the command was dispatched to.
func (d *Dispatcher) MarkExecuting(ctx context.Context, connectionID, commandID string) error {
	return d.store.MarkExecuting(ctx, connectionID, commandID)
}

// SubmitResult records a result from a client. Duplicate submission is
// accepted (last write wins) because clients may retry over a flaky link;
// a result for another connection's command is rejected with ErrNotOwned.
func (d *Dispatcher) SubmitResult(ctx context.Context, connectionID string, result types.CommandResult) error {
	return d.store.SubmitResult(ctx, connectionID, result)
}

// PendingCommands returns the unclaimed commands for a connection.
func (d *Dispatcher) PendingCommands(ctx context.Context, connectionID string) ([]types.Command, error) {
	return d.store.PendingCommands(ctx, connectionID)
}
