package sandbox

import (
	"context"
	"fmt"

	"github.com/pentagent/pentagent/pkg/types"
)

// Provider is the managed cloud sandbox SDK surface. Implementations wrap a
// concrete micro-VM provider; callers never see the provider's own error
// types, only the typed errors below (normalized by Classify).
type Provider interface {
	// Create provisions a fresh sandbox and returns its ID.
	Create(ctx context.Context, template string) (string, error)
	// Connect attaches to an existing sandbox, resuming it if paused.
	Connect(ctx context.Context, sandboxID string) error
	// Pause checkpoints a sandbox so it can be resumed later.
	Pause(ctx context.Context, sandboxID string) error
	// Run executes a command synchronously inside the sandbox.
	Run(ctx context.Context, sandboxID string, cmd types.Command) (*types.CommandResult, error)
	// RunBackground starts a command without waiting and returns its PID.
	RunBackground(ctx context.Context, sandboxID string, cmd types.Command) (int, error)
	// Kill sends a signal to a process inside the sandbox.
	Kill(ctx context.Context, sandboxID string, pid int, signal string) error
}

// Typed provider errors. These mirror the exception hierarchy of managed
// sandbox SDKs; classification branches on these via errors.As before any
// message sniffing.

// AuthenticationError means the API key or token was rejected.
type AuthenticationError struct{ Err error }

func (e *AuthenticationError) Error() string { return fmt.Sprintf("authentication failed: %v", e.Err) }
func (e *AuthenticationError) Unwrap() error { return e.Err }

// NotFoundError means the sandbox no longer exists (expired, deleted).
type NotFoundError struct{ SandboxID string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("sandbox %s not found", e.SandboxID) }

// InvalidArgumentError means the request itself was malformed.
type InvalidArgumentError struct{ Reason string }

func (e *InvalidArgumentError) Error() string { return "invalid argument: " + e.Reason }

// TemplateError means the requested sandbox template is bad or missing.
type TemplateError struct{ Template string }

func (e *TemplateError) Error() string { return fmt.Sprintf("bad sandbox template %q", e.Template) }

// TimeoutError means the provider did not answer in time.
type TimeoutError struct{ Op string }

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out", e.Op) }

// RateLimitError means the provider quota was exceeded.
type RateLimitError struct{ Err error }

func (e *RateLimitError) Error() string { return fmt.Sprintf("rate limited: %v", e.Err) }
func (e *RateLimitError) Unwrap() error { return e.Err }

// NotEnoughSpaceError means the sandbox ran out of disk.
type NotEnoughSpaceError struct{ SandboxID string }

func (e *NotEnoughSpaceError) Error() string {
	return fmt.Sprintf("sandbox %s is out of disk space", e.SandboxID)
}

// CommandExitError means the command ran to completion with a non-zero
// exit code. This is a valid result, not a provider fault.
type CommandExitError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.ExitCode)
}
