package types

import "time"

// CommandStatus represents the lifecycle state of a dispatched command.
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "pending"
	CommandStatusExecuting CommandStatus = "executing"
	CommandStatusCompleted CommandStatus = "completed"
	// CommandStatusAbandoned means the enqueueing run() gave up before any
	// client claimed the command. Distinct from a timeout of a claimed
	// command so metrics can tell "never picked up" from "failed".
	CommandStatusAbandoned CommandStatus = "abandoned"
)

// Command is one unit of work dispatched to an execution target.
// Immutable once created; terminal once a result is recorded.
type Command struct {
	ID           string            `json:"id"`
	ConnectionID string            `json:"connectionID"`
	Text         string            `json:"command"`
	Cwd          string            `json:"cwd,omitempty"`
	Env          map[string]string `json:"envs,omitempty"`
	TimeoutMs    int               `json:"timeoutMs,omitempty"` // default 60000
	Status       CommandStatus     `json:"status,omitempty"`
	CreatedAt    time.Time         `json:"createdAt,omitempty"`
}

// CommandResult is the result of a completed command execution.
// Produced exactly once per command by whichever executor claims it.
type CommandResult struct {
	CommandID  string `json:"commandID"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exitCode"`
	DurationMs int    `json:"durationMs"`
}
