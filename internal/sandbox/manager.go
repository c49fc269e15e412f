package sandbox

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pentagent/pentagent/pkg/types"
)

const (
	maxRetries       = 2
	standardBackoff  = 1 * time.Second
	rateLimitBackoff = 5 * time.Second
)

// Manager resolves and drives one cloud sandbox per agent session. The
// sandbox is resolved lazily: created on first use, reconnected thereafter.
// All provider errors leaving the Manager are already classified; transient
// and rate-limit faults are retried here so callers never implement backoff.
type Manager struct {
	provider Provider
	template string

	mu        sync.Mutex
	sandboxID string
}

// NewManager creates a manager that provisions sandboxes from template.
func NewManager(provider Provider, template string) *Manager {
	return &Manager{provider: provider, template: template}
}

// Resolve returns the session's sandbox ID, creating or reconnecting the
// sandbox on first use.
func (m *Manager) Resolve(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sandboxID != "" {
		if err := m.withRetry(ctx, "connect", func() error {
			return m.provider.Connect(ctx, m.sandboxID)
		}); err != nil {
			if !IsPermanent(err) {
				return "", err
			}
			// Sandbox is gone for good; fall through and create a new one.
			log.Printf("sandbox: %s unreachable (%v), creating replacement", m.sandboxID, err)
			m.sandboxID = ""
		}
	}

	if m.sandboxID == "" {
		var id string
		err := m.withRetry(ctx, "create", func() error {
			var cerr error
			id, cerr = m.provider.Create(ctx, m.template)
			return cerr
		})
		if err != nil {
			return "", fmt.Errorf("create sandbox: %w", err)
		}
		m.sandboxID = id
	}

	return m.sandboxID, nil
}

// SandboxID returns the resolved sandbox ID, or "" if none yet.
func (m *Manager) SandboxID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sandboxID
}

// Run executes a command synchronously in the session's sandbox.
func (m *Manager) Run(ctx context.Context, cmd types.Command) (*types.CommandResult, error) {
	id, err := m.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	var result *types.CommandResult
	err = m.withRetry(ctx, "run", func() error {
		var rerr error
		result, rerr = m.provider.Run(ctx, id, cmd)
		return rerr
	})
	return result, err
}

// RunBackground launches a command and returns its PID without waiting.
func (m *Manager) RunBackground(ctx context.Context, cmd types.Command) (int, error) {
	id, err := m.Resolve(ctx)
	if err != nil {
		return 0, err
	}
	var pid int
	err = m.withRetry(ctx, "run_background", func() error {
		var rerr error
		pid, rerr = m.provider.RunBackground(ctx, id, cmd)
		return rerr
	})
	return pid, err
}

// Kill signals a process inside the session's sandbox. Unlike Run this
// never creates a sandbox: no sandbox means nothing to kill.
func (m *Manager) Kill(ctx context.Context, pid int, signal string) error {
	m.mu.Lock()
	id := m.sandboxID
	m.mu.Unlock()
	if id == "" {
		return nil
	}
	return m.provider.Kill(ctx, id, pid, signal)
}

// Pause checkpoints the session's sandbox, if any.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	id := m.sandboxID
	m.mu.Unlock()
	if id == "" {
		return nil
	}
	return m.provider.Pause(ctx, id)
}

// withRetry runs op, retrying transient faults with standard backoff and
// rate limits with extended backoff. Command failures and permanent faults
// return immediately.
func (m *Manager) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		cat := Classify(lastErr)
		if !Retryable(cat) || attempt == maxRetries {
			return lastErr
		}

		delay := standardBackoff
		if cat == CategoryRateLimit {
			delay = rateLimitBackoff
		}
		delay *= time.Duration(1 << attempt)
		log.Printf("sandbox: %s failed (%s), retry %d/%d in %s: %v",
			op, cat, attempt+1, maxRetries, delay, lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
