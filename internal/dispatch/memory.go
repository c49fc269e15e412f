package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pentagent/pentagent/pkg/types"
)

// MemoryStore is an in-memory Store for development and tests, the same
// role LocalPool plays for compute: one process, no external services.
type MemoryStore struct {
	mu       sync.Mutex
	commands map[string]*types.Command
	results  map[string]types.CommandResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		commands: make(map[string]*types.Command),
		results:  make(map[string]types.CommandResult),
	}
}

func (s *MemoryStore) EnqueueCommand(_ context.Context, cmd types.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.commands[cmd.ID]; exists {
		return fmt.Errorf("command %s already enqueued", cmd.ID)
	}
	cmd.Status = types.CommandStatusPending
	s.commands[cmd.ID] = &cmd
	return nil
}

func (s *MemoryStore) PendingCommands(_ context.Context, connectionID string) ([]types.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []types.Command
	for _, cmd := range s.commands {
		if cmd.ConnectionID == connectionID && cmd.Status == types.CommandStatusPending {
			pending = append(pending, *cmd)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func (s *MemoryStore) MarkExecuting(_ context.Context, connectionID, commandID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[commandID]
	if !ok {
		return fmt.Errorf("command %s: %w", commandID, ErrCommandNotFound)
	}
	if cmd.ConnectionID != connectionID {
		return fmt.Errorf("command %s: %w", commandID, ErrNotOwned)
	}
	if cmd.Status == types.CommandStatusPending {
		cmd.Status = types.CommandStatusExecuting
	}
	return nil
}

func (s *MemoryStore) MarkAbandoned(_ context.Context, commandID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[commandID]
	if !ok {
		return fmt.Errorf("command %s: %w", commandID, ErrCommandNotFound)
	}
	if cmd.Status == types.CommandStatusPending {
		cmd.Status = types.CommandStatusAbandoned
	}
	return nil
}

func (s *MemoryStore) CommandStatus(_ context.Context, commandID string) (types.CommandStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[commandID]
	if !ok {
		return "", fmt.Errorf("command %s: %w", commandID, ErrCommandNotFound)
	}
	return cmd.Status, nil
}

func (s *MemoryStore) SubmitResult(_ context.Context, connectionID string, result types.CommandResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[result.CommandID]
	if !ok {
		return fmt.Errorf("command %s: %w", result.CommandID, ErrCommandNotFound)
	}
	if cmd.ConnectionID != connectionID {
		return fmt.Errorf("command %s: %w", result.CommandID, ErrNotOwned)
	}
	s.results[result.CommandID] = result
	if cmd.Status == types.CommandStatusPending || cmd.Status == types.CommandStatusExecuting {
		cmd.Status = types.CommandStatusCompleted
	}
	return nil
}

func (s *MemoryStore) Result(_ context.Context, commandID string) (*types.CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[commandID]
	if !ok {
		return nil, nil
	}
	return &result, nil
}
