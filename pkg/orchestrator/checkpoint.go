package orchestrator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// CheckpointStore persists turn state between messages so a suspended turn
// can resume in another process. *storage.Store satisfies this.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, sessionID string, state *turn.State) error
	LoadCheckpoint(ctx context.Context, sessionID string) (*turn.State, error)
	DeleteCheckpoint(ctx context.Context, sessionID string) error
}

// MemoryCheckpoints is an in-memory CheckpointStore for tests and one-shot
// CLI use. States are stored as JSON so callers never share mutable state.
type MemoryCheckpoints struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewMemoryCheckpoints creates an empty in-memory checkpoint store.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{states: make(map[string][]byte)}
}

func (m *MemoryCheckpoints) SaveCheckpoint(_ context.Context, sessionID string, state *turn.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.states[sessionID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryCheckpoints) LoadCheckpoint(_ context.Context, sessionID string) (*turn.State, error) {
	m.mu.RLock()
	data, ok := m.states[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var state turn.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *MemoryCheckpoints) DeleteCheckpoint(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.states, sessionID)
	m.mu.Unlock()
	return nil
}
