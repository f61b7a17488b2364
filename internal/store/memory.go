package store

import (
	"context"
	"sync"

	"idleforge/internal/economy"
)

// Memory keeps snapshots in process. Used by tests and the in-memory
// deployment mode.
type Memory struct {
	mu    sync.RWMutex
	docs  map[string]economy.Snapshot
	saves int
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]economy.Snapshot)}
}

func (m *Memory) Save(ctx context.Context, playerID string, snap economy.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidatePlayerID(playerID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[playerID] = clone(snap)
	m.saves++
	return nil
}

func (m *Memory) Load(ctx context.Context, playerID string) (economy.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return economy.Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.docs[playerID]
	if !ok {
		return economy.Snapshot{}, ErrNotFound
	}
	return clone(snap), nil
}

// Saves returns how many writes the store accepted.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
