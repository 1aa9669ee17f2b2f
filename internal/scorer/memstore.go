package scorer

import (
	"context"
	"sync"
)

// MemoryStore keeps model parameters in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	params *ModelParams
	saves  int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LoadModel(ctx context.Context) (*ModelParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.params == nil {
		return nil, ErrModelNotFound
	}
	p := *m.params
	p.Weights = append([]float64(nil), m.params.Weights...)
	return &p, nil
}

func (m *MemoryStore) SaveModel(ctx context.Context, params *ModelParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := *params
	p.Weights = append([]float64(nil), params.Weights...)
	m.params = &p
	m.saves++
	return nil
}

// Saves counts SaveModel calls.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
