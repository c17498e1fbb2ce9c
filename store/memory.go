package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store[S].
//
// Snapshots live in process memory and are lost when the process exits.
// Intended for tests and short exploratory runs; use SQLiteStore or
// MySQLStore when snapshots must survive the process.
//
// MemoryStore is safe for concurrent use.
type MemoryStore[S any] struct {
	mu   sync.RWMutex
	runs map[string]map[int]S
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore[S any]() *MemoryStore[S] {
	return &MemoryStore[S]{
		runs: make(map[string]map[int]S),
	}
}

// Save persists a round snapshot (implements Store interface).
func (m *MemoryStore[S]) Save(_ context.Context, runID string, round int, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rounds, ok := m.runs[runID]
	if !ok {
		rounds = make(map[int]S)
		m.runs[runID] = rounds
	}
	rounds[round] = state
	return nil
}

// Load retrieves one round's snapshot (implements Store interface).
func (m *MemoryStore[S]) Load(_ context.Context, runID string, round int) (S, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.runs[runID][round]
	if !ok {
		var zero S
		return zero, ErrNotFound
	}
	return state, nil
}

// LoadLatest retrieves the highest-round snapshot of a run (implements
// Store interface).
func (m *MemoryStore[S]) LoadLatest(_ context.Context, runID string) (S, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rounds := m.runs[runID]
	if len(rounds) == 0 {
		var zero S
		return zero, 0, ErrNotFound
	}
	best := -1
	for r := range rounds {
		if r > best {
			best = r
		}
	}
	return rounds[best], best, nil
}

// Rounds lists the persisted rounds of a run in ascending order
// (implements Store interface).
func (m *MemoryStore[S]) Rounds(_ context.Context, runID string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]int, 0, len(m.runs[runID]))
	for r := range m.runs[runID] {
		out = append(out, r)
	}
	// Insertion sort; round counts are tiny.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// Delete removes all snapshots of a run (implements Store interface).
func (m *MemoryStore[S]) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
	return nil
}
