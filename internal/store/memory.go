package store

import (
	"context"
	"sync"
	"time"

	"github.com/ludoarena/backend/internal/engine"
)

// MemStore is an in-memory MatchStore with the same revision semantics as
// the Postgres store. It backs tests and single-node demo deployments.
type MemStore struct {
	mu      sync.Mutex
	docs    map[string]engine.State
	vers    map[string]int64
	touched map[string]time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		docs:    make(map[string]engine.State),
		vers:    make(map[string]int64),
		touched: make(map[string]time.Time),
	}
}

func (m *MemStore) Insert(_ context.Context, st engine.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[st.ID] = st.Clone()
	m.vers[st.ID] = 1
	m.touched[st.ID] = time.Now()
	return nil
}

func (m *MemStore) Load(_ context.Context, id string) (engine.State, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.docs[id]
	if !ok {
		return engine.State{}, 0, ErrNotFound
	}
	return st.Clone(), m.vers[id], nil
}

func (m *MemStore) Save(_ context.Context, st engine.State, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.vers[st.ID]
	if !ok {
		return ErrNotFound
	}
	if cur != expected {
		return ErrVersionConflict
	}
	m.docs[st.ID] = st.Clone()
	m.vers[st.ID] = expected + 1
	m.touched[st.ID] = time.Now()
	return nil
}

func (m *MemStore) ListInactive(_ context.Context, cutoff time.Time) ([]engine.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []engine.State
	for id, st := range m.docs {
		if st.Status != engine.StatusWaiting && st.Status != engine.StatusActive {
			continue
		}
		if m.touched[id].Before(cutoff) {
			out = append(out, st.Clone())
		}
	}
	return out, nil
}

func (m *MemStore) ListUnsettled(_ context.Context) ([]engine.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []engine.State
	for _, st := range m.docs {
		if st.Status == engine.StatusCompleted && !st.SettlementProcessed {
			out = append(out, st.Clone())
		}
	}
	return out, nil
}

// Touch backdates a match's last activity; test hook for the GC sweep.
func (m *MemStore) Touch(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[id] = at
}
