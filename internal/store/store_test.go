package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ludoarena/backend/internal/board"
	"github.com/ludoarena/backend/internal/engine"
)

func newStoredMatch(t *testing.T, ms MatchStore) engine.State {
	t.Helper()
	st := engine.NewMatch("m1", 50, engine.Player{Identity: "u1"}, engine.Player{Identity: "u2"})
	st.Status = engine.StatusActive
	require.NoError(t, ms.Insert(context.Background(), st))
	return st
}

// conflictingStore forces a fixed number of version conflicts before
// delegating to the real store.
type conflictingStore struct {
	MatchStore
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingStore) Save(ctx context.Context, st engine.State, expected int64) error {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return ErrVersionConflict
	}
	c.mu.Unlock()
	return c.MatchStore.Save(ctx, st, expected)
}

func TestMutateRetriesThroughConflicts(t *testing.T) {
	ms := NewMemStore()
	newStoredMatch(t, ms)
	flaky := &conflictingStore{MatchStore: ms, conflicts: 2}
	m := NewMutator(flaky, 3, zap.NewNop())
	m.sleep = func(time.Duration) {}

	calls := 0
	ns, _, err := m.Mutate(context.Background(), "m1", func(cur engine.State) (engine.State, []engine.Event, error) {
		calls++
		next := cur.Clone()
		next.DiceValue = 4
		return next, nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, 4, ns.DiceValue)
	require.Equal(t, 3, calls, "transition reapplied once per attempt")

	persisted, ver, err := ms.Load(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, 4, persisted.DiceValue)
	require.Equal(t, int64(2), ver)
}

func TestMutateSurfacesConflictAfterBudget(t *testing.T) {
	ms := NewMemStore()
	newStoredMatch(t, ms)
	flaky := &conflictingStore{MatchStore: ms, conflicts: 99}
	m := NewMutator(flaky, 3, zap.NewNop())
	m.sleep = func(time.Duration) {}

	_, _, err := m.Mutate(context.Background(), "m1", func(cur engine.State) (engine.State, []engine.Event, error) {
		return cur, nil, nil
	})
	require.ErrorIs(t, err, ErrConflict)

	// The stored document is untouched.
	_, ver, err := ms.Load(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)
}

func TestMutateAbortsOnTransitionError(t *testing.T) {
	ms := NewMemStore()
	newStoredMatch(t, ms)
	m := NewMutator(ms, 3, zap.NewNop())
	m.sleep = func(time.Duration) {}

	_, _, err := m.Mutate(context.Background(), "m1", func(cur engine.State) (engine.State, []engine.Event, error) {
		return engine.State{}, nil, engine.ErrNotYourTurn
	})
	require.ErrorIs(t, err, engine.ErrNotYourTurn)

	_, ver, err := ms.Load(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, int64(1), ver, "validation errors must not persist")
}

func TestConcurrentMutationsConverge(t *testing.T) {
	ms := NewMemStore()
	newStoredMatch(t, ms)
	m := NewMutator(ms, 10, zap.NewNop())
	m.sleep = func(time.Duration) {}

	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.Mutate(context.Background(), "m1", func(cur engine.State) (engine.State, []engine.Event, error) {
				next := cur.Clone()
				next.ConsecutiveSixes++
				return next, nil, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st, ver, err := ms.Load(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, writers, st.ConsecutiveSixes, "no mutation lost or double-applied")
	require.Equal(t, int64(writers+1), ver)
}

func TestJanitorAbandonsStaleMatches(t *testing.T) {
	ms := NewMemStore()
	newStoredMatch(t, ms)
	ms.Touch("m1", time.Now().Add(-48*time.Hour))

	m := NewMutator(ms, 3, zap.NewNop())
	m.sleep = func(time.Duration) {}

	refunded := 0
	j := NewJanitor(ms, m,
		func(ctx context.Context, st engine.State) error {
			refunded++
			return nil
		},
		func(ctx context.Context, st engine.State) error { return nil },
		24*time.Hour, time.Minute, zap.NewNop())

	j.Sweep(context.Background())

	st, _, err := ms.Load(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, engine.StatusAbandoned, st.Status)
	require.Equal(t, 1, refunded)

	// A second sweep is a no-op: the match is no longer Waiting/Active.
	j.Sweep(context.Background())
	require.Equal(t, 1, refunded)
}

func TestJanitorRecoversUnsettledMatch(t *testing.T) {
	ms := NewMemStore()
	st := engine.NewMatch("m1", 50, engine.Player{Identity: "u1"}, engine.Player{Identity: "u2"})
	st.Status = engine.StatusCompleted
	st.TurnState = engine.TurnGameOver
	st.Winners = []board.Color{st.Players[0].Color}
	require.NoError(t, ms.Insert(context.Background(), st))

	m := NewMutator(ms, 3, zap.NewNop())
	m.sleep = func(time.Duration) {}

	settled := 0
	j := NewJanitor(ms, m,
		func(ctx context.Context, st engine.State) error { return nil },
		func(ctx context.Context, st engine.State) error {
			settled++
			return nil
		},
		24*time.Hour, time.Minute, zap.NewNop())

	j.Sweep(context.Background())
	require.Equal(t, 1, settled)

	got, _, err := ms.Load(context.Background(), "m1")
	require.NoError(t, err)
	require.True(t, got.SettlementProcessed)

	// Once the flag is persisted the match leaves the unsettled scan.
	j.Sweep(context.Background())
	require.Equal(t, 1, settled)
}
