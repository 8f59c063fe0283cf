// Package store owns match persistence. Every mutation goes through
// Mutator.Mutate: load the current document, apply a pure transition,
// persist with the expected revision, retry on stale-revision conflicts.
package store

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ludoarena/backend/internal/engine"
)

var ErrNotFound = errors.New("match not found")
var ErrVersionConflict = errors.New("stale match version")

// ErrConflict is the transient error surfaced when the retry budget is
// exhausted; callers should ask the client to retry, never double-apply.
var ErrConflict = errors.New("concurrent update, please retry")

// MatchStore is the revisioned document store a Mutator drives.
type MatchStore interface {
	Insert(ctx context.Context, st engine.State) error
	// Load returns the match document and its current revision.
	Load(ctx context.Context, id string) (engine.State, int64, error)
	// Save persists st if the stored revision still equals expected,
	// returning ErrVersionConflict otherwise.
	Save(ctx context.Context, st engine.State, expected int64) error
	// ListInactive returns Waiting/Active matches untouched since cutoff.
	ListInactive(ctx context.Context, cutoff time.Time) ([]engine.State, error)
	// ListUnsettled returns Completed matches whose settlement has not
	// been recorded yet.
	ListUnsettled(ctx context.Context) ([]engine.State, error)
}

// TransitionFunc is a pure step from one match document to the next.
type TransitionFunc func(engine.State) (engine.State, []engine.Event, error)

type Mutator struct {
	matches MatchStore
	retries int
	log     *zap.Logger
	sleep   func(time.Duration)
}

func NewMutator(matches MatchStore, retries int, log *zap.Logger) *Mutator {
	if retries < 1 {
		retries = 1
	}
	return &Mutator{matches: matches, retries: retries, log: log, sleep: time.Sleep}
}

// Mutate applies fn to the current document and persists the result under
// optimistic concurrency. A fn error aborts with no persistence (validation
// path); a conflict reloads and reapplies up to the retry budget.
func (m *Mutator) Mutate(ctx context.Context, id string, fn TransitionFunc) (engine.State, []engine.Event, error) {
	for attempt := 0; attempt < m.retries; attempt++ {
		st, ver, err := m.matches.Load(ctx, id)
		if err != nil {
			return engine.State{}, nil, err
		}

		ns, events, err := fn(st)
		if err != nil {
			return engine.State{}, nil, err
		}

		err = m.matches.Save(ctx, ns, ver)
		if err == nil {
			return ns, events, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return engine.State{}, nil, err
		}

		backoff := time.Duration(attempt+1) * 10 * time.Millisecond
		backoff += time.Duration(rand.Int63n(int64(10 * time.Millisecond)))
		m.log.Debug("match version conflict, retrying",
			zap.String("match_id", id),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff))
		m.sleep(backoff)
	}

	m.log.Warn("match mutation retry budget exhausted", zap.String("match_id", id))
	return engine.State{}, nil, ErrConflict
}
