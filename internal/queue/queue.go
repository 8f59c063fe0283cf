// Package queue pairs waiting players by stake. Each stake amount holds a
// FIFO bucket; all bucket access is serialized through the actor loop, the
// same single-writer discipline the match hub uses.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ludoarena/backend/internal/engine"
	"github.com/ludoarena/backend/internal/store"
	"github.com/ludoarena/backend/internal/wallet"
)

var ErrAlreadyQueued = errors.New("connection already searching")

type Msg interface{ isQueueMsg() }

// Matched is handed to each participant's Notify callback when a pairing
// succeeds.
type Matched struct {
	Match engine.State
	Seat  int
}

// Search enqueues a player or pairs it with a waiting opponent. Notify is
// invoked from the queue loop on a successful pairing, for this entry and
// later for the counterpart when its partner arrives.
type Search struct {
	Identity    string
	DisplayName string
	ConnRef     string
	Stake       int64
	Notify      func(Matched)
	Reply       chan error
}

func (Search) isQueueMsg() {}

// Cancel removes a search and refunds the reserved stake. Cancelling an
// absent entry is a no-op.
type Cancel struct {
	ConnRef string
	Stake   int64
	Reply   chan bool
}

func (Cancel) isQueueMsg() {}

// Sweep expires stale entries in every bucket and pairs any bucket holding
// two compatible entries; the periodic sweeper sends it to close the race
// where both players enqueue almost simultaneously.
type Sweep struct{}

func (Sweep) isQueueMsg() {}

type Shutdown struct{}

func (Shutdown) isQueueMsg() {}

// testHook runs fn inside the loop; test-only, race-free access to buckets.
type testHook struct{ fn func(*Queue) }

func (testHook) isQueueMsg() {}

type entry struct {
	identity    string
	displayName string
	connRef     string
	stake       int64
	reserveRef  string
	enqueuedAt  time.Time
	notify      func(Matched)
}

type Queue struct {
	inbox     chan Msg
	buckets   map[int64][]entry
	ledger    wallet.Ledger
	matches   store.MatchStore
	staleness time.Duration
	now       func() time.Time
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(parent context.Context, ledger wallet.Ledger, matches store.MatchStore, staleness time.Duration, log *zap.Logger) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		inbox:     make(chan Msg, 64),
		buckets:   make(map[int64][]entry),
		ledger:    ledger,
		matches:   matches,
		staleness: staleness,
		now:       time.Now,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
	go q.loop()
	return q
}

func (q *Queue) Inbox() chan<- Msg { return q.inbox }

// RunSweeper pushes a Sweep on every tick until the context ends.
func (q *Queue) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			select {
			case q.inbox <- Sweep{}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (q *Queue) loop() {
	for {
		select {
		case <-q.ctx.Done():
			return
		case m := <-q.inbox:
			switch msg := m.(type) {
			case Search:
				msg.Reply <- q.search(msg)
			case Cancel:
				msg.Reply <- q.cancelSearch(msg)
			case Sweep:
				for stake := range q.buckets {
					q.expireStale(stake)
					q.pairBucket(stake)
				}
			case Shutdown:
				q.cancel()
				return
			case testHook:
				msg.fn(q)
			}
		}
	}
}

func (q *Queue) search(msg Search) error {
	q.expireStale(msg.Stake)

	for _, e := range q.buckets[msg.Stake] {
		if e.connRef == msg.ConnRef {
			return ErrAlreadyQueued
		}
	}

	// Reserve before anything else: a reservation failure must abort the
	// request, never produce an unfunded match.
	reserveRef := "queue:" + uuid.NewString()
	if err := q.ledger.Reserve(q.ctx, msg.Identity, msg.Stake, reserveRef); err != nil {
		return err
	}

	newcomer := entry{
		identity:    msg.Identity,
		displayName: msg.DisplayName,
		connRef:     msg.ConnRef,
		stake:       msg.Stake,
		reserveRef:  reserveRef,
		enqueuedAt:  q.now(),
		notify:      msg.Notify,
	}

	bucket := q.buckets[msg.Stake]
	for i, opponent := range bucket {
		// Same identity on two connections is a permitted pairing; only the
		// identical connection is excluded.
		if opponent.connRef == msg.ConnRef {
			continue
		}
		if err := q.createMatch(msg.Stake, opponent, newcomer); err != nil {
			q.refund(newcomer)
			return err
		}
		q.buckets[msg.Stake] = append(bucket[:i], bucket[i+1:]...)
		return nil
	}

	q.buckets[msg.Stake] = append(bucket, newcomer)
	return nil
}

func (q *Queue) cancelSearch(msg Cancel) bool {
	bucket := q.buckets[msg.Stake]
	for i, e := range bucket {
		if e.connRef == msg.ConnRef {
			q.buckets[msg.Stake] = append(bucket[:i], bucket[i+1:]...)
			q.refund(e)
			return true
		}
	}
	return false
}

func (q *Queue) expireStale(stake int64) {
	cutoff := q.now().Add(-q.staleness)
	bucket := q.buckets[stake]
	kept := bucket[:0]
	for _, e := range bucket {
		if e.enqueuedAt.Before(cutoff) {
			q.refund(e)
			q.log.Info("expired stale queue entry",
				zap.String("identity", e.identity), zap.Int64("stake", stake))
			continue
		}
		kept = append(kept, e)
	}
	q.buckets[stake] = kept
}

func (q *Queue) pairBucket(stake int64) {
	bucket := q.buckets[stake]
	for len(bucket) >= 2 {
		first := bucket[0]
		paired := false
		for i := 1; i < len(bucket); i++ {
			if bucket[i].connRef == first.connRef {
				continue
			}
			if err := q.createMatch(stake, first, bucket[i]); err != nil {
				q.log.Error("sweep pairing failed", zap.Error(err))
				return
			}
			bucket = append(bucket[1:i], bucket[i+1:]...)
			paired = true
			break
		}
		if !paired {
			break
		}
	}
	q.buckets[stake] = bucket
}

// createMatch persists a new match with the two entries seated in enqueue
// order and notifies both sides.
func (q *Queue) createMatch(stake int64, first, second entry) error {
	st := engine.NewMatch(uuid.NewString(), stake,
		engine.Player{Identity: first.identity, DisplayName: first.displayName, ConnectionRef: first.connRef},
		engine.Player{Identity: second.identity, DisplayName: second.displayName, ConnectionRef: second.connRef})

	if err := q.matches.Insert(q.ctx, st); err != nil {
		return err
	}

	q.log.Info("match created",
		zap.String("match_id", st.ID),
		zap.Int64("stake", stake),
		zap.String("seat0", first.identity),
		zap.String("seat1", second.identity))

	if first.notify != nil {
		first.notify(Matched{Match: st, Seat: 0})
	}
	if second.notify != nil {
		second.notify(Matched{Match: st, Seat: 1})
	}
	return nil
}

func (q *Queue) refund(e entry) {
	if err := q.ledger.Release(q.ctx, e.identity, e.stake, "release:"+e.reserveRef); err != nil {
		q.log.Error("queue refund failed", zap.String("identity", e.identity), zap.Error(err))
	}
}
