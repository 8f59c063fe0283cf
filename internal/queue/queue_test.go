package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ludoarena/backend/internal/engine"
	"github.com/ludoarena/backend/internal/store"
	"github.com/ludoarena/backend/internal/wallet"
)

func newTestQueue(t *testing.T) (*Queue, *wallet.MemLedger, *store.MemStore) {
	t.Helper()
	ledger := wallet.NewMemLedger()
	matches := store.NewMemStore()
	q := New(context.Background(), ledger, matches, 5*time.Minute, zap.NewNop())
	t.Cleanup(func() { q.Inbox() <- Shutdown{} })
	return q, ledger, matches
}

func search(t *testing.T, q *Queue, identity, connRef string, stake int64, notify func(Matched)) error {
	t.Helper()
	reply := make(chan error, 1)
	q.Inbox() <- Search{Identity: identity, DisplayName: identity, ConnRef: connRef, Stake: stake, Notify: notify, Reply: reply}
	select {
	case err := <-reply:
		return err
	case <-time.After(time.Second):
		t.Fatal("queue did not reply")
		return nil
	}
}

func TestSecondSearchPairsInEnqueueOrder(t *testing.T) {
	q, ledger, matches := newTestQueue(t)
	ledger.Seed("alice", 100)
	ledger.Seed("bob", 100)

	got := make(chan Matched, 2)
	notify := func(m Matched) { got <- m }

	require.NoError(t, search(t, q, "alice", "conn-a", 50, notify))
	require.NoError(t, search(t, q, "bob", "conn-b", 50, notify))

	var first, second Matched
	select {
	case first = <-got:
	case <-time.After(time.Second):
		t.Fatal("no pairing notification")
	}
	second = <-got

	require.Equal(t, first.Match.ID, second.Match.ID)
	st, _, err := matches.Load(context.Background(), first.Match.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", st.Players[0].Identity, "seat order = enqueue order")
	require.Equal(t, "bob", st.Players[1].Identity)
	require.Equal(t, engine.StatusWaiting, st.Status)

	// Both reservations are held for the match.
	require.Equal(t, int64(50), ledger.Reserved("alice"))
	require.Equal(t, int64(50), ledger.Reserved("bob"))
}

func TestDifferentStakesDoNotPair(t *testing.T) {
	q, ledger, _ := newTestQueue(t)
	ledger.Seed("alice", 1000)
	ledger.Seed("bob", 1000)

	got := make(chan Matched, 2)
	notify := func(m Matched) { got <- m }

	require.NoError(t, search(t, q, "alice", "conn-a", 50, notify))
	require.NoError(t, search(t, q, "bob", "conn-b", 100, notify))

	select {
	case <-got:
		t.Fatal("entries with different stakes must not pair")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSameConnectionCannotPairWithItself(t *testing.T) {
	q, ledger, _ := newTestQueue(t)
	ledger.Seed("alice", 1000)

	require.NoError(t, search(t, q, "alice", "conn-a", 50, nil))
	require.ErrorIs(t, search(t, q, "alice", "conn-a", 50, nil), ErrAlreadyQueued)
}

func TestSameIdentityTwoConnectionsMayPair(t *testing.T) {
	q, ledger, _ := newTestQueue(t)
	ledger.Seed("alice", 1000)

	got := make(chan Matched, 2)
	notify := func(m Matched) { got <- m }

	require.NoError(t, search(t, q, "alice", "conn-1", 50, notify))
	require.NoError(t, search(t, q, "alice", "conn-2", 50, notify))

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("same identity on two connections should pair")
	}
}

func TestReserveFailureAbortsSearch(t *testing.T) {
	q, ledger, matches := newTestQueue(t)
	ledger.Seed("poor", 10)

	err := search(t, q, "poor", "conn-p", 50, nil)
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	// Nothing enqueued, nothing reserved, no match created.
	require.Zero(t, ledger.Reserved("poor"))
	stale, err := matches.ListInactive(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestCancelRefundsAndIsIdempotent(t *testing.T) {
	q, ledger, _ := newTestQueue(t)
	ledger.Seed("alice", 100)

	require.NoError(t, search(t, q, "alice", "conn-a", 50, nil))
	require.Equal(t, int64(50), ledger.Reserved("alice"))

	reply := make(chan bool, 1)
	q.Inbox() <- Cancel{ConnRef: "conn-a", Stake: 50, Reply: reply}
	require.True(t, <-reply)
	require.Zero(t, ledger.Reserved("alice"))

	// Cancelling a non-existent entry is a no-op.
	q.Inbox() <- Cancel{ConnRef: "conn-a", Stake: 50, Reply: reply}
	require.False(t, <-reply)
	require.Zero(t, ledger.Reserved("alice"))
}

func TestStaleEntriesAreExpiredAndRefunded(t *testing.T) {
	q, ledger, _ := newTestQueue(t)
	ledger.Seed("alice", 100)
	ledger.Seed("bob", 100)

	require.NoError(t, search(t, q, "alice", "conn-a", 50, nil))

	// Age alice's entry past the staleness window.
	done := make(chan struct{})
	q.inbox <- testHook{fn: func(q *Queue) {
		e := q.buckets[50][0]
		e.enqueuedAt = time.Now().Add(-10 * time.Minute)
		q.buckets[50][0] = e
		close(done)
	}}
	<-done

	got := make(chan Matched, 1)
	require.NoError(t, search(t, q, "bob", "conn-b", 50, func(m Matched) { got <- m }))

	select {
	case <-got:
		t.Fatal("stale entry must not be paired")
	case <-time.After(50 * time.Millisecond):
	}
	require.Zero(t, ledger.Reserved("alice"), "stale entry refunded")
	require.Equal(t, int64(50), ledger.Reserved("bob"), "newcomer enqueued")
}

func TestSweepPairsWaitingBucket(t *testing.T) {
	q, ledger, _ := newTestQueue(t)
	ledger.Seed("alice", 100)
	ledger.Seed("bob", 100)

	got := make(chan Matched, 2)
	notify := func(m Matched) { got <- m }

	require.NoError(t, search(t, q, "alice", "conn-a", 50, notify))

	// Force bob straight into the bucket, simulating the enqueue race the
	// periodic sweep exists to close.
	done := make(chan struct{})
	q.inbox <- testHook{fn: func(q *Queue) {
		q.buckets[50] = append(q.buckets[50], entry{
			identity: "bob", connRef: "conn-b", stake: 50,
			reserveRef: "queue:test", enqueuedAt: time.Now(), notify: notify,
		})
		close(done)
	}}
	<-done

	q.Inbox() <- Sweep{}

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("sweep should pair a bucket with two compatible entries")
	}
}
