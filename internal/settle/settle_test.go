package settle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ludoarena/backend/internal/board"
	"github.com/ludoarena/backend/internal/engine"
	"github.com/ludoarena/backend/internal/store"
	"github.com/ludoarena/backend/internal/wallet"
)

type fakeRecorder struct {
	stats   int
	entries []store.RevenueEntry
}

func (f *fakeRecorder) IncrementStats(_ context.Context, winnerID, loserID string) error {
	f.stats++
	return nil
}

func (f *fakeRecorder) AppendRevenue(_ context.Context, entry store.RevenueEntry) error {
	for _, e := range f.entries {
		if e.MatchID == entry.MatchID {
			return nil
		}
	}
	f.entries = append(f.entries, entry)
	return nil
}

func completedMatch(stake int64) engine.State {
	st := engine.NewMatch("m1", stake, engine.Player{Identity: "alice"}, engine.Player{Identity: "bob"})
	st.Status = engine.StatusCompleted
	st.TurnState = engine.TurnGameOver
	st.Winners = []board.Color{st.Players[0].Color}
	return st
}

func TestSettleSplitsPot(t *testing.T) {
	ledger := wallet.NewMemLedger()
	ledger.Seed("alice", 100)
	ledger.Seed("bob", 100)
	ctx := context.Background()
	require.NoError(t, ledger.Reserve(ctx, "alice", 50, "q:alice"))
	require.NoError(t, ledger.Reserve(ctx, "bob", 50, "q:bob"))

	rec := &fakeRecorder{}
	e := New(ledger, rec, 0.10, zap.NewNop())

	res, err := e.Settle(ctx, completedMatch(50))
	require.NoError(t, err)
	require.Equal(t, Result{Pot: 100, Rake: 10, Payout: 90, WinnerID: "alice"}, res)

	aliceBal, _ := ledger.Balance(ctx, "alice")
	bobBal, _ := ledger.Balance(ctx, "bob")
	require.Equal(t, int64(140), aliceBal, "winner nets payout minus stake")
	require.Equal(t, int64(50), bobBal, "loser is down one stake")
	require.Zero(t, ledger.Reserved("alice"))
	require.Zero(t, ledger.Reserved("bob"))

	require.Equal(t, 1, rec.stats)
	require.Len(t, rec.entries, 1)
	require.Equal(t, int64(10), rec.entries[0].Rake)
}

func TestSettleRetryAppliesOnce(t *testing.T) {
	ledger := wallet.NewMemLedger()
	ledger.Seed("alice", 100)
	ledger.Seed("bob", 100)
	ctx := context.Background()
	require.NoError(t, ledger.Reserve(ctx, "alice", 50, "q:alice"))
	require.NoError(t, ledger.Reserve(ctx, "bob", 50, "q:bob"))

	rec := &fakeRecorder{}
	e := New(ledger, rec, 0.10, zap.NewNop())
	st := completedMatch(50)

	for i := 0; i < 3; i++ {
		_, err := e.Settle(ctx, st)
		require.NoError(t, err)
	}

	aliceBal, _ := ledger.Balance(ctx, "alice")
	bobBal, _ := ledger.Balance(ctx, "bob")
	require.Equal(t, int64(140), aliceBal)
	require.Equal(t, int64(50), bobBal)
	require.Len(t, rec.entries, 1, "one revenue row per match")
}

func TestSettleWithoutWinnerFails(t *testing.T) {
	e := New(wallet.NewMemLedger(), &fakeRecorder{}, 0.10, zap.NewNop())
	st := engine.NewMatch("m1", 50, engine.Player{Identity: "a"}, engine.Player{Identity: "b"})
	_, err := e.Settle(context.Background(), st)
	require.Error(t, err)
}

func TestRefundStakes(t *testing.T) {
	ledger := wallet.NewMemLedger()
	ledger.Seed("alice", 100)
	ledger.Seed("bob", 100)
	ctx := context.Background()
	require.NoError(t, ledger.Reserve(ctx, "alice", 50, "q:alice"))
	require.NoError(t, ledger.Reserve(ctx, "bob", 50, "q:bob"))

	st := engine.NewMatch("m1", 50, engine.Player{Identity: "alice"}, engine.Player{Identity: "bob"})
	require.NoError(t, RefundStakes(ctx, ledger, st))
	require.Zero(t, ledger.Reserved("alice"))
	require.Zero(t, ledger.Reserved("bob"))

	// Refund again: idempotent by ref.
	require.NoError(t, RefundStakes(ctx, ledger, st))
	aliceBal, _ := ledger.Balance(ctx, "alice")
	require.Equal(t, int64(100), aliceBal)
}
