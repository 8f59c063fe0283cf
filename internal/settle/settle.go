// Package settle performs the one-time payout when a match completes: the
// pot is both stakes, the platform keeps the rake, the winner is credited
// the rest. Callers must claim the match's settlementProcessed flag before
// invoking Settle; the ledger refs below make a retried invocation harmless.
package settle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ludoarena/backend/internal/engine"
	"github.com/ludoarena/backend/internal/store"
	"github.com/ludoarena/backend/internal/wallet"
)

// Recorder persists the bookkeeping side of a settlement.
type Recorder interface {
	IncrementStats(ctx context.Context, winnerID, loserID string) error
	AppendRevenue(ctx context.Context, entry store.RevenueEntry) error
}

type Result struct {
	Pot      int64
	Rake     int64
	Payout   int64
	WinnerID string
}

type Engine struct {
	ledger   wallet.Ledger
	recorder Recorder
	rakeRate float64
	log      *zap.Logger
}

func New(ledger wallet.Ledger, recorder Recorder, rakeRate float64, log *zap.Logger) *Engine {
	return &Engine{ledger: ledger, recorder: recorder, rakeRate: rakeRate, log: log}
}

// Compute returns the money split for a stake without applying anything.
func (e *Engine) Compute(stake int64) (pot, rake, payout int64) {
	pot = stake * 2
	rake = int64(float64(pot) * e.rakeRate)
	payout = pot - rake
	return pot, rake, payout
}

// Settle applies the payout for a completed match. Both stakes are debited
// against their reservations, the winner is credited the payout, stats and
// the revenue ledger are updated. All ledger writes are keyed on the match
// id, so re-running after a partial failure completes the remainder.
func (e *Engine) Settle(ctx context.Context, st engine.State) (Result, error) {
	winner, loser, ok := st.WinnerLoser()
	if !ok {
		return Result{}, fmt.Errorf("match %s has no winner to settle", st.ID)
	}

	pot, rake, payout := e.Compute(st.Stake)
	res := Result{Pot: pot, Rake: rake, Payout: payout, WinnerID: winner.Identity}

	if err := e.ledger.Debit(ctx, winner.Identity, st.Stake, "stake:"+st.ID+":"+string(winner.Color)); err != nil {
		return res, fmt.Errorf("debit winner stake: %w", err)
	}
	if err := e.ledger.Debit(ctx, loser.Identity, st.Stake, "stake:"+st.ID+":"+string(loser.Color)); err != nil {
		return res, fmt.Errorf("debit loser stake: %w", err)
	}
	if err := e.ledger.Credit(ctx, winner.Identity, payout, "payout:"+st.ID); err != nil {
		return res, fmt.Errorf("credit payout: %w", err)
	}

	if err := e.recorder.IncrementStats(ctx, winner.Identity, loser.Identity); err != nil {
		return res, fmt.Errorf("record stats: %w", err)
	}
	if err := e.recorder.AppendRevenue(ctx, store.RevenueEntry{
		ID:        uuid.NewString(),
		MatchID:   st.ID,
		PotAmount: pot,
		Rake:      rake,
		WinnerID:  winner.Identity,
		CreatedAt: time.Now(),
	}); err != nil {
		return res, fmt.Errorf("record revenue: %w", err)
	}

	e.log.Info("match settled",
		zap.String("match_id", st.ID),
		zap.String("winner", winner.Identity),
		zap.Int64("pot", pot),
		zap.Int64("rake", rake),
		zap.Int64("payout", payout))
	return res, nil
}

// RefundStakes releases both reservations without payout; used for
// abandoned matches and failed pairings.
func RefundStakes(ctx context.Context, ledger wallet.Ledger, st engine.State) error {
	for _, p := range st.Players {
		if err := ledger.Release(ctx, p.Identity, st.Stake, "refund:"+st.ID+":"+string(p.Color)); err != nil {
			return fmt.Errorf("release stake for %s: %w", p.Identity, err)
		}
	}
	return nil
}
