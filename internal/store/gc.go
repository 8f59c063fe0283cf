package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ludoarena/backend/internal/engine"
)

var errAlreadySettled = errors.New("settlement already recorded")

// Janitor abandons matches that sat in Waiting/Active beyond the inactivity
// bound, refunding reserved stakes, and finishes the settlement of any
// Completed match whose payout never landed (ledger outage, crash between
// the completing mutation and settlement). Both are background resolutions,
// not user-facing errors.
type Janitor struct {
	matches  MatchStore
	mutator  *Mutator
	refund   func(ctx context.Context, st engine.State) error
	settle   func(ctx context.Context, st engine.State) error
	bound    time.Duration
	interval time.Duration
	log      *zap.Logger
}

func NewJanitor(matches MatchStore, mutator *Mutator,
	refund, settle func(context.Context, engine.State) error,
	bound, interval time.Duration, log *zap.Logger) *Janitor {
	return &Janitor{matches: matches, mutator: mutator, refund: refund, settle: settle,
		bound: bound, interval: interval, log: log}
}

// Run sweeps once at startup, then on a ticker until the context ends. The
// startup sweep is what recovers settlements interrupted by a restart.
func (j *Janitor) Run(ctx context.Context) error {
	j.Sweep(ctx)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

func (j *Janitor) Sweep(ctx context.Context) {
	j.sweepStale(ctx)
	j.sweepUnsettled(ctx)
}

func (j *Janitor) sweepStale(ctx context.Context) {
	stale, err := j.matches.ListInactive(ctx, time.Now().Add(-j.bound))
	if err != nil {
		j.log.Error("stale match scan failed", zap.Error(err))
		return
	}

	for _, st := range stale {
		abandoned, _, err := j.mutator.Mutate(ctx, st.ID, func(cur engine.State) (engine.State, []engine.Event, error) {
			if cur.Status != engine.StatusWaiting && cur.Status != engine.StatusActive {
				// Completed or already abandoned while we were scanning.
				return cur, nil, engine.ErrGameOver
			}
			ns := cur.Clone()
			ns.Status = engine.StatusAbandoned
			ns.TurnState = engine.TurnGameOver
			return ns, nil, nil
		})
		if err != nil {
			continue
		}
		if err := j.refund(ctx, abandoned); err != nil {
			j.log.Error("stake refund for abandoned match failed",
				zap.String("match_id", st.ID), zap.Error(err))
			continue
		}
		j.log.Info("abandoned stale match", zap.String("match_id", st.ID))
	}
}

// sweepUnsettled re-runs settlement for completed matches that never got
// their payout recorded. Settlement writes are ref-idempotent, so re-running
// a partially applied one only fills in the missing effects.
func (j *Janitor) sweepUnsettled(ctx context.Context) {
	unsettled, err := j.matches.ListUnsettled(ctx)
	if err != nil {
		j.log.Error("unsettled match scan failed", zap.Error(err))
		return
	}

	for _, st := range unsettled {
		if err := j.settle(ctx, st); err != nil {
			j.log.Error("settlement recovery failed",
				zap.String("match_id", st.ID), zap.Error(err))
			continue
		}
		_, _, err := j.mutator.Mutate(ctx, st.ID, func(cur engine.State) (engine.State, []engine.Event, error) {
			if cur.SettlementProcessed {
				return cur, nil, errAlreadySettled
			}
			ns := cur.Clone()
			ns.SettlementProcessed = true
			return ns, nil, nil
		})
		if err != nil && !errors.Is(err, errAlreadySettled) {
			j.log.Error("settlement flag persist failed",
				zap.String("match_id", st.ID), zap.Error(err))
			continue
		}
		j.log.Info("recovered unsettled match", zap.String("match_id", st.ID))
	}
}
