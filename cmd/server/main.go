package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ludoarena/backend/internal/auth"
	"github.com/ludoarena/backend/internal/config"
	"github.com/ludoarena/backend/internal/engine"
	"github.com/ludoarena/backend/internal/httpapi"
	"github.com/ludoarena/backend/internal/hub"
	"github.com/ludoarena/backend/internal/queue"
	"github.com/ludoarena/backend/internal/settle"
	"github.com/ludoarena/backend/internal/store"
	"github.com/ludoarena/backend/internal/table"
	"github.com/ludoarena/backend/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("bad configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	matches, ledger, recorder, err := buildPersistence(cfg, log)
	if err != nil {
		log.Fatal("persistence setup failed", zap.Error(err))
	}

	mutator := store.NewMutator(matches, cfg.PersistRetries, log)
	settler := settle.New(ledger, recorder, cfg.RakeRate, log)
	verifier := auth.NewHS256Verifier(cfg.AuthSecret, cfg.AllowAnonymous)

	timeouts := table.Timeouts{Roll: cfg.RollTimeout, Move: cfg.MoveTimeout, PassDelay: cfg.PassDelay}

	var h *hub.Hub
	spawn := func(tctx context.Context, st engine.State) *table.Table {
		return table.New(tctx, st, mutator, settler, timeouts, func(matchID string) {
			h.Inbox() <- hub.RemoveTable{MatchID: matchID}
		}, log)
	}
	load := func(lctx context.Context, matchID string) (engine.State, bool) {
		st, _, err := matches.Load(lctx, matchID)
		if err != nil {
			return engine.State{}, false
		}
		// Finished matches stay queryable in the store but get no table.
		if st.Status != engine.StatusWaiting && st.Status != engine.StatusActive {
			return engine.State{}, false
		}
		return st, true
	}
	h = hub.NewHub(ctx, spawn, load)

	q := queue.New(ctx, ledger, matches, cfg.QueueStaleness, log)

	janitor := store.NewJanitor(matches, mutator,
		func(jctx context.Context, st engine.State) error {
			return settle.RefundStakes(jctx, ledger, st)
		},
		func(jctx context.Context, st engine.State) error {
			_, err := settler.Settle(jctx, st)
			return err
		},
		cfg.MatchGCBound, cfg.GCInterval, log)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.SetupRoutes(verifier, h, q, ledger, log),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	g.Go(func() error { return q.RunSweeper(gctx, cfg.SweepInterval) })
	g.Go(func() error { return janitor.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// buildPersistence opens Postgres when a DSN is configured and falls back
// to in-memory stores for local development.
func buildPersistence(cfg config.Config, log *zap.Logger) (store.MatchStore, wallet.Ledger, settle.Recorder, error) {
	if cfg.DatabaseDSN == "" {
		log.Warn("DATABASE_DSN not set, using in-memory persistence")
		return store.NewMemStore(), wallet.NewMemLedger(), noopRecorder{}, nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, nil, nil, err
	}
	matches, err := store.NewGormStore(db)
	if err != nil {
		return nil, nil, nil, err
	}
	ledger, err := wallet.NewGormLedger(db)
	if err != nil {
		return nil, nil, nil, err
	}
	return matches, ledger, matches, nil
}

type noopRecorder struct{}

func (noopRecorder) IncrementStats(context.Context, string, string) error { return nil }
func (noopRecorder) AppendRevenue(context.Context, store.RevenueEntry) error {
	return nil
}
