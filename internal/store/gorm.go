package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ludoarena/backend/internal/engine"
)

// MatchRecord mirrors the match document in Postgres. The document itself
// lives in a jsonb column; status/stake are lifted out for queries. Version
// is the optimistic-concurrency revision.
type MatchRecord struct {
	ID        string `gorm:"primaryKey"`
	Version   int64  `gorm:"not null"`
	Status    string `gorm:"index;not null"`
	Stake     int64  `gorm:"not null"`
	Settled   bool   `gorm:"index;not null;default:false"`
	Doc       []byte `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlayerStats accumulates per-player lifetime results.
type PlayerStats struct {
	UserID      string `gorm:"primaryKey"`
	GamesPlayed int64  `gorm:"not null;default:0"`
	Wins        int64  `gorm:"not null;default:0"`
	Losses      int64  `gorm:"not null;default:0"`
	UpdatedAt   time.Time
}

// RevenueEntry is one immutable rake ledger row per settled match.
type RevenueEntry struct {
	ID        string `gorm:"primaryKey"`
	MatchID   string `gorm:"uniqueIndex;not null"`
	PotAmount int64  `gorm:"not null"`
	Rake      int64  `gorm:"not null"`
	WinnerID  string
	CreatedAt time.Time
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&MatchRecord{}, &PlayerStats{}, &RevenueEntry{}); err != nil {
		return nil, fmt.Errorf("migrate match tables: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Insert(ctx context.Context, st engine.State) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal match %s: %w", st.ID, err)
	}
	rec := MatchRecord{ID: st.ID, Version: 1, Status: string(st.Status), Stake: st.Stake, Doc: doc}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert match %s: %w", st.ID, err)
	}
	return nil
}

func (g *GormStore) Load(ctx context.Context, id string) (engine.State, int64, error) {
	var rec MatchRecord
	err := g.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.State{}, 0, ErrNotFound
	}
	if err != nil {
		return engine.State{}, 0, fmt.Errorf("load match %s: %w", id, err)
	}

	var st engine.State
	if err := json.Unmarshal(rec.Doc, &st); err != nil {
		return engine.State{}, 0, fmt.Errorf("unmarshal match %s: %w", id, err)
	}
	return st, rec.Version, nil
}

func (g *GormStore) Save(ctx context.Context, st engine.State, expected int64) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal match %s: %w", st.ID, err)
	}

	res := g.db.WithContext(ctx).Model(&MatchRecord{}).
		Where("id = ? AND version = ?", st.ID, expected).
		Updates(map[string]any{
			"version":    expected + 1,
			"status":     string(st.Status),
			"settled":    st.SettlementProcessed,
			"doc":        doc,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("save match %s: %w", st.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (g *GormStore) ListInactive(ctx context.Context, cutoff time.Time) ([]engine.State, error) {
	var recs []MatchRecord
	err := g.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]string{string(engine.StatusWaiting), string(engine.StatusActive)}, cutoff).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list inactive matches: %w", err)
	}

	out := make([]engine.State, 0, len(recs))
	for _, rec := range recs {
		var st engine.State
		if err := json.Unmarshal(rec.Doc, &st); err != nil {
			return nil, fmt.Errorf("unmarshal match %s: %w", rec.ID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (g *GormStore) ListUnsettled(ctx context.Context) ([]engine.State, error) {
	var recs []MatchRecord
	err := g.db.WithContext(ctx).
		Where("status = ? AND settled = ?", string(engine.StatusCompleted), false).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list unsettled matches: %w", err)
	}

	out := make([]engine.State, 0, len(recs))
	for _, rec := range recs {
		var st engine.State
		if err := json.Unmarshal(rec.Doc, &st); err != nil {
			return nil, fmt.Errorf("unmarshal match %s: %w", rec.ID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// IncrementStats records one game result for both players. Anonymous seats
// (empty user id) are skipped.
func (g *GormStore) IncrementStats(ctx context.Context, winnerID, loserID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bump(tx, winnerID, true); err != nil {
			return err
		}
		return bump(tx, loserID, false)
	})
}

func bump(tx *gorm.DB, userID string, won bool) error {
	if userID == "" {
		return nil
	}
	col := "losses"
	if won {
		col = "wins"
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"games_played": gorm.Expr("player_stats.games_played + 1"),
			col:            gorm.Expr("player_stats." + col + " + 1"),
			"updated_at":   time.Now(),
		}),
	}).Create(&PlayerStats{UserID: userID, GamesPlayed: 1, Wins: b2i(won), Losses: b2i(!won)}).Error
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// AppendRevenue writes the rake row for a settled match. The unique index
// on match_id makes re-invocation a no-op.
func (g *GormStore) AppendRevenue(ctx context.Context, entry RevenueEntry) error {
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "match_id"}}, DoNothing: true}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("append revenue for match %s: %w", entry.MatchID, err)
	}
	return nil
}
