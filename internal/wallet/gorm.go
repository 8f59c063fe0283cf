package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Account is one user's money position. Reserved is the slice of Balance
// currently committed to queue entries and running matches.
type Account struct {
	UserID    string `gorm:"primaryKey"`
	Balance   int64  `gorm:"not null;default:0"`
	Reserved  int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// JournalEntry records every balance mutation. Ref is unique so replaying
// the same operation (settlement retries) writes nothing twice.
type JournalEntry struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index;not null"`
	Kind      string `gorm:"not null"`
	Amount    int64  `gorm:"not null"`
	Ref       string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) (*GormLedger, error) {
	if err := db.AutoMigrate(&Account{}, &JournalEntry{}); err != nil {
		return nil, fmt.Errorf("migrate wallet tables: %w", err)
	}
	return &GormLedger{db: db}, nil
}

func (l *GormLedger) Reserve(ctx context.Context, userID string, amount int64, ref string) error {
	return l.apply(ctx, userID, amount, ref, "reserve", func(a *Account) error {
		if a.Balance-a.Reserved < amount {
			return ErrInsufficientFunds
		}
		a.Reserved += amount
		return nil
	})
}

func (l *GormLedger) Release(ctx context.Context, userID string, amount int64, ref string) error {
	return l.apply(ctx, userID, amount, ref, "release", func(a *Account) error {
		a.Reserved -= min64(a.Reserved, amount)
		return nil
	})
}

func (l *GormLedger) Debit(ctx context.Context, userID string, amount int64, ref string) error {
	return l.apply(ctx, userID, amount, ref, "debit", func(a *Account) error {
		a.Balance -= amount
		a.Reserved -= min64(a.Reserved, amount)
		return nil
	})
}

func (l *GormLedger) Credit(ctx context.Context, userID string, amount int64, ref string) error {
	return l.apply(ctx, userID, amount, ref, "credit", func(a *Account) error {
		a.Balance += amount
		return nil
	})
}

func (l *GormLedger) Balance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, nil
	}
	var acct Account
	err := l.db.WithContext(ctx).First(&acct, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance for %s: %w", userID, err)
	}
	return acct.Balance, nil
}

// apply runs one journaled mutation inside a transaction with the account
// row locked. Anonymous users (empty id) have no wallet; their operations
// succeed without effect.
func (l *GormLedger) apply(ctx context.Context, userID string, amount int64, ref, kind string, fn func(*Account) error) error {
	if userID == "" || amount == 0 {
		return nil
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seen int64
		if err := tx.Model(&JournalEntry{}).Where("ref = ?", ref).Count(&seen).Error; err != nil {
			return fmt.Errorf("check journal ref %s: %w", ref, err)
		}
		if seen > 0 {
			return nil
		}

		var acct Account
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&acct, "user_id = ?", userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			acct = Account{UserID: userID}
			if err := tx.Create(&acct).Error; err != nil {
				return fmt.Errorf("create account %s: %w", userID, err)
			}
		} else if err != nil {
			return fmt.Errorf("lock account %s: %w", userID, err)
		}

		if err := fn(&acct); err != nil {
			return err
		}
		if err := tx.Save(&acct).Error; err != nil {
			return fmt.Errorf("save account %s: %w", userID, err)
		}

		entry := JournalEntry{
			ID:     uuid.NewString(),
			UserID: userID,
			Kind:   kind,
			Amount: amount,
			Ref:    ref,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("journal %s for %s: %w", kind, userID, err)
		}
		return nil
	})
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
