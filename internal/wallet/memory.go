package wallet

import (
	"context"
	"sync"
)

type memAccount struct {
	balance  int64
	reserved int64
}

// MemLedger is an in-memory Ledger with the same ref-idempotency contract
// as the Postgres one. It backs tests and demo deployments.
type MemLedger struct {
	mu       sync.Mutex
	accounts map[string]*memAccount
	refs     map[string]bool
}

func NewMemLedger() *MemLedger {
	return &MemLedger{accounts: make(map[string]*memAccount), refs: make(map[string]bool)}
}

// Seed sets a user's free balance directly.
func (l *MemLedger) Seed(userID string, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(userID).balance = balance
}

func (l *MemLedger) account(userID string) *memAccount {
	a, ok := l.accounts[userID]
	if !ok {
		a = &memAccount{}
		l.accounts[userID] = a
	}
	return a
}

func (l *MemLedger) apply(userID string, amount int64, ref string, fn func(*memAccount) error) error {
	if userID == "" || amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs[ref] {
		return nil
	}
	if err := fn(l.account(userID)); err != nil {
		return err
	}
	l.refs[ref] = true
	return nil
}

func (l *MemLedger) Reserve(_ context.Context, userID string, amount int64, ref string) error {
	return l.apply(userID, amount, ref, func(a *memAccount) error {
		if a.balance-a.reserved < amount {
			return ErrInsufficientFunds
		}
		a.reserved += amount
		return nil
	})
}

func (l *MemLedger) Release(_ context.Context, userID string, amount int64, ref string) error {
	return l.apply(userID, amount, ref, func(a *memAccount) error {
		a.reserved -= min64(a.reserved, amount)
		return nil
	})
}

func (l *MemLedger) Debit(_ context.Context, userID string, amount int64, ref string) error {
	return l.apply(userID, amount, ref, func(a *memAccount) error {
		a.balance -= amount
		a.reserved -= min64(a.reserved, amount)
		return nil
	})
}

func (l *MemLedger) Credit(_ context.Context, userID string, amount int64, ref string) error {
	return l.apply(userID, amount, ref, func(a *memAccount) error {
		a.balance += amount
		return nil
	})
}

func (l *MemLedger) Balance(_ context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(userID).balance, nil
}

// Reserved reports a user's held amount; test hook.
func (l *MemLedger) Reserved(userID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(userID).reserved
}
