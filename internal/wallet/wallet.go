// Package wallet is the balance-ledger collaborator: reserve a stake when a
// player searches, debit it when the match settles, release it on refunds.
// Amounts are integer cents. Every operation carries a caller-chosen ref;
// an operation with a ref the ledger has already seen is a no-op, which is
// what makes settlement retries safe.
package wallet

import (
	"context"
	"errors"
)

var ErrInsufficientFunds = errors.New("insufficient balance")

type Ledger interface {
	// Reserve holds amount against the user's free balance.
	Reserve(ctx context.Context, userID string, amount int64, ref string) error
	// Release returns a held amount to the free balance.
	Release(ctx context.Context, userID string, amount int64, ref string) error
	// Debit consumes a held amount for good.
	Debit(ctx context.Context, userID string, amount int64, ref string) error
	// Credit adds winnings to the free balance.
	Credit(ctx context.Context, userID string, amount int64, ref string) error
	Balance(ctx context.Context, userID string) (int64, error)
}
