// Package ledger owns an account's credit balance and guarantees
// non-negative, all-or-nothing transitions. All mutations flow through the
// account store's per-account update so a debit racing a checkout's balance
// reset can never interleave into an inconsistent value.
package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/account"
)

// Ledger mutates account credit balances through the shared account store.
type Ledger struct {
	store account.Store
}

// New creates a Ledger on top of the given store.
// Panics on nil store to fail fast during initialization.
func New(store account.Store) *Ledger {
	if store == nil {
		panic("ledger: account store is required")
	}
	return &Ledger{store: store}
}

// Balance returns the account's current credit balance. Never negative.
func (l *Ledger) Balance(ctx context.Context, id uuid.UUID) (int64, error) {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.Credits, nil
}

// Grant replaces the record's balance wholesale with a tier allotment.
// Used by the checkout coordinator inside its own per-account update so the
// subscription change and the balance reset land as one write; rejects
// negative balances before touching the record.
func Grant(rec *account.Record, balance int64) error {
	if balance < 0 {
		return ErrInvalidBalance
	}
	rec.Credits = balance
	return nil
}

// Debit reduces the balance by amount, all or nothing. A debit exceeding the
// balance fails with ErrInsufficientCredits and leaves the balance unchanged.
// Returns the remaining balance.
func (l *Ledger) Debit(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}

	var remaining int64
	_, err := l.store.Update(ctx, id, func(rec *account.Record) error {
		if amount > rec.Credits {
			return ErrInsufficientCredits
		}
		rec.Credits -= amount
		remaining = rec.Credits
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// Clamp lowers the record's balance to ceiling when it currently exceeds it.
// Used on tier downgrades observed by reconciliation, inside the worker's
// per-account update; never raises the balance.
func Clamp(rec *account.Record, ceiling int64) error {
	if ceiling < 0 {
		return ErrInvalidBalance
	}
	if rec.Credits > ceiling {
		rec.Credits = ceiling
	}
	return nil
}
