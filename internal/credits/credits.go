// Package credits tracks per-user credit balances and gates paid
// operations. The balance is authoritative on the server: callers read
// it, never decrement it locally, and every debit is a single atomic
// conditional update.
package credits

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientCredits is returned when a debit would drive the
	// balance below zero. The balance is left unchanged.
	ErrInsufficientCredits = errors.New("credits: insufficient balance")
)

// Store persists credit balances.
type Store interface {
	// Balance returns the user's balance, creating the profile with the
	// starting allowance on first access.
	Balance(ctx context.Context, userID string) (int, error)
	// Debit atomically subtracts cost from the balance and returns the
	// remaining credits. It fails with ErrInsufficientCredits without
	// modifying anything when the balance does not cover the cost.
	Debit(ctx context.Context, userID string, cost int) (int, error)
	// Credit adds amount to the balance and returns the new total.
	Credit(ctx context.Context, userID string, amount int) (int, error)
	Close()
}

// Authorize reports whether a balance covers a cost. It only reads;
// the actual debit must go through Store.Debit.
func Authorize(balance, cost int) bool {
	return cost >= 0 && balance >= cost
}
