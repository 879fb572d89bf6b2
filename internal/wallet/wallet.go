// Package wallet holds the per-user platform balance. Balances only move
// through a Ledger, whose debits re-check funds at the moment they apply.
package wallet

import (
	"context"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
)

const DefaultCurrency = "BDT"

type Wallet struct {
	UserID         string `json:"user_id"`
	Balance        int64  `json:"balance"`
	Currency       string `json:"currency"`
	TotalWithdrawn int64  `json:"total_withdrawn"`
}

// Ledger applies balance changes inside the caller's transaction.
//
// Debit and Withdraw must fail with apperr.InsufficientFunds rather than
// drive a balance below zero; implementations do the check and the update
// in one step.
type Ledger interface {
	Wallet(ctx context.Context, userID string) (Wallet, error)
	Credit(ctx context.Context, userID string, amount int64) (int64, error)
	Debit(ctx context.Context, userID string, amount int64) (int64, error)
	// Withdraw debits like Debit and also adds amount to TotalWithdrawn.
	Withdraw(ctx context.Context, userID string, amount int64) (int64, error)
}

// Apply computes the balance after adding delta, refusing negatives.
// Store implementations share it so the invariant lives in one place.
func Apply(w *Wallet, delta int64) error {
	if delta < 0 && w.Balance+delta < 0 {
		return apperr.InsufficientFunds(w.Balance, -delta)
	}
	w.Balance += delta
	return nil
}

// CheckFunds is the fail-fast check done before issuing a challenge.
func CheckFunds(w Wallet, amount int64) error {
	if w.Balance < amount {
		return apperr.InsufficientFunds(w.Balance, amount)
	}
	return nil
}

func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return apperr.Validation("amount must be positive")
	}
	return nil
}
