// Package funds implements the OTP-gated money intents: deposits,
// withdrawals and order payments. Each intent is created by a request,
// resolved exactly once by a verify, and never reopened.
package funds

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/wallet"
)

type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindPayment    Kind = "payment"
)

type Method string

const (
	MethodBank  Method = "bank"
	MethodCard  Method = "card"
	MethodBkash Method = "bkash"
	MethodNagad Method = "nagad"
)

func (m Method) Valid() bool {
	switch m {
	case MethodBank, MethodCard, MethodBkash, MethodNagad:
		return true
	}
	return false
}

type Status string

const (
	StatusPendingOTP Status = "pending_otp"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

type Intent struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Kind          Kind              `json:"kind"`
	OrderID       string            `json:"order_id,omitempty"`
	Amount        int64             `json:"amount"`
	Method        Method            `json:"method"`
	Details       map[string]string `json:"details,omitempty"`
	CodeHash      string            `json:"-"`
	ExpiresAt     time.Time         `json:"otp_expires_at"`
	Status        Status            `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

func (in *Intent) Clone() *Intent {
	c := *in
	if in.Details != nil {
		c.Details = make(map[string]string, len(in.Details))
		for k, v := range in.Details {
			c.Details[k] = v
		}
	}
	if in.CompletedAt != nil {
		t := *in.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Contact is where a user's codes are mailed.
type Contact struct {
	UserID string
	Email  string
	Name   string
}

// Tx extends the order transaction with intent rows so a verify can flip
// the intent, move money and transition an order in one commit.
type Tx interface {
	orders.Tx

	InsertIntent(ctx context.Context, in *Intent) error
	// LockIntent loads the intent and holds it until the transaction ends.
	LockIntent(ctx context.Context, id string) (*Intent, error)
	// UpdateIntent writes in only if the stored status is still expected;
	// otherwise it reports apperr.ErrStateConflict.
	UpdateIntent(ctx context.Context, in *Intent, expected Status) error
}

type Store interface {
	WithFundsTx(ctx context.Context, fn func(tx Tx) error) error

	GetIntent(ctx context.Context, id string) (*Intent, error)
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	Wallet(ctx context.Context, userID string) (wallet.Wallet, error)
	Contact(ctx context.Context, userID string) (Contact, error)
}

// Withdrawal payout details required per method.
var requiredDetails = map[Method][]string{
	MethodBank:  {"account_number", "account_name", "bank_name"},
	MethodBkash: {"phone_number"},
	MethodNagad: {"phone_number"},
	MethodCard:  {"card_last4"},
}

func validateMethod(m Method) error {
	if !m.Valid() {
		return apperr.Validation("method must be one of bank, card, bkash, nagad")
	}
	return nil
}

func validatePayoutDetails(m Method, details map[string]string) error {
	for _, k := range requiredDetails[m] {
		if details[k] == "" {
			return apperr.Validation("%s is required for %s withdrawals", k, m)
		}
	}
	return nil
}
