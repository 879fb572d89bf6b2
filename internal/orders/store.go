package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/wallet"
)

// Store is the persistence boundary of the order state machine.
type Store interface {
	// WithTx runs fn in one transaction; fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, userID string, party Party) ([]Order, error)
	// ListExpiredActivated selects status=activated AND payment_deadline < now.
	ListExpiredActivated(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// InFlightQuery matches orders that block a new one for the same source.
// Empty fields are not filtered on.
type InFlightQuery struct {
	BuyerID  string
	SellerID string
	GigID    string
	JobID    string
}

// Tx exposes the row-level operations a transition needs.
type Tx interface {
	wallet.Ledger

	// LockOrder loads the order and holds it until the transaction ends.
	LockOrder(ctx context.Context, id string) (*Order, error)
	InsertOrder(ctx context.Context, o *Order) error
	// UpdateOrder writes o only if the stored row still has status
	// expected and version o.Version; it bumps o.Version on success and
	// reports apperr.ErrStateConflict otherwise.
	UpdateOrder(ctx context.Context, o *Order, expected Status) error
	HasInFlightOrder(ctx context.Context, q InFlightQuery) (bool, error)

	GetGig(ctx context.Context, id string) (*Gig, error)
	LockProposal(ctx context.Context, id string) (*Proposal, error)
	SetProposalStatus(ctx context.Context, id, status string) error
	LockJob(ctx context.Context, id string) (*Job, error)
	UpdateJob(ctx context.Context, j *Job) error

	UpsertConversation(ctx context.Context, buyerID, sellerID string) (string, error)
	AddCounters(ctx context.Context, userID string, c Counters) error
	// LockUsers holds the user rows until the transaction ends, taking the
	// locks in id order whatever order ids are given in.
	LockUsers(ctx context.Context, ids ...string) error
}
