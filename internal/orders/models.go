package orders

import "time"

// Party is the side of an order a user acts as.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

func (p Party) Other() Party {
	if p == PartyBuyer {
		return PartySeller
	}
	return PartyBuyer
}

type DeliveryStatus string

const (
	DeliveryAccepted DeliveryStatus = "accepted"
	DeliveryRejected DeliveryStatus = "rejected"
)

type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

type Order struct {
	ID             string `json:"id"`
	BuyerID        string `json:"buyer_id"`
	SellerID       string `json:"seller_id"`
	GigID          string `json:"gig_id,omitempty"`
	JobID          string `json:"job_id,omitempty"`
	ProposalID     string `json:"proposal_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Price        int64      `json:"price"`
	DeliveryDays int        `json:"delivery_days"`
	DueDate      *time.Time `json:"due_date,omitempty"`

	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	// Set once when payment completes.
	TotalAmount  int64 `json:"total_amount"`
	Commission   int64 `json:"commission"`
	SellerAmount int64 `json:"seller_amount"`

	ActivatedAt        *time.Time `json:"activated_at,omitempty"`
	PaymentDeadline    *time.Time `json:"payment_deadline,omitempty"`
	PaymentCompletedAt *time.Time `json:"payment_completed_at,omitempty"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	CompletionDate     *time.Time `json:"completion_date,omitempty"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`

	Delivery   *Delivery          `json:"delivery,omitempty"`
	Extensions []ExtensionRequest `json:"extensions,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Delivery struct {
	Description        string         `json:"description"`
	Notes              string         `json:"notes,omitempty"`
	Link               string         `json:"link,omitempty"`
	Files              []string       `json:"files,omitempty"`
	DeliveredAt        time.Time      `json:"delivered_at"`
	Status             DeliveryStatus `json:"status,omitempty"`
	AcceptedAt         *time.Time     `json:"accepted_at,omitempty"`
	RejectionReason    string         `json:"rejection_reason,omitempty"`
	RedeliveryDeadline *time.Time     `json:"redelivery_deadline,omitempty"`
}

type ExtensionRequest struct {
	ID          string          `json:"id"`
	RequestedBy Party           `json:"requested_by"`
	Reason      string          `json:"reason"`
	Days        int             `json:"extension_days"`
	Status      ExtensionStatus `json:"status"`
	RespondedBy string          `json:"responded_by,omitempty"`
	RespondedAt *time.Time      `json:"responded_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PartyOf reports which side of the order userID is on.
func (o *Order) PartyOf(userID string) (Party, bool) {
	switch userID {
	case o.BuyerID:
		return PartyBuyer, true
	case o.SellerID:
		return PartySeller, true
	}
	return "", false
}

func (o *Order) UserFor(p Party) string {
	if p == PartyBuyer {
		return o.BuyerID
	}
	return o.SellerID
}

func (o *Order) pendingExtension() *ExtensionRequest {
	for i := range o.Extensions {
		if o.Extensions[i].Status == ExtensionPending {
			return &o.Extensions[i]
		}
	}
	return nil
}

// Clone returns a deep copy; stores hand out clones so callers never
// share nested slices with persisted state.
func (o *Order) Clone() *Order {
	c := *o
	c.DueDate = cloneTime(o.DueDate)
	c.ActivatedAt = cloneTime(o.ActivatedAt)
	c.PaymentDeadline = cloneTime(o.PaymentDeadline)
	c.PaymentCompletedAt = cloneTime(o.PaymentCompletedAt)
	c.StartDate = cloneTime(o.StartDate)
	c.CompletionDate = cloneTime(o.CompletionDate)
	c.CancelledAt = cloneTime(o.CancelledAt)
	if o.Delivery != nil {
		d := *o.Delivery
		d.Files = append([]string(nil), o.Delivery.Files...)
		d.AcceptedAt = cloneTime(o.Delivery.AcceptedAt)
		d.RedeliveryDeadline = cloneTime(o.Delivery.RedeliveryDeadline)
		c.Delivery = &d
	}
	if o.Extensions != nil {
		c.Extensions = make([]ExtensionRequest, len(o.Extensions))
		for i, x := range o.Extensions {
			x.RespondedAt = cloneTime(x.RespondedAt)
			c.Extensions[i] = x
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time { return &t }

// Catalog entities are read-only price/party sources for order creation.

type Gig struct {
	ID           string
	SellerID     string
	Title        string
	Description  string
	Price        int64
	DeliveryDays int
	Tiers        []GigTier
}

type GigTier struct {
	ID           string
	Name         string
	Price        int64
	DeliveryDays int
}

type JobStatus string

const (
	JobOpen       JobStatus = "open"
	JobInProgress JobStatus = "in_progress"
	JobClosed     JobStatus = "closed"
)

type Job struct {
	ID              string
	PostedBy        string
	Title           string
	Description     string
	Status          JobStatus
	HiredFreelancer string
}

type Proposal struct {
	ID           string
	JobID        string
	FreelancerID string
	BidAmount    int64
	DeliveryDays int
	Status       string // pending | accepted | rejected
}

// Counters are lifetime per-user deltas applied on terminal transitions.
type Counters struct {
	CompletedOrders int
	CancelledOrders int
	Earnings        int64
}
