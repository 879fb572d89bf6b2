package orders

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventOrderCreated        = "order:created"
	EventOrderAccepted       = "order:accepted"
	EventOrderRejected       = "order:rejected"
	EventPaymentCompleted    = "order:payment_completed"
	EventOrderStarted        = "order:started"
	EventOrderDelivered      = "order:delivered"
	EventDeliveryAccepted    = "order:delivery_accepted"
	EventDeliveryRejected    = "order:delivery_rejected"
	EventOrderCompleted      = "order:completed"
	EventOrderCancelled      = "order:cancelled"
	EventOrderExpired        = "order:payment_expired"
	EventExtensionRequested  = "order:extension_requested"
	EventExtensionResponded  = "order:extension_responded"
	EventPaymentDeadlineMove = "order:payment_deadline_extended"
	EventDepositCompleted    = "wallet:deposit_completed"
	EventWithdrawalCompleted = "wallet:withdrawal_completed"
)

// Envelope wraps every event published to the notification topic.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	Recipient     string          `json:"recipient"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id or intent_id
	Payload       json.RawMessage `json:"payload"`
}

// Notifier delivers an event to one user. Implementations are best effort:
// a failed notification never undoes the transition that caused it.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, payload any)
}

type OrderEventPayload struct {
	OrderID       string        `json:"order_id"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	ActorID       string        `json:"actor_id,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Amount        int64         `json:"amount,omitempty"`
	Deadline      *time.Time    `json:"deadline,omitempty"`
}

type ExtensionEventPayload struct {
	OrderID     string          `json:"order_id"`
	ExtensionID string          `json:"extension_id"`
	RequestedBy Party           `json:"requested_by"`
	Days        int             `json:"extension_days"`
	Status      ExtensionStatus `json:"status"`
	Reason      string          `json:"reason,omitempty"`
}

type WalletEventPayload struct {
	IntentID string `json:"intent_id"`
	Amount   int64  `json:"amount"`
	Balance  int64  `json:"balance"`
}

func orderPayload(o *Order, actor, reason string) OrderEventPayload {
	return OrderEventPayload{
		OrderID:       o.ID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		ActorID:       actor,
		Reason:        reason,
	}
}
