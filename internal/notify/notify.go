// Package notify fans order and wallet events out to users. Delivery is
// best effort: nothing here reports an error back to the transition that
// produced the event.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header) bool
}

// KafkaNotifier publishes one Envelope per recipient, keyed by recipient
// so a user's events stay ordered within a partition.
type KafkaNotifier struct {
	Producer Publisher
	Service  string
	Clock    func() time.Time
}

func (n *KafkaNotifier) Notify(ctx context.Context, userID, event string, payload any) {
	env, err := n.envelope(ctx, userID, event, payload)
	if err != nil {
		log.Printf("notify event=%s user=%s: %v", event, userID, err)
		return
	}
	if !n.Producer.Publish(orders.PartitionKey(userID), kafkax.MustMarshal(env), kafkax.EventHeaders(event, env.EventVersion)...) {
		log.Printf("notify event=%s user=%s: dropped", event, userID)
	}
}

func (n *KafkaNotifier) envelope(ctx context.Context, userID, event string, payload any) (orders.Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return orders.Envelope{}, err
	}
	now := time.Now()
	if n.Clock != nil {
		now = n.Clock()
	}
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     event,
		EventVersion:  1,
		OccurredAt:    now.UTC(),
		Producer:      n.Service,
		Recipient:     userID,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: correlationID(payload),
		Payload:       b,
	}, nil
}

func correlationID(payload any) string {
	switch p := payload.(type) {
	case orders.OrderEventPayload:
		return p.OrderID
	case orders.ExtensionEventPayload:
		return p.OrderID
	case orders.WalletEventPayload:
		return p.IntentID
	}
	return ""
}

// LogNotifier writes events to the process log. It backs STORE=memory
// runs that have no broker.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID, event string, payload any) {
	b, _ := json.Marshal(payload)
	log.Printf("notify user=%s event=%s payload=%s", userID, event, b)
}
