// Package mailer moves outbound email off the request path: the API
// enqueues jobs on Kafka and the mailer process renders and delivers them.
package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const EventEmailQueued = "email:queued"

// Job is one queued email.
type Job struct {
	ID       string         `json:"id"`
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
	QueuedAt time.Time      `json:"queued_at"`
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header) bool
}

// Queue is the API-side Emailer.
type Queue struct {
	Producer Publisher
}

var ErrQueueFull = errors.New("email queue full")

func (q *Queue) SendEmail(_ context.Context, to, template string, data map[string]any) error {
	if !Known(template) {
		return fmt.Errorf("unknown email template %q", template)
	}
	job := Job{ID: uuid.NewString(), To: to, Template: template, Data: data, QueuedAt: time.Now().UTC()}
	if !q.Producer.Publish([]byte(to), kafkax.MustMarshal(job), kafkax.EventHeaders(EventEmailQueued, 1)...) {
		return ErrQueueFull
	}
	return nil
}

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Direct renders and sends inline. It serves runs without a broker.
type Direct struct {
	Sender Sender
}

func (d *Direct) SendEmail(ctx context.Context, to, template string, data map[string]any) error {
	subject, body, err := Render(template, data)
	if err != nil {
		return err
	}
	return d.Sender.Send(ctx, to, subject, body)
}

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Handler consumes queued jobs. A job id is delivered at most once per
// dedup window; a failed send clears the mark so the consumer's next
// attempt can send it.
type Handler struct {
	Sender Sender
	Dedup  Deduper
}

func (h *Handler) HandleMessage(ctx context.Context, m kafka.Message) error {
	var job Job
	if err := json.Unmarshal(m.Value, &job); err != nil {
		log.Printf("mailer: drop undecodable message offset=%d: %v", m.Offset, err)
		return nil
	}
	subject, body, err := Render(job.Template, job.Data)
	if err != nil {
		log.Printf("mailer: drop job=%s: %v", job.ID, err)
		return nil
	}

	if h.Dedup != nil {
		first, err := h.Dedup.FirstSeen(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("dedup job %s: %w", job.ID, err)
		}
		if !first {
			return nil
		}
	}

	if err := h.Sender.Send(ctx, job.To, subject, body); err != nil {
		if h.Dedup != nil {
			if ferr := h.Dedup.Forget(ctx, job.ID); ferr != nil {
				log.Printf("mailer: forget job=%s: %v", job.ID, ferr)
			}
		}
		return fmt.Errorf("send job %s: %w", job.ID, err)
	}
	log.Printf("mailer: sent template=%s job=%s", job.Template, job.ID)
	return nil
}
