// Package sweeper cancels activated orders whose payment deadline lapsed.
//
// The selection itself encodes idempotence: only status=activated rows
// with a past deadline are listed, and each cancellation is the same
// status-guarded transition clients use, so a second pass, a concurrent
// pass or a racing payment can never cancel an order twice.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

const (
	DefaultInterval  = time.Hour
	DefaultBatchSize = 500

	lockKey = "sweep:payment_deadline"
)

// Locker keeps a pass to one process at a time across the cluster.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Deduper reports whether key is seen for the first time.
type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
}

type Sweeper struct {
	Store     orders.Store
	Orders    *orders.Service
	Locker    Locker
	Dedup     Deduper
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
}

type Report struct {
	Skipped   bool     `json:"skipped,omitempty"`
	Scanned   int      `json:"scanned"`
	Cancelled []string `json:"cancelled"`
	Lost      int      `json:"lost"`
	Failed    int      `json:"failed"`
}

func (s *Sweeper) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return DefaultInterval
}

func (s *Sweeper) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval())
	defer t.Stop()

	for {
		rep, err := s.RunOnce(ctx)
		if err != nil {
			log.Printf("sweep error: %v", err)
		} else if !rep.Skipped {
			log.Printf("sweep done: scanned=%d cancelled=%d lost=%d failed=%d",
				rep.Scanned, len(rep.Cancelled), rep.Lost, rep.Failed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RunOnce performs one pass. Per-order failures are logged and counted;
// they never stop the pass.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	rep := Report{Cancelled: []string{}}

	if s.Locker != nil {
		release, ok, err := s.Locker.TryLock(ctx, lockKey, s.interval())
		switch {
		case err != nil:
			// the guarded cancel keeps an unlocked pass safe
			log.Printf("sweep lock unavailable, running unlocked: %v", err)
		case !ok:
			rep.Skipped = true
			return rep, nil
		default:
			defer release()
		}
	}

	limit := s.BatchSize
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	ids, err := s.Store.ListExpiredActivated(ctx, s.now(), limit)
	if err != nil {
		return rep, fmt.Errorf("list expired orders: %w", err)
	}
	rep.Scanned = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		o, err := s.Orders.ExpirePayment(ctx, id)
		switch {
		case err == nil:
			rep.Cancelled = append(rep.Cancelled, id)
			s.notify(ctx, o)
		case errors.Is(err, apperr.ErrStateConflict):
			// paid, extended or cancelled since it was listed
			rep.Lost++
		default:
			rep.Failed++
			log.Printf("sweep order=%s: %v", id, err)
		}
	}
	return rep, nil
}

func (s *Sweeper) notify(ctx context.Context, o *orders.Order) {
	if s.Dedup != nil {
		first, err := s.Dedup.FirstSeen(ctx, "expired:"+o.ID)
		if err != nil {
			log.Printf("sweep dedup order=%s: %v", o.ID, err)
		}
		if err == nil && !first {
			return
		}
	}
	s.Orders.NotifyExpired(ctx, o)
}
