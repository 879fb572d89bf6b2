package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/google/uuid"
)

const (
	Day           = 24 * time.Hour
	PaymentWindow = 7 * Day

	MaxExtensionDays = 30
	MaxReasonLen     = 1000

	systemActor = "system"
)

// StatusCache mirrors the latest committed status for fast reads.
type StatusCache interface {
	SetStatus(ctx context.Context, o *Order)
}

// Service is the order state machine. Every mutation locks the order row,
// checks the caller's party and the expected pre-state, then writes with a
// status+version guard, so of two racing transitions exactly one commits.
type Service struct {
	Store    Store
	Notifier Notifier
	Cache    StatusCache
	Clock    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) CreateFromGig(ctx context.Context, buyerID, gigID, tierID string) (*Order, error) {
	if buyerID == "" || gigID == "" {
		return nil, apperr.Validation("buyer and gig are required")
	}
	now := s.now()

	var out *Order
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		gig, err := tx.GetGig(ctx, gigID)
		if err != nil {
			return err
		}
		if gig.SellerID == buyerID {
			return apperr.Forbidden("you cannot purchase your own gig")
		}

		price, days := gig.Price, gig.DeliveryDays
		if tierID != "" {
			tier, ok := findTier(gig, tierID)
			if !ok {
				return apperr.NotFound("price tier %s not found", tierID)
			}
			price, days = tier.Price, tier.DeliveryDays
		}
		if price <= 0 || days < 1 {
			return apperr.Validation("gig has no valid price or delivery time")
		}

		busy, err := tx.HasInFlightOrder(ctx, InFlightQuery{BuyerID: buyerID, GigID: gigID})
		if err != nil {
			return err
		}
		if busy {
			return apperr.Conflict("you already have an active order for this gig")
		}

		conv, err := tx.UpsertConversation(ctx, buyerID, gig.SellerID)
		if err != nil {
			return err
		}

		o := &Order{
			ID:             uuid.NewString(),
			BuyerID:        buyerID,
			SellerID:       gig.SellerID,
			GigID:          gig.ID,
			ConversationID: conv,
			Title:          gig.Title,
			Description:    gig.Description,
			Price:          price,
			DeliveryDays:   days,
			Status:         StatusPending,
			PaymentStatus:  PaymentPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache(ctx, out)
	s.notify(ctx, out.SellerID, EventOrderCreated, orderPayload(out, buyerID, ""))
	return out, nil
}

func findTier(g *Gig, id string) (GigTier, bool) {
	for _, t := range g.Tiers {
		if t.ID == id {
			return t, true
		}
	}
	return GigTier{}, false
}

// CreateFromProposal hires the proposal's freelancer. The terms were
// already negotiated, so the order starts activated with a payment window.
func (s *Service) CreateFromProposal(ctx context.Context, buyerID, proposalID string) (*Order, error) {
	if buyerID == "" || proposalID == "" {
		return nil, apperr.Validation("buyer and proposal are required")
	}
	now := s.now()

	var out *Order
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.LockProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		job, err := tx.LockJob(ctx, p.JobID)
		if err != nil {
			return err
		}
		if job.PostedBy != buyerID {
			return apperr.Forbidden("only the job owner can accept its proposals")
		}
		if p.FreelancerID == buyerID {
			return apperr.Forbidden("you cannot hire yourself")
		}

		busy, err := tx.HasInFlightOrder(ctx, InFlightQuery{BuyerID: buyerID, SellerID: p.FreelancerID, JobID: job.ID})
		if err != nil {
			return err
		}
		if busy {
			return apperr.Conflict("an order for this job and freelancer already exists")
		}
		if p.Status != "pending" {
			return apperr.Conflict("proposal is already %s", p.Status)
		}
		if job.Status != JobOpen {
			return apperr.Conflict("job is %s", job.Status)
		}
		if p.BidAmount <= 0 || p.DeliveryDays < 1 {
			return apperr.Validation("proposal has no valid bid or delivery time")
		}

		conv, err := tx.UpsertConversation(ctx, buyerID, p.FreelancerID)
		if err != nil {
			return err
		}

		o := &Order{
			ID:              uuid.NewString(),
			BuyerID:         buyerID,
			SellerID:        p.FreelancerID,
			JobID:           job.ID,
			ProposalID:      p.ID,
			ConversationID:  conv,
			Title:           job.Title,
			Description:     job.Description,
			Price:           p.BidAmount,
			DeliveryDays:    p.DeliveryDays,
			Status:          StatusActivated,
			PaymentStatus:   PaymentPending,
			ActivatedAt:     timePtr(now),
			PaymentDeadline: timePtr(now.Add(PaymentWindow)),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.SetProposalStatus(ctx, p.ID, "accepted"); err != nil {
			return err
		}
		job.Status = JobInProgress
		job.HiredFreelancer = p.FreelancerID
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache(ctx, out)
	s.notify(ctx, out.SellerID, EventOrderCreated, orderPayload(out, buyerID, ""))
	return out, nil
}

func (s *Service) AcceptOrder(ctx context.Context, sellerID, orderID string) (*Order, error) {
	now := s.now()
	o, err := s.transition(ctx, orderID, func(_ Tx, o *Order) error {
		if err := requireParty(o, sellerID, PartySeller); err != nil {
			return err
		}
		if err := requireStatus(o, StatusPending); err != nil {
			return err
		}
		o.Status = StatusActivated
		o.ActivatedAt = timePtr(now)
		o.PaymentDeadline = timePtr(now.Add(PaymentWindow))
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := orderPayload(o, sellerID, "")
	p.Deadline = o.PaymentDeadline
	s.notify(ctx, o.BuyerID, EventOrderAccepted, p)
	return o, nil
}

func (s *Service) RejectOrder(ctx context.Context, sellerID, orderID, reason string) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "rejected by seller"
	}
	now := s.now()
	o, err := s.transition(ctx, orderID, func(tx Tx, o *Order) error {
		if err := requireParty(o, sellerID, PartySeller); err != nil {
			return err
		}
		if err := requireStatus(o, StatusPending); err != nil {
			return err
		}
		return s.cancelLocked(ctx, tx, o, sellerID, reason, now)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, o.BuyerID, EventOrderRejected, orderPayload(o, sellerID, reason))
	return o, nil
}

// CheckPayable reports whether buyerID may pay for o at now.
func CheckPayable(o *Order, buyerID string, now time.Time) error {
	if err := requireParty(o, buyerID, PartyBuyer); err != nil {
		return err
	}
	if err := requireStatus(o, StatusActivated); err != nil {
		return err
	}
	if o.PaymentStatus != PaymentPending {
		return apperr.Conflict("order payment is already %s", o.PaymentStatus)
	}
	if o.PaymentDeadline != nil && now.After(*o.PaymentDeadline) {
		return apperr.Conflict("payment deadline has passed")
	}
	return nil
}

// markPaid freezes the commission split and starts the delivery clock.
func markPaid(o *Order, now time.Time) {
	o.TotalAmount = o.Price
	o.Commission, o.SellerAmount = Split(o.Price)
	o.PaymentStatus = PaymentCompleted
	o.PaymentCompletedAt = timePtr(now)
	o.StartDate = timePtr(now)
	o.DueDate = timePtr(now.Add(time.Duration(o.DeliveryDays) * Day))
	o.Status = StatusInProgress
}

// ApplyPayment is the order side of a verified payment. It runs inside the
// caller's transaction so the wallet debit, the intent flip and the order
// transition commit together. Nothing is written unless every check and
// the debit succeed.
func (s *Service) ApplyPayment(ctx context.Context, tx Tx, buyerID, orderID string, amount int64, now time.Time) (*Order, int64, error) {
	o, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return nil, 0, err
	}
	if err := CheckPayable(o, buyerID, now); err != nil {
		return nil, 0, err
	}
	if amount != o.Price {
		return nil, 0, apperr.Conflict("payment amount %d does not match order price %d", amount, o.Price)
	}
	balance, err := tx.Debit(ctx, buyerID, o.Price)
	if err != nil {
		return nil, 0, err
	}
	markPaid(o, now)
	o.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, o, StatusActivated); err != nil {
		return nil, 0, err
	}
	return o, balance, nil
}

// PaymentCommitted publishes a payment that ApplyPayment made durable.
func (s *Service) PaymentCommitted(ctx context.Context, o *Order) {
	s.cache(ctx, o)
	p := orderPayload(o, o.BuyerID, "")
	p.Amount = o.TotalAmount
	p.Deadline = o.DueDate
	s.notifyBoth(ctx, o, EventPaymentCompleted, p)
}

type DeliveryInput struct {
	Description string   `json:"description"`
	Notes       string   `json:"notes"`
	Link        string   `json:"link"`
	Files       []string `json:"files"`
}

func (s *Service) DeliverOrder(ctx context.Context, sellerID, orderID string, in DeliveryInput) (*Order, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, apperr.Validation("delivery description is required")
	}
	now := s.now()
	o, err := s.transition(ctx, orderID, func(_ Tx, o *Order) error {
		if err := requireParty(o, sellerID, PartySeller); err != nil {
			return err
		}
		if err := requireStatus(o, StatusInProgress); err != nil {
			return err
		}
		if o.PaymentStatus != PaymentCompleted {
			return apperr.Conflict("order has not been paid")
		}
		o.Delivery = &Delivery{
			Description: strings.TrimSpace(in.Description),
			Notes:       in.Notes,
			Link:        in.Link,
			Files:       append([]string(nil), in.Files...),
			DeliveredAt: now,
		}
		o.Status = StatusDelivered
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, o.BuyerID, EventOrderDelivered, orderPayload(o, sellerID, ""))
	return o, nil
}

func (s *Service) AcceptDelivery(ctx context.Context, buyerID, orderID string) (*Order, error) {
	now := s.now()
	o, err := s.transition(ctx, orderID, func(_ Tx, o *Order) error {
		if err := requireParty(o, buyerID, PartyBuyer); err != nil {
			return err
		}
		if err := requireStatus(o, StatusDelivered); err != nil {
			return err
		}
		if o.Delivery == nil {
			return apperr.Conflict("order has no delivery")
		}
		if o.Delivery.Status == DeliveryAccepted {
			return apperr.Conflict("delivery already accepted")
		}
		o.Delivery.Status = DeliveryAccepted
		o.Delivery.AcceptedAt = timePtr(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, o.SellerID, EventDeliveryAccepted, orderPayload(o, buyerID, ""))
	return o, nil
}

func (s *Service) RejectDelivery(ctx context.Context, buyerID, orderID, reason string, redeliveryDays int) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if err := validateReason(reason); err != nil {
		return nil, err
	}
	if err := validateDays(redeliveryDays); err != nil {
		return nil, err
	}
	now := s.now()
	o, err := s.transition(ctx, orderID, func(_ Tx, o *Order) error {
		if err := requireParty(o, buyerID, PartyBuyer); err != nil {
			return err
		}
		if err := requireStatus(o, StatusDelivered); err != nil {
			return err
		}
		if o.Delivery == nil {
			return apperr.Conflict("order has no delivery")
		}
		if o.Delivery.Status == DeliveryAccepted {
			return apperr.Conflict("delivery already accepted")
		}
		o.Delivery.Status = DeliveryRejected
		o.Delivery.RejectionReason = reason
		o.Delivery.RedeliveryDeadline = timePtr(now.Add(time.Duration(redeliveryDays) * Day))
		o.Status = StatusInProgress
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := orderPayload(o, buyerID, reason)
	p.Deadline = o.Delivery.RedeliveryDeadline
	s.notify(ctx, o.SellerID, EventDeliveryRejected, p)
	return o, nil
}

// UpdateStatus is the generic transition for starting work
// (activated -> in_progress) and completing an order. Completion is
// seller-only and releases the held seller share.
func (s *Service) UpdateStatus(ctx context.Context, callerID, orderID string, target Status) (*Order, error) {
	if target != StatusInProgress && target != StatusCompleted {
		return nil, apperr.Validation("unsupported target status %q", target)
	}
	now := s.now()
	o, err := s.transition(ctx, orderID, func(tx Tx, o *Order) error {
		if _, ok := o.PartyOf(callerID); !ok {
			return apperr.Forbidden("you are not a party to this order")
		}
		switch target {
		case StatusInProgress:
			if err := requireStatus(o, StatusActivated); err != nil {
				return err
			}
			o.Status = StatusInProgress
			if o.StartDate == nil {
				o.StartDate = timePtr(now)
			}
			return nil
		default:
			return s.completeLocked(ctx, tx, o, callerID, now)
		}
	})
	if err != nil {
		return nil, err
	}

	if o.Status == StatusCompleted {
		p := orderPayload(o, callerID, "")
		p.Amount = o.SellerAmount
		s.notifyBoth(ctx, o, EventOrderCompleted, p)
	} else {
		s.notifyBoth(ctx, o, EventOrderStarted, orderPayload(o, callerID, ""))
	}
	return o, nil
}

func (s *Service) completeLocked(ctx context.Context, tx Tx, o *Order, callerID string, now time.Time) error {
	if err := requireParty(o, callerID, PartySeller); err != nil {
		return err
	}
	switch {
	case o.Status == StatusInProgress:
	case o.Status == StatusDelivered && o.Delivery != nil && o.Delivery.Status == DeliveryAccepted:
	case o.Status == StatusDelivered:
		return apperr.Conflict("delivery has not been accepted by the buyer")
	default:
		return apperr.Conflict("order is %s, expected %s", o.Status, StatusInProgress)
	}
	if o.PaymentStatus != PaymentCompleted {
		return apperr.Conflict("order has not been paid")
	}

	o.Status = StatusCompleted
	o.CompletionDate = timePtr(now)

	if err := tx.LockUsers(ctx, o.BuyerID, o.SellerID); err != nil {
		return err
	}
	if _, err := tx.Credit(ctx, o.SellerID, o.SellerAmount); err != nil {
		return fmt.Errorf("release seller amount: %w", err)
	}
	if err := tx.AddCounters(ctx, o.BuyerID, Counters{CompletedOrders: 1}); err != nil {
		return err
	}
	return tx.AddCounters(ctx, o.SellerID, Counters{CompletedOrders: 1, Earnings: o.SellerAmount})
}

func (s *Service) CancelOrder(ctx context.Context, callerID, orderID, reason string) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > MaxReasonLen {
		return nil, apperr.Validation("reason must be at most %d characters", MaxReasonLen)
	}
	now := s.now()
	var actor Party
	o, err := s.transition(ctx, orderID, func(tx Tx, o *Order) error {
		p, ok := o.PartyOf(callerID)
		if !ok {
			return apperr.Forbidden("you are not a party to this order")
		}
		actor = p
		if o.Status == StatusCompleted {
			return apperr.Conflict("completed orders cannot be cancelled")
		}
		if err := requireStatus(o, StatusPending, StatusActivated, StatusInProgress, StatusDelivered); err != nil {
			return err
		}
		return s.cancelLocked(ctx, tx, o, callerID, reason, now)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, o.UserFor(actor.Other()), EventOrderCancelled, orderPayload(o, callerID, reason))
	return o, nil
}

// ExpirePayment cancels an activated order whose payment deadline has
// lapsed. It is the only transition the sweeper uses; the status guard
// makes a repeat call a state conflict rather than a second cancellation.
func (s *Service) ExpirePayment(ctx context.Context, orderID string) (*Order, error) {
	now := s.now()
	return s.transition(ctx, orderID, func(tx Tx, o *Order) error {
		if err := requireStatus(o, StatusActivated); err != nil {
			return err
		}
		if o.PaymentDeadline == nil || !o.PaymentDeadline.Before(now) {
			return apperr.Conflict("payment deadline has not passed")
		}
		return s.cancelLocked(ctx, tx, o, systemActor, "payment deadline expired", now)
	})
}

// cancelLocked moves o to cancelled and applies the side effects that must
// commit with it: refund of a completed payment, job release and counters.
func (s *Service) cancelLocked(ctx context.Context, tx Tx, o *Order, actor, reason string, now time.Time) error {
	o.Status = StatusCancelled
	o.CancelledAt = timePtr(now)
	o.CancelledBy = actor
	o.CancellationReason = reason

	if err := tx.LockUsers(ctx, o.BuyerID, o.SellerID); err != nil {
		return err
	}
	if o.PaymentStatus == PaymentCompleted {
		if _, err := tx.Credit(ctx, o.BuyerID, o.TotalAmount); err != nil {
			return fmt.Errorf("refund buyer: %w", err)
		}
		o.PaymentStatus = PaymentRefunded
	}

	if o.JobID != "" {
		job, err := tx.LockJob(ctx, o.JobID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
		case err != nil:
			return err
		case job.HiredFreelancer == o.SellerID:
			job.Status = JobOpen
			job.HiredFreelancer = ""
			if err := tx.UpdateJob(ctx, job); err != nil {
				return err
			}
		}
	}

	if err := tx.AddCounters(ctx, o.BuyerID, Counters{CancelledOrders: 1}); err != nil {
		return err
	}
	return tx.AddCounters(ctx, o.SellerID, Counters{CancelledOrders: 1})
}

func (s *Service) RequestExtension(ctx context.Context, callerID, orderID, reason string, days int) (*Order, *ExtensionRequest, error) {
	reason = strings.TrimSpace(reason)
	if err := validateReason(reason); err != nil {
		return nil, nil, err
	}
	if err := validateDays(days); err != nil {
		return nil, nil, err
	}
	now := s.now()
	var (
		ext   ExtensionRequest
		party Party
	)
	o, err := s.transition(ctx, orderID, func(_ Tx, o *Order) error {
		p, ok := o.PartyOf(callerID)
		if !ok {
			return apperr.Forbidden("you are not a party to this order")
		}
		party = p
		if err := requireStatus(o, StatusActivated, StatusInProgress); err != nil {
			return err
		}
		if o.pendingExtension() != nil {
			return apperr.Conflict("an extension request is already pending")
		}
		ext = ExtensionRequest{
			ID:          uuid.NewString(),
			RequestedBy: p,
			Reason:      reason,
			Days:        days,
			Status:      ExtensionPending,
			CreatedAt:   now,
		}
		o.Extensions = append(o.Extensions, ext)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.notify(ctx, o.UserFor(party.Other()), EventExtensionRequested, ExtensionEventPayload{
		OrderID:     o.ID,
		ExtensionID: ext.ID,
		RequestedBy: ext.RequestedBy,
		Days:        ext.Days,
		Status:      ext.Status,
		Reason:      ext.Reason,
	})
	return o, &ext, nil
}

// RespondToExtension lets the counter-party approve or reject a pending
// request. Approval moves the payment deadline while activated and the due
// date while in progress.
func (s *Service) RespondToExtension(ctx context.Context, responderID, orderID, extensionID string, approved bool) (*Order, error) {
	now := s.now()
	var ext ExtensionRequest
	o, err := s.transition(ctx, orderID, func(_ Tx, o *Order) error {
		p, ok := o.PartyOf(responderID)
		if !ok {
			return apperr.Forbidden("you are not a party to this order")
		}
		var x *ExtensionRequest
		for i := range o.Extensions {
			if o.Extensions[i].ID == extensionID {
				x = &o.Extensions[i]
				break
			}
		}
		if x == nil {
			return apperr.NotFound("extension request %s not found", extensionID)
		}
		if x.Status != ExtensionPending {
			return apperr.Conflict("extension request already %s", x.Status)
		}
		if p != x.RequestedBy.Other() {
			return apperr.Forbidden("only the %s can respond to this request", x.RequestedBy.Other())
		}

		if approved {
			d := time.Duration(x.Days) * Day
			switch o.Status {
			case StatusActivated:
				o.PaymentDeadline = timePtr(baseTime(o.PaymentDeadline, now).Add(d))
			case StatusInProgress:
				o.DueDate = timePtr(baseTime(o.DueDate, now).Add(d))
			default:
				return apperr.Conflict("order is %s, deadlines can no longer be extended", o.Status)
			}
			x.Status = ExtensionApproved
		} else {
			x.Status = ExtensionRejected
		}
		x.RespondedBy = responderID
		x.RespondedAt = timePtr(now)
		ext = *x
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, o.UserFor(ext.RequestedBy), EventExtensionResponded, ExtensionEventPayload{
		OrderID:     o.ID,
		ExtensionID: ext.ID,
		RequestedBy: ext.RequestedBy,
		Days:        ext.Days,
		Status:      ext.Status,
	})
	return o, nil
}

// ExtendPaymentDeadline is the seller's shortcut around the two-party flow.
func (s *Service) ExtendPaymentDeadline(ctx context.Context, sellerID, orderID string, days int) (*Order, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}
	now := s.now()
	o, err := s.transition(ctx, orderID, func(_ Tx, o *Order) error {
		if err := requireParty(o, sellerID, PartySeller); err != nil {
			return err
		}
		if err := requireStatus(o, StatusActivated); err != nil {
			return err
		}
		o.PaymentDeadline = timePtr(baseTime(o.PaymentDeadline, now).Add(time.Duration(days) * Day))
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := orderPayload(o, sellerID, "")
	p.Deadline = o.PaymentDeadline
	s.notify(ctx, o.BuyerID, EventPaymentDeadlineMove, p)
	return o, nil
}

func (s *Service) Get(ctx context.Context, callerID, orderID string) (*Order, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, ok := o.PartyOf(callerID); !ok {
		return nil, apperr.Forbidden("you are not a party to this order")
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, callerID string, party Party) ([]Order, error) {
	if party != PartyBuyer && party != PartySeller {
		return nil, apperr.Validation("role must be buyer or seller")
	}
	return s.Store.ListOrders(ctx, callerID, party)
}

// transition locks the order, lets fn mutate it, and writes it back
// guarded on the status fn observed.
func (s *Service) transition(ctx context.Context, orderID string, fn func(tx Tx, o *Order) error) (*Order, error) {
	var out *Order
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		prev := o.Status
		if err := fn(tx, o); err != nil {
			return err
		}
		if o.Status != prev && !CanTransition(prev, o.Status) {
			return apperr.Conflict("order cannot move from %s to %s", prev, o.Status)
		}
		o.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, o, prev); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache(ctx, out)
	return out, nil
}

func requireParty(o *Order, userID string, want Party) error {
	p, ok := o.PartyOf(userID)
	if !ok {
		return apperr.Forbidden("you are not a party to this order")
	}
	if p != want {
		return apperr.Forbidden("only the %s can perform this action", want)
	}
	return nil
}

func requireStatus(o *Order, allowed ...Status) error {
	for _, st := range allowed {
		if o.Status == st {
			return nil
		}
	}
	if len(allowed) == 1 {
		return apperr.Conflict("order is %s, expected %s", o.Status, allowed[0])
	}
	return apperr.Conflict("order is %s", o.Status)
}

func validateReason(reason string) error {
	if reason == "" {
		return apperr.Validation("reason is required")
	}
	if len(reason) > MaxReasonLen {
		return apperr.Validation("reason must be at most %d characters", MaxReasonLen)
	}
	return nil
}

func validateDays(days int) error {
	if days < 1 || days > MaxExtensionDays {
		return apperr.Validation("days must be between 1 and %d", MaxExtensionDays)
	}
	return nil
}

func baseTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

func (s *Service) cache(ctx context.Context, o *Order) {
	if s.Cache != nil && o != nil {
		s.Cache.SetStatus(ctx, o)
	}
}

func (s *Service) notify(ctx context.Context, userID, event string, payload any) {
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, userID, event, payload)
	}
}

func (s *Service) notifyBoth(ctx context.Context, o *Order, event string, payload any) {
	s.notify(ctx, o.BuyerID, event, payload)
	s.notify(ctx, o.SellerID, event, payload)
}

// NotifyExpired tells both parties their order lapsed for non-payment.
func (s *Service) NotifyExpired(ctx context.Context, o *Order) {
	s.notifyBoth(ctx, o, EventOrderExpired, orderPayload(o, systemActor, o.CancellationReason))
}
