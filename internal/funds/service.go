package funds

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/otp"
	"github.com/ariefcatur/go-marketplace-orders/internal/wallet"
	"github.com/google/uuid"
)

const (
	MinDeposit    = 100
	MaxDeposit    = 100_000
	MinWithdrawal = 100
)

const (
	TemplateOTPDeposit    = "otp_deposit"
	TemplateOTPWithdrawal = "otp_withdrawal"
	TemplateOTPPayment    = "otp_payment"
)

// Emailer is the outbound mail collaborator.
type Emailer interface {
	SendEmail(ctx context.Context, to, template string, data map[string]any) error
}

type Service struct {
	Store    Store
	Orders   *orders.Service
	Gate     otp.Gate
	Emailer  Emailer
	Notifier orders.Notifier
	Clock    func() time.Time
}

// Result is what a successful verify hands back.
type Result struct {
	Intent  *Intent       `json:"intent"`
	Balance int64         `json:"balance"`
	Order   *orders.Order `json:"order,omitempty"`
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) RequestDeposit(ctx context.Context, userID string, amount int64, method Method, details map[string]string) (*Intent, error) {
	if amount < MinDeposit || amount > MaxDeposit {
		return nil, apperr.Validation("deposit amount must be between %d and %d", MinDeposit, MaxDeposit)
	}
	if err := validateMethod(method); err != nil {
		return nil, err
	}
	return s.issue(ctx, &Intent{
		UserID:  userID,
		Kind:    KindDeposit,
		Amount:  amount,
		Method:  method,
		Details: details,
	}, TemplateOTPDeposit, "")
}

func (s *Service) RequestWithdrawal(ctx context.Context, userID string, amount int64, method Method, details map[string]string) (*Intent, error) {
	if amount < MinWithdrawal {
		return nil, apperr.Validation("minimum withdrawal is %d", MinWithdrawal)
	}
	if err := validateMethod(method); err != nil {
		return nil, err
	}
	if err := validatePayoutDetails(method, details); err != nil {
		return nil, err
	}
	w, err := s.Store.Wallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := wallet.CheckFunds(w, amount); err != nil {
		return nil, err
	}
	return s.issue(ctx, &Intent{
		UserID:  userID,
		Kind:    KindWithdrawal,
		Amount:  amount,
		Method:  method,
		Details: details,
	}, TemplateOTPWithdrawal, "")
}

// RequestPayment opens a payment challenge for an activated order. The
// amount is always the order price.
func (s *Service) RequestPayment(ctx context.Context, buyerID, orderID string, method Method, details map[string]string) (*Intent, error) {
	if err := validateMethod(method); err != nil {
		return nil, err
	}
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := orders.CheckPayable(o, buyerID, s.now()); err != nil {
		return nil, err
	}
	w, err := s.Store.Wallet(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if err := wallet.CheckFunds(w, o.Price); err != nil {
		return nil, err
	}
	return s.issue(ctx, &Intent{
		UserID:  buyerID,
		Kind:    KindPayment,
		OrderID: o.ID,
		Amount:  o.Price,
		Method:  method,
		Details: details,
	}, TemplateOTPPayment, o.Title)
}

func (s *Service) issue(ctx context.Context, in *Intent, template, title string) (*Intent, error) {
	now := s.now()
	ch, err := s.Gate.Issue(now)
	if err != nil {
		return nil, err
	}
	in.ID = uuid.NewString()
	in.CodeHash = ch.Hash
	in.ExpiresAt = ch.ExpiresAt
	in.Status = StatusPendingOTP
	in.CreatedAt = now

	err = s.Store.WithFundsTx(ctx, func(tx Tx) error {
		return tx.InsertIntent(ctx, in)
	})
	if err != nil {
		return nil, err
	}

	s.sendCode(ctx, in, ch.Code, template, title)
	return in, nil
}

// sendCode mails the code. Failures are logged; the intent stands.
func (s *Service) sendCode(ctx context.Context, in *Intent, code, template, title string) {
	if s.Emailer == nil {
		return
	}
	c, err := s.Store.Contact(ctx, in.UserID)
	if err != nil || c.Email == "" {
		log.Printf("funds: no contact for user=%s intent=%s: %v", in.UserID, in.ID, err)
		return
	}
	data := map[string]any{
		"name":       c.Name,
		"code":       code,
		"amount":     in.Amount,
		"currency":   wallet.DefaultCurrency,
		"method":     string(in.Method),
		"intent_id":  in.ID,
		"expires_at": in.ExpiresAt.Format(time.RFC3339),
		"minutes":    int(otp.TTL / time.Minute),
	}
	if title != "" {
		data["order_title"] = title
	}
	if err := s.Emailer.SendEmail(ctx, c.Email, template, data); err != nil {
		log.Printf("funds: send %s email intent=%s: %v", template, in.ID, err)
	}
}

func (s *Service) VerifyDeposit(ctx context.Context, userID, intentID, code string) (*Result, error) {
	res, err := s.verify(ctx, userID, intentID, KindDeposit, code, func(tx Tx, in *Intent, _ time.Time) (*Result, error) {
		bal, err := tx.Credit(ctx, in.UserID, in.Amount)
		if err != nil {
			return nil, err
		}
		return &Result{Balance: bal}, nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, userID, orders.EventDepositCompleted, orders.WalletEventPayload{
		IntentID: res.Intent.ID, Amount: res.Intent.Amount, Balance: res.Balance,
	})
	return res, nil
}

func (s *Service) VerifyWithdrawal(ctx context.Context, userID, intentID, code string) (*Result, error) {
	res, err := s.verify(ctx, userID, intentID, KindWithdrawal, code, func(tx Tx, in *Intent, _ time.Time) (*Result, error) {
		bal, err := tx.Withdraw(ctx, in.UserID, in.Amount)
		if err != nil {
			return nil, err
		}
		return &Result{Balance: bal}, nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, userID, orders.EventWithdrawalCompleted, orders.WalletEventPayload{
		IntentID: res.Intent.ID, Amount: res.Intent.Amount, Balance: res.Balance,
	})
	return res, nil
}

// VerifyPayment settles an order. The debit re-checks the balance, and the
// order must still be activated and inside its deadline when the code is
// redeemed; of two racing verifies only one finds it so.
func (s *Service) VerifyPayment(ctx context.Context, buyerID, intentID, code string) (*Result, error) {
	res, err := s.verify(ctx, buyerID, intentID, KindPayment, code, func(tx Tx, in *Intent, now time.Time) (*Result, error) {
		o, bal, err := s.Orders.ApplyPayment(ctx, tx, in.UserID, in.OrderID, in.Amount, now)
		if err != nil {
			return nil, err
		}
		return &Result{Balance: bal, Order: o}, nil
	})
	if err != nil {
		return nil, err
	}
	s.Orders.PaymentCommitted(ctx, res.Order)
	return res, nil
}

type applyFunc func(tx Tx, in *Intent, now time.Time) (*Result, error)

// verify redeems a pending intent. An expired or wrong code resolves the
// intent in the same commit. When the ledger effect itself is refused the
// whole attempt rolls back and the intent is resolved separately, so a
// refused effect never leaves partial writes behind.
func (s *Service) verify(ctx context.Context, userID, intentID string, kind Kind, code string, apply applyFunc) (*Result, error) {
	code = strings.TrimSpace(code)
	now := s.now()

	var (
		res     *Result
		outcome error
	)
	err := s.Store.WithFundsTx(ctx, func(tx Tx) error {
		in, err := tx.LockIntent(ctx, intentID)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.NotFound("%s not found or already processed", kind)
		}
		if err != nil {
			return err
		}
		if in.UserID != userID || in.Kind != kind || in.Status != StatusPendingOTP {
			return apperr.NotFound("%s not found or already processed", kind)
		}

		if otp.Expired(in.ExpiresAt, now) {
			outcome = apperr.OTPExpired("otp has expired, please request a new one")
			return resolve(ctx, tx, in, StatusExpired, "otp expired", now)
		}
		if !otp.Match(in.CodeHash, code) {
			outcome = apperr.OTPInvalid("invalid otp, please request a new one")
			return resolve(ctx, tx, in, StatusFailed, "invalid otp", now)
		}

		r, err := apply(tx, in, now)
		if err != nil {
			return err
		}
		if err := resolve(ctx, tx, in, StatusCompleted, "", now); err != nil {
			return err
		}
		r.Intent = in
		res = r
		return nil
	})
	if err != nil {
		if st, reason, ok := refusal(err); ok {
			s.resolveAfterRefusal(ctx, intentID, st, reason, now)
		}
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}
	return res, nil
}

// refusal maps a refused ledger or order effect to the terminal status the
// intent takes.
func refusal(err error) (Status, string, bool) {
	switch {
	case errors.Is(err, apperr.ErrInsufficientFunds):
		return StatusFailed, "insufficient balance", true
	case errors.Is(err, apperr.ErrStateConflict):
		return StatusCancelled, apperr.Message(err), true
	case errors.Is(err, apperr.ErrForbidden):
		return StatusCancelled, apperr.Message(err), true
	}
	return "", "", false
}

func (s *Service) resolveAfterRefusal(ctx context.Context, intentID string, st Status, reason string, now time.Time) {
	err := s.Store.WithFundsTx(ctx, func(tx Tx) error {
		in, err := tx.LockIntent(ctx, intentID)
		if err != nil {
			return err
		}
		if in.Status != StatusPendingOTP {
			return nil
		}
		return resolve(ctx, tx, in, st, reason, now)
	})
	if err != nil {
		log.Printf("funds: resolve intent=%s status=%s: %v", intentID, st, err)
	}
}

func resolve(ctx context.Context, tx Tx, in *Intent, st Status, reason string, now time.Time) error {
	in.Status = st
	in.FailureReason = reason
	if st == StatusCompleted {
		in.CompletedAt = &now
	}
	return tx.UpdateIntent(ctx, in, StatusPendingOTP)
}

// GetIntent returns one of the caller's own intents.
func (s *Service) GetIntent(ctx context.Context, userID, intentID string) (*Intent, error) {
	in, err := s.Store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if in.UserID != userID {
		return nil, apperr.NotFound("intent %s not found", intentID)
	}
	return in, nil
}

func (s *Service) Wallet(ctx context.Context, userID string) (wallet.Wallet, error) {
	return s.Store.Wallet(ctx, userID)
}

func (s *Service) notify(ctx context.Context, userID, event string, payload any) {
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, userID, event, payload)
	}
}
