// Package apperr classifies the errors returned by the order and funds
// services so transports can map them to a stable kind and status code.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrStateConflict     = errors.New("state conflict")
	ErrOTPExpired        = errors.New("otp expired")
	ErrOTPInvalid        = errors.New("otp invalid")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRateLimited       = errors.New("rate limited")
)

// Error is a classified error with a user-facing message.
// Details carries structured context such as balance/required amounts.
type Error struct {
	kind    error
	Message string
	Details map[string]any
}

func (e *Error) Error() string { return e.Message }

// Unwrap lets errors.Is match the sentinel kind.
func (e *Error) Unwrap() error { return e.kind }

func newf(kind error, format string, args ...any) *Error {
	return &Error{kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error { return newf(ErrValidation, format, args...) }
func Forbidden(format string, args ...any) error  { return newf(ErrForbidden, format, args...) }
func NotFound(format string, args ...any) error   { return newf(ErrNotFound, format, args...) }
func Conflict(format string, args ...any) error   { return newf(ErrStateConflict, format, args...) }
func OTPExpired(format string, args ...any) error { return newf(ErrOTPExpired, format, args...) }
func OTPInvalid(format string, args ...any) error { return newf(ErrOTPInvalid, format, args...) }

func RateLimited(format string, args ...any) error { return newf(ErrRateLimited, format, args...) }

// InsufficientFunds reports the current balance and the amount needed so
// clients can drive a top-up flow.
func InsufficientFunds(balance, required int64) error {
	e := newf(ErrInsufficientFunds, "insufficient balance: have %d, need %d", balance, required)
	e.Details = map[string]any{"balance": balance, "required": required}
	return e
}

// DetailsOf returns the structured details attached to err, if any.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrValidation):
		return "validation"

	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"

	case errors.Is(err, ErrForbidden):
		return "forbidden"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrStateConflict):
		return "state_conflict"

	case errors.Is(err, ErrOTPExpired):
		return "otp_expired"

	case errors.Is(err, ErrOTPInvalid):
		return "otp_invalid"

	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"

	case errors.Is(err, ErrRateLimited):
		return "rate_limited"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

var kindToStatus = map[string]int{
	"":                   http.StatusOK,
	"validation":         http.StatusBadRequest,
	"unauthorized":       http.StatusUnauthorized,
	"forbidden":          http.StatusForbidden,
	"not_found":          http.StatusNotFound,
	"state_conflict":     http.StatusConflict,
	"otp_expired":        http.StatusGone,
	"otp_invalid":        http.StatusUnprocessableEntity,
	"insufficient_funds": http.StatusPaymentRequired,
	"rate_limited":       http.StatusTooManyRequests,
	"timeout":            http.StatusGatewayTimeout,
	"canceled":           http.StatusRequestTimeout,
}

func HTTPStatus(err error) int {
	if s, ok := kindToStatus[Kind(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Message returns the user-facing text for err. Unclassified errors are
// reported generically so store internals never leak to clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if Kind(err) == "internal" {
		return "internal error"
	}
	return err.Error()
}
