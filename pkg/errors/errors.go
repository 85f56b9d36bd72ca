package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the payment lifecycle. Callers branch on these with
// errors.Is; constructors below attach codes and HTTP statuses.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternal           = errors.New("internal error")
	ErrCurrencyMismatch   = errors.New("currency mismatch")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrBrokerUnavailable  = errors.New("broker unavailable")
	ErrBrokerRejected     = errors.New("broker rejected")
	ErrInvalidSignature   = errors.New("invalid callback signature")
	ErrUnknownBroker      = errors.New("unknown broker")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrConflictingState   = errors.New("conflicting payment state")
	ErrInvalidRefund      = errors.New("invalid refund amount")
	ErrRefundNotSupported = errors.New("refund not supported")
	ErrRefundRejected     = errors.New("refund rejected")
)

// AppError is a structured application error carrying a stable machine code,
// a human-readable message, and an HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// CurrencyMismatch creates a 400 error for arithmetic between two different
// currencies.
func CurrencyMismatch(want, got string) *AppError {
	return &AppError{
		Code:    "CURRENCY_MISMATCH",
		Message: fmt.Sprintf("currency mismatch: want %s, got %s", want, got),
		Status:  http.StatusBadRequest,
		Err:     ErrCurrencyMismatch,
	}
}

// InvalidAmount creates a 400 error for a rejected monetary amount.
func InvalidAmount(message string) *AppError {
	return &AppError{
		Code:    "INVALID_AMOUNT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidAmount,
	}
}

// BrokerUnavailable creates a 503 error for a transient broker failure. The
// caller may retry with backoff; payment state is never mutated on this path.
func BrokerUnavailable(broker string, err error) *AppError {
	return &AppError{
		Code:    "BROKER_UNAVAILABLE",
		Message: fmt.Sprintf("broker %s is unavailable", broker),
		Status:  http.StatusServiceUnavailable,
		Err:     fmt.Errorf("%w: %w", ErrBrokerUnavailable, err),
	}
}

// BrokerRejected creates a 422 error for a terminal broker rejection.
func BrokerRejected(broker, reason string) *AppError {
	return &AppError{
		Code:    "BROKER_REJECTED",
		Message: fmt.Sprintf("broker %s rejected the payment: %s", broker, reason),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrBrokerRejected,
	}
}

// InvalidSignature creates a 401 error for a callback that failed broker
// signature verification.
func InvalidSignature(broker string) *AppError {
	return &AppError{
		Code:    "INVALID_SIGNATURE",
		Message: fmt.Sprintf("callback signature verification failed for broker %s", broker),
		Status:  http.StatusUnauthorized,
		Err:     ErrInvalidSignature,
	}
}

// UnknownBroker creates a 404 error for an unregistered broker identifier.
func UnknownBroker(id string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_BROKER",
		Message: fmt.Sprintf("no broker registered with id %q", id),
		Status:  http.StatusNotFound,
		Err:     ErrUnknownBroker,
	}
}

// PaymentNotFound creates a 404 error for a callback whose external reference
// matches no payment record.
func PaymentNotFound(ref string) *AppError {
	return &AppError{
		Code:    "PAYMENT_NOT_FOUND",
		Message: fmt.Sprintf("no payment matches external reference %q", ref),
		Status:  http.StatusNotFound,
		Err:     ErrPaymentNotFound,
	}
}

// InvalidTransition creates a 409 error for a status transition with no
// matching row in the transition table. The record is left untouched.
func InvalidTransition(from, event string) *AppError {
	return &AppError{
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("event %q is not allowed in status %q", event, from),
		Status:  http.StatusConflict,
		Err:     ErrInvalidTransition,
	}
}

// ConflictingState creates a 409 error for a callback that contradicts a
// terminal state already recorded. Never auto-resolved; requires an operator.
func ConflictingState(paymentID, current, claimed string) *AppError {
	return &AppError{
		Code:    "CONFLICTING_STATE",
		Message: fmt.Sprintf("payment %s is %s but broker claims %s", paymentID, current, claimed),
		Status:  http.StatusConflict,
		Err:     ErrConflictingState,
	}
}

// InvalidRefundAmount creates a 400 error for a refund that is non-positive
// or would exceed the refundable remainder.
func InvalidRefundAmount(message string) *AppError {
	return &AppError{
		Code:    "INVALID_REFUND_AMOUNT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidRefund,
	}
}

// RefundNotSupported creates a 422 error for a broker whose capability set
// excludes the requested refund.
func RefundNotSupported(broker, detail string) *AppError {
	return &AppError{
		Code:    "REFUND_NOT_SUPPORTED",
		Message: fmt.Sprintf("broker %s does not support this refund: %s", broker, detail),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrRefundNotSupported,
	}
}

// RefundRejected creates a 422 error for a refund the broker declined. The
// payment record is left unchanged; retry is a manual decision.
func RefundRejected(broker, reason string) *AppError {
	return &AppError{
		Code:    "REFUND_REJECTED",
		Message: fmt.Sprintf("broker %s rejected the refund: %s", broker, reason),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrRefundRejected,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPaymentNotFound), errors.Is(err, ErrUnknownBroker):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrCurrencyMismatch), errors.Is(err, ErrInvalidRefund):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflictingState):
		return http.StatusConflict
	case errors.Is(err, ErrBrokerRejected), errors.Is(err, ErrRefundNotSupported), errors.Is(err, ErrRefundRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
