package repository

import (
	"context"
	"time"

	"github.com/SparingSoftware/getpaid-go/internal/domain"
)

// PaymentRepository defines the interface for payment persistence operations.
type PaymentRepository interface {
	// Create inserts a new payment into the store.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment, transition log included.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// GetByExternalReference resolves a payment by broker identity and the
	// broker-side reference. The pair is unique across the store.
	GetByExternalReference(ctx context.Context, brokerID, externalRef string) (*domain.Payment, error)

	// WithPayment runs fn against the payment under an exclusive row lock.
	// fn receives the freshly loaded record; when it returns nil the
	// record's changed fields and any transitions fn appended are
	// persisted atomically. When fn returns an error nothing is written.
	// Concurrent WithPayment calls for the same payment serialize.
	WithPayment(ctx context.Context, id string, fn func(ctx context.Context, p *domain.Payment) error) error

	// ListInProgressOlderThan returns payments sitting in in_progress whose
	// last update is older than cutoff, oldest first, capped at limit.
	ListInProgressOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Payment, error)

	// List returns payments filtered by optional status, newest first, with
	// pagination. Returns the page, the total count, and any error.
	List(ctx context.Context, status string, offset, limit int) ([]domain.Payment, int, error)

	// CreateRefund inserts a new refund into the store.
	CreateRefund(ctx context.Context, refund *domain.Refund) error

	// GetRefundByID retrieves a refund by its unique identifier.
	GetRefundByID(ctx context.Context, id string) (*domain.Refund, error)

	// ListRefundsByPaymentID returns all refunds for a given payment.
	ListRefundsByPaymentID(ctx context.Context, paymentID string) ([]domain.Refund, error)

	// UpdateRefund modifies an existing refund in the store.
	UpdateRefund(ctx context.Context, refund *domain.Refund) error
}
