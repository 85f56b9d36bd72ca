package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SparingSoftware/getpaid-go/internal/broker"
	"github.com/SparingSoftware/getpaid-go/internal/domain"
	"github.com/SparingSoftware/getpaid-go/internal/event"
	"github.com/SparingSoftware/getpaid-go/internal/repository"
	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
)

// PaymentService implements the business logic for the payment lifecycle.
// All status changes run inside repository.WithPayment so concurrent
// initiations, callbacks, and poller sweeps serialize per payment.
type PaymentService struct {
	repo     repository.PaymentRepository
	registry *broker.Registry
	producer *event.Producer
	logger   *slog.Logger
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	repo repository.PaymentRepository,
	registry *broker.Registry,
	producer *event.Producer,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		repo:     repo,
		registry: registry,
		producer: producer,
		logger:   logger,
	}
}

// CreatePaymentInput holds the parameters for creating a payment.
type CreatePaymentInput struct {
	BrokerID    string `json:"broker_id" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Description string `json:"description" validate:"max=500"`
}

// RefundPaymentInput holds the parameters for refunding a payment.
type RefundPaymentInput struct {
	Amount string `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

// InitiateResult is returned after a broker accepts a payment.
type InitiateResult struct {
	Payment     *domain.Payment `json:"payment"`
	RedirectURL string          `json:"redirect_url,omitempty"`
}

// CreatePayment creates a new payment record in the "new" status. No broker
// call happens here; the payment stays local until Initiate.
func (s *PaymentService) CreatePayment(ctx context.Context, input *CreatePaymentInput) (*domain.Payment, error) {
	if _, err := s.registry.Lookup(input.BrokerID); err != nil {
		return nil, err
	}

	amount, err := domain.ParseMoney(input.Amount, input.Currency)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, apperrors.InvalidAmount("amount must be greater than zero")
	}

	now := time.Now().UTC()
	payment := domain.NewPayment(uuid.New().String(), input.BrokerID, amount, input.Description, now)

	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	s.logger.InfoContext(ctx, "payment created",
		slog.String("payment_id", payment.ID),
		slog.String("broker_id", payment.BrokerID),
		slog.String("amount", payment.Amount.String()),
	)

	return payment, nil
}

// InitiatePayment registers the payment with its broker. On acceptance the
// broker-side reference is stored and the payment moves to prepared. A
// terminal broker rejection moves it to failed; a transient broker outage
// leaves it in "new" so the caller can retry. The whole step, broker call
// included, runs under the payment's row lock so concurrent initiations
// cannot both register the payment broker-side.
func (s *PaymentService) InitiatePayment(ctx context.Context, paymentID string) (*InitiateResult, error) {
	var (
		updated   *domain.Payment
		res       *broker.InitiateResult
		brokerErr error
	)
	err := s.repo.WithPayment(ctx, paymentID, func(ctx context.Context, p *domain.Payment) error {
		if p.Status != domain.PaymentStatusNew {
			return apperrors.InvalidTransition(p.Status, string(domain.EventInitiate))
		}

		b, err := s.registry.Lookup(p.BrokerID)
		if err != nil {
			return err
		}

		res, brokerErr = b.Initiate(ctx, p)
		if brokerErr != nil {
			if !errors.Is(brokerErr, apperrors.ErrBrokerRejected) {
				// Transient failure: state untouched, the caller retries.
				return brokerErr
			}
			if err := p.Apply(domain.EventInitiateFailed, brokerErr.Error(), time.Now().UTC()); err != nil {
				return err
			}
			updated = p
			return nil
		}

		if err := p.SetExternalReference(res.ExternalReference); err != nil {
			return err
		}
		if err := p.Apply(domain.EventInitiate, "", time.Now().UTC()); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("payment", paymentID)
		}
		return nil, err
	}

	if brokerErr != nil {
		paymentTransitionsTotal.WithLabelValues(string(domain.EventInitiateFailed), updated.Status).Inc()
		if s.producer != nil {
			if pubErr := s.producer.PublishPaymentFailed(ctx, updated); pubErr != nil {
				s.logger.ErrorContext(ctx, "publish payment.failed event", slog.String("error", pubErr.Error()))
			}
		}
		return nil, brokerErr
	}

	paymentTransitionsTotal.WithLabelValues(string(domain.EventInitiate), updated.Status).Inc()
	s.logger.InfoContext(ctx, "payment initiated",
		slog.String("payment_id", updated.ID),
		slog.String("broker_id", updated.BrokerID),
		slog.String("external_reference", updated.ExternalReference),
	)

	return &InitiateResult{Payment: updated, RedirectURL: res.RedirectURL}, nil
}

// CancelPayment cancels a payment that has not reached the broker-confirmed
// phase. Allowed in "new" and "prepared" only.
func (s *PaymentService) CancelPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var canceled *domain.Payment
	err := s.repo.WithPayment(ctx, paymentID, func(ctx context.Context, p *domain.Payment) error {
		if err := p.Apply(domain.EventCancel, "canceled by caller", time.Now().UTC()); err != nil {
			return err
		}
		canceled = p
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("payment", paymentID)
		}
		return nil, err
	}

	paymentTransitionsTotal.WithLabelValues(string(domain.EventCancel), canceled.Status).Inc()
	s.logger.InfoContext(ctx, "payment canceled", slog.String("payment_id", canceled.ID))

	if s.producer != nil {
		if pubErr := s.producer.PublishPaymentCanceled(ctx, canceled); pubErr != nil {
			s.logger.ErrorContext(ctx, "publish payment.canceled event", slog.String("error", pubErr.Error()))
		}
	}

	return canceled, nil
}

// GetPayment retrieves a payment by ID, transition log included.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("payment", paymentID)
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}

// ListPayments returns payments filtered by optional status, with pagination.
func (s *PaymentService) ListPayments(ctx context.Context, status string, offset, limit int) ([]domain.Payment, int, error) {
	if status != "" && !domain.IsValidPaymentStatus(status) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid status filter %q", status))
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, status, offset, limit)
}

// ListBrokers returns descriptors for all registered brokers.
func (s *PaymentService) ListBrokers() []broker.Descriptor {
	return s.registry.List()
}

// ListRefunds returns all refund attempts recorded for a payment.
func (s *PaymentService) ListRefunds(ctx context.Context, paymentID string) ([]domain.Refund, error) {
	if _, err := s.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.repo.ListRefundsByPaymentID(ctx, paymentID)
}

// RefundPayment refunds part or all of a paid payment through its broker.
// Validation and the pending refund row are committed under the payment's
// row lock before the broker call; pending rows count against the refundable
// remainder, so two concurrent requests cannot both send the broker amounts
// that only fit once. The payment record only changes after the broker
// accepts. A rejected refund leaves the payment untouched and the refund row
// marked rejected.
func (s *PaymentService) RefundPayment(ctx context.Context, paymentID string, input *RefundPaymentInput) (*domain.Refund, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	b, err := s.registry.Lookup(payment.BrokerID)
	if err != nil {
		return nil, err
	}
	if !broker.HasCapability(b, broker.CapabilityRefund) {
		return nil, apperrors.RefundNotSupported(b.ID(), "refunds are not available")
	}

	// Refund currency always follows the payment currency.
	amount, err := domain.ParseMoney(input.Amount, payment.Amount.Currency)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, apperrors.InvalidRefundAmount("refund amount must be greater than zero")
	}

	now := time.Now().UTC()
	refund := domain.NewRefund(uuid.New().String(), paymentID, amount, input.Reason, now)
	err = s.repo.WithPayment(ctx, paymentID, func(ctx context.Context, p *domain.Payment) error {
		if !p.Refundable() {
			return apperrors.InvalidTransition(p.Status, string(domain.EventRefund))
		}

		remaining, err := p.RemainingRefundable()
		if err != nil {
			return err
		}
		pending, err := s.pendingRefundTotal(ctx, p)
		if err != nil {
			return err
		}
		available, err := remaining.Sub(pending)
		if err != nil {
			return err
		}
		if cmp, err := amount.Cmp(available); err != nil {
			return err
		} else if cmp > 0 {
			return apperrors.InvalidRefundAmount(fmt.Sprintf(
				"refund of %s exceeds refundable remainder %s", amount, available,
			))
		}
		if !amount.Equal(remaining) && !broker.HasCapability(b, broker.CapabilityPartialRefund) {
			return apperrors.RefundNotSupported(b.ID(), "partial refunds are not available")
		}

		if err := s.repo.CreateRefund(ctx, refund); err != nil {
			return fmt.Errorf("create refund: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("payment", paymentID)
		}
		return nil, err
	}

	res, err := b.Refund(ctx, payment, amount)
	if err != nil {
		if errors.Is(err, apperrors.ErrRefundRejected) || errors.Is(err, apperrors.ErrBrokerRejected) {
			refund.Status = domain.RefundStatusRejected
			refund.Reason = err.Error()
			if updErr := s.repo.UpdateRefund(ctx, refund); updErr != nil {
				s.logger.ErrorContext(ctx, "mark refund rejected", slog.String("error", updErr.Error()))
			}
		}
		// Transient outages leave the row pending for a manual retry.
		return nil, err
	}

	var refunded *domain.Payment
	err = s.repo.WithPayment(ctx, payment.ID, func(ctx context.Context, p *domain.Payment) error {
		if err := p.RecordRefund(amount, time.Now().UTC()); err != nil {
			return err
		}
		refunded = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	refund.Status = domain.RefundStatusSucceeded
	refund.ExternalRefundID = res.ExternalRefundID
	if err := s.repo.UpdateRefund(ctx, refund); err != nil {
		return nil, fmt.Errorf("mark refund succeeded: %w", err)
	}

	paymentTransitionsTotal.WithLabelValues(string(domain.EventRefund), refunded.Status).Inc()
	s.logger.InfoContext(ctx, "payment refunded",
		slog.String("payment_id", refunded.ID),
		slog.String("refund_id", refund.ID),
		slog.String("amount", amount.String()),
		slog.String("status", refunded.Status),
	)

	if s.producer != nil {
		if pubErr := s.producer.PublishPaymentRefunded(ctx, refunded, refund); pubErr != nil {
			s.logger.ErrorContext(ctx, "publish payment.refunded event", slog.String("error", pubErr.Error()))
		}
	}

	return refund, nil
}

// pendingRefundTotal sums refund rows that were reserved but have no broker
// outcome yet. Called with the payment's row lock held.
func (s *PaymentService) pendingRefundTotal(ctx context.Context, p *domain.Payment) (domain.Money, error) {
	refunds, err := s.repo.ListRefundsByPaymentID(ctx, p.ID)
	if err != nil {
		return domain.Money{}, fmt.Errorf("list refunds for reservation check: %w", err)
	}

	total := domain.Zero(p.Amount.Currency)
	for _, ref := range refunds {
		if ref.Status != domain.RefundStatusPending {
			continue
		}
		total, err = total.Add(ref.Amount)
		if err != nil {
			return domain.Money{}, err
		}
	}
	return total, nil
}
