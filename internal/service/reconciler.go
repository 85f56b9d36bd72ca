package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/SparingSoftware/getpaid-go/internal/broker"
	"github.com/SparingSoftware/getpaid-go/internal/domain"
	"github.com/SparingSoftware/getpaid-go/internal/event"
	"github.com/SparingSoftware/getpaid-go/internal/repository"
	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
)

// Reconciler applies broker callbacks to payment records. It is the single
// write path for broker-reported outcomes; every delivery is verified,
// deduplicated, and applied under the payment's row lock so redeliveries and
// races cannot corrupt state.
type Reconciler struct {
	repo     repository.PaymentRepository
	registry *broker.Registry
	dedup    DedupStore
	producer *event.Producer
	logger   *slog.Logger
}

// NewReconciler creates a callback reconciler.
func NewReconciler(
	repo repository.PaymentRepository,
	registry *broker.Registry,
	dedup DedupStore,
	producer *event.Producer,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		repo:     repo,
		registry: registry,
		dedup:    dedup,
		producer: producer,
		logger:   logger,
	}
}

// CallbackResult reports what a callback delivery did.
type CallbackResult struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	// Applied is false when the delivery was a duplicate and the record
	// was already in the reported state.
	Applied bool `json:"applied"`
}

// HandleCallback processes one broker notification. Duplicates of an
// already-applied outcome succeed without effect. A callback contradicting a
// different terminal state returns ErrConflictingState and never overwrites
// the record.
func (r *Reconciler) HandleCallback(ctx context.Context, brokerID string, req *http.Request, body []byte) (*CallbackResult, error) {
	b, err := r.registry.Lookup(brokerID)
	if err != nil {
		return nil, err
	}

	callbacksReceivedTotal.WithLabelValues(brokerID).Inc()

	cb, err := b.VerifyCallback(req, body)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidSignature) {
			callbacksInvalidSignatureTotal.WithLabelValues(brokerID).Inc()
		}
		return nil, err
	}

	payment, err := r.repo.GetByExternalReference(ctx, brokerID, cb.ExternalReference)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.PaymentNotFound(cb.ExternalReference)
		}
		return nil, err
	}

	outcome, err := outcomeEvent(cb.Outcome)
	if err != nil {
		return nil, err
	}

	marked := false
	if cb.EventID != "" && r.dedup != nil {
		first, err := r.dedup.MarkSeen(ctx, brokerID, cb.EventID)
		if err != nil {
			// Dedup is an optimization; state checks below still make
			// redelivery safe.
			r.logger.WarnContext(ctx, "callback dedup unavailable",
				slog.String("broker_id", brokerID),
				slog.String("error", err.Error()),
			)
		} else if !first {
			callbacksDuplicateTotal.WithLabelValues(brokerID).Inc()
			r.logger.InfoContext(ctx, "duplicate callback delivery skipped",
				slog.String("broker_id", brokerID),
				slog.String("event_id", cb.EventID),
			)
			return &CallbackResult{PaymentID: payment.ID, Status: payment.Status, Applied: false}, nil
		} else {
			marked = true
		}
	}

	result := &CallbackResult{PaymentID: payment.ID}
	err = r.repo.WithPayment(ctx, payment.ID, func(ctx context.Context, p *domain.Payment) error {
		applied, err := r.apply(p, outcome, cb.Reason)
		if err != nil {
			return err
		}
		result.Applied = applied
		result.Status = p.Status
		return nil
	})
	if err != nil {
		// The delivery did not commit, so the broker's redelivery must not be
		// short-circuited as a duplicate.
		if marked {
			r.forgetDelivery(ctx, brokerID, cb.EventID)
		}
		if errors.Is(err, apperrors.ErrConflictingState) {
			callbacksConflictingTotal.WithLabelValues(brokerID).Inc()
		}
		return nil, err
	}

	if !result.Applied {
		callbacksDuplicateTotal.WithLabelValues(brokerID).Inc()
		r.logger.InfoContext(ctx, "callback already applied",
			slog.String("payment_id", result.PaymentID),
			slog.String("status", result.Status),
		)
		return result, nil
	}

	paymentTransitionsTotal.WithLabelValues(string(outcome), result.Status).Inc()
	r.logger.InfoContext(ctx, "callback applied",
		slog.String("payment_id", result.PaymentID),
		slog.String("broker_id", brokerID),
		slog.String("status", result.Status),
	)

	r.publishOutcome(ctx, outcome, payment.ID)

	return result, nil
}

// apply drives the locked payment to the outcome the broker reported. A
// payment still waiting for the broker's acknowledgment is moved through
// in_progress first, so flows where the outcome callback is the first signal
// we receive still land in the right state with a complete transition log.
func (r *Reconciler) apply(p *domain.Payment, outcome domain.Event, reason string) (bool, error) {
	target := domain.PaymentStatusPaid
	if outcome == domain.EventReject {
		target = domain.PaymentStatusFailed
	}

	if p.Status == target {
		return false, nil
	}
	if domain.IsTerminalStatus(p.Status) || p.Status == domain.PaymentStatusPartiallyRefunded {
		// A confirmed callback for a partially or fully refunded payment is
		// still consistent with it having been paid.
		if outcome == domain.EventConfirm && refundFamily(p.Status) {
			return false, nil
		}
		return false, apperrors.ConflictingState(p.ID, p.Status, target)
	}

	now := time.Now().UTC()
	if p.Status == domain.PaymentStatusPrepared {
		if err := p.Apply(domain.EventBrokerAck, "", now); err != nil {
			return false, err
		}
	}

	if err := p.Apply(outcome, reason, now); err != nil {
		return false, err
	}
	return true, nil
}

// forgetDelivery releases a dedup mark after a failed apply. Best effort: if
// the store is unreachable the key expires with its TTL and the state checks
// still accept the eventual redelivery.
func (r *Reconciler) forgetDelivery(ctx context.Context, brokerID, eventID string) {
	if err := r.dedup.Forget(ctx, brokerID, eventID); err != nil {
		r.logger.WarnContext(ctx, "release callback dedup mark",
			slog.String("broker_id", brokerID),
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}
}

// publishOutcome emits the domain event matching the applied outcome. The
// payment is re-read so the event carries the persisted state.
func (r *Reconciler) publishOutcome(ctx context.Context, outcome domain.Event, paymentID string) {
	if r.producer == nil {
		return
	}

	p, err := r.repo.GetByID(ctx, paymentID)
	if err != nil {
		r.logger.ErrorContext(ctx, "load payment for event publishing",
			slog.String("payment_id", paymentID),
			slog.String("error", err.Error()),
		)
		return
	}

	if outcome == domain.EventConfirm {
		err = r.producer.PublishPaymentConfirmed(ctx, p)
	} else {
		err = r.producer.PublishPaymentFailed(ctx, p)
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "publish payment outcome event",
			slog.String("payment_id", paymentID),
			slog.String("error", err.Error()),
		)
	}
}

func refundFamily(status string) bool {
	return status == domain.PaymentStatusPartiallyRefunded || status == domain.PaymentStatusRefunded
}

func outcomeEvent(o broker.Outcome) (domain.Event, error) {
	switch o {
	case broker.OutcomeConfirmed:
		return domain.EventConfirm, nil
	case broker.OutcomeFailed:
		return domain.EventReject, nil
	default:
		return "", apperrors.InvalidInput("unknown callback outcome")
	}
}
