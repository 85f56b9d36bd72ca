package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SparingSoftware/getpaid-go/internal/broker"
	"github.com/SparingSoftware/getpaid-go/internal/domain"
	"github.com/SparingSoftware/getpaid-go/internal/event"
	"github.com/SparingSoftware/getpaid-go/internal/repository"
	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
)

// PollerConfig tunes the status poller.
type PollerConfig struct {
	// Interval is how often a sweep runs.
	Interval time.Duration
	// Grace is how long an in_progress payment is left alone before the
	// poller starts asking its broker for status. Callbacks normally
	// arrive well within this window.
	Grace time.Duration
	// PendingDeadline is how long a payment may sit in in_progress before
	// a still-pending broker answer fails it with a timeout.
	PendingDeadline time.Duration
	// BatchSize caps how many payments one sweep examines.
	BatchSize int
	// RequestTimeout bounds each broker status call.
	RequestTimeout time.Duration
}

// DefaultPollerConfig returns the default poller tuning.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:        time.Minute,
		Grace:           5 * time.Minute,
		PendingDeadline: 24 * time.Hour,
		BatchSize:       100,
		RequestTimeout:  10 * time.Second,
	}
}

// Poller sweeps in_progress payments whose callbacks never arrived and
// reconciles them against the broker's reported status. Payments pending past
// the deadline are failed with a timeout.
type Poller struct {
	repo     repository.PaymentRepository
	registry *broker.Registry
	producer *event.Producer
	cfg      PollerConfig
	logger   *slog.Logger
}

// NewPoller creates a status poller.
func NewPoller(
	repo repository.PaymentRepository,
	registry *broker.Registry,
	producer *event.Producer,
	cfg PollerConfig,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		repo:     repo,
		registry: registry,
		producer: producer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run sweeps on the configured interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("status poller started",
		slog.Duration("interval", p.cfg.Interval),
		slog.Duration("grace", p.cfg.Grace),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("status poller stopped")
			return
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil {
				p.logger.Error("poller sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs one pass over stale in_progress payments.
func (p *Poller) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	cutoff := now.Add(-p.cfg.Grace)

	payments, err := p.repo.ListInProgressOlderThan(ctx, cutoff, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stale payments: %w", err)
	}

	for i := range payments {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.reconcileOne(ctx, &payments[i], now); err != nil {
			p.logger.ErrorContext(ctx, "reconcile stale payment",
				slog.String("payment_id", payments[i].ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

func (p *Poller) reconcileOne(ctx context.Context, payment *domain.Payment, now time.Time) error {
	b, err := p.registry.Lookup(payment.BrokerID)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	status, err := b.FetchStatus(callCtx, payment)
	cancel()
	if err != nil {
		if errors.Is(err, apperrors.ErrBrokerUnavailable) {
			// The broker will be asked again next sweep.
			return nil
		}
		return err
	}

	switch status {
	case broker.StatusConfirmed:
		return p.applyOutcome(ctx, payment.ID, domain.EventConfirm, "confirmed by status poll")
	case broker.StatusFailed:
		return p.applyOutcome(ctx, payment.ID, domain.EventReject, "rejected by status poll")
	case broker.StatusPending, broker.StatusUnknown:
		if payment.UpdatedAt.Before(now.Add(-p.cfg.PendingDeadline)) {
			pollerTimeoutsTotal.Inc()
			return p.applyOutcome(ctx, payment.ID, domain.EventTimeout,
				fmt.Sprintf("no broker confirmation within %s", p.cfg.PendingDeadline))
		}
		return nil
	default:
		return nil
	}
}

// applyOutcome drives the locked payment through the event, skipping payments
// a concurrent callback already settled.
func (p *Poller) applyOutcome(ctx context.Context, paymentID string, ev domain.Event, reason string) error {
	var (
		updated *domain.Payment
		applied bool
	)
	err := p.repo.WithPayment(ctx, paymentID, func(ctx context.Context, pay *domain.Payment) error {
		if pay.Status != domain.PaymentStatusInProgress {
			return nil
		}
		if err := pay.Apply(ev, reason, time.Now().UTC()); err != nil {
			return err
		}
		updated = pay
		applied = true
		return nil
	})
	if err != nil || !applied {
		return err
	}

	paymentTransitionsTotal.WithLabelValues(string(ev), updated.Status).Inc()
	p.logger.InfoContext(ctx, "stale payment reconciled",
		slog.String("payment_id", updated.ID),
		slog.String("event", string(ev)),
		slog.String("status", updated.Status),
	)

	if p.producer != nil {
		var pubErr error
		if ev == domain.EventConfirm {
			pubErr = p.producer.PublishPaymentConfirmed(ctx, updated)
		} else {
			pubErr = p.producer.PublishPaymentFailed(ctx, updated)
		}
		if pubErr != nil {
			p.logger.ErrorContext(ctx, "publish poller outcome event", slog.String("error", pubErr.Error()))
		}
	}

	return nil
}
