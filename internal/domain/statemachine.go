package domain

import (
	"fmt"
	"time"

	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
)

// Lifecycle events. Caller-driven: initiate, cancel, refund. Broker-driven:
// broker_ack, confirm, reject. Scheduler-driven: timeout.
type Event string

const (
	EventInitiate       Event = "initiate"
	EventInitiateFailed Event = "initiate_failed"
	EventBrokerAck      Event = "broker_ack"
	EventConfirm        Event = "confirm"
	EventReject         Event = "reject"
	EventTimeout        Event = "timeout"
	EventCancel         Event = "cancel"
	EventRefund         Event = "refund"
)

// TransitionTable is the full transition graph: current status → event →
// possible target statuses. Every status change in the system goes through
// this table; there are no transitions wired anywhere else.
func TransitionTable() map[string]map[Event][]string {
	return map[string]map[Event][]string{
		PaymentStatusNew: {
			EventInitiate:       {PaymentStatusPrepared},
			EventInitiateFailed: {PaymentStatusFailed},
			EventCancel:         {PaymentStatusCanceled},
		},
		PaymentStatusPrepared: {
			EventBrokerAck: {PaymentStatusInProgress},
			EventCancel:    {PaymentStatusCanceled},
		},
		PaymentStatusInProgress: {
			EventConfirm: {PaymentStatusPaid},
			EventReject:  {PaymentStatusFailed},
			EventTimeout: {PaymentStatusFailed},
		},
		PaymentStatusPaid: {
			EventRefund: {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
		},
		PaymentStatusPartiallyRefunded: {
			EventRefund: {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
		},
	}
}

// CanApply reports whether the event has a matching row for the payment's
// current status.
func (p *Payment) CanApply(ev Event) bool {
	_, ok := TransitionTable()[p.Status][ev]
	return ok
}

// Apply drives the payment through a single-target event. On an event with no
// matching row the payment is left untouched and ErrInvalidTransition is
// returned. The status change and the log entry always happen together.
//
// Refunds carry an amount and are applied through RecordRefund instead.
func (p *Payment) Apply(ev Event, reason string, now time.Time) error {
	if ev == EventRefund {
		return apperrors.InvalidInput("refund transitions must be applied with RecordRefund")
	}

	targets, ok := TransitionTable()[p.Status][ev]
	if !ok || len(targets) != 1 {
		return apperrors.InvalidTransition(p.Status, string(ev))
	}
	target := targets[0]

	switch target {
	case PaymentStatusPaid:
		at := now
		p.PaidAt = &at
	case PaymentStatusFailed:
		p.FailureReason = reason
	}

	p.transitionTo(target, ev, reason, now)
	return nil
}

// RecordRefund applies the refund event, accumulating amount into
// AmountRefunded. The target is partially_refunded until the refunded total
// reaches the full amount, then refunded. The record is untouched on any
// validation failure.
func (p *Payment) RecordRefund(amount Money, now time.Time) error {
	if _, ok := TransitionTable()[p.Status][EventRefund]; !ok {
		return apperrors.InvalidTransition(p.Status, string(EventRefund))
	}
	if !amount.IsPositive() {
		return apperrors.InvalidRefundAmount(fmt.Sprintf("refund amount must be positive, got %s", amount))
	}

	newRefunded, err := p.AmountRefunded.Add(amount)
	if err != nil {
		return err
	}
	if cmp, err := newRefunded.Cmp(p.Amount); err != nil {
		return err
	} else if cmp > 0 {
		remaining, _ := p.RemainingRefundable()
		return apperrors.InvalidRefundAmount(fmt.Sprintf(
			"refund of %s exceeds refundable remainder %s", amount, remaining,
		))
	}

	target := PaymentStatusPartiallyRefunded
	if newRefunded.Equal(p.Amount) {
		target = PaymentStatusRefunded
	}

	p.AmountRefunded = newRefunded
	p.transitionTo(target, EventRefund, fmt.Sprintf("refunded %s", amount), now)
	return nil
}

// SetExternalReference stores the broker-side reference. It may be set
// exactly once; later attempts are rejected.
func (p *Payment) SetExternalReference(ref string) error {
	if p.ExternalReference != "" {
		return apperrors.InvalidInput("external reference is already set")
	}
	if ref == "" {
		return apperrors.InvalidInput("external reference must not be empty")
	}
	p.ExternalReference = ref
	return nil
}

// transitionTo records the status change and its audit entry atomically with
// respect to the in-memory record.
func (p *Payment) transitionTo(target string, ev Event, reason string, now time.Time) {
	p.Transitions = append(p.Transitions, Transition{
		FromStatus: p.Status,
		ToStatus:   target,
		Event:      string(ev),
		Reason:     reason,
		OccurredAt: now,
	})
	p.Status = target
	p.UpdatedAt = now
}

// ReplayStatus recomputes the payment status by replaying the transition log
// from "new". It fails if the log is not a contiguous chain starting at new,
// which would indicate a corrupted audit trail.
func (p *Payment) ReplayStatus() (string, error) {
	status := PaymentStatusNew
	for i, t := range p.Transitions {
		if t.FromStatus != status {
			return "", fmt.Errorf("transition log broken at entry %d: expected from %q, got %q", i, status, t.FromStatus)
		}
		status = t.ToStatus
	}
	return status, nil
}
