package domain

import (
	"time"
)

// Payment status constants.
const (
	PaymentStatusNew               = "new"
	PaymentStatusPrepared          = "prepared"
	PaymentStatusInProgress        = "in_progress"
	PaymentStatusPaid              = "paid"
	PaymentStatusFailed            = "failed"
	PaymentStatusCanceled          = "canceled"
	PaymentStatusPartiallyRefunded = "partially_refunded"
	PaymentStatusRefunded          = "refunded"
)

// Payment is a single payment attempt against one broker. Its Status is only
// ever changed through Apply/RecordRefund so every change lands in the
// transition log; records are never deleted, terminal payments are retained
// for audit.
type Payment struct {
	ID                string       `json:"id"`
	BrokerID          string       `json:"broker_id"`
	Amount            Money        `json:"amount"`
	AmountRefunded    Money        `json:"amount_refunded"`
	Status            string       `json:"status"`
	ExternalReference string       `json:"external_reference,omitempty"`
	Description       string       `json:"description,omitempty"`
	FailureReason     string       `json:"failure_reason,omitempty"`
	PaidAt            *time.Time   `json:"paid_at,omitempty"`
	Transitions       []Transition `json:"transitions,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Transition is one hop of the append-only audit trail. Replaying the log
// from "new" must always reproduce the current status.
type Transition struct {
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Event      string    `json:"event"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewPayment creates a payment record in the initial "new" status.
func NewPayment(id, brokerID string, amount Money, description string, now time.Time) *Payment {
	return &Payment{
		ID:             id,
		BrokerID:       brokerID,
		Amount:         amount,
		AmountRefunded: Zero(amount.Currency),
		Status:         PaymentStatusNew,
		Description:    description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ValidPaymentStatuses returns all valid payment statuses.
func ValidPaymentStatuses() []string {
	return []string{
		PaymentStatusNew,
		PaymentStatusPrepared,
		PaymentStatusInProgress,
		PaymentStatusPaid,
		PaymentStatusFailed,
		PaymentStatusCanceled,
		PaymentStatusPartiallyRefunded,
		PaymentStatusRefunded,
	}
}

// IsValidPaymentStatus checks whether the given status is a valid payment status.
func IsValidPaymentStatus(status string) bool {
	for _, s := range ValidPaymentStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further transition is defined from the
// given status, refund flow aside.
func IsTerminalStatus(status string) bool {
	switch status {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusRefunded:
		return true
	}
	return false
}

// Refundable reports whether the payment may accept further refunds.
func (p *Payment) Refundable() bool {
	return p.Status == PaymentStatusPaid || p.Status == PaymentStatusPartiallyRefunded
}

// RemainingRefundable returns the amount still available for refunds.
func (p *Payment) RemainingRefundable() (Money, error) {
	return p.Amount.Sub(p.AmountRefunded)
}
