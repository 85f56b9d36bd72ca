package domain

import "time"

// Refund status constants. A refund row is created pending, then marked
// succeeded or rejected once the broker answers.
const (
	RefundStatusPending   = "pending"
	RefundStatusSucceeded = "succeeded"
	RefundStatusRejected  = "rejected"
)

// Refund is one refund attempt against a paid payment. Rejected refunds are
// kept for audit and never counted against the refundable remainder.
type Refund struct {
	ID               string    `json:"id"`
	PaymentID        string    `json:"payment_id"`
	Amount           Money     `json:"amount"`
	Status           string    `json:"status"`
	ExternalRefundID string    `json:"external_refund_id,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewRefund creates a pending refund row for the payment.
func NewRefund(id, paymentID string, amount Money, reason string, now time.Time) *Refund {
	return &Refund{
		ID:        id,
		PaymentID: paymentID,
		Amount:    amount,
		Status:    RefundStatusPending,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
