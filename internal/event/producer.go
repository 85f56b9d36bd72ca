package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SparingSoftware/getpaid-go/internal/domain"
	pkgkafka "github.com/SparingSoftware/getpaid-go/pkg/kafka"
)

// Kafka topic constants for payment domain events.
const (
	TopicPaymentConfirmed = "getpaid.payment.confirmed"
	TopicPaymentFailed    = "getpaid.payment.failed"
	TopicPaymentCanceled  = "getpaid.payment.canceled"
	TopicPaymentRefunded  = "getpaid.payment.refunded"
)

// Aggregate type constant.
const AggregateTypePayment = "payment"

// Source identifier for events originating from this service.
const SourceGetpaid = "getpaid"

// PaymentConfirmedData is the payload for a payment.confirmed event.
type PaymentConfirmedData struct {
	ID                string     `json:"id"`
	BrokerID          string     `json:"broker_id"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	ExternalReference string     `json:"external_reference"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}

// PaymentFailedData is the payload for a payment.failed event.
type PaymentFailedData struct {
	ID                string `json:"id"`
	BrokerID          string `json:"broker_id"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	ExternalReference string `json:"external_reference,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

// PaymentCanceledData is the payload for a payment.canceled event.
type PaymentCanceledData struct {
	ID       string `json:"id"`
	BrokerID string `json:"broker_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// PaymentRefundedData is the payload for a payment.refunded event.
type PaymentRefundedData struct {
	PaymentID      string `json:"payment_id"`
	RefundID       string `json:"refund_id"`
	RefundAmount   string `json:"refund_amount"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason,omitempty"`
	PaymentStatus  string `json:"payment_status"`
	AmountRefunded string `json:"amount_refunded"`
}

// Producer publishes payment domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishPaymentConfirmed publishes a payment.confirmed event.
func (p *Producer) PublishPaymentConfirmed(ctx context.Context, payment *domain.Payment) error {
	data := PaymentConfirmedData{
		ID:                payment.ID,
		BrokerID:          payment.BrokerID,
		Amount:            payment.Amount.Amount.StringFixed(2),
		Currency:          payment.Amount.Currency,
		ExternalReference: payment.ExternalReference,
		PaidAt:            payment.PaidAt,
	}

	return p.publish(ctx, TopicPaymentConfirmed, payment.ID, data)
}

// PublishPaymentFailed publishes a payment.failed event.
func (p *Producer) PublishPaymentFailed(ctx context.Context, payment *domain.Payment) error {
	data := PaymentFailedData{
		ID:                payment.ID,
		BrokerID:          payment.BrokerID,
		Amount:            payment.Amount.Amount.StringFixed(2),
		Currency:          payment.Amount.Currency,
		ExternalReference: payment.ExternalReference,
		FailureReason:     payment.FailureReason,
	}

	return p.publish(ctx, TopicPaymentFailed, payment.ID, data)
}

// PublishPaymentCanceled publishes a payment.canceled event.
func (p *Producer) PublishPaymentCanceled(ctx context.Context, payment *domain.Payment) error {
	data := PaymentCanceledData{
		ID:       payment.ID,
		BrokerID: payment.BrokerID,
		Amount:   payment.Amount.Amount.StringFixed(2),
		Currency: payment.Amount.Currency,
	}

	return p.publish(ctx, TopicPaymentCanceled, payment.ID, data)
}

// PublishPaymentRefunded publishes a payment.refunded event.
func (p *Producer) PublishPaymentRefunded(ctx context.Context, payment *domain.Payment, refund *domain.Refund) error {
	data := PaymentRefundedData{
		PaymentID:      payment.ID,
		RefundID:       refund.ID,
		RefundAmount:   refund.Amount.Amount.StringFixed(2),
		Currency:       refund.Amount.Currency,
		Reason:         refund.Reason,
		PaymentStatus:  payment.Status,
		AmountRefunded: payment.AmountRefunded.Amount.StringFixed(2),
	}

	return p.publish(ctx, TopicPaymentRefunded, payment.ID, data)
}

func (p *Producer) publish(ctx context.Context, topic, paymentID string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, paymentID, AggregateTypePayment, SourceGetpaid, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published payment event",
		slog.String("topic", topic),
		slog.String("payment_id", paymentID),
	)

	return nil
}
