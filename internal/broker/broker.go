package broker

import (
	"context"
	"net/http"

	"github.com/SparingSoftware/getpaid-go/internal/domain"
)

// Capability names an optional broker feature. Brokers advertise their
// capabilities through Descriptor and the service layer checks them before
// attempting the corresponding operation.
type Capability string

const (
	CapabilityRefund        Capability = "refund"
	CapabilityPartialRefund Capability = "partial_refund"
	CapabilityRecurring     Capability = "recurring"
)

// Descriptor is broker metadata exposed to API clients.
type Descriptor struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"display_name"`
	Capabilities []Capability `json:"capabilities"`
}

// Status values reported by a broker for a payment it processes. Unknown
// means the broker could not (yet) say, and callers must not change payment
// state based on it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// Outcome values carried by a parsed callback.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
)

// InitiateResult is what a broker returns after accepting a payment.
type InitiateResult struct {
	// ExternalReference is the broker-side identifier for the payment. It
	// is required and stored exactly once on the payment record.
	ExternalReference string
	// RedirectURL is where the payer completes the flow, when the broker
	// uses a redirect model. Empty for server-to-server brokers.
	RedirectURL string
}

// ParsedCallback is the verified, normalized form of an incoming broker
// notification.
type ParsedCallback struct {
	// ExternalReference identifies the payment on the broker side.
	ExternalReference string
	// Outcome is the broker's verdict for the payment.
	Outcome Outcome
	// Reason is the broker-supplied failure detail, if any.
	Reason string
	// EventID identifies this delivery for deduplication. Brokers that do
	// not send one leave it empty and dedup falls back to state checks.
	EventID string
}

// RefundResult reports a broker-accepted refund.
type RefundResult struct {
	// ExternalRefundID is the broker-side identifier for the refund.
	ExternalRefundID string
}

// Broker is a payment provider integration. Implementations translate
// between the payment record and one provider's API; they never touch
// storage and never change payment state themselves.
type Broker interface {
	// ID is the stable identifier used in payment records and callback
	// URLs.
	ID() string

	// DisplayName is a human-readable broker name.
	DisplayName() string

	// Capabilities lists the optional features this broker supports.
	Capabilities() []Capability

	// Initiate registers the payment with the provider and returns the
	// external reference plus an optional redirect URL.
	Initiate(ctx context.Context, p *domain.Payment) (*InitiateResult, error)

	// FetchStatus asks the provider for the current status of the payment.
	FetchStatus(ctx context.Context, p *domain.Payment) (Status, error)

	// VerifyCallback authenticates an incoming notification and parses it.
	// It returns ErrInvalidSignature when authentication fails and must
	// not trust request contents before the signature checks out.
	VerifyCallback(r *http.Request, body []byte) (*ParsedCallback, error)

	// Refund requests a refund of amount for the payment.
	Refund(ctx context.Context, p *domain.Payment, amount domain.Money) (*RefundResult, error)
}

// Describe builds the API-facing descriptor for a broker.
func Describe(b Broker) Descriptor {
	return Descriptor{
		ID:           b.ID(),
		DisplayName:  b.DisplayName(),
		Capabilities: b.Capabilities(),
	}
}

// HasCapability reports whether the broker advertises cap.
func HasCapability(b Broker, cap Capability) bool {
	for _, c := range b.Capabilities() {
		if c == cap {
			return true
		}
	}
	return false
}
