// Package dummy implements an in-process broker for development and tests.
// It accepts every payment, confirms every status poll, and approves every
// refund, so full payment flows can be exercised without a real provider.
package dummy

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/SparingSoftware/getpaid-go/internal/broker"
	"github.com/SparingSoftware/getpaid-go/internal/domain"
	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
)

const (
	// BrokerID is the registry identifier for the dummy broker.
	BrokerID = "dummy"

	// SignatureHeader carries the hex SHA-256 checksum of the callback
	// body concatenated with the shared secret.
	SignatureHeader = "X-Dummy-Signature"
)

// Broker is the always-succeeding development broker.
type Broker struct {
	secret      string
	paywallBase string
}

// New builds a dummy broker. secret signs callbacks; paywallBase, when set,
// is used to build fake redirect URLs.
func New(secret, paywallBase string) *Broker {
	return &Broker{secret: secret, paywallBase: paywallBase}
}

func (b *Broker) ID() string          { return BrokerID }
func (b *Broker) DisplayName() string { return "Dummy (development)" }

func (b *Broker) Capabilities() []broker.Capability {
	return []broker.Capability{
		broker.CapabilityRefund,
		broker.CapabilityPartialRefund,
		broker.CapabilityRecurring,
	}
}

func (b *Broker) Initiate(_ context.Context, p *domain.Payment) (*broker.InitiateResult, error) {
	ref := "dummy-" + uuid.NewString()
	res := &broker.InitiateResult{ExternalReference: ref}
	if b.paywallBase != "" {
		res.RedirectURL = fmt.Sprintf("%s/pay/%s", b.paywallBase, ref)
	}
	return res, nil
}

func (b *Broker) FetchStatus(_ context.Context, _ *domain.Payment) (broker.Status, error) {
	return broker.StatusConfirmed, nil
}

// callbackPayload is the dummy broker's notification body, mirroring the
// shape a real provider would POST.
type callbackPayload struct {
	ExternalReference string `json:"external_reference"`
	Outcome           string `json:"outcome"`
	Reason            string `json:"reason,omitempty"`
	EventID           string `json:"event_id,omitempty"`
}

func (b *Broker) VerifyCallback(r *http.Request, body []byte) (*broker.ParsedCallback, error) {
	got := r.Header.Get(SignatureHeader)
	want := Checksum(body, b.secret)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return nil, apperrors.InvalidSignature(BrokerID)
	}

	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.InvalidInput("malformed callback body")
	}
	if payload.ExternalReference == "" {
		return nil, apperrors.InvalidInput("callback missing external_reference")
	}

	var outcome broker.Outcome
	switch payload.Outcome {
	case "confirmed":
		outcome = broker.OutcomeConfirmed
	case "failed":
		outcome = broker.OutcomeFailed
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown callback outcome %q", payload.Outcome))
	}

	return &broker.ParsedCallback{
		ExternalReference: payload.ExternalReference,
		Outcome:           outcome,
		Reason:            payload.Reason,
		EventID:           payload.EventID,
	}, nil
}

func (b *Broker) Refund(_ context.Context, _ *domain.Payment, _ domain.Money) (*broker.RefundResult, error) {
	return &broker.RefundResult{ExternalRefundID: "dummy-refund-" + uuid.NewString()}, nil
}

// Checksum computes the callback signature for body under secret. Exposed so
// tests and local tooling can sign requests the way the broker expects.
func Checksum(body []byte, secret string) string {
	sum := sha256.Sum256(append(append([]byte{}, body...), []byte(secret)...))
	return hex.EncodeToString(sum[:])
}
