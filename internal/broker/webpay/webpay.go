// Package webpay integrates the WebPay REST gateway. Payments are registered
// over HTTPS, payers are redirected to the gateway's payment page, and the
// gateway notifies us through signed webhooks.
package webpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/SparingSoftware/getpaid-go/internal/broker"
	"github.com/SparingSoftware/getpaid-go/internal/domain"
	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
	"github.com/SparingSoftware/getpaid-go/pkg/httpclient"
)

const (
	// BrokerID is the registry identifier for the WebPay broker.
	BrokerID = "webpay"

	// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
	SignatureHeader = "X-Webpay-Signature"
)

// Config holds the WebPay gateway credentials and endpoints.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	// CallbackURL is our publicly reachable webhook endpoint, passed to
	// the gateway when registering a transaction.
	CallbackURL string
}

type httpDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Broker talks to the WebPay gateway. All outbound calls run through a
// retrying client behind a circuit breaker.
type Broker struct {
	cfg    Config
	client httpDoer
	logger *slog.Logger
}

// New builds a WebPay broker with the default retry and breaker settings.
func New(cfg Config, logger *slog.Logger) *Broker {
	base := httpclient.New(httpclient.DefaultConfig())
	cb := httpclient.NewCircuitBreakerClient(base, httpclient.DefaultCircuitBreakerConfig("webpay"), logger)
	return &Broker{cfg: cfg, client: cb, logger: logger}
}

// NewWithClient builds a WebPay broker with a custom HTTP client, used by
// tests to point at an httptest server without a breaker in the way.
func NewWithClient(cfg Config, client httpDoer, logger *slog.Logger) *Broker {
	return &Broker{cfg: cfg, client: client, logger: logger}
}

func (b *Broker) ID() string          { return BrokerID }
func (b *Broker) DisplayName() string { return "WebPay" }

func (b *Broker) Capabilities() []broker.Capability {
	return []broker.Capability{
		broker.CapabilityRefund,
		broker.CapabilityPartialRefund,
	}
}

type createTransactionRequest struct {
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type createTransactionResponse struct {
	TransactionID string `json:"transaction_id"`
	PaymentURL    string `json:"payment_url"`
}

func (b *Broker) Initiate(ctx context.Context, p *domain.Payment) (*broker.InitiateResult, error) {
	body := createTransactionRequest{
		Reference:   p.ID,
		Amount:      p.Amount.Amount.StringFixed(2),
		Currency:    p.Amount.Currency,
		Description: p.Description,
		CallbackURL: b.cfg.CallbackURL,
	}

	var out createTransactionResponse
	if err := b.call(ctx, http.MethodPost, "/v1/transactions", body, &out); err != nil {
		return nil, err
	}
	if out.TransactionID == "" {
		return nil, apperrors.BrokerRejected(BrokerID, "gateway returned no transaction id")
	}
	return &broker.InitiateResult{
		ExternalReference: out.TransactionID,
		RedirectURL:       out.PaymentURL,
	}, nil
}

type transactionStatusResponse struct {
	Status string `json:"status"`
}

func (b *Broker) FetchStatus(ctx context.Context, p *domain.Payment) (broker.Status, error) {
	if p.ExternalReference == "" {
		return broker.StatusUnknown, apperrors.InvalidInput("payment has no external reference")
	}

	var out transactionStatusResponse
	path := fmt.Sprintf("/v1/transactions/%s", p.ExternalReference)
	if err := b.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return broker.StatusUnknown, err
	}

	switch out.Status {
	case "pending", "processing":
		return broker.StatusPending, nil
	case "completed":
		return broker.StatusConfirmed, nil
	case "rejected", "expired":
		return broker.StatusFailed, nil
	default:
		b.logger.Warn("unrecognized gateway status", "broker", BrokerID, "status", out.Status)
		return broker.StatusUnknown, nil
	}
}

type webhookPayload struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	EventID       string `json:"event_id,omitempty"`
}

func (b *Broker) VerifyCallback(r *http.Request, body []byte) (*broker.ParsedCallback, error) {
	got := r.Header.Get(SignatureHeader)
	want := Sign(body, b.cfg.WebhookSecret)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return nil, apperrors.InvalidSignature(BrokerID)
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.InvalidInput("malformed webhook body")
	}
	if payload.TransactionID == "" {
		return nil, apperrors.InvalidInput("webhook missing transaction_id")
	}

	var outcome broker.Outcome
	switch payload.Status {
	case "completed":
		outcome = broker.OutcomeConfirmed
	case "rejected", "expired":
		outcome = broker.OutcomeFailed
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown webhook status %q", payload.Status))
	}

	return &broker.ParsedCallback{
		ExternalReference: payload.TransactionID,
		Outcome:           outcome,
		Reason:            payload.Reason,
		EventID:           payload.EventID,
	}, nil
}

type refundRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type refundResponse struct {
	RefundID string `json:"refund_id"`
}

func (b *Broker) Refund(ctx context.Context, p *domain.Payment, amount domain.Money) (*broker.RefundResult, error) {
	if p.ExternalReference == "" {
		return nil, apperrors.InvalidInput("payment has no external reference")
	}

	body := refundRequest{Amount: amount.Amount.StringFixed(2), Currency: amount.Currency}
	var out refundResponse
	path := fmt.Sprintf("/v1/transactions/%s/refunds", p.ExternalReference)
	if err := b.call(ctx, http.MethodPost, path, body, &out); err != nil {
		if errors.Is(err, apperrors.ErrBrokerRejected) {
			return nil, apperrors.RefundRejected(BrokerID, err.Error())
		}
		return nil, err
	}
	return &broker.RefundResult{ExternalRefundID: out.RefundID}, nil
}

// call issues one JSON request against the gateway and decodes the response
// into out. Transport failures, open breakers, and 5xx responses surface as
// ErrBrokerUnavailable; 4xx responses as ErrBrokerRejected.
func (b *Broker) call(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(ctx, req)
	if err != nil {
		return apperrors.BrokerUnavailable(BrokerID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return apperrors.BrokerUnavailable(BrokerID, fmt.Errorf("gateway returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		detail := readErrorDetail(resp.Body)
		return apperrors.BrokerRejected(BrokerID, fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, detail))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.BrokerUnavailable(BrokerID, fmt.Errorf("decode gateway response: %w", err))
		}
	}
	return nil
}

func readErrorDetail(r io.Reader) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&e); err != nil || e.Error == "" {
		return "no detail"
	}
	return e.Error
}

// Sign computes the webhook signature for body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
