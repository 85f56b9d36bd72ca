package webpay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SparingSoftware/getpaid-go/internal/broker"
	"github.com/SparingSoftware/getpaid-go/internal/domain"
	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
	"github.com/SparingSoftware/getpaid-go/pkg/httpclient"
)

const testWebhookSecret = "webhook-secret"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBroker(t *testing.T, serverURL string) *Broker {
	t.Helper()
	client := httpclient.New(httpclient.Config{
		Timeout:         5 * time.Second,
		MaxRetries:      0,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    time.Millisecond,
		MaxConnsPerHost: 10,
	})
	return NewWithClient(Config{
		BaseURL:       serverURL,
		APIKey:        "test-api-key",
		WebhookSecret: testWebhookSecret,
		CallbackURL:   "https://getpaid.example.test/callbacks/webpay",
	}, client, newTestLogger())
}

func newTestPayment(t *testing.T, ref string) *domain.Payment {
	t.Helper()
	amount, err := domain.ParseMoney("150.00", "PLN")
	require.NoError(t, err)
	p := domain.NewPayment(uuid.New().String(), BrokerID, amount, "order #7", time.Now().UTC())
	p.ExternalReference = ref
	return p
}

func TestInitiate_RegistersTransaction(t *testing.T) {
	var gotReq createTransactionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(createTransactionResponse{
			TransactionID: "wp-123",
			PaymentURL:    "https://gateway.example.test/pay/wp-123",
		})
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)
	p := newTestPayment(t, "")

	res, err := b.Initiate(context.Background(), p)

	require.NoError(t, err)
	assert.Equal(t, "wp-123", res.ExternalReference)
	assert.Equal(t, "https://gateway.example.test/pay/wp-123", res.RedirectURL)
	assert.Equal(t, p.ID, gotReq.Reference)
	assert.Equal(t, "150.00", gotReq.Amount)
	assert.Equal(t, "PLN", gotReq.Currency)
	assert.Equal(t, "https://getpaid.example.test/callbacks/webpay", gotReq.CallbackURL)
}

func TestInitiate_GatewayRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"unsupported currency"}`))
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)

	_, err := b.Initiate(context.Background(), newTestPayment(t, ""))

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBrokerRejected))
	assert.Contains(t, err.Error(), "unsupported currency")
}

func TestInitiate_GatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)

	_, err := b.Initiate(context.Background(), newTestPayment(t, ""))

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBrokerUnavailable))
}

func TestInitiate_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	b := newTestBroker(t, srv.URL)

	_, err := b.Initiate(context.Background(), newTestPayment(t, ""))

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBrokerUnavailable))
}

func TestFetchStatus_MapsGatewayStatuses(t *testing.T) {
	cases := []struct {
		gateway string
		want    broker.Status
	}{
		{"pending", broker.StatusPending},
		{"processing", broker.StatusPending},
		{"completed", broker.StatusConfirmed},
		{"rejected", broker.StatusFailed},
		{"expired", broker.StatusFailed},
		{"weird", broker.StatusUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.gateway, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/transactions/wp-123", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(transactionStatusResponse{Status: tc.gateway})
			}))
			defer srv.Close()

			b := newTestBroker(t, srv.URL)

			status, err := b.FetchStatus(context.Background(), newTestPayment(t, "wp-123"))

			require.NoError(t, err)
			assert.Equal(t, tc.want, status)
		})
	}
}

func TestFetchStatus_RequiresExternalReference(t *testing.T) {
	b := newTestBroker(t, "http://unused.example.test")

	_, err := b.FetchStatus(context.Background(), newTestPayment(t, ""))

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestVerifyCallback_ValidSignature(t *testing.T) {
	b := newTestBroker(t, "http://unused.example.test")
	body := []byte(`{"transaction_id":"wp-123","status":"completed","event_id":"evt-9"}`)

	req := httptest.NewRequest("POST", "/callbacks/webpay", nil)
	req.Header.Set(SignatureHeader, Sign(body, testWebhookSecret))

	cb, err := b.VerifyCallback(req, body)

	require.NoError(t, err)
	assert.Equal(t, "wp-123", cb.ExternalReference)
	assert.Equal(t, broker.OutcomeConfirmed, cb.Outcome)
	assert.Equal(t, "evt-9", cb.EventID)
}

func TestVerifyCallback_TamperedBody(t *testing.T) {
	b := newTestBroker(t, "http://unused.example.test")
	body := []byte(`{"transaction_id":"wp-123","status":"completed"}`)
	tampered := []byte(`{"transaction_id":"wp-123","status":"rejected"}`)

	req := httptest.NewRequest("POST", "/callbacks/webpay", nil)
	req.Header.Set(SignatureHeader, Sign(body, testWebhookSecret))

	_, err := b.VerifyCallback(req, tampered)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidSignature))
}

func TestVerifyCallback_RejectedStatus(t *testing.T) {
	b := newTestBroker(t, "http://unused.example.test")
	body := []byte(`{"transaction_id":"wp-123","status":"rejected","reason":"3ds failed"}`)

	req := httptest.NewRequest("POST", "/callbacks/webpay", nil)
	req.Header.Set(SignatureHeader, Sign(body, testWebhookSecret))

	cb, err := b.VerifyCallback(req, body)

	require.NoError(t, err)
	assert.Equal(t, broker.OutcomeFailed, cb.Outcome)
	assert.Equal(t, "3ds failed", cb.Reason)
}

func TestRefund_Accepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/wp-123/refunds", r.URL.Path)
		var req refundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "50.00", req.Amount)
		assert.Equal(t, "PLN", req.Currency)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(refundResponse{RefundID: "wp-ref-1"})
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)
	amount, _ := domain.ParseMoney("50.00", "PLN")

	res, err := b.Refund(context.Background(), newTestPayment(t, "wp-123"), amount)

	require.NoError(t, err)
	assert.Equal(t, "wp-ref-1", res.ExternalRefundID)
}

func TestRefund_GatewayRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"refund window closed"}`))
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)
	amount, _ := domain.ParseMoney("50.00", "PLN")

	_, err := b.Refund(context.Background(), newTestPayment(t, "wp-123"), amount)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrRefundRejected))
}
