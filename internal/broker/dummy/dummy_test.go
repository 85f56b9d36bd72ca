package dummy

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SparingSoftware/getpaid-go/internal/broker"
	"github.com/SparingSoftware/getpaid-go/internal/domain"
	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
)

const testSecret = "test-secret"

func newTestPayment(t *testing.T) *domain.Payment {
	t.Helper()
	amount, err := domain.ParseMoney("50.00", "PLN")
	require.NoError(t, err)
	return domain.NewPayment(uuid.New().String(), BrokerID, amount, "", time.Now().UTC())
}

func TestInitiate_GeneratesReference(t *testing.T) {
	b := New(testSecret, "")

	res, err := b.Initiate(context.Background(), newTestPayment(t))

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ExternalReference, "dummy-"))
	assert.Empty(t, res.RedirectURL)
}

func TestInitiate_PaywallRedirect(t *testing.T) {
	b := New(testSecret, "https://pay.example.test")

	res, err := b.Initiate(context.Background(), newTestPayment(t))

	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.test/pay/"+res.ExternalReference, res.RedirectURL)
}

func TestFetchStatus_AlwaysConfirmed(t *testing.T) {
	b := New(testSecret, "")

	status, err := b.FetchStatus(context.Background(), newTestPayment(t))

	require.NoError(t, err)
	assert.Equal(t, broker.StatusConfirmed, status)
}

func TestVerifyCallback_ValidSignature(t *testing.T) {
	b := New(testSecret, "")
	body := []byte(`{"external_reference":"dummy-1","outcome":"confirmed","event_id":"evt-1"}`)

	req := httptest.NewRequest("POST", "/callbacks/dummy", nil)
	req.Header.Set(SignatureHeader, Checksum(body, testSecret))

	cb, err := b.VerifyCallback(req, body)

	require.NoError(t, err)
	assert.Equal(t, "dummy-1", cb.ExternalReference)
	assert.Equal(t, broker.OutcomeConfirmed, cb.Outcome)
	assert.Equal(t, "evt-1", cb.EventID)
}

func TestVerifyCallback_FailedOutcomeWithReason(t *testing.T) {
	b := New(testSecret, "")
	body := []byte(`{"external_reference":"dummy-1","outcome":"failed","reason":"insufficient funds"}`)

	req := httptest.NewRequest("POST", "/callbacks/dummy", nil)
	req.Header.Set(SignatureHeader, Checksum(body, testSecret))

	cb, err := b.VerifyCallback(req, body)

	require.NoError(t, err)
	assert.Equal(t, broker.OutcomeFailed, cb.Outcome)
	assert.Equal(t, "insufficient funds", cb.Reason)
}

func TestVerifyCallback_BadSignature(t *testing.T) {
	b := New(testSecret, "")
	body := []byte(`{"external_reference":"dummy-1","outcome":"confirmed"}`)

	req := httptest.NewRequest("POST", "/callbacks/dummy", nil)
	req.Header.Set(SignatureHeader, Checksum(body, "wrong-secret"))

	_, err := b.VerifyCallback(req, body)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidSignature))
}

func TestVerifyCallback_MissingSignature(t *testing.T) {
	b := New(testSecret, "")
	body := []byte(`{"external_reference":"dummy-1","outcome":"confirmed"}`)

	req := httptest.NewRequest("POST", "/callbacks/dummy", nil)

	_, err := b.VerifyCallback(req, body)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidSignature))
}

func TestVerifyCallback_SignedGarbageBody(t *testing.T) {
	b := New(testSecret, "")
	body := []byte(`not json`)

	req := httptest.NewRequest("POST", "/callbacks/dummy", nil)
	req.Header.Set(SignatureHeader, Checksum(body, testSecret))

	_, err := b.VerifyCallback(req, body)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestVerifyCallback_UnknownOutcome(t *testing.T) {
	b := New(testSecret, "")
	body := []byte(`{"external_reference":"dummy-1","outcome":"maybe"}`)

	req := httptest.NewRequest("POST", "/callbacks/dummy", nil)
	req.Header.Set(SignatureHeader, Checksum(body, testSecret))

	_, err := b.VerifyCallback(req, body)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestRefund_AlwaysSucceeds(t *testing.T) {
	b := New(testSecret, "")
	amount, _ := domain.ParseMoney("10.00", "PLN")

	res, err := b.Refund(context.Background(), newTestPayment(t), amount)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ExternalRefundID, "dummy-refund-"))
}

func TestCapabilities(t *testing.T) {
	b := New(testSecret, "")

	assert.Contains(t, b.Capabilities(), broker.CapabilityRefund)
	assert.Contains(t, b.Capabilities(), broker.CapabilityPartialRefund)
	assert.Contains(t, b.Capabilities(), broker.CapabilityRecurring)
}
