package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SparingSoftware/getpaid-go/internal/broker"
	"github.com/SparingSoftware/getpaid-go/internal/domain"
	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
)

func newTestPoller(t *testing.T, repo *memRepo, fake *fakeBroker) *Poller {
	t.Helper()
	registry, err := broker.NewRegistry(fake)
	require.NoError(t, err)
	cfg := DefaultPollerConfig()
	cfg.Grace = 5 * time.Minute
	cfg.PendingDeadline = 24 * time.Hour
	return NewPoller(repo, registry, nil, cfg, newTestLogger())
}

// seedInProgress stores an in_progress payment whose last update happened
// `age` ago.
func seedInProgress(t *testing.T, repo *memRepo, id string, age time.Duration) *domain.Payment {
	t.Helper()
	amount, err := domain.ParseMoney("50.00", "PLN")
	require.NoError(t, err)
	now := time.Now().UTC()
	p := domain.NewPayment(id, "fake", amount, "", now)
	require.NoError(t, p.SetExternalReference("ext-"+id))
	require.NoError(t, p.Apply(domain.EventInitiate, "", now))
	require.NoError(t, p.Apply(domain.EventBrokerAck, "", now))
	require.NoError(t, repo.Create(context.Background(), p))

	err = repo.WithPayment(context.Background(), id, func(_ context.Context, pay *domain.Payment) error {
		pay.UpdatedAt = now.Add(-age)
		return nil
	})
	require.NoError(t, err)
	return p
}

func TestSweep_ConfirmsStalePayment(t *testing.T) {
	repo := newMemRepo()
	fake := &fakeBroker{id: "fake", status: broker.StatusConfirmed}
	poller := newTestPoller(t, repo, fake)
	seedInProgress(t, repo, "pay-1", time.Hour)

	require.NoError(t, poller.Sweep(context.Background()))

	stored, err := repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, stored.Status)
	assert.NotNil(t, stored.PaidAt)
	assert.Equal(t, 1, fake.statusCalls)
}

func TestSweep_RejectsStalePayment(t *testing.T) {
	repo := newMemRepo()
	fake := &fakeBroker{id: "fake", status: broker.StatusFailed}
	poller := newTestPoller(t, repo, fake)
	seedInProgress(t, repo, "pay-1", time.Hour)

	require.NoError(t, poller.Sweep(context.Background()))

	stored, err := repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, stored.Status)
	assert.Equal(t, "rejected by status poll", stored.FailureReason)
}

func TestSweep_LeavesRecentPaymentsAlone(t *testing.T) {
	repo := newMemRepo()
	fake := &fakeBroker{id: "fake", status: broker.StatusConfirmed}
	poller := newTestPoller(t, repo, fake)
	seedInProgress(t, repo, "pay-1", time.Minute)

	require.NoError(t, poller.Sweep(context.Background()))

	stored, err := repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusInProgress, stored.Status)
	assert.Equal(t, 0, fake.statusCalls)
}

func TestSweep_PendingWithinDeadlineUntouched(t *testing.T) {
	repo := newMemRepo()
	fake := &fakeBroker{id: "fake", status: broker.StatusPending}
	poller := newTestPoller(t, repo, fake)
	seedInProgress(t, repo, "pay-1", time.Hour)

	require.NoError(t, poller.Sweep(context.Background()))

	stored, err := repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusInProgress, stored.Status)
	assert.Equal(t, 1, fake.statusCalls)
}

func TestSweep_PendingPastDeadlineTimesOut(t *testing.T) {
	repo := newMemRepo()
	fake := &fakeBroker{id: "fake", status: broker.StatusPending}
	poller := newTestPoller(t, repo, fake)
	seedInProgress(t, repo, "pay-1", 25*time.Hour)

	require.NoError(t, poller.Sweep(context.Background()))

	stored, err := repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "no broker confirmation")

	last := stored.Transitions[len(stored.Transitions)-1]
	assert.Equal(t, string(domain.EventTimeout), last.Event)
}

func TestSweep_UnknownStatusPastDeadlineTimesOut(t *testing.T) {
	repo := newMemRepo()
	fake := &fakeBroker{id: "fake", status: broker.StatusUnknown}
	poller := newTestPoller(t, repo, fake)
	seedInProgress(t, repo, "pay-1", 25*time.Hour)

	require.NoError(t, poller.Sweep(context.Background()))

	stored, err := repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, stored.Status)
}

func TestSweep_BrokerOutageRetriesNextSweep(t *testing.T) {
	repo := newMemRepo()
	fake := &fakeBroker{id: "fake", statusErr: apperrors.BrokerUnavailable("fake", context.DeadlineExceeded)}
	poller := newTestPoller(t, repo, fake)
	seedInProgress(t, repo, "pay-1", time.Hour)

	require.NoError(t, poller.Sweep(context.Background()))

	stored, err := repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusInProgress, stored.Status)

	// The payment stays eligible for the next sweep.
	fake.statusErr = nil
	fake.status = broker.StatusConfirmed
	require.NoError(t, poller.Sweep(context.Background()))

	stored, err = repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, stored.Status)
}

func TestSweep_SkipsConcurrentlySettledPayment(t *testing.T) {
	repo := newMemRepo()
	settled := false
	fake := &fakeBroker{id: "fake", status: broker.StatusConfirmed}
	poller := newTestPoller(t, repo, fake)
	p := seedInProgress(t, repo, "pay-1", time.Hour)

	// A callback lands between the sweep's listing and the row lock.
	fake.statusFn = func() (broker.Status, error) {
		if !settled {
			settled = true
			err := repo.WithPayment(context.Background(), p.ID, func(_ context.Context, pay *domain.Payment) error {
				return pay.Apply(domain.EventReject, "declined", time.Now().UTC())
			})
			require.NoError(t, err)
		}
		return broker.StatusConfirmed, nil
	}

	require.NoError(t, poller.Sweep(context.Background()))

	stored, err := repo.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, stored.Status)
}

func TestSweep_HandlesMultipleStalePayments(t *testing.T) {
	repo := newMemRepo()
	fake := &fakeBroker{id: "fake", status: broker.StatusConfirmed}
	poller := newTestPoller(t, repo, fake)
	seedInProgress(t, repo, "pay-1", time.Hour)
	seedInProgress(t, repo, "pay-2", 2*time.Hour)

	require.NoError(t, poller.Sweep(context.Background()))

	for _, id := range []string{"pay-1", "pay-2"} {
		stored, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPaid, stored.Status)
	}
	assert.Equal(t, 2, fake.statusCalls)
}
