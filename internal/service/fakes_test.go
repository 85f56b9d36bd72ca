package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/SparingSoftware/getpaid-go/internal/broker"
	"github.com/SparingSoftware/getpaid-go/internal/domain"
	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memRepo is an in-memory PaymentRepository. WithPayment takes a per-payment
// lock and works on a copy, mirroring the row-lock semantics of the real
// store closely enough for concurrency tests.
type memRepo struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	payments map[string]*domain.Payment
	refunds  map[string]*domain.Refund

	createErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		locks:    make(map[string]*sync.Mutex),
		payments: make(map[string]*domain.Payment),
		refunds:  make(map[string]*domain.Refund),
	}
}

func clonePayment(p *domain.Payment) *domain.Payment {
	cp := *p
	cp.Transitions = append([]domain.Transition(nil), p.Transitions...)
	return &cp
}

func (r *memRepo) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *memRepo) Create(_ context.Context, p *domain.Payment) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[p.ID] = clonePayment(p)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clonePayment(p), nil
}

func (r *memRepo) GetByExternalReference(_ context.Context, brokerID, ref string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.BrokerID == brokerID && p.ExternalReference == ref && ref != "" {
			return clonePayment(p), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memRepo) WithPayment(ctx context.Context, id string, fn func(ctx context.Context, p *domain.Payment) error) error {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	stored, ok := r.payments[id]
	r.mu.Unlock()
	if !ok {
		return apperrors.ErrNotFound
	}

	working := clonePayment(stored)
	if err := fn(ctx, working); err != nil {
		return err
	}

	r.mu.Lock()
	r.payments[id] = working
	r.mu.Unlock()
	return nil
}

func (r *memRepo) ListInProgressOlderThan(_ context.Context, cutoff time.Time, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if p.Status == domain.PaymentStatusInProgress && p.UpdatedAt.Before(cutoff) {
			out = append(out, *clonePayment(p))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memRepo) List(_ context.Context, status string, offset, limit int) ([]domain.Payment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.Payment
	for _, p := range r.payments {
		if status == "" || p.Status == status {
			all = append(all, *clonePayment(p))
		}
	}
	total := len(all)
	if offset >= total {
		return []domain.Payment{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *memRepo) CreateRefund(_ context.Context, ref *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ref
	r.refunds[ref.ID] = &cp
	return nil
}

func (r *memRepo) GetRefundByID(_ context.Context, id string) (*domain.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.refunds[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *ref
	return &cp, nil
}

func (r *memRepo) ListRefundsByPaymentID(_ context.Context, paymentID string) ([]domain.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Refund
	for _, ref := range r.refunds {
		if ref.PaymentID == paymentID {
			out = append(out, *ref)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateRefund(_ context.Context, ref *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.refunds[ref.ID]; !ok {
		return apperrors.NotFound("refund", ref.ID)
	}
	cp := *ref
	r.refunds[ref.ID] = &cp
	return nil
}

// flakyRepo fails WithPayment a configured number of times before
// delegating to the wrapped repository.
type flakyRepo struct {
	*memRepo
	withPaymentFailures int
}

func (r *flakyRepo) WithPayment(ctx context.Context, id string, fn func(ctx context.Context, p *domain.Payment) error) error {
	if r.withPaymentFailures > 0 {
		r.withPaymentFailures--
		return errors.New("connection reset")
	}
	return r.memRepo.WithPayment(ctx, id, fn)
}

// fakeBroker is a scriptable Broker for service tests.
type fakeBroker struct {
	id           string
	caps         []broker.Capability
	initiateRes  *broker.InitiateResult
	initiateErr  error
	status       broker.Status
	statusErr    error
	statusFn     func() (broker.Status, error)
	callback     *broker.ParsedCallback
	callbackErr  error
	refundRes    *broker.RefundResult
	refundErr    error
	statusCalls  int
	refundCalls  int
	initAttempts int
}

func (f *fakeBroker) ID() string          { return f.id }
func (f *fakeBroker) DisplayName() string { return "Fake " + f.id }

func (f *fakeBroker) Capabilities() []broker.Capability {
	if f.caps == nil {
		return []broker.Capability{broker.CapabilityRefund, broker.CapabilityPartialRefund}
	}
	return f.caps
}

func (f *fakeBroker) Initiate(context.Context, *domain.Payment) (*broker.InitiateResult, error) {
	f.initAttempts++
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	if f.initiateRes != nil {
		return f.initiateRes, nil
	}
	return &broker.InitiateResult{ExternalReference: "fake-ref", RedirectURL: "https://pay.example.test/fake-ref"}, nil
}

func (f *fakeBroker) FetchStatus(context.Context, *domain.Payment) (broker.Status, error) {
	f.statusCalls++
	if f.statusFn != nil {
		return f.statusFn()
	}
	if f.statusErr != nil {
		return broker.StatusUnknown, f.statusErr
	}
	return f.status, nil
}

func (f *fakeBroker) VerifyCallback(*http.Request, []byte) (*broker.ParsedCallback, error) {
	if f.callbackErr != nil {
		return nil, f.callbackErr
	}
	return f.callback, nil
}

func (f *fakeBroker) Refund(context.Context, *domain.Payment, domain.Money) (*broker.RefundResult, error) {
	f.refundCalls++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	if f.refundRes != nil {
		return f.refundRes, nil
	}
	return &broker.RefundResult{ExternalRefundID: "fake-refund-1"}, nil
}
