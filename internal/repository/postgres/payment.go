package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/SparingSoftware/getpaid-go/internal/domain"
	"github.com/SparingSoftware/getpaid-go/pkg/database"
	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
)

// querier is the query surface shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PaymentRepository implements repository.PaymentRepository using PostgreSQL.
type PaymentRepository struct {
	db database.DBTX
}

// NewPaymentRepository creates a new PostgreSQL-backed payment repository.
func NewPaymentRepository(db database.DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, broker_id, amount, currency, amount_refunded, status, external_reference, description, failure_reason, paid_at, created_at, updated_at`

// Create inserts a new payment into the database.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, query,
		p.ID,
		p.BrokerID,
		p.Amount.Amount.StringFixed(2),
		p.Amount.Currency,
		p.AmountRefunded.Amount.StringFixed(2),
		p.Status,
		p.ExternalReference,
		p.Description,
		p.FailureReason,
		p.PaidAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

// GetByID retrieves a payment by its ID, transition log included.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1`

	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if p.Transitions, err = loadTransitions(ctx, r.db, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// GetByExternalReference resolves a payment by (broker_id, external_reference).
func (r *PaymentRepository) GetByExternalReference(ctx context.Context, brokerID, externalRef string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE broker_id = $1 AND external_reference = $2`

	p, err := scanPayment(r.db.QueryRow(ctx, query, brokerID, externalRef))
	if err != nil {
		return nil, err
	}
	if p.Transitions, err = loadTransitions(ctx, r.db, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// WithPayment loads the payment under SELECT ... FOR UPDATE inside a
// transaction, hands it to fn, and persists the record plus any newly
// appended transitions when fn succeeds. The row lock serializes concurrent
// state changes for the same payment.
func (r *PaymentRepository) WithPayment(ctx context.Context, id string, fn func(ctx context.Context, p *domain.Payment) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin payment transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1
		FOR UPDATE`

	p, err := scanPayment(tx.QueryRow(ctx, query, id))
	if err != nil {
		return err
	}
	if p.Transitions, err = loadTransitions(ctx, tx, p.ID); err != nil {
		return err
	}

	logged := len(p.Transitions)

	if err := fn(ctx, p); err != nil {
		return err
	}

	updateQuery := `
		UPDATE payments
		SET status = $1, external_reference = $2, amount_refunded = $3,
		    failure_reason = $4, paid_at = $5, updated_at = $6
		WHERE id = $7`

	if _, err := tx.Exec(ctx, updateQuery,
		p.Status,
		p.ExternalReference,
		p.AmountRefunded.Amount.StringFixed(2),
		p.FailureReason,
		p.PaidAt,
		p.UpdatedAt,
		p.ID,
	); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	insertQuery := `
		INSERT INTO payment_transitions (payment_id, from_status, to_status, event, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, t := range p.Transitions[logged:] {
		if _, err := tx.Exec(ctx, insertQuery,
			p.ID, t.FromStatus, t.ToStatus, t.Event, t.Reason, t.OccurredAt,
		); err != nil {
			return fmt.Errorf("insert payment transition: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit payment transaction: %w", err)
	}

	return nil
}

// ListInProgressOlderThan returns in_progress payments last updated before
// cutoff, oldest first.
func (r *PaymentRepository) ListInProgressOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, domain.PaymentStatusInProgress, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list in-progress payments: %w", err)
	}
	defer rows.Close()

	return collectPayments(rows)
}

// List returns payments filtered by optional status, newest first.
func (r *PaymentRepository) List(ctx context.Context, status string, offset, limit int) ([]domain.Payment, int, error) {
	query := `
		SELECT ` + paymentColumns + `,
		       count(*) OVER() AS total_count
		FROM payments
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var (
		payments   []domain.Payment
		totalCount int
	)

	for rows.Next() {
		var (
			p                dest
			total            int
			amount, refunded string
		)
		if err := rows.Scan(
			&p.ID, &p.BrokerID, &amount, &p.Currency, &refunded, &p.Status,
			&p.ExternalReference, &p.Description, &p.FailureReason,
			&p.PaidAt, &p.CreatedAt, &p.UpdatedAt, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan payment row: %w", err)
		}

		payment, err := p.toDomain(amount, refunded)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, *payment)
		totalCount = total
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate payment rows: %w", err)
	}

	if payments == nil {
		payments = []domain.Payment{}
	}

	return payments, totalCount, nil
}

// CreateRefund inserts a new refund into the database.
func (r *PaymentRepository) CreateRefund(ctx context.Context, ref *domain.Refund) error {
	query := `
		INSERT INTO refunds (id, payment_id, amount, currency, status, reason, external_refund_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		ref.ID,
		ref.PaymentID,
		ref.Amount.Amount.StringFixed(2),
		ref.Amount.Currency,
		ref.Status,
		ref.Reason,
		ref.ExternalRefundID,
		ref.CreatedAt,
		ref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}

	return nil
}

// GetRefundByID retrieves a refund by its ID.
func (r *PaymentRepository) GetRefundByID(ctx context.Context, id string) (*domain.Refund, error) {
	query := `
		SELECT id, payment_id, amount, currency, status, reason, external_refund_id, created_at, updated_at
		FROM refunds
		WHERE id = $1`

	return scanRefund(r.db.QueryRow(ctx, query, id))
}

// ListRefundsByPaymentID returns all refunds for a given payment.
func (r *PaymentRepository) ListRefundsByPaymentID(ctx context.Context, paymentID string) ([]domain.Refund, error) {
	query := `
		SELECT id, payment_id, amount, currency, status, reason, external_refund_id, created_at, updated_at
		FROM refunds
		WHERE payment_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list refunds by payment: %w", err)
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var (
			ref      domain.Refund
			amount   string
			currency string
		)
		if err := rows.Scan(
			&ref.ID, &ref.PaymentID, &amount, &currency, &ref.Status,
			&ref.Reason, &ref.ExternalRefundID, &ref.CreatedAt, &ref.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan refund row: %w", err)
		}
		if ref.Amount, err = parseMoney(amount, currency); err != nil {
			return nil, err
		}
		refunds = append(refunds, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund rows: %w", err)
	}

	if refunds == nil {
		refunds = []domain.Refund{}
	}

	return refunds, nil
}

// UpdateRefund modifies an existing refund in the database.
func (r *PaymentRepository) UpdateRefund(ctx context.Context, ref *domain.Refund) error {
	ref.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE refunds
		SET status = $1, reason = $2, external_refund_id = $3, updated_at = $4
		WHERE id = $5`

	ct, err := r.db.Exec(ctx, query,
		ref.Status,
		ref.Reason,
		ref.ExternalRefundID,
		ref.UpdatedAt,
		ref.ID,
	)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("refund", ref.ID)
	}

	return nil
}

// dest holds the directly scannable payment columns; monetary columns are
// scanned as text and parsed afterwards.
type dest struct {
	ID                string
	BrokerID          string
	Currency          string
	Status            string
	ExternalReference string
	Description       string
	FailureReason     string
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (d *dest) toDomain(amount, refunded string) (*domain.Payment, error) {
	amt, err := parseMoney(amount, d.Currency)
	if err != nil {
		return nil, err
	}
	ref, err := parseMoney(refunded, d.Currency)
	if err != nil {
		return nil, err
	}
	return &domain.Payment{
		ID:                d.ID,
		BrokerID:          d.BrokerID,
		Amount:            amt,
		AmountRefunded:    ref,
		Status:            d.Status,
		ExternalReference: d.ExternalReference,
		Description:       d.Description,
		FailureReason:     d.FailureReason,
		PaidAt:            d.PaidAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}, nil
}

func parseMoney(amount, currency string) (domain.Money, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Money{}, fmt.Errorf("parse stored amount %q: %w", amount, err)
	}
	return domain.Money{Amount: dec, Currency: currency}, nil
}

// scanPayment scans a single payment row.
func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		d                dest
		amount, refunded string
	)

	err := row.Scan(
		&d.ID, &d.BrokerID, &amount, &d.Currency, &refunded, &d.Status,
		&d.ExternalReference, &d.Description, &d.FailureReason,
		&d.PaidAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	return d.toDomain(amount, refunded)
}

// collectPayments drains rows scanned with the standard payment columns.
func collectPayments(rows pgx.Rows) ([]domain.Payment, error) {
	var payments []domain.Payment
	for rows.Next() {
		var (
			d                dest
			amount, refunded string
		)
		if err := rows.Scan(
			&d.ID, &d.BrokerID, &amount, &d.Currency, &refunded, &d.Status,
			&d.ExternalReference, &d.Description, &d.FailureReason,
			&d.PaidAt, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		p, err := d.toDomain(amount, refunded)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}

	if payments == nil {
		payments = []domain.Payment{}
	}

	return payments, nil
}

// loadTransitions reads the payment's transition log, oldest first.
func loadTransitions(ctx context.Context, q querier, paymentID string) ([]domain.Transition, error) {
	query := `
		SELECT from_status, to_status, event, reason, occurred_at
		FROM payment_transitions
		WHERE payment_id = $1
		ORDER BY id ASC`

	rows, err := q.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("load payment transitions: %w", err)
	}
	defer rows.Close()

	var transitions []domain.Transition
	for rows.Next() {
		var t domain.Transition
		if err := rows.Scan(&t.FromStatus, &t.ToStatus, &t.Event, &t.Reason, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		transitions = append(transitions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition rows: %w", err)
	}

	return transitions, nil
}

// scanRefund scans a single refund row.
func scanRefund(row pgx.Row) (*domain.Refund, error) {
	var (
		ref      domain.Refund
		amount   string
		currency string
	)

	err := row.Scan(
		&ref.ID, &ref.PaymentID, &amount, &currency, &ref.Status,
		&ref.Reason, &ref.ExternalRefundID, &ref.CreatedAt, &ref.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refund: %w", err)
	}

	if ref.Amount, err = parseMoney(amount, currency); err != nil {
		return nil, err
	}

	return &ref, nil
}
