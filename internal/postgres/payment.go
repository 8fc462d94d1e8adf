package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/repository"
)

const paymentColumns = `
	id, order_id, attempt_number, status, amount, currency, external_ref,
	gateway, failure_detail, conversion_meta, paid_at, last_attempted_at,
	created_at`

func scanPayment(row interface{ Scan(...any) error }) (domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.AttemptNumber, &p.Status,
		&p.Amount, &p.Currency, &p.ExternalRef, &p.Gateway,
		&p.FailureDetail, &p.ConversionMeta,
		&p.PaidAt, &p.LastAttemptedAt, &p.CreatedAt,
	)
	return p, translateErr(err)
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (s *Store) ListPaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	rows, err := s.pool.Query(ctx, `SELECT`+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY attempt_number`, orderID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// CreatePaymentAttempt relies on the partial unique index
// payments_one_pending_per_order (order_id) WHERE status = 'pending' to
// serialize concurrent attempt creation.
func (s *Store) CreatePaymentAttempt(ctx context.Context, params repository.CreatePaymentAttemptParams) (domain.Payment, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO payments (order_id, attempt_number, status, amount, currency, external_ref, gateway)
		VALUES ($1, $2, 'pending', $3, $4, $5, $6)
		RETURNING`+paymentColumns,
		params.OrderID, params.AttemptNumber,
		params.Amount, params.Currency, params.ExternalRef, params.Gateway,
	)
	return scanPayment(row)
}

// UpdatePaymentResult is a compare-and-swap on status = 'pending'. When
// the row exists but another writer settled it first, the swap matches
// nothing and ErrAlreadySettled comes back instead of a second transition.
func (s *Store) UpdatePaymentResult(ctx context.Context, params repository.UpdatePaymentResultParams) (domain.Payment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE payments
		SET status            = $2,
		    amount            = $3,
		    currency          = $4,
		    external_ref      = $5,
		    failure_detail    = $6,
		    conversion_meta   = $7,
		    paid_at           = $8,
		    last_attempted_at = $9
		WHERE id = $1 AND status = 'pending'
		RETURNING`+paymentColumns,
		params.ID, params.Status, params.Amount, params.Currency,
		params.ExternalRef, params.FailureDetail, params.ConversionMeta,
		params.PaidAt, params.LastAttemptedAt,
	)
	p, err := scanPayment(row)
	if errors.Is(err, repository.ErrNotFound) {
		if current, getErr := s.GetPayment(ctx, params.ID); getErr == nil && current.Status != domain.AttemptPending {
			return current, repository.ErrAlreadySettled
		}
		return domain.Payment{}, repository.ErrNotFound
	}
	return p, err
}

func (s *Store) ListStalePendingAttempts(ctx context.Context, olderThan time.Time) ([]domain.Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+paymentColumns+`
		FROM payments
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at`, olderThan)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
