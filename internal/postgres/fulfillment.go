package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/repository"
)

const registrationColumns = `
	id, order_id, order_item_id, domain_name, failure_reason,
	retry_count, max_retries, status, last_attempted_at, next_retry_at,
	resolved_at, created_at`

func scanRegistration(row interface{ Scan(...any) error }) (domain.FailedDomainRegistration, error) {
	var r domain.FailedDomainRegistration
	err := row.Scan(
		&r.ID, &r.OrderID, &r.OrderItemID, &r.DomainName, &r.FailureReason,
		&r.RetryCount, &r.MaxRetries, &r.Status,
		&r.LastAttemptedAt, &r.NextRetryAt, &r.ResolvedAt, &r.CreatedAt,
	)
	return r, translateErr(err)
}

func (s *Store) CreateFailedRegistration(ctx context.Context, params repository.CreateFailedRegistrationParams) (domain.FailedDomainRegistration, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO failed_domain_registrations
			(order_id, order_item_id, domain_name, failure_reason, retry_count, max_retries, status)
		VALUES ($1, $2, $3, $4, 0, $5, 'pending')
		RETURNING`+registrationColumns,
		params.OrderID, params.OrderItemID, params.DomainName,
		params.FailureReason, params.MaxRetries,
	)
	return scanRegistration(row)
}

func (s *Store) GetFailedRegistration(ctx context.Context, id uuid.UUID) (domain.FailedDomainRegistration, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+registrationColumns+` FROM failed_domain_registrations WHERE id = $1`, id)
	return scanRegistration(row)
}

func (s *Store) UpdateFailedRegistration(ctx context.Context, params repository.UpdateFailedRegistrationParams) (domain.FailedDomainRegistration, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE failed_domain_registrations
		SET status            = $2,
		    retry_count       = $3,
		    failure_reason    = $4,
		    last_attempted_at = $5,
		    next_retry_at     = $6,
		    resolved_at       = $7
		WHERE id = $1
		RETURNING`+registrationColumns,
		params.ID, params.Status, params.RetryCount, params.FailureReason,
		params.LastAttemptedAt, params.NextRetryAt, params.ResolvedAt,
	)
	return scanRegistration(row)
}

func (s *Store) ListDueRegistrationRetries(ctx context.Context, due time.Time) ([]domain.FailedDomainRegistration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+registrationColumns+`
		FROM failed_domain_registrations
		WHERE status IN ('pending', 'retrying')
		  AND retry_count < max_retries
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY next_retry_at NULLS FIRST`, due)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var records []domain.FailedDomainRegistration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
