package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/skadi/internal/repository"
)

const jobColumns = `
	id, job_type, queue, payload, priority, retry_count, max_retries,
	status, scheduled_at, timeout_seconds, last_error, created_at`

func scanJob(row interface{ Scan(...any) error }) (repository.Job, error) {
	var j repository.Job
	err := row.Scan(
		&j.ID, &j.JobType, &j.Queue, &j.Payload, &j.Priority,
		&j.RetryCount, &j.MaxRetries, &j.Status, &j.ScheduledAt,
		&j.TimeoutSeconds, &j.LastError, &j.CreatedAt,
	)
	return j, translateErr(err)
}

func (s *Store) EnqueueJob(ctx context.Context, params repository.EnqueueJobParams) (repository.Job, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (job_type, queue, payload, priority, retry_count, max_retries,
			status, scheduled_at, timeout_seconds, last_error)
		VALUES ($1, $2, $3, $4, 0, $5, 'queued', $6, $7, '')
		RETURNING`+jobColumns,
		params.JobType, params.Queue, params.Payload, params.Priority,
		params.MaxRetries, params.ScheduledAt, params.TimeoutSeconds,
	)
	return scanJob(row)
}

// ClaimNextJob atomically claims one runnable job via SKIP LOCKED, so
// competing workers never double-claim. ErrNotFound means nothing is due.
func (s *Store) ClaimNextJob(ctx context.Context, params repository.ClaimNextJobParams) (repository.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status     = 'running',
		    claimed_by = $1,
		    claimed_at = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $2
			  AND status = 'queued'
			  AND scheduled_at <= $3
			ORDER BY priority DESC, scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING`+jobColumns,
		params.WorkerID, params.Queue, params.Now,
	)
	return scanJob(row)
}

func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = now() WHERE id = $1`, id)
	return translateErr(err)
}

// FailJob requeues with a linear delay while the retry budget lasts, then
// marks the job dead.
func (s *Store) FailJob(ctx context.Context, params repository.FailJobParams) (repository.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET retry_count = retry_count + 1,
		    last_error  = $2,
		    status      = CASE WHEN retry_count + 1 >= max_retries THEN 'dead' ELSE 'queued' END,
		    scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at
		                        ELSE now() + make_interval(mins => (retry_count + 1) * 5) END
		WHERE id = $1
		RETURNING`+jobColumns,
		params.ID, params.ErrorMessage,
	)
	return scanJob(row)
}
