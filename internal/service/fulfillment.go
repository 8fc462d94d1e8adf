package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/repository"
	"github.com/dukerupert/skadi/internal/telemetry"
)

// RetryService owns the retry state machine for failed domain
// registrations. Payment has already succeeded by the time a record
// exists; only the registration itself is being re-driven.
type RetryService interface {
	// RecordFailure creates a retryable record for a paid registration
	// item the registrar rejected.
	RecordFailure(ctx context.Context, params RecordFailureParams) (*domain.FailedDomainRegistration, error)

	// IncrementRetryCount moves the record to retrying and spends one
	// unit of its budget. The next-retry time is the caller's backoff
	// policy, passed in rather than computed here.
	IncrementRetryCount(ctx context.Context, id uuid.UUID, nextRetryAt *time.Time) (*domain.FailedDomainRegistration, error)

	// MarkResolved and MarkAbandoned are terminal. Repeating the same
	// terminal transition is a no-op; crossing from one terminal state to
	// the other fails with InvalidTransition.
	MarkResolved(ctx context.Context, id uuid.UUID) (*domain.FailedDomainRegistration, error)
	MarkAbandoned(ctx context.Context, id uuid.UUID) (*domain.FailedDomainRegistration, error)
}

// RecordFailureParams describes one registrar rejection.
type RecordFailureParams struct {
	OrderID     uuid.UUID
	OrderItemID uuid.UUID
	DomainName  string
	Reason      string
}

type retryService struct {
	repo    repository.Querier
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewRetryService creates a RetryService. Metrics may be nil.
func NewRetryService(repo repository.Querier, logger *slog.Logger, metrics *telemetry.Metrics) RetryService {
	return &retryService{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (s *retryService) RecordFailure(ctx context.Context, params RecordFailureParams) (*domain.FailedDomainRegistration, error) {
	record, err := s.repo.CreateFailedRegistration(ctx, repository.CreateFailedRegistrationParams{
		OrderID:       params.OrderID,
		OrderItemID:   params.OrderItemID,
		DomainName:    params.DomainName,
		FailureReason: params.Reason,
		MaxRetries:    domain.DefaultMaxRetries,
	})
	if err != nil {
		return nil, domain.Internal(err, "fulfillment.record_failure", "failed to insert registration failure")
	}

	if s.metrics != nil {
		s.metrics.RegistrationFailures.Inc()
	}
	s.logger.Warn("domain registration failed",
		"order_id", params.OrderID,
		"domain_name", params.DomainName,
		"reason", params.Reason,
	)
	return &record, nil
}

func (s *retryService) IncrementRetryCount(ctx context.Context, id uuid.UUID, nextRetryAt *time.Time) (*domain.FailedDomainRegistration, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	// A terminal record, or one whose budget is spent, cannot take
	// another retry. Reaching this is a scheduling bug; fail loudly.
	if !record.CanRetry() {
		s.logger.Error("retry attempted on unretryable record",
			"registration_id", record.ID,
			"status", record.Status,
			"retry_count", record.RetryCount,
			"max_retries", record.MaxRetries,
		)
		return nil, ErrInvalidTransition
	}

	now := s.now()
	updated, err := s.repo.UpdateFailedRegistration(ctx, repository.UpdateFailedRegistrationParams{
		ID:              record.ID,
		Status:          domain.RetryRetrying,
		RetryCount:      record.RetryCount + 1,
		FailureReason:   record.FailureReason,
		LastAttemptedAt: &now,
		NextRetryAt:     nextRetryAt,
		ResolvedAt:      record.ResolvedAt,
	})
	if err != nil {
		return nil, domain.Internal(err, "fulfillment.increment_retry", "failed to persist retry")
	}

	if s.metrics != nil {
		s.metrics.RegistrationRetries.Inc()
	}
	s.logger.Info("registration retry recorded",
		"registration_id", updated.ID,
		"retry_count", updated.RetryCount,
		"next_retry_at", nextRetryAt,
	)
	return &updated, nil
}

func (s *retryService) MarkResolved(ctx context.Context, id uuid.UUID) (*domain.FailedDomainRegistration, error) {
	return s.terminal(ctx, id, domain.RetryResolved)
}

func (s *retryService) MarkAbandoned(ctx context.Context, id uuid.UUID) (*domain.FailedDomainRegistration, error) {
	return s.terminal(ctx, id, domain.RetryAbandoned)
}

func (s *retryService) terminal(ctx context.Context, id uuid.UUID, target domain.RetryStatus) (*domain.FailedDomainRegistration, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status.Terminal() {
		if record.Status == target {
			return &record, nil
		}
		return nil, ErrInvalidTransition
	}

	now := s.now()
	params := repository.UpdateFailedRegistrationParams{
		ID:              record.ID,
		Status:          target,
		RetryCount:      record.RetryCount,
		FailureReason:   record.FailureReason,
		LastAttemptedAt: record.LastAttemptedAt,
	}
	if target == domain.RetryResolved {
		params.ResolvedAt = &now
	}

	updated, err := s.repo.UpdateFailedRegistration(ctx, params)
	if err != nil {
		return nil, domain.Internal(err, "fulfillment.mark_terminal", "failed to persist terminal state")
	}

	if s.metrics != nil {
		switch target {
		case domain.RetryResolved:
			s.metrics.RegistrationResolved.Inc()
		case domain.RetryAbandoned:
			s.metrics.RegistrationAbandoned.Inc()
		}
	}
	s.logger.Info("registration retry closed",
		"registration_id", updated.ID,
		"status", updated.Status,
		"retry_count", updated.RetryCount,
	)
	return &updated, nil
}

func (s *retryService) load(ctx context.Context, id uuid.UUID) (domain.FailedDomainRegistration, error) {
	record, err := s.repo.GetFailedRegistration(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.FailedDomainRegistration{}, ErrRegistrationNotFound
		}
		return domain.FailedDomainRegistration{}, domain.Internal(err, "fulfillment.retry", "failed to load registration record")
	}
	return record, nil
}
