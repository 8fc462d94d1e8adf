package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/jobs"
	"github.com/dukerupert/skadi/internal/repository"
	"github.com/dukerupert/skadi/internal/service"
	"github.com/dukerupert/skadi/internal/telemetry"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// PollInterval is how often to check for new jobs
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of jobs to process concurrently
	MaxConcurrency int

	// Queues to process. Empty means all known queues.
	Queues []string

	// SweepInterval is how often the maintenance sweeps run: due
	// registration retries and stale pending payment attempts.
	SweepInterval time.Duration

	// StaleAttemptAge is how old a pending payment attempt must be before
	// the sweep reports it.
	StaleAttemptAge time.Duration

	// BackoffBase and BackoffCap bound the exponential backoff between
	// registration retries.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Worker claims jobs from the database queue and executes them. The queue
// row is the unit of delivery; NATS wake-ups only shorten the wait between
// enqueue and claim.
type Worker struct {
	config    Config
	repo      repository.Querier
	registrar domain.Registrar
	retries   service.RetryService
	renewals  service.RenewalService
	notifier  *jobs.Notifier
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	now func() time.Time
	wg  sync.WaitGroup
}

// NewWorker creates a background job worker. Metrics and notifier may be
// nil.
func NewWorker(
	repo repository.Querier,
	registrar domain.Registrar,
	retries service.RetryService,
	renewals service.RenewalService,
	notifier *jobs.Notifier,
	config Config,
	logger *slog.Logger,
	metrics *telemetry.Metrics,
) *Worker {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 4
	}
	if len(config.Queues) == 0 {
		config.Queues = []string{jobs.QueueFulfillment, jobs.QueueSubscriptions}
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = 10 * time.Minute
	}
	if config.StaleAttemptAge == 0 {
		config.StaleAttemptAge = 30 * time.Minute
	}
	if config.BackoffBase == 0 {
		config.BackoffBase = 15 * time.Minute
	}
	if config.BackoffCap == 0 {
		config.BackoffCap = 6 * time.Hour
	}

	return &Worker{
		config:    config,
		repo:      repo,
		registrar: registrar,
		retries:   retries,
		renewals:  renewals,
		notifier:  notifier,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Start begins processing jobs until the context is cancelled. It blocks,
// waiting for in-flight jobs before returning.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"worker_id", w.config.WorkerID,
		"queues", w.config.Queues,
		"poll_interval", w.config.PollInterval,
		"max_concurrency", w.config.MaxConcurrency,
	)

	// A buffered wake channel coalesces bursts of NATS notifications into
	// a single extra drain pass.
	wake := make(chan struct{}, 1)
	for _, queue := range w.config.Queues {
		sub, err := w.notifier.Listen(queue, func() {
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		if err != nil {
			return fmt.Errorf("failed to listen on queue %s: %w", queue, err)
		}
		if sub != nil {
			defer func() { _ = sub.Drain() }()
		}
	}

	poll := time.NewTicker(w.config.PollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(w.config.SweepInterval)
	defer sweep.Stop()

	sem := make(chan struct{}, w.config.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down", "worker_id", w.config.WorkerID)
			w.wg.Wait()
			return ctx.Err()

		case <-poll.C:
			w.drainQueues(ctx, sem)

		case <-wake:
			w.drainQueues(ctx, sem)

		case <-sweep.C:
			w.sweepDueRetries(ctx)
			w.sweepStaleAttempts(ctx)
		}
	}
}

// drainQueues claims jobs from every queue until each comes up empty or
// the concurrency limit is hit.
func (w *Worker) drainQueues(ctx context.Context, sem chan struct{}) {
	for _, queue := range w.config.Queues {
		for {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			default:
				return
			}

			job, err := w.repo.ClaimNextJob(ctx, repository.ClaimNextJobParams{
				WorkerID: w.config.WorkerID,
				Queue:    queue,
				Now:      w.now(),
			})
			if err != nil {
				<-sem
				if !errors.Is(err, repository.ErrNotFound) {
					w.logger.Error("job claim failed", "queue", queue, "error", err)
				}
				break
			}

			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer func() { <-sem }()
				w.runJob(ctx, job)
			}()
		}
	}
}

// runJob executes one claimed job and settles its queue row.
func (w *Worker) runJob(ctx context.Context, job repository.Job) {
	w.logger.Info("processing job",
		"job_id", job.ID,
		"job_type", job.JobType,
		"retry_count", job.RetryCount,
	)

	start := w.now()
	err := w.processJob(ctx, job)
	if w.metrics != nil {
		w.metrics.JobDuration.WithLabelValues(job.JobType).Observe(w.now().Sub(start).Seconds())
	}

	if err != nil {
		w.logger.Error("job failed",
			"job_id", job.ID,
			"job_type", job.JobType,
			"error", err,
		)
		if w.metrics != nil {
			w.metrics.JobsFailed.WithLabelValues(job.JobType).Inc()
		}
		if _, failErr := w.repo.FailJob(ctx, repository.FailJobParams{
			ID:           job.ID,
			ErrorMessage: err.Error(),
		}); failErr != nil {
			w.logger.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return
	}

	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues(job.JobType).Inc()
	}
	if err := w.repo.CompleteJob(ctx, job.ID); err != nil {
		w.logger.Error("failed to mark job complete", "job_id", job.ID, "error", err)
		return
	}
	w.logger.Info("job completed", "job_id", job.ID, "job_type", job.JobType)
}

// processJob dispatches a claimed job by type.
func (w *Worker) processJob(ctx context.Context, job repository.Job) error {
	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch job.JobType {
	case jobs.JobTypeRegisterDomain:
		return w.processRegisterDomain(jobCtx, job)
	case jobs.JobTypeRenewDomain:
		return w.processRenewDomain(jobCtx, job)
	case jobs.JobTypeRetrySweep:
		return w.processRetryRegistration(jobCtx, job)
	case jobs.JobTypeRenewSubscription:
		return w.processRenewSubscription(jobCtx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

// processRegisterDomain drives a first registration attempt at the
// registrar. A registrar rejection is not a job failure: payment has
// already settled, so the rejection is captured as a failed-registration
// record and re-driven by the retry sweep instead of the job queue.
func (w *Worker) processRegisterDomain(ctx context.Context, job repository.Job) error {
	var payload jobs.RegisterDomainPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal register payload: %w", err)
	}

	err := w.registrar.RegisterDomain(ctx, domain.RegisterDomainParams{
		DomainName: payload.DomainName,
		Years:      payload.Years,
	})
	if err == nil {
		return nil
	}

	_, recordErr := w.retries.RecordFailure(ctx, service.RecordFailureParams{
		OrderID:     payload.OrderID,
		OrderItemID: payload.OrderItemID,
		DomainName:  payload.DomainName,
		Reason:      err.Error(),
	})
	if recordErr != nil {
		// Could not capture the failure; surface it so the job queue
		// retries the registration instead.
		return fmt.Errorf("registrar rejected %s and recording failed: %w", payload.DomainName, recordErr)
	}
	return nil
}

func (w *Worker) processRenewDomain(ctx context.Context, job repository.Job) error {
	var payload jobs.RenewDomainPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal renew payload: %w", err)
	}

	return w.registrar.RenewDomain(ctx, domain.RenewDomainParams{
		DomainName: payload.DomainName,
		Years:      payload.Years,
	})
}

func (w *Worker) processRetryRegistration(ctx context.Context, job repository.Job) error {
	var payload jobs.RetryRegistrationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal retry payload: %w", err)
	}

	record, err := w.repo.GetFailedRegistration(ctx, payload.RegistrationID)
	if err != nil {
		return fmt.Errorf("failed to load registration %s: %w", payload.RegistrationID, err)
	}
	return w.retryRegistration(ctx, record)
}

// retryRegistration spends one retry on a failed registration record. Both
// the scheduled per-record job and the periodic sweep funnel through here;
// the due-time check makes a duplicate delivery a no-op.
func (w *Worker) retryRegistration(ctx context.Context, record domain.FailedDomainRegistration) error {
	now := w.now()
	if record.Status.Terminal() {
		return nil
	}
	if record.NextRetryAt != nil && now.Before(*record.NextRetryAt) {
		return nil
	}
	if !record.CanRetry() {
		_, err := w.retries.MarkAbandoned(ctx, record.ID)
		return err
	}

	next := now.Add(w.backoffFor(record.RetryCount + 1))
	updated, err := w.retries.IncrementRetryCount(ctx, record.ID, &next)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	regErr := w.registrar.RegisterDomain(ctx, domain.RegisterDomainParams{
		DomainName: record.DomainName,
		Years:      w.registrationYears(ctx, record),
	})
	if regErr == nil {
		_, err := w.retries.MarkResolved(ctx, record.ID)
		return err
	}

	w.logger.Warn("registration retry failed",
		"registration_id", record.ID,
		"domain_name", record.DomainName,
		"retry_count", updated.RetryCount,
		"error", regErr,
	)
	if !updated.CanRetry() {
		_, err := w.retries.MarkAbandoned(ctx, record.ID)
		return err
	}

	if err := jobs.EnqueueRetryRegistration(ctx, w.repo, jobs.RetryRegistrationPayload{
		RegistrationID: record.ID,
	}, next); err != nil {
		// The periodic sweep will still find the record once due.
		w.logger.Error("failed to schedule registration retry", "registration_id", record.ID, "error", err)
	}
	return nil
}

// registrationYears recovers the purchased term from the order item. The
// failure record does not carry it; fall back to one year if the item is
// gone.
func (w *Worker) registrationYears(ctx context.Context, record domain.FailedDomainRegistration) int32 {
	items, err := w.repo.ListOrderItems(ctx, record.OrderID)
	if err != nil {
		w.logger.Warn("failed to load order items for retry", "order_id", record.OrderID, "error", err)
		return 1
	}
	for _, item := range items {
		if item.ID == record.OrderItemID && item.DurationYears > 0 {
			return item.DurationYears
		}
	}
	return 1
}

// processRenewSubscription applies a paid subscription-renewal order item.
// Multi-month monthly renewals take the wide-tolerance path; everything
// else renews by a single billing cycle.
func (w *Worker) processRenewSubscription(ctx context.Context, job repository.Job) error {
	var payload jobs.RenewSubscriptionPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal renewal payload: %w", err)
	}

	items, err := w.repo.ListOrderItems(ctx, payload.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	var item *domain.OrderItem
	for i := range items {
		if items[i].ID == payload.OrderItemID {
			item = &items[i]
			break
		}
	}
	if item == nil {
		return fmt.Errorf("order item %s not found on order %s", payload.OrderItemID, payload.OrderID)
	}

	// The item total is denominated in the order's settlement currency,
	// which need not match the plan price's. The renewal engine converts
	// before validating.
	paid := item.Total
	cycle := domain.BillingCycle(item.Metadata["billing_cycle"])

	if cycle == domain.CycleMonthly && item.DurationMonths > 1 {
		_, err = w.renewals.ExtendSubscriptionByMonths(ctx, service.ExtendByMonthsParams{
			SubscriptionID: payload.SubscriptionID,
			Months:         item.DurationMonths,
			PaidAmount:     &paid,
			PaidCurrency:   item.Currency,
		})
		return err
	}

	_, err = w.renewals.ExtendSubscription(ctx, service.ExtendSubscriptionParams{
		SubscriptionID:  payload.SubscriptionID,
		BillingCycle:    cycle,
		PaidAmount:      &paid,
		PaidCurrency:    item.Currency,
		ValidatePayment: true,
	})
	return err
}

// sweepDueRetries is the safety net behind the scheduled retry jobs: any
// due failed registration is re-driven even if its job row was lost.
func (w *Worker) sweepDueRetries(ctx context.Context) {
	records, err := w.repo.ListDueRegistrationRetries(ctx, w.now())
	if err != nil {
		w.logger.Error("retry sweep query failed", "error", err)
		return
	}
	for _, record := range records {
		if err := w.retryRegistration(ctx, record); err != nil {
			w.logger.Error("retry sweep failed for record",
				"registration_id", record.ID,
				"error", err,
			)
		}
	}
}

// sweepStaleAttempts reports pending payment attempts that have sat
// unsettled past the configured age. Settlement stays with the gateway
// callback; the sweep only surfaces attempts an operator should look at.
func (w *Worker) sweepStaleAttempts(ctx context.Context) {
	cutoff := w.now().Add(-w.config.StaleAttemptAge)
	attempts, err := w.repo.ListStalePendingAttempts(ctx, cutoff)
	if err != nil {
		w.logger.Error("stale attempt sweep query failed", "error", err)
		return
	}
	for _, attempt := range attempts {
		w.logger.Warn("payment attempt pending past threshold",
			"payment_id", attempt.ID,
			"order_id", attempt.OrderID,
			"attempt_number", attempt.AttemptNumber,
			"created_at", attempt.CreatedAt,
		)
	}
}

// backoffFor returns the exponential delay before retry attempt n.
func (w *Worker) backoffFor(n int32) time.Duration {
	d := w.config.BackoffBase
	for i := int32(1); i < n; i++ {
		d *= 2
		if d >= w.config.BackoffCap {
			return w.config.BackoffCap
		}
	}
	if d > w.config.BackoffCap {
		return w.config.BackoffCap
	}
	return d
}
