// Package telemetry holds Prometheus metrics for business-level
// observability of the reconciliation engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's business metrics. Register once at startup
// and share the instance; services tolerate a nil *Metrics so tests can
// skip registration.
type Metrics struct {
	// Payment reconciliation
	PaymentAttempts  *prometheus.CounterVec // labels: gateway
	PaymentSucceeded *prometheus.CounterVec // labels: gateway
	PaymentFailed    *prometheus.CounterVec // labels: gateway
	PaymentValue     *prometheus.HistogramVec

	// Currency conversion
	ConversionFailures *prometheus.CounterVec // labels: reason

	// Subscription renewals
	RenewalsApplied  *prometheus.CounterVec // labels: cycle
	RenewalsRejected *prometheus.CounterVec // labels: reason

	// Registration retries
	RegistrationFailures  prometheus.Counter
	RegistrationRetries   prometheus.Counter
	RegistrationResolved  prometheus.Counter
	RegistrationAbandoned prometheus.Counter

	// Background jobs
	JobsEnqueued  *prometheus.CounterVec // labels: job_type
	JobsProcessed *prometheus.CounterVec // labels: job_type
	JobsFailed    *prometheus.CounterVec // labels: job_type
	JobDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers all business metrics with the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PaymentAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skadi_payment_attempts_total",
			Help: "Payment attempts created, by gateway.",
		}, []string{"gateway"}),
		PaymentSucceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skadi_payment_succeeded_total",
			Help: "Payment attempts that reached succeeded, by gateway.",
		}, []string{"gateway"}),
		PaymentFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skadi_payment_failed_total",
			Help: "Payment attempts that reached failed, by gateway.",
		}, []string{"gateway"}),
		PaymentValue: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skadi_payment_value",
			Help:    "Charged amount of succeeded payments, in the charge currency's major unit.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"currency"}),
		ConversionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skadi_conversion_failures_total",
			Help: "Currency conversions refused, by reason.",
		}, []string{"reason"}),
		RenewalsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skadi_renewals_applied_total",
			Help: "Subscription renewals applied, by billing cycle.",
		}, []string{"cycle"}),
		RenewalsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skadi_renewals_rejected_total",
			Help: "Subscription renewals rejected, by reason.",
		}, []string{"reason"}),
		RegistrationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "skadi_registration_failures_total",
			Help: "Domain registrations that failed after successful payment.",
		}),
		RegistrationRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "skadi_registration_retries_total",
			Help: "Registration retry attempts started.",
		}),
		RegistrationResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "skadi_registration_resolved_total",
			Help: "Failed registrations resolved by a retry.",
		}),
		RegistrationAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Name: "skadi_registration_abandoned_total",
			Help: "Failed registrations abandoned after exhausting retries.",
		}),
		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skadi_jobs_enqueued_total",
			Help: "Background jobs enqueued, by type.",
		}, []string{"job_type"}),
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skadi_jobs_processed_total",
			Help: "Background jobs completed, by type.",
		}, []string{"job_type"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skadi_jobs_failed_total",
			Help: "Background jobs failed, by type.",
		}, []string{"job_type"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skadi_job_duration_seconds",
			Help:    "Background job execution time, by type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_type"}),
	}
}
