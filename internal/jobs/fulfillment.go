package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/skadi/internal/repository"
)

// Job type constants for fulfillment jobs
const (
	JobTypeRegisterDomain = "fulfillment:register_domain"
	JobTypeRenewDomain    = "fulfillment:renew_domain"
	JobTypeRetrySweep     = "fulfillment:retry_sweep"
)

// QueueFulfillment is the queue fulfillment jobs run on.
const QueueFulfillment = "fulfillment"

// RegisterDomainPayload carries one paid registration item to the registrar.
type RegisterDomainPayload struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderItemID uuid.UUID `json:"order_item_id"`
	DomainName  string    `json:"domain_name"`
	Years       int32     `json:"years"`
}

// RenewDomainPayload carries one paid renewal item to the registrar.
type RenewDomainPayload struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderItemID uuid.UUID `json:"order_item_id"`
	DomainName  string    `json:"domain_name"`
	Years       int32     `json:"years"`
}

// RetryRegistrationPayload re-drives one failed registration record.
type RetryRegistrationPayload struct {
	RegistrationID uuid.UUID `json:"registration_id"`
}

// EnqueueRegisterDomain enqueues a registration fulfillment job for a
// freshly materialized order item.
func EnqueueRegisterDomain(ctx context.Context, q repository.Querier, payload RegisterDomainPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = q.EnqueueJob(ctx, repository.EnqueueJobParams{
		JobType:        JobTypeRegisterDomain,
		Queue:          QueueFulfillment,
		Payload:        payloadJSON,
		Priority:       100,
		MaxRetries:     3,
		ScheduledAt:    time.Now(),
		TimeoutSeconds: 120,
	})
	return err
}

// EnqueueRenewDomain enqueues a registry-side renewal for a paid renewal item.
func EnqueueRenewDomain(ctx context.Context, q repository.Querier, payload RenewDomainPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = q.EnqueueJob(ctx, repository.EnqueueJobParams{
		JobType:        JobTypeRenewDomain,
		Queue:          QueueFulfillment,
		Payload:        payloadJSON,
		Priority:       100,
		MaxRetries:     3,
		ScheduledAt:    time.Now(),
		TimeoutSeconds: 120,
	})
	return err
}

// EnqueueRetryRegistration schedules one retry of a failed registration at
// the given time. Backoff is the caller's decision; the job just carries it.
func EnqueueRetryRegistration(ctx context.Context, q repository.Querier, payload RetryRegistrationPayload, at time.Time) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = q.EnqueueJob(ctx, repository.EnqueueJobParams{
		JobType:        JobTypeRetrySweep,
		Queue:          QueueFulfillment,
		Payload:        payloadJSON,
		Priority:       50,
		MaxRetries:     1,
		ScheduledAt:    at,
		TimeoutSeconds: 120,
	})
	return err
}
