package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/skadi/internal/repository"
)

// Job type constants for subscription jobs
const (
	JobTypeRenewSubscription = "subscription:renew"
)

// QueueSubscriptions is the queue subscription jobs run on.
const QueueSubscriptions = "subscriptions"

// RenewSubscriptionPayload applies a paid subscription-renewal order item
// to its subscription.
type RenewSubscriptionPayload struct {
	OrderID        uuid.UUID `json:"order_id"`
	OrderItemID    uuid.UUID `json:"order_item_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
}

// EnqueueRenewSubscription enqueues a subscription renewal job after the
// order item has been materialized.
func EnqueueRenewSubscription(ctx context.Context, q repository.Querier, payload RenewSubscriptionPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = q.EnqueueJob(ctx, repository.EnqueueJobParams{
		JobType:        JobTypeRenewSubscription,
		Queue:          QueueSubscriptions,
		Payload:        payloadJSON,
		Priority:       75,
		MaxRetries:     3,
		ScheduledAt:    time.Now(),
		TimeoutSeconds: 60,
	})
	return err
}
