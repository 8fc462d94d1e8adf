package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/repository"
)

const subscriptionColumns = `
	id, user_id, plan_id, plan_price_id, status, billing_cycle,
	starts_at, expires_at, next_renewal_at, last_renewal_attempt_at,
	auto_renew, product_snapshot, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.PlanPriceID,
		&sub.Status, &sub.BillingCycle,
		&sub.StartsAt, &sub.ExpiresAt, &sub.NextRenewalAt, &sub.LastRenewalAttemptAt,
		&sub.AutoRenew, &sub.ProductSnapshot, &sub.CreatedAt, &sub.UpdatedAt,
	)
	return sub, translateErr(err)
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (s *Store) GetActivePlanPrice(ctx context.Context, params repository.GetActivePlanPriceParams) (domain.PlanPrice, error) {
	var price domain.PlanPrice
	err := s.pool.QueryRow(ctx, `
		SELECT id, plan_id, billing_cycle, price, currency, is_active
		FROM plan_prices
		WHERE plan_id = $1 AND billing_cycle = $2 AND is_active = true`,
		params.PlanID, params.BillingCycle,
	).Scan(&price.ID, &price.PlanID, &price.BillingCycle, &price.Price, &price.Currency, &price.IsActive)
	return price, translateErr(err)
}

// UpdateSubscriptionRenewal persists an extension. The WHERE guard keeps
// expires_at monotonic even if two renewals race.
func (s *Store) UpdateSubscriptionRenewal(ctx context.Context, params repository.UpdateSubscriptionRenewalParams) (domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE subscriptions
		SET status                  = $2,
		    billing_cycle           = $3,
		    expires_at              = $4,
		    next_renewal_at         = $5,
		    last_renewal_attempt_at = $6,
		    product_snapshot        = $7,
		    updated_at              = now()
		WHERE id = $1 AND (expires_at IS NULL OR expires_at <= $4)
		RETURNING`+subscriptionColumns,
		params.ID, params.Status, params.BillingCycle,
		params.ExpiresAt, params.NextRenewalAt, params.LastRenewalAttemptAt,
		params.ProductSnapshot,
	)
	return scanSubscription(row)
}
