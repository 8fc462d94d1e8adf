package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/skadi/internal/currency"
	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/repository"
	"github.com/dukerupert/skadi/internal/telemetry"
)

// RenewalService extends a subscription's validity window after a
// validated renewal payment. It is the sole mutator of subscription
// expiry fields; expires_at only ever moves forward through it.
type RenewalService interface {
	// ExtendSubscription extends by one billing cycle. Payment validation
	// compares the paid amount against the active plan price for the
	// cycle within a tight tolerance.
	ExtendSubscription(ctx context.Context, params ExtendSubscriptionParams) (*domain.Subscription, error)

	// ExtendSubscriptionByMonths extends by an arbitrary month count.
	// Validation uses the monthly plan price times the month count with a
	// wider tolerance, absorbing the rounding drift that compounds across
	// repeated monthly conversions.
	ExtendSubscriptionByMonths(ctx context.Context, params ExtendByMonthsParams) (*domain.Subscription, error)
}

// ExtendSubscriptionParams drives the single-cycle renewal path.
type ExtendSubscriptionParams struct {
	SubscriptionID uuid.UUID
	BillingCycle   domain.BillingCycle
	PaidAmount     *decimal.Decimal
	// PaidCurrency is the currency PaidAmount is denominated in. When it
	// differs from the plan price's currency the paid amount is converted
	// before validation. Empty means the plan price's currency.
	PaidCurrency    string
	ValidatePayment bool
	IsComp          bool
	// PriceSnapshot, when set, is recorded in the audit trail for
	// renewals that skip validation and so never look a price up.
	PriceSnapshot *domain.PriceSnapshot
}

// ExtendByMonthsParams drives the multi-month renewal path.
type ExtendByMonthsParams struct {
	SubscriptionID uuid.UUID
	Months         int32
	PaidAmount     *decimal.Decimal
	PaidCurrency   string
	IsComp         bool
	PriceSnapshot  *domain.PriceSnapshot
}

type renewalService struct {
	repo      repository.Querier
	converter *currency.Converter
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	// Tolerances for |paid - expected|. The multi-month one is wider on
	// purpose; tightening it breaks renewals priced through repeated
	// monthly conversions.
	cycleTolerance  decimal.Decimal
	monthsTolerance decimal.Decimal

	now func() time.Time
}

// NewRenewalService creates a RenewalService with the given payment
// tolerances. The converter settles paid amounts denominated in a
// currency other than the plan price's. Metrics may be nil.
func NewRenewalService(repo repository.Querier, converter *currency.Converter, logger *slog.Logger, metrics *telemetry.Metrics, cycleTolerance, monthsTolerance decimal.Decimal) RenewalService {
	return &renewalService{
		repo:            repo,
		converter:       converter,
		logger:          logger,
		metrics:         metrics,
		cycleTolerance:  cycleTolerance,
		monthsTolerance: monthsTolerance,
		now:             time.Now,
	}
}

func (s *renewalService) ExtendSubscription(ctx context.Context, params ExtendSubscriptionParams) (*domain.Subscription, error) {
	sub, err := s.loadSubscription(ctx, params.SubscriptionID)
	if err != nil {
		return nil, err
	}

	priceUsed := params.PriceSnapshot
	if params.ValidatePayment && params.PaidAmount != nil && !params.IsComp {
		price, err := s.activePrice(ctx, sub.PlanID, params.BillingCycle)
		if err != nil {
			return nil, err
		}
		paid, err := s.paidIn(*params.PaidAmount, params.PaidCurrency, price.Currency, sub.ID)
		if err != nil {
			return nil, err
		}
		if err := s.checkPaid(paid, price.ExpectedAmount(1), s.cycleTolerance, sub.ID); err != nil {
			return nil, err
		}
		priceUsed = s.snapshotPrice(price)
	}

	now := s.now()
	newExpiry := s.extendFrom(sub, now, params.BillingCycle, 0)

	record := domain.RenewalRecord{
		RenewedAt:    now,
		BillingCycle: params.BillingCycle,
		PaidAmount:   params.PaidAmount,
		Comp:         params.IsComp,
		NewExpiry:    newExpiry,
		PriceUsed:    priceUsed,
	}

	updated, err := s.persist(ctx, sub, params.BillingCycle, newExpiry, now, record)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RenewalsApplied.WithLabelValues(string(params.BillingCycle)).Inc()
	}
	s.logger.Info("subscription extended",
		"subscription_id", sub.ID,
		"billing_cycle", params.BillingCycle,
		"new_expiry", newExpiry,
		"comp", params.IsComp,
	)
	return updated, nil
}

func (s *renewalService) ExtendSubscriptionByMonths(ctx context.Context, params ExtendByMonthsParams) (*domain.Subscription, error) {
	if params.Months <= 0 {
		return nil, ErrInvalidMonths
	}

	sub, err := s.loadSubscription(ctx, params.SubscriptionID)
	if err != nil {
		return nil, err
	}

	priceUsed := params.PriceSnapshot
	if params.PaidAmount != nil && !params.IsComp {
		price, err := s.activePrice(ctx, sub.PlanID, domain.CycleMonthly)
		if err != nil {
			return nil, err
		}
		paid, err := s.paidIn(*params.PaidAmount, params.PaidCurrency, price.Currency, sub.ID)
		if err != nil {
			return nil, err
		}
		if err := s.checkPaid(paid, price.ExpectedAmount(params.Months), s.monthsTolerance, sub.ID); err != nil {
			return nil, err
		}
		priceUsed = s.snapshotPrice(price)
	}

	now := s.now()
	newExpiry := s.extendFrom(sub, now, "", params.Months)

	record := domain.RenewalRecord{
		RenewedAt:  now,
		Months:     params.Months,
		PaidAmount: params.PaidAmount,
		Comp:       params.IsComp,
		NewExpiry:  newExpiry,
		PriceUsed:  priceUsed,
	}

	// The stored billing cycle is untouched; a month-count extension is
	// not a plan switch.
	updated, err := s.persist(ctx, sub, sub.BillingCycle, newExpiry, now, record)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RenewalsApplied.WithLabelValues("months").Inc()
	}
	s.logger.Info("subscription extended",
		"subscription_id", sub.ID,
		"months", params.Months,
		"new_expiry", newExpiry,
		"comp", params.IsComp,
	)
	return updated, nil
}

func (s *renewalService) loadSubscription(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, ErrSubscriptionNotFound
		}
		return domain.Subscription{}, domain.Internal(err, "subscription.extend", "failed to load subscription")
	}
	return sub, nil
}

func (s *renewalService) activePrice(ctx context.Context, planID uuid.UUID, cycle domain.BillingCycle) (domain.PlanPrice, error) {
	price, err := s.repo.GetActivePlanPrice(ctx, repository.GetActivePlanPriceParams{
		PlanID:       planID,
		BillingCycle: cycle,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.PlanPrice{}, ErrPlanPriceNotFound
		}
		return domain.PlanPrice{}, domain.Internal(err, "subscription.extend", "failed to load plan price")
	}
	return price, nil
}

// paidIn settles the paid amount into the plan price's currency. An order
// settled in RWF must still validate against a USD-priced plan; comparing
// the raw figures would reject every cross-currency renewal. A failed
// conversion refuses the renewal rather than extending on an unverified
// amount.
func (s *renewalService) paidIn(paid decimal.Decimal, paidCurrency, priceCurrency string, subID uuid.UUID) (decimal.Decimal, error) {
	if paidCurrency == "" || domain.CanonicalCurrencyCode(paidCurrency) == domain.CanonicalCurrencyCode(priceCurrency) {
		return paid, nil
	}
	converted, err := s.converter.Convert(paid, paidCurrency, priceCurrency)
	if err != nil {
		s.logger.Warn("renewal payment currency conversion failed",
			"subscription_id", subID,
			"paid_currency", paidCurrency,
			"price_currency", priceCurrency,
			"error", err,
		)
		return decimal.Zero, err
	}
	return converted, nil
}

func (s *renewalService) checkPaid(paid, expected, tolerance decimal.Decimal, subID uuid.UUID) error {
	diff := paid.Sub(expected).Abs()
	if diff.LessThanOrEqual(tolerance) {
		return nil
	}
	if s.metrics != nil {
		s.metrics.RenewalsRejected.WithLabelValues("payment_mismatch").Inc()
	}
	s.logger.Warn("renewal payment mismatch",
		"subscription_id", subID,
		"paid", paid.String(),
		"expected", expected.String(),
		"tolerance", tolerance.String(),
	)
	return ErrPaymentMismatch
}

// extendFrom computes the new expiry. Renewals stack from the current
// expiry even when processed late; only a subscription that never had an
// expiry extends from now.
func (s *renewalService) extendFrom(sub domain.Subscription, now time.Time, cycle domain.BillingCycle, months int32) time.Time {
	base := now
	if sub.ExpiresAt != nil {
		base = *sub.ExpiresAt
	}
	if months > 0 {
		return base.AddDate(0, int(months), 0)
	}
	if cycle == domain.CycleAnnually {
		return base.AddDate(1, 0, 0)
	}
	return base.AddDate(0, 1, 0)
}

func (s *renewalService) persist(ctx context.Context, sub domain.Subscription, cycle domain.BillingCycle, newExpiry, now time.Time, record domain.RenewalRecord) (*domain.Subscription, error) {
	snapshot, err := domain.AppendRenewal(sub.ProductSnapshot, record)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateSubscriptionRenewal(ctx, repository.UpdateSubscriptionRenewalParams{
		ID:                   sub.ID,
		Status:               domain.SubscriptionActive,
		BillingCycle:         cycle,
		ExpiresAt:            newExpiry,
		NextRenewalAt:        newExpiry,
		LastRenewalAttemptAt: now,
		ProductSnapshot:      snapshot,
	})
	if err != nil {
		return nil, domain.Internal(err, "subscription.extend", "failed to persist renewal")
	}
	return &updated, nil
}

func (s *renewalService) snapshotPrice(price domain.PlanPrice) *domain.PriceSnapshot {
	return &domain.PriceSnapshot{
		PlanPriceID:  price.ID,
		BillingCycle: price.BillingCycle,
		Price:        price.Price,
		Currency:     price.Currency,
		CapturedAt:   s.now(),
	}
}
