package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/jobs"
	"github.com/dukerupert/skadi/internal/repository"
	"github.com/dukerupert/skadi/internal/telemetry"
)

// MaterializerService rebuilds persisted order items from an order's
// immutable checkout snapshot and signals the fulfillment jobs the item
// composition calls for.
type MaterializerService interface {
	// Materialize is idempotent: items already present (by natural key)
	// are skipped, and running it twice yields the same item set. Safe
	// under concurrent invocation; the store's natural-key constraint
	// resolves races.
	Materialize(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error)
}

type materializerService struct {
	repo     repository.Querier
	pricer   *Pricer
	notifier *jobs.Notifier
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewMaterializerService creates a MaterializerService. The notifier and
// metrics may be nil.
func NewMaterializerService(repo repository.Querier, pricer *Pricer, notifier *jobs.Notifier, logger *slog.Logger, metrics *telemetry.Metrics) MaterializerService {
	return &materializerService{
		repo:     repo,
		pricer:   pricer,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (s *materializerService) Materialize(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, domain.Internal(err, "order.materialize", "failed to load order")
	}

	snapshot, err := domain.ParseItemSnapshot(order.ItemsSnapshot)
	if err != nil {
		return nil, err
	}

	for _, item := range snapshot {
		key := item.NaturalKey()

		exists, err := s.repo.OrderItemExists(ctx, repository.OrderItemExistsParams{
			OrderID:    order.ID,
			NaturalKey: key,
		})
		if err != nil {
			return nil, domain.Internal(err, "order.materialize", "failed existence check")
		}
		if exists {
			continue
		}

		params, err := s.itemParams(order, item, key)
		if err != nil {
			return nil, err
		}

		if _, err := s.repo.CreateOrderItem(ctx, params); err != nil {
			// A concurrent materialization inserted this key between our
			// check and the insert; its row is as good as ours.
			if errors.Is(err, repository.ErrUniqueViolation) {
				s.logger.Debug("order item already materialized",
					"order_id", order.ID,
					"natural_key", key,
				)
				continue
			}
			return nil, domain.Internal(err, "order.materialize", "failed to insert order item")
		}
	}

	items, err := s.repo.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, domain.Internal(err, "order.materialize", "failed to list order items")
	}

	if err := s.signalFulfillment(ctx, order, items); err != nil {
		return nil, err
	}
	return items, nil
}

// itemParams prices one snapshot entry in the order's currency and copies
// its category-specific attributes into the item's metadata verbatim.
func (s *materializerService) itemParams(order domain.Order, item domain.SnapshotItem, key string) (repository.CreateOrderItemParams, error) {
	line, err := s.pricer.LineTotal(item, order.Currency, false)
	if err != nil {
		return repository.CreateOrderItemParams{}, err
	}

	currency := order.Currency
	var exchangeRate *decimal.Decimal
	if line.Unconverted {
		// Conversion was unavailable; the row keeps the native figures and
		// carries no rate.
		currency = domain.CanonicalCurrencyCode(item.Currency)
	} else if domain.CanonicalCurrencyCode(item.Currency) != domain.CanonicalCurrencyCode(order.Currency) && !item.UnitPrice.IsZero() {
		rate := line.UnitPrice.Div(item.UnitPrice).Round(6)
		exchangeRate = &rate
	}

	meta := make(map[string]string, len(item.Meta)+4)
	for k, v := range item.Meta {
		meta[k] = v
	}

	params := repository.CreateOrderItemParams{
		OrderID:      order.ID,
		NaturalKey:   key,
		Category:     item.Category,
		Name:         item.Name,
		DomainName:   item.DomainName,
		UnitPrice:    line.UnitPrice,
		Currency:     currency,
		ExchangeRate: exchangeRate,
		Quantity:     item.Quantity,
		Total:        line.Total,
		Metadata:     meta,
	}

	switch item.Category {
	case domain.CategoryRegistration, domain.CategoryRenewal:
		params.DurationYears = item.Quantity
	case domain.CategoryHosting:
		params.DurationMonths = item.DurationMonths
		meta["duration_months"] = strconv.Itoa(int(item.DurationMonths))
		if item.HostingPlanID != nil {
			meta["hosting_plan_id"] = item.HostingPlanID.String()
		}
	case domain.CategorySubscriptionRenewal:
		params.DurationMonths = item.Quantity
		meta["billing_cycle"] = string(item.BillingCycle)
		if item.SubscriptionID != nil {
			meta["subscription_id"] = item.SubscriptionID.String()
		}
	default:
		return repository.CreateOrderItemParams{}, ErrUnknownCategory
	}

	return params, nil
}

// signalFulfillment enqueues downstream jobs for every item that has not yet
// been signalled, then stamps each item so a later run does not signal it
// again. An enqueue failure leaves the item unstamped and aborts, so the next
// materialization run picks the signal back up. Renewal items drive registry
// renewals, subscription-renewal items drive subscription extension.
// Registration and hosting items are fulfilled synchronously at order
// creation and need no job here.
func (s *materializerService) signalFulfillment(ctx context.Context, order domain.Order, items []domain.OrderItem) error {
	queues := make(map[string]bool)

	for _, item := range items {
		if item.SignalledAt != nil {
			continue
		}
		switch item.Category {
		case domain.CategoryRenewal:
			err := jobs.EnqueueRenewDomain(ctx, s.repo, jobs.RenewDomainPayload{
				OrderID:     order.ID,
				OrderItemID: item.ID,
				DomainName:  item.DomainName,
				Years:       item.DurationYears,
			})
			if err != nil {
				return domain.Internal(err, "order.materialize", "failed to enqueue renewal job")
			}
			s.markSignalled(ctx, order, item)
			queues[jobs.QueueFulfillment] = true
			s.countJob(jobs.JobTypeRenewDomain)

		case domain.CategorySubscriptionRenewal:
			subID, ok := item.Metadata["subscription_id"]
			if !ok {
				s.logger.Warn("subscription renewal item without subscription id",
					"order_id", order.ID,
					"order_item_id", item.ID,
				)
				continue
			}
			parsed, err := uuid.Parse(subID)
			if err != nil {
				return domain.Invalid("order.materialize", "malformed subscription id in item metadata")
			}
			err = jobs.EnqueueRenewSubscription(ctx, s.repo, jobs.RenewSubscriptionPayload{
				OrderID:        order.ID,
				OrderItemID:    item.ID,
				SubscriptionID: parsed,
			})
			if err != nil {
				return domain.Internal(err, "order.materialize", "failed to enqueue subscription renewal job")
			}
			s.markSignalled(ctx, order, item)
			queues[jobs.QueueSubscriptions] = true
			s.countJob(jobs.JobTypeRenewSubscription)
		}
	}

	for queue := range queues {
		s.notifier.Wake(queue)
	}
	return nil
}

// markSignalled stamps the item after its job hit the queue. A failed stamp
// is logged and tolerated; the job exists, and the worst case is one
// duplicate enqueue on the next run.
func (s *materializerService) markSignalled(ctx context.Context, order domain.Order, item domain.OrderItem) {
	if err := s.repo.MarkOrderItemSignalled(ctx, item.ID, s.now()); err != nil {
		s.logger.Error("failed to mark order item signalled",
			"order_id", order.ID,
			"order_item_id", item.ID,
			"error", err,
		)
	}
}

func (s *materializerService) countJob(jobType string) {
	if s.metrics != nil {
		s.metrics.JobsEnqueued.WithLabelValues(jobType).Inc()
	}
}
