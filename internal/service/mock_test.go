package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/repository"
)

// mockQuerier implements repository.Querier for testing
type mockQuerier struct {
	ListActiveCurrenciesFunc func(ctx context.Context) ([]domain.Currency, error)

	GetOrderFunc          func(ctx context.Context, id uuid.UUID) (domain.Order, error)
	CreateOrderFunc       func(ctx context.Context, arg repository.CreateOrderParams) (domain.Order, error)
	UpdateOrderStatusFunc func(ctx context.Context, arg repository.UpdateOrderStatusParams) (domain.Order, error)

	ListPaymentsForOrderFunc     func(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error)
	GetPaymentFunc               func(ctx context.Context, id uuid.UUID) (domain.Payment, error)
	CreatePaymentAttemptFunc     func(ctx context.Context, arg repository.CreatePaymentAttemptParams) (domain.Payment, error)
	UpdatePaymentResultFunc      func(ctx context.Context, arg repository.UpdatePaymentResultParams) (domain.Payment, error)
	ListStalePendingAttemptsFunc func(ctx context.Context, olderThan time.Time) ([]domain.Payment, error)

	ListOrderItemsFunc         func(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error)
	OrderItemExistsFunc        func(ctx context.Context, arg repository.OrderItemExistsParams) (bool, error)
	CreateOrderItemFunc        func(ctx context.Context, arg repository.CreateOrderItemParams) (domain.OrderItem, error)
	MarkOrderItemSignalledFunc func(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateFailedRegistrationFunc   func(ctx context.Context, arg repository.CreateFailedRegistrationParams) (domain.FailedDomainRegistration, error)
	GetFailedRegistrationFunc      func(ctx context.Context, id uuid.UUID) (domain.FailedDomainRegistration, error)
	UpdateFailedRegistrationFunc   func(ctx context.Context, arg repository.UpdateFailedRegistrationParams) (domain.FailedDomainRegistration, error)
	ListDueRegistrationRetriesFunc func(ctx context.Context, due time.Time) ([]domain.FailedDomainRegistration, error)

	GetSubscriptionFunc           func(ctx context.Context, id uuid.UUID) (domain.Subscription, error)
	GetActivePlanPriceFunc        func(ctx context.Context, arg repository.GetActivePlanPriceParams) (domain.PlanPrice, error)
	UpdateSubscriptionRenewalFunc func(ctx context.Context, arg repository.UpdateSubscriptionRenewalParams) (domain.Subscription, error)

	EnqueueJobFunc   func(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error)
	ClaimNextJobFunc func(ctx context.Context, arg repository.ClaimNextJobParams) (repository.Job, error)
	CompleteJobFunc  func(ctx context.Context, id uuid.UUID) error
	FailJobFunc      func(ctx context.Context, arg repository.FailJobParams) (repository.Job, error)
}

func (m *mockQuerier) ListActiveCurrencies(ctx context.Context) ([]domain.Currency, error) {
	if m.ListActiveCurrenciesFunc != nil {
		return m.ListActiveCurrenciesFunc(ctx)
	}
	return nil, nil
}

func (m *mockQuerier) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, id)
	}
	return domain.Order{}, repository.ErrNotFound
}

func (m *mockQuerier) CreateOrder(ctx context.Context, arg repository.CreateOrderParams) (domain.Order, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, arg)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (m *mockQuerier) UpdateOrderStatus(ctx context.Context, arg repository.UpdateOrderStatusParams) (domain.Order, error) {
	if m.UpdateOrderStatusFunc != nil {
		return m.UpdateOrderStatusFunc(ctx, arg)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (m *mockQuerier) ListPaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	if m.ListPaymentsForOrderFunc != nil {
		return m.ListPaymentsForOrderFunc(ctx, orderID)
	}
	return nil, nil
}

func (m *mockQuerier) GetPayment(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	if m.GetPaymentFunc != nil {
		return m.GetPaymentFunc(ctx, id)
	}
	return domain.Payment{}, repository.ErrNotFound
}

func (m *mockQuerier) CreatePaymentAttempt(ctx context.Context, arg repository.CreatePaymentAttemptParams) (domain.Payment, error) {
	if m.CreatePaymentAttemptFunc != nil {
		return m.CreatePaymentAttemptFunc(ctx, arg)
	}
	return domain.Payment{}, errors.New("not implemented")
}

func (m *mockQuerier) UpdatePaymentResult(ctx context.Context, arg repository.UpdatePaymentResultParams) (domain.Payment, error) {
	if m.UpdatePaymentResultFunc != nil {
		return m.UpdatePaymentResultFunc(ctx, arg)
	}
	return domain.Payment{}, errors.New("not implemented")
}

func (m *mockQuerier) ListStalePendingAttempts(ctx context.Context, olderThan time.Time) ([]domain.Payment, error) {
	if m.ListStalePendingAttemptsFunc != nil {
		return m.ListStalePendingAttemptsFunc(ctx, olderThan)
	}
	return nil, nil
}

func (m *mockQuerier) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	if m.ListOrderItemsFunc != nil {
		return m.ListOrderItemsFunc(ctx, orderID)
	}
	return nil, nil
}

func (m *mockQuerier) OrderItemExists(ctx context.Context, arg repository.OrderItemExistsParams) (bool, error) {
	if m.OrderItemExistsFunc != nil {
		return m.OrderItemExistsFunc(ctx, arg)
	}
	return false, nil
}

func (m *mockQuerier) CreateOrderItem(ctx context.Context, arg repository.CreateOrderItemParams) (domain.OrderItem, error) {
	if m.CreateOrderItemFunc != nil {
		return m.CreateOrderItemFunc(ctx, arg)
	}
	return domain.OrderItem{}, errors.New("not implemented")
}

func (m *mockQuerier) MarkOrderItemSignalled(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.MarkOrderItemSignalledFunc != nil {
		return m.MarkOrderItemSignalledFunc(ctx, id, at)
	}
	return nil
}

func (m *mockQuerier) CreateFailedRegistration(ctx context.Context, arg repository.CreateFailedRegistrationParams) (domain.FailedDomainRegistration, error) {
	if m.CreateFailedRegistrationFunc != nil {
		return m.CreateFailedRegistrationFunc(ctx, arg)
	}
	return domain.FailedDomainRegistration{}, errors.New("not implemented")
}

func (m *mockQuerier) GetFailedRegistration(ctx context.Context, id uuid.UUID) (domain.FailedDomainRegistration, error) {
	if m.GetFailedRegistrationFunc != nil {
		return m.GetFailedRegistrationFunc(ctx, id)
	}
	return domain.FailedDomainRegistration{}, repository.ErrNotFound
}

func (m *mockQuerier) UpdateFailedRegistration(ctx context.Context, arg repository.UpdateFailedRegistrationParams) (domain.FailedDomainRegistration, error) {
	if m.UpdateFailedRegistrationFunc != nil {
		return m.UpdateFailedRegistrationFunc(ctx, arg)
	}
	return domain.FailedDomainRegistration{}, errors.New("not implemented")
}

func (m *mockQuerier) ListDueRegistrationRetries(ctx context.Context, due time.Time) ([]domain.FailedDomainRegistration, error) {
	if m.ListDueRegistrationRetriesFunc != nil {
		return m.ListDueRegistrationRetriesFunc(ctx, due)
	}
	return nil, nil
}

func (m *mockQuerier) GetSubscription(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, id)
	}
	return domain.Subscription{}, repository.ErrNotFound
}

func (m *mockQuerier) GetActivePlanPrice(ctx context.Context, arg repository.GetActivePlanPriceParams) (domain.PlanPrice, error) {
	if m.GetActivePlanPriceFunc != nil {
		return m.GetActivePlanPriceFunc(ctx, arg)
	}
	return domain.PlanPrice{}, repository.ErrNotFound
}

func (m *mockQuerier) UpdateSubscriptionRenewal(ctx context.Context, arg repository.UpdateSubscriptionRenewalParams) (domain.Subscription, error) {
	if m.UpdateSubscriptionRenewalFunc != nil {
		return m.UpdateSubscriptionRenewalFunc(ctx, arg)
	}
	return domain.Subscription{}, errors.New("not implemented")
}

func (m *mockQuerier) EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
	if m.EnqueueJobFunc != nil {
		return m.EnqueueJobFunc(ctx, arg)
	}
	return repository.Job{ID: uuid.New(), JobType: arg.JobType, Queue: arg.Queue, Payload: arg.Payload}, nil
}

func (m *mockQuerier) ClaimNextJob(ctx context.Context, arg repository.ClaimNextJobParams) (repository.Job, error) {
	if m.ClaimNextJobFunc != nil {
		return m.ClaimNextJobFunc(ctx, arg)
	}
	return repository.Job{}, repository.ErrNotFound
}

func (m *mockQuerier) CompleteJob(ctx context.Context, id uuid.UUID) error {
	if m.CompleteJobFunc != nil {
		return m.CompleteJobFunc(ctx, id)
	}
	return nil
}

func (m *mockQuerier) FailJob(ctx context.Context, arg repository.FailJobParams) (repository.Job, error) {
	if m.FailJobFunc != nil {
		return m.FailJobFunc(ctx, arg)
	}
	return repository.Job{}, nil
}

// discardLogger returns a logger that drops everything, for tests that do
// not assert on log output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
