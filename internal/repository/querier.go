// Package repository defines the storage contract for the reconciliation
// engine. Implementations: internal/postgres (pgx) and the in-memory store
// used by service tests.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/skadi/internal/domain"
)

// Sentinel errors implementations translate driver errors into.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("repository: not found")

	// ErrUniqueViolation is returned when an insert hits a unique
	// constraint: a second pending payment attempt for an order, or a
	// concurrent materialization of the same order item.
	ErrUniqueViolation = errors.New("repository: unique constraint violation")

	// ErrAlreadySettled is returned by UpdatePaymentResult when the
	// attempt left pending between the caller's read and the write. The
	// attempt exists; some other writer settled it first.
	ErrAlreadySettled = errors.New("repository: payment attempt already settled")
)

// Querier is the full storage contract. All money columns are stored as
// fixed-point numerics in the currency's minor unit for 2-decimal
// currencies and major unit for zero-decimal currencies; the decimal codec
// preserves the distinction.
type Querier interface {
	// Currencies
	ListActiveCurrencies(ctx context.Context) ([]domain.Currency, error)

	// Orders
	GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error)
	CreateOrder(ctx context.Context, params CreateOrderParams) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, params UpdateOrderStatusParams) (domain.Order, error)

	// Payments
	ListPaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (domain.Payment, error)
	// CreatePaymentAttempt inserts a pending attempt. The store enforces
	// at most one pending attempt per order (partial unique index);
	// a conflicting insert returns ErrUniqueViolation.
	CreatePaymentAttempt(ctx context.Context, params CreatePaymentAttemptParams) (domain.Payment, error)
	// UpdatePaymentResult settles a pending attempt. The write is a
	// compare-and-swap on status = pending; losing the swap returns
	// ErrAlreadySettled.
	UpdatePaymentResult(ctx context.Context, params UpdatePaymentResultParams) (domain.Payment, error)
	ListStalePendingAttempts(ctx context.Context, olderThan time.Time) ([]domain.Payment, error)

	// Order items
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error)
	OrderItemExists(ctx context.Context, params OrderItemExistsParams) (bool, error)
	// CreateOrderItem returns ErrUniqueViolation when the (order_id,
	// natural_key) row already exists.
	CreateOrderItem(ctx context.Context, params CreateOrderItemParams) (domain.OrderItem, error)
	// MarkOrderItemSignalled stamps the item's fulfillment job as
	// enqueued.
	MarkOrderItemSignalled(ctx context.Context, id uuid.UUID, at time.Time) error

	// Failed domain registrations
	CreateFailedRegistration(ctx context.Context, params CreateFailedRegistrationParams) (domain.FailedDomainRegistration, error)
	GetFailedRegistration(ctx context.Context, id uuid.UUID) (domain.FailedDomainRegistration, error)
	UpdateFailedRegistration(ctx context.Context, params UpdateFailedRegistrationParams) (domain.FailedDomainRegistration, error)
	ListDueRegistrationRetries(ctx context.Context, due time.Time) ([]domain.FailedDomainRegistration, error)

	// Subscriptions
	GetSubscription(ctx context.Context, id uuid.UUID) (domain.Subscription, error)
	GetActivePlanPrice(ctx context.Context, params GetActivePlanPriceParams) (domain.PlanPrice, error)
	UpdateSubscriptionRenewal(ctx context.Context, params UpdateSubscriptionRenewalParams) (domain.Subscription, error)

	// Background jobs
	EnqueueJob(ctx context.Context, params EnqueueJobParams) (Job, error)
	ClaimNextJob(ctx context.Context, params ClaimNextJobParams) (Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	FailJob(ctx context.Context, params FailJobParams) (Job, error)
}

// CreateOrderParams contains parameters for creating an order.
type CreateOrderParams struct {
	UserID        uuid.UUID
	OrderNumber   string
	Currency      string
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	ItemsSnapshot []byte
	CouponID      *uuid.UUID
}

// UpdateOrderStatusParams updates the order lifecycle and payment status.
// Nil fields are left unchanged.
type UpdateOrderStatusParams struct {
	ID            uuid.UUID
	Status        *domain.OrderStatus
	PaymentStatus *domain.PaymentStatus
}

// CreatePaymentAttemptParams contains parameters for inserting a pending
// payment attempt.
type CreatePaymentAttemptParams struct {
	OrderID       uuid.UUID
	AttemptNumber int32
	Amount        decimal.Decimal
	Currency      string
	ExternalRef   string
	Gateway       string
}

// UpdatePaymentResultParams applies a gateway outcome to an attempt.
type UpdatePaymentResultParams struct {
	ID             uuid.UUID
	Status         domain.AttemptStatus
	Amount         decimal.Decimal
	Currency       string
	ExternalRef    string
	FailureDetail  []byte
	ConversionMeta []byte
	PaidAt         *time.Time
	LastAttemptedAt *time.Time
}

// OrderItemExistsParams identifies an order item by its natural key.
type OrderItemExistsParams struct {
	OrderID    uuid.UUID
	NaturalKey string
}

// CreateOrderItemParams contains parameters for materializing one item.
type CreateOrderItemParams struct {
	OrderID        uuid.UUID
	NaturalKey     string
	Category       domain.ItemCategory
	Name           string
	DomainName     string
	UnitPrice      decimal.Decimal
	Currency       string
	ExchangeRate   *decimal.Decimal
	Quantity       int32
	DurationYears  int32
	DurationMonths int32
	Total          decimal.Decimal
	Metadata       map[string]string
}

// CreateFailedRegistrationParams records a registration fulfillment failure.
type CreateFailedRegistrationParams struct {
	OrderID       uuid.UUID
	OrderItemID   uuid.UUID
	DomainName    string
	FailureReason string
	MaxRetries    int32
}

// UpdateFailedRegistrationParams persists a retry-state transition.
type UpdateFailedRegistrationParams struct {
	ID              uuid.UUID
	Status          domain.RetryStatus
	RetryCount      int32
	FailureReason   string
	LastAttemptedAt *time.Time
	NextRetryAt     *time.Time
	ResolvedAt      *time.Time
}

// GetActivePlanPriceParams looks up the active price of a plan for a cycle.
type GetActivePlanPriceParams struct {
	PlanID       uuid.UUID
	BillingCycle domain.BillingCycle
}

// UpdateSubscriptionRenewalParams persists a renewal extension.
type UpdateSubscriptionRenewalParams struct {
	ID                   uuid.UUID
	Status               domain.SubscriptionStatus
	BillingCycle         domain.BillingCycle
	ExpiresAt            time.Time
	NextRenewalAt        time.Time
	LastRenewalAttemptAt time.Time
	ProductSnapshot      []byte
}

// Job is one row in the background job queue.
type Job struct {
	ID             uuid.UUID
	JobType        string
	Queue          string
	Payload        []byte
	Priority       int32
	RetryCount     int32
	MaxRetries     int32
	Status         string
	ScheduledAt    time.Time
	TimeoutSeconds int32
	LastError      string
	CreatedAt      time.Time
}

// EnqueueJobParams contains parameters for enqueuing a job.
type EnqueueJobParams struct {
	JobType        string
	Queue          string
	Payload        []byte
	Priority       int32
	MaxRetries     int32
	ScheduledAt    time.Time
	TimeoutSeconds int32
}

// ClaimNextJobParams claims the next runnable job for a worker.
type ClaimNextJobParams struct {
	WorkerID string
	Queue    string
	Now      time.Time
}

// FailJobParams records a job failure; the store reschedules or marks the
// job dead depending on its retry budget.
type FailJobParams struct {
	ID           uuid.UUID
	ErrorMessage string
}
