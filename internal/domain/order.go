package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order-related domain errors.
var (
	ErrOrderNotFound            = &Error{Code: ENOTFOUND, Message: "Order not found"}
	ErrEmptyOrderSnapshot       = &Error{Code: EINVALID, Message: "Order has no item snapshot"}
	ErrDuplicateMaterialization = &Error{Code: ECONFLICT, Message: "Order item already materialized"}
)

// OrderStatus represents the fulfillment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusProcessing        OrderStatus = "processing"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusPartiallyComplete OrderStatus = "partially_completed"
	OrderStatusRequiresAttention OrderStatus = "requires_attention"
)

// PaymentStatus represents the payment state of an order as a whole,
// distinct from the status of individual payment attempts.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusManual    PaymentStatus = "manual"
)

// ItemCategory identifies what kind of good a line item is. Pricing,
// materialization metadata, and fulfillment routing all branch on it.
type ItemCategory string

const (
	CategoryRegistration        ItemCategory = "registration"
	CategoryRenewal             ItemCategory = "renewal"
	CategoryHosting             ItemCategory = "hosting"
	CategorySubscriptionRenewal ItemCategory = "subscription_renewal"
)

// BillingCycle is the renewal period of a subscription-type item.
type BillingCycle string

const (
	CycleMonthly  BillingCycle = "monthly"
	CycleAnnually BillingCycle = "annually"
)

// Order is the financial root entity. The item snapshot is captured at
// checkout and is immutable afterwards; materialization rebuilds order
// items from it, never from live catalog data.
type Order struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	OrderNumber   string
	Currency      string
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	Status        OrderStatus
	PaymentStatus PaymentStatus
	ItemsSnapshot []byte // JSON-encoded []SnapshotItem, immutable
	CouponID      *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SnapshotItem is one line of the checkout-time item snapshot. Fields are
// category-specific: a registration carries DomainName and Years, a
// hosting line carries HostingPlanID and DurationMonths, a subscription
// renewal carries SubscriptionID and BillingCycle. Meta holds
// category-agnostic extensions.
type SnapshotItem struct {
	Category   ItemCategory `json:"category"`
	Name       string       `json:"name"`
	DomainName string       `json:"domain_name,omitempty"`

	// UnitPrice is the stored price in the item's native currency. Its
	// meaning depends on the category: per-year for domains, per-period
	// for hosting, per-cycle for subscription renewals.
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency"`
	Quantity  int32           `json:"quantity"`

	// DisplayUnitPrice overrides UnitPrice for subscription renewals when
	// present (the price the customer was shown at checkout).
	DisplayUnitPrice *decimal.Decimal `json:"display_unit_price,omitempty"`

	// MonthlyUnitPrice is the cached monthly price for hosting lines.
	// When absent it is derived as UnitPrice / DurationMonths.
	MonthlyUnitPrice *decimal.Decimal `json:"monthly_unit_price,omitempty"`

	DurationMonths int32        `json:"duration_months,omitempty"`
	BillingCycle   BillingCycle `json:"billing_cycle,omitempty"`

	HostingPlanID  *uuid.UUID `json:"hosting_plan_id,omitempty"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`

	Meta map[string]string `json:"meta,omitempty"`
}

// NaturalKey identifies a snapshot item within its order for idempotent
// materialization. Domain items key on the domain name; everything else
// keys on category plus display name.
func (it SnapshotItem) NaturalKey() string {
	if it.DomainName != "" {
		return it.DomainName
	}
	return string(it.Category) + ":" + it.Name
}

// ParseItemSnapshot decodes an order's immutable item snapshot.
func ParseItemSnapshot(raw []byte) ([]SnapshotItem, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyOrderSnapshot
	}
	var items []SnapshotItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, WrapError(err, EINVALID, "order.parse_snapshot", "malformed item snapshot")
	}
	return items, nil
}

// EncodeItemSnapshot encodes line items for storage on a new order.
func EncodeItemSnapshot(items []SnapshotItem) ([]byte, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, WrapError(err, EINTERNAL, "order.encode_snapshot", "failed to encode item snapshot")
	}
	return raw, nil
}

// OrderItem is a persisted, queryable row materialized from one snapshot
// entry after payment.
type OrderItem struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	Category     ItemCategory
	Name         string
	DomainName   string
	UnitPrice    decimal.Decimal
	Currency     string
	ExchangeRate *decimal.Decimal // rate applied at checkout, if converted
	Quantity     int32
	// DurationYears for domain categories, DurationMonths for hosting and
	// subscription renewals; the unused one is zero.
	DurationYears  int32
	DurationMonths int32
	Total          decimal.Decimal
	Metadata       map[string]string
	// SignalledAt is set once the item's fulfillment job has been
	// enqueued, so a re-run of materialization neither loses nor
	// duplicates the signal.
	SignalledAt *time.Time
	CreatedAt   time.Time
}

// DiscountType is how a coupon's value is interpreted.
type DiscountType string

const (
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

// Coupon is read-only to this engine; validation and usage accounting
// belong to the checkout flow that issued it.
type Coupon struct {
	ID         uuid.UUID
	Code       string
	Type       DiscountType
	Value      decimal.Decimal
	MaxUses    int32
	Uses       int32
	ValidFrom  time.Time
	ValidUntil time.Time
}

// Usable reports whether the coupon may still be applied at the given time.
func (c Coupon) Usable(now time.Time) bool {
	if c.MaxUses > 0 && c.Uses >= c.MaxUses {
		return false
	}
	if now.Before(c.ValidFrom) {
		return false
	}
	if !c.ValidUntil.IsZero() && now.After(c.ValidUntil) {
		return false
	}
	return true
}
