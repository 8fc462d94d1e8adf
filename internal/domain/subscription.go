package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subscription-related domain errors.
var (
	ErrSubscriptionNotFound = &Error{Code: ENOTFOUND, Message: "Subscription not found"}
	ErrPlanPriceNotFound    = &Error{Code: ENOTFOUND, Message: "No active price for plan and billing cycle"}
	ErrPaymentMismatch      = &Error{Code: EPAYMENT, Message: "Paid amount does not match expected renewal price"}
)

// SubscriptionStatus represents the billing state of a hosting subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionSuspended SubscriptionStatus = "suspended"
)

// Subscription is a user's hosting subscription. Expiry fields are mutated
// only by the renewal engine; expires_at moves forward, never back.
type Subscription struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	PlanID               uuid.UUID
	PlanPriceID          uuid.UUID
	Status               SubscriptionStatus
	BillingCycle         BillingCycle
	StartsAt             time.Time
	ExpiresAt            *time.Time
	NextRenewalAt        *time.Time
	LastRenewalAttemptAt *time.Time
	AutoRenew            bool
	ProductSnapshot      []byte // JSON ProductSnapshot, append-only audit trail
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PlanPrice is the active price of a hosting plan for a billing cycle.
type PlanPrice struct {
	ID           uuid.UUID
	PlanID       uuid.UUID
	BillingCycle BillingCycle
	Price        decimal.Decimal
	Currency     string
	IsActive     bool
}

// ExpectedAmount is the renewal charge for n billing cycles at this price.
func (p PlanPrice) ExpectedAmount(cycles int32) decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt32(cycles))
}

// ProductSnapshot is the audit trail stored on a subscription: every plan
// price version the subscription has used and every renewal applied to it.
// Renewals are append-only and never rewritten.
type ProductSnapshot struct {
	Prices   []PriceSnapshot `json:"prices,omitempty"`
	Renewals []RenewalRecord `json:"renewals,omitempty"`
}

// PriceSnapshot is a plan-price version captured when adopted.
type PriceSnapshot struct {
	PlanPriceID  uuid.UUID       `json:"plan_price_id"`
	BillingCycle BillingCycle    `json:"billing_cycle"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	CapturedAt   time.Time       `json:"captured_at"`
}

// RenewalRecord is one applied renewal.
type RenewalRecord struct {
	RenewedAt    time.Time        `json:"renewed_at"`
	BillingCycle BillingCycle     `json:"billing_cycle,omitempty"`
	Months       int32            `json:"months,omitempty"`
	PaidAmount   *decimal.Decimal `json:"paid_amount,omitempty"`
	Comp         bool             `json:"comp,omitempty"`
	NewExpiry    time.Time        `json:"new_expiry"`
	PriceUsed    *PriceSnapshot   `json:"price_used,omitempty"`
}

// ParseProductSnapshot decodes the audit trail; an empty column yields an
// empty snapshot rather than an error.
func ParseProductSnapshot(raw []byte) (ProductSnapshot, error) {
	var snap ProductSnapshot
	if len(raw) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, WrapError(err, EINTERNAL, "subscription.parse_snapshot", "malformed product snapshot")
	}
	return snap, nil
}

// AppendRenewal returns the snapshot with one more renewal entry encoded.
// Existing entries are never modified.
func AppendRenewal(raw []byte, rec RenewalRecord) ([]byte, error) {
	snap, err := ParseProductSnapshot(raw)
	if err != nil {
		return nil, err
	}
	snap.Renewals = append(snap.Renewals, rec)
	out, err := json.Marshal(snap)
	if err != nil {
		return nil, WrapError(err, EINTERNAL, "subscription.append_renewal", "failed to encode product snapshot")
	}
	return out, nil
}
