package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment-related domain errors.
var (
	ErrPaymentNotFound     = &Error{Code: ENOTFOUND, Message: "Payment not found"}
	ErrAttemptInProgress   = &Error{Code: ECONFLICT, Message: "Order already has a pending payment attempt"}
	ErrAttemptsExhausted   = &Error{Code: EPAYMENT, Message: "Maximum payment attempts reached"}
	ErrDuplicateSuccess    = &Error{Code: EINTERNAL, Message: "Order has more than one succeeded payment"}
)

// AttemptStatus is the state of a single payment attempt.
// pending -> succeeded is terminal; pending -> failed may be followed by a
// fresh attempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// Terminal reports whether the attempt can no longer transition.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSucceeded || s == AttemptFailed
}

// Payment is one attempt at charging an order. An order may accumulate
// many attempts, numbered from 1 with no gaps; at most one may be pending
// at a time and at most one may ever succeed.
type Payment struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	AttemptNumber int32
	Status        AttemptStatus

	// Amount and Currency reflect what was (or will be) actually charged.
	// When the gateway settles in a different currency than the order,
	// the reconciler overwrites these with the charged values and records
	// the originals in ConversionMeta.
	Amount   decimal.Decimal
	Currency string

	// ExternalRef starts as a deterministic placeholder
	// (pending-{order}-{attempt}-{uuid}) so the row is insertable before
	// the gateway assigns a real reference.
	ExternalRef    string
	Gateway        string
	FailureDetail  []byte // structured gateway failure payload, nullable
	ConversionMeta []byte // original amount/currency + rate, nullable

	PaidAt          *time.Time
	LastAttemptedAt *time.Time
	CreatedAt       time.Time
}

// Age returns how long the attempt has been outstanding. The external
// reconciliation sweep uses this to find attempts that never received a
// gateway result.
func (p Payment) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// GatewayResult is the asynchronously delivered outcome of a gateway
// charge. This engine never speaks a gateway's wire protocol; it reacts to
// this contract.
type GatewayResult struct {
	ExternalRef   string
	Success       bool
	Amount        decimal.Decimal
	Currency      string
	FailureDetail []byte
}

// ChargeRequest is what this engine hands a gateway when initiating an
// attempt. Transport and SDK specifics live outside the core.
type ChargeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	OrderReference string
	ReturnURL      string
}

// ConversionRecord captures the pre-conversion charge estimate when the
// gateway settled in a different currency.
type ConversionRecord struct {
	OriginalAmount   decimal.Decimal `json:"original_amount"`
	OriginalCurrency string          `json:"original_currency"`
	ChargedAmount    decimal.Decimal `json:"charged_amount"`
	ChargedCurrency  string          `json:"charged_currency"`
}
