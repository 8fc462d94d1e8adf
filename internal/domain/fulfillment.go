package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fulfillment-related domain errors.
var (
	ErrRegistrationNotFound = &Error{Code: ENOTFOUND, Message: "Failed registration record not found"}
	ErrInvalidTransition    = &Error{Code: ECONFLICT, Message: "Invalid retry state transition"}
)

// RetryStatus is the state of a failed-registration record.
// pending -> retrying -> {resolved | abandoned}; retrying may loop on
// itself until the budget is spent. resolved and abandoned are terminal.
type RetryStatus string

const (
	RetryPending   RetryStatus = "pending"
	RetryRetrying  RetryStatus = "retrying"
	RetryResolved  RetryStatus = "resolved"
	RetryAbandoned RetryStatus = "abandoned"
)

// Terminal reports whether no further transitions are allowed.
func (s RetryStatus) Terminal() bool {
	return s == RetryResolved || s == RetryAbandoned
}

// DefaultMaxRetries is the retry budget for a failed registration unless
// the record says otherwise.
const DefaultMaxRetries = 3

// FailedDomainRegistration tracks a paid registration item whose
// fulfillment at the registry failed. Payment has already succeeded;
// this record exists so the registration itself can be retried.
type FailedDomainRegistration struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	OrderItemID     uuid.UUID
	DomainName      string
	FailureReason   string
	RetryCount      int32
	MaxRetries      int32
	Status          RetryStatus
	LastAttemptedAt *time.Time
	NextRetryAt     *time.Time
	ResolvedAt      *time.Time
	CreatedAt       time.Time
}

// CanRetry reports whether another retry attempt is permitted.
func (r FailedDomainRegistration) CanRetry() bool {
	if r.Status.Terminal() {
		return false
	}
	return r.RetryCount < r.MaxRetries
}

// RegisterDomainParams is what this engine hands the registrar client.
type RegisterDomainParams struct {
	DomainName  string
	Contacts    []string
	Nameservers []string
	Years       int32
}

// RenewDomainParams requests a registry-side renewal of an existing name.
type RenewDomainParams struct {
	DomainName string
	Years      int32
}

// Registrar is the EPP-style fulfillment collaborator. The wire protocol
// lives outside the core; failures surface as errors whose message becomes
// the FailedDomainRegistration failure reason.
type Registrar interface {
	RegisterDomain(ctx context.Context, params RegisterDomainParams) error
	RenewDomain(ctx context.Context, params RenewDomainParams) error
}
