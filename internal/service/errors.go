package service

import (
	"github.com/dukerupert/skadi/internal/domain"
)

// Currency and pricing errors.
var (
	ErrCurrencyNotFound = domain.ErrCurrencyNotFound
	ErrRateUnavailable  = domain.ErrRateUnavailable
	ErrUnknownCategory  = domain.Errorf(domain.EINVALID, "", "Unknown line item category")
	ErrInvalidDuration  = domain.Errorf(domain.EINVALID, "", "Item duration must be greater than 0")
)

// Payment attempt and reconciliation errors.
var (
	ErrOrderNotFound     = domain.ErrOrderNotFound
	ErrPaymentNotFound   = domain.ErrPaymentNotFound
	ErrAttemptInProgress = domain.ErrAttemptInProgress
	ErrAttemptsExhausted = domain.ErrAttemptsExhausted
	ErrDuplicateSuccess  = domain.ErrDuplicateSuccess
)

// Subscription renewal errors.
var (
	ErrSubscriptionNotFound = domain.ErrSubscriptionNotFound
	ErrPlanPriceNotFound    = domain.ErrPlanPriceNotFound
	ErrPaymentMismatch      = domain.ErrPaymentMismatch
	ErrInvalidMonths        = domain.Errorf(domain.EINVALID, "", "Renewal months must be greater than 0")
)

// Fulfillment retry errors.
var (
	ErrRegistrationNotFound = domain.ErrRegistrationNotFound
	ErrInvalidTransition    = domain.ErrInvalidTransition
)
