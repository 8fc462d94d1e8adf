package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency-related domain errors.
var (
	ErrCurrencyNotFound = &Error{Code: ENOTFOUND, Message: "Currency not found or inactive"}
	ErrRateUnavailable  = &Error{Code: EUNAVAILABLE, Message: "Exchange rate missing or stale"}
	ErrNoBaseCurrency   = &Error{Code: EINTERNAL, Message: "No active base currency configured"}
)

// Currency represents a supported currency and its exchange rate relative
// to the single base currency.
type Currency struct {
	Code          string // ISO 4217, canonical (e.g. "USD", "RWF")
	Symbol        string
	Name          string
	ExchangeRate  decimal.Decimal // units of this currency per 1 base unit
	IsBase        bool
	IsActive      bool
	RateUpdatedAt time.Time
}

// DecimalPlaces returns the minor-unit precision for the currency.
func (c Currency) DecimalPlaces() int32 {
	if IsZeroDecimal(c.Code) {
		return 0
	}
	return 2
}

// zeroDecimalCurrencies are ISO 4217 exponent-0 currencies. Amounts in
// these currencies are whole numbers in the major unit and must never
// carry fractional minor units.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "ISK": {}, "JPY": {},
	"KES": {}, "KMF": {}, "KRW": {}, "PYG": {}, "RWF": {}, "TZS": {},
	"UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// IsZeroDecimal reports whether the currency has no minor unit.
func IsZeroDecimal(code string) bool {
	_, ok := zeroDecimalCurrencies[CanonicalCurrencyCode(code)]
	return ok
}

// legacyCurrencyAliases maps non-ISO codes seen in older data to their
// canonical ISO 4217 code. "FRW" predates the registry switch to "RWF".
var legacyCurrencyAliases = map[string]string{
	"FRW": "RWF",
}

// CanonicalCurrencyCode normalizes a currency code: trims whitespace,
// uppercases, and resolves legacy aliases. Every boundary that accepts a
// currency code from outside must pass it through here before comparing.
func CanonicalCurrencyCode(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if canonical, ok := legacyCurrencyAliases[c]; ok {
		return canonical
	}
	return c
}

// MinorUnits converts a major-unit amount to the currency's minor unit
// as an integer (cents for 2-decimal currencies, the amount itself for
// zero-decimal currencies). Gateways charge in minor units; mixing the
// two silently produces 100x pricing errors.
func MinorUnits(amount decimal.Decimal, code string) int64 {
	if IsZeroDecimal(code) {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// MajorUnits is the inverse of MinorUnits.
func MajorUnits(minor int64, code string) decimal.Decimal {
	if IsZeroDecimal(code) {
		return decimal.NewFromInt(minor)
	}
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100))
}
