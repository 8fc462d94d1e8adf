package currency

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/skadi/internal/domain"
)

// Converter converts amounts between active currencies via the base
// currency. It is a pure function over the store's current snapshot; the
// store refreshes out-of-band.
type Converter struct {
	store *Store

	// maxRateAge is how stale a non-base rate may be before conversion
	// refuses with RateUnavailable. Zero disables the check.
	maxRateAge time.Duration

	now func() time.Time
}

// NewConverter creates a converter over the given rate store.
func NewConverter(store *Store, maxRateAge time.Duration) *Converter {
	return &Converter{
		store:      store,
		maxRateAge: maxRateAge,
		now:        time.Now,
	}
}

// Convert converts amount from one currency to another.
//
// When from == to the amount is returned unchanged with no rounding;
// callers rely on this to avoid cumulative rounding drift when summing
// same-currency lines. Otherwise the amount is taken through the base
// currency and rounded to the target's minor-unit precision.
func (c *Converter) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from = domain.CanonicalCurrencyCode(from)
	to = domain.CanonicalCurrencyCode(to)

	if from == to {
		return amount, nil
	}

	src, ok := c.store.Lookup(from)
	if !ok {
		return decimal.Zero, domain.WrapError(domain.ErrCurrencyNotFound, domain.ENOTFOUND, "currency.convert", "unknown source currency "+from)
	}
	dst, ok := c.store.Lookup(to)
	if !ok {
		return decimal.Zero, domain.WrapError(domain.ErrCurrencyNotFound, domain.ENOTFOUND, "currency.convert", "unknown target currency "+to)
	}

	if err := c.checkRate(src); err != nil {
		return decimal.Zero, err
	}
	if err := c.checkRate(dst); err != nil {
		return decimal.Zero, err
	}

	baseAmount := amount
	if !src.IsBase {
		baseAmount = amount.Div(src.ExchangeRate)
	}

	result := baseAmount
	if !dst.IsBase {
		result = baseAmount.Mul(dst.ExchangeRate)
	}

	return result.Round(dst.DecimalPlaces()), nil
}

// checkRate validates that a non-base currency has a usable rate. A
// missing or non-positive rate, or one older than maxRateAge, refuses the
// conversion; silently propagating would price lines at zero.
func (c *Converter) checkRate(cur domain.Currency) error {
	if cur.IsBase {
		return nil
	}
	if cur.ExchangeRate.LessThanOrEqual(decimal.Zero) {
		return domain.WrapError(domain.ErrRateUnavailable, domain.EUNAVAILABLE, "currency.convert", "no exchange rate for "+cur.Code)
	}
	if c.maxRateAge > 0 {
		if cur.RateUpdatedAt.IsZero() || c.now().Sub(cur.RateUpdatedAt) > c.maxRateAge {
			return domain.WrapError(domain.ErrRateUnavailable, domain.EUNAVAILABLE, "currency.convert", "stale exchange rate for "+cur.Code)
		}
	}
	return nil
}
