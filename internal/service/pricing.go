package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/skadi/internal/currency"
	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/telemetry"
)

// PricedLine is the result of pricing one cart/order line in a target
// currency. Unconverted is set when conversion failed and the non-strict
// fallback substituted the native-currency amount; callers must surface
// it as a "currency unavailable" indicator rather than a silently wrong
// total.
type PricedLine struct {
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
	Currency    string
	Unconverted bool
}

// SubtotalResult is the sum over a cart's lines.
type SubtotalResult struct {
	Amount      decimal.Decimal
	Currency    string
	Unconverted bool // at least one line fell back to its native price
}

// Pricer derives unit prices and line totals per item category. "Unit
// price" means different things per category, so the branching lives
// here and nowhere else.
type Pricer struct {
	converter *currency.Converter
	metrics   *telemetry.Metrics
}

// NewPricer creates a pricer over the given converter. Metrics may
// be nil.
func NewPricer(converter *currency.Converter, metrics *telemetry.Metrics) *Pricer {
	return &Pricer{converter: converter, metrics: metrics}
}

// UnitPrice returns the converted per-unit price for the line.
//
// strict controls conversion-failure policy: payment-amount validation
// requires strict=true (failures propagate and the caller must abort);
// display-only summation may pass strict=false and receives the native
// amount flagged Unconverted.
func (p *Pricer) UnitPrice(item domain.SnapshotItem, target string, strict bool) (PricedLine, error) {
	line, err := p.price(item, target)
	if err != nil {
		return p.fallback(item, err, strict)
	}
	return line, nil
}

// LineTotal returns the converted line total. The per-category totals are
// computed from the converted unit price, never by converting a
// pre-multiplied period price; the two orders differ in the last decimal
// and the unit-first path is the canonical one for auditability.
func (p *Pricer) LineTotal(item domain.SnapshotItem, target string, strict bool) (PricedLine, error) {
	return p.UnitPrice(item, target, strict)
}

func (p *Pricer) price(item domain.SnapshotItem, target string) (PricedLine, error) {
	target = domain.CanonicalCurrencyCode(target)

	switch item.Category {
	case domain.CategoryRegistration, domain.CategoryRenewal:
		// Stored price is already per-year in the native currency.
		unit, err := p.converter.Convert(item.UnitPrice, item.Currency, target)
		if err != nil {
			return PricedLine{}, err
		}
		return PricedLine{
			UnitPrice: unit,
			Total:     unit.Mul(decimal.NewFromInt32(item.Quantity)),
			Currency:  target,
		}, nil

	case domain.CategoryHosting:
		if item.DurationMonths <= 0 {
			return PricedLine{}, ErrInvalidDuration
		}
		// Stored price is a period price for DurationMonths. Derive the
		// monthly unit first, then convert, then multiply back out.
		monthly := item.UnitPrice.Div(decimal.NewFromInt32(item.DurationMonths))
		if item.MonthlyUnitPrice != nil {
			monthly = *item.MonthlyUnitPrice
		}
		unit, err := p.converter.Convert(monthly, item.Currency, target)
		if err != nil {
			return PricedLine{}, err
		}
		return PricedLine{
			UnitPrice: unit,
			Total:     unit.Mul(decimal.NewFromInt32(item.DurationMonths)),
			Currency:  target,
		}, nil

	case domain.CategorySubscriptionRenewal:
		// Prefer the price the customer was shown at checkout.
		stored := item.UnitPrice
		if item.DisplayUnitPrice != nil {
			stored = *item.DisplayUnitPrice
		}
		unit, err := p.converter.Convert(stored, item.Currency, target)
		if err != nil {
			return PricedLine{}, err
		}
		qty := decimal.NewFromInt32(item.Quantity)
		if item.BillingCycle != domain.CycleMonthly {
			// Quantity is counted in months; non-monthly cycles bill per
			// 12-month block.
			qty = qty.Div(decimal.NewFromInt(12))
		}
		return PricedLine{
			UnitPrice: unit,
			Total:     unit.Mul(qty),
			Currency:  target,
		}, nil

	default:
		return PricedLine{}, domain.Errorf(domain.EINVALID, "pricing.line_total", "unknown item category: %s", item.Category)
	}
}

// fallback applies the non-strict conversion-failure policy: substitute
// the unconverted native amount and flag it. Anything other than a
// conversion failure, or any failure under strict, propagates.
func (p *Pricer) fallback(item domain.SnapshotItem, err error, strict bool) (PricedLine, error) {
	code := domain.ErrorCode(err)
	if code == domain.ENOTFOUND || code == domain.EUNAVAILABLE {
		p.countConversionFailure(code)
	}
	if strict {
		return PricedLine{}, err
	}
	if code != domain.ENOTFOUND && code != domain.EUNAVAILABLE {
		return PricedLine{}, err
	}

	total := item.UnitPrice.Mul(decimal.NewFromInt32(item.Quantity))
	if item.Category == domain.CategoryHosting && item.DurationMonths > 0 {
		total = item.UnitPrice
	}
	return PricedLine{
		UnitPrice:   item.UnitPrice,
		Total:       total,
		Currency:    domain.CanonicalCurrencyCode(item.Currency),
		Unconverted: true,
	}, nil
}

func (p *Pricer) countConversionFailure(code string) {
	if p.metrics == nil {
		return
	}
	reason := "unknown_currency"
	if code == domain.EUNAVAILABLE {
		reason = "stale_rate"
	}
	p.metrics.ConversionFailures.WithLabelValues(reason).Inc()
}

// Valuation sums converted line totals into a cart/order subtotal. The
// same code path serves UI display and payment-amount validation so the
// two can never diverge.
type Valuation struct {
	pricer *Pricer
}

// NewValuation creates a valuation engine over the given pricer.
func NewValuation(pricer *Pricer) *Valuation {
	return &Valuation{pricer: pricer}
}

// Subtotal sums line totals over all items in the target currency. An
// empty cart yields zero. Items are never mutated.
func (v *Valuation) Subtotal(items []domain.SnapshotItem, target string, strict bool) (SubtotalResult, error) {
	result := SubtotalResult{
		Amount:   decimal.Zero,
		Currency: domain.CanonicalCurrencyCode(target),
	}

	for _, item := range items {
		line, err := v.pricer.LineTotal(item, target, strict)
		if err != nil {
			return SubtotalResult{}, err
		}
		result.Amount = result.Amount.Add(line.Total)
		result.Unconverted = result.Unconverted || line.Unconverted
	}

	return result, nil
}

// ApplyCoupon returns the subtotal after a coupon discount, floored at
// zero and rounded to the currency's precision. Coupon validity is the
// issuing flow's responsibility; an unusable coupon applies no discount.
func (v *Valuation) ApplyCoupon(subtotal decimal.Decimal, currencyCode string, coupon *domain.Coupon, now time.Time) decimal.Decimal {
	if coupon == nil || !coupon.Usable(now) {
		return subtotal
	}

	var discounted decimal.Decimal
	switch coupon.Type {
	case domain.DiscountPercentage:
		discounted = subtotal.Sub(subtotal.Mul(coupon.Value).Div(decimal.NewFromInt(100)))
	case domain.DiscountFixed:
		discounted = subtotal.Sub(coupon.Value)
	default:
		return subtotal
	}

	if discounted.IsNegative() {
		discounted = decimal.Zero
	}

	places := int32(2)
	if domain.IsZeroDecimal(currencyCode) {
		places = 0
	}
	return discounted.Round(places)
}
