package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/skadi/internal/currency"
	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/telemetry"
)

func testConverter(t *testing.T) *currency.Converter {
	t.Helper()

	now := time.Now()
	store := currency.NewStore(nil)
	store.SetSnapshot([]domain.Currency{
		{Code: "USD", ExchangeRate: decimal.NewFromInt(1), IsBase: true, IsActive: true, RateUpdatedAt: now},
		{Code: "EUR", ExchangeRate: decimal.RequireFromString("0.92"), IsActive: true, RateUpdatedAt: now},
		{Code: "RWF", ExchangeRate: decimal.RequireFromString("1325.50"), IsActive: true, RateUpdatedAt: now},
	})
	return currency.NewConverter(store, 24*time.Hour)
}

func testPricer(t *testing.T) *Pricer {
	t.Helper()
	return NewPricer(testConverter(t), nil)
}

func TestLineTotal_DomainYears(t *testing.T) {
	pricer := testPricer(t)

	// Two years of registration at 15.00 USD per year, priced in EUR.
	line, err := pricer.LineTotal(domain.SnapshotItem{
		Category:  domain.CategoryRegistration,
		Name:      "example.com",
		UnitPrice: decimal.RequireFromString("15.00"),
		Currency:  "USD",
		Quantity:  2,
	}, "EUR", true)
	require.NoError(t, err)

	assert.True(t, line.UnitPrice.Equal(decimal.RequireFromString("13.80")), "got %s", line.UnitPrice)
	assert.True(t, line.Total.Equal(decimal.RequireFromString("27.60")), "got %s", line.Total)
	assert.False(t, line.Unconverted)
}

func TestLineTotal_HostingMonthlyThenMultiply(t *testing.T) {
	// Annual hosting at 120.00 USD over 12 months, priced in EUR at 0.92:
	// monthly 10.00 USD converts to 9.20 EUR, line total 9.20 * 12.
	// Converting the annual price first would give 110.40 too here, but
	// the monthly-then-multiply path is the canonical one for audit.
	pricer := testPricer(t)

	line, err := pricer.LineTotal(domain.SnapshotItem{
		Category:       domain.CategoryHosting,
		Name:           "Basic Hosting",
		UnitPrice:      decimal.RequireFromString("120.00"),
		Currency:       "USD",
		Quantity:       1,
		DurationMonths: 12,
	}, "EUR", true)
	require.NoError(t, err)

	assert.True(t, line.UnitPrice.Equal(decimal.RequireFromString("9.20")), "monthly unit, got %s", line.UnitPrice)
	assert.True(t, line.Total.Equal(decimal.RequireFromString("110.40")), "got %s", line.Total)
}

func TestLineTotal_HostingCachedMonthlyPrice(t *testing.T) {
	pricer := testPricer(t)

	cached := decimal.RequireFromString("9.99")
	line, err := pricer.LineTotal(domain.SnapshotItem{
		Category:         domain.CategoryHosting,
		Name:             "Pro Hosting",
		UnitPrice:        decimal.RequireFromString("119.88"),
		MonthlyUnitPrice: &cached,
		Currency:         "USD",
		Quantity:         1,
		DurationMonths:   6,
	}, "USD", true)
	require.NoError(t, err)

	// Identity conversion, cached monthly price used as-is.
	assert.True(t, line.UnitPrice.Equal(cached))
	assert.True(t, line.Total.Equal(decimal.RequireFromString("59.94")), "got %s", line.Total)
}

func TestLineTotal_HostingZeroDurationRejected(t *testing.T) {
	pricer := testPricer(t)

	_, err := pricer.LineTotal(domain.SnapshotItem{
		Category:  domain.CategoryHosting,
		UnitPrice: decimal.RequireFromString("120.00"),
		Currency:  "USD",
		Quantity:  1,
	}, "USD", true)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestLineTotal_SubscriptionRenewal(t *testing.T) {
	pricer := testPricer(t)
	display := decimal.RequireFromString("9.99")

	tests := []struct {
		name string
		item domain.SnapshotItem
		want string
	}{
		{
			name: "monthly cycle counts quantity as months",
			item: domain.SnapshotItem{
				Category:         domain.CategorySubscriptionRenewal,
				UnitPrice:        decimal.RequireFromString("12.00"),
				DisplayUnitPrice: &display,
				Currency:         "USD",
				Quantity:         3,
				BillingCycle:     domain.CycleMonthly,
			},
			want: "29.97", // display price preferred over unit price
		},
		{
			name: "annual cycle treats quantity as months of a year",
			item: domain.SnapshotItem{
				Category:     domain.CategorySubscriptionRenewal,
				UnitPrice:    decimal.RequireFromString("99.00"),
				Currency:     "USD",
				Quantity:     24,
				BillingCycle: domain.CycleAnnually,
			},
			want: "198.00", // 24 months = 2 years at the annual price
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := pricer.LineTotal(tt.item, "USD", true)
			require.NoError(t, err)
			assert.True(t, line.Total.Equal(decimal.RequireFromString(tt.want)), "got %s", line.Total)
		})
	}
}

func TestLineTotal_StrictVsFallback(t *testing.T) {
	pricer := testPricer(t)

	item := domain.SnapshotItem{
		Category:  domain.CategoryRegistration,
		UnitPrice: decimal.RequireFromString("15.00"),
		Currency:  "USD",
		Quantity:  1,
	}

	// GBP is not in the snapshot at all.
	_, err := pricer.LineTotal(item, "GBP", true)
	require.Error(t, err, "strict pricing propagates conversion failure")

	line, err := pricer.LineTotal(item, "GBP", false)
	require.NoError(t, err)
	assert.True(t, line.Unconverted, "display pricing substitutes the native amount")
	assert.True(t, line.Total.Equal(decimal.RequireFromString("15.00")))
	assert.Equal(t, "USD", line.Currency)
}

func TestLineTotal_CountsConversionFailures(t *testing.T) {
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	pricer := NewPricer(testConverter(t), metrics)

	item := domain.SnapshotItem{
		Category:  domain.CategoryRegistration,
		UnitPrice: decimal.RequireFromString("15.00"),
		Currency:  "USD",
		Quantity:  1,
	}

	_, err := pricer.LineTotal(item, "GBP", true)
	require.Error(t, err)
	_, err = pricer.LineTotal(item, "GBP", false)
	require.NoError(t, err)

	got := testutil.ToFloat64(metrics.ConversionFailures.WithLabelValues("unknown_currency"))
	assert.Equal(t, float64(2), got, "both the strict and the fallback path count the failure")
}

func TestSubtotal(t *testing.T) {
	pricer := testPricer(t)
	valuation := NewValuation(pricer)

	t.Run("empty cart is zero", func(t *testing.T) {
		result, err := valuation.Subtotal(nil, "USD", true)
		require.NoError(t, err)
		assert.True(t, result.Amount.IsZero())
		assert.False(t, result.Unconverted)
	})

	t.Run("sums mixed categories", func(t *testing.T) {
		items := []domain.SnapshotItem{
			{
				Category:  domain.CategoryRegistration,
				Name:      "example.rw",
				UnitPrice: decimal.RequireFromString("15.00"),
				Currency:  "USD",
				Quantity:  1,
			},
			{
				Category:       domain.CategoryHosting,
				Name:           "Basic Hosting",
				UnitPrice:      decimal.RequireFromString("120.00"),
				Currency:       "USD",
				Quantity:       1,
				DurationMonths: 12,
			},
		}

		result, err := valuation.Subtotal(items, "EUR", true)
		require.NoError(t, err)
		// 13.80 + 110.40
		assert.True(t, result.Amount.Equal(decimal.RequireFromString("124.20")), "got %s", result.Amount)
	})

	t.Run("zero-decimal target is integral", func(t *testing.T) {
		items := []domain.SnapshotItem{
			{
				Category:  domain.CategoryRenewal,
				Name:      "example.rw",
				UnitPrice: decimal.RequireFromString("12.34"),
				Currency:  "USD",
				Quantity:  3,
			},
		}

		result, err := valuation.Subtotal(items, "RWF", true)
		require.NoError(t, err)
		assert.True(t, result.Amount.Equal(result.Amount.Truncate(0)), "RWF total must be whole, got %s", result.Amount)
	})
}

func TestApplyCoupon(t *testing.T) {
	valuation := NewValuation(testPricer(t))
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	subtotal := decimal.RequireFromString("100.00")

	usable := func(c domain.Coupon) *domain.Coupon {
		c.ValidFrom = now.AddDate(0, -1, 0)
		c.ValidUntil = now.AddDate(0, 1, 0)
		return &c
	}

	tests := []struct {
		name   string
		coupon *domain.Coupon
		want   string
	}{
		{
			name:   "nil coupon leaves subtotal",
			coupon: nil,
			want:   "100.00",
		},
		{
			name:   "percentage discount",
			coupon: usable(domain.Coupon{Type: domain.DiscountPercentage, Value: decimal.RequireFromString("25")}),
			want:   "75.00",
		},
		{
			name:   "fixed discount",
			coupon: usable(domain.Coupon{Type: domain.DiscountFixed, Value: decimal.RequireFromString("10.50")}),
			want:   "89.50",
		},
		{
			name:   "fixed discount floors at zero",
			coupon: usable(domain.Coupon{Type: domain.DiscountFixed, Value: decimal.RequireFromString("150.00")}),
			want:   "0.00",
		},
		{
			name:   "expired coupon ignored",
			coupon: &domain.Coupon{Type: domain.DiscountPercentage, Value: decimal.RequireFromString("25"), ValidFrom: now.AddDate(-1, 0, 0), ValidUntil: now.AddDate(0, -1, 0)},
			want:   "100.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := valuation.ApplyCoupon(subtotal, "USD", tt.coupon, now)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}
