package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalCurrencyCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "already canonical", in: "USD", want: "USD"},
		{name: "lowercase", in: "eur", want: "EUR"},
		{name: "whitespace", in: "  rwf ", want: "RWF"},
		{name: "legacy FRW alias", in: "FRW", want: "RWF"},
		{name: "legacy alias lowercase", in: "frw", want: "RWF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalCurrencyCode(tt.in))
		})
	}
}

func TestIsZeroDecimal(t *testing.T) {
	for _, code := range []string{"RWF", "JPY", "KRW", "VND", "CLP", "ISK", "UGX", "KES", "TZS", "frw"} {
		assert.True(t, IsZeroDecimal(code), "%s should be zero-decimal", code)
	}
	for _, code := range []string{"USD", "EUR", "GBP"} {
		assert.False(t, IsZeroDecimal(code), "%s should carry minor units", code)
	}
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		code   string
		want   int64
	}{
		{name: "two-decimal currency", amount: "12.34", code: "USD", want: 1234},
		{name: "zero-decimal currency stays major", amount: "1500", code: "RWF", want: 1500},
		{name: "rounding half up", amount: "0.005", code: "USD", want: 1},
		{name: "whole dollars", amount: "120", code: "USD", want: 12000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinorUnits(decimal.RequireFromString(tt.amount), tt.code)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMajorUnitsRoundTrip(t *testing.T) {
	usd := decimal.RequireFromString("99.99")
	assert.True(t, usd.Equal(MajorUnits(MinorUnits(usd, "USD"), "USD")))

	rwf := decimal.NewFromInt(2500)
	assert.True(t, rwf.Equal(MajorUnits(MinorUnits(rwf, "RWF"), "RWF")))
}
