// Package money provides fixed-point currency arithmetic on top of shopspring/decimal.
//
// Amounts are always rounded to Scale minor units before being stored or compared.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultScale is the number of minor units used when no scale is configured.
const DefaultScale int32 = 2

var (
	ErrInvalidAmount = errors.New("invalid_amount")

	hundred = decimal.NewFromInt(100)
)

// Zero returns a zero amount.
func Zero() decimal.Decimal { return decimal.Zero }

// Round rounds d half away from zero to the given number of minor units.
func Round(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.Round(scale)
}

// Parse parses a decimal string such as "100.25".
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Percent returns pct percent of base, rounded to scale.
func Percent(base, pct decimal.Decimal, scale int32) decimal.Decimal {
	return base.Mul(pct).Div(hundred).Round(scale)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func IsPositive(d decimal.Decimal) bool { return d.Sign() > 0 }

func IsNegative(d decimal.Decimal) bool { return d.Sign() < 0 }

// HasExcessPrecision reports whether d carries more fractional digits than scale allows.
func HasExcessPrecision(d decimal.Decimal, scale int32) bool {
	return !d.Equal(d.Round(scale))
}
