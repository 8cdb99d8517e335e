package domain

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicpay/pkg/money"
)

// DiscountKind tags the persisted discount mode.
type DiscountKind string

const (
	DiscountKindNone       DiscountKind = "none"
	DiscountKindPercentage DiscountKind = "percentage"
	DiscountKindFixed      DiscountKind = "fixed"
)

var maxPercentage = decimal.NewFromInt(100)

// Discount is either nothing, a percentage of the subtotal, or a fixed amount.
// The zero value is NoDiscount.
type Discount struct {
	kind  DiscountKind
	value decimal.Decimal
}

func NoDiscount() Discount {
	return Discount{kind: DiscountKindNone}
}

// PercentageDiscount accepts 0..100 inclusive.
func PercentageDiscount(pct decimal.Decimal) (Discount, error) {
	if pct.IsNegative() || pct.GreaterThan(maxPercentage) {
		return Discount{}, ErrInvalidDiscount
	}
	return Discount{kind: DiscountKindPercentage, value: pct}, nil
}

// FixedDiscount accepts any non-negative amount. The effective amount is
// clamped to the subtotal at calculation time.
func FixedDiscount(amount decimal.Decimal) (Discount, error) {
	if amount.IsNegative() {
		return Discount{}, ErrInvalidDiscount
	}
	return Discount{kind: DiscountKindFixed, value: amount}, nil
}

// DiscountFromColumns rebuilds a discount from its persisted form.
func DiscountFromColumns(kind DiscountKind, value decimal.Decimal) (Discount, error) {
	switch kind {
	case "", DiscountKindNone:
		return NoDiscount(), nil
	case DiscountKindPercentage:
		return PercentageDiscount(value)
	case DiscountKindFixed:
		return FixedDiscount(value)
	}
	return Discount{}, ErrInvalidDiscount
}

func (d Discount) Kind() DiscountKind {
	if d.kind == "" {
		return DiscountKindNone
	}
	return d.kind
}

func (d Discount) Value() decimal.Decimal {
	return d.value
}

// Effective returns the amount subtracted from subtotal, within [0, subtotal].
func (d Discount) Effective(subtotal decimal.Decimal, scale int32) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch d.Kind() {
	case DiscountKindPercentage:
		amount = money.Percent(subtotal, d.value, scale)
	case DiscountKindFixed:
		amount = money.Round(d.value, scale)
	default:
		return decimal.Zero
	}
	return money.Clamp(amount, decimal.Zero, subtotal)
}
