package domain

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicpay/pkg/money"
)

// Discount returns the discount currently stored on the invoice.
func (i *Invoice) Discount() Discount {
	d, err := DiscountFromColumns(i.DiscountKind, i.DiscountValue)
	if err != nil {
		return NoDiscount()
	}
	return d
}

// SetDiscount replaces the stored discount. Totals are stale until Recalculate.
func (i *Invoice) SetDiscount(d Discount) {
	i.DiscountKind = d.Kind()
	i.DiscountValue = d.Value()
}

// Recalculate derives every financial column from live items and payments.
func (i *Invoice) Recalculate(items []InvoiceItem, payments []PaymentTransaction, scale int32) {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.TotalPrice)
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}

	subtotal = money.Round(subtotal, scale)
	discount := i.Discount().Effective(subtotal, scale)
	total := subtotal.Sub(discount)

	i.SubtotalAmount = subtotal
	i.DiscountAmount = discount
	i.TotalAmount = total
	i.PaidAmount = money.Round(paid, scale)
	i.BalanceDue = total.Sub(i.PaidAmount)
}

// DiscountPercentage returns the stored percentage when the percentage mode is active.
func (i *Invoice) DiscountPercentage() *decimal.Decimal {
	if i.DiscountKind != DiscountKindPercentage {
		return nil
	}
	v := i.DiscountValue
	return &v
}

// Summary projects the invoice into its outstanding-list form.
func (i *Invoice) Summary() OutstandingInvoice {
	return OutstandingInvoice{
		ID:            i.ID,
		InvoiceNumber: i.InvoiceNumber,
		VisitID:       i.VisitID,
		Status:        i.Status,
		TotalAmount:   i.TotalAmount,
		PaidAmount:    i.PaidAmount,
		BalanceDue:    i.BalanceDue,
		CreatedAt:     i.CreatedAt,
	}
}

// StatusAfterPayment returns the status an invoice reaches once its balance
// has been recomputed after a payment.
func (i *Invoice) StatusAfterPayment() InvoiceStatus {
	if !i.BalanceDue.IsPositive() {
		return InvoiceStatusPaid
	}
	if i.Status == InvoiceStatusOnHold {
		return InvoiceStatusOnHold
	}
	return InvoiceStatusPartial
}

// StatusAfterResume picks the status an on-hold invoice returns to.
func (i *Invoice) StatusAfterResume() InvoiceStatus {
	if i.PaidAmount.IsPositive() {
		return InvoiceStatusPartial
	}
	return InvoiceStatusPending
}
