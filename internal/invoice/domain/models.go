// Package domain contains persistence models and rules for clinic invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ItemType identifies the catalog an invoice line was snapshotted from.
type ItemType string

const (
	ItemTypeService  ItemType = "service"
	ItemTypeMedicine ItemType = "medicine"
)

func (t ItemType) Valid() bool {
	return t == ItemTypeService || t == ItemTypeMedicine
}

// PaymentMethod is how a settled payment was received.
type PaymentMethod string

const (
	PaymentMethodCash          PaymentMethod = "cash"
	PaymentMethodCard          PaymentMethod = "card"
	PaymentMethodInsurance     PaymentMethod = "insurance"
	PaymentMethodMobilePayment PaymentMethod = "mobile_payment"
	PaymentMethodCheck         PaymentMethod = "check"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodInsurance, PaymentMethodMobilePayment, PaymentMethodCheck:
		return true
	}
	return false
}

// Invoice is the billing record for one clinical visit.
//
// SubtotalAmount, DiscountAmount, TotalAmount, PaidAmount and BalanceDue are
// derived columns. They are rewritten by Recalculate on every mutation and
// never edited directly.
type Invoice struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceNumber   string          `json:"invoice_number" gorm:"type:text;not null;uniqueIndex"`
	VisitID         snowflake.ID    `json:"visit_id" gorm:"not null;uniqueIndex:ux_invoices_visit"`
	PatientID       snowflake.ID    `json:"patient_id" gorm:"not null;index"`
	Currency        string          `json:"currency" gorm:"type:text;not null"`
	Status          InvoiceStatus   `json:"status" gorm:"type:text;not null;default:'pending'"`
	SubtotalAmount  decimal.Decimal `json:"subtotal_amount" gorm:"type:decimal(18,4);not null;default:0"`
	DiscountKind    DiscountKind    `json:"discount_kind" gorm:"type:text;not null;default:'none'"`
	DiscountValue   decimal.Decimal `json:"discount_value" gorm:"type:decimal(18,4);not null;default:0"`
	DiscountAmount  decimal.Decimal `json:"discount_amount" gorm:"type:decimal(18,4);not null;default:0"`
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:decimal(18,4);not null;default:0"`
	PaidAmount      decimal.Decimal `json:"paid_amount" gorm:"type:decimal(18,4);not null;default:0"`
	BalanceDue      decimal.Decimal `json:"balance_due" gorm:"type:decimal(18,4);not null;default:0"`
	HoldReason      *string         `json:"hold_reason,omitempty" gorm:"type:text"`
	PaymentDueDate  *time.Time      `json:"payment_due_date,omitempty"`
	CreatedBy       string          `json:"created_by" gorm:"type:text;not null"`
	CompletedBy     *string         `json:"completed_by,omitempty" gorm:"type:text"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CancelledBy     *string         `json:"cancelled_by,omitempty" gorm:"type:text"`
	CancelledReason *string         `json:"cancelled_reason,omitempty" gorm:"type:text"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	Version         int64           `json:"version" gorm:"not null;default:1"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is a line on an invoice. ItemName and UnitPrice are snapshots
// taken from the catalog when the line was added.
type InvoiceItem struct {
	ID         snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID  snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	ItemType   ItemType        `json:"item_type" gorm:"type:text;not null"`
	ItemID     snowflake.ID    `json:"item_id" gorm:"not null"`
	ItemName   string          `json:"item_name" gorm:"type:text;not null"`
	Quantity   int64           `json:"quantity" gorm:"not null"`
	UnitPrice  decimal.Decimal `json:"unit_price" gorm:"type:decimal(18,4);not null"`
	TotalPrice decimal.Decimal `json:"total_price" gorm:"type:decimal(18,4);not null"`
	Notes      *string         `json:"notes,omitempty" gorm:"type:text"`
	AddedBy    string          `json:"added_by" gorm:"type:text;not null"`
	CreatedAt  time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// PriceLine recomputes TotalPrice from quantity and unit price.
func (i *InvoiceItem) PriceLine(scale int32) {
	i.TotalPrice = i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity)).Round(scale)
}

// PaymentTransaction is an append-only ledger entry against an invoice.
type PaymentTransaction struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID        snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:decimal(18,4);not null"`
	PaymentMethod    PaymentMethod   `json:"payment_method" gorm:"type:text;not null"`
	PaymentReference *string         `json:"payment_reference,omitempty" gorm:"type:text"`
	Notes            *string         `json:"notes,omitempty" gorm:"type:text"`
	ReceivedBy       string          `json:"received_by" gorm:"type:text;not null"`
	ReceivedAt       time.Time       `json:"received_at" gorm:"not null"`
}

// TableName sets the database table name.
func (PaymentTransaction) TableName() string { return "payment_transactions" }

// InvoiceDetail is an invoice together with its live items and payments.
type InvoiceDetail struct {
	Invoice  Invoice              `json:"invoice"`
	Items    []InvoiceItem        `json:"items"`
	Payments []PaymentTransaction `json:"payments"`
}

// OutstandingInvoice summarizes one invoice that still represents patient debt.
type OutstandingInvoice struct {
	ID            snowflake.ID    `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	VisitID       snowflake.ID    `json:"visit_id"`
	Status        InvoiceStatus   `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OutstandingBalance aggregates a patient's outstanding invoices.
type OutstandingBalance struct {
	PatientID    snowflake.ID         `json:"patient_id"`
	TotalBalance decimal.Decimal      `json:"total_balance"`
	Count        int                  `json:"count"`
	Invoices     []OutstandingInvoice `json:"invoices"`
}
