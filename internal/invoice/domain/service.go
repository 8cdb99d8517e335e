package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicpay/pkg/db/pagination"
)

// WarningVisitUpdateFailed is attached to a result when the invoice settled
// but the visit could not be marked completed.
const WarningVisitUpdateFailed = "VISIT_UPDATE_FAILED"

type AddItemRequest struct {
	// ItemID refers to a service for service lines and to a prescription item
	// for medicine lines.
	ItemID snowflake.ID
	// Quantity falls back to the catalog default when zero.
	Quantity int64
	// UnitPrice overrides the catalog price when set.
	UnitPrice *decimal.Decimal
	Notes     *string
}

type ItemPatch struct {
	Quantity  *int64
	UnitPrice *decimal.Decimal
	Notes     *string
}

func (p ItemPatch) Empty() bool {
	return p.Quantity == nil && p.UnitPrice == nil && p.Notes == nil
}

// DiscountRequest sets at most one of Amount and Percentage. Neither clears the discount.
type DiscountRequest struct {
	Amount     *decimal.Decimal
	Percentage *decimal.Decimal
}

type PaymentRequest struct {
	Amount    decimal.Decimal
	Method    PaymentMethod
	Reference *string
	Notes     *string
	// HoldReason puts the invoice on hold when the payment leaves a balance.
	HoldReason *string
	DueDate    *time.Time
	// IncludePreviousBalance settles the patient's other outstanding invoices
	// first, oldest first, from the same amount.
	IncludePreviousBalance bool
}

type CompleteRequest struct {
	Method    PaymentMethod
	Reference *string
	Notes     *string
}

type HoldRequest struct {
	Reason  string
	DueDate *time.Time
}

// PaymentResult is returned by operations that append to the ledger.
type PaymentResult struct {
	InvoiceDetail
	Payment *PaymentTransaction `json:"payment,omitempty"`
	// Settled lists the other invoices a balance rollover paid off, as they
	// stand after settlement. Each received its own payment row; the current
	// invoice's total is unchanged and only the remainder is applied to it.
	Settled []OutstandingInvoice `json:"settled,omitempty"`
	// RolledOverAmount is the part of the payment spent on Settled.
	RolledOverAmount decimal.Decimal `json:"rolled_over_amount"`
	Warnings         []string        `json:"warnings,omitempty"`
}

type ListPatientInvoicesRequest struct {
	PatientID snowflake.ID
	Status    *InvoiceStatus
	pagination.Pagination
}

type ListInvoicesResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// CreateEligibility is the answer to whether a patient may be issued a new invoice.
type CreateEligibility struct {
	Allowed     bool               `json:"allowed"`
	Limit       int                `json:"limit"`
	Outstanding OutstandingBalance `json:"outstanding"`
}

type Service interface {
	CreateInvoice(ctx context.Context, visitID snowflake.ID, actor Actor) (*InvoiceDetail, error)
	EnsureInvoiceForVisit(ctx context.Context, visitID snowflake.ID, actor Actor) (*InvoiceDetail, error)
	GetInvoiceByID(ctx context.Context, id snowflake.ID) (*InvoiceDetail, error)
	GetInvoiceByVisit(ctx context.Context, visitID snowflake.ID) (*InvoiceDetail, error)
	ListPatientInvoices(ctx context.Context, req ListPatientInvoicesRequest) (ListInvoicesResponse, error)

	AddServiceItem(ctx context.Context, invoiceID snowflake.ID, req AddItemRequest, actor Actor) (*InvoiceDetail, error)
	AddMedicineItem(ctx context.Context, invoiceID snowflake.ID, req AddItemRequest, actor Actor) (*InvoiceDetail, error)
	AddVisitItem(ctx context.Context, visitID snowflake.ID, itemType ItemType, req AddItemRequest, actor Actor) (*InvoiceDetail, error)
	UpdateInvoiceItem(ctx context.Context, invoiceID, itemID snowflake.ID, patch ItemPatch, actor Actor) (*InvoiceDetail, error)
	RemoveInvoiceItem(ctx context.Context, invoiceID, itemID snowflake.ID, actor Actor) (*InvoiceDetail, error)
	UpdateDiscount(ctx context.Context, invoiceID snowflake.ID, req DiscountRequest, actor Actor) (*InvoiceDetail, error)

	RecordPayment(ctx context.Context, invoiceID snowflake.ID, req PaymentRequest, actor Actor) (*PaymentResult, error)
	CompleteInvoice(ctx context.Context, invoiceID snowflake.ID, req CompleteRequest, actor Actor) (*PaymentResult, error)
	CancelInvoice(ctx context.Context, invoiceID snowflake.ID, reason string, actor Actor) (*InvoiceDetail, error)
	PutInvoiceOnHold(ctx context.Context, invoiceID snowflake.ID, req HoldRequest, actor Actor) (*InvoiceDetail, error)
	ResumeInvoiceFromHold(ctx context.Context, invoiceID snowflake.ID, actor Actor) (*InvoiceDetail, error)

	GetPatientOutstandingBalance(ctx context.Context, patientID snowflake.ID) (*OutstandingBalance, error)
	GetPatientOutstandingInvoices(ctx context.Context, patientID snowflake.ID) ([]OutstandingInvoice, error)
	CanPatientCreateInvoice(ctx context.Context, patientID snowflake.ID) (*CreateEligibility, error)
}
