package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the only writer of invoices, items and payment transactions.
// Every method runs against the handle it is given, so callers control the
// transaction boundary.
type Repository interface {
	FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindInvoiceByVisit(ctx context.Context, db *gorm.DB, visitID snowflake.ID) (*Invoice, error)
	ListOutstandingByPatient(ctx context.Context, db *gorm.DB, patientID snowflake.ID) ([]Invoice, error)
	ListByPatient(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Invoice, error)
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	UpdateInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	NextInvoiceSequence(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
	LockPatient(ctx context.Context, db *gorm.DB, patientID snowflake.ID, now time.Time) error

	ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceItem, error)
	ListItemsForInvoices(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) ([]InvoiceItem, error)
	InsertItem(ctx context.Context, db *gorm.DB, item *InvoiceItem) error
	UpdateItem(ctx context.Context, db *gorm.DB, item *InvoiceItem) error
	DeleteItem(ctx context.Context, db *gorm.DB, invoiceID, itemID snowflake.ID) error

	ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]PaymentTransaction, error)
	ListPaymentsForInvoices(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) ([]PaymentTransaction, error)
	InsertPayment(ctx context.Context, db *gorm.DB, payment *PaymentTransaction) error
}

// ListFilter selects a page of a patient's invoices, newest first.
type ListFilter struct {
	PatientID snowflake.ID
	Status    *InvoiceStatus
	// AfterID excludes invoices with id >= AfterID when non-zero.
	AfterID snowflake.ID
	Limit   int
}
