package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicpay/internal/invoice/domain"
	dbpkg "github.com/smallbiznis/clinicpay/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// invoiceSequenceName keys the single global invoice number sequence.
const invoiceSequenceName = "invoice"

type sequenceRow struct {
	Name      string `gorm:"primaryKey"`
	LastValue int64
	UpdatedAt time.Time
}

func (sequenceRow) TableName() string { return "invoice_sequences" }

type guardRow struct {
	PatientID snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Version   int64
	UpdatedAt time.Time
}

func (guardRow) TableName() string { return "patient_billing_guards" }

// Models lists the tables this repository owns, for dialects migrated by gorm.
func Models() []any {
	return []any{
		&domain.Invoice{},
		&domain.InvoiceItem{},
		&domain.PaymentTransaction{},
		&guardRow{},
		&sequenceRow{},
	}
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	res := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&invoice)
	if res.Error != nil {
		return nil, wrap("find_invoice", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) FindInvoiceByVisit(ctx context.Context, db *gorm.DB, visitID snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	res := db.WithContext(ctx).Where("visit_id = ?", visitID).Limit(1).Find(&invoice)
	if res.Error != nil {
		return nil, wrap("find_invoice_by_visit", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &invoice, nil
}

// ListOutstandingByPatient returns pending, partial and on-hold invoices oldest first.
func (r *repo) ListOutstandingByPatient(ctx context.Context, db *gorm.DB, patientID snowflake.ID) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := db.WithContext(ctx).
		Where("patient_id = ? AND status IN ?", patientID, domain.OutstandingStatuses).
		Order("created_at asc, id asc").
		Find(&invoices).Error
	if err != nil {
		return nil, wrap("list_outstanding", err)
	}
	return invoices, nil
}

func (r *repo) ListByPatient(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Invoice, error) {
	stmt := db.WithContext(ctx).Model(&domain.Invoice{}).Where("patient_id = ?", filter.PatientID)
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("id < ?", filter.AfterID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var invoices []domain.Invoice
	if err := stmt.Find(&invoices).Error; err != nil {
		return nil, wrap("list_by_patient", err)
	}
	return invoices, nil
}

// InsertInvoice reports false when an invoice for the same visit already exists.
func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "visit_id"}}, DoNothing: true}).
		Create(invoice)
	if res.Error != nil {
		if dbpkg.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, wrap("insert_invoice", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateInvoice writes every mutable column when the stored version still
// matches invoice.Version, then advances the version.
func (r *repo) UpdateInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	next := invoice.Version + 1
	res := db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("id = ? AND version = ?", invoice.ID, invoice.Version).
		Updates(map[string]any{
			"status":           invoice.Status,
			"subtotal_amount":  invoice.SubtotalAmount,
			"discount_kind":    invoice.DiscountKind,
			"discount_value":   invoice.DiscountValue,
			"discount_amount":  invoice.DiscountAmount,
			"total_amount":     invoice.TotalAmount,
			"paid_amount":      invoice.PaidAmount,
			"balance_due":      invoice.BalanceDue,
			"hold_reason":      invoice.HoldReason,
			"payment_due_date": invoice.PaymentDueDate,
			"completed_by":     invoice.CompletedBy,
			"completed_at":     invoice.CompletedAt,
			"cancelled_by":     invoice.CancelledBy,
			"cancelled_reason": invoice.CancelledReason,
			"cancelled_at":     invoice.CancelledAt,
			"version":          next,
			"updated_at":       invoice.UpdatedAt,
		})
	if res.Error != nil {
		return wrap("update_invoice", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	invoice.Version = next
	return nil
}

func (r *repo) NextInvoiceSequence(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	row := sequenceRow{Name: invoiceSequenceName, LastValue: 1, UpdatedAt: now}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.Assignments(map[string]any{
				"last_value": gorm.Expr("invoice_sequences.last_value + 1"),
				"updated_at": now,
			}),
		}).
		Create(&row).Error
	if err != nil {
		return 0, wrap("next_invoice_sequence", err)
	}

	var value int64
	if err := db.WithContext(ctx).Raw(
		`SELECT last_value FROM invoice_sequences WHERE name = ?`,
		invoiceSequenceName,
	).Scan(&value).Error; err != nil {
		return 0, wrap("next_invoice_sequence", err)
	}
	return value, nil
}

// LockPatient bumps the patient's guard row. Inside a transaction the row
// lock serializes every cap-affecting write for that patient until commit.
func (r *repo) LockPatient(ctx context.Context, db *gorm.DB, patientID snowflake.ID, now time.Time) error {
	row := guardRow{PatientID: patientID, Version: 1, UpdatedAt: now}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "patient_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"version":    gorm.Expr("patient_billing_guards.version + 1"),
				"updated_at": now,
			}),
		}).
		Create(&row).Error
	if err != nil {
		return wrap("lock_patient", err)
	}
	return nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoiceItem, error) {
	var items []domain.InvoiceItem
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, wrap("list_items", err)
	}
	return items, nil
}

func (r *repo) ListItemsForInvoices(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) ([]domain.InvoiceItem, error) {
	if len(invoiceIDs) == 0 {
		return nil, nil
	}
	var items []domain.InvoiceItem
	err := db.WithContext(ctx).
		Where("invoice_id IN ?", invoiceIDs).
		Order("created_at asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, wrap("list_items", err)
	}
	return items, nil
}

func (r *repo) InsertItem(ctx context.Context, db *gorm.DB, item *domain.InvoiceItem) error {
	if err := db.WithContext(ctx).Create(item).Error; err != nil {
		return wrap("insert_item", err)
	}
	return nil
}

func (r *repo) UpdateItem(ctx context.Context, db *gorm.DB, item *domain.InvoiceItem) error {
	res := db.WithContext(ctx).Model(&domain.InvoiceItem{}).
		Where("id = ? AND invoice_id = ?", item.ID, item.InvoiceID).
		Updates(map[string]any{
			"quantity":    item.Quantity,
			"unit_price":  item.UnitPrice,
			"total_price": item.TotalPrice,
			"notes":       item.Notes,
			"updated_at":  item.UpdatedAt,
		})
	if res.Error != nil {
		return wrap("update_item", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (r *repo) DeleteItem(ctx context.Context, db *gorm.DB, invoiceID, itemID snowflake.ID) error {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM invoice_items WHERE id = ? AND invoice_id = ?`,
		itemID, invoiceID,
	)
	if res.Error != nil {
		return wrap("delete_item", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.PaymentTransaction, error) {
	var payments []domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("received_at asc, id asc").
		Find(&payments).Error
	if err != nil {
		return nil, wrap("list_payments", err)
	}
	return payments, nil
}

func (r *repo) ListPaymentsForInvoices(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) ([]domain.PaymentTransaction, error) {
	if len(invoiceIDs) == 0 {
		return nil, nil
	}
	var payments []domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("invoice_id IN ?", invoiceIDs).
		Order("received_at asc, id asc").
		Find(&payments).Error
	if err != nil {
		return nil, wrap("list_payments", err)
	}
	return payments, nil
}

// InsertPayment appends to the payment ledger. Payments are never updated or deleted.
func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.PaymentTransaction) error {
	if err := db.WithContext(ctx).Create(payment).Error; err != nil {
		return wrap("insert_payment", err)
	}
	return nil
}

func wrap(op string, err error) error {
	if dbpkg.IsUnavailable(err) {
		return &domain.UpstreamUnavailableError{Op: op, Err: err}
	}
	return err
}
