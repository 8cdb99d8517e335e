// Package balance computes a patient's outstanding debt from live invoice rows.
package balance

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicpay/internal/config"
	"github.com/smallbiznis/clinicpay/internal/invoice/domain"
	"gorm.io/gorm"
)

// Calculator derives balances from items and payments instead of the cached
// invoice columns, so a stale column can never mask debt.
type Calculator struct {
	repo   domain.Repository
	policy config.PolicySource
}

func NewCalculator(repo domain.Repository, policy config.PolicySource) *Calculator {
	return &Calculator{repo: repo, policy: policy}
}

// Outstanding aggregates the patient's pending, partial and on-hold invoices,
// oldest first. excludeID, when non-zero, is left out of the aggregate.
func (c *Calculator) Outstanding(ctx context.Context, db *gorm.DB, patientID, excludeID snowflake.ID) (*domain.OutstandingBalance, error) {
	invoices, err := c.OutstandingInvoices(ctx, db, patientID, excludeID)
	if err != nil {
		return nil, err
	}

	result := &domain.OutstandingBalance{
		PatientID:    patientID,
		TotalBalance: decimal.Zero,
		Invoices:     make([]domain.OutstandingInvoice, 0, len(invoices)),
	}
	for i := range invoices {
		result.TotalBalance = result.TotalBalance.Add(invoices[i].BalanceDue)
		result.Invoices = append(result.Invoices, invoices[i].Summary())
	}
	result.Count = len(result.Invoices)
	return result, nil
}

// OutstandingInvoices returns the recomputed invoice rows behind Outstanding.
func (c *Calculator) OutstandingInvoices(ctx context.Context, db *gorm.DB, patientID, excludeID snowflake.ID) ([]domain.Invoice, error) {
	rows, err := c.repo.ListOutstandingByPatient(ctx, db, patientID)
	if err != nil {
		return nil, err
	}

	invoices := make([]domain.Invoice, 0, len(rows))
	ids := make([]snowflake.ID, 0, len(rows))
	for _, inv := range rows {
		if excludeID != 0 && inv.ID == excludeID {
			continue
		}
		invoices = append(invoices, inv)
		ids = append(ids, inv.ID)
	}
	if len(invoices) == 0 {
		return invoices, nil
	}

	items, err := c.repo.ListItemsForInvoices(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	payments, err := c.repo.ListPaymentsForInvoices(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	itemsByInvoice := make(map[snowflake.ID][]domain.InvoiceItem, len(ids))
	for _, item := range items {
		itemsByInvoice[item.InvoiceID] = append(itemsByInvoice[item.InvoiceID], item)
	}
	paymentsByInvoice := make(map[snowflake.ID][]domain.PaymentTransaction, len(ids))
	for _, p := range payments {
		paymentsByInvoice[p.InvoiceID] = append(paymentsByInvoice[p.InvoiceID], p)
	}

	scale := c.policy.Get().CurrencyScale
	for i := range invoices {
		invoices[i].Recalculate(itemsByInvoice[invoices[i].ID], paymentsByInvoice[invoices[i].ID], scale)
	}
	return invoices, nil
}

// CheckCap fails with a CapExceededError when the patient already holds the
// policy limit of outstanding invoices, not counting excludeID.
func (c *Calculator) CheckCap(ctx context.Context, db *gorm.DB, patientID, excludeID snowflake.ID) (*domain.OutstandingBalance, error) {
	outstanding, err := c.Outstanding(ctx, db, patientID, excludeID)
	if err != nil {
		return nil, err
	}
	limit := c.policy.Get().OutstandingInvoiceLimit
	if outstanding.Count >= limit {
		return outstanding, &domain.CapExceededError{
			PatientID: patientID,
			Limit:     limit,
			Invoices:  outstanding.Invoices,
		}
	}
	return outstanding, nil
}

// Limit returns the current outstanding invoice limit.
func (c *Calculator) Limit() int {
	return c.policy.Get().OutstandingInvoiceLimit
}
