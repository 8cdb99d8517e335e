package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicpay/internal/invoice/domain"
	"github.com/smallbiznis/clinicpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newInvoice(id, visitID, patientID int64, status domain.InvoiceStatus, createdAt time.Time) *domain.Invoice {
	return &domain.Invoice{
		ID:            snowflake.ID(id),
		InvoiceNumber: "INV-" + snowflake.ID(id).String(),
		VisitID:       snowflake.ID(visitID),
		PatientID:     snowflake.ID(patientID),
		Currency:      "USD",
		Status:        status,
		DiscountKind:  domain.DiscountKindNone,
		CreatedBy:     "reception-1",
		Version:       1,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func TestInsertInvoiceIsIdempotentPerVisit(t *testing.T) {
	db := testutil.OpenBillingDB(t)
	r := Provide()
	ctx := context.Background()

	inserted, err := r.InsertInvoice(ctx, db, newInvoice(1, 100, 7, domain.InvoiceStatusPending, baseTime))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = r.InsertInvoice(ctx, db, newInvoice(2, 100, 7, domain.InvoiceStatusPending, baseTime))
	require.NoError(t, err)
	assert.False(t, inserted)

	found, err := r.FindInvoiceByVisit(ctx, db, 100)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, snowflake.ID(1), found.ID)

	missing, err := r.FindInvoice(ctx, db, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateInvoiceRejectsStaleVersion(t *testing.T) {
	db := testutil.OpenBillingDB(t)
	r := Provide()
	ctx := context.Background()

	inv := newInvoice(1, 100, 7, domain.InvoiceStatusPending, baseTime)
	_, err := r.InsertInvoice(ctx, db, inv)
	require.NoError(t, err)

	stale := *inv
	inv.Status = domain.InvoiceStatusPartial
	inv.PaidAmount = decimal.RequireFromString("10.00")
	require.NoError(t, r.UpdateInvoice(ctx, db, inv))
	assert.Equal(t, int64(2), inv.Version)

	stale.Status = domain.InvoiceStatusCancelled
	assert.ErrorIs(t, r.UpdateInvoice(ctx, db, &stale), domain.ErrVersionConflict)

	stored, err := r.FindInvoice(ctx, db, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPartial, stored.Status)
	assert.True(t, stored.PaidAmount.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, int64(2), stored.Version)
}

func TestNextInvoiceSequenceIncrements(t *testing.T) {
	db := testutil.OpenBillingDB(t)
	r := Provide()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := r.NextInvoiceSequence(ctx, db, baseTime)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestLockPatientUpsertsGuard(t *testing.T) {
	db := testutil.OpenBillingDB(t)
	r := Provide()
	ctx := context.Background()

	require.NoError(t, r.LockPatient(ctx, db, 7, baseTime))
	require.NoError(t, r.LockPatient(ctx, db, 7, baseTime.Add(time.Minute)))

	var version int64
	require.NoError(t, db.Raw(`SELECT version FROM patient_billing_guards WHERE patient_id = ?`, 7).Scan(&version).Error)
	assert.Equal(t, int64(2), version)
}

func TestListOutstandingByPatientOldestFirst(t *testing.T) {
	db := testutil.OpenBillingDB(t)
	r := Provide()
	ctx := context.Background()

	rows := []*domain.Invoice{
		newInvoice(1, 100, 7, domain.InvoiceStatusPaid, baseTime),
		newInvoice(2, 101, 7, domain.InvoiceStatusOnHold, baseTime.Add(2*time.Hour)),
		newInvoice(3, 102, 7, domain.InvoiceStatusPending, baseTime.Add(time.Hour)),
		newInvoice(4, 103, 8, domain.InvoiceStatusPending, baseTime),
		newInvoice(5, 104, 7, domain.InvoiceStatusCancelled, baseTime),
	}
	for _, inv := range rows {
		_, err := r.InsertInvoice(ctx, db, inv)
		require.NoError(t, err)
	}

	got, err := r.ListOutstandingByPatient(ctx, db, 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, snowflake.ID(3), got[0].ID)
	assert.Equal(t, snowflake.ID(2), got[1].ID)
}

func TestListByPatientPagesNewestFirst(t *testing.T) {
	db := testutil.OpenBillingDB(t)
	r := Provide()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		_, err := r.InsertInvoice(ctx, db, newInvoice(i, 100+i, 7, domain.InvoiceStatusPending, baseTime.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	page, err := r.ListByPatient(ctx, db, domain.ListFilter{PatientID: 7, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, snowflake.ID(5), page[0].ID)

	page, err = r.ListByPatient(ctx, db, domain.ListFilter{PatientID: 7, AfterID: 4, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, snowflake.ID(3), page[0].ID)

	paid := domain.InvoiceStatusPaid
	page, err = r.ListByPatient(ctx, db, domain.ListFilter{PatientID: 7, Status: &paid, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestItemLifecycle(t *testing.T) {
	db := testutil.OpenBillingDB(t)
	r := Provide()
	ctx := context.Background()

	_, err := r.InsertInvoice(ctx, db, newInvoice(1, 100, 7, domain.InvoiceStatusPending, baseTime))
	require.NoError(t, err)

	item := &domain.InvoiceItem{
		ID:        10,
		InvoiceID: 1,
		ItemType:  domain.ItemTypeService,
		ItemID:    500,
		ItemName:  "Consultation",
		Quantity:  1,
		UnitPrice: decimal.RequireFromString("50.00"),
		AddedBy:   "doctor-1",
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
	item.PriceLine(2)
	require.NoError(t, r.InsertItem(ctx, db, item))

	item.Quantity = 3
	item.PriceLine(2)
	require.NoError(t, r.UpdateItem(ctx, db, item))

	items, err := r.ListItemsForInvoices(ctx, db, []snowflake.ID{1, 2})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(3), items[0].Quantity)
	assert.True(t, items[0].TotalPrice.Equal(decimal.RequireFromString("150")))

	require.NoError(t, r.DeleteItem(ctx, db, 1, 10))
	assert.ErrorIs(t, r.DeleteItem(ctx, db, 1, 10), domain.ErrItemNotFound)

	missing := *item
	missing.ID = 11
	assert.ErrorIs(t, r.UpdateItem(ctx, db, &missing), domain.ErrItemNotFound)
}

func TestPaymentsAreListedInReceiptOrder(t *testing.T) {
	db := testutil.OpenBillingDB(t)
	r := Provide()
	ctx := context.Background()

	_, err := r.InsertInvoice(ctx, db, newInvoice(1, 100, 7, domain.InvoiceStatusPending, baseTime))
	require.NoError(t, err)

	ref := "CARD-1234"
	require.NoError(t, r.InsertPayment(ctx, db, &domain.PaymentTransaction{
		ID: 21, InvoiceID: 1, Amount: decimal.RequireFromString("30.00"),
		PaymentMethod: domain.PaymentMethodCard, PaymentReference: &ref,
		ReceivedBy: "cashier-1", ReceivedAt: baseTime.Add(time.Minute),
	}))
	require.NoError(t, r.InsertPayment(ctx, db, &domain.PaymentTransaction{
		ID: 20, InvoiceID: 1, Amount: decimal.RequireFromString("20.00"),
		PaymentMethod: domain.PaymentMethodCash,
		ReceivedBy: "cashier-1", ReceivedAt: baseTime,
	}))

	payments, err := r.ListPayments(ctx, db, 1)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, snowflake.ID(20), payments[0].ID)
	require.NotNil(t, payments[1].PaymentReference)
	assert.Equal(t, "CARD-1234", *payments[1].PaymentReference)

	none, err := r.ListPaymentsForInvoices(ctx, db, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
