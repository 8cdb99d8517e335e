package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/clinicpay/internal/audit/domain"
	catalogservice "github.com/smallbiznis/clinicpay/internal/catalog/service"
	"github.com/smallbiznis/clinicpay/internal/clock"
	"github.com/smallbiznis/clinicpay/internal/config"
	"github.com/smallbiznis/clinicpay/internal/invoice/balance"
	"github.com/smallbiznis/clinicpay/internal/invoice/domain"
	"github.com/smallbiznis/clinicpay/internal/invoice/repository"
	"github.com/smallbiznis/clinicpay/internal/observability/metrics"
	"github.com/smallbiznis/clinicpay/internal/testutil"
	visitdomain "github.com/smallbiznis/clinicpay/internal/visit/domain"
	visitservice "github.com/smallbiznis/clinicpay/internal/visit/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	receptionist = domain.Actor{ID: "reception-1", Role: domain.RoleReceptionist}
	cashier      = domain.Actor{ID: "cashier-1", Role: domain.RoleCashier}
	doctor       = domain.Actor{ID: "doctor-1", Role: domain.RoleDoctor}
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []auditdomain.Event
}

func (r *recordingEmitter) Emit(_ context.Context, event auditdomain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

// mutablePolicy lets a test change the billing policy between calls.
type mutablePolicy struct {
	mu     sync.Mutex
	policy config.BillingPolicy
}

func (m *mutablePolicy) Get() config.BillingPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

func (m *mutablePolicy) setLimit(limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.OutstandingInvoiceLimit = limit
}

type failingVisits struct {
	visitdomain.Service
}

func (failingVisits) MarkCompleted(context.Context, snowflake.ID, time.Time) error {
	return errors.New("visit service down")
}

type harness struct {
	t      *testing.T
	db     *gorm.DB
	repo   domain.Repository
	svc    domain.Service
	audit  *recordingEmitter
	clock  *clock.FakeClock
	policy *mutablePolicy
	visits visitdomain.Service
}

func newHarness(t *testing.T, opts ...func(*Params)) *harness {
	t.Helper()
	db := testutil.OpenBillingDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	policy := &mutablePolicy{policy: config.DefaultBillingPolicy()}
	repo := repository.Provide()
	h := &harness{
		t:      t,
		db:     db,
		repo:   repo,
		audit:  &recordingEmitter{},
		clock:  clock.NewFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)),
		policy: policy,
		visits: visitservice.NewService(visitservice.Params{DB: db, Log: zap.NewNop()}),
	}

	p := Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repo,
		Balance: balance.NewCalculator(repo, policy),
		Visits:  h.visits,
		Catalog: catalogservice.NewStore(db),
		Audit:   h.audit,
		Policy:  policy,
		Clock:   h.clock,
		Metrics: metrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(&p)
	}
	h.svc = NewService(p)
	return h
}

func (h *harness) seedVisit(id, patientID int64) {
	h.t.Helper()
	started := h.clock.Now()
	require.NoError(h.t, h.db.Create(&visitdomain.Visit{
		ID:                    snowflake.ID(id),
		PatientID:             snowflake.ID(patientID),
		Status:                visitdomain.StatusInConsultation,
		ConsultationStartedAt: &started,
		CreatedAt:             started,
		UpdatedAt:             started,
	}).Error)
}

func (h *harness) seedService(id int64, name, price string) {
	h.t.Helper()
	require.NoError(h.t, h.db.Exec(
		`INSERT INTO services (id, name, price, is_active) VALUES (?, ?, ?, ?)`,
		id, name, price, true,
	).Error)
}

func (h *harness) seedPrescription(id int64, name, price string, qty int64) {
	h.t.Helper()
	require.NoError(h.t, h.db.Exec(
		`INSERT INTO prescription_items (id, medicine_name, unit_price, quantity) VALUES (?, ?, ?, ?)`,
		id, name, price, qty,
	).Error)
}

// invoiceTotaling creates an invoice for a new visit with one service line of price.
func (h *harness) invoiceTotaling(visitID, patientID int64, price string) *domain.InvoiceDetail {
	h.t.Helper()
	ctx := context.Background()
	h.seedVisit(visitID, patientID)
	h.seedService(visitID*100, "Consultation", price)

	created, err := h.svc.CreateInvoice(ctx, snowflake.ID(visitID), receptionist)
	require.NoError(h.t, err)
	detail, err := h.svc.AddServiceItem(ctx, created.Invoice.ID, domain.AddItemRequest{ItemID: snowflake.ID(visitID * 100)}, doctor)
	require.NoError(h.t, err)
	h.clock.Advance(time.Minute)
	return detail
}

func (h *harness) pay(invoiceID snowflake.ID, amount string) (*domain.PaymentResult, error) {
	return h.svc.RecordPayment(context.Background(), invoiceID, domain.PaymentRequest{
		Amount: decimal.RequireFromString(amount),
		Method: domain.PaymentMethodCash,
	}, cashier)
}

// assertLedgerConsistent checks the stored columns against live rows.
func (h *harness) assertLedgerConsistent(invoiceID snowflake.ID) {
	h.t.Helper()
	ctx := context.Background()
	stored, err := h.repo.FindInvoice(ctx, h.db, invoiceID)
	require.NoError(h.t, err)
	require.NotNil(h.t, stored)
	items, err := h.repo.ListItems(ctx, h.db, invoiceID)
	require.NoError(h.t, err)
	payments, err := h.repo.ListPayments(ctx, h.db, invoiceID)
	require.NoError(h.t, err)

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.TotalPrice)
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	assert.True(h.t, stored.SubtotalAmount.Equal(subtotal), "subtotal %s != %s", stored.SubtotalAmount, subtotal)
	assert.True(h.t, stored.TotalAmount.Equal(subtotal.Sub(stored.DiscountAmount)))
	assert.True(h.t, stored.PaidAmount.Equal(paid), "paid %s != %s", stored.PaidAmount, paid)
	assert.True(h.t, stored.BalanceDue.Equal(stored.TotalAmount.Sub(stored.PaidAmount)))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
