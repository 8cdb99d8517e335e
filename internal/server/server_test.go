package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/clinicpay/internal/audit/domain"
	auditrepository "github.com/smallbiznis/clinicpay/internal/audit/repository"
	auditservice "github.com/smallbiznis/clinicpay/internal/audit/service"
	catalogservice "github.com/smallbiznis/clinicpay/internal/catalog/service"
	"github.com/smallbiznis/clinicpay/internal/clock"
	"github.com/smallbiznis/clinicpay/internal/config"
	"github.com/smallbiznis/clinicpay/internal/invoice/balance"
	invoicedomain "github.com/smallbiznis/clinicpay/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/clinicpay/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/clinicpay/internal/invoice/service"
	"github.com/smallbiznis/clinicpay/internal/observability"
	obsmetrics "github.com/smallbiznis/clinicpay/internal/observability/metrics"
	"github.com/smallbiznis/clinicpay/internal/testutil"
	visitdomain "github.com/smallbiznis/clinicpay/internal/visit/domain"
	visitservice "github.com/smallbiznis/clinicpay/internal/visit/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticPolicy struct {
	policy config.BillingPolicy
}

func (s staticPolicy) Get() config.BillingPolicy { return s.policy }

// syncEmitter writes audit entries inline so tests can read them back.
type syncEmitter struct {
	svc *auditservice.Service
}

func (e syncEmitter) Emit(ctx context.Context, event auditdomain.Event) {
	_ = e.svc.Record(ctx, event)
}

type testServer struct {
	t     *testing.T
	db    *gorm.DB
	clock *clock.FakeClock
	srv   *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenBillingDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	policy := staticPolicy{policy: config.DefaultBillingPolicy()}

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepository.Provide(),
		Clock: clk,
	})
	repo := invoicerepository.Provide()
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repo,
		Balance: balance.NewCalculator(repo, policy),
		Visits:  visitservice.NewService(visitservice.Params{DB: db, Log: zap.NewNop()}),
		Catalog: catalogservice.NewStore(db),
		Audit:   syncEmitter{svc: auditSvc},
		Policy:  policy,
		Clock:   clk,
		Metrics: obsmetrics.NewNoop(),
	})

	httpMetrics, err := obsmetrics.NewHTTPMetricsWithRegisterer(prometheus.NewRegistry(), obsmetrics.Config{ServiceName: "clinicpay-test"})
	require.NoError(t, err)

	srv := NewServer(ServerParams{
		Gin:        NewEngine(observability.Config{LogLevel: "info"}, httpMetrics, db),
		InvoiceSvc: invoiceSvc,
		AuditSvc:   auditSvc,
	})
	return &testServer{t: t, db: db, clock: clk, srv: srv}
}

func (ts *testServer) seedVisit(id, patientID int64) {
	ts.t.Helper()
	started := ts.clock.Now()
	require.NoError(ts.t, ts.db.Create(&visitdomain.Visit{
		ID:                    snowflake.ID(id),
		PatientID:             snowflake.ID(patientID),
		Status:                visitdomain.StatusInConsultation,
		ConsultationStartedAt: &started,
		CreatedAt:             started,
		UpdatedAt:             started,
	}).Error)
}

func (ts *testServer) seedService(id int64, price string) {
	ts.t.Helper()
	require.NoError(ts.t, ts.db.Exec(
		`INSERT INTO services (id, name, price, is_active) VALUES (?, ?, ?, ?)`,
		id, "Consultation", price, true,
	).Error)
}

func (ts *testServer) do(method, path, role string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(HeaderActorID, role+"-1")
		req.Header.Set(HeaderActorRole, role)
	}
	w := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(w, req)
	return w
}

// billedInvoice creates an invoice for a new visit holding one service line.
func (ts *testServer) billedInvoice(visitID, patientID int64, price string) invoicedomain.InvoiceDetail {
	ts.t.Helper()
	ts.seedVisit(visitID, patientID)
	ts.seedService(visitID*100, price)

	w := ts.do(http.MethodPost, "/api/visits/"+itoa(visitID)+"/items/services", "doctor", gin.H{"item_id": itoa(visitID * 100)})
	require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())
	return decodeDetail(ts.t, w)
}

func itoa(v int64) string {
	return snowflake.ID(v).String()
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) invoicedomain.InvoiceDetail {
	t.Helper()
	var out struct {
		Data invoicedomain.InvoiceDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.Data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out.Error
}

func TestActorHeadersAreRequired(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/invoices/1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeError(t, w).Type)

	w = ts.do(http.MethodGet, "/api/invoices/1", "janitor", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "actor_role", payload.Errors[0].Field)
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVisit(10, 7)
	ts.seedService(500, "100.00")

	w := ts.do(http.MethodPost, "/api/visits/10/invoice", "receptionist", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeDetail(t, w)
	assert.Equal(t, invoicedomain.InvoiceStatusPending, created.Invoice.Status)
	assert.Equal(t, "INV-20260302-000001", created.Invoice.InvoiceNumber)
	invoicePath := "/api/invoices/" + created.Invoice.ID.String()

	w = ts.do(http.MethodPost, invoicePath+"/items/services", "doctor", gin.H{"item_id": "500"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	detail := decodeDetail(t, w)
	assert.True(t, detail.Invoice.BalanceDue.Equal(decimalOf(t, "100")))

	w = ts.do(http.MethodPost, invoicePath+"/payments", "cashier", gin.H{"amount": "40.00", "payment_method": "cash"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, decodeDetail(t, w).Invoice.Status)

	w = ts.do(http.MethodPost, invoicePath+"/payments", "cashier", gin.H{"amount": "70.00", "payment_method": "card"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, invoicedomain.ErrOverpayment.Error(), decodeError(t, w).Code)

	w = ts.do(http.MethodPost, invoicePath+"/complete", "cashier", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result struct {
		Data invoicedomain.PaymentResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, result.Data.Invoice.Status)
	require.NotNil(t, result.Data.Payment)
	assert.True(t, result.Data.Payment.Amount.Equal(decimalOf(t, "60")))

	w = ts.do(http.MethodPost, invoicePath+"/payments", "cashier", gin.H{"amount": "1.00", "payment_method": "cash"})
	assert.Equal(t, http.StatusConflict, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "state_conflict", payload.Type)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, payload.Status)

	w = ts.do(http.MethodGet, "/api/visits/10/invoice", "cashier", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeDetail(t, w).Payments, 2)

	w = ts.do(http.MethodGet, invoicePath+"/audit-logs", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var logs struct {
		Data []auditdomain.AuditLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	assert.NotEmpty(t, logs.Data)
	for _, entry := range logs.Data {
		assert.Equal(t, created.Invoice.ID.String(), entry.EntityID)
	}
}

func TestCapExceededListsOutstandingInvoices(t *testing.T) {
	ts := newTestServer(t)
	first := ts.billedInvoice(10, 7, "40.00")
	second := ts.billedInvoice(11, 7, "60.00")
	ts.seedVisit(12, 7)

	w := ts.do(http.MethodPost, "/api/visits/12/invoice", "receptionist", nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	payload := decodeError(t, w)
	assert.Equal(t, invoicedomain.ErrCapExceeded.Error(), payload.Code)
	assert.Equal(t, 2, payload.Limit)
	require.Len(t, payload.Invoices, 2)
	assert.Equal(t, first.Invoice.ID, payload.Invoices[0].ID)
	assert.Equal(t, second.Invoice.ID, payload.Invoices[1].ID)

	w = ts.do(http.MethodGet, "/api/patients/7/can-create-invoice", "receptionist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var eligibility struct {
		Data invoicedomain.CreateEligibility `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eligibility))
	assert.False(t, eligibility.Data.Allowed)
	assert.Equal(t, 2, eligibility.Data.Outstanding.Count)

	w = ts.do(http.MethodGet, "/api/patients/7/outstanding", "cashier", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var outstanding struct {
		Data invoicedomain.OutstandingBalance `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outstanding))
	assert.True(t, outstanding.Data.TotalBalance.Equal(decimalOf(t, "100")))

	w = ts.do(http.MethodGet, "/api/patients/7/invoices?status=pending&page_size=1", "cashier", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page struct {
		Data     []invoicedomain.Invoice `json:"data"`
		PageInfo struct {
			NextPageToken string `json:"next_page_token"`
		} `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Data, 1)
	assert.NotEmpty(t, page.PageInfo.NextPageToken)
}

func TestRequestValidationErrors(t *testing.T) {
	ts := newTestServer(t)
	inv := ts.billedInvoice(10, 7, "50.00")
	invoicePath := "/api/invoices/" + inv.Invoice.ID.String()

	w := ts.do(http.MethodPost, invoicePath+"/payments", "cashier", gin.H{"amount": "10.00", "payment_method": "barter"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "payment_method", payload.Errors[0].Field)

	req := httptest.NewRequest(http.MethodPost, invoicePath+"/payments", bytes.NewBufferString("{not json"))
	req.Header.Set(HeaderActorID, "cashier-1")
	req.Header.Set(HeaderActorRole, "cashier")
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "request", decodeError(t, rec).Errors[0].Field)

	w = ts.do(http.MethodPost, invoicePath+"/cancel", "cashier", gin.H{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPut, invoicePath+"/discount", "cashier", gin.H{"discount_amount": "5", "discount_percentage": "10"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/api/invoices/abc", "cashier", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "id", decodeError(t, w).Errors[0].Field)
}

func TestRejectedVisitItemLeavesNoInvoice(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVisit(100, 7)
	ts.seedService(500, "30.00")
	path := "/api/visits/100/items/services"

	w := ts.do(http.MethodPost, path, "doctor", gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = ts.do(http.MethodPost, path, "doctor", gin.H{"item_id": "999"})
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	assert.Equal(t, invoicedomain.ErrCatalogNotFound.Error(), decodeError(t, w).Code)

	var count int64
	require.NoError(t, ts.db.Model(&invoicedomain.Invoice{}).Where("visit_id = ?", 100).Count(&count).Error)
	assert.Zero(t, count)

	w = ts.do(http.MethodGet, "/api/patients/7/can-create-invoice", "receptionist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var eligibility struct {
		Data invoicedomain.CreateEligibility `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eligibility))
	assert.True(t, eligibility.Data.Allowed)
	assert.Equal(t, 0, eligibility.Data.Outstanding.Count)

	ts.billedInvoice(10, 7, "40.00")
	ts.billedInvoice(11, 7, "60.00")

	w = ts.do(http.MethodPost, path, "doctor", gin.H{"item_id": "500"})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, invoicedomain.ErrCapExceeded.Error(), decodeError(t, w).Code)
	require.NoError(t, ts.db.Model(&invoicedomain.Invoice{}).Where("visit_id = ?", 100).Count(&count).Error)
	assert.Zero(t, count)
}

func TestNotFoundResponses(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/invoices/999", "cashier", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, invoicedomain.ErrInvoiceNotFound.Error(), decodeError(t, w).Code)

	w = ts.do(http.MethodPost, "/api/visits/404/invoice", "receptionist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, invoicedomain.ErrVisitNotFound.Error(), decodeError(t, w).Code)

	w = ts.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDoctorItemRemovalAfterConsultationIsForbidden(t *testing.T) {
	ts := newTestServer(t)
	inv := ts.billedInvoice(10, 7, "50.00")
	ended := ts.clock.Now().Add(time.Minute)
	require.NoError(t, ts.db.Exec(`UPDATE visits SET consultation_ended_at = ? WHERE id = ?`, ended, 10).Error)

	itemPath := "/api/invoices/" + inv.Invoice.ID.String() + "/items/" + inv.Items[0].ID.String()
	w := ts.do(http.MethodDelete, itemPath, "doctor", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, invoicedomain.ErrItemRemovalForbidden.Error(), decodeError(t, w).Code)

	w = ts.do(http.MethodPatch, itemPath, "cashier", gin.H{"quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decodeDetail(t, w).Invoice.TotalAmount.Equal(decimalOf(t, "100")))

	w = ts.do(http.MethodDelete, itemPath, "cashier", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decodeDetail(t, w).Items)
}

func TestHoldAndResumeOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	inv := ts.billedInvoice(10, 7, "50.00")
	invoicePath := "/api/invoices/" + inv.Invoice.ID.String()

	w := ts.do(http.MethodPost, invoicePath+"/hold", "cashier", gin.H{"reason": "insurance pending", "payment_due_date": "2026-03-20"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	held := decodeDetail(t, w)
	assert.Equal(t, invoicedomain.InvoiceStatusOnHold, held.Invoice.Status)
	require.NotNil(t, held.Invoice.PaymentDueDate)
	assert.Equal(t, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), held.Invoice.PaymentDueDate.UTC())

	w = ts.do(http.MethodPost, invoicePath+"/hold", "cashier", gin.H{"reason": "again", "payment_due_date": "20/03/2026"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, invoicePath+"/resume", "cashier", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, invoicedomain.InvoiceStatusPending, decodeDetail(t, w).Invoice.Status)
}

func TestMapErrorUpstreamUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	r.GET("/boom", func(c *gin.Context) {
		AbortWithError(c, &invoicedomain.UpstreamUnavailableError{Op: "find invoice", Err: errors.New("connection refused")})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Equal(t, "service_unavailable", decodeError(t, w).Type)
}

func TestMapErrorVersionConflict(t *testing.T) {
	status, payload := mapError(invoicedomain.ErrVersionConflict)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, invoicedomain.ErrVersionConflict.Error(), payload.Code)

	status, _ = mapError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	sqlDB, err := ts.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w = ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func decimalOf(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestFromOzzoOrdersFieldsByName(t *testing.T) {
	fieldErrs := validation.Errors{
		"quantity":   validation.NewError("validation_min_greater_equal_than_required", "must be no less than 0"),
		"item_id":    validation.NewError("validation_required", "cannot be blank"),
		"notes":      validation.NewError("validation_length_out_of_range", "the length must be between 0 and 500"),
		"unit_price": validation.NewError("validation_invalid", "must be valid"),
	}
	for i := 0; i < 10; i++ {
		vErr := asValidationErrors(fromOzzo(fieldErrs))
		require.NotNil(t, vErr)
		fields := make([]string, 0, len(vErr.Errors))
		for _, e := range vErr.Errors {
			fields = append(fields, e.Field)
		}
		assert.Equal(t, []string{"item_id", "notes", "quantity", "unit_price"}, fields)
		assert.Equal(t, "validation_required", vErr.Errors[0].Code)
	}
}
