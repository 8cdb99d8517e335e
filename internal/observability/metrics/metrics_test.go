package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("from_status", "pending"),
		attribute.String("patient_id", "456"),
		attribute.String("payment_method", "cash"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "patient_id" {
			t.Fatalf("patient_id must not be a metric label")
		}
	}
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := NewNoop()
	require.NotNil(t, m)
	ctx := context.Background()
	m.RecordInvoiceTransition(ctx, "pending", "paid")
	m.RecordPayment(ctx, "cash")
	m.RecordVersionConflict(ctx, "record_payment")

	var nilMetrics *Metrics
	nilMetrics.RecordAuditDropped(ctx, "queue_full")
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetricsWithRegisterer(reg, Config{ServiceName: "clinicpay", Environment: "test"})
	require.NoError(t, err)

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/invoices/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/invoices/42", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	count := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/invoices/:id", "204"))
	assert.Equal(t, float64(1), count)
}
