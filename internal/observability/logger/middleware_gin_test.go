package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/clinicpay/internal/auditcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinMiddlewareLogsBillingConflictsAtWarn(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	var seenRequestID string
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		ErrorClassifier: func(error) (string, string) { return "state_conflict", "invalid_transition" },
	}))
	r.POST("/api/invoices/:id/payments", func(c *gin.Context) {
		seenRequestID = auditcontext.RequestIDFromContext(c.Request.Context())
		_ = c.Error(errors.New("conflict"))
		c.Status(http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/invoices/42/payments", nil)
	req.Header.Set("X-Request-Id", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Header().Get("X-Request-Id"))
	assert.Equal(t, "req-1", seenRequestID)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "42", fields["invoice_id"])
	assert.Equal(t, "/api/invoices/:id/payments", fields["route"])
	assert.Equal(t, "invalid_transition", fields["error_code"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestGinMiddlewareGeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/health", http.StatusServiceUnavailable, ""))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/api/invoices/:id", http.StatusServiceUnavailable, "service_unavailable"))
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/api/invoices/:id", http.StatusBadRequest, "validation_error"))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/api/invoices/:id/payments", http.StatusUnprocessableEntity, "overpayment"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/api/invoices/:id", http.StatusOK, ""))
}
