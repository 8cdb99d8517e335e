package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/clinicpay/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// routeParams maps path parameters to span attribute keys.
var routeParams = map[string]string{
	"id":         "clinicpay.invoice_id",
	"visit_id":   "clinicpay.visit_id",
	"patient_id": "clinicpay.patient_id",
	"item_id":    "clinicpay.item_id",
}

// GinMiddleware starts a server span per request and tags it with the
// billing identifiers found in the route.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("clinicpay/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestBaggage(ctx, requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName("HTTP " + c.Request.Method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
		}
		for _, p := range c.Params {
			if key, ok := routeParams[p.Key]; ok && strings.TrimSpace(p.Value) != "" {
				attrs = append(attrs, attribute.String(key, p.Value))
			}
		}
		if role, _ := obscontext.ActorFromContext(c.Request.Context()); role != "" {
			attrs = append(attrs, attribute.String("clinicpay.actor_role", role))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		status := c.Writer.Status()
		if status < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func withRequestBaggage(ctx context.Context, requestID string) context.Context {
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
