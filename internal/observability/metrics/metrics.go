package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes billing instruments.
type Metrics struct {
	invoiceTransitions metric.Int64Counter
	paymentsRecorded   metric.Int64Counter
	versionConflicts   metric.Int64Counter
	capRejections      metric.Int64Counter
	auditDropped       metric.Int64Counter
	visitUpdateFailed  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the billing instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "clinicpay"
	}
	meter := provider.Meter(name)

	invoiceTransitions, err := meter.Int64Counter("clinicpay_invoice_transitions_total")
	if err != nil {
		return nil, err
	}
	paymentsRecorded, err := meter.Int64Counter("clinicpay_payments_recorded_total")
	if err != nil {
		return nil, err
	}
	versionConflicts, err := meter.Int64Counter("clinicpay_invoice_version_conflicts_total")
	if err != nil {
		return nil, err
	}
	capRejections, err := meter.Int64Counter("clinicpay_outstanding_cap_rejections_total")
	if err != nil {
		return nil, err
	}
	auditDropped, err := meter.Int64Counter("clinicpay_audit_events_dropped_total")
	if err != nil {
		return nil, err
	}
	visitUpdateFailed, err := meter.Int64Counter("clinicpay_visit_update_failures_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoiceTransitions: invoiceTransitions,
		paymentsRecorded:   paymentsRecorded,
		versionConflicts:   versionConflicts,
		capRejections:      capRejections,
		auditDropped:       auditDropped,
		visitUpdateFailed:  visitUpdateFailed,
	}, nil
}

// NewNoop returns instruments bound to a noop provider, for tests and tools.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordInvoiceTransition(ctx context.Context, from, to string) {
	if m == nil || from == to {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", from),
		attribute.String("to_status", to),
	)
	m.invoiceTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPayment(ctx context.Context, method string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("payment_method", strings.TrimSpace(method)))
	m.paymentsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordVersionConflict(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", operation))
	m.versionConflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordCapRejection(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", operation))
	m.capRejections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordAuditDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", reason))
	m.auditDropped.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordVisitUpdateFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.visitUpdateFailed.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Patient and invoice ids are never allowed as labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"from_status":    {},
	"to_status":      {},
	"payment_method": {},
	"operation":      {},
	"reason":         {},
	"route":          {},
	"status_code":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
