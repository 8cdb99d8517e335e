package service

import (
	"context"
	"sync"
	"time"

	auditdomain "github.com/smallbiznis/clinicpay/internal/audit/domain"
	"github.com/smallbiznis/clinicpay/internal/observability/metrics"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// Recorder persists a single audit event.
type Recorder interface {
	Record(ctx context.Context, event auditdomain.Event) error
}

// Dispatcher queues audit events and writes them from one background worker.
type Dispatcher struct {
	recorder Recorder
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	queue  chan auditdomain.Event
	closed bool
	done   chan struct{}
}

func NewDispatcher(recorder Recorder, size int, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	return &Dispatcher{
		recorder: recorder,
		log:      log.Named("audit.dispatcher"),
		metrics:  m,
		queue:    make(chan auditdomain.Event, size),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. It must be called once.
func (d *Dispatcher) Start() {
	go d.run()
}

// Emit enqueues event. Request metadata is captured from ctx now because
// the worker runs after the request has finished.
func (d *Dispatcher) Emit(ctx context.Context, event auditdomain.Event) {
	event = withRequestMetadata(ctx, event)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ctx, event, "stopped")
		return
	}

	select {
	case d.queue <- event:
	default:
		d.drop(ctx, event, "queue_full")
	}
}

// Stop closes the queue and waits for the worker to drain it or for ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.log.Warn("audit dispatcher stopped before draining", zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := d.recorder.Record(ctx, event); err != nil {
			d.metrics.RecordAuditDropped(ctx, "write_failed")
			d.log.Warn("audit event not written",
				zap.String("action", event.Action),
				zap.String("entity_id", event.EntityID),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (d *Dispatcher) drop(ctx context.Context, event auditdomain.Event, reason string) {
	d.metrics.RecordAuditDropped(ctx, reason)
	d.log.Debug("audit event dropped",
		zap.String("reason", reason),
		zap.String("action", event.Action),
		zap.String("entity_id", event.EntityID),
	)
}

var _ auditdomain.Emitter = (*Dispatcher)(nil)
