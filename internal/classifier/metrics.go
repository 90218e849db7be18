package classifier

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashureev/sidekick/internal/telemetry"
)

type metrics struct {
	enqueued    metric.Int64Counter
	dropped     metric.Int64Counter
	evicted     metric.Int64Counter
	batches     metric.Int64Counter
	deferred    metric.Int64Counter
	activations metric.Int64Counter

	depth atomic.Int64
}

// newMetrics registers classifier instruments on the global meter provider.
// Registration errors leave no-op instruments in place.
func newMetrics() *metrics {
	meter := telemetry.Meter("sidekick/classifier")
	m := &metrics{}

	m.enqueued, _ = meter.Int64Counter("sidekick.trigger.enqueued",
		metric.WithDescription("Trigger events accepted into the arbitration queue"))
	m.dropped, _ = meter.Int64Counter("sidekick.trigger.dropped",
		metric.WithDescription("Trigger events discarded before delivery"))
	m.evicted, _ = meter.Int64Counter("sidekick.trigger.evicted",
		metric.WithDescription("Queued trigger events evicted by more urgent arrivals"))
	m.batches, _ = meter.Int64Counter("sidekick.trigger.batches",
		metric.WithDescription("Trigger batches flushed to the sink"))
	m.deferred, _ = meter.Int64Counter("sidekick.trigger.deferred_flushes",
		metric.WithDescription("Flushes postponed by the minimum interval"))
	m.activations, _ = meter.Int64Counter("sidekick.session.activations",
		metric.WithDescription("PREGAME to ACTIVE transitions"))

	_, _ = meter.Int64ObservableGauge("sidekick.trigger.queue_depth",
		metric.WithDescription("Current number of pending trigger events"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.depth.Load())
			return nil
		}),
	)
	return m
}

func (m *metrics) add(c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
