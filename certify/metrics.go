package certify

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentationName scopes the pipeline's meter and tracer.
const instrumentationName = "github.com/teranos/pact/certify"

// Metrics are the pipeline instruments. Outcome and status ride along as
// attributes.
type Metrics struct {
	messages     metric.Int64Counter
	traces       metric.Int64Counter
	contracts    metric.Int64Counter
	duration     metric.Float64Histogram
	activeTraces metric.Int64UpDownCounter
	meter        metric.Meter
}

// NewMetrics registers the instruments on meter. A nil meter uses the
// global provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	m := Metrics{meter: meter}
	var err error
	if m.messages, err = meter.Int64Counter("pact.certify.messages",
		metric.WithDescription("Queue messages by decode outcome")); err != nil {
		return nil, err
	}
	if m.traces, err = meter.Int64Counter("pact.certify.traces",
		metric.WithDescription("Traces by certification outcome")); err != nil {
		return nil, err
	}
	if m.contracts, err = meter.Int64Counter("pact.certify.contracts",
		metric.WithDescription("Active contracts by status")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("pact.certify.duration",
		metric.WithDescription("Time to certify one trace"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.activeTraces, err = meter.Int64UpDownCounter("pact.certify.traces.active",
		metric.WithDescription("Traces being certified")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) message(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) trace(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.traces.Add(ctx, 1, attrs)
	m.duration.Record(ctx, seconds, attrs)
}

func (m *Metrics) contract(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.contracts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// ObserveQueue reports depth() as the queue depth gauge until the
// registration is undone.
func (m *Metrics) ObserveQueue(depth func() int) (metric.Registration, error) {
	if m == nil {
		return nil, nil
	}
	gauge, err := m.meter.Int64ObservableGauge("pact.certify.queue.depth",
		metric.WithDescription("Messages waiting for a worker"))
	if err != nil {
		return nil, err
	}
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(depth()))
		return nil
	}, gauge)
}

func (m *Metrics) active(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.activeTraces.Add(ctx, delta)
}
