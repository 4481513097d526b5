package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/lorrc/notify-gateway"

// Metrics groups the gateway's instruments.
type Metrics struct {
	dispatched      metric.Int64Counter
	deliveries      metric.Int64Counter
	drops           metric.Int64Counter
	publishFailures metric.Int64Counter
	received        metric.Int64Counter
	connections     metric.Int64UpDownCounter
	rejectedJoins   metric.Int64Counter
}

// NewMetrics registers the instruments on provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{}

	var err error
	if m.dispatched, err = meter.Int64Counter("notify.events.dispatched",
		metric.WithDescription("Events accepted by the dispatch API")); err != nil {
		return nil, err
	}
	if m.deliveries, err = meter.Int64Counter("notify.deliveries",
		metric.WithDescription("Frames queued to local connections")); err != nil {
		return nil, err
	}
	if m.drops, err = meter.Int64Counter("notify.deliveries.dropped",
		metric.WithDescription("Frames that could not be queued to a connection")); err != nil {
		return nil, err
	}
	if m.publishFailures, err = meter.Int64Counter("notify.broker.publish_failures",
		metric.WithDescription("Envelopes the broker failed to forward")); err != nil {
		return nil, err
	}
	if m.received, err = meter.Int64Counter("notify.broker.received",
		metric.WithDescription("Envelopes received from other nodes")); err != nil {
		return nil, err
	}
	if m.connections, err = meter.Int64UpDownCounter("notify.connections.open",
		metric.WithDescription("Open client connections")); err != nil {
		return nil, err
	}
	if m.rejectedJoins, err = meter.Int64Counter("notify.subscriptions.rejected",
		metric.WithDescription("Topic joins refused by the policy")); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNoopMetrics returns instruments that record nothing.
func NewNoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) EventDispatched(ctx context.Context, kind, target string) {
	m.dispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", kind),
		attribute.String("target", target),
	))
}

func (m *Metrics) Delivered(ctx context.Context, n int) {
	if n > 0 {
		m.deliveries.Add(ctx, int64(n))
	}
}

func (m *Metrics) Dropped(ctx context.Context, reason string) {
	m.drops.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) PublishFailed(ctx context.Context, backend string) {
	m.publishFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func (m *Metrics) EnvelopeReceived(ctx context.Context, backend string) {
	m.received.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func (m *Metrics) ConnectionOpened(ctx context.Context, role string) {
	m.connections.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

func (m *Metrics) ConnectionClosed(ctx context.Context, role string) {
	m.connections.Add(ctx, -1, metric.WithAttributes(attribute.String("role", role)))
}

func (m *Metrics) JoinRejected(ctx context.Context, family string) {
	m.rejectedJoins.Add(ctx, 1, metric.WithAttributes(attribute.String("family", family)))
}
