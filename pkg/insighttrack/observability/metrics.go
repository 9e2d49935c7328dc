package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records dispatcher metrics.
// Use NewMetricsRecorder() for OTel metrics, NewPrometheusRecorder() for a
// Prometheus registry, or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordRouted records an event handed to the dispatcher and whether it
	// was buffered instead of delivered directly.
	RecordRouted(ctx context.Context, eventName string, buffered bool)

	// RecordDelivery records one adapter Accept call.
	RecordDelivery(ctx context.Context, adapter string, duration time.Duration, err error)

	// RecordInitialization records one adapter Initialize call.
	RecordInitialization(ctx context.Context, adapter string, duration time.Duration, err error)

	// RecordDiscarded records buffered events dropped without delivery.
	RecordDiscarded(ctx context.Context, reason string, count int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	eventsRouted    metric.Int64Counter
	deliveries      metric.Int64Counter
	deliveryErrors  metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	initLatency     metric.Float64Histogram
	initErrors      metric.Int64Counter
	discarded       metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the shared OTel instruments.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("insighttrack")

	eventsRouted, err := meter.Int64Counter("insighttrack.events.routed",
		metric.WithDescription("Number of events handed to the dispatcher"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("insighttrack.delivery.count",
		metric.WithDescription("Number of adapter deliveries"),
	)
	if err != nil {
		return nil, err
	}

	deliveryErrors, err := meter.Int64Counter("insighttrack.delivery.errors",
		metric.WithDescription("Number of failed adapter deliveries"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("insighttrack.delivery.latency_ms",
		metric.WithDescription("Adapter delivery latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	initLatency, err := meter.Float64Histogram("insighttrack.adapter.init.latency_ms",
		metric.WithDescription("Adapter initialization latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	initErrors, err := meter.Int64Counter("insighttrack.adapter.init.errors",
		metric.WithDescription("Number of failed adapter initializations"),
	)
	if err != nil {
		return nil, err
	}

	discarded, err := meter.Int64Counter("insighttrack.buffer.discarded",
		metric.WithDescription("Number of buffered events dropped without delivery"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		eventsRouted:    eventsRouted,
		deliveries:      deliveries,
		deliveryErrors:  deliveryErrors,
		deliveryLatency: deliveryLatency,
		initLatency:     initLatency,
		initErrors:      initErrors,
		discarded:       discarded,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordRouted records a routed event.
func (m *otelMetrics) RecordRouted(ctx context.Context, eventName string, buffered bool) {
	m.eventsRouted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", eventName),
		attribute.Bool("buffered", buffered),
	))
}

// RecordDelivery records an adapter delivery.
func (m *otelMetrics) RecordDelivery(ctx context.Context, adapter string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("adapter", adapter))

	m.deliveries.Add(ctx, 1, attrs)
	m.deliveryLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.deliveryErrors.Add(ctx, 1, attrs)
	}
}

// RecordInitialization records an adapter initialization.
func (m *otelMetrics) RecordInitialization(ctx context.Context, adapter string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("adapter", adapter),
		attribute.Bool("success", err == nil),
	)

	m.initLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.initErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("adapter", adapter)))
	}
}

// RecordDiscarded records dropped buffered events.
func (m *otelMetrics) RecordDiscarded(ctx context.Context, reason string, count int) {
	if count <= 0 {
		return
	}
	m.discarded.Add(ctx, int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}
