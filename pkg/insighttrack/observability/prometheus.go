package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics implements MetricsRecorder on a Prometheus registry.
type promMetrics struct {
	eventsRouted    *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	deliveryErrors  *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
	initLatency     *prometheus.HistogramVec
	discarded       *prometheus.CounterVec
}

// NewPrometheusRecorder registers the dispatcher collectors with reg and
// returns a recorder backed by them. Pass prometheus.DefaultRegisterer to use
// the global registry.
func NewPrometheusRecorder(reg prometheus.Registerer) (MetricsRecorder, error) {
	m := &promMetrics{
		eventsRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insighttrack",
				Subsystem: "events",
				Name:      "routed_total",
				Help:      "Total number of events handed to the dispatcher",
			},
			[]string{"buffered"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insighttrack",
				Subsystem: "delivery",
				Name:      "total",
				Help:      "Total number of adapter deliveries",
			},
			[]string{"adapter"},
		),
		deliveryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insighttrack",
				Subsystem: "delivery",
				Name:      "errors_total",
				Help:      "Total number of failed adapter deliveries",
			},
			[]string{"adapter"},
		),
		deliveryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "insighttrack",
				Subsystem: "delivery",
				Name:      "duration_seconds",
				Help:      "Duration of adapter deliveries in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"adapter"},
		),
		initLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "insighttrack",
				Subsystem: "adapter",
				Name:      "init_duration_seconds",
				Help:      "Duration of adapter initialization in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"adapter", "success"},
		),
		discarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insighttrack",
				Subsystem: "buffer",
				Name:      "discarded_total",
				Help:      "Total number of buffered events dropped without delivery",
			},
			[]string{"reason"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.eventsRouted, m.deliveries, m.deliveryErrors,
		m.deliveryLatency, m.initLatency, m.discarded,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordRouted records a routed event. Event names are not used as labels
// to keep cardinality bounded.
func (m *promMetrics) RecordRouted(_ context.Context, _ string, buffered bool) {
	label := "false"
	if buffered {
		label = "true"
	}
	m.eventsRouted.WithLabelValues(label).Inc()
}

// RecordDelivery records an adapter delivery.
func (m *promMetrics) RecordDelivery(_ context.Context, adapter string, duration time.Duration, err error) {
	m.deliveries.WithLabelValues(adapter).Inc()
	m.deliveryLatency.WithLabelValues(adapter).Observe(duration.Seconds())
	if err != nil {
		m.deliveryErrors.WithLabelValues(adapter).Inc()
	}
}

// RecordInitialization records an adapter initialization.
func (m *promMetrics) RecordInitialization(_ context.Context, adapter string, duration time.Duration, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	m.initLatency.WithLabelValues(adapter, success).Observe(duration.Seconds())
}

// RecordDiscarded records dropped buffered events.
func (m *promMetrics) RecordDiscarded(_ context.Context, reason string, count int) {
	if count <= 0 {
		return
	}
	m.discarded.WithLabelValues(reason).Add(float64(count))
}
