// Package app assembles an insighttrack service from configuration: it
// builds the configured adapters, wires logging, Prometheus metrics and
// tracing, and runs the initialization and activation sequence the daemon
// needs at startup.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack"
	"github.com/randalmurphal/insighttrack/pkg/insighttrack/config"
	"github.com/randalmurphal/insighttrack/pkg/insighttrack/observability"
)

// App owns a configured Service and the metrics registry it reports to.
type App struct {
	settings config.Settings
	logger   *slog.Logger
	metrics  *prometheus.Registry
	service  *insighttrack.Service
}

// Option configures an App.
type Option func(*options)

type options struct {
	factories *Factories
	metrics   *prometheus.Registry
	extra     []insighttrack.Option
}

// WithFactories replaces the adapter factory table.
// Default: DefaultFactories()
func WithFactories(f *Factories) Option {
	return func(o *options) {
		o.factories = f
	}
}

// WithMetricsRegistry sets the Prometheus registry metrics are registered
// on. Default: a fresh registry with Go and process collectors.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.metrics = reg
	}
}

// WithServiceOptions appends options passed to insighttrack.New after the
// ones App derives from settings.
func WithServiceOptions(opts ...insighttrack.Option) Option {
	return func(o *options) {
		o.extra = append(o.extra, opts...)
	}
}

// New builds every configured adapter and creates the service. Nothing is
// initialized until Start.
func New(settings config.Settings, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.factories == nil {
		o.factories = DefaultFactories()
	}
	if o.metrics == nil {
		o.metrics = prometheus.NewRegistry()
		o.metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	built := make([]insighttrack.Adapter, 0, len(settings.Adapters))
	var errs []error
	for _, as := range settings.Adapters {
		a, err := o.factories.Build(as, logger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		built = append(built, a)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	recorder, err := observability.NewPrometheusRecorder(o.metrics)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	svcOpts := append(settings.ServiceOptions(),
		insighttrack.WithLogger(logger),
		insighttrack.WithMetrics(recorder),
		insighttrack.WithTracing(observability.NewSpanManager()),
		insighttrack.WithOnInitialized(func() {
			logger.Info("analytics service initialized")
		}),
		insighttrack.WithOnSendException(func(err *insighttrack.AdapterError) {
			logger.Warn("send exception",
				slog.String("adapter", err.Adapter),
				slog.String("event", err.Event.Name()),
				slog.String("event_id", err.Event.ID()),
				slog.String("error", err.Err.Error()),
			)
		}),
		insighttrack.WithOnAdapterError(func(err *insighttrack.AdapterError) {
			logger.Error("adapter error",
				slog.String("adapter", err.Adapter),
				slog.String("kind", err.Kind.String()),
				slog.String("error", err.Err.Error()),
			)
		}),
	)
	svcOpts = append(svcOpts, o.extra...)

	svc, err := insighttrack.New(built, svcOpts...)
	if err != nil {
		return nil, err
	}

	return &App{
		settings: settings,
		logger:   logger,
		metrics:  o.metrics,
		service:  svc,
	}, nil
}

// Start initializes the service within the configured init timeout and,
// when auto_activate is set, turns sending on. Cancelling ctx stops
// initialization.
func (a *App) Start(ctx context.Context) error {
	timeout := a.settings.InitTimeout
	if timeout <= 0 {
		timeout = config.DefaultInitTimeout
	}
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := a.service.Initialize(ictx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if a.settings.AutoActivate {
		if err := a.service.SetSendingActive(true); err != nil {
			return fmt.Errorf("activate sending: %w", err)
		}
	}

	stats := a.service.Stats()
	a.logger.Info("analytics service started",
		slog.Int("adapters", stats.Adapters),
		slog.Int("ready", stats.ReadyAdapters),
		slog.Int("failed", stats.FailedAdapters),
		slog.Bool("sending_active", stats.SendingActive),
	)
	return nil
}

// Service returns the managed service.
func (a *App) Service() *insighttrack.Service {
	return a.service
}

// Metrics returns the registry the service reports to.
func (a *App) Metrics() *prometheus.Registry {
	return a.metrics
}

// Settings returns the settings the app was built from.
func (a *App) Settings() config.Settings {
	return a.settings
}

// Close disposes the service. Buffered events that were never delivered
// are discarded.
func (a *App) Close() error {
	return a.service.Dispose()
}
