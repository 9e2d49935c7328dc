package insighttrack

import (
	"log/slog"

	iterrors "github.com/randalmurphal/insighttrack/pkg/insighttrack/errors"
	"github.com/randalmurphal/insighttrack/pkg/insighttrack/observability"
)

// DeliveryMode selects how the dispatcher runs deliveries.
type DeliveryMode int

const (
	// DeliveryAsync delivers each event on its own goroutine and drains the
	// buffer in the background. SendEvent never blocks on adapters.
	DeliveryAsync DeliveryMode = iota

	// DeliverySync delivers on the caller's goroutine. SendEvent returns
	// after every adapter has seen the event, and activating sending
	// returns after the buffer has been drained. Only one goroutine
	// delivers at a time: an event sent while another sync delivery is
	// running, including from inside Accept, is queued and delivered by
	// that goroutine before it returns.
	DeliverySync
)

// String returns the mode name.
func (m DeliveryMode) String() string {
	switch m {
	case DeliveryAsync:
		return "async"
	case DeliverySync:
		return "sync"
	default:
		return "unknown"
	}
}

// InitPolicy decides what happens when an adapter fails to initialize.
type InitPolicy int

const (
	// InitPolicyContinue reports the failure, leaves the adapter out of
	// delivery, and continues with the remaining adapters.
	InitPolicyContinue InitPolicy = iota

	// InitPolicyAbort stops the pass, disposes every adapter initialized so
	// far, and returns the failure from Initialize.
	InitPolicyAbort
)

// String returns the policy name.
func (p InitPolicy) String() string {
	switch p {
	case InitPolicyContinue:
		return "continue"
	case InitPolicyAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// config holds the settings shared by the registry, dispatcher and service.
type config struct {
	mode          DeliveryMode
	maxConcurrent int
	initPolicy    InitPolicy
	initRetry     iterrors.RetryConfig

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	onInitialized   func()
	onSendException func(*AdapterError)
	onAdapterError  func(*AdapterError)
}

// defaultConfig returns the default settings.
func defaultConfig() *config {
	return &config{
		mode:       DeliveryAsync,
		initPolicy: InitPolicyContinue,
		initRetry:  iterrors.NoRetry,
		metrics:    observability.NoopMetrics{},
		spans:      observability.NoopSpanManager{},
	}
}

func newConfig(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures a Service, Registry or Dispatcher.
type Option func(*config)

// WithDeliveryMode selects synchronous or asynchronous delivery. In either
// mode an adapter may send follow-up events from inside Accept.
// Default: DeliveryAsync
func WithDeliveryMode(mode DeliveryMode) Option {
	return func(c *config) {
		c.mode = mode
	}
}

// WithMaxConcurrentDeliveries bounds the number of events being fanned out at
// once in async mode. Deliveries beyond the limit wait for a free slot on
// their own goroutine, so SendEvent still does not block.
// Default: 0 (unbounded)
func WithMaxConcurrentDeliveries(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxConcurrent = n
		}
	}
}

// WithInitPolicy sets the adapter initialization failure policy.
// Default: InitPolicyContinue
func WithInitPolicy(p InitPolicy) Option {
	return func(c *config) {
		c.initPolicy = p
	}
}

// WithInitRetry retries adapter initialization failures that are
// categorized as transient.
// Default: errors.NoRetry
func WithInitRetry(cfg iterrors.RetryConfig) Option {
	return func(c *config) {
		c.initRetry = cfg
	}
}

// WithLogger enables structured logging. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
//
// Example:
//
//	svc, err := insighttrack.New(adapters,
//	    insighttrack.WithMetrics(observability.NewMetricsRecorder()),
//	)
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *config) {
		if m == nil {
			m = observability.NoopMetrics{}
		}
		c.metrics = m
	}
}

// WithTracing sets the span manager.
func WithTracing(s observability.SpanManager) Option {
	return func(c *config) {
		if s == nil {
			s = observability.NoopSpanManager{}
		}
		c.spans = s
	}
}

// WithOnInitialized registers a callback fired once, after the first
// successful initialization.
//
// A panic in any hook is recovered and logged; it never reaches the
// delivering goroutine or the caller.
func WithOnInitialized(fn func()) Option {
	return func(c *config) {
		c.onInitialized = fn
	}
}

// WithOnSendException registers a callback fired for every failed delivery.
// It runs on the delivering goroutine and must not block.
func WithOnSendException(fn func(*AdapterError)) Option {
	return func(c *config) {
		c.onSendException = fn
	}
}

// WithOnAdapterError registers a callback fired for adapter failures outside
// delivery: initialization, user properties and dispose.
func WithOnAdapterError(fn func(*AdapterError)) Option {
	return func(c *config) {
		c.onAdapterError = fn
	}
}

func (c *config) reportInitialized() {
	if c.onInitialized != nil {
		c.runHook("on_initialized", c.onInitialized)
	}
}

func (c *config) reportSendException(err *AdapterError) {
	if c.onSendException != nil {
		c.runHook("on_send_exception", func() { c.onSendException(err) })
	}
}

func (c *config) reportAdapterError(err *AdapterError) {
	if c.onAdapterError != nil {
		c.runHook("on_adapter_error", func() { c.onAdapterError(err) })
	}
}

// runHook calls a user hook, recovering any panic.
func (c *config) runHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			observability.LogHookPanic(c.logger, name, r)
		}
	}()
	fn()
}
