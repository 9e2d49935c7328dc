package adapters

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack"
)

// LogAdapter writes every event as a structured log record. It is useful as
// a development destination and as an audit trail next to real backends.
type LogAdapter struct {
	*Base
	logger *slog.Logger
	level  slog.Level
}

// LogOption configures a LogAdapter.
type LogOption func(*LogAdapter)

// WithLogLevel sets the level events are logged at.
// Default: slog.LevelInfo
func WithLogLevel(level slog.Level) LogOption {
	return func(a *LogAdapter) {
		a.level = level
	}
}

// WithPriority sets the initialization priority.
// Default: 0
func WithPriority(priority int) LogOption {
	return func(a *LogAdapter) {
		a.Base.priority = priority
	}
}

// NewLogAdapter creates a LogAdapter. A nil logger uses slog.Default().
func NewLogAdapter(name string, logger *slog.Logger, opts ...LogOption) *LogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &LogAdapter{
		Base:   NewBase(name, 0),
		logger: logger.With("adapter", name),
		level:  slog.LevelInfo,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initialize implements insighttrack.Adapter.
func (a *LogAdapter) Initialize(ctx context.Context) error {
	return a.Start(ctx, nil)
}

// Accept implements insighttrack.Adapter.
func (a *LogAdapter) Accept(ctx context.Context, evt insighttrack.Event) error {
	if !a.Ready() {
		return ErrNotReady
	}

	attrs := []slog.Attr{
		slog.String("event_id", evt.ID()),
		slog.String("event", evt.Name()),
	}
	if v := evt.Value(); v != "" {
		attrs = append(attrs, slog.String("value", v))
	}
	if evt.HasParams() {
		params := evt.Params()
		group := make([]any, 0, len(params))
		for k, v := range params {
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("params", group...))
	}

	a.logger.LogAttrs(ctx, a.level, "analytics event", attrs...)
	return nil
}

// SetUserProperty implements insighttrack.UserPropertySetter.
func (a *LogAdapter) SetUserProperty(ctx context.Context, name, value string) error {
	a.logger.LogAttrs(ctx, a.level, "user property",
		slog.String("name", name),
		slog.String("value", value),
	)
	return nil
}

// Dispose implements insighttrack.Adapter.
func (a *LogAdapter) Dispose() error {
	return a.Stop(nil)
}
