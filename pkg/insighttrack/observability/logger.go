// Package observability provides structured logging, metrics, and tracing
// for the insighttrack dispatcher.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every logging helper accepts a nil logger and does nothing in that case.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds adapter context to a logger. The per-adapter helpers
// below expect a logger enriched this way.
func EnrichLogger(logger *slog.Logger, adapter string, priority int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("adapter", adapter),
		slog.Int("priority", priority),
	)
}

// LogInitStart logs the start of an initialization pass.
func LogInitStart(logger *slog.Logger, adapterCount int) {
	if logger == nil {
		return
	}
	logger.Info("adapter initialization starting",
		slog.Int("adapters", adapterCount),
	)
}

// LogInitComplete logs a finished initialization pass.
func LogInitComplete(logger *slog.Logger, durationMs float64, ready, failed int) {
	if logger == nil {
		return
	}
	logger.Info("adapter initialization completed",
		slog.Float64("duration_ms", durationMs),
		slog.Int("ready", ready),
		slog.Int("failed", failed),
	)
}

// LogInitCancelled logs an initialization pass aborted by cancellation.
func LogInitCancelled(logger *slog.Logger, disposed int) {
	if logger == nil {
		return
	}
	logger.Warn("adapter initialization cancelled",
		slog.Int("disposed", disposed),
	)
}

// LogAdapterReady logs a single adapter that finished initializing.
func LogAdapterReady(logger *slog.Logger, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("adapter ready",
		slog.Float64("duration_ms", durationMs),
	)
}

// LogAdapterInitError logs an adapter whose initialization failed.
func LogAdapterInitError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("adapter initialization failed",
		slog.String("error", err.Error()),
	)
}

// LogAdapterDisposeError logs a failed dispose (non-fatal).
func LogAdapterDisposeError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Warn("adapter dispose failed",
		slog.String("error", err.Error()),
	)
}

// LogDeliveryError logs an adapter that failed to accept an event.
func LogDeliveryError(logger *slog.Logger, eventName string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event delivery failed",
		slog.String("event", eventName),
		slog.String("error", err.Error()),
	)
}

// LogHookPanic logs a user hook that panicked. The panic does not propagate.
func LogHookPanic(logger *slog.Logger, hook string, recovered any) {
	if logger == nil {
		return
	}
	logger.Error("hook panicked",
		slog.String("hook", hook),
		slog.Any("panic", recovered),
	)
}

// LogDrainStart logs the start of a buffer drain.
func LogDrainStart(logger *slog.Logger, buffered int) {
	if logger == nil {
		return
	}
	logger.Debug("buffer drain starting",
		slog.Int("buffered", buffered),
	)
}

// LogDrainComplete logs a drain that ran to completion or was cancelled.
func LogDrainComplete(logger *slog.Logger, delivered int, cancelled bool) {
	if logger == nil {
		return
	}
	logger.Debug("buffer drain finished",
		slog.Int("delivered", delivered),
		slog.Bool("cancelled", cancelled),
	)
}

// LogDiscarded logs buffered events dropped by drain cancellation or disposal.
func LogDiscarded(logger *slog.Logger, reason string, count int) {
	if logger == nil || count == 0 {
		return
	}
	logger.Info("buffered events discarded",
		slog.String("reason", reason),
		slog.Int("count", count),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
