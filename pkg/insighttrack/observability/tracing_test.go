package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest installs a tracer provider backed by an in-memory exporter.
func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("insighttrack")

	t.Cleanup(func() {
		otel.SetTracerProvider(originalProvider)
		tracer = otel.Tracer("insighttrack")
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	})

	return exporter
}

func attrString(attrs []attribute.KeyValue, key string) string {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value.Emit()
		}
	}
	return ""
}

func TestSpanManager_DeliverySpan(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, span := sm.StartDeliverySpan(context.Background(), "login", "evt-1")
	sm.AddSpanEvent(ctx, "adapter.failed", attribute.String("adapter", "ads"))
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, "insighttrack.deliver", s.Name)
	assert.Equal(t, "login", attrString(s.Attributes, "event.name"))
	assert.Equal(t, "evt-1", attrString(s.Attributes, "event.id"))
	assert.Equal(t, codes.Ok, s.Status.Code)
	require.Len(t, s.Events, 1)
	assert.Equal(t, "adapter.failed", s.Events[0].Name)
}

func TestSpanManager_InitSpanWithError(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	_, span := sm.StartInitSpan(context.Background(), "consent", 0)
	sm.EndSpanWithError(span, errors.New("denied"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, "insighttrack.adapter.init", s.Name)
	assert.Equal(t, "consent", attrString(s.Attributes, "adapter.name"))
	assert.Equal(t, codes.Error, s.Status.Code)
	assert.Equal(t, "denied", s.Status.Description)
}

func TestSpanManager_NilSpan(t *testing.T) {
	sm := NewSpanManager()
	assert.NotPanics(t, func() {
		sm.EndSpanWithError(nil, errors.New("x"))
		sm.AddSpanEvent(context.Background(), "nothing")
	})
}

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()

	var sm SpanManager = NoopSpanManager{}
	got, span := sm.StartDeliverySpan(ctx, "login", "evt-1")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	got, span = sm.StartInitSpan(ctx, "consent", 1)
	assert.Equal(t, ctx, got)
	assert.NotPanics(t, func() {
		sm.EndSpanWithError(span, errors.New("x"))
		sm.AddSpanEvent(ctx, "event")
	})

	var m MetricsRecorder = NoopMetrics{}
	assert.NotPanics(t, func() {
		m.RecordRouted(ctx, "login", true)
		m.RecordDelivery(ctx, "a", 0, nil)
		m.RecordInitialization(ctx, "a", 0, errors.New("x"))
		m.RecordDiscarded(ctx, "disposed", 1)
	})
}
