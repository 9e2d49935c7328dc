/*
Package insighttrack dispatches analytics events to a set of independently
initialized destination adapters.

# Overview

Applications emit events from the moment they start, but analytics backends
take time to come up and may need to wait for user consent. insighttrack
buffers events until the backends are ready and sending has been switched
on, then fans every event out to each adapter. A failing adapter never
affects the others or the code that sent the event.

# Basic Usage

Implement Adapter for each backend (or use the helpers in the adapters
package), then create a Service:

	svc, err := insighttrack.New([]insighttrack.Adapter{consent, warehouse},
	    insighttrack.WithLogger(slog.Default()),
	)
	if err != nil {
	    log.Fatal(err)
	}
	defer svc.Dispose()

	svc.Send("app_open", "", nil)

	if err := svc.Initialize(ctx); err != nil {
	    log.Fatal(err)
	}
	svc.SetSendingActive(true)

	svc.Send("level_complete", "3", map[string]any{"score": 1200})

# Initialization

Adapters initialize one at a time in ascending Priority order; adapters with
the same priority initialize in registration order. Cancelling the context
passed to Initialize stops the pass and disposes every adapter initialized
during it.

When an adapter fails to initialize, the default InitPolicyContinue reports
the failure through WithOnAdapterError and moves on; the adapter simply
receives no events. InitPolicyAbort stops the pass instead.

# Delivery

Events are delivered to adapters in registration order, one adapter at a
time. Errors and panics from Accept are reported through
WithOnSendException as *AdapterError values.

Buffered events are delivered in the order they were sent. Once sending is
active, each new event is delivered independently and events may reach
adapters in any order. Deactivating sending discards buffered events the
drain has not reached yet.

DeliveryAsync (the default) delivers on background goroutines. DeliverySync
delivers on the caller's goroutine, which makes SendEvent and
SetSendingActive(true) return only after delivery. In sync mode one
goroutine delivers at a time; events sent meanwhile, including from inside
an adapter's Accept, are queued and delivered by that goroutine.

# Observability

WithLogger, WithMetrics and WithTracing plug in slog, OpenTelemetry or
Prometheus instrumentation from the observability package. All three are
disabled by default.
*/
package insighttrack
