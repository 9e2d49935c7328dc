package adapters

import (
	"context"
	"fmt"
	"sync"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack"
)

// NewTyped creates an adapter that only handles events whose payload is a T.
// Events with another payload type, or none, are skipped.
//
// Example:
//
//	type Purchase struct{ SKU string; Cents int }
//
//	a := adapters.NewTyped("revenue", 0, func(ctx context.Context, evt insighttrack.Event, p Purchase) error {
//	    return ledger.Record(ctx, p.SKU, p.Cents)
//	})
func NewTyped[T any](name string, priority int, handle func(context.Context, insighttrack.Event, T) error, opts ...FuncOption) *Func {
	return NewFunc(name, priority, func(ctx context.Context, evt insighttrack.Event) error {
		payload, ok := evt.Payload().(T)
		if !ok {
			return nil
		}
		return handle(ctx, evt, payload)
	}, opts...)
}

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, evt insighttrack.Event) error

// Mux routes events to handlers by event name. Its Accept method can back a
// Func adapter, and it implements insighttrack.EventConfig so the same set
// of names can drive FilterAdapter.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	order    []string
	fallback HandlerFunc
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for events named name, replacing any previous handler.
func (m *Mux) Handle(name string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handlers[name]; !ok {
		m.order = append(m.order, name)
	}
	m.handlers[name] = h
}

// HandleDefault registers h for events without a named handler.
func (m *Mux) HandleDefault(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// Accept dispatches evt to its handler. Events with no handler and no
// default are ignored.
func (m *Mux) Accept(ctx context.Context, evt insighttrack.Event) error {
	m.mu.RLock()
	h, ok := m.handlers[evt.Name()]
	if !ok {
		h = m.fallback
	}
	m.mu.RUnlock()

	if h == nil {
		return nil
	}
	return h(ctx, evt)
}

// Events implements insighttrack.EventConfig, in registration order.
func (m *Mux) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return insighttrack.NewEventList(m.order...)
}

// HandleTyped registers a handler for events named name whose payload is a T.
// An event with that name but another payload type is an error.
func HandleTyped[T any](m *Mux, name string, fn func(context.Context, insighttrack.Event, T) error) {
	m.Handle(name, func(ctx context.Context, evt insighttrack.Event) error {
		payload, ok := evt.Payload().(T)
		if !ok {
			var want T
			return fmt.Errorf("event %s: payload is %T, want %T", name, evt.Payload(), want)
		}
		return fn(ctx, evt, payload)
	})
}
