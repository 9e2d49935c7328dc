// Package adapters provides building blocks for insighttrack destinations:
// an embeddable Base with idempotent initialization, function-backed
// adapters, a structured-log destination, and payload- and name-based
// routing helpers.
package adapters

import (
	"context"
	"errors"
	"sync"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack"
)

// ErrNotReady is returned when an adapter is used before it initialized or
// after it was disposed.
var ErrNotReady = errors.New("adapter not ready")

// Base carries the identity and readiness bookkeeping most adapters need.
// Embed it and call Start from Initialize and Stop from Dispose.
//
// The zero value is not usable; create one with NewBase.
type Base struct {
	name     string
	priority int

	mu    sync.Mutex
	ready bool
}

// NewBase creates a Base.
func NewBase(name string, priority int) *Base {
	return &Base{name: name, priority: priority}
}

// Name implements insighttrack.Adapter.
func (b *Base) Name() string { return b.name }

// Priority implements insighttrack.Adapter.
func (b *Base) Priority() int { return b.priority }

// Ready implements insighttrack.Adapter.
func (b *Base) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Start runs fn once and marks the adapter ready if it succeeds. Calls made
// after a successful start return nil without running fn again; calls after
// a failed start run fn again.
func (b *Base) Start(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready {
		return nil
	}
	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	b.ready = true
	return nil
}

// Stop marks the adapter not ready and runs fn if it was ready.
func (b *Base) Stop(fn func() error) error {
	b.mu.Lock()
	wasReady := b.ready
	b.ready = false
	b.mu.Unlock()

	if !wasReady || fn == nil {
		return nil
	}
	return fn()
}

// Func is an adapter assembled from functions.
type Func struct {
	*Base

	init    func(context.Context) error
	accept  func(context.Context, insighttrack.Event) error
	dispose func() error
	setProp func(context.Context, string, string) error
}

// FuncOption configures a Func adapter.
type FuncOption func(*Func)

// WithInit sets the initialization function.
func WithInit(fn func(context.Context) error) FuncOption {
	return func(f *Func) {
		f.init = fn
	}
}

// WithDispose sets the dispose function. It only runs if the adapter
// initialized.
func WithDispose(fn func() error) FuncOption {
	return func(f *Func) {
		f.dispose = fn
	}
}

// WithUserProperty sets the user property function.
func WithUserProperty(fn func(ctx context.Context, name, value string) error) FuncOption {
	return func(f *Func) {
		f.setProp = fn
	}
}

// NewFunc creates an adapter that passes each event to accept.
//
// Example:
//
//	a := adapters.NewFunc("stdout", 0, func(_ context.Context, evt insighttrack.Event) error {
//	    fmt.Println(evt)
//	    return nil
//	})
func NewFunc(name string, priority int, accept func(context.Context, insighttrack.Event) error, opts ...FuncOption) *Func {
	f := &Func{
		Base:   NewBase(name, priority),
		accept: accept,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Initialize implements insighttrack.Adapter.
func (f *Func) Initialize(ctx context.Context) error {
	return f.Start(ctx, f.init)
}

// Accept implements insighttrack.Adapter.
func (f *Func) Accept(ctx context.Context, evt insighttrack.Event) error {
	if !f.Ready() {
		return ErrNotReady
	}
	if f.accept == nil {
		return nil
	}
	return f.accept(ctx, evt)
}

// Dispose implements insighttrack.Adapter.
func (f *Func) Dispose() error {
	return f.Stop(f.dispose)
}

// SetUserProperty implements insighttrack.UserPropertySetter.
func (f *Func) SetUserProperty(ctx context.Context, name, value string) error {
	if f.setProp == nil {
		return nil
	}
	return f.setProp(ctx, name, value)
}
