package insighttrack

import (
	"context"
)

// Adapter is a destination for analytics events, usually wrapping one
// third-party analytics backend.
//
// The dispatcher guarantees that Accept is never called before Initialize
// has returned successfully, and that Accept calls for a single adapter are
// never concurrent. Initialize is always called from a single goroutine, in
// ascending Priority order across adapters.
type Adapter interface {
	// Name identifies the adapter. Names must be unique within a service.
	Name() string

	// Priority orders initialization; lower values initialize first.
	// Adapters with equal priority initialize in registration order.
	Priority() int

	// Ready reports whether the adapter has finished initializing.
	// An adapter that is already ready is not initialized again.
	Ready() bool

	// Initialize prepares the backend. It should return promptly once ctx
	// is done.
	Initialize(ctx context.Context) error

	// Accept delivers one event. Errors and panics are isolated to this
	// adapter and reported through the service's failure hook.
	//
	// Accept may send further events through the service. It must not call
	// SetUserProperty, RemoveAdapter or Dispose on the service, which wait
	// for Accept to return.
	Accept(ctx context.Context, evt Event) error

	// Dispose releases the adapter. It is called at most once per
	// successful initialization, and once for adapters that never
	// initialized when the service is disposed.
	Dispose() error
}

// UserPropertySetter is implemented by adapters whose backend supports
// user-scoped properties.
type UserPropertySetter interface {
	SetUserProperty(ctx context.Context, name, value string) error
}

// safeInitialize runs Initialize, converting panics into errors.
func safeInitialize(ctx context.Context, a Adapter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return a.Initialize(ctx)
}

// safeAccept runs Accept, converting panics into errors.
func safeAccept(ctx context.Context, a Adapter, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return a.Accept(ctx, evt)
}

// safeDispose runs Dispose, converting panics into errors.
func safeDispose(a Adapter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return a.Dispose()
}

// safeSetUserProperty runs SetUserProperty, converting panics into errors.
func safeSetUserProperty(ctx context.Context, s UserPropertySetter, name, value string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return s.SetUserProperty(ctx, name, value)
}
