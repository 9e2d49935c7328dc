package insighttrack

import (
	"errors"
	"fmt"
)

// Sentinel errors for service lifecycle.
var (
	// ErrDisposed indicates the service or dispatcher has been disposed.
	ErrDisposed = errors.New("analytics service disposed")

	// ErrInitializing indicates an initialization pass is already running.
	ErrInitializing = errors.New("initialization already in progress")

	// ErrInitializationCancelled indicates initialization stopped because its
	// context was cancelled. Adapters initialized during the pass were disposed.
	ErrInitializationCancelled = errors.New("initialization cancelled")
)

// Sentinel errors for adapter registration.
var (
	// ErrNilAdapter indicates a nil adapter was registered.
	ErrNilAdapter = errors.New("adapter is nil")

	// ErrDuplicateAdapter indicates two adapters share a name.
	ErrDuplicateAdapter = errors.New("duplicate adapter name")

	// ErrAdapterNotFound indicates no adapter is registered under a name.
	ErrAdapterNotFound = errors.New("adapter not found")

	// ErrAdapterPanic wraps a recovered panic raised by an adapter.
	ErrAdapterPanic = errors.New("adapter panicked")
)

// Kind classifies an AdapterError.
type Kind int

const (
	// KindInitialization is a failure raised by Adapter.Initialize.
	KindInitialization Kind = iota

	// KindDelivery is a failure raised by Adapter.Accept.
	KindDelivery

	// KindUserProperty is a failure raised by UserPropertySetter.SetUserProperty.
	KindUserProperty

	// KindDispose is a failure raised by Adapter.Dispose.
	KindDispose
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInitialization:
		return "initialization"
	case KindDelivery:
		return "delivery"
	case KindUserProperty:
		return "user_property"
	case KindDispose:
		return "dispose"
	default:
		return "unknown"
	}
}

// AdapterError is a failure attributed to a single adapter. It is what the
// failure hooks receive; it is never returned to the sender of an event.
type AdapterError struct {
	// Kind is the operation that failed.
	Kind Kind
	// Adapter is the name of the failing adapter.
	Adapter string
	// Event is the event being delivered. Zero for non-delivery failures.
	Event Event
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.Kind == KindDelivery {
		return fmt.Sprintf("adapter %s: %s of %q: %v", e.Adapter, e.Kind, e.Event.Name(), e.Err)
	}
	return fmt.Sprintf("adapter %s: %s: %v", e.Adapter, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// panicError converts a recovered value into an error wrapping ErrAdapterPanic.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrAdapterPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrAdapterPanic, r)
}
