package insighttrack

// State is the lifecycle state of a Service.
type State int

const (
	// StateUninitialized is the initial state, and the state after a failed
	// or cancelled initialization.
	StateUninitialized State = iota

	// StateInitializing means an initialization pass is running.
	StateInitializing

	// StateInitialized means every adapter has been attempted and the pass
	// was not cancelled.
	StateInitialized

	// StateDisposed is terminal.
	StateDisposed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
