package insighttrack

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable analytics event. It is identified by a name and an
// optional value, and may carry keyed parameters and a typed payload.
//
// Events are values: copying one is cheap and the parameter map is never
// shared with the caller.
type Event struct {
	id        string
	name      string
	value     string
	params    map[string]any
	payload   any
	timestamp time.Time
}

// EventOption configures event creation.
type EventOption func(*Event)

// WithValue sets the event value (e.g. a price or a level number).
func WithValue(value string) EventOption {
	return func(e *Event) {
		e.value = value
	}
}

// WithParams merges the given parameters into the event.
func WithParams(params map[string]any) EventOption {
	return func(e *Event) {
		if len(params) == 0 {
			return
		}
		if e.params == nil {
			e.params = make(map[string]any, len(params))
		}
		maps.Copy(e.params, params)
	}
}

// WithParam sets a single parameter.
func WithParam(key string, value any) EventOption {
	return func(e *Event) {
		if e.params == nil {
			e.params = make(map[string]any, 1)
		}
		e.params[key] = value
	}
}

// WithPayload attaches a typed payload. Adapters built with
// adapters.NewTyped dispatch on the payload's concrete type.
func WithPayload(payload any) EventOption {
	return func(e *Event) {
		e.payload = payload
	}
}

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) EventOption {
	return func(e *Event) {
		e.id = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) EventOption {
	return func(e *Event) {
		e.timestamp = t
	}
}

// NewEvent creates an event with the given name.
//
// Example:
//
//	evt := insighttrack.NewEvent("purchase",
//	    insighttrack.WithValue("9.99"),
//	    insighttrack.WithParam("currency", "EUR"),
//	)
func NewEvent(name string, opts ...EventOption) Event {
	e := Event{name: name}
	for _, opt := range opts {
		opt(&e)
	}
	if e.id == "" {
		e.id = uuid.New().String()
	}
	if e.timestamp.IsZero() {
		e.timestamp = time.Now()
	}
	return e
}

// ID returns the unique event identifier.
func (e Event) ID() string {
	return e.id
}

// Name returns the event name.
func (e Event) Name() string {
	return e.name
}

// Value returns the event value, or "" when none was set.
func (e Event) Value() string {
	return e.value
}

// Params returns a copy of the event parameters, or nil when there are none.
func (e Event) Params() map[string]any {
	if len(e.params) == 0 {
		return nil
	}
	return maps.Clone(e.params)
}

// Param returns a single parameter.
func (e Event) Param(key string) (any, bool) {
	v, ok := e.params[key]
	return v, ok
}

// HasParams reports whether the event carries any parameters.
func (e Event) HasParams() bool {
	return len(e.params) > 0
}

// Payload returns the typed payload, or nil.
func (e Event) Payload() any {
	return e.payload
}

// Timestamp returns when the event was created.
func (e Event) Timestamp() time.Time {
	return e.timestamp
}

// String returns a compact representation for logs.
func (e Event) String() string {
	if e.value == "" {
		return e.name
	}
	return fmt.Sprintf("%s=%s", e.name, e.value)
}

// eventJSON is the wire form of Event. The payload is not serialized.
type eventJSON struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Value     string         `json:"value,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:        e.id,
		Name:      e.name,
		Value:     e.value,
		Params:    e.params,
		Timestamp: e.timestamp,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Missing IDs and timestamps are
// filled in the same way NewEvent does.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = NewEvent(raw.Name,
		WithEventID(raw.ID),
		WithValue(raw.Value),
		WithParams(raw.Params),
		WithTimestamp(raw.Timestamp),
	)
	return nil
}
