// Package warehouse records accepted analytics events in a local store. It
// backs a reference destination adapter that keeps an auditable copy of
// everything the service delivered.
package warehouse

import (
	"context"
	"errors"
	"time"
)

// Store persists delivered events and user properties.
// Implementations must be safe for concurrent use.
type Store interface {
	// Insert stores a record. Inserting a record whose EventID already
	// exists is a no-op.
	Insert(ctx context.Context, rec Record) error

	// Query returns matching records ordered by insertion.
	// Returns an empty slice (not an error) when nothing matches.
	Query(ctx context.Context, f Filter) ([]Record, error)

	// Count returns the number of records with the given event name, or of
	// all records when name is empty.
	Count(ctx context.Context, name string) (int, error)

	// PutProperty sets a user property, overwriting any previous value.
	PutProperty(ctx context.Context, name, value string) error

	// Properties returns every user property.
	Properties(ctx context.Context) (map[string]string, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Record is one stored event.
type Record struct {
	EventID    string
	Name       string
	Value      string
	Params     map[string]any
	OccurredAt time.Time
	StoredAt   time.Time
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	Name  string
	Since time.Time
	Limit int
}

func (f Filter) match(rec Record) bool {
	if f.Name != "" && rec.Name != f.Name {
		return false
	}
	if !f.Since.IsZero() && rec.OccurredAt.Before(f.Since) {
		return false
	}
	return true
}

// Sentinel errors for store operations.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("warehouse store closed")

	// ErrMissingEventID indicates a record without an event ID.
	ErrMissingEventID = errors.New("record has no event id")
)
