package warehouse

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and dry runs.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	ids     map[string]struct{}
	props   map[string]string
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:   make(map[string]struct{}),
		props: make(map[string]string),
	}
}

// Insert implements Store.
func (m *MemoryStore) Insert(_ context.Context, rec Record) error {
	if rec.EventID == "" {
		return ErrMissingEventID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.ids[rec.EventID]; ok {
		return nil
	}

	// Copy params to avoid retaining the caller's map
	rec.Params = maps.Clone(rec.Params)
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	m.ids[rec.EventID] = struct{}{}
	m.records = append(m.records, rec)
	return nil
}

// Query implements Store.
func (m *MemoryStore) Query(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]Record, 0)
	for _, rec := range m.records {
		if !f.match(rec) {
			continue
		}
		rec.Params = maps.Clone(rec.Params)
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context, name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	n := 0
	for _, rec := range m.records {
		if name == "" || rec.Name == name {
			n++
		}
	}
	return n, nil
}

// PutProperty implements Store.
func (m *MemoryStore) PutProperty(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.props[name] = value
	return nil
}

// Properties implements Store.
func (m *MemoryStore) Properties(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	return maps.Clone(m.props), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
