package warehouse

import (
	"context"
	"fmt"
	"sync"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack"
	"github.com/randalmurphal/insighttrack/pkg/insighttrack/adapters"
)

// OpenFunc opens the store an Adapter writes to.
type OpenFunc func(ctx context.Context) (Store, error)

// SQLite returns an OpenFunc for a SQLite database at path. Opening is
// bounded by the initialization context; a deadline surfaces as a transient
// *errors.TimeoutError, so WithInitRetry retries it.
func SQLite(path string) OpenFunc {
	return func(ctx context.Context) (Store, error) {
		return OpenSQLiteStore(ctx, path)
	}
}

// Static returns an OpenFunc that always yields store. The adapter still
// closes it on Dispose.
func Static(store Store) OpenFunc {
	return func(context.Context) (Store, error) {
		return store, nil
	}
}

// Adapter is an insighttrack destination that records every accepted event
// in a Store. The store is opened in Initialize and closed in Dispose.
type Adapter struct {
	*adapters.Base
	open OpenFunc

	mu    sync.RWMutex
	store Store
}

// NewAdapter creates a warehouse adapter.
func NewAdapter(name string, priority int, open OpenFunc) *Adapter {
	return &Adapter{
		Base: adapters.NewBase(name, priority),
		open: open,
	}
}

// Initialize implements insighttrack.Adapter.
func (a *Adapter) Initialize(ctx context.Context) error {
	return a.Start(ctx, func(ctx context.Context) error {
		store, err := a.open(ctx)
		if err != nil {
			return fmt.Errorf("open warehouse: %w", err)
		}
		a.mu.Lock()
		a.store = store
		a.mu.Unlock()
		return nil
	})
}

// Accept implements insighttrack.Adapter.
func (a *Adapter) Accept(ctx context.Context, evt insighttrack.Event) error {
	store, err := a.current()
	if err != nil {
		return err
	}
	return store.Insert(ctx, Record{
		EventID:    evt.ID(),
		Name:       evt.Name(),
		Value:      evt.Value(),
		Params:     evt.Params(),
		OccurredAt: evt.Timestamp(),
	})
}

// SetUserProperty implements insighttrack.UserPropertySetter.
func (a *Adapter) SetUserProperty(ctx context.Context, name, value string) error {
	store, err := a.current()
	if err != nil {
		return err
	}
	return store.PutProperty(ctx, name, value)
}

// Dispose implements insighttrack.Adapter.
func (a *Adapter) Dispose() error {
	return a.Stop(func() error {
		a.mu.Lock()
		store := a.store
		a.store = nil
		a.mu.Unlock()

		if store == nil {
			return nil
		}
		return store.Close()
	})
}

// Store returns the open store, or nil before Initialize and after Dispose.
func (a *Adapter) Store() Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store
}

func (a *Adapter) current() (Store, error) {
	store := a.Store()
	if store == nil {
		return nil, adapters.ErrNotReady
	}
	return store, nil
}
