package insighttrack

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	iterrors "github.com/randalmurphal/insighttrack/pkg/insighttrack/errors"
	"github.com/randalmurphal/insighttrack/pkg/insighttrack/observability"
)

// entry tracks one registered adapter.
type entry struct {
	adapter  Adapter
	name     string
	priority int
	logger   *slog.Logger // carries adapter and priority attributes

	// mu serializes every call into the adapter: Initialize, Accept,
	// SetUserProperty and Dispose.
	mu       sync.Mutex
	disposed bool // guarded by mu
	retired  bool // removed or registry closed; guarded by mu

	initialized atomic.Bool
	failed      atomic.Bool
}

// Registry owns the adapter set. It initializes adapters sequentially in
// priority order and disposes each adapter exactly once.
type Registry struct {
	cfg *config

	// initMu serializes initialization passes and DisposeAll.
	initMu sync.Mutex

	mu      sync.RWMutex
	entries []*entry // registration order
	closed  bool     // set by DisposeAll
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	return newRegistry(newConfig(opts))
}

func newRegistry(cfg *config) *Registry {
	return &Registry{cfg: cfg}
}

// Register adds an adapter. Adapters registered after an initialization pass
// stay uninitialized until the next pass. Register fails with ErrDisposed
// once DisposeAll has run.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return ErrNilAdapter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrDisposed
	}

	name := a.Name()
	for _, e := range r.entries {
		if e.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateAdapter, name)
		}
	}

	priority := a.Priority()
	r.entries = append(r.entries, &entry{
		adapter:  a,
		name:     name,
		priority: priority,
		logger:   observability.EnrichLogger(r.cfg.logger, name, priority),
	})
	return nil
}

// Remove unregisters an adapter and disposes it if it was not disposed yet.
// Deliveries or an initialization already holding the adapter finish before
// Dispose runs, and a running pass does not initialize it afterwards.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	idx := slices.IndexFunc(r.entries, func(e *entry) bool { return e.name == name })
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, name)
	}
	e := r.entries[idx]
	r.entries = slices.Delete(r.entries, idx, idx+1)
	r.mu.Unlock()

	return r.disposeEntry(e, true)
}

// Adapters returns the registered adapters in registration order.
func (r *Registry) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.adapter
	}
	return out
}

// InitializationOrder returns the registered adapters sorted by priority,
// ties kept in registration order.
func (r *Registry) InitializationOrder() []Adapter {
	r.mu.RLock()
	sorted := sortByPriority(r.entries)
	r.mu.RUnlock()

	out := make([]Adapter, len(sorted))
	for i, e := range sorted {
		out[i] = e.adapter
	}
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ReadyCount returns how many adapters are initialized and receiving events.
func (r *Registry) ReadyCount() int {
	return len(r.deliverable())
}

// FailedCount returns how many adapters failed their last initialization.
func (r *Registry) FailedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		if e.failed.Load() {
			n++
		}
	}
	return n
}

// InitializeAll initializes every adapter that is not initialized yet, one
// at a time, in priority order.
//
// If ctx is cancelled before or while an adapter initializes, the pass
// stops, every adapter initialized during the pass (and the interrupted
// one) is disposed in initialization order, and InitializeAll returns false
// with an error wrapping ErrInitializationCancelled.
//
// Initialization failures are reported through the adapter error hook.
// Under InitPolicyContinue the failing adapter is skipped and the pass
// continues; under InitPolicyAbort the pass stops, adapters initialized
// during the pass are disposed, and the *AdapterError is returned.
func (r *Registry) InitializeAll(ctx context.Context) (bool, error) {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false, ErrDisposed
	}
	pending := slices.DeleteFunc(sortByPriority(r.entries), func(e *entry) bool {
		return e.initialized.Load()
	})
	r.mu.RUnlock()

	logger := r.cfg.logger
	observability.LogInitStart(logger, len(pending))
	elapsed := observability.TimedOperation()

	var done []*entry
	failed := 0
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return false, r.rollbackCancelled(done, err)
		}

		attempted, err := r.initializeEntry(ctx, e)
		if !attempted {
			continue
		}
		if cerr := ctx.Err(); cerr != nil {
			return false, r.rollbackCancelled(append(done, e), cerr)
		}

		if err != nil {
			e.failed.Store(true)
			aerr := &AdapterError{Kind: KindInitialization, Adapter: e.name, Err: err}
			observability.LogAdapterInitError(e.logger, err)
			r.cfg.reportAdapterError(aerr)

			if r.cfg.initPolicy == InitPolicyAbort {
				r.disposeEntries(done)
				return false, aerr
			}
			failed++
			continue
		}
		done = append(done, e)
	}

	observability.LogInitComplete(logger, elapsed(), len(done), failed)
	return true, nil
}

// initializeEntry initializes e while holding its lock, so a concurrent
// Remove either retires e before the attempt or disposes it after. It
// reports false when e was retired and nothing ran. The adapter is only
// marked initialized if ctx is still live once Initialize returns.
func (r *Registry) initializeEntry(ctx context.Context, e *entry) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.retired {
		return false, nil
	}
	// A new attempt makes the adapter disposable again, even if an earlier
	// pass already rolled it back.
	e.disposed = false

	if err := r.initialize(ctx, e); err != nil {
		return true, err
	}
	if ctx.Err() != nil {
		return true, nil
	}
	e.failed.Store(false)
	e.initialized.Store(true)
	return true, nil
}

// initialize runs one adapter's Initialize with tracing, metrics and the
// configured retry policy. Adapters that already report Ready are taken as is.
func (r *Registry) initialize(ctx context.Context, e *entry) error {
	if e.adapter.Ready() {
		return nil
	}

	ictx, span := r.cfg.spans.StartInitSpan(ctx, e.name, e.priority)
	start := time.Now()

	var err error
	if r.cfg.initRetry.Enabled() {
		_, err = iterrors.Retry(ictx, r.cfg.initRetry, func(ctx context.Context) error {
			return safeInitialize(ctx, e.adapter)
		})
	} else {
		err = safeInitialize(ictx, e.adapter)
	}

	duration := time.Since(start)
	r.cfg.metrics.RecordInitialization(ctx, e.name, duration, err)
	r.cfg.spans.EndSpanWithError(span, err)
	if err == nil {
		observability.LogAdapterReady(e.logger, float64(duration.Microseconds())/1000)
	}
	return err
}

func (r *Registry) rollbackCancelled(entries []*entry, cause error) error {
	r.disposeEntries(entries)
	observability.LogInitCancelled(r.cfg.logger, len(entries))
	return fmt.Errorf("%w: %w", ErrInitializationCancelled, cause)
}

func (r *Registry) disposeEntries(entries []*entry) {
	for _, e := range entries {
		_ = r.disposeEntry(e, false)
	}
}

// DisposeAll disposes every registered adapter that has not been disposed,
// whether or not it ever initialized. Dispose failures are reported and
// joined into the returned error. After DisposeAll the registry is closed:
// Register and InitializeAll fail with ErrDisposed.
func (r *Registry) DisposeAll() error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	r.mu.Lock()
	r.closed = true
	entries := slices.Clone(r.entries)
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := r.disposeEntry(e, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// disposeEntry disposes an adapter once. It waits for an in-progress
// Initialize or Accept on the same adapter to return. A retired adapter is
// never initialized again.
func (r *Registry) disposeEntry(e *entry, retire bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if retire {
		e.retired = true
	}
	if e.disposed {
		return nil
	}
	e.disposed = true
	e.initialized.Store(false)

	if err := safeDispose(e.adapter); err != nil {
		aerr := &AdapterError{Kind: KindDispose, Adapter: e.name, Err: err}
		observability.LogAdapterDisposeError(e.logger, err)
		r.cfg.reportAdapterError(aerr)
		return aerr
	}
	return nil
}

// deliverable returns the initialized adapters in registration order.
func (r *Registry) deliverable() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.initialized.Load() {
			out = append(out, e)
		}
	}
	return out
}

// sortByPriority returns a priority-sorted copy; the sort is stable so equal
// priorities keep registration order.
func sortByPriority(entries []*entry) []*entry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b *entry) int {
		return cmp.Compare(a.priority, b.priority)
	})
	return sorted
}

// SetUserProperty forwards a user property to every initialized adapter that
// implements UserPropertySetter, in registration order. Failures are reported
// through the adapter error hook and joined into the returned error.
func (r *Registry) SetUserProperty(ctx context.Context, name, value string) error {
	var errs []error
	for _, e := range r.deliverable() {
		if err := r.setUserProperty(ctx, e, name, value); err != nil {
			aerr := &AdapterError{Kind: KindUserProperty, Adapter: e.name, Err: err}
			r.cfg.reportAdapterError(aerr)
			errs = append(errs, aerr)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) setUserProperty(ctx context.Context, e *entry, name, value string) error {
	s, ok := e.adapter.(UserPropertySetter)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed || !e.initialized.Load() {
		return nil
	}
	return safeSetUserProperty(ctx, s, name, value)
}
