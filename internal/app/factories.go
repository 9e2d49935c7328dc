package app

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack"
	"github.com/randalmurphal/insighttrack/pkg/insighttrack/adapters"
	"github.com/randalmurphal/insighttrack/pkg/insighttrack/config"
	"github.com/randalmurphal/insighttrack/pkg/insighttrack/warehouse"
)

// ErrUnknownAdapterType is returned when no factory is registered for an
// adapter's configured type.
var ErrUnknownAdapterType = errors.New("unknown adapter type")

// Factory builds an adapter from its configured settings.
type Factory func(as config.AdapterSettings, logger *slog.Logger) (insighttrack.Adapter, error)

// Factories maps adapter types to constructors.
// It uses sync.RWMutex since lookups vastly outnumber registrations.
type Factories struct {
	mu     sync.RWMutex
	byType map[string]Factory
}

// NewFactories creates an empty factory table.
func NewFactories() *Factories {
	return &Factories{byType: make(map[string]Factory)}
}

// DefaultFactories returns the built-in adapter types:
//
//	log     structured log destination (options: level)
//	sqlite  SQLite warehouse (options: path)
//	memory  in-process warehouse, useful for dry runs
func DefaultFactories() *Factories {
	f := NewFactories()
	f.Register("log", newLogAdapter)
	f.Register("sqlite", newSQLiteAdapter)
	f.Register("memory", newMemoryAdapter)
	return f
}

// Register adds or replaces the factory for typ.
func (f *Factories) Register(typ string, fn Factory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byType[typ] = fn
}

// Lookup returns the factory for typ and whether it exists.
func (f *Factories) Lookup(typ string) (Factory, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fn, ok := f.byType[typ]
	return fn, ok
}

// Types returns the registered types in sorted order.
func (f *Factories) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.byType))
	for typ := range f.byType {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}

// Build constructs the adapter described by as. When the settings restrict
// the adapter to a set of events, the result is wrapped with
// insighttrack.FilterAdapter.
func (f *Factories) Build(as config.AdapterSettings, logger *slog.Logger) (insighttrack.Adapter, error) {
	fn, ok := f.Lookup(as.Type)
	if !ok {
		return nil, fmt.Errorf("adapter %s: %w %q (known: %v)", as.Name, ErrUnknownAdapterType, as.Type, f.Types())
	}

	events, err := as.EventConfig()
	if err != nil {
		return nil, err
	}

	a, err := fn(as, logger)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", as.Name, err)
	}
	if events != nil {
		a = insighttrack.FilterAdapter(a, events)
	}
	return a, nil
}

func newLogAdapter(as config.AdapterSettings, logger *slog.Logger) (insighttrack.Adapter, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(as.Options.String("level", "info"))); err != nil {
		return nil, fmt.Errorf("%w: level: %w", config.ErrInvalidConfig, err)
	}
	return adapters.NewLogAdapter(as.Name, logger,
		adapters.WithLogLevel(level),
		adapters.WithPriority(as.Priority),
	), nil
}

func newSQLiteAdapter(as config.AdapterSettings, _ *slog.Logger) (insighttrack.Adapter, error) {
	path := as.Options.String("path", "")
	if path == "" {
		return nil, fmt.Errorf("%w: options.path is required", config.ErrInvalidConfig)
	}
	return warehouse.NewAdapter(as.Name, as.Priority, warehouse.SQLite(path)), nil
}

func newMemoryAdapter(as config.AdapterSettings, _ *slog.Logger) (insighttrack.Adapter, error) {
	return warehouse.NewAdapter(as.Name, as.Priority, warehouse.Static(warehouse.NewMemoryStore())), nil
}
