package insighttrack

import (
	"context"
	"slices"
	"strings"
)

// EventConfig supplies the event names an adapter is interested in.
// Events returns an ordered list of distinct names.
type EventConfig interface {
	Events() []string
}

// EventList is a static EventConfig.
type EventList []string

// NewEventList returns an EventList with empty and duplicate names removed.
// The first occurrence of each name keeps its position.
func NewEventList(names ...string) EventList {
	out := make(EventList, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Events implements EventConfig.
func (l EventList) Events() []string {
	return slices.Clone(l)
}

// FilterAdapter wraps an adapter so that it only receives events whose name
// appears in cfg. The set of names is captured when FilterAdapter is called.
// Name, priority and lifecycle calls pass through unchanged.
func FilterAdapter(a Adapter, cfg EventConfig) Adapter {
	names := cfg.Events()
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	return &filteredAdapter{Adapter: a, allowed: allowed}
}

type filteredAdapter struct {
	Adapter
	allowed map[string]struct{}
}

// Accept forwards evt when its name is configured and drops it otherwise.
func (f *filteredAdapter) Accept(ctx context.Context, evt Event) error {
	if _, ok := f.allowed[evt.Name()]; !ok {
		return nil
	}
	return f.Adapter.Accept(ctx, evt)
}

// SetUserProperty forwards to the wrapped adapter when it supports user
// properties.
func (f *filteredAdapter) SetUserProperty(ctx context.Context, name, value string) error {
	if s, ok := f.Adapter.(UserPropertySetter); ok {
		return s.SetUserProperty(ctx, name, value)
	}
	return nil
}

// Unwrap returns the wrapped adapter.
func (f *filteredAdapter) Unwrap() Adapter {
	return f.Adapter
}

// nameSeparator joins event name segments.
const nameSeparator = "_"

// JoinNames builds a composite event name such as "level_3_complete",
// skipping empty segments.
func JoinNames(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(nameSeparator)
		}
		b.WriteString(p)
	}
	return b.String()
}
