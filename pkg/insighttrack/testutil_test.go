package insighttrack

import (
	"context"
	"sync"
	"sync/atomic"
)

// callLog records adapter calls across adapters, in call order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// fakeAdapter is a configurable Adapter used across tests. Calls are logged
// as "init:<name>", "accept:<name>:<event>" and "dispose:<name>".
type fakeAdapter struct {
	name     string
	priority int
	log      *callLog

	initFn   func(ctx context.Context) error
	acceptFn func(evt Event) error

	ready    atomic.Bool
	inits    atomic.Int32
	disposes atomic.Int32

	// active detects overlapping Accept calls.
	active     atomic.Int32
	overlapped atomic.Bool

	mu       sync.Mutex
	accepted []Event
	props    map[string]string
}

func newFake(name string, priority int, log *callLog) *fakeAdapter {
	return &fakeAdapter{name: name, priority: priority, log: log}
}

func (f *fakeAdapter) Name() string  { return f.name }
func (f *fakeAdapter) Priority() int { return f.priority }
func (f *fakeAdapter) Ready() bool   { return f.ready.Load() }

func (f *fakeAdapter) Initialize(ctx context.Context) error {
	f.inits.Add(1)
	f.log.add("init:" + f.name)
	if f.initFn != nil {
		if err := f.initFn(ctx); err != nil {
			return err
		}
	}
	f.ready.Store(true)
	return nil
}

func (f *fakeAdapter) Accept(_ context.Context, evt Event) error {
	if f.active.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	defer f.active.Add(-1)

	f.log.add("accept:" + f.name + ":" + evt.Name())
	f.mu.Lock()
	f.accepted = append(f.accepted, evt)
	f.mu.Unlock()

	if f.acceptFn != nil {
		return f.acceptFn(evt)
	}
	return nil
}

func (f *fakeAdapter) Dispose() error {
	f.disposes.Add(1)
	f.ready.Store(false)
	f.log.add("dispose:" + f.name)
	return nil
}

func (f *fakeAdapter) SetUserProperty(_ context.Context, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.props == nil {
		f.props = make(map[string]string)
	}
	f.props[name] = value
	return nil
}

// acceptedNames returns the names of accepted events in order.
func (f *fakeAdapter) acceptedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.accepted))
	for i, e := range f.accepted {
		out[i] = e.Name()
	}
	return out
}

func (f *fakeAdapter) acceptedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accepted)
}

func (f *fakeAdapter) prop(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.props[name]
}

// hookRecorder captures hook invocations.
type hookRecorder struct {
	mu          sync.Mutex
	initialized int
	sendErrs    []*AdapterError
	adapterErrs []*AdapterError
}

func (h *hookRecorder) options() []Option {
	return []Option{
		WithOnInitialized(func() {
			h.mu.Lock()
			h.initialized++
			h.mu.Unlock()
		}),
		WithOnSendException(func(err *AdapterError) {
			h.mu.Lock()
			h.sendErrs = append(h.sendErrs, err)
			h.mu.Unlock()
		}),
		WithOnAdapterError(func(err *AdapterError) {
			h.mu.Lock()
			h.adapterErrs = append(h.adapterErrs, err)
			h.mu.Unlock()
		}),
	}
}

func (h *hookRecorder) initializedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

func (h *hookRecorder) sendExceptions() []*AdapterError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*AdapterError(nil), h.sendErrs...)
}

func (h *hookRecorder) adapterErrors() []*AdapterError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*AdapterError(nil), h.adapterErrs...)
}

func adapterList(fakes ...*fakeAdapter) []Adapter {
	out := make([]Adapter, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

func eventNames(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name()
	}
	return out
}
