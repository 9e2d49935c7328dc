package insighttrack

import (
	"context"
	"fmt"
	"sync"
)

// Service is the entry point for sending analytics events. It composes a
// Registry, a Buffer and a Dispatcher and owns their lifecycle.
//
// A typical lifecycle:
//
//	svc, err := insighttrack.New([]insighttrack.Adapter{a, b},
//	    insighttrack.WithOnSendException(func(err *insighttrack.AdapterError) {
//	        log.Printf("delivery failed: %v", err)
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//	defer svc.Dispose()
//
//	svc.Send("app_open", "", nil) // buffered
//	if err := svc.Initialize(ctx); err != nil {
//	    return err
//	}
//	svc.SetSendingActive(true) // drains the buffer
//
// All methods are safe for concurrent use.
type Service struct {
	cfg      *config
	registry *Registry
	buffer   *Buffer
	dispatch *Dispatcher

	// ctx is cancelled by Dispose and bounds every initialization pass.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	initDone chan struct{} // closed when the running pass returns

	initializedOnce sync.Once
}

// New creates a service over adapters. Adapters are registered in slice
// order, which is also the order events are delivered in.
func New(adapters []Adapter, opts ...Option) (*Service, error) {
	cfg := newConfig(opts)

	registry := newRegistry(cfg)
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			return nil, fmt.Errorf("register adapter: %w", err)
		}
	}

	buffer := NewBuffer()
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		registry: registry,
		buffer:   buffer,
		dispatch: newDispatcher(cfg, registry, buffer),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Initialize initializes every adapter in priority order and blocks until
// the pass finishes.
//
// It returns nil immediately if the service is already initialized,
// ErrInitializing if another pass is running, and ErrDisposed after Dispose.
// Cancelling ctx, or disposing the service, stops the pass; adapters
// initialized so far are disposed and the error wraps
// ErrInitializationCancelled. The service may be initialized again after a
// failed or cancelled pass.
//
// On success, buffered events start draining if sending is active, and the
// OnInitialized hook fires the first time.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateDisposed:
		s.mu.Unlock()
		return ErrDisposed
	case StateInitialized:
		s.mu.Unlock()
		return nil
	case StateInitializing:
		s.mu.Unlock()
		return ErrInitializing
	}
	s.state = StateInitializing
	done := make(chan struct{})
	s.initDone = done
	s.mu.Unlock()
	defer close(done)

	ictx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	ready, err := s.registry.InitializeAll(ictx)

	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		if err == nil {
			err = ErrDisposed
		}
		return err
	}
	if !ready {
		s.state = StateUninitialized
		s.mu.Unlock()
		return err
	}
	s.state = StateInitialized
	s.mu.Unlock()

	s.dispatch.MarkReady()
	s.initializedOnce.Do(s.cfg.reportInitialized)
	return nil
}

// InitializeAsync runs Initialize on a new goroutine. The returned channel
// receives its result and is then closed.
func (s *Service) InitializeAsync(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- s.Initialize(ctx)
	}()
	return ch
}

// SetSendingActive starts or stops sending. See Dispatcher.SetActive.
// Activating before initialization is allowed; events keep buffering until
// initialization completes.
func (s *Service) SetSendingActive(active bool) error {
	if s.State() == StateDisposed {
		return ErrDisposed
	}
	return s.dispatch.SetActive(active)
}

// SendEvent routes evt. It never returns adapter failures; those go to the
// OnSendException hook. Events sent after Dispose are dropped.
func (s *Service) SendEvent(evt Event) {
	s.dispatch.Route(evt)
}

// Send builds and routes an event from a name, an optional value and
// optional parameters.
func (s *Service) Send(name, value string, params map[string]any) {
	s.SendEvent(NewEvent(name, WithValue(value), WithParams(params)))
}

// SetUserProperty forwards a user property to initialized adapters that
// support it. Empty names or values are ignored.
func (s *Service) SetUserProperty(ctx context.Context, name, value string) error {
	if name == "" || value == "" {
		return nil
	}
	if s.State() == StateDisposed {
		return ErrDisposed
	}
	return s.registry.SetUserProperty(ctx, name, value)
}

// AddAdapter registers an adapter. If the service is initialized, or an
// initialization pass is running, the adapter is initialized before
// AddAdapter returns. After Dispose it fails with ErrDisposed.
func (s *Service) AddAdapter(ctx context.Context, a Adapter) error {
	if s.State() == StateDisposed {
		return ErrDisposed
	}
	if err := s.registry.Register(a); err != nil {
		return err
	}

	s.mu.Lock()
	state, done := s.state, s.initDone
	s.mu.Unlock()

	if state == StateInitializing {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		state = s.State()
	}
	if state != StateInitialized {
		return nil
	}

	ictx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if _, err := s.registry.InitializeAll(ictx); err != nil {
		return fmt.Errorf("initialize adapter %s: %w", a.Name(), err)
	}
	return nil
}

// RemoveAdapter unregisters and disposes an adapter.
func (s *Service) RemoveAdapter(name string) error {
	return s.registry.Remove(name)
}

// Dispose stops sending, drops buffered events, waits for in-flight
// deliveries and disposes every adapter exactly once, including adapters
// that never initialized. It is idempotent; only the first call returns
// dispose failures.
//
// Dispose must not be called from an adapter or a hook running on a
// delivery goroutine.
func (s *Service) Dispose() error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisposed
	done := s.initDone
	s.mu.Unlock()

	s.cancel()
	s.dispatch.Close()
	if done != nil {
		<-done
	}
	return s.registry.DisposeAll()
}

// State returns the lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsInitialized reports whether initialization completed and the service
// has not been disposed.
func (s *Service) IsInitialized() bool {
	return s.State() == StateInitialized
}

// IsSendingActive reports whether sending is active.
func (s *Service) IsSendingActive() bool {
	return s.dispatch.Active()
}

// Adapters returns the registered adapters in registration order.
func (s *Service) Adapters() []Adapter {
	return s.registry.Adapters()
}

// Wait blocks until every scheduled delivery and drain has returned. It is
// mostly useful in tests and before shutdown.
func (s *Service) Wait() {
	s.dispatch.Wait()
}

// Stats is a point-in-time snapshot of a service.
type Stats struct {
	State          State `json:"state"`
	SendingActive  bool  `json:"sending_active"`
	Buffered       int   `json:"buffered"`
	Adapters       int   `json:"adapters"`
	ReadyAdapters  int   `json:"ready_adapters"`
	FailedAdapters int   `json:"failed_adapters"`
	Delivered      int64 `json:"delivered"`
	Failed         int64 `json:"failed"`
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	return Stats{
		State:          s.State(),
		SendingActive:  s.dispatch.Active(),
		Buffered:       s.dispatch.Buffered(),
		Adapters:       s.registry.Len(),
		ReadyAdapters:  s.registry.ReadyCount(),
		FailedAdapters: s.registry.FailedCount(),
		Delivered:      s.dispatch.Delivered(),
		Failed:         s.dispatch.Failed(),
	}
}
