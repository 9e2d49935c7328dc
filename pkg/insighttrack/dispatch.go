package insighttrack

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack/observability"
)

// Discard reasons reported to metrics and logs.
const (
	discardDeactivated = "deactivated"
	discardDisposed    = "disposed"
)

// drainTask is one attempt at flushing the buffer.
type drainTask struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dispatcher routes events either into the buffer or straight to the
// registry's initialized adapters.
//
// Events routed while sending is inactive, or before the registry is ready,
// are buffered. Activating sending drains the buffer in FIFO order; after
// that, routed events bypass the buffer and are delivered independently of
// each other.
//
// In sync mode a single loop runs deliveries and drains on the goroutine
// that started it. Work routed while the loop runs, including events an
// adapter sends from inside Accept, is queued and run by that loop before
// it returns, in routing order.
type Dispatcher struct {
	cfg      *config
	registry *Registry
	buffer   *Buffer

	// ctx lives until Close; every delivery runs under it.
	ctx  context.Context
	stop context.CancelFunc

	sem chan struct{} // nil when deliveries are unbounded

	mu     sync.Mutex
	active bool
	ready  bool
	closed bool
	drain  *drainTask

	syncBusy  bool     // a sync loop is running
	syncQueue []func() // work waiting for the sync loop

	// wg tracks in-flight deliveries and drains.
	wg sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher creates a dispatcher over registry and buffer. Sending starts
// inactive and the dispatcher starts not ready; see SetActive and MarkReady.
func NewDispatcher(registry *Registry, buffer *Buffer, opts ...Option) *Dispatcher {
	return newDispatcher(newConfig(opts), registry, buffer)
}

func newDispatcher(cfg *config, registry *Registry, buffer *Buffer) *Dispatcher {
	ctx, stop := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:      cfg,
		registry: registry,
		buffer:   buffer,
		ctx:      ctx,
		stop:     stop,
	}
	if cfg.mode == DeliveryAsync && cfg.maxConcurrent > 0 {
		d.sem = make(chan struct{}, cfg.maxConcurrent)
	}
	return d
}

// Route buffers evt or schedules its delivery. It never returns adapter
// failures and, in async mode, never blocks on adapters. Events routed after
// Close are dropped.
func (d *Dispatcher) Route(evt Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.cfg.metrics.RecordDiscarded(d.ctx, discardDisposed, 1)
		return
	}
	if !d.active || !d.ready {
		d.buffer.Enqueue(evt)
		d.mu.Unlock()
		d.cfg.metrics.RecordRouted(d.ctx, evt.Name(), true)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.cfg.metrics.RecordRouted(d.ctx, evt.Name(), false)

	if d.cfg.mode == DeliverySync {
		d.runSync(func() {
			defer d.wg.Done()
			d.deliver(evt)
		})
		return
	}

	go func() {
		defer d.wg.Done()
		if !d.acquire() {
			d.cfg.metrics.RecordDiscarded(d.ctx, discardDisposed, 1)
			return
		}
		defer d.release()
		d.deliver(evt)
	}()
}

func (d *Dispatcher) acquire() bool {
	if d.sem == nil {
		return true
	}
	select {
	case d.sem <- struct{}{}:
		return true
	case <-d.ctx.Done():
		return false
	}
}

func (d *Dispatcher) release() {
	if d.sem != nil {
		<-d.sem
	}
}

// SetActive toggles sending.
//
// Activating cancels any drain in progress and starts a new one, which picks
// up where the previous drain stopped. In sync mode the drain runs before
// SetActive returns, unless a sync loop is already running, in which case
// that loop runs it. If the dispatcher is not ready yet, the drain starts in
// MarkReady.
//
// Deactivating cancels the drain and discards the events it had not reached.
// Deliveries already scheduled are not affected, and events routed after
// deactivation are buffered again.
func (d *Dispatcher) SetActive(active bool) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDisposed
	}

	prev := d.drain
	if prev != nil {
		prev.cancel()
	}

	if !active {
		d.active = false
		d.drain = nil
		discarded := 0
		if prev != nil {
			discarded = d.buffer.Clear()
		}
		d.mu.Unlock()
		d.recordDiscarded(discardDeactivated, discarded)
		return nil
	}

	d.active = true
	var task *drainTask
	if d.ready {
		task = d.startDrainLocked()
	}
	d.mu.Unlock()

	if task != nil {
		d.launch(task, prev)
	}
	return nil
}

// MarkReady records that the registry finished initializing. If sending is
// already active, the buffer drain starts now.
func (d *Dispatcher) MarkReady() {
	d.mu.Lock()
	if d.closed || d.ready {
		d.mu.Unlock()
		return
	}
	d.ready = true

	var task *drainTask
	if d.active {
		task = d.startDrainLocked()
	}
	d.mu.Unlock()

	if task != nil {
		d.launch(task, nil)
	}
}

// startDrainLocked registers a new drain task. d.mu must be held.
func (d *Dispatcher) startDrainLocked() *drainTask {
	ctx, cancel := context.WithCancel(d.ctx)
	task := &drainTask{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	d.drain = task
	d.wg.Add(1)
	return task
}

func (d *Dispatcher) launch(task, prev *drainTask) {
	if d.cfg.mode == DeliverySync {
		d.runSync(func() { d.runDrain(task, prev) })
		return
	}
	go d.runDrain(task, prev)
}

// runSync runs fn and then everything queued behind it on the calling
// goroutine. If a sync loop is already running, fn is queued for it and
// runSync returns at once.
func (d *Dispatcher) runSync(fn func()) {
	d.mu.Lock()
	if d.syncBusy {
		d.syncQueue = append(d.syncQueue, fn)
		d.mu.Unlock()
		return
	}
	d.syncBusy = true
	d.mu.Unlock()

	for fn != nil {
		fn()

		d.mu.Lock()
		fn = nil
		if len(d.syncQueue) > 0 {
			fn = d.syncQueue[0]
			d.syncQueue[0] = nil
			d.syncQueue = d.syncQueue[1:]
		} else {
			d.syncQueue = nil
			d.syncBusy = false
		}
		d.mu.Unlock()
	}
}

// runDrain delivers buffered events one at a time until the buffer is empty
// or the task is cancelled. It waits for the previous drain to exit first so
// buffered events never overtake each other.
func (d *Dispatcher) runDrain(task, prev *drainTask) {
	defer d.wg.Done()
	defer close(task.done)
	defer task.cancel()

	if prev != nil {
		<-prev.done
	}

	logger := d.cfg.logger
	observability.LogDrainStart(logger, d.buffer.Len())

	n := 0
	for evt := range d.buffer.Drain(task.ctx) {
		d.deliver(evt)
		n++
	}

	cancelled := task.ctx.Err() != nil
	observability.LogDrainComplete(logger, n, cancelled)

	d.mu.Lock()
	if d.drain == task {
		d.drain = nil
	}
	d.mu.Unlock()
}

// deliver fans evt out under the dispatcher lifetime. Failures have already
// been reported by the time it returns.
func (d *Dispatcher) deliver(evt Event) {
	_ = d.DeliverOne(d.ctx, evt)
}

// DeliverOne delivers evt to every initialized adapter in registration order,
// one adapter at a time, yielding to the scheduler between adapters. It
// must not be called from inside Accept.
//
// A failing or panicking adapter is reported through the send exception hook
// and does not stop delivery to the others. The returned error joins every
// adapter failure, plus ctx.Err() if ctx ended the fan-out early.
func (d *Dispatcher) DeliverOne(ctx context.Context, evt Event) error {
	ctx, span := d.cfg.spans.StartDeliverySpan(ctx, evt.Name(), evt.ID())

	var errs []error
	for i, e := range d.registry.deliverable() {
		if i > 0 {
			runtime.Gosched()
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		attempted, err := d.accept(ctx, e, evt)
		if !attempted {
			continue
		}
		if err != nil {
			d.failed.Add(1)
			aerr := &AdapterError{Kind: KindDelivery, Adapter: e.name, Event: evt, Err: err}
			observability.LogDeliveryError(e.logger, evt.Name(), err)
			d.cfg.spans.AddSpanEvent(ctx, "adapter.failed", attribute.String("adapter", e.name))
			d.cfg.reportSendException(aerr)
			errs = append(errs, aerr)
			continue
		}
		d.delivered.Add(1)
	}

	err := errors.Join(errs...)
	d.cfg.spans.EndSpanWithError(span, err)
	return err
}

// accept calls Accept on one adapter while holding its lock, so Accept never
// overlaps another Accept or Dispose on the same adapter. It reports false
// when the adapter was disposed or lost its initialized state.
func (d *Dispatcher) accept(ctx context.Context, e *entry, evt Event) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed || !e.initialized.Load() {
		return false, nil
	}

	start := time.Now()
	err := safeAccept(ctx, e.adapter, evt)
	d.cfg.metrics.RecordDelivery(ctx, e.name, time.Since(start), err)
	return true, err
}

// Close stops routing, cancels the drain, drops buffered events and waits for
// in-flight deliveries to return. It is idempotent. Close must not be called
// from inside an adapter or a hook running on a delivery goroutine.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.closed = true
	d.active = false
	if d.drain != nil {
		d.drain.cancel()
		d.drain = nil
	}
	discarded := d.buffer.Clear()
	d.mu.Unlock()

	d.stop()
	d.recordDiscarded(discardDisposed, discarded)
	d.wg.Wait()
}

// Wait blocks until every scheduled delivery and drain has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) recordDiscarded(reason string, n int) {
	if n == 0 {
		return
	}
	d.cfg.metrics.RecordDiscarded(d.ctx, reason, n)
	observability.LogDiscarded(d.cfg.logger, reason, n)
}

// Active reports whether sending is active.
func (d *Dispatcher) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Ready reports whether MarkReady has been called.
func (d *Dispatcher) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Buffered returns the number of events waiting in the buffer.
func (d *Dispatcher) Buffered() int {
	return d.buffer.Len()
}

// Delivered returns the number of successful adapter deliveries.
func (d *Dispatcher) Delivered() int64 {
	return d.delivered.Load()
}

// Failed returns the number of failed adapter deliveries.
func (d *Dispatcher) Failed() int64 {
	return d.failed.Load()
}
