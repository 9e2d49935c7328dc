package insighttrack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iterrors "github.com/randalmurphal/insighttrack/pkg/insighttrack/errors"
)

func newTestRegistry(t *testing.T, opts []Option, fakes ...*fakeAdapter) *Registry {
	t.Helper()
	r := NewRegistry(opts...)
	for _, f := range fakes {
		require.NoError(t, r.Register(f))
	}
	return r
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(newFake("a", 0, nil)))
	assert.ErrorIs(t, r.Register(newFake("a", 1, nil)), ErrDuplicateAdapter)
	assert.ErrorIs(t, r.Register(nil), ErrNilAdapter)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_InitializesInPriorityOrder(t *testing.T) {
	log := &callLog{}
	r := newTestRegistry(t, nil,
		newFake("c", 30, log),
		newFake("a", 10, log),
		newFake("d", 40, log),
		newFake("b", 20, log),
	)

	ready, err := r.InitializeAll(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)

	assert.Equal(t, []string{"init:a", "init:b", "init:c", "init:d"}, log.snapshot())
	assert.Equal(t, 4, r.ReadyCount())
}

func TestRegistry_EqualPrioritiesKeepRegistrationOrder(t *testing.T) {
	log := &callLog{}
	r := newTestRegistry(t, nil,
		newFake("x", 1, log),
		newFake("first", 0, log),
		newFake("y", 1, log),
		newFake("second", 0, log),
		newFake("z", 1, log),
	)

	_, err := r.InitializeAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"init:first", "init:second", "init:x", "init:y", "init:z"}, log.snapshot())
}

func TestRegistry_InitializesEachAdapterOnce(t *testing.T) {
	fakes := make([]*fakeAdapter, 5)
	for i := range fakes {
		fakes[i] = newFake(fmt.Sprintf("a%d", i), 5-i, nil)
	}
	r := newTestRegistry(t, nil, fakes...)

	_, err := r.InitializeAll(context.Background())
	require.NoError(t, err)
	_, err = r.InitializeAll(context.Background())
	require.NoError(t, err)

	for _, f := range fakes {
		assert.Equal(t, int32(1), f.inits.Load(), f.name)
	}
}

func TestRegistry_SkipsAlreadyReadyAdapters(t *testing.T) {
	f := newFake("warm", 0, nil)
	f.ready.Store(true)
	r := newTestRegistry(t, nil, f)

	ready, err := r.InitializeAll(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Zero(t, f.inits.Load())
	assert.Equal(t, 1, r.ReadyCount())
}

func TestRegistry_CancelBeforeAdapterDisposesEarlierOnes(t *testing.T) {
	log := &callLog{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newFake("a", 0, log)
	b := newFake("b", 1, log)
	b.initFn = func(context.Context) error {
		cancel()
		return nil
	}
	c := newFake("c", 2, log)
	r := newTestRegistry(t, nil, a, b, c)

	ready, err := r.InitializeAll(ctx)
	assert.False(t, ready)
	assert.ErrorIs(t, err, ErrInitializationCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"init:a", "init:b", "dispose:a", "dispose:b"}, log.snapshot())
	assert.Zero(t, c.inits.Load())
	assert.Zero(t, c.disposes.Load())
	assert.Equal(t, 0, r.ReadyCount())

	// A later full dispose touches only the adapter that was never disposed.
	require.NoError(t, r.DisposeAll())
	assert.Equal(t, int32(1), a.disposes.Load())
	assert.Equal(t, int32(1), b.disposes.Load())
	assert.Equal(t, int32(1), c.disposes.Load())
}

func TestRegistry_CancelledBeforeStart(t *testing.T) {
	log := &callLog{}
	r := newTestRegistry(t, nil, newFake("a", 0, log))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ready, err := r.InitializeAll(ctx)
	assert.False(t, ready)
	assert.ErrorIs(t, err, ErrInitializationCancelled)
	assert.Empty(t, log.snapshot())
}

func TestRegistry_CancelDuringInitializeDisposesInterruptedAdapter(t *testing.T) {
	log := &callLog{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newFake("a", 0, log)
	slow := newFake("slow", 1, log)
	slow.initFn = func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	r := newTestRegistry(t, nil, a, slow)

	ready, err := r.InitializeAll(ctx)
	assert.False(t, ready)
	assert.ErrorIs(t, err, ErrInitializationCancelled)
	assert.Equal(t, []string{"init:a", "init:slow", "dispose:a", "dispose:slow"}, log.snapshot())
}

func TestRegistry_ContinuePolicyIsolatesFailures(t *testing.T) {
	hooks := &hookRecorder{}
	log := &callLog{}
	boom := errors.New("sdk unavailable")

	a := newFake("a", 0, log)
	bad := newFake("bad", 1, log)
	bad.initFn = func(context.Context) error { return boom }
	c := newFake("c", 2, log)
	r := newTestRegistry(t, hooks.options(), a, bad, c)

	ready, err := r.InitializeAll(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)

	assert.Equal(t, []string{"init:a", "init:bad", "init:c"}, log.snapshot())
	assert.Equal(t, 2, r.ReadyCount())
	assert.Equal(t, 1, r.FailedCount())

	errs := hooks.adapterErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, KindInitialization, errs[0].Kind)
	assert.Equal(t, "bad", errs[0].Adapter)
	assert.ErrorIs(t, errs[0], boom)
}

func TestRegistry_ContinuePolicyRecoversPanics(t *testing.T) {
	bad := newFake("bad", 0, nil)
	bad.initFn = func(context.Context) error { panic("nil config") }
	ok := newFake("ok", 1, nil)
	r := newTestRegistry(t, nil, bad, ok)

	ready, err := r.InitializeAll(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)
	assert.True(t, ok.Ready())
	assert.Equal(t, 1, r.FailedCount())
}

func TestRegistry_AbortPolicy(t *testing.T) {
	log := &callLog{}
	boom := errors.New("consent denied")

	a := newFake("a", 0, log)
	bad := newFake("bad", 1, log)
	bad.initFn = func(context.Context) error { return boom }
	c := newFake("c", 2, log)
	r := newTestRegistry(t, []Option{WithInitPolicy(InitPolicyAbort)}, a, bad, c)

	ready, err := r.InitializeAll(context.Background())
	assert.False(t, ready)

	var aerr *AdapterError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "bad", aerr.Adapter)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"init:a", "init:bad", "dispose:a"}, log.snapshot())
	assert.Zero(t, c.inits.Load())
}

func TestRegistry_FailedAdapterRetriedOnNextPass(t *testing.T) {
	attempts := 0
	flaky := newFake("flaky", 0, nil)
	flaky.initFn = func(context.Context) error {
		attempts++
		if attempts == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	}
	r := newTestRegistry(t, nil, flaky)

	_, err := r.InitializeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, r.ReadyCount())

	_, err = r.InitializeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.ReadyCount())
	assert.Equal(t, 0, r.FailedCount())
}

func TestRegistry_InitRetry(t *testing.T) {
	attempts := 0
	flaky := newFake("flaky", 0, nil)
	flaky.initFn = func(context.Context) error {
		attempts++
		if attempts < 3 {
			return iterrors.Transient(errors.New("connection reset"), "dial collector")
		}
		return nil
	}

	retry := iterrors.NewRetryConfig(
		iterrors.WithMaxAttempts(3),
		iterrors.WithInitialBackoff(0),
	)
	r := newTestRegistry(t, []Option{WithInitRetry(retry)}, flaky)

	ready, err := r.InitializeAll(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, r.ReadyCount())
}

func TestRegistry_DisposeAllExactlyOnce(t *testing.T) {
	never := newFake("never", 0, nil)
	never.initFn = func(context.Context) error { return errors.New("no network") }
	initialized := newFake("initialized", 1, nil)
	r := newTestRegistry(t, nil, never, initialized)

	require.NoError(t, r.Register(newFake("late", 2, nil)))
	_, err := r.InitializeAll(context.Background())
	require.NoError(t, err)

	require.NoError(t, r.DisposeAll())
	require.NoError(t, r.DisposeAll())

	for _, a := range r.Adapters() {
		assert.Equal(t, int32(1), a.(*fakeAdapter).disposes.Load(), a.Name())
	}
	assert.Equal(t, 0, r.ReadyCount())
}

func TestRegistry_Remove(t *testing.T) {
	a := newFake("a", 0, nil)
	r := newTestRegistry(t, nil, a, newFake("b", 1, nil))
	_, err := r.InitializeAll(context.Background())
	require.NoError(t, err)

	require.NoError(t, r.Remove("a"))
	assert.Equal(t, int32(1), a.disposes.Load())
	assert.Equal(t, 1, r.Len())
	assert.ErrorIs(t, r.Remove("a"), ErrAdapterNotFound)
}

func TestRegistry_InitializationOrder(t *testing.T) {
	r := newTestRegistry(t, nil,
		newFake("late", 5, nil),
		newFake("early", -1, nil),
		newFake("mid", 0, nil),
	)

	var names []string
	for _, a := range r.InitializationOrder() {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"early", "mid", "late"}, names)

	names = names[:0]
	for _, a := range r.Adapters() {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"late", "early", "mid"}, names)
}

func TestRegistry_SetUserProperty(t *testing.T) {
	hooks := &hookRecorder{}
	a := newFake("a", 0, nil)
	b := newFake("b", 1, nil)
	r := newTestRegistry(t, hooks.options(), a, b)
	_, err := r.InitializeAll(context.Background())
	require.NoError(t, err)

	require.NoError(t, r.SetUserProperty(context.Background(), "tier", "gold"))
	assert.Equal(t, "gold", a.prop("tier"))
	assert.Equal(t, "gold", b.prop("tier"))
	assert.Empty(t, hooks.adapterErrors())
}

func TestRegistry_RemovedDuringPassIsNotInitialized(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	a := newFake("a", 0, nil)
	a.initFn = func(context.Context) error {
		close(started)
		<-release
		return nil
	}
	b := newFake("b", 1, nil)
	r := newTestRegistry(t, nil, a, b)

	result := make(chan error, 1)
	go func() {
		_, err := r.InitializeAll(context.Background())
		result <- err
	}()

	<-started
	require.NoError(t, r.Remove("b"))
	close(release)
	require.NoError(t, <-result)

	assert.Zero(t, b.inits.Load())
	assert.Equal(t, int32(1), b.disposes.Load())
	assert.False(t, b.Ready())
	assert.Equal(t, 1, r.ReadyCount())
}

func TestRegistry_RemoveWaitsForRunningInitialize(t *testing.T) {
	log := &callLog{}
	started := make(chan struct{})
	release := make(chan struct{})
	a := newFake("a", 0, log)
	a.initFn = func(context.Context) error {
		close(started)
		<-release
		return nil
	}
	r := newTestRegistry(t, nil, a)

	result := make(chan error, 1)
	go func() {
		_, err := r.InitializeAll(context.Background())
		result <- err
	}()
	<-started

	removed := make(chan error, 1)
	go func() { removed <- r.Remove("a") }()

	select {
	case <-removed:
		t.Fatal("Remove returned while Initialize was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-removed)
	require.NoError(t, <-result)

	assert.Equal(t, []string{"init:a", "dispose:a"}, log.snapshot())
	assert.False(t, a.Ready())
	assert.Zero(t, r.Len())
}

func TestRegistry_ClosedAfterDisposeAll(t *testing.T) {
	a := newFake("a", 0, nil)
	r := newTestRegistry(t, nil, a)
	require.NoError(t, r.DisposeAll())

	late := newFake("late", 1, nil)
	assert.ErrorIs(t, r.Register(late), ErrDisposed)
	assert.Equal(t, 1, r.Len())

	ready, err := r.InitializeAll(context.Background())
	assert.False(t, ready)
	assert.ErrorIs(t, err, ErrDisposed)
	assert.Zero(t, a.inits.Load())
	assert.Zero(t, late.disposes.Load())
}

func TestRegistry_LogsCarryAdapterContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ads := newFake("ads", 2, nil)
	ads.initFn = func(context.Context) error { return errors.New("offline") }
	r := newTestRegistry(t, []Option{WithLogger(logger)}, newFake("consent", 0, nil), ads)

	_, err := r.InitializeAll(context.Background())
	require.NoError(t, err)

	byMsg := map[string]map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		byMsg[m["msg"].(string)] = m
	}

	ready := byMsg["adapter ready"]
	require.NotNil(t, ready)
	assert.Equal(t, "consent", ready["adapter"])
	assert.Equal(t, float64(0), ready["priority"])

	failed := byMsg["adapter initialization failed"]
	require.NotNil(t, failed)
	assert.Equal(t, "ads", failed["adapter"])
	assert.Equal(t, float64(2), failed["priority"])
	assert.Equal(t, "offline", failed["error"])
}
