package warehouse_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack"
	"github.com/randalmurphal/insighttrack/pkg/insighttrack/adapters"
	iterrors "github.com/randalmurphal/insighttrack/pkg/insighttrack/errors"
	"github.com/randalmurphal/insighttrack/pkg/insighttrack/warehouse"
)

// storeFactories runs the contract tests against every Store.
var storeFactories = map[string]func(t *testing.T) warehouse.Store{
	"memory": func(*testing.T) warehouse.Store {
		return warehouse.NewMemoryStore()
	},
	"sqlite": func(t *testing.T) warehouse.Store {
		s, err := warehouse.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return s
	},
}

func forEachStore(t *testing.T, fn func(t *testing.T, store warehouse.Store)) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			fn(t, store)
		})
	}
}

func record(id, name string, at time.Time) warehouse.Record {
	return warehouse.Record{EventID: id, Name: name, OccurredAt: at}
}

func TestStore_InsertAndQuery(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	forEachStore(t, func(t *testing.T, store warehouse.Store) {
		ctx := context.Background()
		require.NoError(t, store.Insert(ctx, warehouse.Record{
			EventID:    "1",
			Name:       "purchase",
			Value:      "9.99",
			Params:     map[string]any{"currency": "EUR"},
			OccurredAt: base,
		}))
		require.NoError(t, store.Insert(ctx, record("2", "login", base.Add(time.Minute))))
		require.NoError(t, store.Insert(ctx, record("3", "purchase", base.Add(2*time.Minute))))

		all, err := store.Query(ctx, warehouse.Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"1", "2", "3"}, ids(all))
		assert.Equal(t, "9.99", all[0].Value)
		assert.Equal(t, map[string]any{"currency": "EUR"}, all[0].Params)
		assert.True(t, base.Equal(all[0].OccurredAt))
		assert.False(t, all[0].StoredAt.IsZero())

		purchases, err := store.Query(ctx, warehouse.Filter{Name: "purchase"})
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "3"}, ids(purchases))

		recent, err := store.Query(ctx, warehouse.Filter{Since: base.Add(30 * time.Second)})
		require.NoError(t, err)
		assert.Equal(t, []string{"2", "3"}, ids(recent))

		limited, err := store.Query(ctx, warehouse.Filter{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, ids(limited))

		none, err := store.Query(ctx, warehouse.Filter{Name: "missing"})
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestStore_InsertIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store warehouse.Store) {
		ctx := context.Background()
		now := time.Now()
		require.NoError(t, store.Insert(ctx, record("dup", "login", now)))
		require.NoError(t, store.Insert(ctx, record("dup", "login", now)))

		n, err := store.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		assert.ErrorIs(t, store.Insert(ctx, record("", "login", now)), warehouse.ErrMissingEventID)
	})
}

func TestStore_Count(t *testing.T) {
	forEachStore(t, func(t *testing.T, store warehouse.Store) {
		ctx := context.Background()
		now := time.Now()
		require.NoError(t, store.Insert(ctx, record("1", "a", now)))
		require.NoError(t, store.Insert(ctx, record("2", "a", now)))
		require.NoError(t, store.Insert(ctx, record("3", "b", now)))

		n, err := store.Count(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = store.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestStore_Properties(t *testing.T) {
	forEachStore(t, func(t *testing.T, store warehouse.Store) {
		ctx := context.Background()

		props, err := store.Properties(ctx)
		require.NoError(t, err)
		assert.Empty(t, props)

		require.NoError(t, store.PutProperty(ctx, "tier", "silver"))
		require.NoError(t, store.PutProperty(ctx, "tier", "gold"))
		require.NoError(t, store.PutProperty(ctx, "locale", "de"))

		props, err = store.Properties(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"tier": "gold", "locale": "de"}, props)
	})
}

func TestStore_Closed(t *testing.T) {
	forEachStore(t, func(t *testing.T, store warehouse.Store) {
		ctx := context.Background()
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())

		assert.ErrorIs(t, store.Insert(ctx, record("1", "a", time.Now())), warehouse.ErrStoreClosed)
		_, err := store.Query(ctx, warehouse.Filter{})
		assert.ErrorIs(t, err, warehouse.ErrStoreClosed)
		_, err = store.Count(ctx, "")
		assert.ErrorIs(t, err, warehouse.ErrStoreClosed)
		assert.ErrorIs(t, store.PutProperty(ctx, "k", "v"), warehouse.ErrStoreClosed)
	})
}

func TestStore_Concurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store warehouse.Store) {
		ctx := context.Background()
		const goroutines = 10
		const perGoroutine = 20

		var wg sync.WaitGroup
		for g := range goroutines {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range perGoroutine {
					id := fmt.Sprintf("g%d-%d", g, i)
					assert.NoError(t, store.Insert(ctx, record(id, "load", time.Now())))
				}
			}()
		}
		wg.Wait()

		n, err := store.Count(ctx, "load")
		require.NoError(t, err)
		assert.Equal(t, goroutines*perGoroutine, n)
	})
}

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	store1, err := warehouse.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store1.Insert(ctx, record("persisted", "login", time.Now())))
	require.NoError(t, store1.Close())

	store2, err := warehouse.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	records, err := store2.Query(ctx, warehouse.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"persisted"}, ids(records))
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := warehouse.NewSQLiteStore("/nonexistent/path/events.db")
	assert.Error(t, err)
}

func TestOpenSQLiteStore_DeadlineIsTimeout(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := warehouse.OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "events.db"))

	var timeout *iterrors.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Contains(t, timeout.Operation, "events.db")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, iterrors.IsRetryable(err))
}

func TestAdapter_SQLiteOpenTimeoutIsRetried(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "warehouse.db")
	attempts := 0
	a := warehouse.NewAdapter("warehouse", 0, func(ctx context.Context) (warehouse.Store, error) {
		attempts++
		if attempts == 1 {
			expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
			defer cancel()
			return warehouse.OpenSQLiteStore(expired, dbPath)
		}
		return warehouse.OpenSQLiteStore(ctx, dbPath)
	})

	svc, err := insighttrack.New([]insighttrack.Adapter{a},
		insighttrack.WithInitRetry(iterrors.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			BackoffFactor:  1,
		}),
	)
	require.NoError(t, err)
	defer svc.Dispose()

	require.NoError(t, svc.Initialize(context.Background()))
	assert.Equal(t, 2, attempts)
	assert.True(t, a.Ready())
	assert.Equal(t, 1, svc.Stats().ReadyAdapters)
}

func TestAdapter_RecordsDeliveredEvents(t *testing.T) {
	store := warehouse.NewMemoryStore()
	a := warehouse.NewAdapter("warehouse", 0, warehouse.Static(store))

	svc, err := insighttrack.New([]insighttrack.Adapter{a},
		insighttrack.WithDeliveryMode(insighttrack.DeliverySync),
	)
	require.NoError(t, err)

	ctx := context.Background()
	svc.Send("app_open", "", nil)
	require.NoError(t, svc.Initialize(ctx))
	require.NoError(t, svc.SetSendingActive(true))
	svc.Send("purchase", "9.99", map[string]any{"items": 2})
	require.NoError(t, svc.SetUserProperty(ctx, "tier", "gold"))

	records, err := store.Query(ctx, warehouse.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "app_open", records[0].Name)
	assert.Equal(t, "purchase", records[1].Name)
	assert.Equal(t, "9.99", records[1].Value)

	props, err := store.Properties(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gold", props["tier"])

	require.NoError(t, svc.Dispose())
	assert.Nil(t, a.Store())
	_, err = store.Count(ctx, "")
	assert.ErrorIs(t, err, warehouse.ErrStoreClosed, "dispose closes the store")
}

func TestAdapter_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "warehouse.db")
	a := warehouse.NewAdapter("warehouse", 0, warehouse.SQLite(dbPath))

	ctx := context.Background()
	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Accept(ctx, insighttrack.NewEvent("level_complete",
		insighttrack.WithValue("3"),
		insighttrack.WithParam("score", 1200),
	)))

	records, err := a.Store().Query(ctx, warehouse.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, float64(1200), records[0].Params["score"], "params round-trip through JSON")
	require.NoError(t, a.Dispose())
}

func TestAdapter_OpenFailure(t *testing.T) {
	boom := errors.New("disk full")
	a := warehouse.NewAdapter("warehouse", 0, func(context.Context) (warehouse.Store, error) {
		return nil, boom
	})

	err := a.Initialize(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, a.Ready())
	assert.ErrorIs(t, a.Accept(context.Background(), insighttrack.NewEvent("e")), adapters.ErrNotReady)
	assert.NoError(t, a.Dispose())
}

func ids(records []warehouse.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.EventID
	}
	return out
}
