package benchmarks

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack/warehouse"
)

// BenchmarkMemoryStore_Insert measures in-memory inserts.
func BenchmarkMemoryStore_Insert(b *testing.B) {
	benchmarkInsert(b, warehouse.NewMemoryStore())
}

// BenchmarkSQLiteStore_Insert measures inserts into a file-backed database.
func BenchmarkSQLiteStore_Insert(b *testing.B) {
	store, err := warehouse.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	benchmarkInsert(b, store)
}

// BenchmarkSQLiteStore_Query measures a filtered query over 1000 rows.
func BenchmarkSQLiteStore_Query(b *testing.B) {
	store, err := warehouse.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 1000; i++ {
		name := "tap"
		if i%10 == 0 {
			name = "purchase"
		}
		if err := store.Insert(ctx, benchRecord(i, name, now)); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Query(ctx, warehouse.Filter{Name: "purchase"})
	}
}

// Helper functions

func benchmarkInsert(b *testing.B, store warehouse.Store) {
	defer store.Close()
	ctx := context.Background()
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Insert(ctx, benchRecord(i, "tap", now))
	}
}

func benchRecord(i int, name string, at time.Time) warehouse.Record {
	return warehouse.Record{
		EventID:    fmt.Sprintf("evt-%d", i),
		Name:       name,
		Params:     map[string]any{"i": i},
		OccurredAt: at,
	}
}
