package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	iterrors "github.com/randalmurphal/insighttrack/pkg/insighttrack/errors"
)

// SQLiteStore persists events to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a SQLite-backed store.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLiteStore(context.Background(), path)
}

// OpenSQLiteStore is NewSQLiteStore bounded by ctx. If the deadline of ctx
// passes before the schema is ready, the error is an *errors.TimeoutError.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	start := time.Now()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes
	// writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, openError(ctx, path, start, "enable WAL mode", err)
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			params TEXT,
			occurred_at TEXT NOT NULL,
			stored_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_name ON events(name)`,
		`CREATE TABLE IF NOT EXISTS user_properties (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, openError(ctx, path, start, "create schema", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func openError(ctx context.Context, path string, start time.Time, step string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &iterrors.TimeoutError{
			Operation: fmt.Sprintf("open %s: %s", path, step),
			Duration:  time.Since(start).Round(time.Millisecond).String(),
			Err:       err,
		}
	}
	return fmt.Errorf("%s: %w", step, err)
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	if rec.EventID == "" {
		return ErrMissingEventID
	}

	var params []byte
	if len(rec.Params) > 0 {
		var err error
		params, err = json.Marshal(rec.Params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, name, value, params, occurred_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, rec.EventID, rec.Name, rec.Value, nullableText(params),
		formatTime(rec.OccurredAt), formatTime(rec.StoredAt))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Query implements Store.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var where []string
	var args []any
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, formatTime(f.Since))
	}

	query := "SELECT event_id, name, value, params, occurred_at, stored_at FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var params sql.NullString
		var occurred, stored string
		if err := rows.Scan(&rec.EventID, &rec.Name, &rec.Value, &params, &occurred, &stored); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if params.Valid {
			if err := json.Unmarshal([]byte(params.String), &rec.Params); err != nil {
				return nil, fmt.Errorf("decode params of %s: %w", rec.EventID, err)
			}
		}
		rec.OccurredAt, _ = time.Parse(timeLayout, occurred)
		rec.StoredAt, _ = time.Parse(timeLayout, stored)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int
	var err error
	if name == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE name = ?`, name).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// PutProperty implements Store.
func (s *SQLiteStore) PutProperty(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_properties (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, name, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("put property: %w", err)
	}
	return nil
}

// Properties implements Store.
func (s *SQLiteStore) Properties(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM user_properties`)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	props := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		props[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate properties: %w", err)
	}
	return props, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
