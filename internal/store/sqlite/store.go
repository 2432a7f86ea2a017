// Package sqlite provides a SQLite-backed cache store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/klauern/usersync/internal/model"
	"github.com/klauern/usersync/internal/store"
	"github.com/klauern/usersync/internal/store/sqlite/migrations"
)

// Store persists collections in a SQLite database, one row per key.
type Store struct {
	db   *sql.DB
	path string
	key  string
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithKey stores the collection under key instead of store.DefaultKey.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithClock overrides the timestamp source for saved_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens a SQLite cache store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{
		db:   db,
		path: cleanPath,
		key:  store.DefaultKey,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Key returns the logical key the collection is stored under.
func (s *Store) Key() string {
	return s.key
}

// ReadAll implements store.Store.
func (s *Store) ReadAll(ctx context.Context) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrLoad, err)
	}
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM collections WHERE key = ?`, s.key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no collection %q", store.ErrLoad, s.key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query %q: %w", store.ErrLoad, s.key, err)
	}

	records := []model.Record{}
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		return nil, fmt.Errorf("%w: decode %q: %w", store.ErrLoad, s.key, err)
	}
	if records == nil {
		records = []model.Record{}
	}
	return records, nil
}

// WriteAll implements store.Store.
func (s *Store) WriteAll(ctx context.Context, records []model.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInsert, err)
	}
	if records == nil {
		records = []model.Record{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %w", store.ErrInsert, s.key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections (key, payload, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		s.key, string(payload), s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert %q: %w", store.ErrInsert, s.key, err)
	}
	return nil
}

// Clear implements store.Store.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrDelete, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE key = ?`, s.key); err != nil {
		return fmt.Errorf("%w: delete %q: %w", store.ErrDelete, s.key, err)
	}
	return nil
}

// SavedAt returns when the collection was last written.
func (s *Store) SavedAt(ctx context.Context) (time.Time, error) {
	var millis int64
	err := s.db.QueryRowContext(ctx, `SELECT saved_at FROM collections WHERE key = ?`, s.key).Scan(&millis)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%w: no collection %q", store.ErrLoad, s.key)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: query %q: %w", store.ErrLoad, s.key, err)
	}
	return time.UnixMilli(millis).UTC(), nil
}
