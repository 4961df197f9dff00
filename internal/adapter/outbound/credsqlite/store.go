// Package credsqlite persists credentials in a SQLite database. Shared
// workstations that already ship a local SQLite state file can keep session
// material in the same place instead of a separate JSON file.
package credsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/medcontrol/sessiongate/internal/domain/credential"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Store implements credential.Store on top of a SQLite database.
// Each persisted entry is one row keyed by its contract name
// (access_token, refresh_token, last_activity_at).
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the credential database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create credential directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}
	// A single client process owns the database; one connection avoids
	// SQLITE_BUSY between concurrent store calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create credentials table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored token of the given kind, or credential.ErrNotFound.
func (s *Store) Get(ctx context.Context, kind credential.Kind) (string, error) {
	key, err := storageKey(kind)
	if err != nil {
		return "", err
	}
	return s.get(ctx, key)
}

// Set stores or replaces the token of the given kind.
func (s *Store) Set(ctx context.Context, kind credential.Kind, token string) error {
	key, err := storageKey(kind)
	if err != nil {
		return err
	}
	return s.set(ctx, key, token)
}

// LastActivity returns the persisted activity timestamp.
func (s *Store) LastActivity(ctx context.Context) (time.Time, error) {
	raw, err := s.get(ctx, credential.StorageKeyLastActivity)
	if err != nil {
		return time.Time{}, err
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last activity: %w", err)
	}
	return at.UTC(), nil
}

// SetLastActivity records the activity timestamp.
func (s *Store) SetLastActivity(ctx context.Context, at time.Time) error {
	return s.set(ctx, credential.StorageKeyLastActivity, at.UTC().Format(time.RFC3339))
}

// Clear removes all entries together.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM credentials WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", credential.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query credential %q: %w", key, err)
	}
	if value == "" {
		return "", credential.ErrNotFound
	}
	return value, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store credential %q: %w", key, err)
	}
	return nil
}

func storageKey(kind credential.Kind) (string, error) {
	switch kind {
	case credential.KindAccess:
		return credential.StorageKeyAccess, nil
	case credential.KindRefresh:
		return credential.StorageKeyRefresh, nil
	default:
		return "", fmt.Errorf("unknown credential kind %q", kind)
	}
}

// Compile-time check that Store implements credential.Store.
var _ credential.Store = (*Store)(nil)
