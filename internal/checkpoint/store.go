// Package checkpoint provides the durable key/value store holding the poll
// watermark between runs.
package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// ErrKeyNotFound is returned by MustGet and Pop for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// WatermarkKey is the key under which the poller persists its last processed
// timestamp (RFC 3339, UTC).
const WatermarkKey = "last-time"

const schema = `CREATE TABLE IF NOT EXISTS KeyVal (Key TEXT PRIMARY KEY, Value TEXT)`

// Store is a durable mapping from string keys to string values backed by a
// single sqlite table. Every write commits immediately, so a crash between
// poll cycles never loses the watermark. It is not safe for concurrent use by
// multiple writers; the driver loop is the only writer.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the store at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for store: %w", err)
		}
	}

	// WAL keeps the single-writer commits cheap; the busy timeout covers a
	// concurrent "state" invocation inspecting the same file.
	dsn := fmt.Sprintf("%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, 5000)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create KeyVal table: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	log.Debug().Str("path", path).Msg("Checkpoint store opened")
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key. Absence is reported through the boolean, not
// an error.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.Get(&value, `SELECT Value FROM KeyVal WHERE Key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, true, nil
}

// MustGet returns the value for key, or ErrKeyNotFound when absent.
func (s *Store) MustGet(key string) (string, error) {
	value, ok, err := s.Get(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return value, nil
}

// Set writes key to value. The write is durable once Set returns.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO KeyVal (Key, Value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Pop removes key and returns its former value, or ErrKeyNotFound when absent.
func (s *Store) Pop(key string) (string, error) {
	value, err := s.MustGet(key)
	if err != nil {
		return "", err
	}
	if _, err := s.db.Exec(`DELETE FROM KeyVal WHERE Key = ?`, key); err != nil {
		return "", fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return value, nil
}

// Has reports whether key is present.
func (s *Store) Has(key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

// Keys returns all stored keys.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	if err := s.db.Select(&keys, `SELECT Key FROM KeyVal ORDER BY Key`); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// Items returns all stored key/value pairs ordered by key.
func (s *Store) Items() (map[string]string, error) {
	rows, err := s.db.Queryx(`SELECT Key, Value FROM KeyVal ORDER BY Key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items[k] = v
	}
	return items, rows.Err()
}

// Len returns the number of stored pairs.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM KeyVal`); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// Clear removes all stored pairs.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM KeyVal`); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}
