package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
)

// StateStore is the client-side durable key/value state: one key for the
// write queue, one for the dead-letter list, one for the active sync
// checkpoint, one per entity type for the cache snapshot and for
// last-synced-at metadata. Values are opaque JSON owned by the callers.
//
// Failures are wrapped as storage errors so callers can abort a
// cache-then-notify-then-network sequence instead of desynchronizing.
type StateStore struct {
	db *sql.DB

	// Prepared statement cache for the hot get/put path. Statements are
	// prepared on first use and reused.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewStateStore creates a StateStore and ensures its table exists.
func NewStateStore(db *sql.DB) (*StateStore, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS local_state (
		key        TEXT PRIMARY KEY CHECK(length(key) > 0),
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to create local_state table", err)
	}
	return &StateStore{db: db}, nil
}

// prepare gets or creates a prepared statement from the cache.
func (s *StateStore) prepare(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Get returns the value stored under key. The second return is false when
// the key is absent.
func (s *StateStore) Get(key string) ([]byte, bool, error) {
	stmt, err := s.prepare(`SELECT value FROM local_state WHERE key = ?`)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorage, "state get", err)
	}
	var value []byte
	err = stmt.QueryRow(key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("state get %q", key), err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (s *StateStore) Put(key string, value []byte) error {
	stmt, err := s.prepare(`
		INSERT INTO local_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "state put", err)
	}
	if _, err := stmt.Exec(key, value, time.Now().Unix()); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("state put %q", key), err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *StateStore) Delete(key string) error {
	stmt, err := s.prepare(`DELETE FROM local_state WHERE key = ?`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "state delete", err)
	}
	if _, err := stmt.Exec(key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("state delete %q", key), err)
	}
	return nil
}

// Close closes all cached prepared statements.
func (s *StateStore) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}
