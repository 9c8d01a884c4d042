// Package db provides sqlite-backed durable storage for the sync core: the
// client's keyed local state and the server's entity and idempotency tables.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// DB wraps sql.DB together with the exclusive data-directory lock.
type DB struct {
	*sql.DB
	lock *flock.Flock
}

// Open opens the sqlite database under dataDir with:
//   - an exclusive flock on the data directory, so two processes can never
//     share one durable queue/cache,
//   - WAL mode for concurrent reads,
//   - foreign key constraints enabled,
//   - a single writer connection (sqlite does not support more).
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := flock.New(filepath.Join(dataDir, "hearthkeep.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire data directory lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data directory %s is in use by another process", dataDir)
	}

	dbPath := filepath.Join(dataDir, "hearthkeep.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{DB: db, lock: lock}, nil
}

// Close closes the database connection and releases the directory lock.
func (db *DB) Close() error {
	err := db.DB.Close()
	if db.lock != nil {
		if unlockErr := db.lock.Unlock(); err == nil {
			err = unlockErr
		}
	}
	return err
}
