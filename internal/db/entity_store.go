package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hearthkeep/hearthkeep/internal/models"
)

// EntityStore is the server of record's entity table. Every entity type
// shares one table keyed by (entity_type, id); rows are soft-deleted by
// setting deleted_at, never removed, so tombstones survive for merge.
type EntityStore struct {
	db *sql.DB
}

// NewEntityStore creates an EntityStore over an already-migrated database.
func NewEntityStore(db *sql.DB) *EntityStore {
	return &EntityStore{db: db}
}

// Querier is satisfied by *sql.DB and *sql.Tx. Lookups that run inside an
// apply transaction must use the transaction: the pool holds a single
// connection, so querying the pool while a transaction is open blocks
// forever.
type Querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// StoredEntity is one server-side entity row.
type StoredEntity struct {
	EntityType  models.EntityType
	ID          string
	ClientLocal string // localId of the creating device
	Payload     json.RawMessage
	UpdatedAt   models.Timestamp
	Deleted     bool
}

// Upsert inserts or replaces an entity row inside tx. Apply semantics are
// instruction-based: the row always takes the submitted snapshot, and
// timestamp-aware rejection stays a client responsibility.
func (s *EntityStore) Upsert(tx *sql.Tx, row *StoredEntity) error {
	const query = `
	INSERT INTO entities (entity_type, id, client_local_id, payload, updated_at, deleted)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(entity_type, id) DO UPDATE SET
		payload = excluded.payload,
		updated_at = excluded.updated_at,
		deleted = excluded.deleted`
	_, err := tx.Exec(query, row.EntityType, row.ID, row.ClientLocal,
		[]byte(row.Payload), row.UpdatedAt.String(), row.Deleted)
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", row.EntityType, row.ID, err)
	}
	return nil
}

// Get returns one entity row, or sql.ErrNoRows.
func (s *EntityStore) Get(q Querier, t models.EntityType, id string) (*StoredEntity, error) {
	const query = `
	SELECT entity_type, id, client_local_id, payload, updated_at, deleted
	FROM entities WHERE entity_type = ? AND id = ?`
	return scanEntity(q.QueryRow(query, t, id))
}

// GetByClientLocalID resolves an entity by the creating device's local ID.
// Used to make create operations idempotent across devices that never
// learned their server ID.
func (s *EntityStore) GetByClientLocalID(q Querier, t models.EntityType, localID string) (*StoredEntity, error) {
	const query = `
	SELECT entity_type, id, client_local_id, payload, updated_at, deleted
	FROM entities WHERE entity_type = ? AND client_local_id = ?`
	return scanEntity(q.QueryRow(query, t, localID))
}

// List returns all rows of one entity type, tombstones included.
func (s *EntityStore) List(t models.EntityType) ([]*StoredEntity, error) {
	const query = `
	SELECT entity_type, id, client_local_id, payload, updated_at, deleted
	FROM entities WHERE entity_type = ? ORDER BY updated_at`
	rows, err := s.db.Query(query, t)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s entities: %w", t, err)
	}
	defer rows.Close()

	var result []*StoredEntity
	for rows.Next() {
		row, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(sc scanner) (*StoredEntity, error) {
	var row StoredEntity
	var payload []byte
	var updatedAt string
	if err := sc.Scan(&row.EntityType, &row.ID, &row.ClientLocal, &payload, &updatedAt, &row.Deleted); err != nil {
		return nil, err
	}
	row.Payload = json.RawMessage(payload)
	ts, err := models.ParseTimestamp(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt updated_at on %s/%s: %w", row.EntityType, row.ID, err)
	}
	row.UpdatedAt = ts
	return &row, nil
}
