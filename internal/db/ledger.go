package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hearthkeep/hearthkeep/internal/models"
)

// Ledger is the server's idempotency ledger, keyed by operationId. It
// follows the insert-first pattern: the intent to process is recorded before
// the mutation executes, so a crash mid-apply cannot cause double
// application when the client retries.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a Ledger over an already-migrated database.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// LedgerStatus is the lifecycle state of one ledger row.
type LedgerStatus string

const (
	// LedgerStatusProcessing means intent was recorded but the apply was
	// never confirmed; the operation may be re-applied safely.
	LedgerStatusProcessing LedgerStatus = "processing"
	LedgerStatusApplied    LedgerStatus = "applied"
	LedgerStatusConflict   LedgerStatus = "conflict"
)

// LedgerEntry is one recorded operation outcome.
type LedgerEntry struct {
	OperationID string
	EntityType  models.EntityType
	EntityID    string
	Status      LedgerStatus
	Reason      string
}

// Begin records intent to process opID inside tx. When the operation was
// seen before, the prior entry is returned with fresh=false and no new row
// is written; a prior "processing" row means a crash interrupted the apply
// and the caller should run it again (the apply itself is an upsert).
func (l *Ledger) Begin(tx *sql.Tx, opID string, t models.EntityType) (entry *LedgerEntry, fresh bool, err error) {
	res, err := tx.Exec(`
		INSERT INTO idempotency_ledger (operation_id, entity_type, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(operation_id) DO NOTHING`,
		opID, t, LedgerStatusProcessing, time.Now().Unix())
	if err != nil {
		return nil, false, fmt.Errorf("failed to record operation intent: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if inserted == 1 {
		return &LedgerEntry{OperationID: opID, EntityType: t, Status: LedgerStatusProcessing}, true, nil
	}

	prior, err := l.get(tx, opID)
	if err != nil {
		return nil, false, err
	}
	return prior, false, nil
}

// Finish records the final outcome for opID inside tx.
func (l *Ledger) Finish(tx *sql.Tx, opID, entityID string, status LedgerStatus, reason string) error {
	_, err := tx.Exec(`
		UPDATE idempotency_ledger
		SET entity_id = ?, status = ?, reason = ?, applied_at = ?
		WHERE operation_id = ?`,
		entityID, status, reason, time.Now().Unix(), opID)
	if err != nil {
		return fmt.Errorf("failed to finish ledger entry %s: %w", opID, err)
	}
	return nil
}

func (l *Ledger) get(tx *sql.Tx, opID string) (*LedgerEntry, error) {
	var entry LedgerEntry
	var entityID, reason sql.NullString
	err := tx.QueryRow(`
		SELECT operation_id, entity_type, entity_id, status, reason
		FROM idempotency_ledger WHERE operation_id = ?`, opID).
		Scan(&entry.OperationID, &entry.EntityType, &entityID, &entry.Status, &reason)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger entry %s: %w", opID, err)
	}
	entry.EntityID = entityID.String
	entry.Reason = reason.String
	return &entry, nil
}
