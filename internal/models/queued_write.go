// Package models provides data model definitions for the Hearthkeep sync core.
package models

import "encoding/json"

// QueuedWriteSchemaVersion is the schema version written for new queue
// records. Version 1 records stored clientTimestamp as unix seconds and a
// flat localId/serverId pair; they are upgraded on read. Records from a
// newer, unrecognized version are excluded from processing and parked as
// permanently failed with a diagnostic.
const QueuedWriteSchemaVersion = 2

// WriteTarget identifies the entity a queued write applies to. LocalID is
// always present; ServerID appears once the entity has been created
// server-side.
type WriteTarget struct {
	LocalID  string `json:"localId"`
	ServerID string `json:"serverId,omitempty"`
}

// QueuedWrite is one pending local mutation awaiting reconciliation with the
// server of record.
type QueuedWrite struct {
	ID UUID `json:"id"`

	// OperationID is the idempotency key. It is stable for the life of the
	// operation: compaction keeps the surviving record's own OperationID and
	// never synthesizes a new one.
	OperationID UUID `json:"operationId"`

	EntityType EntityType  `json:"entityType"`
	Op         Op          `json:"op"`
	Target     WriteTarget `json:"target"`

	// Payload is the full entity snapshot at enqueue time, not a diff.
	Payload json.RawMessage `json:"payload"`

	// ClientTimestamp orders records deterministically within a batch.
	ClientTimestamp Timestamp `json:"clientTimestamp"`

	AttemptCount  int        `json:"attemptCount"`
	LastAttemptAt *Timestamp `json:"lastAttemptAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`

	SchemaVersion int `json:"schemaVersion"`
}

// FailureReason annotates a write parked in the dead-letter list.
type FailureReason string

const (
	// FailureReasonConflict means the server rejected the operation past the
	// retry threshold.
	FailureReasonConflict FailureReason = "conflict_retries_exhausted"
	// FailureReasonSchema means the stored record came from a newer schema
	// version than this build understands.
	FailureReasonSchema FailureReason = "unknown_schema_version"
)

// FailedWrite is a queued write demoted out of the active queue. It stays
// inspectable so the UI can surface it, but never blocks other processing.
type FailedWrite struct {
	Write    QueuedWrite   `json:"write"`
	Reason   FailureReason `json:"reason"`
	Detail   string        `json:"detail,omitempty"`
	FailedAt Timestamp     `json:"failedAt"`
}
