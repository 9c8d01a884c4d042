// Package models provides data model definitions for the Hearthkeep sync core.
package models

// ConflictLog records a resolved concurrent edit for user awareness. Entries
// are informational; resolution itself is handled by the merge functions.
type ConflictLog struct {
	EntityType      EntityType `json:"entityType"`
	Key             string     `json:"key"` // server ID when known, else local ID
	LocalTimestamp  Timestamp  `json:"localTimestamp"`
	RemoteTimestamp Timestamp  `json:"remoteTimestamp"`
	Resolution      string     `json:"resolution"` // local_wins, remote_wins, tombstone
	DetectedAt      Timestamp  `json:"detectedAt"`
}
