// Package models provides data model definitions for the Hearthkeep sync core.
package models

import "time"

// SyncCheckpoint is the crash-safety record for one in-flight batch. It is
// written immediately before the batch is sent and cleared only once every
// operation it names has been resolved. A checkpoint whose operations have
// vanished from the compacted queue, or whose age exceeds its TTL, is
// discarded as stale; discarding is safe because every operation is
// idempotent server-side.
type SyncCheckpoint struct {
	RequestID            UUID       `json:"requestId"`
	InFlightOperationIDs []UUID     `json:"inFlightOperationIds"`
	CreatedAt            Timestamp  `json:"createdAt"`
	AttemptCount         int        `json:"attemptCount"`
	LastAttemptAt        *Timestamp `json:"lastAttemptAt,omitempty"`
	TTLMillis            int64      `json:"ttlMs"`
}

// Contains reports whether opID was part of the checkpointed batch.
func (c *SyncCheckpoint) Contains(opID UUID) bool {
	for _, id := range c.InFlightOperationIDs {
		if id == opID {
			return true
		}
	}
	return false
}

// Expired reports whether the checkpoint has outlived its TTL at now.
func (c *SyncCheckpoint) Expired(now Timestamp) bool {
	ttl := time.Duration(c.TTLMillis) * time.Millisecond
	return now.Sub(c.CreatedAt) > ttl
}
