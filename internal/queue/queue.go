// Package queue provides the durable write queue of pending local mutations,
// with per-entity compaction and retry bookkeeping.
//
// The queue owns its durable keys exclusively; the repository and the sync
// processor go through the public operations, never through storage, so the
// lock scope stays inside this package.
package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
	"github.com/hearthkeep/hearthkeep/internal/logging"
	"github.com/hearthkeep/hearthkeep/internal/models"
	"github.com/hearthkeep/hearthkeep/internal/uuid"
)

const (
	stateKeyQueue        = "write_queue"
	stateKeyDeadLetters  = "write_queue_failed"
	stateKeyUnrecognized = "write_queue_unrecognized"
)

// DefaultCapacity bounds the active queue. Enqueue past capacity is rejected
// with a QUEUE_FULL error rather than evicting pending work the server has
// never seen; the caller's optimistic cache write stands either way.
const DefaultCapacity = 100

// DefaultMaxAttempts is the conflict-retry threshold before a write is
// demoted to the dead-letter list.
const DefaultMaxAttempts = 3

// Store is the durable write queue. All mutations are serialized through one
// lock; compaction runs after every enqueue, so the queue never holds more
// than one record per (entityType, localId).
type Store struct {
	mu       sync.Mutex
	state    StateStore
	capacity int

	writes []models.QueuedWrite
	failed []models.FailedWrite

	// Records from a schema version newer than this build. Preserved
	// byte-for-byte, excluded from processing, written back verbatim.
	unrecognized []json.RawMessage
}

// StateStore is the durable key/value store the queue persists into.
type StateStore interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Open loads the queue from durable state, migrating old records and parking
// unrecognized ones.
func Open(state StateStore, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{state: state, capacity: capacity}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Enqueue appends a pending mutation and compacts the queue. The payload is
// the full entity snapshot at enqueue time. operationID is the idempotency
// key; it must be a valid UUID v4 and survives compaction on the surviving
// record.
func (s *Store) Enqueue(t models.EntityType, op models.Op, target models.WriteTarget, payload json.RawMessage, operationID string) (*models.QueuedWrite, error) {
	if !t.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", t)
	}
	if !op.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown op %q", op)
	}
	if target.LocalID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "target localId is required")
	}
	if err := uuid.Validate(operationID); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "operationId", err)
	}
	if op != models.OpDelete {
		if _, err := models.DecodeEntity(t, payload); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "payload rejected at queue boundary", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Capacity counts distinct keys; an enqueue that will compact into an
	// existing record is never rejected.
	if len(s.writes) >= s.capacity && !s.hasKey(t, target.LocalID) {
		logging.Warn("write queue at capacity, rejecting enqueue",
			map[string]interface{}{
				"entity_type": string(t),
				"local_id":    target.LocalID,
				"capacity":    s.capacity,
			})
		return nil, apperrors.Newf(apperrors.ErrQueueFull, "write queue is full (capacity %d)", s.capacity)
	}

	w := models.QueuedWrite{
		ID:              models.UUID(uuid.New()),
		OperationID:     models.UUID(operationID),
		EntityType:      t,
		Op:              op,
		Target:          target,
		Payload:         payload,
		ClientTimestamp: models.Now(),
		SchemaVersion:   models.QueuedWriteSchemaVersion,
	}

	s.writes = append(s.writes, w)
	s.compactLocked()

	if err := s.persistLocked(); err != nil {
		// Roll back the in-memory append so cache and queue cannot drift.
		if err2 := s.load(); err2 != nil {
			logging.Error("failed to reload queue after persist failure", err2)
		}
		return nil, err
	}

	logging.Debug("enqueued write", map[string]interface{}{
		"operation_id": string(w.OperationID),
		"entity_type":  string(t),
		"op":           string(op),
		"local_id":     target.LocalID,
		"queue_depth":  len(s.writes),
	})

	// Return the surviving record for this key; compaction may have merged
	// the new write into an earlier one.
	for i := range s.writes {
		if s.writes[i].EntityType == t && s.writes[i].Target.LocalID == target.LocalID {
			surviving := s.writes[i]
			return &surviving, nil
		}
	}
	// create followed by delete compacts to nothing
	return nil, nil
}

// GetAll returns a copy of the active queue in deterministic batch order:
// clientTimestamp, then operationId as a tiebreak.
func (s *Store) GetAll() []models.QueuedWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// GetByEntityType returns the active writes for one entity type, in batch
// order.
func (s *Store) GetByEntityType(t models.EntityType) []models.QueuedWrite {
	all := s.GetAll()
	var out []models.QueuedWrite
	for _, w := range all {
		if w.EntityType == t {
			out = append(out, w)
		}
	}
	return out
}

// Remove deletes the record with the given queue slot id.
func (s *Store) Remove(id models.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.writes {
		if s.writes[i].ID == id {
			s.writes = append(s.writes[:i], s.writes[i+1:]...)
			return s.persistLocked()
		}
	}
	return apperrors.Newf(apperrors.ErrNotFound, "queued write %s not found", id)
}

// RemoveByOperationID deletes the record carrying the given idempotency key.
// Removing an absent operation is not an error: a resolved operation may
// already have been compacted away.
func (s *Store) RemoveByOperationID(opID models.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.writes {
		if s.writes[i].OperationID == opID {
			s.writes = append(s.writes[:i], s.writes[i+1:]...)
			return s.persistLocked()
		}
	}
	return nil
}

// IncrementRetry records a failed attempt against the record carrying opID
// and returns the updated record. The caller decides whether the new
// attemptCount crosses the permanent-failure threshold.
func (s *Store) IncrementRetry(opID models.UUID, reason string) (*models.QueuedWrite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.writes {
		if s.writes[i].OperationID == opID {
			now := models.Now()
			s.writes[i].AttemptCount++
			s.writes[i].LastAttemptAt = &now
			s.writes[i].LastError = reason
			if err := s.persistLocked(); err != nil {
				return nil, err
			}
			updated := s.writes[i]
			return &updated, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrNotFound, "operation %s not found", opID)
}

// FailPermanently demotes the record carrying opID to the dead-letter list.
// The write stays inspectable but no longer blocks queue processing.
func (s *Store) FailPermanently(opID models.UUID, reason models.FailureReason, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.writes {
		if s.writes[i].OperationID == opID {
			failed := models.FailedWrite{
				Write:    s.writes[i],
				Reason:   reason,
				Detail:   detail,
				FailedAt: models.Now(),
			}
			s.writes = append(s.writes[:i], s.writes[i+1:]...)
			s.failed = append(s.failed, failed)
			logging.Warn("write permanently failed", map[string]interface{}{
				"operation_id": string(opID),
				"entity_type":  string(failed.Write.EntityType),
				"reason":       string(reason),
				"detail":       detail,
			})
			return s.persistLocked()
		}
	}
	return apperrors.Newf(apperrors.ErrNotFound, "operation %s not found", opID)
}

// Failed returns a copy of the dead-letter list.
func (s *Store) Failed() []models.FailedWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FailedWrite, len(s.failed))
	copy(out, s.failed)
	return out
}

// RetryFailed moves conflict-failed writes back into the active queue with
// reset attempt counts. Schema-failed records are not eligible; a newer
// build has to read them. Returns the number of writes requeued.
func (s *Store) RetryFailed() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []models.FailedWrite
	count := 0
	for _, f := range s.failed {
		if f.Reason != models.FailureReasonConflict || len(s.writes) >= s.capacity {
			kept = append(kept, f)
			continue
		}
		w := f.Write
		w.AttemptCount = 0
		w.LastAttemptAt = nil
		w.LastError = ""
		s.writes = append(s.writes, w)
		count++
	}
	s.failed = kept
	s.compactLocked()
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	if count > 0 {
		logging.Info("requeued failed writes", map[string]interface{}{"count": count})
	}
	return count, nil
}

// Stats is the coarse-grained queue state backing the UI sync indicator.
type Stats struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// GetStats returns current queue counters.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Pending: len(s.writes), Failed: len(s.failed)}
}

// Size returns the number of active records.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// Clear removes all active records. Dead letters and unrecognized records
// are kept.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
	logging.Info("write queue cleared")
	return s.persistLocked()
}

// hasKey reports whether an active record exists for (t, localID).
// Callers must hold s.mu.
func (s *Store) hasKey(t models.EntityType, localID string) bool {
	for i := range s.writes {
		if s.writes[i].EntityType == t && s.writes[i].Target.LocalID == localID {
			return true
		}
	}
	return false
}

func (s *Store) snapshotLocked() []models.QueuedWrite {
	out := make([]models.QueuedWrite, len(s.writes))
	copy(out, s.writes)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].ClientTimestamp.Compare(out[j].ClientTimestamp); c != 0 {
			return c < 0
		}
		return out[i].OperationID < out[j].OperationID
	})
	return out
}

func (s *Store) persistLocked() error {
	active, err := json.Marshal(s.writes)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to encode queue", err)
	}
	if err := s.state.Put(stateKeyQueue, active); err != nil {
		return err
	}

	dead, err := json.Marshal(s.failed)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to encode dead letters", err)
	}
	if err := s.state.Put(stateKeyDeadLetters, dead); err != nil {
		return err
	}

	if len(s.unrecognized) == 0 {
		return s.state.Delete(stateKeyUnrecognized)
	}
	raw, err := json.Marshal(s.unrecognized)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to encode unrecognized records", err)
	}
	return s.state.Put(stateKeyUnrecognized, raw)
}

func (s *Store) load() error {
	s.writes = nil
	s.failed = nil
	s.unrecognized = nil

	if data, ok, err := s.state.Get(stateKeyQueue); err != nil {
		return err
	} else if ok {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "corrupt write queue", err)
		}
		for _, raw := range raws {
			w, err := migrateQueuedWrite(raw)
			if err != nil {
				if apperrors.Is(err, apperrors.ErrSchemaVersion) {
					logging.Error("queued write from a newer schema version, excluded from processing", err)
					s.unrecognized = append(s.unrecognized, raw)
					continue
				}
				return err
			}
			s.writes = append(s.writes, *w)
		}
	}

	if data, ok, err := s.state.Get(stateKeyDeadLetters); err != nil {
		return err
	} else if ok {
		if err := json.Unmarshal(data, &s.failed); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "corrupt dead-letter list", err)
		}
	}

	if data, ok, err := s.state.Get(stateKeyUnrecognized); err != nil {
		return err
	} else if ok {
		var parked []json.RawMessage
		if err := json.Unmarshal(data, &parked); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "corrupt unrecognized list", err)
		}
		s.unrecognized = append(s.unrecognized, parked...)
	}

	// Read-time compaction keeps the invariant even if an old build wrote
	// duplicates.
	s.compactLocked()
	return nil
}

// versionProbe extracts just the schema version for migration dispatch.
type versionProbe struct {
	SchemaVersion int `json:"schemaVersion"`
}

// legacyQueuedWrite is the version-1 record shape: a flat localId/serverId
// pair instead of a target object.
type legacyQueuedWrite struct {
	ID              models.UUID       `json:"id"`
	OperationID     models.UUID       `json:"operationId"`
	EntityType      models.EntityType `json:"entityType"`
	Op              models.Op         `json:"op"`
	LocalID         string            `json:"localId"`
	ServerID        string            `json:"serverId,omitempty"`
	Payload         json.RawMessage   `json:"payload"`
	ClientTimestamp models.Timestamp  `json:"clientTimestamp"`
	AttemptCount    int               `json:"attemptCount"`
	LastError       string            `json:"lastError,omitempty"`
}

// migrateQueuedWrite applies forward-compatible transforms on read.
func migrateQueuedWrite(raw json.RawMessage) (*models.QueuedWrite, error) {
	var probe versionProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "undecodable queued write", err)
	}

	switch {
	case probe.SchemaVersion > models.QueuedWriteSchemaVersion:
		return nil, apperrors.Newf(apperrors.ErrSchemaVersion,
			"queued write schemaVersion %d is newer than supported %d; record preserved but marked failed_permanent",
			probe.SchemaVersion, models.QueuedWriteSchemaVersion)

	case probe.SchemaVersion == models.QueuedWriteSchemaVersion:
		var w models.QueuedWrite
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "undecodable queued write", err)
		}
		return &w, nil

	default:
		// Version 0/1: upgrade in place.
		var legacy legacyQueuedWrite
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "undecodable legacy queued write", err)
		}
		return &models.QueuedWrite{
			ID:              legacy.ID,
			OperationID:     legacy.OperationID,
			EntityType:      legacy.EntityType,
			Op:              legacy.Op,
			Target:          models.WriteTarget{LocalID: legacy.LocalID, ServerID: legacy.ServerID},
			Payload:         legacy.Payload,
			ClientTimestamp: legacy.ClientTimestamp,
			AttemptCount:    legacy.AttemptCount,
			LastError:       legacy.LastError,
			SchemaVersion:   models.QueuedWriteSchemaVersion,
		}, nil
	}
}

// compactLocked collapses the queue to at most one record per
// (entityType, localId) by merging, never duplicating. Applying it to an
// already-compacted queue is a no-op. Callers must hold s.mu.
func (s *Store) compactLocked() {
	type bucketKey struct {
		t       models.EntityType
		localID string
	}

	var order []bucketKey
	surviving := make(map[bucketKey]*models.QueuedWrite)

	for i := range s.writes {
		w := s.writes[i]
		key := bucketKey{w.EntityType, w.Target.LocalID}
		existing, ok := surviving[key]
		if !ok {
			order = append(order, key)
			copied := w
			surviving[key] = &copied
			continue
		}

		merged, dropBoth := mergeWrites(*existing, w)
		if dropBoth {
			delete(surviving, key)
			for j, k := range order {
				if k == key {
					order = append(order[:j], order[j+1:]...)
					break
				}
			}
			continue
		}
		surviving[key] = merged
	}

	before := len(s.writes)
	compacted := make([]models.QueuedWrite, 0, len(order))
	for _, key := range order {
		compacted = append(compacted, *surviving[key])
	}
	s.writes = compacted

	if after := len(s.writes); after != before {
		logging.Debug("queue compacted", map[string]interface{}{
			"before": before,
			"after":  after,
		})
	}
}

// mergeWrites folds a later write into the surviving record for its key.
// The surviving record always keeps its own operationId; compaction never
// synthesizes a new one.
func mergeWrites(existing, incoming models.QueuedWrite) (*models.QueuedWrite, bool) {
	switch {
	case existing.Op == models.OpCreate && incoming.Op == models.OpUpdate:
		// create + update: still a create, with the latest snapshot.
		existing.Payload = incoming.Payload
		existing.Target.ServerID = pickServerID(existing, incoming)
		return &existing, false

	case existing.Op == models.OpUpdate && incoming.Op == models.OpUpdate:
		// update + update: the earliest surviving update keeps its id, so
		// repeated compaction is stable.
		existing.Payload = incoming.Payload
		existing.Target.ServerID = pickServerID(existing, incoming)
		return &existing, false

	case existing.Op == models.OpCreate && incoming.Op == models.OpDelete:
		// The entity never reached the server: net no-op.
		return nil, true

	case existing.Op == models.OpDelete && incoming.Op == models.OpUpdate:
		// delete wins; the update is discarded.
		return &existing, false

	case existing.Op == models.OpDelete && incoming.Op == models.OpDelete:
		return &existing, false

	case existing.Op == models.OpUpdate && incoming.Op == models.OpDelete:
		// The entity exists server-side: the delete supersedes the update
		// and carries its own operationId.
		return &incoming, false

	case existing.Op == models.OpDelete && incoming.Op == models.OpCreate:
		// Re-creation under a reused localId. The create is the newer
		// intent and survives with its own operationId.
		return &incoming, false

	default:
		// create+create / update after create with matching op: keep the
		// earlier record, take the later snapshot.
		existing.Payload = incoming.Payload
		existing.Target.ServerID = pickServerID(existing, incoming)
		return &existing, false
	}
}

func pickServerID(a, b models.QueuedWrite) string {
	if b.Target.ServerID != "" {
		return b.Target.ServerID
	}
	return a.Target.ServerID
}

// String implements fmt.Stringer for debug logging.
func (s *Store) String() string {
	st := s.GetStats()
	return fmt.Sprintf("queue{pending=%d failed=%d}", st.Pending, st.Failed)
}
