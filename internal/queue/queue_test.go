package queue

import (
	"encoding/json"
	"fmt"
	"testing"

	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
	"github.com/hearthkeep/hearthkeep/internal/models"
	"github.com/hearthkeep/hearthkeep/internal/uuid"
)

// memState is an in-memory StateStore for queue tests.
type memState struct {
	data map[string][]byte
}

func newMemState() *memState {
	return &memState{data: map[string][]byte{}}
}

func (m *memState) Get(key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memState) Put(key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *memState) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func recipePayload(t *testing.T, title string) json.RawMessage {
	t.Helper()
	r := &models.Recipe{Title: title}
	r.Meta().LocalID = "local-1"
	r.Meta().CreatedAt = models.Now()
	r.Meta().UpdatedAt = models.Now()
	raw, err := models.EncodeEntity(r)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return raw
}

func mustOpen(t *testing.T, state StateStore) *Store {
	t.Helper()
	s, err := Open(state, 0)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return s
}

func TestEnqueueAndGetAll(t *testing.T) {
	s := mustOpen(t, newMemState())

	op := uuid.New()
	w, err := s.Enqueue(models.EntityTypeRecipe, models.OpCreate,
		models.WriteTarget{LocalID: "local-1"}, recipePayload(t, "soup"), op)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if w == nil {
		t.Fatal("expected a surviving record")
	}
	if string(w.OperationID) != op {
		t.Errorf("operationId = %s, want %s", w.OperationID, op)
	}
	if w.SchemaVersion != models.QueuedWriteSchemaVersion {
		t.Errorf("schemaVersion = %d, want %d", w.SchemaVersion, models.QueuedWriteSchemaVersion)
	}

	all := s.GetAll()
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
	if all[0].EntityType != models.EntityTypeRecipe {
		t.Errorf("entityType = %s", all[0].EntityType)
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	s := mustOpen(t, newMemState())

	cases := []struct {
		name string
		t    models.EntityType
		op   models.Op
		tgt  models.WriteTarget
		raw  json.RawMessage
		opID string
		code apperrors.ErrorCode
	}{
		{"bad entity type", "widget", models.OpCreate, models.WriteTarget{LocalID: "l"}, recipePayload(t, "a"), uuid.New(), apperrors.ErrInvalid},
		{"bad op", models.EntityTypeRecipe, "upsert", models.WriteTarget{LocalID: "l"}, recipePayload(t, "a"), uuid.New(), apperrors.ErrInvalid},
		{"missing localId", models.EntityTypeRecipe, models.OpCreate, models.WriteTarget{}, recipePayload(t, "a"), uuid.New(), apperrors.ErrInvalid},
		{"bad operationId", models.EntityTypeRecipe, models.OpCreate, models.WriteTarget{LocalID: "l"}, recipePayload(t, "a"), "nope", apperrors.ErrInvalid},
		{"invalid payload", models.EntityTypeRecipe, models.OpCreate, models.WriteTarget{LocalID: "l"}, json.RawMessage(`{"title":""}`), uuid.New(), apperrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Enqueue(tc.t, tc.op, tc.tgt, tc.raw, tc.opID)
			if err == nil {
				t.Fatal("expected error")
			}
			if !apperrors.Is(err, tc.code) {
				t.Errorf("error code = %v, want %s", err, tc.code)
			}
		})
	}
	if s.Size() != 0 {
		t.Errorf("queue should be empty, has %d", s.Size())
	}
}

// Rapid edits offline: a create followed by updates must collapse to a
// single create carrying the latest payload and the create's operationId.
func TestCompactionCreateThenUpdates(t *testing.T) {
	s := mustOpen(t, newMemState())

	createOp := uuid.New()
	if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpCreate,
		models.WriteTarget{LocalID: "local-1"}, recipePayload(t, "v1"), createOp); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	for i := 2; i <= 4; i++ {
		w, err := s.Enqueue(models.EntityTypeRecipe, models.OpUpdate,
			models.WriteTarget{LocalID: "local-1"}, recipePayload(t, fmt.Sprintf("v%d", i)), uuid.New())
		if err != nil {
			t.Fatalf("enqueue update %d: %v", i, err)
		}
		if w.Op != models.OpCreate {
			t.Errorf("surviving op = %s, want create", w.Op)
		}
		if string(w.OperationID) != createOp {
			t.Errorf("surviving operationId changed to %s", w.OperationID)
		}
	}

	all := s.GetAll()
	if len(all) != 1 {
		t.Fatalf("expected 1 compacted record, got %d", len(all))
	}
	var got models.Recipe
	if err := json.Unmarshal(all[0].Payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Title != "v4" {
		t.Errorf("payload title = %q, want v4", got.Title)
	}
}

func TestCompactionUpdateThenUpdates(t *testing.T) {
	s := mustOpen(t, newMemState())

	firstOp := uuid.New()
	if _, err := s.Enqueue(models.EntityTypeChore, models.OpUpdate,
		models.WriteTarget{LocalID: "c1", ServerID: "srv-1"}, chorePayload(t, "sweep"), firstOp); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	w, err := s.Enqueue(models.EntityTypeChore, models.OpUpdate,
		models.WriteTarget{LocalID: "c1", ServerID: "srv-1"}, chorePayload(t, "mop"), uuid.New())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if string(w.OperationID) != firstOp {
		t.Errorf("surviving operationId = %s, want earliest update %s", w.OperationID, firstOp)
	}
	if s.Size() != 1 {
		t.Errorf("size = %d, want 1", s.Size())
	}
}

func chorePayload(t *testing.T, title string) json.RawMessage {
	t.Helper()
	c := &models.Chore{Title: title}
	c.Meta().LocalID = "c1"
	c.Meta().CreatedAt = models.Now()
	c.Meta().UpdatedAt = models.Now()
	raw, err := models.EncodeEntity(c)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return raw
}

// An entity created and deleted before any sync never reaches the server.
func TestCompactionCreateThenDelete(t *testing.T) {
	s := mustOpen(t, newMemState())

	if _, err := s.Enqueue(models.EntityTypeShoppingItem, models.OpCreate,
		models.WriteTarget{LocalID: "item-1"}, itemPayload(t, "milk"), uuid.New()); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	w, err := s.Enqueue(models.EntityTypeShoppingItem, models.OpDelete,
		models.WriteTarget{LocalID: "item-1"}, nil, uuid.New())
	if err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}
	if w != nil {
		t.Errorf("expected both records dropped, got %+v", w)
	}
	if s.Size() != 0 {
		t.Errorf("size = %d, want 0", s.Size())
	}
}

func itemPayload(t *testing.T, name string) json.RawMessage {
	t.Helper()
	it := &models.ShoppingItem{Name: name, ListLocalID: "list-1"}
	it.Meta().LocalID = "item-1"
	it.Meta().CreatedAt = models.Now()
	it.Meta().UpdatedAt = models.Now()
	raw, err := models.EncodeEntity(it)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return raw
}

func TestCompactionDeleteWinsOverUpdate(t *testing.T) {
	s := mustOpen(t, newMemState())

	deleteOp := uuid.New()
	if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpDelete,
		models.WriteTarget{LocalID: "local-1", ServerID: "srv-9"}, nil, deleteOp); err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}
	w, err := s.Enqueue(models.EntityTypeRecipe, models.OpUpdate,
		models.WriteTarget{LocalID: "local-1", ServerID: "srv-9"}, recipePayload(t, "late edit"), uuid.New())
	if err != nil {
		t.Fatalf("enqueue update: %v", err)
	}
	if w.Op != models.OpDelete {
		t.Errorf("surviving op = %s, want delete", w.Op)
	}
	if string(w.OperationID) != deleteOp {
		t.Errorf("surviving operationId = %s, want %s", w.OperationID, deleteOp)
	}
}

func TestCompactionUpdateThenDelete(t *testing.T) {
	s := mustOpen(t, newMemState())

	if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpUpdate,
		models.WriteTarget{LocalID: "local-1", ServerID: "srv-9"}, recipePayload(t, "edit"), uuid.New()); err != nil {
		t.Fatalf("enqueue update: %v", err)
	}
	deleteOp := uuid.New()
	w, err := s.Enqueue(models.EntityTypeRecipe, models.OpDelete,
		models.WriteTarget{LocalID: "local-1", ServerID: "srv-9"}, nil, deleteOp)
	if err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}
	if w.Op != models.OpDelete {
		t.Errorf("surviving op = %s, want delete", w.Op)
	}
	if string(w.OperationID) != deleteOp {
		t.Errorf("delete must keep its own operationId, got %s", w.OperationID)
	}
	if s.Size() != 1 {
		t.Errorf("size = %d, want 1", s.Size())
	}
}

func TestCompactionDeleteThenDelete(t *testing.T) {
	s := mustOpen(t, newMemState())

	firstOp := uuid.New()
	if _, err := s.Enqueue(models.EntityTypeChore, models.OpDelete,
		models.WriteTarget{LocalID: "c1", ServerID: "srv-1"}, nil, firstOp); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	w, err := s.Enqueue(models.EntityTypeChore, models.OpDelete,
		models.WriteTarget{LocalID: "c1", ServerID: "srv-1"}, nil, uuid.New())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if s.Size() != 1 {
		t.Fatalf("size = %d, want 1", s.Size())
	}
	if string(w.OperationID) != firstOp {
		t.Errorf("surviving operationId = %s, want %s", w.OperationID, firstOp)
	}
}

// Compaction is keyed by (entityType, localId): the same localId under two
// entity types must not collapse.
func TestCompactionScopedByEntityType(t *testing.T) {
	s := mustOpen(t, newMemState())

	if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpCreate,
		models.WriteTarget{LocalID: "local-1"}, recipePayload(t, "soup"), uuid.New()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Enqueue(models.EntityTypeChore, models.OpCreate,
		models.WriteTarget{LocalID: "local-1"}, chorePayload(t, "sweep"), uuid.New()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if s.Size() != 2 {
		t.Errorf("size = %d, want 2", s.Size())
	}
}

func TestCapacityRejection(t *testing.T) {
	state := newMemState()
	s, err := Open(state, 2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpCreate,
			models.WriteTarget{LocalID: fmt.Sprintf("r-%d", i)}, recipePayload(t, "x"), uuid.New()); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	_, err = s.Enqueue(models.EntityTypeRecipe, models.OpCreate,
		models.WriteTarget{LocalID: "r-overflow"}, recipePayload(t, "x"), uuid.New())
	if !apperrors.Is(err, apperrors.ErrQueueFull) {
		t.Fatalf("expected QUEUE_FULL, got %v", err)
	}

	// A write that compacts into an existing key is still accepted at
	// capacity.
	if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpUpdate,
		models.WriteTarget{LocalID: "r-0"}, recipePayload(t, "newer"), uuid.New()); err != nil {
		t.Errorf("compacting enqueue at capacity rejected: %v", err)
	}
	if s.Size() != 2 {
		t.Errorf("size = %d, want 2", s.Size())
	}
}

func TestRemoveByOperationID(t *testing.T) {
	s := mustOpen(t, newMemState())

	op := uuid.New()
	if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpCreate,
		models.WriteTarget{LocalID: "local-1"}, recipePayload(t, "soup"), op); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.RemoveByOperationID(models.UUID(op)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Size() != 0 {
		t.Errorf("size = %d, want 0", s.Size())
	}
	// Absent operation is not an error.
	if err := s.RemoveByOperationID(models.UUID(uuid.New())); err != nil {
		t.Errorf("removing absent operation: %v", err)
	}
}

func TestIncrementRetryAndFailPermanently(t *testing.T) {
	s := mustOpen(t, newMemState())

	op := uuid.New()
	if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpCreate,
		models.WriteTarget{LocalID: "local-1"}, recipePayload(t, "soup"), op); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for want := 1; want <= DefaultMaxAttempts; want++ {
		w, err := s.IncrementRetry(models.UUID(op), "version conflict")
		if err != nil {
			t.Fatalf("increment %d: %v", want, err)
		}
		if w.AttemptCount != want {
			t.Errorf("attemptCount = %d, want %d", w.AttemptCount, want)
		}
		if w.LastAttemptAt == nil {
			t.Error("lastAttemptAt not stamped")
		}
	}

	if err := s.FailPermanently(models.UUID(op), models.FailureReasonConflict, "retries exhausted"); err != nil {
		t.Fatalf("fail permanently: %v", err)
	}
	if s.Size() != 0 {
		t.Errorf("active size = %d, want 0", s.Size())
	}
	failed := s.Failed()
	if len(failed) != 1 {
		t.Fatalf("failed count = %d, want 1", len(failed))
	}
	if failed[0].Reason != models.FailureReasonConflict {
		t.Errorf("reason = %s", failed[0].Reason)
	}
}

func TestRetryFailedRequeuesConflictsOnly(t *testing.T) {
	s := mustOpen(t, newMemState())

	conflictOp := uuid.New()
	if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpCreate,
		models.WriteTarget{LocalID: "local-1"}, recipePayload(t, "soup"), conflictOp); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.FailPermanently(models.UUID(conflictOp), models.FailureReasonConflict, "retries exhausted"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	schemaOp := uuid.New()
	if _, err := s.Enqueue(models.EntityTypeChore, models.OpCreate,
		models.WriteTarget{LocalID: "c1"}, chorePayload(t, "sweep"), schemaOp); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.FailPermanently(models.UUID(schemaOp), models.FailureReasonSchema, "from the future"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	n, err := s.RetryFailed()
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued = %d, want 1", n)
	}
	if s.Size() != 1 {
		t.Errorf("active size = %d, want 1", s.Size())
	}
	all := s.GetAll()
	if all[0].AttemptCount != 0 {
		t.Errorf("attemptCount after requeue = %d, want 0", all[0].AttemptCount)
	}
	remaining := s.Failed()
	if len(remaining) != 1 || remaining[0].Reason != models.FailureReasonSchema {
		t.Errorf("schema-failed record should stay dead, got %+v", remaining)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	state := newMemState()
	s := mustOpen(t, state)

	op := uuid.New()
	if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpCreate,
		models.WriteTarget{LocalID: "local-1"}, recipePayload(t, "soup"), op); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	reopened := mustOpen(t, state)
	all := reopened.GetAll()
	if len(all) != 1 {
		t.Fatalf("got %d records after reopen, want 1", len(all))
	}
	if string(all[0].OperationID) != op {
		t.Errorf("operationId = %s, want %s", all[0].OperationID, op)
	}
}

func TestLegacySchemaUpgradeOnRead(t *testing.T) {
	state := newMemState()

	legacy := fmt.Sprintf(`[{
		"id": %q, "operationId": %q,
		"entityType": "recipe", "op": "update",
		"localId": "local-1", "serverId": "srv-1",
		"payload": {"title": "old soup"},
		"clientTimestamp": 1700000000,
		"attemptCount": 1
	}]`, uuid.New(), uuid.New())
	if err := state.Put(stateKeyQueue, []byte(legacy)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := mustOpen(t, state)
	all := s.GetAll()
	if len(all) != 1 {
		t.Fatalf("got %d records, want 1", len(all))
	}
	w := all[0]
	if w.SchemaVersion != models.QueuedWriteSchemaVersion {
		t.Errorf("schemaVersion = %d, want %d", w.SchemaVersion, models.QueuedWriteSchemaVersion)
	}
	if w.Target.LocalID != "local-1" || w.Target.ServerID != "srv-1" {
		t.Errorf("target = %+v", w.Target)
	}
	if w.AttemptCount != 1 {
		t.Errorf("attemptCount = %d, want 1", w.AttemptCount)
	}
	if w.ClientTimestamp.Time().Unix() != 1700000000 {
		t.Errorf("clientTimestamp = %v", w.ClientTimestamp)
	}
}

func TestUnrecognizedSchemaVersionParkedNotDeleted(t *testing.T) {
	state := newMemState()

	future := fmt.Sprintf(`[{
		"schemaVersion": 99,
		"id": %q, "operationId": %q,
		"entityType": "recipe", "op": "create",
		"quantumTarget": {"shard": 7}
	}]`, uuid.New(), uuid.New())
	if err := state.Put(stateKeyQueue, []byte(future)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := mustOpen(t, state)
	if s.Size() != 0 {
		t.Errorf("future record must not be processed, size = %d", s.Size())
	}

	// The raw bytes survive a persist cycle untouched.
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	raw, ok, err := state.Get(stateKeyUnrecognized)
	if err != nil || !ok {
		t.Fatalf("unrecognized records lost: ok=%v err=%v", ok, err)
	}
	var parked []map[string]interface{}
	if err := json.Unmarshal(raw, &parked); err != nil {
		t.Fatalf("decode parked: %v", err)
	}
	if len(parked) != 1 {
		t.Fatalf("parked = %d, want 1", len(parked))
	}
	if _, ok := parked[0]["quantumTarget"]; !ok {
		t.Error("unknown fields must be preserved byte-for-byte")
	}
}

// Compacting twice yields the same queue as compacting once.
func TestCompactionIdempotent(t *testing.T) {
	s := mustOpen(t, newMemState())

	if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpCreate,
		models.WriteTarget{LocalID: "local-1"}, recipePayload(t, "v1"), uuid.New()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Enqueue(models.EntityTypeRecipe, models.OpUpdate,
		models.WriteTarget{LocalID: "local-1"}, recipePayload(t, "v2"), uuid.New()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	before := s.GetAll()
	s.mu.Lock()
	s.compactLocked()
	s.mu.Unlock()
	after := s.GetAll()

	if len(before) != len(after) {
		t.Fatalf("lengths differ: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].OperationID != after[i].OperationID || string(before[i].Payload) != string(after[i].Payload) {
			t.Errorf("record %d changed across idempotent compaction", i)
		}
	}
}
