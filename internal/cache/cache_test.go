package cache

import (
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
	"github.com/hearthkeep/hearthkeep/internal/models"
)

type memState struct {
	data map[string][]byte
}

func newMemState() *memState { return &memState{data: map[string][]byte{}} }

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

func newRecipe(localID, title string) *models.Recipe {
	r := &models.Recipe{Title: title}
	r.Meta().LocalID = localID
	r.Meta().CreatedAt = models.Now()
	r.Meta().UpdatedAt = models.Now()
	return r
}

func TestSnapshotEmptyCollection(t *testing.T) {
	c := New(newMemState())
	got, err := Snapshot[*models.Recipe](c, models.EntityTypeRecipe)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty snapshot, got %d", len(got))
	}
}

func TestReplaceAndSnapshot(t *testing.T) {
	c := New(newMemState())

	want := []*models.Recipe{newRecipe("l1", "soup"), newRecipe("l2", "stew")}
	if err := Replace(c, models.EntityTypeRecipe, want); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := Snapshot[*models.Recipe](c, models.EntityTypeRecipe)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entities, want 2", len(got))
	}
	if got[0].Title != "soup" || got[1].Title != "stew" {
		t.Errorf("titles = %q, %q", got[0].Title, got[1].Title)
	}
}

func TestUpsertMatchesByLocalThenServerID(t *testing.T) {
	c := New(newMemState())

	r := newRecipe("l1", "soup")
	if err := Upsert(c, models.EntityTypeRecipe, r); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Same localId: replaces in place.
	edited := newRecipe("l1", "better soup")
	if err := Upsert(c, models.EntityTypeRecipe, edited); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ := Snapshot[*models.Recipe](c, models.EntityTypeRecipe)
	if len(got) != 1 {
		t.Fatalf("got %d entities, want 1", len(got))
	}
	if got[0].Title != "better soup" {
		t.Errorf("title = %q", got[0].Title)
	}

	// Server id assigned after sync still matches the same row via localId.
	confirmed := newRecipe("l1", "better soup")
	confirmed.Meta().ID = "srv-1"
	if err := Upsert(c, models.EntityTypeRecipe, confirmed); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = Snapshot[*models.Recipe](c, models.EntityTypeRecipe)
	if len(got) != 1 {
		t.Fatalf("got %d entities after id assignment, want 1", len(got))
	}
	if string(got[0].Meta().ID) != "srv-1" {
		t.Errorf("id = %q", got[0].Meta().ID)
	}
}

func TestRemoveByEitherKey(t *testing.T) {
	c := New(newMemState())

	r := newRecipe("l1", "soup")
	r.Meta().ID = "srv-1"
	if err := Upsert(c, models.EntityTypeRecipe, r); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := c.Remove(models.EntityTypeRecipe, "srv-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ := Snapshot[*models.Recipe](c, models.EntityTypeRecipe)
	if len(got) != 0 {
		t.Errorf("got %d entities after remove, want 0", len(got))
	}

	// Absent key is a no-op.
	if err := c.Remove(models.EntityTypeRecipe, "missing"); err != nil {
		t.Errorf("remove absent: %v", err)
	}
}

func TestChangeFeedSignalsWithoutPayload(t *testing.T) {
	c := New(newMemState())

	ch, cancel := c.Feed().Subscribe(models.EntityTypeRecipe)
	defer cancel()

	if err := Upsert(c, models.EntityTypeRecipe, newRecipe("l1", "soup")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change signal after upsert")
	}

	// A chore write must not signal a recipe subscriber.
	chore := &models.Chore{Title: "sweep"}
	chore.Meta().LocalID = "c1"
	chore.Meta().CreatedAt = models.Now()
	chore.Meta().UpdatedAt = models.Now()
	if err := Upsert(c, models.EntityTypeChore, chore); err != nil {
		t.Fatalf("upsert chore: %v", err)
	}
	select {
	case <-ch:
		t.Fatal("recipe subscriber signalled for a chore write")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChangeFeedCoalescesBursts(t *testing.T) {
	c := New(newMemState())
	ch, cancel := c.Feed().Subscribe(models.EntityTypeRecipe)
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := Upsert(c, models.EntityTypeRecipe, newRecipe("l1", "soup")); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	// At most one pending signal; draining it leaves the channel empty.
	<-ch
	select {
	case <-ch:
		t.Error("burst produced more than one pending signal")
	default:
	}
}

func TestBareArrayUpgradedOnRead(t *testing.T) {
	state := newMemState()
	legacy := `[{"localId":"l1","title":"old soup","createdAt":"2024-01-01T00:00:00Z","updatedAt":"2024-01-01T00:00:00Z"}]`
	if err := state.Put(cacheKey(models.EntityTypeRecipe), []byte(legacy)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c := New(state)
	got, err := Snapshot[*models.Recipe](c, models.EntityTypeRecipe)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(got) != 1 || got[0].Title != "old soup" {
		t.Fatalf("got %+v", got)
	}

	// The stored form is now enveloped.
	raw, _, _ := state.Get(cacheKey(models.EntityTypeRecipe))
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.SchemaVersion != SchemaVersion {
		t.Errorf("write-back did not envelope the snapshot: %s", raw)
	}
}

func TestNewerEnvelopeRefusedNotClobbered(t *testing.T) {
	state := newMemState()
	future := `{"schemaVersion":9,"entities":[],"hologram":true}`
	if err := state.Put(cacheKey(models.EntityTypeRecipe), []byte(future)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c := New(state)
	if _, err := Snapshot[*models.Recipe](c, models.EntityTypeRecipe); !apperrors.Is(err, apperrors.ErrSchemaVersion) {
		t.Fatalf("expected schema version error, got %v", err)
	}
	if err := Replace(c, models.EntityTypeRecipe, []*models.Recipe{newRecipe("l1", "x")}); !apperrors.Is(err, apperrors.ErrSchemaVersion) {
		t.Fatalf("replace must refuse newer envelope, got %v", err)
	}
	raw, _, _ := state.Get(cacheKey(models.EntityTypeRecipe))
	if string(raw) != future {
		t.Errorf("newer envelope was modified: %s", raw)
	}
}

func TestLastSyncedAtRoundTrip(t *testing.T) {
	c := New(newMemState())

	if got, err := c.LastSyncedAt(models.EntityTypeRecipe); err != nil || got != nil {
		t.Fatalf("expected nil before first sync, got %v, %v", got, err)
	}

	ts := models.Now()
	if err := c.SetLastSyncedAt(models.EntityTypeRecipe, ts); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.LastSyncedAt(models.EntityTypeRecipe)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Compare(ts) != 0 {
		t.Errorf("got %v, want %v", got, ts)
	}
}
