package models

import (
	"encoding/json"
	"testing"
)

func TestValidateRequiresLocalID(t *testing.T) {
	entities := []Entity{
		&Recipe{Title: "Stew"},
		&ShoppingList{Name: "Weekly"},
		&ShoppingItem{Name: "Milk", ListLocalID: "l1"},
		&Chore{Title: "Dishes"},
	}
	for _, e := range entities {
		if err := e.Validate(); err == nil {
			t.Errorf("%s passed validation without localId", e.Type())
		}
	}
}

func TestValidateTombstoneSkipsContentFields(t *testing.T) {
	at := Now()
	r := &Recipe{SyncMeta: SyncMeta{LocalID: "l1"}}
	r.Tombstone(at)
	if err := r.Validate(); err != nil {
		t.Errorf("tombstoned recipe without title rejected: %v", err)
	}

	active := &Recipe{SyncMeta: SyncMeta{LocalID: "l1"}}
	if err := active.Validate(); err == nil {
		t.Error("active recipe without title accepted")
	}
}

func TestShoppingItemRequiresParentReference(t *testing.T) {
	item := &ShoppingItem{SyncMeta: SyncMeta{LocalID: "l1"}, Name: "Milk"}
	if err := item.Validate(); err == nil {
		t.Error("item without parent reference accepted")
	}

	item.ListLocalID = "list-l1"
	if err := item.Validate(); err != nil {
		t.Errorf("item with local parent rejected: %v", err)
	}

	byServer := &ShoppingItem{SyncMeta: SyncMeta{LocalID: "l2"}, Name: "Eggs", ListID: "srv-1"}
	if err := byServer.Validate(); err != nil {
		t.Errorf("item with server parent rejected: %v", err)
	}
}

func TestTombstoneSetsDeletedAndUpdated(t *testing.T) {
	at := Now()
	m := &SyncMeta{LocalID: "l1", UpdatedAt: at.Add(-1)}
	m.Tombstone(at)
	if !m.Deleted() {
		t.Fatal("not deleted")
	}
	if m.UpdatedAt.Compare(at) != 0 {
		t.Error("updatedAt not advanced to deletion instant")
	}
}

func TestSyncMetaKeyPrefersServerID(t *testing.T) {
	m := &SyncMeta{LocalID: "l1"}
	if m.Key() != "l1" {
		t.Errorf("key = %q", m.Key())
	}
	m.ID = "srv-1"
	if m.Key() != "srv-1" {
		t.Errorf("key = %q", m.Key())
	}
}

func TestDecodeEntityPreservesKnownFieldsAndValidates(t *testing.T) {
	raw := json.RawMessage(`{"localId":"l1","createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z","title":"Stew","servings":4}`)
	e, err := DecodeEntity(EntityTypeRecipe, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r := e.(*Recipe)
	if r.Title != "Stew" || r.Servings != 4 {
		t.Errorf("decoded = %+v", r)
	}

	if _, err := DecodeEntity(EntityTypeRecipe, json.RawMessage(`{"localId":"l1"}`)); err == nil {
		t.Error("invalid payload accepted")
	}
	if _, err := DecodeEntity("appliance", raw); err == nil {
		t.Error("unknown entity type accepted")
	}
}

func TestSyncMetaServerIDRoundTrip(t *testing.T) {
	r := &Recipe{SyncMeta: SyncMeta{LocalID: "l1"}, Title: "Stew"}
	r.Meta().ID = UUID("srv-1")

	raw, err := EncodeEntity(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !json.Valid(raw) {
		t.Fatalf("invalid json: %s", raw)
	}

	var wire struct {
		ID      string `json:"id"`
		LocalID string `json:"localId"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire.ID != "srv-1" || wire.LocalID != "l1" {
		t.Errorf("wire ids = %q/%q", wire.ID, wire.LocalID)
	}

	back, err := DecodeEntity(EntityTypeRecipe, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Meta().ID != UUID("srv-1") {
		t.Errorf("decoded id = %q", back.Meta().ID)
	}
	if back.Meta().Key() != "srv-1" {
		t.Errorf("key = %q, want the server id once assigned", back.Meta().Key())
	}
}
