// Package models provides data model definitions for the Hearthkeep sync core.
package models

import (
	"encoding/json"
	"fmt"
)

// EntityType identifies one of the syncable household entity kinds.
type EntityType string

const (
	EntityTypeRecipe       EntityType = "recipe"
	EntityTypeShoppingList EntityType = "shopping_list"
	EntityTypeShoppingItem EntityType = "shopping_item"
	EntityTypeChore        EntityType = "chore"
)

// AllEntityTypes returns every known entity type in stable order.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityTypeRecipe,
		EntityTypeShoppingList,
		EntityTypeShoppingItem,
		EntityTypeChore,
	}
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeRecipe, EntityTypeShoppingList, EntityTypeShoppingItem, EntityTypeChore:
		return true
	}
	return false
}

// Op is the kind of mutation carried by a queued write.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Valid reports whether o is a known operation.
func (o Op) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// SyncMeta is the sync metadata every syncable entity carries.
//
// LocalID is client-assigned at creation and is the entity's permanent
// identity for the lifetime of the queue/cache relationship. ID is assigned
// by the server after the first successful create-sync. DeletedAt is a
// tombstone: its presence, not a flag, marks deletion, and it is omitted
// entirely for active records.
type SyncMeta struct {
	ID        UUID       `json:"id,omitempty"`
	LocalID   string     `json:"localId"`
	CreatedAt Timestamp  `json:"createdAt"`
	UpdatedAt Timestamp  `json:"updatedAt"`
	DeletedAt *Timestamp `json:"deletedAt,omitempty"`
}

// Meta returns the entity's sync metadata for mutation.
func (m *SyncMeta) Meta() *SyncMeta { return m }

// Deleted reports whether the entity carries a tombstone.
func (m *SyncMeta) Deleted() bool { return m.DeletedAt != nil }

// Tombstone marks the entity deleted at the given instant.
func (m *SyncMeta) Tombstone(at Timestamp) {
	m.DeletedAt = &at
	m.UpdatedAt = at
}

// Key returns the merge identity: the server ID once assigned, otherwise the
// local ID.
func (m *SyncMeta) Key() string {
	if m.ID != "" {
		return string(m.ID)
	}
	return m.LocalID
}

// Entity is implemented by every syncable household record.
type Entity interface {
	Meta() *SyncMeta
	Type() EntityType
	Validate() error
}

// Recipe is a household recipe.
type Recipe struct {
	SyncMeta
	Title        string `json:"title"`
	Instructions string `json:"instructions,omitempty"`
	Servings     int    `json:"servings,omitempty"`
	Tags         string `json:"tags,omitempty"` // Comma-separated
}

// Type implements Entity.
func (*Recipe) Type() EntityType { return EntityTypeRecipe }

// Validate implements Entity.
func (r *Recipe) Validate() error {
	if r.LocalID == "" {
		return fmt.Errorf("recipe: localId is required")
	}
	if r.Title == "" && !r.Deleted() {
		return fmt.Errorf("recipe %s: title is required", r.LocalID)
	}
	return nil
}

// ShoppingList is a named shopping list.
type ShoppingList struct {
	SyncMeta
	Name  string `json:"name"`
	Store string `json:"store,omitempty"`
}

// Type implements Entity.
func (*ShoppingList) Type() EntityType { return EntityTypeShoppingList }

// Validate implements Entity.
func (l *ShoppingList) Validate() error {
	if l.LocalID == "" {
		return fmt.Errorf("shopping list: localId is required")
	}
	if l.Name == "" && !l.Deleted() {
		return fmt.Errorf("shopping list %s: name is required", l.LocalID)
	}
	return nil
}

// ShoppingItem is a single entry on a shopping list. ListLocalID always
// references the parent list; ListID is filled once the parent has a server
// identity.
type ShoppingItem struct {
	SyncMeta
	ListID      string  `json:"listId,omitempty"`
	ListLocalID string  `json:"listLocalId"`
	Name        string  `json:"name"`
	Quantity    float64 `json:"quantity,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	Checked     bool    `json:"checked"`
}

// Type implements Entity.
func (*ShoppingItem) Type() EntityType { return EntityTypeShoppingItem }

// Validate implements Entity.
func (i *ShoppingItem) Validate() error {
	if i.LocalID == "" {
		return fmt.Errorf("shopping item: localId is required")
	}
	if i.ListLocalID == "" && i.ListID == "" {
		return fmt.Errorf("shopping item %s: parent list reference is required", i.LocalID)
	}
	if i.Name == "" && !i.Deleted() {
		return fmt.Errorf("shopping item %s: name is required", i.LocalID)
	}
	return nil
}

// Chore is a recurring or one-off household task.
type Chore struct {
	SyncMeta
	Title      string     `json:"title"`
	Notes      string     `json:"notes,omitempty"`
	AssignedTo string     `json:"assignedTo,omitempty"`
	DueAt      *Timestamp `json:"dueAt,omitempty"`
	Done       bool       `json:"done"`
}

// Type implements Entity.
func (*Chore) Type() EntityType { return EntityTypeChore }

// Validate implements Entity.
func (c *Chore) Validate() error {
	if c.LocalID == "" {
		return fmt.Errorf("chore: localId is required")
	}
	if c.Title == "" && !c.Deleted() {
		return fmt.Errorf("chore %s: title is required", c.LocalID)
	}
	return nil
}

// NewEntity returns a zero value of the concrete type for t. Payloads are
// never handled as opaque blobs past the queue/cache boundary; decoding goes
// through here so every stored shape is validated against its schema.
func NewEntity(t EntityType) (Entity, error) {
	switch t {
	case EntityTypeRecipe:
		return &Recipe{}, nil
	case EntityTypeShoppingList:
		return &ShoppingList{}, nil
	case EntityTypeShoppingItem:
		return &ShoppingItem{}, nil
	case EntityTypeChore:
		return &Chore{}, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", t)
}

// DecodeEntity decodes and validates a single entity of type t.
func DecodeEntity(t EntityType, raw json.RawMessage) (Entity, error) {
	e, err := NewEntity(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// EncodeEntity serializes an entity for storage or the wire.
func EncodeEntity(e Entity) (json.RawMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type(), err)
	}
	return data, nil
}
