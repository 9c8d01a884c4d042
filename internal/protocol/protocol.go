// Package protocol defines the wire contract between the sync processor and
// the idempotent-apply service.
//
// Authentication headers and transport-level retry live in the surrounding
// HTTP plumbing; the processor only cares whether a parsed SyncResponse came
// back. The server promises that every submitted operationId appears in
// exactly one of the two result arrays, but the promise is soft: the server
// logs violations rather than failing the batch, and clients must keep
// uncovered operations queued.
package protocol

import (
	"encoding/json"

	"github.com/hearthkeep/hearthkeep/internal/models"
)

// PayloadVersion is the sync payload format version this build speaks.
const PayloadVersion = 1

// SyncStatus summarizes a batch outcome.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
)

// Item is one entity mutation inside a sync batch. Entity is the full
// snapshot at enqueue time, already shaped per its entity type; deletes
// carry only the target identity.
type Item struct {
	OperationID models.UUID        `json:"operationId"`
	Op          models.Op          `json:"op"`
	Target      models.WriteTarget `json:"target"`
	Entity      json.RawMessage    `json:"entity,omitempty"`
}

// SyncRequest is the POST /sync request body. Each entity slice is keyed by
// its type; absent types are omitted.
type SyncRequest struct {
	RequestID      models.UUID `json:"requestId,omitempty"`
	PayloadVersion int    `json:"payloadVersion"`
	ShoppingLists  []Item `json:"shoppingLists,omitempty"`
	ShoppingItems  []Item `json:"shoppingItems,omitempty"`
	Recipes        []Item `json:"recipes,omitempty"`
	Chores         []Item `json:"chores,omitempty"`
}

// ItemsFor returns the request slice for an entity type.
func (r *SyncRequest) ItemsFor(t models.EntityType) []Item {
	switch t {
	case models.EntityTypeShoppingList:
		return r.ShoppingLists
	case models.EntityTypeShoppingItem:
		return r.ShoppingItems
	case models.EntityTypeRecipe:
		return r.Recipes
	case models.EntityTypeChore:
		return r.Chores
	}
	return nil
}

// SetItemsFor sets the request slice for an entity type.
func (r *SyncRequest) SetItemsFor(t models.EntityType, items []Item) {
	switch t {
	case models.EntityTypeShoppingList:
		r.ShoppingLists = items
	case models.EntityTypeShoppingItem:
		r.ShoppingItems = items
	case models.EntityTypeRecipe:
		r.Recipes = items
	case models.EntityTypeChore:
		r.Chores = items
	}
}

// Size returns the total number of items across all entity types.
func (r *SyncRequest) Size() int {
	return len(r.ShoppingLists) + len(r.ShoppingItems) + len(r.Recipes) + len(r.Chores)
}

// Succeeded reports one applied operation. ID is the server-assigned entity
// identity; ClientLocalID echoes the client's local identity so the caller
// can link the two.
type Succeeded struct {
	OperationID   models.UUID       `json:"operationId"`
	EntityType    models.EntityType `json:"entityType"`
	ID            models.UUID       `json:"id,omitempty"`
	ClientLocalID string            `json:"clientLocalId,omitempty"`
}

// Conflict reports one rejected operation with the server's reason.
type Conflict struct {
	Type        models.EntityType `json:"type"`
	ID          string            `json:"id,omitempty"`
	OperationID models.UUID       `json:"operationId"`
	Reason      string            `json:"reason"`
}

// SyncResponse is the POST /sync response body.
type SyncResponse struct {
	Status    SyncStatus  `json:"status"`
	Succeeded []Succeeded `json:"succeeded"`
	Conflicts []Conflict  `json:"conflicts"`
}

// RealtimeEventEntityApplied is the websocket event type the apply service
// broadcasts after committing an entity mutation.
const RealtimeEventEntityApplied = "entity.applied"

// RealtimeEnvelope wraps every websocket message pushed to devices.
type RealtimeEnvelope struct {
	Type       string            `json:"type"`
	EntityType models.EntityType `json:"entityType,omitempty"`
	Entity     json.RawMessage   `json:"entity,omitempty"`
	SourceID   string            `json:"sourceId,omitempty"` // originating device
	Timestamp  models.Timestamp  `json:"timestamp"`
}
