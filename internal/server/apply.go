// Package server implements the idempotent-apply service: the batch /sync
// endpoint, the single-entity endpoints used for foreground reconciliation,
// and the realtime hub that pushes committed mutations to other devices.
package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hearthkeep/hearthkeep/internal/db"
	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
	"github.com/hearthkeep/hearthkeep/internal/logging"
	"github.com/hearthkeep/hearthkeep/internal/models"
	"github.com/hearthkeep/hearthkeep/internal/protocol"
	"github.com/hearthkeep/hearthkeep/internal/uuid"
)

// ApplyService is the server of record. Each operation is applied at most
// once: intent is recorded in the idempotency ledger before the mutation
// runs, so client retries and crash replays collapse into the first apply.
type ApplyService struct {
	db       *sql.DB
	entities *db.EntityStore
	ledger   *db.Ledger
	hub      *Hub
}

// NewApplyService wires the service over an already-migrated database.
func NewApplyService(database *db.DB, hub *Hub) *ApplyService {
	return &ApplyService{
		db:       database.DB,
		entities: db.NewEntityStore(database.DB),
		ledger:   db.NewLedger(database.DB),
		hub:      hub,
	}
}

// applyOrder fixes the order entity types are processed in: parents before
// the children that reference them.
var applyOrder = []models.EntityType{
	models.EntityTypeShoppingList,
	models.EntityTypeRecipe,
	models.EntityTypeChore,
	models.EntityTypeShoppingItem,
}

// HandleSync applies one batch and reports each operation's outcome.
func (s *ApplyService) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req protocol.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrSyncBadPayload, "undecodable sync request", err))
		return
	}
	sourceID := r.Header.Get("X-Device-ID")

	resp := protocol.SyncResponse{
		Succeeded: []protocol.Succeeded{},
		Conflicts: []protocol.Conflict{},
	}

	if req.PayloadVersion > protocol.PayloadVersion {
		// A well-formed refusal the client can process per operation.
		for _, t := range applyOrder {
			for _, item := range req.ItemsFor(t) {
				resp.Conflicts = append(resp.Conflicts, protocol.Conflict{
					Type:        t,
					OperationID: item.OperationID,
					Reason:      "unsupported_payload_version",
				})
			}
		}
		resp.Status = protocol.SyncStatusFailed
		writeJSON(w, http.StatusOK, &resp)
		return
	}

	submitted := 0
	for _, t := range applyOrder {
		for _, item := range req.ItemsFor(t) {
			submitted++
			s.applyItem(t, item, sourceID, &resp)
		}
	}

	// Soft invariant: every submitted operationId appears in exactly one
	// result array. Violations are logged, never promoted to failures;
	// older clients depend on the response still arriving.
	if covered := len(resp.Succeeded) + len(resp.Conflicts); covered != submitted {
		logging.Error("sync result coverage mismatch",
			apperrors.Newf(apperrors.ErrInternal, "submitted %d operations, covered %d", submitted, covered),
			map[string]interface{}{
				"request_id": string(req.RequestID),
			})
	}

	switch {
	case len(resp.Conflicts) == 0:
		resp.Status = protocol.SyncStatusSynced
	case len(resp.Succeeded) == 0 && submitted > 0:
		resp.Status = protocol.SyncStatusFailed
	default:
		resp.Status = protocol.SyncStatusPartial
	}
	writeJSON(w, http.StatusOK, &resp)
}

// applyItem runs one operation inside its own transaction and appends its
// outcome to resp.
func (s *ApplyService) applyItem(t models.EntityType, item protocol.Item, sourceID string, resp *protocol.SyncResponse) {
	opID := string(item.OperationID)
	if err := uuid.Validate(opID); err != nil {
		resp.Conflicts = append(resp.Conflicts, protocol.Conflict{
			Type: t, OperationID: item.OperationID, Reason: "invalid_operation_id",
		})
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		logging.Error("failed to begin apply transaction", err)
		resp.Conflicts = append(resp.Conflicts, protocol.Conflict{
			Type: t, OperationID: item.OperationID, Reason: "internal_error",
		})
		return
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	entry, fresh, err := s.ledger.Begin(tx, opID, t)
	if err != nil {
		logging.Error("idempotency ledger failure", err, map[string]interface{}{
			"operation_id": opID,
		})
		resp.Conflicts = append(resp.Conflicts, protocol.Conflict{
			Type: t, OperationID: item.OperationID, Reason: "internal_error",
		})
		return
	}

	// A finished prior entry is replayed verbatim; a "processing" entry
	// means a crash interrupted the apply and re-running the upsert is
	// safe.
	if !fresh && entry.Status != db.LedgerStatusProcessing {
		if err := tx.Commit(); err != nil {
			logging.Error("failed to commit replay", err)
		}
		committed = true
		switch entry.Status {
		case db.LedgerStatusApplied:
			resp.Succeeded = append(resp.Succeeded, protocol.Succeeded{
				OperationID: item.OperationID,
				EntityType:  t,
				ID:          models.UUID(entry.EntityID),
			})
		case db.LedgerStatusConflict:
			resp.Conflicts = append(resp.Conflicts, protocol.Conflict{
				Type: t, ID: entry.EntityID, OperationID: item.OperationID, Reason: entry.Reason,
			})
		}
		return
	}

	entityID, clientLocal, payload, reason := s.executeApply(tx, t, item)
	if reason != "" {
		if err := s.ledger.Finish(tx, opID, entityID, db.LedgerStatusConflict, reason); err != nil {
			logging.Error("failed to finish ledger entry", err)
			return
		}
		if err := tx.Commit(); err != nil {
			logging.Error("failed to commit conflict outcome", err)
			return
		}
		committed = true
		resp.Conflicts = append(resp.Conflicts, protocol.Conflict{
			Type: t, ID: entityID, OperationID: item.OperationID, Reason: reason,
		})
		return
	}

	row := &db.StoredEntity{
		EntityType:  t,
		ID:          entityID,
		ClientLocal: clientLocal,
		Payload:     payload,
		UpdatedAt:   models.Now(),
		Deleted:     item.Op == models.OpDelete,
	}
	if err := s.entities.Upsert(tx, row); err != nil {
		logging.Error("failed to apply entity", err, map[string]interface{}{
			"operation_id": opID,
			"entity_type":  string(t),
		})
		resp.Conflicts = append(resp.Conflicts, protocol.Conflict{
			Type: t, OperationID: item.OperationID, Reason: "internal_error",
		})
		return
	}
	if err := s.ledger.Finish(tx, opID, entityID, db.LedgerStatusApplied, ""); err != nil {
		logging.Error("failed to finish ledger entry", err)
		return
	}
	if err := tx.Commit(); err != nil {
		logging.Error("failed to commit apply", err)
		return
	}
	committed = true

	resp.Succeeded = append(resp.Succeeded, protocol.Succeeded{
		OperationID:   item.OperationID,
		EntityType:    t,
		ID:            models.UUID(entityID),
		ClientLocalID: clientLocal,
	})
	if s.hub != nil {
		s.hub.BroadcastApplied(t, payload, sourceID)
	}
}

// executeApply resolves the target row and produces the payload to store.
// A non-empty reason reports a per-item conflict instead.
func (s *ApplyService) executeApply(tx *sql.Tx, t models.EntityType, item protocol.Item) (entityID, clientLocal string, payload json.RawMessage, reason string) {
	clientLocal = item.Target.LocalID

	switch item.Op {
	case models.OpCreate, models.OpUpdate:
		entity, err := models.DecodeEntity(t, item.Entity)
		if err != nil {
			return "", clientLocal, nil, "invalid_payload"
		}

		entityID = item.Target.ServerID
		if entityID == "" && clientLocal != "" {
			// A create retried after the device lost the response must
			// land on the same row.
			if existing, err := s.entities.GetByClientLocalID(tx, t, clientLocal); err == nil {
				entityID = existing.ID
			} else if !errors.Is(err, sql.ErrNoRows) {
				return "", clientLocal, nil, "internal_error"
			}
		}
		if entityID == "" {
			entityID = uuid.New()
		}

		meta := entity.Meta()
		meta.ID = models.UUID(entityID)
		raw, err := models.EncodeEntity(entity)
		if err != nil {
			return entityID, clientLocal, nil, "invalid_payload"
		}
		return entityID, clientLocal, raw, ""

	case models.OpDelete:
		entityID = item.Target.ServerID
		var existing *db.StoredEntity
		var err error
		if entityID != "" {
			existing, err = s.entities.Get(tx, t, entityID)
		} else if clientLocal != "" {
			existing, err = s.entities.GetByClientLocalID(tx, t, clientLocal)
		} else {
			err = sql.ErrNoRows
		}
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Deleting what the server never saw still succeeds; a
				// tombstone row keeps other devices converging.
				if entityID == "" {
					entityID = uuid.New()
				}
				return entityID, clientLocal, tombstonePayload(entityID, clientLocal), ""
			}
			return entityID, clientLocal, nil, "internal_error"
		}
		return existing.ID, existing.ClientLocal, tombstoneFrom(existing), ""

	default:
		return "", clientLocal, nil, "unknown_op"
	}
}

// tombstoneFrom rewrites an existing row's payload with deletedAt set.
func tombstoneFrom(row *db.StoredEntity) json.RawMessage {
	entity, err := models.DecodeEntity(row.EntityType, row.Payload)
	if err != nil {
		return tombstonePayload(row.ID, row.ClientLocal)
	}
	entity.Meta().Tombstone(models.Now())
	raw, err := models.EncodeEntity(entity)
	if err != nil {
		return tombstonePayload(row.ID, row.ClientLocal)
	}
	return raw
}

// tombstonePayload is the minimal tombstone for a row with no usable
// payload.
func tombstonePayload(id, localID string) json.RawMessage {
	now := models.Now()
	meta := models.SyncMeta{
		ID:        models.UUID(id),
		LocalID:   localID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	meta.Tombstone(now)
	raw, _ := json.Marshal(&meta)
	return raw
}
