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
	"github.com/hearthkeep/hearthkeep/internal/uuid"
)

// Single-entity endpoints back the repository's foreground reconciliation.
// They apply synchronously and return the confirmed entity; queued retries
// go through /sync instead.

func entityTypeFromPath(r *http.Request) (models.EntityType, error) {
	t := models.EntityType(r.PathValue("type"))
	if !t.Valid() {
		return "", apperrors.Newf(apperrors.ErrNotFound, "unknown entity type %q", t)
	}
	return t, nil
}

// HandleListEntities returns every row of one type, tombstones included,
// so pulling devices can merge deletions.
func (s *ApplyService) HandleListEntities(w http.ResponseWriter, r *http.Request) {
	t, err := entityTypeFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.entities.List(t)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrStorage, "failed to list entities", err))
		return
	}
	out := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Payload)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCreateEntity stores a new entity and returns it with its assigned
// server id.
func (s *ApplyService) HandleCreateEntity(w http.ResponseWriter, r *http.Request) {
	t, err := entityTypeFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := decodeEntityBody(t, r)
	if err != nil {
		writeError(w, err)
		return
	}

	meta := body.Meta()
	if meta.LocalID != "" {
		// Re-sent create for an entity we already know lands on the
		// existing row.
		if existing, err := s.entities.GetByClientLocalID(s.db, t, meta.LocalID); err == nil {
			meta.ID = models.UUID(existing.ID)
		} else if !errors.Is(err, sql.ErrNoRows) {
			writeError(w, apperrors.Wrap(apperrors.ErrStorage, "lookup failed", err))
			return
		}
	}
	if meta.ID == "" {
		meta.ID = models.UUID(uuid.New())
	}

	if err := s.persist(t, body, false); err != nil {
		writeError(w, err)
		return
	}
	s.respondWithEntity(w, r, http.StatusCreated, t, body)
}

// HandleUpdateEntity overwrites the addressed entity with the submitted
// snapshot. Timestamp-aware rejection is the client's job; the server
// applies instructions.
func (s *ApplyService) HandleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	t, err := entityTypeFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if _, err := s.entities.Get(s.db, t, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", t, id))
			return
		}
		writeError(w, apperrors.Wrap(apperrors.ErrStorage, "lookup failed", err))
		return
	}
	body, err := decodeEntityBody(t, r)
	if err != nil {
		writeError(w, err)
		return
	}
	body.Meta().ID = models.UUID(id)

	if err := s.persist(t, body, false); err != nil {
		writeError(w, err)
		return
	}
	s.respondWithEntity(w, r, http.StatusOK, t, body)
}

// HandleDeleteEntity tombstones the addressed entity. Deleting an unknown
// id succeeds; the intent is already satisfied.
func (s *ApplyService) HandleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	t, err := entityTypeFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")

	existing, err := s.entities.Get(s.db, t, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, apperrors.Wrap(apperrors.ErrStorage, "lookup failed", err))
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrStorage, "failed to begin transaction", err))
		return
	}
	row := &db.StoredEntity{
		EntityType:  t,
		ID:          existing.ID,
		ClientLocal: existing.ClientLocal,
		Payload:     tombstoneFrom(existing),
		UpdatedAt:   models.Now(),
		Deleted:     true,
	}
	if err := s.entities.Upsert(tx, row); err != nil {
		tx.Rollback()
		writeError(w, apperrors.Wrap(apperrors.ErrStorage, "failed to tombstone entity", err))
		return
	}
	if err := tx.Commit(); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrStorage, "failed to commit", err))
		return
	}
	if s.hub != nil {
		s.hub.BroadcastApplied(t, row.Payload, r.Header.Get("X-Device-ID"))
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeEntityBody(t models.EntityType, r *http.Request) (models.Entity, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSyncBadPayload, "undecodable request body", err)
	}
	entity, err := models.DecodeEntity(t, raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid entity", err)
	}
	return entity, nil
}

func (s *ApplyService) persist(t models.EntityType, entity models.Entity, deleted bool) error {
	raw, err := models.EncodeEntity(entity)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode entity", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to begin transaction", err)
	}
	meta := entity.Meta()
	row := &db.StoredEntity{
		EntityType:  t,
		ID:          string(meta.ID),
		ClientLocal: meta.LocalID,
		Payload:     raw,
		UpdatedAt:   models.Now(),
		Deleted:     deleted || meta.Deleted(),
	}
	if err := s.entities.Upsert(tx, row); err != nil {
		tx.Rollback()
		return apperrors.Wrap(apperrors.ErrStorage, "failed to store entity", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to commit", err)
	}
	return nil
}

func (s *ApplyService) respondWithEntity(w http.ResponseWriter, r *http.Request, status int, t models.EntityType, entity models.Entity) {
	raw, err := models.EncodeEntity(entity)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to encode entity", err))
		return
	}
	if s.hub != nil {
		s.hub.BroadcastApplied(t, raw, r.Header.Get("X-Device-ID"))
	}
	writeJSON(w, status, json.RawMessage(raw))
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("failed to write response", err)
	}
}

// writeError maps an application error to its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrValidation, apperrors.ErrInvalid, apperrors.ErrSyncBadPayload:
		status = http.StatusBadRequest
	case apperrors.ErrQueueFull:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(apperrors.CodeOf(err)),
	})
}
