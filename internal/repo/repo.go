// Package repo is the entity-facing API surface of the client. Every read
// is served from cache; every mutation is optimistic-first and reconciles
// with the network only after the cache and its observers have been told.
package repo

import (
	"context"
	"encoding/json"

	"github.com/hearthkeep/hearthkeep/internal/cache"
	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
	"github.com/hearthkeep/hearthkeep/internal/logging"
	"github.com/hearthkeep/hearthkeep/internal/models"
	"github.com/hearthkeep/hearthkeep/internal/uuid"
)

// EntityClient is the remote single-entity endpoint used for foreground
// reconciliation. Batch traffic goes through the sync processor instead.
type EntityClient interface {
	Create(ctx context.Context, t models.EntityType, payload json.RawMessage) (json.RawMessage, error)
	Update(ctx context.Context, t models.EntityType, serverID string, payload json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, t models.EntityType, serverID string) error
}

// Enqueuer accepts writes the network could not take right now.
type Enqueuer interface {
	Enqueue(t models.EntityType, op models.Op, target models.WriteTarget, payload json.RawMessage, operationID string) (*models.QueuedWrite, error)
}

// Connectivity reports the last known network state.
type Connectivity interface {
	Online() bool
}

// Collection is the typed repository for one entity type.
type Collection[E models.Entity] struct {
	typ    models.EntityType
	cache  *cache.Store
	queue  Enqueuer
	client EntityClient
	net    Connectivity
}

// NewCollection builds the repository for one entity type.
func NewCollection[E models.Entity](t models.EntityType, c *cache.Store, q Enqueuer, client EntityClient, net Connectivity) *Collection[E] {
	return &Collection[E]{typ: t, cache: c, queue: q, client: client, net: net}
}

// FindAll returns the active (non-tombstoned) entities from cache.
func (r *Collection[E]) FindAll() ([]E, error) {
	all, err := cache.Snapshot[E](r.cache, r.typ)
	if err != nil {
		return nil, err
	}
	out := make([]E, 0, len(all))
	for _, e := range all {
		if !e.Meta().Deleted() {
			out = append(out, e)
		}
	}
	return out, nil
}

// FindByID looks an entity up by server id or local id, from cache only.
// Reads never touch the network.
func (r *Collection[E]) FindByID(key string) (E, bool, error) {
	var zero E
	all, err := cache.Snapshot[E](r.cache, r.typ)
	if err != nil {
		return zero, false, err
	}
	for _, e := range all {
		m := e.Meta()
		if (string(m.ID) == key || m.LocalID == key) && !m.Deleted() {
			return e, true, nil
		}
	}
	return zero, false, nil
}

// Create stores an optimistic copy of the new entity, notifies observers,
// then reconciles with the server.
func (r *Collection[E]) Create(ctx context.Context, entity E) (E, error) {
	var zero E
	m := entity.Meta()
	m.ID = ""
	m.LocalID = uuid.New()
	now := models.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.DeletedAt = nil

	if err := entity.Validate(); err != nil {
		return zero, apperrors.Wrap(apperrors.ErrValidation, "invalid entity", err)
	}
	if err := cache.Upsert(r.cache, r.typ, entity); err != nil {
		return zero, err
	}
	return r.reconcile(ctx, models.OpCreate, entity)
}

// Update overwrites the cached entity with the caller's edited copy,
// notifies observers, then reconciles. The entity must already exist in
// cache.
func (r *Collection[E]) Update(ctx context.Context, entity E) (E, error) {
	var zero E
	m := entity.Meta()
	existing, ok, err := r.FindByID(m.Key())
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", r.typ, m.Key())
	}

	// Identity fields never change on update.
	em := existing.Meta()
	m.ID = em.ID
	m.LocalID = em.LocalID
	m.CreatedAt = em.CreatedAt
	m.UpdatedAt = models.Now()
	m.DeletedAt = nil

	if err := entity.Validate(); err != nil {
		return zero, apperrors.Wrap(apperrors.ErrValidation, "invalid entity", err)
	}
	if err := cache.Upsert(r.cache, r.typ, entity); err != nil {
		return zero, err
	}
	return r.reconcile(ctx, models.OpUpdate, entity)
}

// Delete tombstones the entity in cache and reconciles the deletion. The
// record stays in cache as a tombstone; merge needs it to outrank stale
// remote copies.
func (r *Collection[E]) Delete(ctx context.Context, key string) error {
	entity, ok, err := r.FindByID(key)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", r.typ, key)
	}

	entity.Meta().Tombstone(models.Now())
	if err := cache.Upsert(r.cache, r.typ, entity); err != nil {
		return err
	}
	_, err = r.reconcile(ctx, models.OpDelete, entity)
	return err
}

// Toggle applies flip to the cached entity and runs it through the update
// path. It exists for boolean-ish fields (item checked, chore done) so the
// UI has a one-call mutation.
func (r *Collection[E]) Toggle(ctx context.Context, key string, flip func(E)) (E, error) {
	var zero E
	entity, ok, err := r.FindByID(key)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", r.typ, key)
	}
	flip(entity)
	return r.Update(ctx, entity)
}

// reconcile is the network step. It runs only after the optimistic cache
// write and its notification, and it never undoes them: a connectivity
// failure queues the write, any other failure propagates with the cache
// left as the UI already saw it.
func (r *Collection[E]) reconcile(ctx context.Context, op models.Op, entity E) (E, error) {
	m := entity.Meta()

	if !r.net.Online() {
		return entity, r.enqueue(op, entity)
	}

	// An update or delete against an entity with no server id yet has
	// nothing to address remotely; its create is still pending in the
	// queue and compaction folds this write into it.
	if op != models.OpCreate && m.ID == "" {
		return entity, r.enqueue(op, entity)
	}

	confirmed, err := r.callRemote(ctx, op, entity)
	if err != nil {
		if apperrors.IsConnectivity(err) {
			logging.Debug("network attempt failed, queueing write", map[string]interface{}{
				"entity_type": string(r.typ),
				"op":          string(op),
				"local_id":    m.LocalID,
			})
			return entity, r.enqueue(op, entity)
		}
		return entity, err
	}

	if op == models.OpDelete || confirmed == nil {
		return entity, nil
	}

	// Take the server-confirmed copy, keep our local identity, and
	// re-signal observers.
	var fresh E
	if err := json.Unmarshal(confirmed, &fresh); err != nil {
		return entity, apperrors.Wrap(apperrors.ErrInternal, "undecodable server entity", err)
	}
	fresh.Meta().LocalID = m.LocalID
	if err := cache.Upsert(r.cache, r.typ, fresh); err != nil {
		return entity, err
	}
	return fresh, nil
}

func (r *Collection[E]) callRemote(ctx context.Context, op models.Op, entity E) (json.RawMessage, error) {
	m := entity.Meta()
	switch op {
	case models.OpCreate:
		payload, err := models.EncodeEntity(entity)
		if err != nil {
			return nil, err
		}
		return r.client.Create(ctx, r.typ, payload)
	case models.OpUpdate:
		payload, err := models.EncodeEntity(entity)
		if err != nil {
			return nil, err
		}
		return r.client.Update(ctx, r.typ, string(m.ID), payload)
	case models.OpDelete:
		return nil, r.client.Delete(ctx, r.typ, string(m.ID))
	default:
		return nil, apperrors.Newf(apperrors.ErrInternal, "unknown op %q", op)
	}
}

func (r *Collection[E]) enqueue(op models.Op, entity E) error {
	m := entity.Meta()
	var payload json.RawMessage
	if op != models.OpDelete {
		raw, err := models.EncodeEntity(entity)
		if err != nil {
			return err
		}
		payload = raw
	}
	target := models.WriteTarget{LocalID: m.LocalID, ServerID: string(m.ID)}
	_, err := r.queue.Enqueue(r.typ, op, target, payload, uuid.New())
	return err
}
