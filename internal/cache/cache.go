// Package cache holds the device-local snapshot of every entity collection.
// It is the only read path the UI ever sees; the network can only refresh
// it, never replace it as the source of truth while offline.
package cache

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
	"github.com/hearthkeep/hearthkeep/internal/logging"
	"github.com/hearthkeep/hearthkeep/internal/models"
)

// SchemaVersion is the on-disk envelope version this build reads and
// writes. Version 1 stored a bare JSON array without an envelope.
const SchemaVersion = 2

const (
	cacheKeyPrefix      = "cache:"
	lastSyncedKeyPrefix = "cache_meta:last_synced_at:"
)

// StateStore is the durable key/value store the cache persists into.
type StateStore interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// envelope wraps a collection snapshot with its schema version. Entities
// stay raw so fields this build does not know about survive a round trip.
type envelope struct {
	SchemaVersion int               `json:"schemaVersion"`
	Entities      []json.RawMessage `json:"entities"`
}

// Store is the collection cache. Snapshots persist through the envelope;
// every successful write publishes a payload-less change signal for the
// written entity type.
type Store struct {
	state StateStore
	feed  *ChangeFeed
}

// New builds a cache over the given durable state.
func New(state StateStore) *Store {
	return &Store{state: state, feed: newChangeFeed()}
}

// Feed returns the change feed for UI subscriptions.
func (c *Store) Feed() *ChangeFeed {
	return c.feed
}

func cacheKey(t models.EntityType) string {
	return cacheKeyPrefix + string(t)
}

// loadEnvelope reads and migrates the stored envelope for one type. A
// missing key yields an empty current-version envelope. Envelopes written
// by a newer build are refused, never clobbered.
func (c *Store) loadEnvelope(t models.EntityType) (*envelope, error) {
	data, ok, err := c.state.Get(cacheKey(t))
	if err != nil {
		return nil, err
	}
	if !ok {
		return &envelope{SchemaVersion: SchemaVersion}, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.SchemaVersion != 0 {
		if env.SchemaVersion > SchemaVersion {
			return nil, apperrors.Newf(apperrors.ErrSchemaVersion,
				"cache for %s has schemaVersion %d, newer than supported %d", t, env.SchemaVersion, SchemaVersion)
		}
		return &env, nil
	}

	// Version 1: a bare array. Upgrade the shape and write it back so the
	// next read is cheap; a write-back failure only costs the next read.
	var bare []json.RawMessage
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("corrupt cache for %s", t), err)
	}
	env = envelope{SchemaVersion: SchemaVersion, Entities: bare}
	if upgraded, err := json.Marshal(&env); err == nil {
		if err := c.state.Put(cacheKey(t), upgraded); err != nil {
			logging.Warn("cache upgrade write-back failed", map[string]interface{}{
				"entity_type": string(t),
				"error":       err.Error(),
			})
		} else {
			logging.Info("cache upgraded", map[string]interface{}{
				"entity_type": string(t),
				"from":        1,
				"to":          SchemaVersion,
			})
		}
	}
	return &env, nil
}

func (c *Store) storeEnvelope(t models.EntityType, env *envelope) error {
	env.SchemaVersion = SchemaVersion
	data, err := json.Marshal(env)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to encode cache", err)
	}
	if err := c.state.Put(cacheKey(t), data); err != nil {
		return err
	}
	c.feed.publish(t)
	return nil
}

// Snapshot decodes the full cached collection for one type, tombstones
// included. Callers that feed the UI filter tombstones themselves.
func Snapshot[E models.Entity](c *Store, t models.EntityType) ([]E, error) {
	env, err := c.loadEnvelope(t)
	if err != nil {
		return nil, err
	}
	out := make([]E, 0, len(env.Entities))
	for _, raw := range env.Entities {
		var e E
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("corrupt %s cache entry", t), err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Replace overwrites the whole collection snapshot and signals the change.
// This is the sync-merge write path.
func Replace[E models.Entity](c *Store, t models.EntityType, entities []E) error {
	// Probing the current envelope keeps a newer build's snapshot safe
	// from an older build running against the same data dir.
	if _, err := c.loadEnvelope(t); err != nil {
		return err
	}
	env := &envelope{Entities: make([]json.RawMessage, 0, len(entities))}
	for _, e := range entities {
		raw, err := json.Marshal(e)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to encode entity", err)
		}
		env.Entities = append(env.Entities, raw)
	}
	return c.storeEnvelope(t, env)
}

// Upsert writes one entity into the snapshot, matching by server id first
// and local id second. Entries the build cannot decode are left untouched.
func Upsert[E models.Entity](c *Store, t models.EntityType, entity E) error {
	env, err := c.loadEnvelope(t)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(entity)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to encode entity", err)
	}

	meta := entity.Meta()
	replaced := false
	for i, existing := range env.Entities {
		var probe struct {
			ID      models.UUID `json:"id"`
			LocalID string      `json:"localId"`
		}
		if err := json.Unmarshal(existing, &probe); err != nil {
			continue
		}
		if (meta.ID != "" && probe.ID == meta.ID) ||
			(meta.LocalID != "" && probe.LocalID == meta.LocalID) {
			env.Entities[i] = raw
			replaced = true
			break
		}
	}
	if !replaced {
		env.Entities = append(env.Entities, raw)
	}
	return c.storeEnvelope(t, env)
}

// Remove drops the entity whose server or local id matches key. Removing
// an absent entity is a no-op and publishes nothing.
func (c *Store) Remove(t models.EntityType, key string) error {
	env, err := c.loadEnvelope(t)
	if err != nil {
		return err
	}
	for i, existing := range env.Entities {
		var probe struct {
			ID      models.UUID `json:"id"`
			LocalID string      `json:"localId"`
		}
		if err := json.Unmarshal(existing, &probe); err != nil {
			continue
		}
		if string(probe.ID) == key || probe.LocalID == key {
			env.Entities = append(env.Entities[:i], env.Entities[i+1:]...)
			return c.storeEnvelope(t, env)
		}
	}
	return nil
}

// SetLastSyncedAt records when the collection last reconciled with the
// server. This backs the staleness indicator, not sync correctness.
func (c *Store) SetLastSyncedAt(t models.EntityType, ts models.Timestamp) error {
	raw, err := json.Marshal(ts)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to encode timestamp", err)
	}
	return c.state.Put(lastSyncedKeyPrefix+string(t), raw)
}

// LastSyncedAt returns the recorded reconcile time, or nil when the
// collection has never synced.
func (c *Store) LastSyncedAt(t models.EntityType) (*models.Timestamp, error) {
	raw, ok, err := c.state.Get(lastSyncedKeyPrefix + string(t))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var ts models.Timestamp
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "corrupt last-synced-at", err)
	}
	return &ts, nil
}
