// Package sync drives the background reconciliation of queued writes with
// the server: batch building, crash-safe checkpoints, and outcome
// processing.
package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hearthkeep/hearthkeep/internal/cache"
	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
	"github.com/hearthkeep/hearthkeep/internal/logging"
	"github.com/hearthkeep/hearthkeep/internal/models"
	"github.com/hearthkeep/hearthkeep/internal/protocol"
	"github.com/hearthkeep/hearthkeep/internal/queue"
	"github.com/hearthkeep/hearthkeep/internal/uuid"
)

const stateKeyCheckpoint = "sync_checkpoint"

// DefaultCheckpointTTL force-clears a checkpoint stuck beyond this age.
// Safe because every operation is idempotent server-side.
const DefaultCheckpointTTL = 10 * time.Minute

// MaxAttempts is the conflict-retry threshold; a write whose attempt count
// reaches it is demoted to the dead-letter list.
const MaxAttempts = queue.DefaultMaxAttempts

// StateStore is the durable key/value store the checkpoint persists into.
type StateStore interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Connectivity reports the last known network state.
type Connectivity interface {
	Online() bool
}

// ProcessorConfig holds processor tuning knobs.
type ProcessorConfig struct {
	CheckpointTTL time.Duration
}

// DefaultProcessorConfig returns the default processor settings.
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{CheckpointTTL: DefaultCheckpointTTL}
}

// Processor runs sync passes. Passes are serialized: a call that arrives
// while one is in flight returns immediately as a no-op.
type Processor struct {
	queue  *queue.Store
	cache  *cache.Store
	state  StateStore
	client BatchClient
	net    Connectivity

	checkpointTTL time.Duration

	// now is swappable for tests.
	now func() models.Timestamp

	passGate chan struct{}
}

// NewProcessor wires the processor to its stores and transport.
func NewProcessor(q *queue.Store, c *cache.Store, state StateStore, client BatchClient, net Connectivity, config *ProcessorConfig) *Processor {
	if config == nil {
		config = DefaultProcessorConfig()
	}
	ttl := config.CheckpointTTL
	if ttl <= 0 {
		ttl = DefaultCheckpointTTL
	}
	gate := make(chan struct{}, 1)
	gate <- struct{}{}
	return &Processor{
		queue:         q,
		cache:         c,
		state:         state,
		client:        client,
		net:           net,
		checkpointTTL: ttl,
		now:           models.Now,
		passGate:      gate,
	}
}

// RunOnce executes one sync pass. Offline, an empty queue, or a pass
// already in flight all return nil without work.
func (p *Processor) RunOnce(ctx context.Context) error {
	select {
	case <-p.passGate:
	default:
		return nil
	}
	defer func() { p.passGate <- struct{}{} }()

	if !p.net.Online() {
		return nil
	}

	cp, err := p.loadCheckpoint()
	if err != nil {
		return err
	}
	if cp != nil {
		cp, err = p.validateCheckpoint(cp)
		if err != nil {
			return err
		}
	}

	if cp == nil && p.queue.Size() == 0 {
		return nil
	}

	var batch []models.QueuedWrite
	if cp != nil {
		// Re-drive the interrupted batch to completion before any new
		// work. Newer queue entries are not pulled in.
		if wait := Backoff(cp.AttemptCount); cp.LastAttemptAt != nil && p.now().Sub(*cp.LastAttemptAt) < wait {
			return nil
		}
		for _, w := range p.queue.GetAll() {
			if cp.Contains(w.OperationID) {
				batch = append(batch, w)
			}
		}
	} else {
		batch = p.eligibleWrites()
		if len(batch) == 0 {
			return nil
		}
		cp = &models.SyncCheckpoint{
			RequestID: models.UUID(uuid.New()),
			CreatedAt: p.now(),
			TTLMillis: p.checkpointTTL.Milliseconds(),
		}
		for _, w := range batch {
			cp.InFlightOperationIDs = append(cp.InFlightOperationIDs, w.OperationID)
		}
	}

	req := p.buildRequest(cp.RequestID, batch)

	now := p.now()
	cp.AttemptCount++
	cp.LastAttemptAt = &now
	if err := p.storeCheckpoint(cp); err != nil {
		return err
	}

	logging.Info("sending sync batch", map[string]interface{}{
		"request_id": string(cp.RequestID),
		"operations": len(batch),
		"attempt":    cp.AttemptCount,
	})

	resp, err := p.client.Sync(ctx, req)
	if err != nil {
		// No parsed response reached us. Transient: counters untouched,
		// checkpoint kept, next pass re-drives the same batch.
		if apperrors.IsConnectivity(err) {
			logging.Debug("sync batch not delivered", map[string]interface{}{
				"request_id": string(cp.RequestID),
				"error":      err.Error(),
			})
			return nil
		}
		return err
	}

	if err := p.processResponse(batch, resp); err != nil {
		return err
	}
	return p.resolveCheckpoint(cp)
}

// eligibleWrites returns the queue in batch order, dropping items still
// inside their backoff window.
func (p *Processor) eligibleWrites() []models.QueuedWrite {
	now := p.now()
	var out []models.QueuedWrite
	for _, w := range p.queue.GetAll() {
		if w.LastAttemptAt != nil && now.Sub(*w.LastAttemptAt) < Backoff(w.AttemptCount) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// buildRequest groups the batch by entity type. Children referencing a
// parent with no server id are sent with the local reference; if the
// parent's create is not in the batch either, that is logged and the item
// is still sent, since only the server can decide what it knows.
func (p *Processor) buildRequest(requestID models.UUID, batch []models.QueuedWrite) *protocol.SyncRequest {
	req := &protocol.SyncRequest{
		RequestID:      requestID,
		PayloadVersion: protocol.PayloadVersion,
	}

	batchedLists := make(map[string]bool)
	for _, w := range batch {
		if w.EntityType == models.EntityTypeShoppingList {
			batchedLists[w.Target.LocalID] = true
		}
	}

	for _, w := range batch {
		if w.EntityType == models.EntityTypeShoppingItem && w.Op != models.OpDelete {
			var probe struct {
				ListID      string `json:"listId"`
				ListLocalID string `json:"listLocalId"`
			}
			if err := json.Unmarshal(w.Payload, &probe); err == nil &&
				probe.ListID == "" && !batchedLists[probe.ListLocalID] {
				logging.Warn("shopping item references a parent list absent from this batch", map[string]interface{}{
					"operation_id":  string(w.OperationID),
					"list_local_id": probe.ListLocalID,
				})
			}
		}
		items := req.ItemsFor(w.EntityType)
		items = append(items, protocol.Item{
			OperationID: w.OperationID,
			Op:          w.Op,
			Target:      w.Target,
			Entity:      w.Payload,
		})
		req.SetItemsFor(w.EntityType, items)
	}
	return req
}

// processResponse applies the three outcome classes to the sent batch.
func (p *Processor) processResponse(batch []models.QueuedWrite, resp *protocol.SyncResponse) error {
	byOp := make(map[models.UUID]models.QueuedWrite, len(batch))
	for _, w := range batch {
		byOp[w.OperationID] = w
	}
	covered := make(map[models.UUID]bool, len(batch))

	syncedTypes := make(map[models.EntityType]bool)
	for _, s := range resp.Succeeded {
		w, sent := byOp[s.OperationID]
		if !sent {
			logging.Warn("sync response confirms an operation we did not send", map[string]interface{}{
				"operation_id": string(s.OperationID),
			})
			continue
		}
		covered[s.OperationID] = true

		if err := p.queue.RemoveByOperationID(s.OperationID); err != nil {
			return err
		}
		if w.Op != models.OpDelete && s.ID != "" {
			if err := p.adoptServerID(w.EntityType, w.Target.LocalID, s.ID); err != nil {
				return err
			}
		}
		syncedTypes[w.EntityType] = true
	}

	for _, c := range resp.Conflicts {
		w, sent := byOp[c.OperationID]
		if !sent {
			continue
		}
		covered[c.OperationID] = true

		updated, err := p.queue.IncrementRetry(c.OperationID, c.Reason)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return err
		}
		logging.Warn("sync conflict", map[string]interface{}{
			"operation_id": string(c.OperationID),
			"entity_type":  string(w.EntityType),
			"reason":       c.Reason,
			"attempts":     updated.AttemptCount,
		})
		if updated.AttemptCount >= MaxAttempts {
			detail := c.Reason
			if detail == "" {
				detail = "conflict"
			}
			if err := p.queue.FailPermanently(c.OperationID, models.FailureReasonConflict, detail); err != nil {
				return err
			}
		}
	}

	now := p.now()
	for t := range syncedTypes {
		if err := p.cache.SetLastSyncedAt(t, now); err != nil {
			return err
		}
	}

	// The server contract promises coverage of every submitted operation,
	// but only softly. An uncovered operation stays queued for retry with
	// its counters untouched.
	for _, w := range batch {
		if !covered[w.OperationID] {
			logging.Error("sync response omitted a submitted operation",
				apperrors.Newf(apperrors.ErrSyncFailed, "operation %s unconfirmed", w.OperationID),
				map[string]interface{}{
					"operation_id": string(w.OperationID),
					"entity_type":  string(w.EntityType),
				})
		}
	}
	return nil
}

// adoptServerID merges a freshly assigned server id into the cached entity
// that until now only had a local identity.
func (p *Processor) adoptServerID(t models.EntityType, localID string, serverID models.UUID) error {
	switch t {
	case models.EntityTypeRecipe:
		return adopt[*models.Recipe](p.cache, t, localID, serverID)
	case models.EntityTypeShoppingList:
		return adopt[*models.ShoppingList](p.cache, t, localID, serverID)
	case models.EntityTypeShoppingItem:
		return adopt[*models.ShoppingItem](p.cache, t, localID, serverID)
	case models.EntityTypeChore:
		return adopt[*models.Chore](p.cache, t, localID, serverID)
	default:
		return apperrors.Newf(apperrors.ErrInternal, "unknown entity type %q", t)
	}
}

func adopt[E models.Entity](c *cache.Store, t models.EntityType, localID string, serverID models.UUID) error {
	all, err := cache.Snapshot[E](c, t)
	if err != nil {
		return err
	}
	for _, e := range all {
		if e.Meta().LocalID == localID {
			e.Meta().ID = serverID
			return cache.Upsert(c, t, e)
		}
	}
	// Already evicted locally; nothing to adopt.
	return nil
}

// resolveCheckpoint clears the checkpoint once every operation it names
// has left the queue, and persists it otherwise.
func (p *Processor) resolveCheckpoint(cp *models.SyncCheckpoint) error {
	remaining := make(map[models.UUID]bool)
	for _, w := range p.queue.GetAll() {
		remaining[w.OperationID] = true
	}
	for _, opID := range cp.InFlightOperationIDs {
		if remaining[opID] {
			return p.storeCheckpoint(cp)
		}
	}
	return p.clearCheckpoint()
}

// validateCheckpoint discards a checkpoint that is expired or whose
// operations have all been resolved or compacted away.
func (p *Processor) validateCheckpoint(cp *models.SyncCheckpoint) (*models.SyncCheckpoint, error) {
	if cp.Expired(p.now()) {
		logging.Warn("discarding expired sync checkpoint", map[string]interface{}{
			"request_id": string(cp.RequestID),
			"age_ms":     p.now().Sub(cp.CreatedAt).Milliseconds(),
		})
		return nil, p.clearCheckpoint()
	}
	for _, w := range p.queue.GetAll() {
		if cp.Contains(w.OperationID) {
			return cp, nil
		}
	}
	logging.Debug("discarding stale sync checkpoint", map[string]interface{}{
		"request_id": string(cp.RequestID),
	})
	return nil, p.clearCheckpoint()
}

func (p *Processor) loadCheckpoint() (*models.SyncCheckpoint, error) {
	raw, ok, err := p.state.Get(stateKeyCheckpoint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var cp models.SyncCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "corrupt sync checkpoint", err)
	}
	return &cp, nil
}

func (p *Processor) storeCheckpoint(cp *models.SyncCheckpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to encode checkpoint", err)
	}
	return p.state.Put(stateKeyCheckpoint, raw)
}

func (p *Processor) clearCheckpoint() error {
	return p.state.Delete(stateKeyCheckpoint)
}
