package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthkeep/hearthkeep/internal/cache"
	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
	"github.com/hearthkeep/hearthkeep/internal/logging"
	"github.com/hearthkeep/hearthkeep/internal/merge"
	"github.com/hearthkeep/hearthkeep/internal/models"
	"github.com/hearthkeep/hearthkeep/internal/protocol"
)

// ListenerConfig configures the realtime websocket listener.
type ListenerConfig struct {
	URL            string // ws:// or wss:// endpoint
	DeviceID       string // our own SourceID, for echo suppression
	ReconnectDelay time.Duration
}

// DefaultListenerConfig returns default listener settings.
func DefaultListenerConfig(url, deviceID string) *ListenerConfig {
	return &ListenerConfig{
		URL:            url,
		DeviceID:       deviceID,
		ReconnectDelay: 5 * time.Second,
	}
}

// Listener receives entity mutations pushed by the server when another
// device syncs, and folds them into the local cache through the same
// merge rules the batch path uses.
type Listener struct {
	config *ListenerConfig
	cache  *cache.Store
	net    *Tracker

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewListener wires the listener to the cache and connectivity tracker.
func NewListener(config *ListenerConfig, c *cache.Store, net *Tracker) *Listener {
	return &Listener{
		config: config,
		cache:  c,
		net:    net,
		stopCh: make(chan struct{}),
	}
}

// Start runs the connect loop in the background until Stop.
func (l *Listener) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop shuts the listener down and waits for the loop to exit.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()
	wake := l.net.Wake()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !l.net.Online() {
			select {
			case <-wake:
			case <-l.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := l.listen(ctx); err != nil {
			logging.Debug("realtime connection lost", map[string]interface{}{
				"error": err.Error(),
			})
		}

		select {
		case <-time.After(l.config.ReconnectDelay):
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// listen holds one websocket session open and applies every envelope.
func (l *Listener) listen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.config.URL, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "realtime dial failed", err)
	}
	defer conn.Close()

	logging.Info("realtime connection established", map[string]interface{}{
		"url": l.config.URL,
	})

	// Unblock ReadJSON when we are told to stop.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-l.stopCh:
			conn.Close()
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var env protocol.RealtimeEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return apperrors.Wrap(apperrors.ErrNetwork, "realtime read failed", err)
		}
		if err := l.Apply(&env); err != nil {
			logging.Error("failed to apply realtime update", err, map[string]interface{}{
				"type":        env.Type,
				"entity_type": string(env.EntityType),
			})
		}
	}
}

// Apply folds one pushed envelope into the cache. Events originating from
// this device are dropped; the batch path already reconciled them.
func (l *Listener) Apply(env *protocol.RealtimeEnvelope) error {
	if env.Type != protocol.RealtimeEventEntityApplied {
		return nil
	}
	if env.SourceID != "" && env.SourceID == l.config.DeviceID {
		return nil
	}

	switch env.EntityType {
	case models.EntityTypeRecipe:
		return applyRemote[*models.Recipe](l.cache, env.EntityType, env.Entity)
	case models.EntityTypeShoppingList:
		return applyRemote[*models.ShoppingList](l.cache, env.EntityType, env.Entity)
	case models.EntityTypeShoppingItem:
		return applyRemote[*models.ShoppingItem](l.cache, env.EntityType, env.Entity)
	case models.EntityTypeChore:
		return applyRemote[*models.Chore](l.cache, env.EntityType, env.Entity)
	default:
		logging.Warn("realtime update for unknown entity type", map[string]interface{}{
			"entity_type": string(env.EntityType),
		})
		return nil
	}
}

// applyRemote runs one pushed entity through the conflict winner rule
// against its cached counterpart. Only a remote win touches the cache, so
// echoes and stale pushes are no-ops.
func applyRemote[E models.Entity](c *cache.Store, t models.EntityType, raw json.RawMessage) error {
	var remote E
	if err := json.Unmarshal(raw, &remote); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncBadPayload, "undecodable realtime entity", err)
	}

	all, err := cache.Snapshot[E](c, t)
	if err != nil {
		return err
	}

	rm := remote.Meta()
	for _, local := range all {
		lm := local.Meta()
		if (rm.ID != "" && lm.ID == rm.ID) ||
			(rm.LocalID != "" && lm.LocalID == rm.LocalID) {
			winner, _ := merge.DetermineConflictWinner(local, remote)
			if winner.Meta() == lm {
				// Local copy already wins; nothing changed.
				return nil
			}
			// Keep the local identity so pending queue entries still
			// address the same cache row.
			if winner.Meta().LocalID == "" {
				winner.Meta().LocalID = lm.LocalID
			}
			return cache.Upsert(c, t, winner)
		}
	}
	return cache.Upsert(c, t, remote)
}
