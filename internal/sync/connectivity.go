package sync

import (
	"sync"

	"github.com/hearthkeep/hearthkeep/internal/logging"
)

// Tracker holds the last known connectivity state and wakes listeners on
// the offline-to-online transition. It never probes the network itself;
// the host application feeds it observations.
type Tracker struct {
	mu        sync.Mutex
	online    bool
	listeners []chan struct{}
}

// NewTracker starts in the given state.
func NewTracker(online bool) *Tracker {
	return &Tracker{online: online}
}

// Online reports the last known state.
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// SetOnline records a connectivity observation. Only the offline-to-online
// edge signals listeners; repeated online reports are silent.
func (t *Tracker) SetOnline(online bool) {
	t.mu.Lock()
	wasOnline := t.online
	t.online = online
	listeners := t.listeners
	t.mu.Unlock()

	if online == wasOnline {
		return
	}
	logging.Info("connectivity changed", map[string]interface{}{"online": online})
	if !online {
		return
	}
	for _, ch := range listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Wake returns a channel that receives a signal each time connectivity
// comes back. Signals coalesce; a pending one covers later edges.
func (t *Tracker) Wake() <-chan struct{} {
	ch := make(chan struct{}, 1)
	t.mu.Lock()
	t.listeners = append(t.listeners, ch)
	t.mu.Unlock()
	return ch
}
