package cache

import (
	"sync"

	"github.com/hearthkeep/hearthkeep/internal/models"
)

// ChangeFeed fans payload-less change signals out to subscribers, one
// channel per subscription. Signals carry no entity data: a notified
// consumer re-reads the cache, so a dropped signal coalesces with the next
// one instead of losing state.
type ChangeFeed struct {
	mu    sync.Mutex
	next  int
	byTyp map[models.EntityType]map[int]chan struct{}
}

func newChangeFeed() *ChangeFeed {
	return &ChangeFeed{byTyp: make(map[models.EntityType]map[int]chan struct{})}
}

// Subscribe registers for change signals on the given types (all types
// when none are named). The returned cancel func must be called to release
// the subscription.
func (f *ChangeFeed) Subscribe(types ...models.EntityType) (<-chan struct{}, func()) {
	if len(types) == 0 {
		types = models.AllEntityTypes()
	}

	ch := make(chan struct{}, 1)

	f.mu.Lock()
	id := f.next
	f.next++
	for _, t := range types {
		if f.byTyp[t] == nil {
			f.byTyp[t] = make(map[int]chan struct{})
		}
		f.byTyp[t][id] = ch
	}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		for _, t := range types {
			delete(f.byTyp[t], id)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// publish signals every subscriber of t without blocking. A subscriber
// with a signal already pending is skipped; the pending signal covers this
// change too.
func (f *ChangeFeed) publish(t models.EntityType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.byTyp[t] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
