// Package events provides the per-user event bus that carries tool-call,
// tool-result, and pipeline frames to live client connections.
//
// The bus is a bounded, droppable broadcast: many subscribers may coexist
// per user, publishing never blocks, and frames are dropped when a
// subscriber is slow or absent. Delivery is best-effort: plan state, not
// the bus, is the source of truth for request outcomes.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// subscriberBuffer is the per-subscriber channel depth. Frames beyond it
// are dropped rather than backpressuring the pipeline.
const subscriberBuffer = 32

// Bus multiplexes event frames to per-user subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan models.Event // key: user id
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan models.Event)}
}

// Subscribe registers a new subscriber channel for a user.
func (b *Bus) Subscribe(userID string) <-chan models.Event {
	ch := make(chan models.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[userID] = append(b.subs[userID], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(userID string, ch <-chan models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[userID]
	for i, s := range subs {
		if s == ch {
			b.subs[userID] = append(subs[:i], subs[i+1:]...)
			close(s)
			break
		}
	}
	if len(b.subs[userID]) == 0 {
		delete(b.subs, userID)
	}
}

// Publish broadcasts an event to every subscriber of a user. It never
// blocks; frames to slow subscribers are dropped.
func (b *Bus) Publish(userID string, evt models.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[userID] {
		select {
		case ch <- evt:
		default:
			log.Debug().
				Str("user", userID).
				Str("type", string(evt.Type)).
				Msg("Dropped event for slow subscriber")
		}
	}
}

// SubscriberCount returns the number of live subscribers for a user.
func (b *Bus) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
