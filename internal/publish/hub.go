package publish

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

const defaultSubscriberBuffer = 100

// Hub fans pose events out to subscribers. Broadcasts never block: a
// subscriber that falls behind loses events rather than stalling the
// polling loop that feeds the hub.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan PoseEvent
	closed      bool
	buf         int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]chan PoseEvent),
		buf:         defaultSubscriberBuffer,
	}
}

// Subscribe registers a new subscriber and returns its ID and channel.
// After Close the returned channel is already closed.
func (h *Hub) Subscribe() (string, <-chan PoseEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan PoseEvent, h.buf)
	if h.closed {
		close(ch)
		return "", ch
	}

	id := uuid.New().String()
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Broadcast delivers an event to every subscriber without blocking.
// Full subscriber channels drop the event.
func (h *Hub) Broadcast(ev PoseEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			log.Printf("pose hub: subscriber %s channel full, dropping event", id)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes all subscriber channels. Subsequent Subscribe calls return
// closed channels; subsequent Broadcasts are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
