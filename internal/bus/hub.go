package bus

import (
	"sync"
	"sync/atomic"
)

// Hub fans surfaced pulses out to external observers. Unlike Bus it is safe
// for concurrent use: the scheduler broadcasts while HTTP handlers subscribe.
type Hub struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan Pulse
	closed  bool
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Pulse)}
}

// Subscribe registers an observer with the given buffer size. The returned
// func unsubscribes and closes the channel. After Close the channel comes
// back already closed.
func (h *Hub) Subscribe(buffer int) (<-chan Pulse, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Pulse, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Close closes every subscriber channel and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Broadcast delivers pulses to every subscriber without blocking; a full
// subscriber misses the pulse.
func (h *Hub) Broadcast(pulses ...Pulse) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range pulses {
		for _, ch := range h.subs {
			select {
			case ch <- p:
			default:
				h.dropped.Add(1)
			}
		}
	}
}

// Subscribers is the number of active observers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts pulses a slow subscriber missed.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
