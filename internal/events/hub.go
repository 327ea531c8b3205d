package events

import (
	"sync"
	"sync/atomic"
)

const DefaultBufferSize = 100

// Publisher is the producer side of the hub.
type Publisher interface {
	Publish(event string)
}

// Hub fans text events out to live subscribers. Publish never blocks: each
// subscriber has a bounded queue and, when it is full, the oldest pending
// event for that subscriber is dropped to make room.
type Hub struct {
	mu         sync.RWMutex
	subs       map[*Subscription]struct{}
	bufferSize int
	closed     bool
	published  atomic.Uint64
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[*Subscription]struct{}),
		bufferSize: bufferSize,
	}
}

// Subscription receives every event published after Subscribe returned.
type Subscription struct {
	hub  *Hub
	ch   chan string
	mu   sync.Mutex // serializes enqueue and close for this subscriber
	done bool

	dropped atomic.Uint64
}

func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, ch: make(chan string, h.bufferSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.done = true
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *Hub) Publish(event string) {
	h.published.Add(1)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		s.offer(event)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Published returns the number of events published since start.
func (h *Hub) Published() uint64 {
	return h.published.Load()
}

// Close terminates every subscription. Later publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.closed = true
	h.mu.Unlock()
	for s := range subs {
		s.shutdown()
	}
}

// C is the event stream. It is closed when the subscription ends.
func (s *Subscription) C() <-chan string {
	return s.ch
}

// Dropped counts events discarded because this subscriber fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
	s.shutdown()
}

func (s *Subscription) offer(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		// Full: evict the oldest pending event and retry.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
}
