package monitor

import (
	"sync"

	"radiopipe/internal/executor"
)

// subscriberBuffer is the per-subscriber event backlog. A subscriber that
// falls further behind than this loses events rather than stalling the run.
const subscriberBuffer = 64

type subscriber struct {
	ch chan executor.Event
}

// Hub fans executor lifecycle events out to websocket subscribers. It is the
// executor's event sink; Publish never blocks.
type Hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	dropped uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[*subscriber]struct{}{}}
}

// Publish implements executor.Sink with a drop-slow-subscriber policy.
func (h *Hub) Publish(ev executor.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.dropped++
		}
	}
}

// Dropped reports how many events were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) subscribe() *subscriber {
	s := &subscriber{ch: make(chan executor.Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

var _ executor.Sink = (*Hub)(nil)
