// Package fault implements the on_fault(name, message, active) callback
// surface from §6/§7 as a small pub/sub hub, adapted directly from huskki's
// events.EventHub: a mutex-guarded subscriber map, broadcast-or-drop so one
// slow subscriber (telemetry, a CEL driver) can never stall fault
// propagation or the slow loop that produces it.
package fault

import "sync"

// Event is one fault transition.
type Event struct {
	Name    string
	Message string
	Active  bool
}

// Hub fans Events out to any number of subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan *Event
	next int
	last *Event
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: map[int]chan *Event{}}
}

// Subscribe registers a new listener and returns its channel plus a cancel
// func. A late subscriber immediately receives the last broadcast event, if
// any, the same replay-on-subscribe behavior as events.EventHub.
func (h *Hub) Subscribe() (<-chan *Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan *Event, 16)
	if h.last != nil {
		ch <- h.copy(h.last)
	}
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			close(c)
			delete(h.subs, id)
		}
	}
	return ch, cancel
}

// Broadcast publishes an Event to every current subscriber. Full channels
// are skipped rather than blocked on, same as events.EventHub.Broadcast.
func (h *Hub) Broadcast(e *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = e
	for _, ch := range h.subs {
		select {
		case ch <- h.copy(e):
		default:
		}
	}
}

func (h *Hub) copy(e *Event) *Event {
	c := *e
	return &c
}
