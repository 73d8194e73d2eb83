// Package events is the in-process domain event channel. Core operations
// publish row-level changes here; transport fan-out (the websocket endpoint)
// and other side channels subscribe. Publishing never blocks the operation
// that triggered it.
package events

import (
	"log"
	"sync"
	"time"
)

type Type string

const (
	BallotCast        Type = "ballot_cast"
	QuestionCreated   Type = "question_created"
	QuestionUpdated   Type = "question_updated"
	QuestionClosed    Type = "question_closed"
	QuestionDeleted   Type = "question_deleted"
	MembershipChanged Type = "membership_changed"
)

// Event carries enough for clients to invalidate and re-fetch their cached
// views; Payload is optional detail (e.g. final tallies on close).
type Event struct {
	Type       Type        `json:"type"`
	GroupID    uint        `json:"group_id,omitempty"`
	QuestionID uint        `json:"question_id,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	At         time.Time   `json:"at"`
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	Logger *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		subs:   make(map[int]chan Event),
		Logger: logger,
	}
}

// Subscribe registers a buffered subscription. The returned cancel func must
// be called when the subscriber goes away; it closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans the event out to all subscribers. Slow subscribers with a full
// buffer lose the event rather than stalling the publisher.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			if h.Logger != nil {
				h.Logger.Printf("Dropping %s event for slow subscriber %d", e.Type, id)
			}
		}
	}
}

// SubscriberCount is used by tests and the health endpoint.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
