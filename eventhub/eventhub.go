// Package eventhub implements the multi-subscriber broadcast described in
// spec §4.7: emit never blocks, subscribers that lag past capacity may
// drop older events.
package eventhub

import (
	"sync"

	"github.com/rebeljah/stellatune-audio/stage"
)

// Kind identifies an event's payload shape.
type Kind int

const (
	KindStateChanged Kind = iota
	KindPosition
	KindTrackChanged
	KindRecovering
	KindEof
	KindError
	KindVolumeChanged
)

// PlayerState mirrors the control package's state enum; duplicated here
// (rather than imported) so eventhub has no dependency on control, keeping
// the dependency graph leaves-first per spec §2.
type PlayerState int

const (
	StateStopped PlayerState = iota
	StatePlaying
	StatePaused
)

// Event is the tagged union of everything the event hub can broadcast.
type Event struct {
	Kind Kind

	State      PlayerState    // KindStateChanged
	PositionMs int64          // KindPosition
	Track      stage.InputRef // KindTrackChanged
	Attempt    uint32         // KindRecovering
	BackoffMs  uint32         // KindRecovering
	Message    string         // KindError
	Volume     float32        // KindVolumeChanged
}

// defaultCapacity is the event hub's default per-subscriber buffer size.
const defaultCapacity = 64

// Hub is a bounded broadcast channel. Subscribe yields a receiver channel;
// Emit is best-effort and never blocks the emitter.
type Hub struct {
	mu          sync.Mutex
	capacity    int
	subscribers map[int]chan Event
	nextID      int
}

// New constructs a Hub with the given per-subscriber capacity. A capacity
// of 0 uses defaultCapacity.
func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{
		capacity:    capacity,
		subscribers: make(map[int]chan Event),
	}
}

// Subscription is a live subscriber handle; callers must call Unsubscribe
// when done to stop receiving events and release the channel.
type Subscription struct {
	id   int
	hub  *Hub
	C    <-chan Event
}

// Events returns the subscription's receive channel.
func (s *Subscription) Events() <-chan Event { return s.C }

// Unsubscribe removes this subscription from the hub.
func (s *Subscription) Unsubscribe() {
	s.hub.unsubscribe(s.id)
}

// Subscribe registers a new subscriber and returns its handle.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.capacity)
	h.subscribers[id] = ch

	return &Subscription{id: id, hub: h, C: ch}
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Emit broadcasts event to every current subscriber without blocking. A
// subscriber whose buffer is full loses its oldest buffered event so that
// this newer one still fits (spec: "older events may
// be dropped at the subscriber side but the emit itself never blocks").
func (h *Hub) Emit(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// subscriber lagging: drop the oldest by draining one slot,
			// then retry once so the latest event is still visible.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of live subscribers (test/diagnostic use).
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
