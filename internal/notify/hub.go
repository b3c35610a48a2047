package notify

import (
	"errors"
	"log/slog"
	"sync"
)

// DefaultBuffer is the per-subscriber queue size.
const DefaultBuffer = 64

var (
	// ErrOverflow closes a subscriber whose queue filled up.
	ErrOverflow = errors.New("notify: subscriber fell behind")

	// ErrHubClosed is returned once the hub has been shut down.
	ErrHubClosed = errors.New("notify: hub closed")
)

// Hub fans events out to per-room subscribers.
//
// Thread-safety: all methods are safe for concurrent use. Publish never
// blocks on a slow subscriber.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*Subscriber]struct{}
	buffer int
	closed bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscriber queue size.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:  make(map[string]map[*Subscriber]struct{}),
		buffer: DefaultBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new subscriber for roomID.
func (h *Hub) Subscribe(roomID string) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	s := &Subscriber{
		hub:    h,
		roomID: roomID,
		queue:  newEventQueue(h.buffer),
		done:   make(chan struct{}),
	}
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.rooms[roomID] = subs
	}
	subs[s] = struct{}{}
	return s, nil
}

// Publish delivers e to every subscriber of e.RoomID.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.rooms[e.RoomID]))
	for s := range h.rooms[e.RoomID] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if !s.queue.Enqueue(e) {
			slog.Warn("notification subscriber overflow",
				"room_id", e.RoomID,
				"queued", s.queue.Len(),
			)
			s.closeWith(ErrOverflow)
		}
	}
}

// Subscribers returns the number of live subscribers for roomID.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

// Close closes every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var subs []*Subscriber
	for _, room := range h.rooms {
		for s := range room {
			subs = append(subs, s)
		}
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.closeWith(ErrHubClosed)
	}
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.rooms[s.roomID]
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.rooms, s.roomID)
	}
}

// Subscriber is one registration on the Hub.
//
// Consumers select on Wait and Done, draining events with Drain:
//
//	for {
//	    select {
//	    case <-ctx.Done():
//	        return
//	    case <-sub.Done():
//	        return // sub.Err() says why
//	    case <-sub.Wait():
//	        for _, e := range sub.Drain() { ... }
//	    }
//	}
type Subscriber struct {
	hub    *Hub
	roomID string
	queue  *eventQueue

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// RoomID returns the room this subscriber listens to.
func (s *Subscriber) RoomID() string { return s.roomID }

// Wait signals when events may be available.
func (s *Subscriber) Wait() <-chan struct{} { return s.queue.Wait() }

// Drain returns every queued event in publish order.
func (s *Subscriber) Drain() []Event { return s.queue.Drain() }

// Done is closed when the subscriber stops receiving events.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err returns why the subscriber was closed: ErrOverflow, ErrHubClosed,
// or nil when closed by its owner.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unregisters the subscriber. Safe to call more than once.
func (s *Subscriber) Close() {
	s.closeWith(nil)
}

func (s *Subscriber) closeWith(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.queue.Close()
		s.hub.remove(s)
		close(s.done)
	})
}
