package notify

import "sync"

// eventQueue is a bounded FIFO queue for one subscriber.
//
// The queue uses a channel for signaling to enable context-aware waiting
// by the consumer. Enqueue never blocks: once the queue holds limit events
// it reports overflow and the caller closes the subscriber.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	limit  int
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

func newEventQueue(limit int) *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, limit),
		limit:  limit,
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed or full.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.events) >= q.limit {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking; the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// Drain removes and returns every queued event.
func (q *eventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = make([]Event, 0, q.limit)
	return out
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events. Queued events remain drainable.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
