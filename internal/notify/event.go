package notify

import (
	"context"

	"github.com/roach88/syncboard/internal/room"
)

// Kind distinguishes notification kinds.
type Kind string

const (
	// KindUpdate carries the full committed room as payload.
	KindUpdate Kind = "update"
	// KindDelete announces the room was removed.
	KindDelete Kind = "delete"
)

// Event is one change notification for a room.
//
// Payload may be nil or partial; consumers must not assume a complete room.
// Version is the room version the event was published for, zero when
// unknown. Events can arrive out of order, so consumers compare it against
// what they already hold.
type Event struct {
	Kind    Kind       `json:"kind"`
	RoomID  string     `json:"room_id"`
	Version int64      `json:"version,omitempty"`
	Payload *room.Room `json:"payload,omitempty"`
}

// UpdateOf returns the update event announcing r.
func UpdateOf(r room.Room) Event {
	payload := r.Clone()
	return Event{Kind: KindUpdate, RoomID: r.ID, Version: r.Version, Payload: &payload}
}

// Status is the connection status reported by a subscription.
type Status string

const (
	StatusSubscribed Status = "subscribed"
	StatusError      Status = "error"
	StatusTimedOut   Status = "timed_out"
	StatusClosed     Status = "closed"
)

// Failed reports whether s means the subscription stopped delivering events.
func (s Status) Failed() bool {
	return s == StatusError || s == StatusTimedOut || s == StatusClosed
}

// Handler receives events and status changes from a subscription.
// Calls may arrive from any goroutine.
type Handler interface {
	HandleEvent(Event)
	HandleStatus(Status, error)
}

// Subscription is a live per-room subscription.
type Subscription interface {
	// Resubscribe re-establishes delivery after a failure.
	Resubscribe(ctx context.Context) error
	// Close stops delivery. A Handler call already in progress may still
	// complete.
	Close() error
}

// Channel opens subscriptions.
type Channel interface {
	Subscribe(ctx context.Context, roomID string, h Handler) (Subscription, error)
}

// Publisher accepts events for fan-out.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
