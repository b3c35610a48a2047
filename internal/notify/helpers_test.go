package notify

import (
	"testing"
	"time"

	"github.com/roach88/syncboard/internal/room"
)

type statusCall struct {
	status Status
	err    error
}

// recordingHandler forwards every call onto buffered channels.
type recordingHandler struct {
	events   chan Event
	statuses chan statusCall
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		events:   make(chan Event, 32),
		statuses: make(chan statusCall, 32),
	}
}

func (h *recordingHandler) HandleEvent(e Event) { h.events <- e }

func (h *recordingHandler) HandleStatus(s Status, err error) {
	h.statuses <- statusCall{status: s, err: err}
}

func (h *recordingHandler) nextEvent(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-h.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (h *recordingHandler) nextStatus(t *testing.T) statusCall {
	t.Helper()
	select {
	case s := <-h.statuses:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status")
		return statusCall{}
	}
}

func testRoom(id string) *room.Room {
	return &room.Room{
		ID:     id,
		Status: room.StatusPlaying,
		Seats:  room.Seats{"alice", ""},
		State: room.CurrentState{Players: map[string]room.PlayerState{
			"alice": {Values: map[string]float64{"score": 100}},
		}},
	}
}
