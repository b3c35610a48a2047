package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/syncboard/internal/room"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testTemplate() room.Template {
	return room.Template{
		Name: "test",
		Variables: []room.Variable{
			{Key: "points", Label: "Points", Initial: 25000},
		},
		Pot:        room.PotConfig{Enabled: true, Label: "Pot", Initial: map[string]float64{"points": 0}},
		MaxPlayers: 4,
	}
}

// createTestRoom builds a room with the given participants seated in order.
func createTestRoom(id string, participants ...string) room.Room {
	tmpl := testTemplate()
	seats := make(room.Seats, tmpl.MaxPlayers)
	copy(seats, participants)
	return room.Room{
		ID:        id,
		JoinCode:  "123456",
		HostID:    "host",
		Status:    room.StatusWaiting,
		Template:  tmpl,
		Seats:     seats,
		State:     room.NewState(tmpl, participants),
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func createTestEntry(id string, seq int64, snapshot room.CurrentState) room.HistoryEntry {
	return room.HistoryEntry{
		ID:        id,
		Seq:       seq,
		Timestamp: time.Unix(1700000000+seq, 0).UTC(),
		Kind:      room.KindTransfer,
		Message:   "msg " + id,
		Snapshot:  snapshot,
	}
}
