package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/syncboard/internal/notify"
	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/store"
	"github.com/roach88/syncboard/internal/testutil"
)

const testRoomID = "room-1"

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(e notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Events() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Event(nil), p.events...)
}

type fixture struct {
	engine    *Engine
	store     *store.Store
	publisher *recordingPublisher
}

func scoreTemplate() room.Template {
	return room.Template{
		Name: "test",
		Variables: []room.Variable{
			{Key: "score", Label: "Score", Initial: 25000},
			{Key: "chips", Label: "Chips", Initial: 10},
		},
		Pot:        room.PotConfig{Enabled: true, Label: "Riichi Pot", Initial: map[string]float64{"score": 0}},
		MaxPlayers: 4,
	}
}

// newFixture creates an engine over a fresh store holding testRoomID with
// alice and bob seated.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pub := &recordingPublisher{}
	clock := testutil.NewFakeClock(time.Time{})
	base := []Option{
		WithPublisher(pub),
		WithIDGenerator(testutil.NewSequenceGenerator("id")),
		WithNow(clock.Now),
	}
	e := New(s, append(base, opts...)...)

	tmpl := scoreTemplate()
	r := room.Room{
		ID:        testRoomID,
		JoinCode:  "123456",
		HostID:    "alice",
		Status:    room.StatusPlaying,
		Template:  tmpl,
		Seats:     room.Seats{"alice", "bob", "", ""},
		State:     room.NewState(tmpl, []string{"alice", "bob"}),
		CreatedAt: clock.Now(),
	}
	require.NoError(t, s.CreateRoom(context.Background(), r))

	return &fixture{engine: e, store: s, publisher: pub}
}

func (f *fixture) state(t *testing.T) room.CurrentState {
	t.Helper()
	r, err := f.store.GetRoom(context.Background(), testRoomID)
	require.NoError(t, err)
	return r.State
}

func (f *fixture) history(t *testing.T) []room.HistoryEntry {
	t.Helper()
	entries, err := f.store.ListHistory(context.Background(), testRoomID)
	require.NoError(t, err)
	return entries
}

func (f *fixture) setPot(t *testing.T, value float64) {
	t.Helper()
	_, err := f.store.UpdateRoom(context.Background(), testRoomID, func(tx *store.Tx) error {
		tx.Room.State.SetPot("score", value)
		return nil
	})
	require.NoError(t, err)
}

func transfer(from, to string, amount float64) TransferRequest {
	return TransferRequest{From: from, To: to, Lines: []Line{{Variable: "score", Amount: amount}}}
}
