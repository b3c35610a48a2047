package syncclient

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/syncboard/internal/notify"
	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/testutil"
)

const testRoomID = "room-1"

func testRoom(id string, score float64) *room.Room {
	return &room.Room{
		ID:     id,
		Status: room.StatusPlaying,
		Seats:  room.Seats{"alice", "bob"},
		State: room.CurrentState{Players: map[string]room.PlayerState{
			"alice": {Values: map[string]float64{"score": score}},
			"bob":   {Values: map[string]float64{"score": 25000}},
		}},
	}
}

func versionedRoom(id string, score float64, version int64) *room.Room {
	r := testRoom(id, score)
	r.Version = version
	return r
}

// fakeFetcher serves rooms from a map. Queued errors are returned first,
// one per call. onFetch, when set, runs after the result is chosen and
// before it is returned.
type fakeFetcher struct {
	mu      sync.Mutex
	rooms   map[string]*room.Room
	errs    []error
	calls   int
	onFetch func()
}

func newFakeFetcher(rooms ...*room.Room) *fakeFetcher {
	f := &fakeFetcher{rooms: make(map[string]*room.Room)}
	for _, r := range rooms {
		f.rooms[r.ID] = r
	}
	return f
}

func (f *fakeFetcher) FetchRoom(ctx context.Context, roomID string) (*room.Room, error) {
	r, err := f.fetch(roomID)
	f.mu.Lock()
	hook := f.onFetch
	f.onFetch = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return r, err
}

func (f *fakeFetcher) fetch(roomID string) (*room.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", roomID, ErrRoomNotFound)
	}
	cp := r.Clone()
	return &cp, nil
}

// interleave runs fn once, during the next fetch.
func (f *fakeFetcher) interleave(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFetch = fn
}

func (f *fakeFetcher) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeFetcher) set(r *room.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[r.ID] = r
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSub struct {
	mu           sync.Mutex
	roomID       string
	handler      notify.Handler
	resubscribes int
	resubErr     error
	closed       bool
}

func (s *fakeSub) Resubscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resubscribes++
	return s.resubErr
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSub) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSub) Resubscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resubscribes
}

// fakeChannel records every subscription it hands out.
type fakeChannel struct {
	mu   sync.Mutex
	subs []*fakeSub
	errs []error
}

func (c *fakeChannel) Subscribe(ctx context.Context, roomID string, h notify.Handler) (notify.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	sub := &fakeSub{roomID: roomID, handler: h}
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *fakeChannel) Subscriptions() []*fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeSub(nil), c.subs...)
}

func (c *fakeChannel) last(t *testing.T) *fakeSub {
	t.Helper()
	subs := c.Subscriptions()
	require.NotEmpty(t, subs, "no subscription")
	return subs[len(subs)-1]
}

type harness struct {
	client  *Client
	clock   *testutil.FakeClock
	fetcher *fakeFetcher
	channel *fakeChannel
	cfg     Config
}

// newHarness builds a client that runs its effects inline on a fake clock.
func newHarness(t *testing.T, fetcher *fakeFetcher, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:   testutil.NewFakeClock(time.Time{}),
		fetcher: fetcher,
		channel: &fakeChannel{},
		cfg:     DefaultConfig(),
	}
	base := []Option{
		WithClock(h.clock),
		withSpawn(func(f func()) { f() }),
	}
	h.client = New(fetcher, h.channel, h.cfg, append(base, opts...)...)
	t.Cleanup(func() { h.client.Close() })
	return h
}

// synced builds a harness already synced on testRoomID.
func synced(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, newFakeFetcher(testRoom(testRoomID, 100)), WithRoomID(testRoomID))
	require.Equal(t, StateSynced, h.client.Snapshot().State)
	return h
}

func (h *harness) fail(status notify.Status, t *testing.T) {
	t.Helper()
	h.channel.last(t).handler.HandleStatus(status, fmt.Errorf("channel %s", status))
}

func received(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	default:
		t.Fatal("refetch result not delivered")
		return nil
	}
}

func pending(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("refetch resolved early with %v", err)
	default:
	}
}
