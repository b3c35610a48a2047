package syncclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/syncboard/internal/notify"
	"github.com/roach88/syncboard/internal/room"
)

// State is the client's lifecycle state.
type State int

const (
	// StateUnresolved means no room identity has been observed yet.
	StateUnresolved State = iota
	// StateLoading means the identity is known but no valid cache exists.
	StateLoading
	// StateSynced means the cache is valid and the channel is healthy.
	StateSynced
	// StateDegraded means the cache is retained while the channel recovers.
	StateDegraded
	// StateTornDown is terminal.
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	case StateDegraded:
		return "degraded"
	case StateTornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// View is an immutable snapshot of the client for observers.
// Room must not be modified.
type View struct {
	State       State
	Room        *room.Room
	Err         error
	Reconnected bool
	Failures    int
}

func (v View) equal(o View) bool {
	return v.State == o.State &&
		v.Room == o.Room &&
		v.Err == o.Err &&
		v.Reconnected == o.Reconnected &&
		v.Failures == o.Failures
}

type fetchKind int

const (
	fetchInitial fetchKind = iota
	fetchRefetch
)

type timerSlot struct {
	stop  func() bool
	token uint64
}

// Client keeps one room's cache converged with the server.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	cfg           Config
	fetcher       Fetcher
	channel       notify.Channel
	clock         Clock
	backoff       backoff.BackOff
	onChange      func(View)
	spawn         func(func())
	initialRoomID string

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	roomID       string
	cache        *room.Room
	fetchErr     error
	channelErr   error
	failures     int // consecutive refetch failures
	chanFailures int // consecutive channel failures since the last recovery or rebuild
	channelDown  bool
	reconnected  bool
	lastRefetch  time.Time
	gen          uint64 // bumped on identity change and teardown
	subGen       uint64 // bumped whenever the subscription is dropped
	sub          notify.Subscription
	tokens       uint64
	waiters      []chan error
	closed       bool
	viewSeq      uint64

	resolveTimer   timerSlot
	debounceTimer  timerSlot
	retryTimer     timerSlot
	reconnectTimer timerSlot

	notifyMu  sync.Mutex
	delivered uint64
}

// New creates a client reading through fetcher and listening on channel.
// Zero Config fields take their defaults. Without WithRoomID the client
// waits up to Config.ResolveTimeout for Observe.
func New(fetcher Fetcher, channel notify.Channel, cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg.withDefaults(),
		fetcher: fetcher,
		channel: channel,
		clock:   realClock{},
		spawn:   func(f func()) { go f() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backoff == nil {
		c.backoff = backoff.NewConstantBackOff(c.cfg.RetryBackoff)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.apply(func() []func() {
		c.arm(&c.resolveTimer, c.cfg.ResolveTimeout, c.resolveTimedOut)
		return nil
	})
	if c.initialRoomID != "" {
		c.Observe(c.initialRoomID)
	}
	return c
}

// Snapshot returns the current view.
func (c *Client) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// RoomID returns the current target identity.
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Observe reports the target room identity. An empty id never clears a known
// identity; a different id replaces it and restarts loading.
func (c *Client) Observe(roomID string) {
	c.apply(func() []func() { return c.observe(roomID) })
}

// Refetch requests a debounced fetch and waits for its outcome. Failures are
// reported only once the consecutive failure threshold is exceeded; a call
// superseded by a later request returns nil.
func (c *Client) Refetch(ctx context.Context) error {
	ch := c.RefetchAsync()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefetchAsync is Refetch returning a channel that receives exactly one value.
func (c *Client) RefetchAsync() <-chan error {
	ch := make(chan error, 1)
	c.apply(func() []func() {
		if err := c.unavailable(); err != nil {
			ch <- err
			return nil
		}
		return c.requestRefetch(ch)
	})
	return ch
}

// Resume signals that the host application regained focus. It always
// triggers a refetch.
func (c *Client) Resume() {
	c.apply(func() []func() {
		if c.unavailable() != nil {
			return nil
		}
		slog.Debug("sync client resumed", "room_id", c.roomID)
		return c.requestRefetch(nil)
	})
}

// Close disposes the client. Pending timers are cancelled, the subscription
// is closed and in-flight results are discarded.
func (c *Client) Close() error {
	c.apply(func() []func() {
		if c.closed {
			return nil
		}
		c.closed = true
		c.state = StateTornDown
		return c.teardown(ErrClosed)
	})
	c.cancel()
	return nil
}

// apply runs step under the mutex, publishes the resulting view and starts
// the returned effects.
func (c *Client) apply(step func() []func()) {
	c.mu.Lock()
	before := c.viewLocked()
	effects := step()
	after := c.viewLocked()
	var seq uint64
	changed := !before.equal(after)
	if changed {
		c.viewSeq++
		seq = c.viewSeq
	}
	c.mu.Unlock()

	if changed && c.onChange != nil {
		c.deliver(seq, after)
	}
	for _, eff := range effects {
		if eff != nil {
			c.spawn(eff)
		}
	}
}

func (c *Client) deliver(seq uint64, v View) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.delivered {
		return
	}
	c.delivered = seq
	c.onChange(v)
}

func (c *Client) viewLocked() View {
	err := c.fetchErr
	if err == nil {
		err = c.channelErr
	}
	return View{
		State:       c.state,
		Room:        c.cache,
		Err:         err,
		Reconnected: c.reconnected,
		Failures:    c.failures,
	}
}

// arm (re)starts a timer slot. A previously armed timer of the same slot is
// superseded. Must be called with mu held.
func (c *Client) arm(slot *timerSlot, d time.Duration, fire func() []func()) {
	c.disarm(slot)
	c.tokens++
	token := c.tokens
	slot.token = token
	slot.stop = c.clock.AfterFunc(d, func() {
		c.apply(func() []func() {
			if slot.token != token {
				return nil
			}
			slot.token, slot.stop = 0, nil
			return fire()
		})
	})
}

// disarm must be called with mu held.
func (c *Client) disarm(slot *timerSlot) {
	if slot.stop != nil {
		slot.stop()
	}
	slot.stop, slot.token = nil, 0
}

// subHandler tags channel callbacks with the subscription generation.
type subHandler struct {
	c   *Client
	gen uint64
}

var _ notify.Handler = (*subHandler)(nil)

func (h *subHandler) HandleEvent(e notify.Event) {
	h.c.apply(func() []func() { return h.c.onEvent(h.gen, e) })
}

func (h *subHandler) HandleStatus(s notify.Status, err error) {
	h.c.apply(func() []func() { return h.c.onStatus(h.gen, s, err) })
}
