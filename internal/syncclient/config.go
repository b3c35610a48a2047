package syncclient

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/syncboard/internal/room"
)

// Fetcher reads the authoritative room record.
//
// Implementations wrap ErrRoomNotFound when the room does not exist.
type Fetcher interface {
	FetchRoom(ctx context.Context, roomID string) (*room.Room, error)
}

// Clock schedules timers. The returned stop function reports whether it
// prevented the call.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Config holds the client's timing and threshold settings.
type Config struct {
	// ResolveTimeout bounds how long the client waits for a room identity.
	ResolveTimeout time.Duration

	// FetchTimeout bounds every fetch and subscribe call.
	FetchTimeout time.Duration

	// Debounce collapses refetch requests arriving within this window.
	Debounce time.Duration

	// Cooldown suppresses notifications after a refetch completes.
	Cooldown time.Duration

	// FailureThreshold is the number of consecutive refetch failures
	// tolerated before an error is surfaced.
	FailureThreshold int

	// RetryBackoff is the resubscribe delay after a channel failure.
	RetryBackoff time.Duration

	// RebuildAfter is the number of consecutive channel failures that
	// trigger a full rebuild instead of another resubscribe.
	RebuildAfter int

	// ReconnectedWindow is how long the reconnected flag stays raised.
	ReconnectedWindow time.Duration
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		ResolveTimeout:    10 * time.Second,
		FetchTimeout:      8 * time.Second,
		Debounce:          300 * time.Millisecond,
		Cooldown:          time.Second,
		FailureThreshold:  3,
		RetryBackoff:      2 * time.Second,
		RebuildAfter:      3,
		ReconnectedWindow: 3 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = d.ResolveTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.RebuildAfter <= 0 {
		c.RebuildAfter = d.RebuildAfter
	}
	if c.ReconnectedWindow <= 0 {
		c.ReconnectedWindow = d.ReconnectedWindow
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithClock replaces the wall clock, typically with a fake in tests.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithBackOff replaces the resubscribe delay policy.
// Default: a constant backoff of Config.RetryBackoff.
func WithBackOff(b backoff.BackOff) Option {
	return func(c *Client) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithOnChange registers a callback receiving every new View.
// Views are delivered in order; stale views are dropped.
func WithOnChange(fn func(View)) Option {
	return func(c *Client) {
		c.onChange = fn
	}
}

// WithRoomID starts the client with a known identity.
func WithRoomID(roomID string) Option {
	return func(c *Client) {
		c.initialRoomID = roomID
	}
}

// withSpawn replaces how side effects are started. Tests run them inline.
func withSpawn(spawn func(func())) Option {
	return func(c *Client) {
		c.spawn = spawn
	}
}
