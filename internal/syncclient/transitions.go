package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/syncboard/internal/notify"
	"github.com/roach88/syncboard/internal/room"
)

// Every method in this file runs with mu held and returns the effects to
// start once it is released.

func (c *Client) observe(roomID string) []func() {
	if c.closed || c.state == StateTornDown || roomID == "" || roomID == c.roomID {
		return nil
	}
	if c.roomID != "" {
		slog.Info("room identity changed", "from", c.roomID, "to", roomID)
	}

	effects := []func(){c.dropSubscription()}
	c.stopTimers()
	c.resolveWaiters(nil)
	c.gen++

	c.roomID = roomID
	c.cache = nil
	c.fetchErr = nil
	c.channelErr = nil
	c.failures = 0
	c.chanFailures = 0
	c.channelDown = false
	c.reconnected = false
	c.lastRefetch = time.Time{}
	c.backoff.Reset()
	c.state = StateLoading

	return append(effects, c.fetchEffect(fetchInitial, nil), c.subscribeEffect())
}

func (c *Client) resolveTimedOut() []func() {
	if c.closed || c.roomID != "" {
		return nil
	}
	slog.Warn("no room identity observed", "timeout", c.cfg.ResolveTimeout)
	c.state = StateTornDown
	c.fetchErr = &Error{Code: CodeUnresolved}
	return c.teardown(c.fetchErr)
}

// unavailable reports why a fetch cannot be requested, if it cannot.
func (c *Client) unavailable() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.state == StateTornDown && c.fetchErr != nil:
		return c.fetchErr
	case c.state == StateTornDown:
		return ErrClosed
	case c.roomID == "":
		return &Error{Code: CodeUnresolved}
	}
	return nil
}

// requestRefetch (re)starts the debounce window. Waiters of a superseded
// window are released with nil.
func (c *Client) requestRefetch(waiter chan error) []func() {
	c.resolveWaiters(nil)
	if waiter != nil {
		c.waiters = append(c.waiters, waiter)
	}
	c.arm(&c.debounceTimer, c.cfg.Debounce, c.debounced)
	return nil
}

func (c *Client) debounced() []func() {
	if c.unavailable() != nil {
		c.resolveWaiters(nil)
		return nil
	}
	waiters := c.waiters
	c.waiters = nil
	return []func(){c.fetchEffect(fetchRefetch, waiters)}
}

func (c *Client) fetchEffect(kind fetchKind, waiters []chan error) func() {
	gen, roomID := c.gen, c.roomID
	return func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.FetchTimeout)
		r, err := c.fetcher.FetchRoom(ctx, roomID)
		cancel()
		c.apply(func() []func() { return c.fetched(kind, gen, waiters, r, err) })
	}
}

func (c *Client) fetched(kind fetchKind, gen uint64, waiters []chan error, r *room.Room, err error) []func() {
	if c.closed {
		resolve(waiters, ErrClosed)
		return nil
	}
	if gen != c.gen || c.state == StateTornDown {
		resolve(waiters, nil)
		return nil
	}
	if err == nil && (r == nil || r.ID != c.roomID) {
		err = errors.New("fetch returned a different room")
	}

	if err != nil {
		se := classifyFetch(c.roomID, err)
		// A removed room is terminal; FailureThreshold only covers transient errors.
		if se.Code == CodeRoomRemoved {
			resolve(waiters, se)
			return c.removed(se)
		}
		if kind == fetchInitial {
			slog.Warn("initial fetch failed", "room_id", c.roomID, "code", se.Code, "error", err)
			c.fetchErr = se
			return nil
		}
		c.failures++
		slog.Warn("refetch failed", "room_id", c.roomID, "failures", c.failures, "code", se.Code, "error", err)
		if c.failures > c.cfg.FailureThreshold {
			c.fetchErr = se
			resolve(waiters, se)
			return nil
		}
		resolve(waiters, nil)
		return nil
	}

	if c.cache.NewerThan(r) {
		slog.Debug("stale fetch result ignored", "room_id", c.roomID, "version", r.Version, "cached", c.cache.Version)
	} else {
		cp := r.Clone()
		c.cache = &cp
	}
	c.fetchErr = nil
	c.failures = 0
	if kind == fetchRefetch {
		c.lastRefetch = c.clock.Now()
	}
	c.settle()
	resolve(waiters, nil)
	return nil
}

// settle moves a loading client to its steady state once the cache is valid.
func (c *Client) settle() {
	if c.state != StateLoading {
		return
	}
	c.fetchErr = nil
	if c.channelDown {
		c.state = StateDegraded
		return
	}
	c.state = StateSynced
}

func (c *Client) onEvent(gen uint64, e notify.Event) []func() {
	if gen != c.subGen || c.closed || c.state == StateTornDown {
		return nil
	}
	if e.RoomID != "" && e.RoomID != c.roomID {
		return nil
	}

	switch e.Kind {
	case notify.KindDelete:
		return c.removed(&Error{Code: CodeRoomRemoved, RoomID: c.roomID})
	case notify.KindUpdate:
		if !c.lastRefetch.IsZero() && c.clock.Now().Sub(c.lastRefetch) < c.cfg.Cooldown {
			slog.Debug("notification ignored during cooldown", "room_id", c.roomID)
			return nil
		}
		if c.stale(e) {
			slog.Debug("stale notification ignored", "room_id", c.roomID, "version", eventVersion(e), "cached", c.cache.Version)
			return nil
		}
		if e.Payload.Complete() && e.Payload.ID == c.roomID {
			cp := e.Payload.Clone()
			c.cache = &cp
			c.settle()
			return nil
		}
		return c.requestRefetch(nil)
	}
	return nil
}

// stale reports whether e announces a version no newer than the cache.
// Events without a version are never stale.
func (c *Client) stale(e notify.Event) bool {
	v := eventVersion(e)
	return c.cache != nil && v > 0 && c.cache.Version > 0 && v <= c.cache.Version
}

func eventVersion(e notify.Event) int64 {
	if e.Version > 0 {
		return e.Version
	}
	if e.Payload != nil {
		return e.Payload.Version
	}
	return 0
}

func (c *Client) removed(err *Error) []func() {
	slog.Info("room removed", "room_id", c.roomID)
	c.cache = nil
	c.fetchErr = err
	c.channelErr = nil
	c.state = StateTornDown
	return c.teardown(err)
}

func (c *Client) onStatus(gen uint64, s notify.Status, err error) []func() {
	if gen != c.subGen || c.closed || c.state == StateTornDown {
		return nil
	}
	if s == notify.StatusSubscribed {
		return c.recover()
	}
	if !s.Failed() {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("channel %s", s)
	}
	return c.channelFailed(err)
}

func (c *Client) subscribeEffect() func() {
	gen, roomID := c.subGen, c.roomID
	handler := &subHandler{c: c, gen: gen}
	return func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.FetchTimeout)
		defer cancel()
		sub, err := c.channel.Subscribe(ctx, roomID, handler)
		c.apply(func() []func() { return c.subscribed(gen, sub, err) })
	}
}

func (c *Client) subscribed(gen uint64, sub notify.Subscription, err error) []func() {
	if gen != c.subGen || c.closed || c.state == StateTornDown {
		if sub != nil {
			return []func(){func() { sub.Close() }}
		}
		return nil
	}
	if err != nil {
		return c.channelFailed(fmt.Errorf("subscribe: %w", err))
	}
	c.sub = sub
	return c.recover()
}

func (c *Client) channelFailed(err error) []func() {
	c.chanFailures++
	c.channelDown = true
	if c.state == StateSynced {
		c.state = StateDegraded
	}
	slog.Warn("notification channel failed", "room_id", c.roomID, "failures", c.chanFailures, "error", err)

	if c.chanFailures >= c.cfg.RebuildAfter {
		return c.rebuild(err)
	}
	c.arm(&c.retryTimer, c.nextBackOff(), c.retry)
	return nil
}

func (c *Client) nextBackOff() time.Duration {
	d := c.backoff.NextBackOff()
	if d == backoff.Stop || d < 0 {
		return c.cfg.RetryBackoff
	}
	return d
}

func (c *Client) retry() []func() {
	if c.closed || c.state == StateTornDown {
		return nil
	}
	gen, sub, roomID := c.subGen, c.sub, c.roomID
	handler := &subHandler{c: c, gen: gen}
	return []func(){func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.FetchTimeout)
		defer cancel()
		if sub == nil {
			s, err := c.channel.Subscribe(ctx, roomID, handler)
			c.apply(func() []func() { return c.subscribed(gen, s, err) })
			return
		}
		err := sub.Resubscribe(ctx)
		c.apply(func() []func() { return c.resubscribed(gen, err) })
	}}
}

func (c *Client) resubscribed(gen uint64, err error) []func() {
	if gen != c.subGen || c.closed || c.state == StateTornDown {
		return nil
	}
	if err != nil {
		return c.channelFailed(fmt.Errorf("resubscribe: %w", err))
	}
	return c.recover()
}

// rebuild replaces the subscription and refetches so nothing missed while
// the channel was down is lost.
func (c *Client) rebuild(cause error) []func() {
	slog.Warn("rebuilding notification channel", "room_id", c.roomID)
	c.chanFailures = 0
	c.disarm(&c.retryTimer)
	c.channelErr = &Error{Code: CodeChannel, RoomID: c.roomID, Err: cause}
	effects := []func(){c.dropSubscription(), c.subscribeEffect()}
	return append(effects, c.requestRefetch(nil)...)
}

func (c *Client) recover() []func() {
	c.channelDown = false
	c.chanFailures = 0
	c.channelErr = nil
	c.backoff.Reset()
	c.disarm(&c.retryTimer)
	if c.state != StateDegraded {
		return nil
	}

	slog.Info("notification channel recovered", "room_id", c.roomID)
	c.state = StateSynced
	c.reconnected = true
	c.arm(&c.reconnectTimer, c.cfg.ReconnectedWindow, func() []func() {
		c.reconnected = false
		return nil
	})
	return c.requestRefetch(nil)
}

// dropSubscription detaches the current subscription; callbacks still in
// flight from it are ignored.
func (c *Client) dropSubscription() func() {
	c.subGen++
	sub := c.sub
	c.sub = nil
	if sub == nil {
		return nil
	}
	return func() {
		if err := sub.Close(); err != nil {
			slog.Debug("close subscription", "error", err)
		}
	}
}

func (c *Client) teardown(waiterErr error) []func() {
	c.stopTimers()
	c.resolveWaiters(waiterErr)
	c.reconnected = false
	c.channelDown = false
	c.chanFailures = 0
	c.gen++
	return []func(){c.dropSubscription()}
}

func (c *Client) stopTimers() {
	c.disarm(&c.resolveTimer)
	c.disarm(&c.debounceTimer)
	c.disarm(&c.retryTimer)
	c.disarm(&c.reconnectTimer)
}

func (c *Client) resolveWaiters(err error) {
	resolve(c.waiters, err)
	c.waiters = nil
}

func resolve(waiters []chan error, err error) {
	for _, w := range waiters {
		w <- err
	}
}
