package testutil

import (
	"sort"
	"sync"
	"time"
)

// DefaultEpoch is the start time of a FakeClock created with a zero time.
var DefaultEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// FakeClock is a manually advanced clock for deterministic timer tests.
//
// Timers registered with AfterFunc fire only inside Advance, synchronously
// on the caller's goroutine, in deadline order. A timer scheduled by a
// firing callback fires in the same Advance if it falls due.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
// Callbacks run without the mutex held.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int64
	timers []*fakeTimer
}

type fakeTimer struct {
	seq     int64
	when    time.Time
	f       func()
	stopped bool
}

// NewFakeClock creates a clock reading start (DefaultEpoch if zero).
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = DefaultEpoch
	}
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once the clock has advanced by d.
// The returned stop function reports whether it prevented the call.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &fakeTimer{seq: c.seq, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.stopped {
			return false
		}
		t.stopped = true
		c.remove(t)
		return true
	}
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		t := c.nextDue(target)
		if t == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = t.when
		t.stopped = true
		c.remove(t)
		c.mu.Unlock()

		t.f()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// nextDue returns the earliest timer due at or before target.
// Must be called with mu held.
func (c *FakeClock) nextDue(target time.Time) *fakeTimer {
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].when.Equal(c.timers[j].when) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].when.Before(c.timers[j].when)
	})
	if len(c.timers) == 0 || c.timers[0].when.After(target) {
		return nil
	}
	return c.timers[0]
}

// remove must be called with mu held.
func (c *FakeClock) remove(t *fakeTimer) {
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}
