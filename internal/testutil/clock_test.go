package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.Equal(t, DefaultEpoch, clock.Now())
}

func TestFakeClock_AdvanceMovesTime(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	clock.Advance(3 * time.Second)
	assert.Equal(t, DefaultEpoch.Add(3*time.Second), clock.Now())
}

func TestFakeClock_FiresDueTimersInOrder(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	var fired []string

	clock.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	clock.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	clock.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Zero(t, clock.Pending())
}

func TestFakeClock_CallbackSeesDeadline(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	var at time.Time
	clock.AfterFunc(time.Second, func() { at = clock.Now() })

	clock.Advance(10 * time.Second)
	assert.Equal(t, DefaultEpoch.Add(time.Second), at)
}

func TestFakeClock_Stop(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	fired := false
	stop := clock.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, stop())
	assert.False(t, stop(), "second stop reports nothing prevented")

	clock.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeClock_TimerScheduledByCallback(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			clock.AfterFunc(time.Second, tick)
		}
	}
	clock.AfterFunc(time.Second, tick)

	clock.Advance(5 * time.Second)
	assert.Equal(t, 3, count)
}
