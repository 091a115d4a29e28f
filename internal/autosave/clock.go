package autosave

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Clock is the time source for debouncing, retries and backup timestamps.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

// RealClock is a Clock backed by package time.
type RealClock struct{}

// Now returns the current wall time.
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc waits for d then calls f in its own goroutine.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// clockTimer adapts a Clock to the backoff.Timer used between retries.
type clockTimer struct {
	clock Clock
	timer Timer
	c     chan time.Time
}

var _ backoff.Timer = (*clockTimer)(nil)

func newClockTimer(clock Clock) *clockTimer {
	return &clockTimer{clock: clock}
}

func (t *clockTimer) Start(d time.Duration) {
	c := make(chan time.Time, 1)
	t.c = c
	t.timer = t.clock.AfterFunc(d, func() {
		c <- t.clock.Now()
	})
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.c
}
