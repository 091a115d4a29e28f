package autosave

import (
	"sync"
	"time"
)

// DefaultQuietInterval is how long input must be quiet before a save fires.
const DefaultQuietInterval = 500 * time.Millisecond

// Debouncer coalesces rapid calls into a single call after a quiet period.
type Debouncer struct {
	mu       sync.Mutex
	clock    Clock
	timer    Timer
	duration time.Duration
}

// NewDebouncer creates a debouncer with the given quiet interval.
func NewDebouncer(clock Clock, duration time.Duration) *Debouncer {
	if clock == nil {
		clock = RealClock{}
	}
	if duration <= 0 {
		duration = DefaultQuietInterval
	}
	return &Debouncer{clock: clock, duration: duration}
}

// Schedule arms fn to run after the quiet interval, replacing any call that
// is still pending.
func (d *Debouncer) Schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}

	var t Timer
	t = d.clock.AfterFunc(d.duration, func() {
		d.mu.Lock()
		if d.timer != t {
			// Superseded between firing and acquiring the lock.
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
	d.timer = t
}

// Pending reports whether a call is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Cancel drops any pending call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Immediate cancels any pending call and runs fn on the caller's goroutine.
func (d *Debouncer) Immediate(fn func()) {
	d.Cancel()
	fn()
}
