package autosave

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_RapidCallsRunOnceWithLastValue(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(clock, 50*time.Millisecond)

	var calls, last int32
	for i := int32(1); i <= 10; i++ {
		v := i
		d.Schedule(func() {
			atomic.AddInt32(&calls, 1)
			atomic.StoreInt32(&last, v)
		})
		clock.Advance(10 * time.Millisecond)
	}
	require.Equal(t, int32(0), atomic.LoadInt32(&calls), "no call while input keeps arriving")

	clock.Advance(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(10), atomic.LoadInt32(&last))
	assert.False(t, d.Pending())
}

func TestDebouncer_Cancel(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(clock, 50*time.Millisecond)

	var calls int32
	d.Schedule(func() { atomic.AddInt32(&calls, 1) })
	require.True(t, d.Pending())

	d.Cancel()
	clock.Advance(time.Second)

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, clock.Active())
}

func TestDebouncer_ImmediateCancelsPending(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(clock, 50*time.Millisecond)

	var calls int32
	d.Schedule(func() { atomic.AddInt32(&calls, 1) })
	d.Immediate(func() { atomic.AddInt32(&calls, 10) })
	clock.Advance(time.Second)

	assert.Equal(t, int32(10), atomic.LoadInt32(&calls))
}

func TestDebouncer_DefaultInterval(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(clock, 0)

	var calls int32
	d.Schedule(func() { atomic.AddInt32(&calls, 1) })
	clock.Advance(DefaultQuietInterval - time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))

	clock.Advance(time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDebouncer_RealClock(t *testing.T) {
	d := NewDebouncer(RealClock{}, 20*time.Millisecond)

	var calls int32
	for i := 0; i < 5; i++ {
		d.Schedule(func() { atomic.AddInt32(&calls, 1) })
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
