package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
	"github.com/cenkalti/backoff/v4"
)

// fakeClock fires AfterFunc callbacks synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward by d, running due callbacks in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.fn()
	}
}

// Active returns the number of armed timers.
func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// delayRecorder hands out retry timers that fire at once and remembers the
// requested delays.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) newTimer() backoff.Timer {
	return &instantTimer{rec: r}
}

func (r *delayRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type instantTimer struct {
	rec *delayRecorder
	c   chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.rec.mu.Lock()
	t.rec.delays = append(t.rec.delays, d)
	t.rec.mu.Unlock()
	t.c = make(chan time.Time, 1)
	t.c <- time.Time{}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

type statusError struct {
	code int
}

func (e *statusError) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusError) Retryable() bool { return e.code >= 500 }

// fakeStore records every remote call.
type fakeStore struct {
	mu          sync.Mutex
	calls       []domain.AssessmentProgress
	failNext    int
	alwaysFail  bool
	err         error
	created     int
	incomplete  *domain.AssessmentRecord
	fetchErr    error
	fetchCalls  int
	completed   []string
	completeErr error
	closed      map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{err: errors.New("network unreachable")}
}

func (f *fakeStore) CreateOrUpdate(_ context.Context, p domain.AssessmentProgress) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p.Clone())
	if f.alwaysFail || f.failNext > 0 {
		if f.failNext > 0 {
			f.failNext--
		}
		return "", f.err
	}
	if f.closed[p.RecordID] {
		return "", fmt.Errorf("update %s: %w", p.RecordID, ErrRecordClosed)
	}
	if p.RecordID != "" {
		return p.RecordID, nil
	}
	f.created++
	return fmt.Sprintf("rec-%d", f.created), nil
}

func (f *fakeStore) FetchIncomplete(_ context.Context, _ domain.AssessmentKind) (*domain.AssessmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.incomplete == nil {
		return nil, ErrNotFound
	}
	r := *f.incomplete
	return &r, nil
}

func (f *fakeStore) MarkComplete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) Calls() []domain.AssessmentProgress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AssessmentProgress(nil), f.calls...)
}

func (f *fakeStore) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memKV is an in-memory KeyValueStore with switchable failures.
type memKV struct {
	mu      sync.Mutex
	items   map[string]string
	failSet bool
}

func newMemKV() *memKV {
	return &memKV{items: make(map[string]string)}
}

func (m *memKV) GetItem(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *memKV) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("quota exceeded")
	}
	m.items[key] = value
	return nil
}

func (m *memKV) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memKV) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok
}

func discProgress(step int) domain.AssessmentProgress {
	return domain.AssessmentProgress{
		Kind: domain.KindDISC,
		DISC: &domain.DISCResult{Dominance: float64(step)},
		Scratch: domain.Scratch{
			Step:    step,
			Answers: map[string]string{"q1": "most"},
		},
	}
}
