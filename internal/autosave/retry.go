package autosave

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the wait before the first retry; it doubles after.
	DefaultBaseDelay = time.Second
)

// Retrier runs an operation with bounded exponential backoff.
type Retrier struct {
	maxRetries int
	baseDelay  time.Duration
	clock      Clock
	newTimer   func() backoff.Timer
	logger     *slog.Logger
}

// NewRetrier creates a retrier. newTimer may be nil, in which case waits are
// driven by clock.
func NewRetrier(maxRetries int, baseDelay time.Duration, clock Clock, newTimer func() backoff.Timer, logger *slog.Logger) *Retrier {
	if clock == nil {
		clock = RealClock{}
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	if newTimer == nil {
		newTimer = func() backoff.Timer { return newClockTimer(clock) }
	}
	return &Retrier{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		clock:      clock,
		newTimer:   newTimer,
		logger:     logger,
	}
}

func (r *Retrier) policy(ctx context.Context) backoff.BackOff {
	if r.maxRetries == 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.baseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = r.baseDelay << r.maxRetries
	b.MaxElapsedTime = 0
	b.Clock = r.clock
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxRetries)), ctx)
}

// Do calls op until it succeeds, fails permanently or the retry budget is
// spent. It returns the number of attempts made and the last error.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++
		err := op(ctx)
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		r.logger.Warn("Save attempt failed, retrying",
			"error", err,
			"attempt", attempts,
			"retries_left", r.maxRetries-attempts+1,
			"delay", next)
	}

	err := backoff.RetryNotifyWithTimer(operation, r.policy(ctx), notify, r.newTimer())
	return attempts, err
}
