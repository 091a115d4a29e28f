// Package shared provides helpers used by more than one storage layer.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ConflictRetry bounds RetryOnConflict.
type ConflictRetry struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultConflictRetry makes three attempts, waiting 50ms then 100ms.
var DefaultConflictRetry = ConflictRetry{Attempts: 3, BaseDelay: 50 * time.Millisecond}

// IsSQLiteConflictError reports whether err is SQLite lock contention
// (SQLITE_BUSY or "database is locked"). Both clear once the other writer
// commits, so the statement can be retried.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// RetryOnConflict runs op until it succeeds, fails with a non-conflict
// error, or the attempts run out. Delays double after each conflict.
func RetryOnConflict(ctx context.Context, name string, policy ConflictRetry, op func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultConflictRetry.BaseDelay
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = policy.BaseDelay << policy.Attempts
	exp.MaxElapsedTime = 0
	exp.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(policy.Attempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op()
		if err != nil && !IsSQLiteConflictError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		slog.Debug("Database locked, retrying", "op", name, "attempt", attempt, "delay", delay)
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err != nil && IsSQLiteConflictError(err) {
		return fmt.Errorf("%s after %d attempts: %w", name, attempt, err)
	}
	return err
}
