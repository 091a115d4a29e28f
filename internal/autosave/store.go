// Package autosave keeps in-progress assessment results safe while a user
// works through a flow: it debounces writes to the remote record store,
// retries transient failures, shadows every attempt in local storage and
// reconciles both on load.
package autosave

import (
	"context"
	"errors"

	"github.com/ashureev/medprofile/internal/domain"
)

var (
	// ErrNotFound is returned by RecordStore.FetchIncomplete when the user has
	// nothing to resume. It is a normal outcome, not a failure.
	ErrNotFound = errors.New("no incomplete assessment")

	// ErrUnauthenticated short-circuits the save path when no user is known.
	ErrUnauthenticated = errors.New("no authenticated user")

	// ErrRecordClosed is returned by RecordStore.CreateOrUpdate when the
	// record being updated is gone or no longer in progress, for example
	// after another tab completed it or the server abandoned it.
	ErrRecordClosed = errors.New("record no longer accepts updates")
)

// RecordStore is the remote store progress is persisted to. Implementations
// are scoped to a single authenticated user.
type RecordStore interface {
	// CreateOrUpdate creates a record when progress.RecordID is empty and
	// updates it otherwise, returning the record id. Updates to a closed
	// record fail with an error wrapping ErrRecordClosed.
	CreateOrUpdate(ctx context.Context, progress domain.AssessmentProgress) (string, error)

	// FetchIncomplete returns the most recent in-progress record of the given
	// kind, or ErrNotFound.
	FetchIncomplete(ctx context.Context, kind domain.AssessmentKind) (*domain.AssessmentRecord, error)

	// MarkComplete transitions the record to completed.
	MarkComplete(ctx context.Context, id string) error
}

// KeyValueStore is simple durable string storage with no transactions.
type KeyValueStore interface {
	// GetItem returns the value and whether the key exists.
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// RetryableError is implemented by store errors that know whether a retry
// can help, such as HTTP status errors.
type RetryableError interface {
	error
	Retryable() bool
}

// isPermanent reports whether err should not be retried. Errors that do not
// implement RetryableError are assumed transient.
func isPermanent(err error) bool {
	if errors.Is(err, ErrUnauthenticated) || errors.Is(err, context.Canceled) {
		return true
	}
	var r RetryableError
	if errors.As(err, &r) {
		return !r.Retryable()
	}
	return false
}
