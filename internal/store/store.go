// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("record not found")

	// ErrNotEditable is returned when updating a record that is no longer in
	// progress.
	ErrNotEditable = errors.New("record is no longer in progress")

	// ErrKindMismatch is returned when an update names a different kind than
	// the stored record.
	ErrKindMismatch = errors.New("record kind cannot change")
)

// ListFilter narrows ListAssessments. Zero fields match everything.
type ListFilter struct {
	Kind   domain.AssessmentKind
	Status domain.RecordStatus
	Limit  int
}

// Repository defines the interface for persisting users and assessments.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when the
	// user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateAssessment inserts a new in-progress record. ID and timestamps
	// are assigned by the store.
	CreateAssessment(ctx context.Context, record *domain.AssessmentRecord) error

	// UpdateAssessment replaces the progress of an in-progress record owned
	// by record.UserID.
	UpdateAssessment(ctx context.Context, record *domain.AssessmentRecord) error

	// GetAssessment retrieves a record owned by userID.
	GetAssessment(ctx context.Context, userID, id string) (*domain.AssessmentRecord, error)

	// GetLatestInProgress returns the most recently updated in-progress
	// record of kind for userID, or ErrNotFound.
	GetLatestInProgress(ctx context.Context, userID string, kind domain.AssessmentKind) (*domain.AssessmentRecord, error)

	// CompleteAssessment marks a record completed. Completing an already
	// completed record is a no-op.
	CompleteAssessment(ctx context.Context, userID, id string, at time.Time) (*domain.AssessmentRecord, error)

	// ListAssessments returns userID's records, newest first.
	ListAssessments(ctx context.Context, userID string, filter ListFilter) ([]*domain.AssessmentRecord, error)

	// AbandonStaleAssessments marks in-progress records not updated within
	// ttl as abandoned and returns them.
	AbandonStaleAssessments(ctx context.Context, ttl time.Duration) ([]*domain.AssessmentRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
