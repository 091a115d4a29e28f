// Package domain contains core domain types for the medprofile application.
package domain

import (
	"time"
)

// AnonymousUser is the identity used for storage keys when no user is known.
const AnonymousUser = "anonymous"

// User represents a person taking assessments.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleFor returns how long the user has been inactive as of now.
func (u *User) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(u.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}

// Identity is the authenticated user a client acts on behalf of.
// The zero value means no authenticated user.
type Identity struct {
	UserID string
}

// IsZero reports whether no user is authenticated.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// StorageScope returns the user component of local storage keys.
func (i Identity) StorageScope() string {
	if i.IsZero() {
		return AnonymousUser
	}
	return i.UserID
}
