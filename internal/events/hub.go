// Package events fans assessment record changes out to a user's open
// connections so other tabs and devices can reconcile.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
)

// Type names a record change.
type Type string

const (
	TypeSaved     Type = "saved"
	TypeCompleted Type = "completed"
	TypeAbandoned Type = "abandoned"
)

// subscriberBuffer is how many events a slow subscriber may lag behind
// before further events are dropped for it.
const subscriberBuffer = 16

// Event describes a change to one assessment record.
type Event struct {
	Type      Type                  `json:"type"`
	RecordID  string                `json:"record_id"`
	Kind      domain.AssessmentKind `json:"assessment_type"`
	Status    domain.RecordStatus   `json:"status"`
	SessionID string                `json:"session_id,omitempty"`
	At        time.Time             `json:"at"`
}

// FromRecord builds an event of type t for rec.
func FromRecord(t Type, rec *domain.AssessmentRecord, sessionID string) Event {
	return Event{
		Type:      t,
		RecordID:  rec.ID,
		Kind:      rec.Kind,
		Status:    rec.Status,
		SessionID: sessionID,
		At:        rec.UpdatedAt,
	}
}

// Subscription receives events for one user session.
type Subscription struct {
	UserID    string
	SessionID string
	ch        chan Event
	closed    bool
}

// C returns the event channel. It is closed when the subscription is
// unregistered or replaced.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Hub tracks subscriptions per user and session.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*Subscription
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*Subscription),
	}
}

// Register subscribes a user session. An existing subscription for the same
// session is replaced and closed.
func (h *Hub) Register(userID, sessionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*Subscription)
	}
	if existing, exists := h.active[userID][sessionID]; exists {
		h.closeLocked(existing)
	}

	sub := &Subscription{
		UserID:    userID,
		SessionID: sessionID,
		ch:        make(chan Event, subscriberBuffer),
	}
	h.active[userID][sessionID] = sub
	slog.Info("Event subscriber registered", "user_id", userID, "session_id", sessionID)
	return sub
}

// Unregister removes sub if it is still the current subscription for its
// session.
func (h *Hub) Unregister(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.active[sub.UserID]
	if !ok {
		return
	}
	if current, exists := sessions[sub.SessionID]; exists && current == sub {
		delete(sessions, sub.SessionID)
		if len(sessions) == 0 {
			delete(h.active, sub.UserID)
		}
		h.closeLocked(sub)
		slog.Info("Event subscriber unregistered", "user_id", sub.UserID, "session_id", sub.SessionID)
	}
}

// CloseAll ends every subscription, which lets open streams finish with a
// normal closure. It returns how many were closed.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for userID, sessions := range h.active {
		for _, sub := range sessions {
			h.closeLocked(sub)
			n++
		}
		delete(h.active, userID)
	}
	return n
}

func (h *Hub) closeLocked(sub *Subscription) {
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Publish delivers ev to every subscription of userID without blocking.
// It returns the number of subscribers that received it.
func (h *Hub) Publish(userID string, ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sid, sub := range h.active[userID] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			slog.Warn("Dropping event for slow subscriber", "user_id", userID, "session_id", sid, "record_id", ev.RecordID)
		}
	}
	return delivered
}

// Count returns the number of subscriptions for userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}
