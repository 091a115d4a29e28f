package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
	"github.com/ashureev/medprofile/internal/events"
	"github.com/ashureev/medprofile/internal/identity"
	"github.com/ashureev/medprofile/internal/store"
	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// AssessmentHandler handles assessment record endpoints.
type AssessmentHandler struct {
	*Handler
	limiter *WriteLimiter
	now     func() time.Time
}

// NewAssessmentHandler creates a new assessment handler. limiter may be nil
// to disable write throttling.
func NewAssessmentHandler(base *Handler, limiter *WriteLimiter) *AssessmentHandler {
	return &AssessmentHandler{Handler: base, limiter: limiter, now: time.Now}
}

// RegisterRoutes registers assessment routes.
func (h *AssessmentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Route("/assessments", func(r chi.Router) {
			r.Get("/", h.List)
			r.Get("/incomplete", h.GetIncomplete)
			r.Get("/{id}", h.Get)

			r.Group(func(r chi.Router) {
				if h.limiter != nil {
					r.Use(h.limiter.Middleware)
				}
				r.Post("/", h.Create)
				r.Put("/{id}", h.Update)
				r.Post("/{id}/complete", h.Complete)
			})
		})
	})
}

// GetMe returns the current user's information.
func (h *AssessmentHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.UserID,
		"username":   user.Username,
		"session_id": identity.SessionIDFromContext(r.Context()),
		"created_at": user.CreatedAt,
	})
}

// Create stores a new in-progress assessment.
func (h *AssessmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var progress domain.AssessmentProgress
	if status, err := h.decode(w, r, &progress); err != nil {
		Error(w, status, err.Error())
		return
	}

	rec := &domain.AssessmentRecord{
		UserID:   userID,
		Kind:     progress.Kind,
		Progress: progress,
	}
	if err := h.repo.CreateAssessment(r.Context(), rec); err != nil {
		slog.Error("Failed to create assessment", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to save assessment")
		return
	}

	slog.Debug("Assessment created", "record_id", rec.ID, "user_id", userID, "kind", rec.Kind)
	h.publish(userID, events.FromRecord(events.TypeSaved, rec, identity.SessionIDFromContext(r.Context())))
	JSON(w, http.StatusCreated, map[string]string{"id": rec.ID})
}

// Update replaces the progress of an owned in-progress assessment.
func (h *AssessmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var progress domain.AssessmentProgress
	if status, err := h.decode(w, r, &progress); err != nil {
		Error(w, status, err.Error())
		return
	}
	if progress.RecordID != "" && progress.RecordID != id {
		Error(w, http.StatusBadRequest, "payload id does not match path")
		return
	}

	rec := &domain.AssessmentRecord{
		ID:       id,
		UserID:   userID,
		Kind:     progress.Kind,
		Progress: progress,
	}
	err := h.repo.UpdateAssessment(r.Context(), rec)
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "not_found")
		return
	case errors.Is(err, store.ErrNotEditable):
		Error(w, http.StatusConflict, "assessment_not_editable")
		return
	case errors.Is(err, store.ErrKindMismatch):
		Error(w, http.StatusConflict, "assessment_kind_mismatch")
		return
	case err != nil:
		slog.Error("Failed to update assessment", "error", err, "record_id", id, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to save assessment")
		return
	}

	h.publish(userID, events.FromRecord(events.TypeSaved, rec, identity.SessionIDFromContext(r.Context())))
	JSON(w, http.StatusOK, map[string]string{"id": rec.ID})
}

// GetIncomplete returns the most recent in-progress assessment of a kind.
func (h *AssessmentHandler) GetIncomplete(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	kind, err := domain.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.repo.GetLatestInProgress(r.Context(), userID, kind)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		slog.Error("Failed to fetch incomplete assessment", "error", err, "user_id", userID, "kind", kind)
		Error(w, http.StatusInternalServerError, "failed to load assessment")
		return
	}
	JSON(w, http.StatusOK, rec)
}

// Get returns one owned assessment.
func (h *AssessmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	rec, err := h.repo.GetAssessment(r.Context(), userID, id)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		slog.Error("Failed to fetch assessment", "error", err, "record_id", id, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load assessment")
		return
	}
	JSON(w, http.StatusOK, rec)
}

// Complete marks an owned assessment as completed. Repeating the call is
// harmless.
func (h *AssessmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	rec, err := h.repo.CompleteAssessment(r.Context(), userID, id, h.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "not_found")
		return
	case errors.Is(err, store.ErrNotEditable):
		Error(w, http.StatusConflict, "assessment_not_editable")
		return
	case err != nil:
		slog.Error("Failed to complete assessment", "error", err, "record_id", id, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to complete assessment")
		return
	}

	slog.Info("Assessment completed", "record_id", id, "user_id", userID, "kind", rec.Kind)
	h.publish(userID, events.FromRecord(events.TypeCompleted, rec, identity.SessionIDFromContext(r.Context())))
	JSON(w, http.StatusOK, rec)
}

// List returns the user's assessments, newest first.
func (h *AssessmentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	filter, err := parseListFilter(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.repo.ListAssessments(r.Context(), userID, filter)
	if err != nil {
		slog.Error("Failed to list assessments", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list assessments")
		return
	}
	if recs == nil {
		recs = []*domain.AssessmentRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"assessments": recs})
}

var errBadStatus = errors.New("status must be one of in_progress, completed, abandoned")

func parseListFilter(r *http.Request) (store.ListFilter, error) {
	q := r.URL.Query()
	filter := store.ListFilter{Limit: defaultListLimit}

	if k := q.Get("kind"); k != "" {
		kind, err := domain.ParseKind(k)
		if err != nil {
			return filter, err
		}
		filter.Kind = kind
	}
	if s := q.Get("status"); s != "" {
		switch st := domain.RecordStatus(s); st {
		case domain.StatusInProgress, domain.StatusCompleted, domain.StatusAbandoned:
			filter.Status = st
		default:
			return filter, errBadStatus
		}
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		filter.Limit = n
	}
	return filter, nil
}
