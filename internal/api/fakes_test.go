//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
	"github.com/ashureev/medprofile/internal/store"
)

type fakeRepo struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	records map[string]*domain.AssessmentRecord
	seq     int
	pingErr error
	failAll error
}

var _ store.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:   make(map[string]*domain.User),
		records: make(map[string]*domain.AssessmentRecord),
	}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *user
	f.users[user.UserID] = &cp
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.LastSeenAt = lastSeen
	}
	return nil
}

func (f *fakeRepo) CreateAssessment(_ context.Context, rec *domain.AssessmentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	f.seq++
	now := time.Unix(int64(1_700_000_000+f.seq), 0)
	rec.ID = fmt.Sprintf("rec-%d", f.seq)
	rec.Status = domain.StatusInProgress
	rec.Progress.RecordID = rec.ID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	cp := *rec
	cp.Progress = rec.Progress.Clone()
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateAssessment(_ context.Context, rec *domain.AssessmentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	existing, ok := f.records[rec.ID]
	if !ok || existing.UserID != rec.UserID {
		return store.ErrNotFound
	}
	if !existing.IsEditable() {
		return store.ErrNotEditable
	}
	if existing.Kind != rec.Kind {
		return store.ErrKindMismatch
	}
	f.seq++
	existing.Progress = rec.Progress.Clone()
	existing.Progress.RecordID = rec.ID
	existing.UpdatedAt = time.Unix(int64(1_700_000_000+f.seq), 0)
	*rec = *existing
	return nil
}

func (f *fakeRepo) GetAssessment(_ context.Context, userID, id string) (*domain.AssessmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	rec, ok := f.records[id]
	if !ok || rec.UserID != userID {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) GetLatestInProgress(_ context.Context, userID string, kind domain.AssessmentKind) (*domain.AssessmentRecord, error) {
	recs, err := f.list(userID, store.ListFilter{Kind: kind, Status: domain.StatusInProgress, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	return recs[0], nil
}

func (f *fakeRepo) CompleteAssessment(_ context.Context, userID, id string, at time.Time) (*domain.AssessmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	rec, ok := f.records[id]
	if !ok || rec.UserID != userID {
		return nil, store.ErrNotFound
	}
	switch rec.Status {
	case domain.StatusInProgress:
		rec.Status = domain.StatusCompleted
		rec.CompletedAt = &at
		rec.UpdatedAt = at
	case domain.StatusAbandoned:
		return nil, store.ErrNotEditable
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) ListAssessments(_ context.Context, userID string, filter store.ListFilter) ([]*domain.AssessmentRecord, error) {
	return f.list(userID, filter)
}

func (f *fakeRepo) list(userID string, filter store.ListFilter) ([]*domain.AssessmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	var out []*domain.AssessmentRecord
	for _, rec := range f.records {
		if rec.UserID != userID {
			continue
		}
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeRepo) AbandonStaleAssessments(context.Context, time.Duration) ([]*domain.AssessmentRecord, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRepo) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeRepo) Close() error {
	return nil
}
