// Package sweeper abandons assessments that have been left in progress for
// too long.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
)

// Abandoner is the storage dependency of the sweeper.
type Abandoner interface {
	AbandonStaleAssessments(ctx context.Context, ttl time.Duration) ([]*domain.AssessmentRecord, error)
}

// AbandonCallback is called for each record the sweeper abandons.
type AbandonCallback func(rec *domain.AssessmentRecord)

// Sweeper periodically marks idle in-progress records as abandoned.
type Sweeper struct {
	repo      Abandoner
	ttl       time.Duration
	interval  time.Duration
	onAbandon AbandonCallback
}

// New creates a sweeper that runs every interval and abandons records idle
// for longer than ttl.
func New(repo Abandoner, ttl, interval time.Duration, onAbandon AbandonCallback) *Sweeper {
	return &Sweeper{
		repo:      repo,
		ttl:       ttl,
		interval:  interval,
		onAbandon: onAbandon,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	slog.Info("Sweeper started", "interval", s.interval, "ttl", s.ttl)

	s.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			slog.Info("Sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep runs one pass and returns the number of abandoned records.
func (s *Sweeper) Sweep(ctx context.Context) int {
	abandoned, err := s.repo.AbandonStaleAssessments(ctx, s.ttl)
	if err != nil {
		slog.Error("Sweeper failed to abandon stale assessments", "error", err)
		return 0
	}
	if len(abandoned) == 0 {
		return 0
	}

	for _, rec := range abandoned {
		slog.Info("Sweeper abandoned assessment",
			"record_id", rec.ID,
			"user_id", rec.UserID,
			"kind", rec.Kind)
		if s.onAbandon != nil {
			s.onAbandon(rec)
		}
	}
	slog.Info("Sweeper pass completed", "abandoned", len(abandoned))
	return len(abandoned)
}
