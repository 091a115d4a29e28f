package autosave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
	"github.com/cenkalti/backoff/v4"
)

// Config tunes a Saver. Zero fields take the package defaults. A negative
// MaxRetries disables retries.
type Config struct {
	QuietInterval time.Duration
	MaxRetries    int
	BaseDelay     time.Duration
	BackupTTL     time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		QuietInterval: DefaultQuietInterval,
		MaxRetries:    DefaultMaxRetries,
		BaseDelay:     DefaultBaseDelay,
		BackupTTL:     DefaultBackupTTL,
	}
}

type options struct {
	clock    Clock
	newTimer func() backoff.Timer
	logger   *slog.Logger
}

// Option customizes a Saver.
type Option func(*options)

// WithClock sets the time source used for debouncing and timestamps.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRetryTimer sets the timer used to wait between retries.
func WithRetryTimer(newTimer func() backoff.Timer) Option {
	return func(o *options) { o.newTimer = newTimer }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Saver owns the progress of one assessment flow for one user. It is safe
// for concurrent use, but only one save runs at a time.
type Saver struct {
	kind     domain.AssessmentKind
	identity domain.Identity
	store    RecordStore
	clock    Clock
	logger   *slog.Logger

	persister *Persister
	retrier   *Retrier
	backup    *BackupStore
	debouncer *Debouncer

	saveMu sync.Mutex

	mu        sync.Mutex
	pending   *domain.AssessmentProgress
	state     domain.SaveState
	listeners map[int]func(domain.SaveState)
	nextID    int
	closed    bool
}

// New creates a Saver for kind on behalf of identity. A zero identity is
// allowed: progress is then only kept in the local backup.
func New(cfg Config, store RecordStore, kv KeyValueStore, identity domain.Identity, kind domain.AssessmentKind, opts ...Option) *Saver {
	o := options{clock: RealClock{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("kind", string(kind), "user_id", identity.StorageScope())
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	return &Saver{
		kind:      kind,
		identity:  identity,
		store:     store,
		clock:     o.clock,
		logger:    logger,
		persister: NewPersister(store, identity),
		retrier:   NewRetrier(cfg.MaxRetries, cfg.BaseDelay, o.clock, o.newTimer, logger),
		backup:    NewBackupStore(kv, kind, identity, o.clock, cfg.BackupTTL, logger),
		debouncer: NewDebouncer(o.clock, cfg.QuietInterval),
		listeners: make(map[int]func(domain.SaveState)),
	}
}

// Backup exposes the local backup store for this flow.
func (s *Saver) Backup() *BackupStore {
	return s.backup
}

// State returns a copy of the current save state.
func (s *Saver) State() domain.SaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the user-facing indicator for the current state.
func (s *Saver) Status() domain.SaveStatus {
	return s.State().Status()
}

// OnChange registers fn to be called after every state change. It returns a
// function that removes the registration.
func (s *Saver) OnChange(fn func(domain.SaveState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Saver) update(fn func(*domain.SaveState)) {
	s.mu.Lock()
	fn(&s.state)
	state := s.state
	listeners := make([]func(domain.SaveState), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

func (s *Saver) normalize(p domain.AssessmentProgress) domain.AssessmentProgress {
	p = p.Clone()
	if p.Kind == "" {
		p.Kind = s.kind
	}
	return p
}

// SaveProgress buffers p and schedules a write after the quiet interval.
// Calls made before the timer fires replace the buffered payload.
func (s *Saver) SaveProgress(p domain.AssessmentProgress) {
	snapshot := s.normalize(p)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = &snapshot
	s.mu.Unlock()

	s.debouncer.Schedule(s.flush)
}

func (s *Saver) flush() {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()

	if p == nil {
		return
	}
	// Errors are already reflected in the save state and backup.
	_ = s.save(context.Background(), *p)
}

// SaveImmediately drops any pending write and persists p before returning.
func (s *Saver) SaveImmediately(ctx context.Context, p domain.AssessmentProgress) error {
	snapshot := s.normalize(p)
	var err error
	s.debouncer.Immediate(func() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		err = s.save(ctx, snapshot)
	})
	return err
}

func (s *Saver) save(ctx context.Context, p domain.AssessmentProgress) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.saveLocked(ctx, p)
}

func (s *Saver) saveLocked(ctx context.Context, p domain.AssessmentProgress) error {
	if s.identity.IsZero() {
		s.logger.Warn("Skipping remote save, no authenticated user")
		s.backup.Persist(p)
		return ErrUnauthenticated
	}

	s.update(func(st *domain.SaveState) { st.IsSaving = true })

	var (
		id      string
		skipped bool
	)
	attempts, err := s.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		id, skipped, err = s.persister.Persist(ctx, p)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to save progress", "attempts", attempts, "error", err)
		if known := s.persister.RecordID(); known != "" {
			p.RecordID = known
		}
		s.backup.Persist(p)
		s.update(func(st *domain.SaveState) {
			st.IsSaving = false
			st.LastError = err.Error()
		})
		return err
	}

	if !skipped {
		p.RecordID = id
		s.backup.Persist(p)
		s.logger.Debug("Progress saved", "record_id", id, "attempts", attempts)
	}
	now := s.clock.Now()
	s.update(func(st *domain.SaveState) {
		st.IsSaving = false
		st.LastError = ""
		st.RemoteRecordID = id
		if !skipped {
			st.LastSavedAt = &now
		}
	})
	return nil
}

// SaveFinalResults persists p, marks the record complete and clears the
// local backup. onComplete runs whether or not persistence succeeded so the
// flow can move on; the error is still returned. The Saver is closed
// afterwards.
func (s *Saver) SaveFinalResults(ctx context.Context, p domain.AssessmentProgress, onComplete func()) error {
	defer func() {
		s.Close()
		if onComplete != nil {
			onComplete()
		}
	}()

	s.debouncer.Cancel()
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if err := s.saveLocked(ctx, s.normalize(p)); err != nil {
		s.logger.Error("Final save failed, continuing without remote copy", "error", err)
		return fmt.Errorf("save final results: %w", err)
	}

	id := s.persister.RecordID()
	if _, err := s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.store.MarkComplete(ctx, id)
	}); err != nil {
		s.logger.Error("Failed to mark assessment complete", "record_id", id, "error", err)
		s.update(func(st *domain.SaveState) { st.LastError = err.Error() })
		return fmt.Errorf("mark complete: %w", err)
	}

	s.backup.Clear()
	s.persister.Reset()
	s.logger.Info("Assessment completed", "record_id", id)
	return nil
}

// LoadIncomplete returns progress to resume, or nil to start fresh. The
// remote store is authoritative; when it cannot be reached the local backup
// is used instead. It never fails.
func (s *Saver) LoadIncomplete(ctx context.Context) *domain.AssessmentProgress {
	if s.identity.IsZero() {
		s.logger.Warn("No authenticated user, resuming from local backup only")
		return s.resumeFromBackup()
	}

	record, err := s.store.FetchIncomplete(ctx, s.kind)
	switch {
	case err == nil:
		p := record.Progress.Clone()
		p.RecordID = record.ID
		if p.Kind == "" {
			p.Kind = record.Kind
		}
		s.persister.Adopt(record.ID, &p)
		s.update(func(st *domain.SaveState) { st.RemoteRecordID = record.ID })
		s.logger.Info("Resuming assessment", "record_id", record.ID, "source", "remote")
		return &p
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		s.logger.Warn("Failed to fetch incomplete assessment, using local backup", "error", err)
		return s.resumeFromBackup()
	}
}

func (s *Saver) resumeFromBackup() *domain.AssessmentProgress {
	backup := s.backup.Read()
	if backup == nil {
		return nil
	}
	p := backup.Payload
	if p.RecordID != "" {
		s.persister.Adopt(p.RecordID, nil)
		s.update(func(st *domain.SaveState) { st.RemoteRecordID = p.RecordID })
	}
	s.logger.Info("Resuming assessment", "record_id", p.RecordID, "source", "backup",
		"captured_at", backup.CapturedAt)
	return &p
}

// Close cancels any pending write. A save already running is left to
// finish.
func (s *Saver) Close() {
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
	if s.debouncer.Pending() {
		s.logger.Debug("Discarding unsaved progress on close")
	}
	s.debouncer.Cancel()
}
