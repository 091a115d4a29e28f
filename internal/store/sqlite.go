package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
	"github.com/ashureev/medprofile/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		progress_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_assessments_user_status
		ON assessments(user_id, kind, status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_assessments_stale
		ON assessments(updated_at) WHERE status = 'in_progress';
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, "upsert user", shared.DefaultConflictRetry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// CreateAssessment inserts a new in-progress record.
func (s *SQLiteStore) CreateAssessment(ctx context.Context, record *domain.AssessmentRecord) error {
	now := s.now()
	record.ID = uuid.NewString()
	record.Status = domain.StatusInProgress
	record.Progress.RecordID = record.ID
	record.CreatedAt = now
	record.UpdatedAt = now
	record.CompletedAt = nil

	progressJSON, err := record.MarshalProgress()
	if err != nil {
		return err
	}

	query := `
	INSERT INTO assessments (id, user_id, kind, status, progress_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	err = shared.RetryOnConflict(ctx, "create assessment", shared.DefaultConflictRetry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			record.ID, record.UserID, string(record.Kind), string(record.Status),
			progressJSON, now.UnixMilli(), now.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

// UpdateAssessment replaces the progress of an in-progress record.
func (s *SQLiteStore) UpdateAssessment(ctx context.Context, record *domain.AssessmentRecord) error {
	now := s.now()
	record.Progress.RecordID = record.ID
	progressJSON, err := record.MarshalProgress()
	if err != nil {
		return err
	}

	query := `
	UPDATE assessments SET progress_json = ?, updated_at = ?
	WHERE id = ? AND user_id = ? AND kind = ? AND status = ?`

	var rows int64
	err = shared.RetryOnConflict(ctx, "update assessment", shared.DefaultConflictRetry, func() error {
		result, err := s.db.ExecContext(ctx, query,
			progressJSON, now.UnixMilli(),
			record.ID, record.UserID, string(record.Kind), string(domain.StatusInProgress),
		)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}

	if rows == 0 {
		existing, err := s.GetAssessment(ctx, record.UserID, record.ID)
		if err != nil {
			return err
		}
		slog.Warn("UpdateAssessment rejected", "record_id", record.ID, "user_id", record.UserID,
			"status", existing.Status, "kind", existing.Kind)
		if existing.IsEditable() {
			return ErrKindMismatch
		}
		return ErrNotEditable
	}

	stored, err := s.GetAssessment(ctx, record.UserID, record.ID)
	if err != nil {
		return err
	}
	*record = *stored
	return nil
}

const selectAssessment = `
	SELECT id, user_id, kind, status, progress_json, created_at, updated_at, completed_at
	FROM assessments`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*domain.AssessmentRecord, error) {
	var (
		record                 domain.AssessmentRecord
		kind, status, progress string
		createdAt, updatedAt   int64
		completedAt            sql.NullInt64
	)
	if err := row.Scan(
		&record.ID, &record.UserID, &kind, &status, &progress,
		&createdAt, &updatedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	record.Kind = domain.AssessmentKind(kind)
	record.Status = domain.RecordStatus(status)
	record.CreatedAt = time.UnixMilli(createdAt)
	record.UpdatedAt = time.UnixMilli(updatedAt)
	if completedAt.Valid {
		ts := time.UnixMilli(completedAt.Int64)
		record.CompletedAt = &ts
	}
	if err := json.Unmarshal([]byte(progress), &record.Progress); err != nil {
		return nil, fmt.Errorf("decode progress of %s: %w", record.ID, err)
	}
	record.Progress.RecordID = record.ID
	return &record, nil
}

// GetAssessment retrieves a record owned by userID.
func (s *SQLiteStore) GetAssessment(ctx context.Context, userID, id string) (*domain.AssessmentRecord, error) {
	row := s.db.QueryRowContext(ctx, selectAssessment+` WHERE id = ? AND user_id = ?`, id, userID)
	record, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan assessment: %w", err)
	}
	return record, nil
}

// GetLatestInProgress returns the newest in-progress record of kind.
func (s *SQLiteStore) GetLatestInProgress(ctx context.Context, userID string, kind domain.AssessmentKind) (*domain.AssessmentRecord, error) {
	row := s.db.QueryRowContext(ctx, selectAssessment+`
		WHERE user_id = ? AND kind = ? AND status = ?
		ORDER BY updated_at DESC, rowid DESC LIMIT 1`,
		userID, string(kind), string(domain.StatusInProgress))
	record, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan in-progress assessment: %w", err)
	}
	return record, nil
}

// CompleteAssessment marks a record completed.
func (s *SQLiteStore) CompleteAssessment(ctx context.Context, userID, id string, at time.Time) (*domain.AssessmentRecord, error) {
	query := `
	UPDATE assessments SET status = ?, completed_at = ?, updated_at = ?
	WHERE id = ? AND user_id = ? AND status = ?`

	err := shared.RetryOnConflict(ctx, "complete assessment", shared.DefaultConflictRetry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			string(domain.StatusCompleted), at.UnixMilli(), at.UnixMilli(),
			id, userID, string(domain.StatusInProgress),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("complete assessment: %w", err)
	}

	record, err := s.GetAssessment(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.StatusCompleted {
		return nil, ErrNotEditable
	}
	return record, nil
}

// ListAssessments returns userID's records, newest first.
func (s *SQLiteStore) ListAssessments(ctx context.Context, userID string, filter ListFilter) ([]*domain.AssessmentRecord, error) {
	var (
		where = []string{"user_id = ?"}
		args  = []any{userID}
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := selectAssessment + " WHERE " + strings.Join(where, " AND ") + " ORDER BY updated_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close assessment rows", "error", closeErr)
		}
	}()

	var records []*domain.AssessmentRecord
	for rows.Next() {
		record, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assessment row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assessments: %w", err)
	}
	return records, nil
}

// AbandonStaleAssessments marks in-progress records idle for longer than
// ttl as abandoned.
func (s *SQLiteStore) AbandonStaleAssessments(ctx context.Context, ttl time.Duration) ([]*domain.AssessmentRecord, error) {
	now := s.now()
	threshold := now.Add(-ttl).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin abandon: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, selectAssessment+` WHERE status = ? AND updated_at < ?`,
		string(domain.StatusInProgress), threshold)
	if err != nil {
		return nil, fmt.Errorf("query stale assessments: %w", err)
	}
	var stale []*domain.AssessmentRecord
	for rows.Next() {
		record, err := scanAssessment(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan stale assessment: %w", err)
		}
		stale = append(stale, record)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close stale rows: %w", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	for _, record := range stale {
		if _, err := tx.ExecContext(ctx,
			`UPDATE assessments SET status = ?, updated_at = ? WHERE id = ?`,
			string(domain.StatusAbandoned), now.UnixMilli(), record.ID,
		); err != nil {
			return nil, fmt.Errorf("abandon %s: %w", record.ID, err)
		}
		record.Status = domain.StatusAbandoned
		record.UpdatedAt = time.UnixMilli(now.UnixMilli())
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit abandon: %w", err)
	}
	return stale, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
