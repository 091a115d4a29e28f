package autosave

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
)

// DefaultBackupTTL is how long a local backup stays eligible for resume.
const DefaultBackupTTL = 24 * time.Hour

// BackupKeyPrefix starts every backup key.
const BackupKeyPrefix = "assessment_backup"

var (
	errBackupCorrupt = errors.New("backup is corrupt")
	errBackupExpired = errors.New("backup has expired")
)

// StorageError is a failure of the local key-value store.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("local storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// BackupKey returns the storage key for a kind and user.
func BackupKey(kind domain.AssessmentKind, identity domain.Identity) string {
	return BackupKeyPrefix + ":" + string(kind) + ":" + identity.StorageScope()
}

// BackupStore is a best-effort local copy of the latest attempted write.
// Its exported methods never fail; problems are logged and treated as
// absence of a backup.
type BackupStore struct {
	kv     KeyValueStore
	key    string
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger
}

// NewBackupStore creates a backup store scoped to (kind, identity).
func NewBackupStore(kv KeyValueStore, kind domain.AssessmentKind, identity domain.Identity, clock Clock, ttl time.Duration, logger *slog.Logger) *BackupStore {
	if clock == nil {
		clock = RealClock{}
	}
	if ttl <= 0 {
		ttl = DefaultBackupTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupStore{
		kv:     kv,
		key:    BackupKey(kind, identity),
		clock:  clock,
		ttl:    ttl,
		logger: logger,
	}
}

// Key returns the storage key this store writes to.
func (b *BackupStore) Key() string {
	return b.key
}

// Persist records progress with the current time.
func (b *BackupStore) Persist(progress domain.AssessmentProgress) {
	if err := b.persist(progress); err != nil {
		b.logger.Warn("Failed to write local backup", "key", b.key, "error", err)
	}
}

func (b *BackupStore) persist(progress domain.AssessmentProgress) error {
	data, err := json.Marshal(domain.BackupRecord{
		Payload:    progress,
		CapturedAt: b.clock.Now(),
	})
	if err != nil {
		return &StorageError{Op: "encode", Key: b.key, Err: err}
	}
	if err := b.kv.SetItem(b.key, string(data)); err != nil {
		return &StorageError{Op: "set", Key: b.key, Err: err}
	}
	return nil
}

// Read returns the stored backup, or nil when there is none or it is
// unusable. Corrupt and expired entries are deleted.
func (b *BackupStore) Read() *domain.BackupRecord {
	record, err := b.read()
	switch {
	case err == nil:
		return record
	case errors.Is(err, errBackupCorrupt), errors.Is(err, errBackupExpired):
		b.logger.Info("Discarding local backup", "key", b.key, "reason", err)
		if rmErr := b.clear(); rmErr != nil {
			b.logger.Warn("Failed to remove local backup", "key", b.key, "error", rmErr)
		}
	default:
		b.logger.Warn("Failed to read local backup", "key", b.key, "error", err)
	}
	return nil
}

func (b *BackupStore) read() (*domain.BackupRecord, error) {
	raw, ok, err := b.kv.GetItem(b.key)
	if err != nil {
		return nil, &StorageError{Op: "get", Key: b.key, Err: err}
	}
	if !ok {
		return nil, nil
	}

	var record domain.BackupRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("%w: %v", errBackupCorrupt, err)
	}
	if record.CapturedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing capture time", errBackupCorrupt)
	}
	if record.Expired(b.clock.Now(), b.ttl) {
		return nil, fmt.Errorf("%w: captured %s", errBackupExpired, record.CapturedAt.Format(time.RFC3339))
	}
	return &record, nil
}

// Clear removes the backup.
func (b *BackupStore) Clear() {
	if err := b.clear(); err != nil {
		b.logger.Warn("Failed to clear local backup", "key", b.key, "error", err)
	}
}

func (b *BackupStore) clear() error {
	if err := b.kv.RemoveItem(b.key); err != nil {
		return &StorageError{Op: "remove", Key: b.key, Err: err}
	}
	return nil
}
