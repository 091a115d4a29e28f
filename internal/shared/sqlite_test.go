package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", errors.New("exec: SQLITE_BUSY (5)"), true},
		{"locked", errors.New("database is locked"), true},
		{"wrapped", errors.Join(errors.New("upsert"), errors.New("database is locked")), true},
		{"other", errors.New("no such table: kv"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSQLiteConflictError(tt.err); got != tt.want {
				t.Fatalf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryOnConflict_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), "op", ConflictRetry{Attempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryOnConflict() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryOnConflict_StopsOnOtherErrors(t *testing.T) {
	want := errors.New("constraint failed")
	calls := 0
	err := RetryOnConflict(context.Background(), "op", DefaultConflictRetry, func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("RetryOnConflict() error = %v, want %v", err, want)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryOnConflict_GivesUp(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), "upsert", ConflictRetry{Attempts: 2, BaseDelay: time.Millisecond}, func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil || !IsSQLiteConflictError(err) {
		t.Fatalf("RetryOnConflict() error = %v, want wrapped conflict", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetryOnConflict_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryOnConflict(ctx, "op", ConflictRetry{Attempts: 3, BaseDelay: time.Hour}, func() error {
		return errors.New("SQLITE_BUSY")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RetryOnConflict() error = %v, want context.Canceled", err)
	}
}

func TestRetryOnConflict_ZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), "op", ConflictRetry{}, func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if !IsSQLiteConflictError(err) {
		t.Fatalf("RetryOnConflict() error = %v, want conflict", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
