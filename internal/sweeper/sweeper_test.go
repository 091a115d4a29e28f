package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
)

type fakeAbandoner struct {
	mu     sync.Mutex
	calls  int
	ttls   []time.Duration
	result []*domain.AssessmentRecord
	err    error
}

func (f *fakeAbandoner) AbandonStaleAssessments(_ context.Context, ttl time.Duration) ([]*domain.AssessmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ttls = append(f.ttls, ttl)
	if f.err != nil {
		return nil, f.err
	}
	out := f.result
	f.result = nil
	return out, nil
}

func (f *fakeAbandoner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweep_NotifiesForEachAbandonedRecord(t *testing.T) {
	repo := &fakeAbandoner{result: []*domain.AssessmentRecord{
		{ID: "a", UserID: "u1", Status: domain.StatusAbandoned},
		{ID: "b", UserID: "u2", Status: domain.StatusAbandoned},
	}}
	var seen []string
	s := New(repo, 24*time.Hour, time.Hour, func(rec *domain.AssessmentRecord) {
		seen = append(seen, rec.ID)
	})

	if n := s.Sweep(context.Background()); n != 2 {
		t.Fatalf("Sweep() = %d, want 2", n)
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("callback saw %v", seen)
	}
	if repo.ttls[0] != 24*time.Hour {
		t.Fatalf("ttl = %v, want 24h", repo.ttls[0])
	}
}

func TestSweep_StoreErrorIsLogged(t *testing.T) {
	repo := &fakeAbandoner{err: errors.New("database is locked")}
	s := New(repo, time.Hour, time.Hour, func(*domain.AssessmentRecord) {
		t.Fatal("callback must not run on error")
	})

	if n := s.Sweep(context.Background()); n != 0 {
		t.Fatalf("Sweep() = %d, want 0", n)
	}
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	repo := &fakeAbandoner{}
	s := New(repo, time.Hour, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for repo.Calls() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d sweeps ran", repo.Calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
