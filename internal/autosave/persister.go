package autosave

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/medprofile/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// payloadOptions compare progress by content. RecordID is owned by the
// persister and nil and empty collections mean the same thing on the wire.
var payloadOptions = []cmp.Option{
	cmpopts.IgnoreFields(domain.AssessmentProgress{}, "RecordID"),
	cmpopts.EquateEmpty(),
}

// Persister issues a single create-or-update call per Persist, plus one
// create when the record it was updating has been closed. It remembers the
// server-assigned id and the last payload the server accepted.
type Persister struct {
	store    RecordStore
	identity domain.Identity

	mu       sync.Mutex
	recordID string
	last     *domain.AssessmentProgress
}

// NewPersister creates a persister writing to store on behalf of identity.
func NewPersister(store RecordStore, identity domain.Identity) *Persister {
	return &Persister{store: store, identity: identity}
}

// Persist writes progress and returns the record id. skipped is true when
// the payload equals the last successful write and no call was made.
func (p *Persister) Persist(ctx context.Context, progress domain.AssessmentProgress) (id string, skipped bool, err error) {
	if p.identity.IsZero() {
		return "", false, ErrUnauthenticated
	}

	p.mu.Lock()
	recordID, last := p.recordID, p.last
	p.mu.Unlock()

	if recordID != "" {
		progress.RecordID = recordID
	}
	if last != nil && progress.RecordID != "" && cmp.Equal(*last, progress, payloadOptions...) {
		return progress.RecordID, true, nil
	}

	id, err = p.store.CreateOrUpdate(ctx, progress)
	if err != nil && progress.RecordID != "" && errors.Is(err, ErrRecordClosed) {
		p.Reset()
		progress.RecordID = ""
		id, err = p.store.CreateOrUpdate(ctx, progress)
	}
	if err != nil {
		return "", false, err
	}

	snapshot := progress.Clone()
	snapshot.RecordID = id

	p.mu.Lock()
	p.recordID = id
	p.last = &snapshot
	p.mu.Unlock()

	return id, false, nil
}

// Adopt makes id the target of subsequent writes. When progress is non-nil
// it is treated as already persisted under that id.
func (p *Persister) Adopt(id string, progress *domain.AssessmentProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recordID = id
	p.last = nil
	if progress != nil {
		snapshot := progress.Clone()
		snapshot.RecordID = id
		p.last = &snapshot
	}
}

// RecordID returns the id writes currently go to.
func (p *Persister) RecordID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recordID
}

// Reset forgets the record so the next write creates a new one.
func (p *Persister) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordID = ""
	p.last = nil
}
