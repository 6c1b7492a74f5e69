package fir

import "context"

// DraftAllocator adapts Store to the orchestrator's narrower FIRAllocator
// dependency (fir number string, not the full Record) so domain/pipeline
// does not need to import domain/fir.
type DraftAllocator struct {
	store *Store
}

// NewDraftAllocator wraps store for use as a pipeline.FIRAllocator.
func NewDraftAllocator(store *Store) *DraftAllocator {
	return &DraftAllocator{store: store}
}

// InsertDraft allocates a fir_number and inserts a draft record, returning
// just the number the orchestrator stores on the session.
func (a *DraftAllocator) InsertDraft(ctx context.Context, sessionID, content string) (string, error) {
	rec, err := a.store.InsertDraft(ctx, sessionID, content)
	if err != nil {
		return "", err
	}
	return rec.FIRNumber, nil
}
