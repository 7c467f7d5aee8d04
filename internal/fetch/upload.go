package fetch

import (
	"context"
	"fmt"
	"time"

	"contentpipe/internal/domain/entity"
)

// ErrUploadNeverScheduled is returned by UploadAdapter.Fetch: UPLOAD
// sources are never polled (spec.md §4.E), so reaching the dispatch
// path for one is a caller bug, not a transient failure.
var ErrUploadNeverScheduled = fmt.Errorf("fetch: UPLOAD sources are never scheduled")

// UploadAdapter wraps a single manually-submitted RawItem so it can
// flow through the same NormalizeJob fan-out as every other source
// kind, without ever being driven by the scheduler.
type UploadAdapter struct{}

// NewUploadAdapter builds an UploadAdapter.
func NewUploadAdapter() *UploadAdapter {
	return &UploadAdapter{}
}

// Fetch implements Adapter for dispatch-table completeness; it is
// never reached in practice since the registry refuses to schedule
// UPLOAD sources. Use Submit for the actual manual-upload path
// (cmd/admin's upload endpoint).
func (a *UploadAdapter) Fetch(ctx context.Context, source entity.SourceDescriptor, cursor string) (Result, error) {
	return Result{}, ErrUploadNeverScheduled
}

// Submit wraps a manually-submitted item as this adapter's output,
// stamping FetchedAt and the UPLOAD kind.
func (a *UploadAdapter) Submit(item entity.RawItem) Result {
	item.Kind = entity.SourceKindUpload
	item.FetchedAt = time.Now()
	return Result{
		Items:  []entity.RawItem{item},
		More:   false,
		Counts: Counts{Fetched: 1},
	}
}
