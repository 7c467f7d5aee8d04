// Package fetch implements the fetch stage (spec.md §4.F): one adapter
// per SourceKind, each producing RawItems from an external source, fed
// through a closed dispatch switch rather than a runtime-registered
// map of callables (DESIGN.md, "Dynamic adapter registry" open
// question).
package fetch

import (
	"context"
	"fmt"

	"contentpipe/internal/domain/entity"
)

// Counts tallies one adapter call's outcome for batch telemetry.
type Counts struct {
	Fetched int
	Skipped int
	Errors  int
}

// Result is one adapter invocation's output.
type Result struct {
	Items      []entity.RawItem
	NextCursor string
	More       bool
	Counts     Counts
}

// Adapter fetches one batch of items for a source, optionally
// continuing from a previous cursor (spec.md §4.F: "fetch(source,
// cursor?)").
type Adapter interface {
	Fetch(ctx context.Context, source entity.SourceDescriptor, cursor string) (Result, error)
}

// ErrAdapterDisabled is returned by provider-key-gated adapters
// (VIDEO_CHANNEL, FORUM, MICROBLOG) when their API key is unset
// (spec.md §6: "absence disables those adapters").
var ErrAdapterDisabled = fmt.Errorf("fetch: adapter disabled, no provider API key configured")

// minContinuationDelaySeconds is the floor on how soon a paginated
// continuation may re-run, to avoid hot-looping a single source
// (spec.md §4.F).
const minContinuationDelaySeconds = 1
