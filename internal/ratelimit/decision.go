package ratelimit

import (
	"fmt"
	"time"
)

// Decision is one admission check's verdict, shaped after spec.md
// §4.C's check contract: {allowed, remaining, reset_ms}.
type Decision struct {
	// Key is the (source_kind, source_id) pair the decision is for.
	Key SourceKey

	// Allowed reports whether the call was admitted (Consume) or would
	// be admitted (Check).
	Allowed bool

	// Limit is the window's admission budget for this source kind.
	Limit int

	// Remaining is how many admissions are left in the current window;
	// zero when the budget is exhausted.
	Remaining int

	// ResetAt is when the governing (oldest) hit falls out of the
	// window and a slot frees up.
	ResetAt time.Time

	// ResetAfter is ResetAt relative to the decision time; never
	// negative, and never longer than the window itself.
	ResetAfter time.Duration
}

// ResetMs is ResetAfter in milliseconds, the wire shape the spec's
// check operation names.
func (d *Decision) ResetMs() int64 {
	return d.ResetAfter.Milliseconds()
}

func (d *Decision) String() string {
	if d.Allowed {
		return fmt.Sprintf("ratelimit: %s allowed, %d/%d remaining", d.Key, d.Remaining, d.Limit)
	}
	return fmt.Sprintf("ratelimit: %s denied, limit %d, reset in %s", d.Key, d.Limit, d.ResetAfter)
}
