package normalize

import (
	"contentpipe/internal/domain/entity"
)

// minContentLength is the default min combined-text length below which
// an untrusted, non-blocked item is sent for review (spec.md §4.G
// step 3).
const (
	minTitleLength   = 8
	minContentLength = 80
)

// moderate runs spec.md §4.G step 3's moderation rules, in the order
// the spec states them: trusted sources always auto-approve, a blocked
// keyword always rejects (even from a trusted source would never reach
// this branch, since trusted short-circuits first — matching the
// source's literal if/else-if chain), then a length floor sends
// everything else to review.
func moderate(item entity.CanonicalItem, trusted bool, blockedKeywords []string, minContentLen int) entity.ModerationDecision {
	if minContentLen <= 0 {
		minContentLen = minContentLength
	}
	text := combinedText(item)
	switch {
	case trusted:
		return entity.ModerationAutoApproved
	case matchesAny(text, blockedKeywords):
		return entity.ModerationAutoRejected
	case len(item.Title) < minTitleLength || len(text) < minContentLen:
		return entity.ModerationNeedsReview
	default:
		return entity.ModerationAutoApproved
	}
}

// statusFor derives attributes.moderation's implied stored status
// (spec.md §4.G step 3 and the fan-out table): AUTO_REJECTED forces
// ARCHIVED, NEEDS_REVIEW forces PENDING, and AUTO_APPROVED is READY
// immediately only when the item needs no further stage — a
// media-bearing item always has at least the media or enrichment stage
// still to run, whether or not media_ready is already true.
func statusFor(decision entity.ModerationDecision, item entity.CanonicalItem) entity.ContentStatus {
	switch decision {
	case entity.ModerationAutoRejected:
		return entity.StatusArchived
	case entity.ModerationNeedsReview:
		return entity.StatusPending
	default: // AUTO_APPROVED
		if item.Type.IsMediaBearing() {
			return entity.StatusPending
		}
		return entity.StatusReady
	}
}
