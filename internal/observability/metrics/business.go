package metrics

import (
	"time"
)

// RecordItemsFetched records the number of raw items one fetch job
// produced for a source. This metric tracks polling throughput and
// source activity.
func RecordItemsFetched(sourceKind, sourceID string, count int) {
	ItemsFetchedTotal.WithLabelValues(sourceKind, sourceID).Add(float64(count))
}

// RecordFetchBatch records the duration of one fetch job.
func RecordFetchBatch(sourceKind string, duration time.Duration) {
	FetchBatchDuration.WithLabelValues(sourceKind).Observe(duration.Seconds())
}

// RecordFetchError records a fetch failure. errorKind should be one of
// the error taxonomy kinds (UpstreamUnavailable, RateLimited, ...).
func RecordFetchError(sourceKind, errorKind string) {
	FetchErrorsTotal.WithLabelValues(sourceKind, errorKind).Inc()
}

// RecordItemsNormalized adds count to one normalize outcome counter.
// Outcome is one of: created, failed, filtered, duplicate,
// moderation_approved, moderation_review, moderation_rejected.
func RecordItemsNormalized(outcome string, count int) {
	if count <= 0 {
		return
	}
	ItemsNormalizedTotal.WithLabelValues(outcome).Add(float64(count))
}

// RecordTranscode records the time taken to transcode one media file.
func RecordTranscode(duration time.Duration) {
	TranscodeDuration.Observe(duration.Seconds())
}

// RecordTranscriptAttempt records the outcome of one transcript pass.
// Status should be "created", "empty", or "failed".
func RecordTranscriptAttempt(status string) {
	TranscriptsCreatedTotal.WithLabelValues(status).Inc()
}

// RecordEmbeddingAttempt records the outcome of one embedding pass.
func RecordEmbeddingAttempt(success bool) {
	status := "stored"
	if !success {
		status = "failed"
	}
	EmbeddingsStoredTotal.WithLabelValues(status).Inc()
}

// RecordSummaryGenerated records the result of a summarization call.
// Status should be either "success" or "failure".
func RecordSummaryGenerated(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	SummariesGeneratedTotal.WithLabelValues(status).Inc()
}

// RecordSummarizationDuration records the time taken to summarize a
// transcript. This helps identify performance issues with the AI
// summarization service.
func RecordSummarizationDuration(duration time.Duration) {
	SummarizationDuration.Observe(duration.Seconds())
}
