// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all application metrics including:
//   - HTTP request metrics (duration, count, size)
//   - Ingestion metrics (items fetched, normalize outcomes)
//   - Enrichment metrics (transcodes, transcripts, embeddings, summaries)
//   - Pipeline metrics (job outcomes, queue depth, breaker state)
//
// All metrics are automatically registered with the Prometheus default registry
// and exposed via the /metrics endpoint.
//
// Example usage:
//
//	import "contentpipe/internal/observability/metrics"
//
//	func pollSource(kind, sourceID string) {
//	    start := time.Now()
//	    // ... fetch items ...
//	    count := 10
//
//	    metrics.RecordItemsFetched(kind, sourceID, count)
//	    metrics.RecordFetchBatch(kind, time.Since(start))
//	}
package metrics
