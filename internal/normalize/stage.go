package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"contentpipe/internal/cms"
	"contentpipe/internal/config"
	"contentpipe/internal/dedup"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/observability/metrics"
	"contentpipe/internal/queue"
)

// retryBaseDelay is the base backoff for media/enrichment jobs
// normalize enqueues, matching the other stages' retry defaults.
const retryBaseDelay = 2 * time.Second

// Counters tallies one batch's per-item outcomes for telemetry
// (spec.md §4.G: "Every batch produces aggregate telemetry for these
// counters").
type Counters struct {
	Processed         int
	Failed            int
	Filtered          int
	Duplicates        int
	ModerationApproved int
	ModerationReview   int
	ModerationRejected int
	MediaEnqueued      int
	EnrichmentEnqueued int
}

// Stage runs the normalize stage's per-item algorithm (spec.md §4.G)
// over one fetch batch: map, filter, moderate, dedup, create_or_get,
// then fan out to the media or enrichment queue.
type Stage struct {
	cmsClient *cms.Client
	dedup     *dedup.Service
	jobQueue  queue.Store
	cfg       config.NormalizeConfig
	logger    *slog.Logger
}

// NewStage wires the normalize stage's collaborators.
func NewStage(cmsClient *cms.Client, dedupSvc *dedup.Service, jobQueue queue.Store, cfg config.NormalizeConfig, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{cmsClient: cmsClient, dedup: dedupSvc, jobQueue: jobQueue, cfg: cfg, logger: logger}
}

// Process runs every item in job through the per-item algorithm.
// Per-item errors are absorbed into Counters and never fail the job
// (spec.md §7: "Per-item errors in normalize are absorbed into batch
// counters and never fail the normalize job"), with one exception: a
// CircuitOpen error aborts the remaining batch and is returned so the
// job store retries the whole job, matching the CMS circuit-breaker
// trip scenario (spec.md §8 scenario 5: "subsequent normalize items
// get CircuitOpen and the normalize job is retried").
func (s *Stage) Process(ctx context.Context, job entity.NormalizeJob) (Counters, error) {
	var counters Counters
	displayName := deriveDisplayName(job.SourceID, job.SourceSettings)
	include, exclude, minEngagement, trusted := filterParams(job.SourceSettings)

	for _, raw := range job.RawItems {
		// A batch cut short by cooperative shutdown must be requeued,
		// not completed: absorbing the cancellation into counters would
		// report the job COMPLETED and silently drop every unprocessed
		// item (spec.md §4.J/§5).
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.logger.InfoContext(ctx, "normalize batch cancelled, requeueing",
				slog.String("source_id", job.SourceID))
			return counters, entity.NewError(entity.KindCancelled, ctxErr)
		}

		if raw.URL == "" && raw.Title == "" {
			counters.Failed++
			continue
		}

		outcome, err := s.processItem(ctx, job.Kind, job.SourceSettings, raw, displayName, include, exclude, minEngagement, trusted, &counters)
		if err != nil {
			if entity.KindOf(err) == entity.KindCircuitOpen {
				s.logger.WarnContext(ctx, "normalize batch aborted: collaborator circuit open",
					slog.String("source_id", job.SourceID))
				return counters, err
			}
			if entity.KindOf(err) == entity.KindCancelled || ctx.Err() != nil {
				s.logger.InfoContext(ctx, "normalize batch cancelled mid-item, requeueing",
					slog.String("source_id", job.SourceID))
				if entity.KindOf(err) == entity.KindCancelled {
					return counters, err
				}
				return counters, entity.NewError(entity.KindCancelled, err)
			}
			s.logger.WarnContext(ctx, "normalize item failed, absorbed into counters",
				slog.String("source_id", job.SourceID), slog.String("error", err.Error()))
			counters.Failed++
			continue
		}
		_ = outcome
	}

	counters.record()
	s.logger.InfoContext(ctx, "normalize batch complete",
		slog.String("source_id", job.SourceID),
		slog.Int("processed", counters.Processed),
		slog.Int("filtered", counters.Filtered),
		slog.Int("duplicates", counters.Duplicates),
		slog.Int("failed", counters.Failed))
	return counters, nil
}

// record rolls the batch's counters into the aggregate normalize
// telemetry (spec.md §4.G: "Every batch produces aggregate telemetry
// for these counters").
func (c Counters) record() {
	metrics.RecordItemsNormalized("created", c.Processed)
	metrics.RecordItemsNormalized("failed", c.Failed)
	metrics.RecordItemsNormalized("filtered", c.Filtered)
	metrics.RecordItemsNormalized("duplicate", c.Duplicates)
	metrics.RecordItemsNormalized("moderation_approved", c.ModerationApproved)
	metrics.RecordItemsNormalized("moderation_review", c.ModerationReview)
	metrics.RecordItemsNormalized("moderation_rejected", c.ModerationRejected)
}

// processItem runs one RawItem through steps 1-6 of spec.md §4.G.
func (s *Stage) processItem(
	ctx context.Context,
	kind entity.SourceKind,
	settings entity.SourceSettings,
	raw entity.RawItem,
	displayName string,
	include, exclude []string,
	minEngagement int,
	trusted bool,
	counters *Counters,
) (entity.CanonicalItem, error) {
	item := mapToCanonical(kind, settings, raw, displayName)

	if !passesFilters(item, raw, include, exclude, minEngagement) {
		counters.Filtered++
		return entity.CanonicalItem{}, nil
	}

	decision := moderate(item, trusted, s.cfg.BlockedKeywords, s.cfg.MinContentLength)
	item.Status = statusFor(decision, item)
	if item.Attributes == nil {
		item.Attributes = make(map[string]any)
	}
	item.Attributes["moderation"] = map[string]any{"decision": string(decision), "reviewed": false}

	switch decision {
	case entity.ModerationAutoApproved:
		counters.ModerationApproved++
	case entity.ModerationNeedsReview:
		counters.ModerationReview++
	case entity.ModerationAutoRejected:
		counters.ModerationRejected++
	}

	key := dedup.CanonicalKey(raw)
	item.IdempotencyKey = key
	duplicate, _, err := s.dedup.Check(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "dedup check failed, proceeding without dedup guarantee", slog.String("error", err.Error()))
	} else if duplicate {
		counters.Duplicates++
		return entity.CanonicalItem{}, nil
	}

	resp, err := s.cmsClient.CreateOrGet(ctx, toCreateOrGetRequest(item))
	if err != nil {
		return entity.CanonicalItem{}, err
	}
	item.ContentID = resp.ID

	if markErr := s.dedup.Mark(ctx, key, resp.ID); markErr != nil {
		s.logger.WarnContext(ctx, "failed to record dedup key", slog.String("error", markErr.Error()))
	}
	counters.Processed++

	if item.Status == entity.StatusArchived {
		return item, nil
	}
	if err := s.fanOut(ctx, item); err != nil {
		s.logger.WarnContext(ctx, "fan-out enqueue failed", slog.String("content_id", item.ContentID), slog.String("error", err.Error()))
		counters.Failed++
	} else if item.Type.IsMediaBearing() {
		if item.MediaReady() {
			counters.EnrichmentEnqueued++
		} else {
			counters.MediaEnqueued++
		}
	}
	return item, nil
}

// fanOut implements spec.md §4.G step 6's fan-out table.
func (s *Stage) fanOut(ctx context.Context, item entity.CanonicalItem) error {
	if !item.Type.IsMediaBearing() {
		return nil
	}

	textFields := entity.EnrichmentTextFields{Title: item.Title, Excerpt: item.Excerpt, Body: item.BodyText}

	if item.MediaReady() {
		enrichmentJob := entity.EnrichmentJob{
			ContentID:  item.ContentID,
			Type:       item.Type,
			Operations: []entity.EnrichmentOperation{entity.EnrichmentOpTranscript, entity.EnrichmentOpEmbedding},
			TextFields: textFields,
			MediaURL:   item.MediaURL,
			TopicTags:  item.TopicTags,
		}
		payload, err := json.Marshal(enrichmentJob)
		if err != nil {
			return fmt.Errorf("marshal enrichment job: %w", err)
		}
		_, err = s.jobQueue.Enqueue(ctx, entity.QueueEnrichment, payload, queue.EnqueueOptions{
			JobID:       "enrichment:" + item.ContentID,
			Priority:    2,
			AttemptsMax: 3,
			Backoff:     retryBaseDelay,
		})
		return err
	}

	priority := 2
	if item.Type == entity.ContentTypePodcast {
		priority = 3
	}
	mediaJob := entity.MediaJob{
		ContentID:  item.ContentID,
		Type:       item.Type,
		SourceURL:  item.OriginalURL,
		Operations: []entity.MediaOperation{entity.MediaOpDownload, entity.MediaOpTranscode, entity.MediaOpThumbnail},
		TextFields: textFields,
		TopicTags:  item.TopicTags,
	}
	payload, err := json.Marshal(mediaJob)
	if err != nil {
		return fmt.Errorf("marshal media job: %w", err)
	}
	_, err = s.jobQueue.Enqueue(ctx, entity.QueueMedia, payload, queue.EnqueueOptions{
		JobID:       "media:" + item.ContentID,
		Priority:    priority,
		AttemptsMax: 3,
		Backoff:     retryBaseDelay,
	})
	return err
}

// toCreateOrGetRequest builds the create_or_get request body from a
// mapped (and moderated) CanonicalItem.
func toCreateOrGetRequest(item entity.CanonicalItem) cms.CreateOrGetRequest {
	return cms.CreateOrGetRequest{
		IdempotencyKey:  item.IdempotencyKey,
		Type:            string(item.Type),
		Source:          string(item.SourceKind),
		Status:          string(item.Status),
		Title:           item.Title,
		BodyText:        item.BodyText,
		Excerpt:         item.Excerpt,
		Author:          item.Author,
		SourceName:      item.SourceName,
		SourceFeedURL:   item.SourceFeedURL,
		OriginalURL:     item.OriginalURL,
		PublishedAt:     item.PublishedAt,
		MediaURL:        item.MediaURL,
		ThumbnailURL:    item.ThumbnailURL,
		DurationSeconds: item.DurationSeconds,
		TopicTags:       item.TopicTags,
		Metadata:        item.Attributes,
	}
}

// deriveDisplayName falls back to the source id when the settings type
// carries no human-readable name of its own.
func deriveDisplayName(sourceID string, settings entity.SourceSettings) string {
	switch s := settings.(type) {
	case entity.VideoChannelSettings:
		if s.ChannelID != "" {
			return s.ChannelID
		}
	}
	return sourceID
}
