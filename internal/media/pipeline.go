package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"contentpipe/internal/cms"
	"contentpipe/internal/config"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/objectstore"
	"contentpipe/internal/observability/metrics"
	"contentpipe/internal/queue"
)

// retryBaseDelay is the queue-level base backoff for a re-driven
// enrichment job, matching the other stages' retry defaults.
const retryBaseDelay = 2 * time.Second

// Pipeline runs the media stage's full sequence for one job: preamble,
// download, probe, transcode, thumbnail, upload, finalize (spec.md
// §4.H). Every step shares the job's context so cancellation (stage
// shutdown, job timeout) aborts whichever external call is in flight.
type Pipeline struct {
	cfg        config.MediaConfig
	cmsClient  *cms.Client
	store      *objectstore.Client
	queue      queue.Store
	downloader *Downloader
	prober     *Prober
	transcoder *Transcoder
	uploader   *Uploader
	logger     *slog.Logger
}

// NewPipeline wires the media stage's collaborators.
func NewPipeline(cfg config.MediaConfig, cmsClient *cms.Client, store *objectstore.Client, jobQueue queue.Store, downloader *Downloader, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		cmsClient:  cmsClient,
		store:      store,
		queue:      jobQueue,
		downloader: downloader,
		prober:     NewProber(""),
		transcoder: NewTranscoder(""),
		uploader:   NewUploader(store),
		logger:     logger,
	}
}

// Run executes one MediaJob to completion. A returned error means the
// job should be retried (or dead-lettered) by the caller's queue
// reservation loop; a nil return means the content item reached either
// READY-pending-enrichment or a terminal FAILED state that was already
// reported to the CMS, so the job itself is done either way.
func (p *Pipeline) Run(ctx context.Context, job entity.MediaJob) error {
	logger := p.logger.With(slog.String("content_id", job.ContentID))

	processedKey := objectstore.Key(job.ContentID, objectstore.KindProcessed, "mp4")
	alreadyProcessed, err := p.store.Exists(ctx, processedKey)
	if err != nil {
		logger.WarnContext(ctx, "idempotency check failed, proceeding with full run", slog.String("error", err.Error()))
	}
	if alreadyProcessed {
		logger.InfoContext(ctx, "processed artifact already present, skipping re-transcode")
		artifacts := Artifacts{MediaURL: p.store.PublicURL(processedKey)}
		return p.finalize(ctx, job, artifacts, logger)
	}

	if err := p.cmsClient.UpdateStatus(ctx, job.ContentID, entity.StatusProcessing, ""); err != nil {
		logger.WarnContext(ctx, "failed to mark content PROCESSING, continuing anyway", slog.String("error", err.Error()))
	}

	dir, err := NewScratchDir(p.cfg.TempDir, job.ContentID)
	if err != nil {
		return p.fail(ctx, job, logger, fmt.Errorf("create scratch dir: %w", err))
	}
	defer func() {
		if closeErr := dir.Close(); closeErr != nil {
			logger.WarnContext(ctx, "failed to clean up scratch dir", slog.String("error", closeErr.Error()))
		}
	}()

	srcPath, err := p.downloader.Download(ctx, job.SourceURL, dir)
	if err != nil {
		return p.fail(ctx, job, logger, fmt.Errorf("download: %w", err))
	}

	probe, err := p.prober.Inspect(ctx, srcPath)
	if err != nil {
		return p.fail(ctx, job, logger, fmt.Errorf("probe: %w", err))
	}

	transcodeStart := time.Now()
	processedPath, err := p.transcoder.Transcode(ctx, srcPath, probe, dir)
	if err != nil {
		return p.fail(ctx, job, logger, fmt.Errorf("transcode: %w", err))
	}
	metrics.RecordTranscode(time.Since(transcodeStart))

	thumbnailPath, ok := p.transcoder.Thumbnail(ctx, processedPath, p.cfg.ThumbnailAtSeconds, dir, logger)
	if !ok {
		thumbnailPath = ""
	}

	artifacts, err := p.uploader.Upload(ctx, job.ContentID, processedPath, thumbnailPath, logger)
	if err != nil {
		return p.fail(ctx, job, logger, fmt.Errorf("upload: %w", err))
	}
	artifacts.mediaPath = processedPath
	artifacts.DurationSeconds = int(probe.DurationSeconds)

	return p.finalize(ctx, job, artifacts, logger)
}

// finalize records the uploaded artifact URLs against the content item
// and enqueues the enrichment job that consumes them (spec.md §4.H
// step 7).
func (p *Pipeline) finalize(ctx context.Context, job entity.MediaJob, artifacts Artifacts, logger *slog.Logger) error {
	if err := p.cmsClient.UpdateArtifacts(ctx, job.ContentID, cms.ArtifactUpdate{
		MediaURL:        artifacts.MediaURL,
		ThumbnailURL:    artifacts.ThumbnailURL,
		DurationSeconds: artifacts.DurationSeconds,
	}); err != nil {
		return p.fail(ctx, job, logger, fmt.Errorf("update_artifacts: %w", err))
	}

	enrichmentJob := entity.EnrichmentJob{
		ContentID:  job.ContentID,
		Type:       job.Type,
		Operations: []entity.EnrichmentOperation{entity.EnrichmentOpTranscript, entity.EnrichmentOpEmbedding},
		TextFields: job.TextFields,
		MediaPath:  artifacts.mediaPath,
		MediaURL:   artifacts.MediaURL,
		TopicTags:  job.TopicTags,
	}
	payload, err := json.Marshal(enrichmentJob)
	if err != nil {
		return fmt.Errorf("marshal enrichment job: %w", err)
	}
	if _, err := p.queue.Enqueue(ctx, entity.QueueEnrichment, payload, queue.EnqueueOptions{
		JobID:       "enrichment:" + job.ContentID,
		AttemptsMax: 3,
		Backoff:     retryBaseDelay,
	}); err != nil {
		return fmt.Errorf("enqueue enrichment job: %w", err)
	}

	logger.InfoContext(ctx, "media stage complete, enrichment enqueued")
	return nil
}

// fail marks the content item FAILED in the CMS (best-effort) and
// returns the original error so the queue's retry/dead-letter policy
// takes over (spec.md §4.H: "fatal steps move the item to FAILED; the
// job store, not the stage, decides whether the whole job is retried").
// A cancellation is not a failure: the job is being shut down
// cooperatively and must leave no status change in the collaborator
// (spec.md §5), so the CMS write is skipped and the error comes back
// as KindCancelled for the runtime to release the job.
func (p *Pipeline) fail(ctx context.Context, job entity.MediaJob, logger *slog.Logger, cause error) error {
	if entity.KindOf(cause) == entity.KindCancelled || ctx.Err() != nil {
		logger.InfoContext(ctx, "media stage cancelled, leaving content status untouched")
		if entity.KindOf(cause) == entity.KindCancelled {
			return cause
		}
		return entity.NewError(entity.KindCancelled, cause)
	}
	logger.ErrorContext(ctx, "media stage failed", slog.String("error", cause.Error()), slog.String("error_kind", string(entity.KindOf(cause))))
	if updateErr := p.cmsClient.UpdateStatus(ctx, job.ContentID, entity.StatusFailed, cause.Error()); updateErr != nil {
		logger.WarnContext(ctx, "failed to record FAILED status", slog.String("error", updateErr.Error()))
	}
	return cause
}
