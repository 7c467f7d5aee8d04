// Package enrichment implements the enrichment stage (spec.md §4.I):
// a best-effort transcript pass and a best-effort embedding pass,
// finalizing the content item to READY once both have been attempted.
// Grounded on internal/media.Pipeline's step/finalize/fail shape,
// generalized from a fatal-on-error sequence to one where the two
// content-generation steps are individually non-fatal but the CMS
// writes that record their outcome are not.
package enrichment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"contentpipe/internal/cms"
	"contentpipe/internal/config"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/embedder"
	"contentpipe/internal/media"
	"contentpipe/internal/observability/metrics"
	"contentpipe/internal/summarize"
	"contentpipe/internal/transcriber"
	"contentpipe/internal/utils/text"
)

// embeddingInputCap is the hard truncation cap on the embedding input
// text (spec.md §4.I: "truncated to a hard cap (8192 characters)").
const embeddingInputCap = 8192

// textExcerptCap bounds how much of the transcript or body feeds the
// embedding input (spec.md §4.I: "transcript_first_2000 ??
// body_first_2000").
const textExcerptCap = 2000

// Stage runs the enrichment pipeline for one EnrichmentJob.
type Stage struct {
	cmsClient   *cms.Client
	transcriber *transcriber.Client
	embedder    *embedder.Client
	downloader  *media.Downloader
	transcoder  *media.Transcoder
	prober      *media.Prober
	summarizer  summarize.Summarizer
	mediaCfg    config.MediaConfig
	logger      *slog.Logger
}

// NewStage wires the enrichment stage's collaborators. It reuses
// internal/media's downloader/transcoder/prober rather than duplicating
// subprocess and HTTP-download code, since fetching and preparing an
// audio track from a remote URL is exactly what the media stage already
// does for its own download step. summarizer is the optional AI
// summarization supplement (SPEC_FULL §4.I); pass summarize.NoOp{} to
// disable it.
func NewStage(cmsClient *cms.Client, transcriberClient *transcriber.Client, embedderClient *embedder.Client, downloader *media.Downloader, summarizer summarize.Summarizer, mediaCfg config.MediaConfig, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	if summarizer == nil {
		summarizer = summarize.NoOp{}
	}
	return &Stage{
		cmsClient:   cmsClient,
		transcriber: transcriberClient,
		embedder:    embedderClient,
		downloader:  downloader,
		transcoder:  media.NewTranscoder(""),
		prober:      media.NewProber(""),
		summarizer:  summarizer,
		mediaCfg:    mediaCfg,
		logger:      logger,
	}
}

// Run executes one EnrichmentJob's best-effort transcript and embedding
// passes, then finalizes the item to READY. A returned error means a
// CMS write that must not be silently lost failed, and the caller's
// queue reservation loop should retry (or dead-letter) the job.
func (s *Stage) Run(ctx context.Context, job entity.EnrichmentJob) error {
	logger := s.logger.With(slog.String("content_id", job.ContentID))

	transcriptText := s.attemptTranscript(ctx, job, logger)
	textFields := job.TextFields
	textFields.TranscriptText = transcriptText

	if err := s.attemptEmbedding(ctx, job, textFields, logger); err != nil {
		return s.fail(ctx, job, logger, fmt.Errorf("update_embedding: %w", err))
	}

	if err := s.cmsClient.UpdateStatus(ctx, job.ContentID, entity.StatusReady, ""); err != nil {
		return s.fail(ctx, job, logger, fmt.Errorf("update_status: %w", err))
	}
	logger.InfoContext(ctx, "enrichment stage complete")
	return nil
}

// attemptTranscript runs the best-effort transcript pass (spec.md §4.I
// "Transcript"). Every failure along the way — no media, download
// failure, audio extraction failure, empty transcriber output, or a
// failed create_transcript/link_transcript call — is logged and
// swallowed; the caller proceeds to embedding regardless.
func (s *Stage) attemptTranscript(ctx context.Context, job entity.EnrichmentJob, logger *slog.Logger) string {
	if job.MediaPath == "" && job.MediaURL == "" {
		return ""
	}

	audioPath, cleanup, err := s.prepareAudio(ctx, job, logger)
	if err != nil {
		logger.WarnContext(ctx, "transcript skipped: could not prepare audio", slog.String("error", err.Error()))
		return ""
	}
	defer cleanup()

	file, err := os.Open(audioPath)
	if err != nil {
		logger.WarnContext(ctx, "transcript skipped: could not open prepared audio", slog.String("error", err.Error()))
		return ""
	}
	defer file.Close()

	result, err := s.transcriber.Transcribe(ctx, audioPath, file, len(job.TextFields.TranscriptText) == 0)
	if err != nil {
		metrics.RecordTranscriptAttempt("failed")
		logger.WarnContext(ctx, "transcript skipped: transcriber call failed", slog.String("error", err.Error()))
		return ""
	}
	if strings.TrimSpace(result.Text) == "" {
		metrics.RecordTranscriptAttempt("empty")
		logger.InfoContext(ctx, "transcript discarded: empty text")
		return ""
	}
	metrics.RecordTranscriptAttempt("created")

	summaryStart := time.Now()
	summary, err := s.summarizer.Summarize(ctx, result.Text)
	if !errors.Is(err, summarize.ErrDisabled) {
		metrics.RecordSummarizationDuration(time.Since(summaryStart))
		metrics.RecordSummaryGenerated(err == nil)
	}
	if err != nil {
		if !errors.Is(err, summarize.ErrDisabled) {
			logger.InfoContext(ctx, "transcript summary skipped", slog.String("error", err.Error()))
		}
		summary = ""
	}

	transcriptResp, err := s.cmsClient.CreateTranscript(ctx, cms.CreateTranscriptRequest{
		ContentItemID:  job.ContentID,
		FullText:       result.Text,
		Summary:        summary,
		WordTimestamps: result.Timestamps,
		Language:       result.Language,
	})
	if err != nil {
		logger.WarnContext(ctx, "transcript computed but create_transcript failed", slog.String("error", err.Error()))
		return result.Text
	}
	if err := s.cmsClient.LinkTranscript(ctx, job.ContentID, transcriptResp.ID); err != nil {
		logger.WarnContext(ctx, "transcript created but link_transcript failed", slog.String("error", err.Error()))
	}
	return result.Text
}

// prepareAudio resolves an on-disk audio file to hand the transcriber,
// downloading from MediaURL into a fresh scratch directory when
// MediaPath isn't present (it rarely will be: by the time the
// enrichment job is reserved, the media stage's own scratch directory
// has already been cleaned up). Video containers have their audio
// track extracted first, matching spec.md §4.I's "If the media is a
// video container, extract an audio track first."
func (s *Stage) prepareAudio(ctx context.Context, job entity.EnrichmentJob, logger *slog.Logger) (string, func(), error) {
	noop := func() {}

	srcPath := job.MediaPath
	var dir *media.ScratchDir
	if srcPath == "" || !fileExists(srcPath) {
		if job.MediaURL == "" {
			return "", noop, fmt.Errorf("no media path or url available")
		}
		d, err := media.NewScratchDir(s.mediaCfg.TempDir, job.ContentID)
		if err != nil {
			return "", noop, fmt.Errorf("create scratch dir: %w", err)
		}
		dir = d
		downloaded, err := s.downloader.Download(ctx, job.MediaURL, dir)
		if err != nil {
			dir.Close()
			return "", noop, fmt.Errorf("download media: %w", err)
		}
		srcPath = downloaded
	}

	probe, err := s.prober.Inspect(ctx, srcPath)
	if err != nil {
		if dir != nil {
			dir.Close()
		}
		return "", noop, fmt.Errorf("probe media: %w", err)
	}

	if !probe.HasVideo {
		if dir != nil {
			return srcPath, func() { dir.Close() }, nil
		}
		return srcPath, noop, nil
	}

	if dir == nil {
		d, err := media.NewScratchDir(s.mediaCfg.TempDir, job.ContentID)
		if err != nil {
			return "", noop, fmt.Errorf("create scratch dir: %w", err)
		}
		dir = d
	}
	audioPath, err := s.transcoder.ExtractAudio(ctx, srcPath, dir)
	if err != nil {
		dir.Close()
		return "", noop, fmt.Errorf("extract audio: %w", err)
	}
	return audioPath, func() { dir.Close() }, nil
}

// attemptEmbedding runs the best-effort embedding pass (spec.md §4.I
// "Embedding"). A failed embedder.Embed call is logged and swallowed
// (no update_embedding call is made, matching "enrichment errors do
// not fail the job"); once a vector has been computed, the CMS write
// is not best-effort and its error is returned so the caller retries.
func (s *Stage) attemptEmbedding(ctx context.Context, job entity.EnrichmentJob, textFields entity.EnrichmentTextFields, logger *slog.Logger) error {
	input := buildEmbeddingInput(textFields)

	vector, err := s.embedder.Embed(ctx, input)
	if err != nil {
		metrics.RecordEmbeddingAttempt(false)
		logger.WarnContext(ctx, "embedding skipped: embedder call failed", slog.String("error", err.Error()))
		return nil
	}

	if err := s.cmsClient.UpdateEmbedding(ctx, job.ContentID, vector, job.TopicTags); err != nil {
		metrics.RecordEmbeddingAttempt(false)
		return err
	}
	metrics.RecordEmbeddingAttempt(true)
	return nil
}

// buildEmbeddingInput assembles "title + transcript_first_2000 (or
// body_first_2000) + excerpt_if_distinct", truncated to
// embeddingInputCap (spec.md §4.I).
func buildEmbeddingInput(f entity.EnrichmentTextFields) string {
	body := f.TranscriptText
	if body == "" {
		body = f.Body
	}
	body = text.TruncateRunes(body, textExcerptCap)

	var b bytes.Buffer
	b.WriteString(f.Title)
	if body != "" {
		b.WriteString(" ")
		b.WriteString(body)
	}
	if f.Excerpt != "" && f.Excerpt != f.Title && f.Excerpt != body {
		b.WriteString(" ")
		b.WriteString(f.Excerpt)
	}
	return text.TruncateRunes(b.String(), embeddingInputCap)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fail records the item as FAILED (best-effort) and returns cause so
// the queue's retry/DLQ policy takes over (spec.md §4.I: "On any
// unhandled error before finalization, transition status to FAILED").
// A cancellation skips the CMS write entirely: a job caught by
// cooperative shutdown must leave no status change in the collaborator
// (spec.md §5) and comes back as KindCancelled so the runtime releases
// it to WAITING instead of failing it.
func (s *Stage) fail(ctx context.Context, job entity.EnrichmentJob, logger *slog.Logger, cause error) error {
	if entity.KindOf(cause) == entity.KindCancelled || ctx.Err() != nil {
		logger.InfoContext(ctx, "enrichment stage cancelled, leaving content status untouched")
		if entity.KindOf(cause) == entity.KindCancelled {
			return cause
		}
		return entity.NewError(entity.KindCancelled, cause)
	}
	logger.ErrorContext(ctx, "enrichment stage failed", slog.String("error", cause.Error()), slog.String("error_kind", string(entity.KindOf(cause))))
	if updateErr := s.cmsClient.UpdateStatus(ctx, job.ContentID, entity.StatusFailed, cause.Error()); updateErr != nil {
		logger.WarnContext(ctx, "failed to record FAILED status", slog.String("error", updateErr.Error()))
	}
	return cause
}
