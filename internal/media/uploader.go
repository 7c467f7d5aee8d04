package media

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"contentpipe/internal/objectstore"
)

// defaultUploadBackoff is the stage-level retry schedule spec.md §4.H
// step 5 spells out literally: "3 attempts, 1s/2s/4s backoff". This
// sits above objectstore.Client.Put's own connection-level retry, which
// handles transient network hiccups on a single attempt; this loop
// handles the coarser case of the object store being down for a few
// seconds.
var defaultUploadBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Uploader pushes the media stage's processed and thumbnail artifacts
// into the object store under deterministic per-content-item keys.
type Uploader struct {
	store   *objectstore.Client
	backoff []time.Duration
}

// NewUploader builds an Uploader.
func NewUploader(store *objectstore.Client) *Uploader {
	return &Uploader{store: store, backoff: defaultUploadBackoff}
}

// Artifacts holds the public URLs the media stage writes back to the
// CMS via UpdateArtifacts after a successful upload, plus the local
// processed file path so the enrichment stage can reuse it without
// re-downloading from the object store.
type Artifacts struct {
	MediaURL        string
	ThumbnailURL    string
	DurationSeconds int
	mediaPath       string
}

// Upload puts processedPath (and thumbnailPath, if non-empty) into the
// object store and returns their public URLs.
func (u *Uploader) Upload(ctx context.Context, contentID, processedPath, thumbnailPath string, logger *slog.Logger) (Artifacts, error) {
	mediaKey := objectstore.Key(contentID, objectstore.KindProcessed, "mp4")
	if err := u.putWithRetry(ctx, mediaKey, "video/mp4", processedPath, logger); err != nil {
		return Artifacts{}, fmt.Errorf("upload processed media: %w", err)
	}
	artifacts := Artifacts{MediaURL: u.store.PublicURL(mediaKey)}

	if thumbnailPath != "" {
		thumbKey := objectstore.Key(contentID, objectstore.KindThumbnail, "jpg")
		if err := u.putWithRetry(ctx, thumbKey, "image/jpeg", thumbnailPath, logger); err != nil {
			if logger != nil {
				logger.WarnContext(ctx, "thumbnail upload failed, proceeding without one",
					slog.String("content_id", contentID), slog.String("error", err.Error()))
			}
		} else {
			artifacts.ThumbnailURL = u.store.PublicURL(thumbKey)
		}
	}
	return artifacts, nil
}

func (u *Uploader) putWithRetry(ctx context.Context, key, contentType, path string, logger *slog.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat upload source %s: %w", path, err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(u.backoff); attempt++ {
		if attempt > 0 {
			if logger != nil {
				logger.WarnContext(ctx, "retrying object store upload",
					slog.String("key", key), slog.Int("attempt", attempt+1), slog.String("error", lastErr.Error()))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.backoff[attempt-1]):
			}
		}

		file, openErr := os.Open(path)
		if openErr != nil {
			return fmt.Errorf("open upload source %s: %w", path, openErr)
		}
		putErr := u.store.Put(ctx, key, resolveContentType(contentType, path), file, info.Size())
		file.Close()
		if putErr == nil {
			return nil
		}
		lastErr = putErr
	}
	return lastErr
}

func resolveContentType(hint, path string) string {
	if hint != "" {
		return hint
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
