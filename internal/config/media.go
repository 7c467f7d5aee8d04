package config

import (
	"log/slog"
	"time"

	pkgconfig "contentpipe/internal/pkg/config"
)

// MediaConfig configures internal/media: scratch directory, size/time
// caps on downloads, and stage timeout caps (spec.md §4.H, §5, §6
// media_temp_dir).
type MediaConfig struct {
	TempDir            string
	DownloadTimeout    time.Duration
	DownloadMaxBytes   int64
	TranscodeTimeout   time.Duration
	ThumbnailAtSeconds int
	UploadMaxAttempts  int
	DownloaderBinary   string
}

func loadMediaConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) MediaConfig {
	downloadTimeout := pkgconfig.LoadEnvDuration("MEDIA_DOWNLOAD_TIMEOUT", 120*time.Second, durationInRange(time.Second, 10*time.Minute))
	if downloadTimeout.FallbackApplied {
		warnFallback(logger, metrics, "media_download_timeout", downloadTimeout.Warnings)
	}
	transcodeTimeout := pkgconfig.LoadEnvDuration("MEDIA_TRANSCODE_TIMEOUT", 180*time.Second, durationInRange(time.Second, 30*time.Minute))
	if transcodeTimeout.FallbackApplied {
		warnFallback(logger, metrics, "media_transcode_timeout", transcodeTimeout.Warnings)
	}
	maxBytes := pkgconfig.LoadEnvInt("MEDIA_DOWNLOAD_MAX_MB", 512, intInRange(1, 10*1024))
	if maxBytes.FallbackApplied {
		warnFallback(logger, metrics, "media_download_max_mb", maxBytes.Warnings)
	}
	attempts := pkgconfig.LoadEnvInt("MEDIA_UPLOAD_MAX_ATTEMPTS", 3, intInRange(1, 10))
	if attempts.FallbackApplied {
		warnFallback(logger, metrics, "media_upload_max_attempts", attempts.Warnings)
	}

	return MediaConfig{
		TempDir:            pkgconfig.LoadEnvString("MEDIA_TEMP_DIR", "/tmp/contentpipe-media"),
		DownloadTimeout:    downloadTimeout.Value.(time.Duration),
		DownloadMaxBytes:   int64(maxBytes.Value.(int)) * 1024 * 1024,
		TranscodeTimeout:   transcodeTimeout.Value.(time.Duration),
		ThumbnailAtSeconds: 2,
		UploadMaxAttempts:  attempts.Value.(int),
		DownloaderBinary:   pkgconfig.LoadEnvString("VIDEO_DOWNLOADER_BINARY", "yt-dlp"),
	}
}
