package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"contentpipe/internal/domain/entity"
)

// Transcoder converts a downloaded source file into the pipeline's
// canonical delivery format (spec.md §4.H step 3: "H.264 baseline +
// AAC MP4 with faststart and yuv420p") and extracts a still thumbnail
// (step 4).
type Transcoder struct {
	binary string
}

// NewTranscoder builds a Transcoder using the given ffmpeg binary name
// (empty defaults to "ffmpeg" on PATH).
func NewTranscoder(binary string) *Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Transcoder{binary: binary}
}

// Transcode produces dir/processed.mp4 from src. Video sources are
// re-encoded to H.264 baseline + AAC; audio-only sources (probe.HasVideo
// false) get a static placeholder video track so every processed file
// is a playable MP4 (spec.md §4.H step 3: "audio-only gets a still-frame
// placeholder").
func (t *Transcoder) Transcode(ctx context.Context, src string, probe Probe, dir *ScratchDir) (string, error) {
	destPath := dir.File("processed.mp4")

	args := []string{"-y", "-i", src}
	if !probe.HasVideo {
		args = append(args,
			"-f", "lavfi", "-i", "color=c=black:s=640x360",
			"-shortest",
			"-c:v", "libx264", "-profile:v", "baseline", "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "128k",
		)
	} else {
		args = append(args,
			"-c:v", "libx264", "-profile:v", "baseline", "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "128k",
		)
	}
	args = append(args, "-movflags", "+faststart", destPath)

	cmd := exec.CommandContext(ctx, t.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", entity.NewError(entity.KindInvalidData, fmt.Errorf("ffmpeg transcode failed: %w: %s", err, truncateOutput(output)))
	}
	if _, statErr := os.Stat(destPath); statErr != nil {
		return "", entity.NewError(entity.KindInternalError, fmt.Errorf("ffmpeg reported success but output is missing: %w", statErr))
	}
	return destPath, nil
}

// Thumbnail extracts a frame at atSeconds into dir/thumbnail.jpg. Per
// spec.md §4.H step 4 this is best-effort: a failure is logged and
// swallowed, leaving the caller to fall back to the source's own
// thumbnail URL if one was supplied.
func (t *Transcoder) Thumbnail(ctx context.Context, processedPath string, atSeconds int, dir *ScratchDir, logger *slog.Logger) (string, bool) {
	destPath := dir.File("thumbnail.jpg")
	cmd := exec.CommandContext(ctx, t.binary,
		"-y",
		"-ss", fmt.Sprintf("%d", atSeconds),
		"-i", processedPath,
		"-frames:v", "1",
		"-q:v", "3",
		destPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "thumbnail extraction failed, will fall back to source thumbnail",
				slog.String("error", err.Error()),
				slog.String("ffmpeg_output", truncateOutput(output)))
		}
		return "", false
	}
	if _, statErr := os.Stat(destPath); statErr != nil {
		return "", false
	}
	return destPath, true
}

// ExtractAudio pulls the audio track out of src into dir/audio.m4a, so
// the enrichment stage never submits a video container straight to the
// transcriber (spec.md §4.I: "If the media is a video container,
// extract an audio track first").
func (t *Transcoder) ExtractAudio(ctx context.Context, src string, dir *ScratchDir) (string, error) {
	destPath := dir.File("audio.m4a")
	cmd := exec.CommandContext(ctx, t.binary, "-y", "-i", src, "-vn", "-acodec", "aac", destPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", entity.NewError(entity.KindInvalidData, fmt.Errorf("ffmpeg audio extraction failed: %w: %s", err, truncateOutput(output)))
	}
	if _, statErr := os.Stat(destPath); statErr != nil {
		return "", entity.NewError(entity.KindInternalError, fmt.Errorf("ffmpeg reported success but audio output is missing: %w", statErr))
	}
	return destPath, nil
}

func truncateOutput(b []byte) string {
	const max = 2000
	if len(b) > max {
		return string(b[:max]) + "...(truncated)"
	}
	return string(b)
}
