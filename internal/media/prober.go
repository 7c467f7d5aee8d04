package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"contentpipe/internal/domain/entity"
)

// Probe reports the properties of a downloaded media file that the
// transcode step needs: duration, and whether a video and/or audio
// stream is present (spec.md §4.H step 2).
type Probe struct {
	DurationSeconds float64
	HasVideo        bool
	HasAudio        bool
}

// ffprobeStream is the subset of ffprobe's JSON stream entry this
// package reads.
type ffprobeStream struct {
	CodecType string `json:"codec_type"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// Prober shells out to ffprobe to inspect a downloaded file.
type Prober struct {
	binary string
}

// NewProber builds a Prober using the given ffprobe binary name (empty
// defaults to "ffprobe" on PATH).
func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary}
}

// Inspect runs ffprobe against path and parses duration and stream
// presence out of its JSON output.
func (p *Prober) Inspect(ctx context.Context, path string) (Probe, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-show_entries", "stream=codec_type",
		"-of", "json",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return Probe{}, entity.NewError(entity.KindInvalidData, fmt.Errorf("ffprobe failed for %s: %w", path, err))
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return Probe{}, entity.NewError(entity.KindInvalidData, fmt.Errorf("parse ffprobe output for %s: %w", path, err))
	}

	probe := Probe{}
	if parsed.Format.Duration != "" {
		seconds, err := strconv.ParseFloat(parsed.Format.Duration, 64)
		if err == nil {
			probe.DurationSeconds = seconds
		}
	}
	for _, stream := range parsed.Streams {
		switch stream.CodecType {
		case "video":
			probe.HasVideo = true
		case "audio":
			probe.HasAudio = true
		}
	}

	if !probe.HasVideo && !probe.HasAudio {
		return Probe{}, entity.NewError(entity.KindInvalidData, fmt.Errorf("no video or audio stream found in %s", path))
	}
	return probe, nil
}
