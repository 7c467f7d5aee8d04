// Package media implements the media stage (spec.md §4.H): download the
// source URL, probe it, transcode to a broadly compatible MP4, extract a
// thumbnail, and upload both artifacts through internal/objectstore.
// The ffmpeg/ffprobe/downloader binaries stay external collaborators;
// only the context-bound subprocess wiring lives here.
package media

import (
	"fmt"
	"os"
	"path/filepath"
)

// ScratchDir returns a per-content-item temporary directory, named by
// convention so concurrent media jobs never collide on shared state
// (spec.md §5 "Shared-resource policy": `<content_id>_*`).
type ScratchDir struct {
	path string
}

// NewScratchDir creates (but does not yet populate) a scoped temp
// directory for contentID under baseDir.
func NewScratchDir(baseDir, contentID string) (*ScratchDir, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	path, err := os.MkdirTemp(baseDir, fmt.Sprintf("%s_", contentID))
	if err != nil {
		return nil, fmt.Errorf("create scratch dir for %s: %w", contentID, err)
	}
	return &ScratchDir{path: path}, nil
}

// Path returns the directory's filesystem path.
func (s *ScratchDir) Path() string {
	return s.path
}

// File joins name onto the scratch directory.
func (s *ScratchDir) File(name string) string {
	return filepath.Join(s.path, name)
}

// Close removes the scratch directory and everything under it,
// satisfying spec.md §4.H's "temporary files are deleted on any exit
// path" on every return path, success or error, via defer at the call
// site.
func (s *ScratchDir) Close() error {
	return os.RemoveAll(s.path)
}
