package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Constraints describe the preferred capture configuration.
type Constraints struct {
	Width       int
	Height      int
	FacingFront bool
}

// DefaultConstraints is the preferred selfie capture configuration.
var DefaultConstraints = Constraints{Width: 640, Height: 480, FacingFront: true}

// Stream is an acquired camera feed. Capture returns one still frame encoded
// as JPEG-equivalent bytes. Close releases the device and must be safe to call
// once on every session exit path.
type Stream interface {
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// FrameSource acquires a camera stream. An Open failure means the device is
// unavailable (denied permission, no camera) and is terminal for the session.
type FrameSource interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// DirectorySource replays still images from a directory as a camera feed. It
// backs the CLI verification flow and integration-style tests, where a real
// device is not available.
type DirectorySource struct {
	Dir string
}

var frameExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Open implements FrameSource. The directory must contain at least one frame
// image; frames are replayed in lexical order and cycle when exhausted.
func (d *DirectorySource) Open(_ context.Context, _ Constraints) (Stream, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory %q: %w", d.Dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if frameExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(d.Dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no frame images in %q", d.Dir)
	}

	return &directoryStream{paths: paths}, nil
}

type directoryStream struct {
	mu     sync.Mutex
	paths  []string
	next   int
	closed bool
}

func (s *directoryStream) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("capture on closed stream")
	}
	path := s.paths[s.next%len(s.paths)]
	s.next++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading frame %q: %w", path, err)
	}
	return data, nil
}

func (s *directoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
