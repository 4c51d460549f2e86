// Package blob stores segment audio as WAV files, on local disk or behind an HTTP endpoint.
package blob

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"consultscribe/internal/audio"
	"consultscribe/internal/domain"
)

// FileStore writes one WAV file per segment under a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve audio dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

func (s *FileStore) SaveAudio(_ context.Context, segmentID string, recording domain.Audio) (string, error) {
	path := filepath.Join(s.dir, objectName(segmentID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, audio.EncodeWAV(recording), 0o644); err != nil {
		return "", fmt.Errorf("failed to write audio for segment %s: %w", segmentID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to store audio for segment %s: %w", segmentID, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
}

func objectName(segmentID string) string {
	return url.PathEscape(segmentID) + ".wav"
}
