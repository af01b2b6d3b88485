package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/mikey/linxo-exporter/internal/core"
	"go.uber.org/zap"
)

// FileStore writes the artifact to a fixed path, replacing the previous export
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore creates a new file store
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// Save writes the artifact through a temp file and a rename so readers never see a
// partial export
func (s *FileStore) Save(ctx context.Context, artifact *core.ExportArtifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(artifact.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("failed to set artifact permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}

	s.logger.Info("Artifact saved",
		zap.String("path", s.path),
		zap.String("size", humanize.Bytes(uint64(artifact.Size()))))
	return s.path, nil
}
