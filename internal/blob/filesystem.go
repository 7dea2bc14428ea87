package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
)

// FileSystem stores blobs as files below a base directory.
type FileSystem struct {
	basePath string
	logger   *slog.Logger
}

var _ Storage = (*FileSystem)(nil)

// NewFileSystem creates the base directory if needed and returns a storage rooted there.
func NewFileSystem(basePath string, logger *slog.Logger) (*FileSystem, error) {
	if basePath == "" {
		return nil, fmt.Errorf("blob base path cannot be empty")
	}
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSystem{
		basePath: basePath,
		logger:   logger.With(slog.String("component", "blob_fs")),
	}, nil
}

// Put implements Storage.Put. The file is written under a temporary name and
// renamed into place so readers never observe a partial image.
func (s *FileSystem) Put(
	ctx context.Context,
	groupID, taskID uuid.UUID,
	filename, _ string,
	data []byte,
) (string, error) {
	ref := ObjectKey(groupID, taskID, filename)
	full := s.path(ref)

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("failed to move blob into place: %w", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Debug("blob stored",
		slog.String("ref", ref),
		slog.Int("bytes", len(data)))
	return ref, nil
}

// Get implements Storage.Get
func (s *FileSystem) Get(_ context.Context, ref string) ([]byte, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Delete implements Storage.Delete
func (s *FileSystem) Delete(ctx context.Context, ref string) (bool, error) {
	if err := validateRef(ref); err != nil {
		return false, err
	}
	err := os.Remove(s.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete blob: %w", err)
	}
	logger.FromContextOrDefault(ctx, s.logger).Debug("blob deleted", slog.String("ref", ref))
	return true, nil
}

func (s *FileSystem) path(ref string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(ref))
}
