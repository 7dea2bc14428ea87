package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/phrazzld/sunlog-api/internal/config"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
)

const noSuchKey = "NoSuchKey"

// MinIO stores blobs as objects in an S3-compatible bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ Storage = (*MinIO)(nil)

// NewMinIO connects to the object store and creates the bucket if missing.
func NewMinIO(ctx context.Context, cfg config.MinIOConfig, logger *slog.Logger) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &MinIO{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With(slog.String("component", "blob_minio"), slog.String("bucket", cfg.Bucket)),
	}, nil
}

// Put implements Storage.Put
func (s *MinIO) Put(
	ctx context.Context,
	groupID, taskID uuid.UUID,
	filename, contentType string,
	data []byte,
) (string, error) {
	ref := ObjectKey(groupID, taskID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, ref, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}
	logger.FromContextOrDefault(ctx, s.logger).Debug("blob stored",
		slog.String("ref", ref),
		slog.Int("bytes", len(data)))
	return ref, nil
}

// Get implements Storage.Get
func (s *MinIO) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(err)
	}
	return data, nil
}

// Delete implements Storage.Delete
func (s *MinIO) Delete(ctx context.Context, ref string) (bool, error) {
	if err := validateRef(ref); err != nil {
		return false, err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, ref, minio.StatObjectOptions{}); err != nil {
		if errors.Is(s.mapError(err), ErrBlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("failed to remove object: %w", err)
	}
	return true, nil
}

func (s *MinIO) mapError(err error) error {
	if minio.ToErrorResponse(err).Code == noSuchKey {
		return ErrBlobNotFound
	}
	return err
}
