package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
)

// SkipReason explains why an uploaded item did not become a task.
type SkipReason string

// Possible skip reasons
const (
	SkipUnsupportedType SkipReason = "unsupported_type"
	SkipTooLarge        SkipReason = "too_large"
	SkipEmpty           SkipReason = "empty"
	SkipStorageError    SkipReason = "storage_error"
)

const genericContentType = "application/octet-stream"

// SubmitItem is one uploaded image.
type SubmitItem struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SubmitRequest is a batch upload into a group's pool.
type SubmitRequest struct {
	GroupID     uuid.UUID
	SubmitterID uuid.UUID
	Items       []SubmitItem
}

// SkippedItem reports an item that was not admitted.
type SkippedItem struct {
	Filename string     `json:"filename"`
	Reason   SkipReason `json:"reason"`
}

// SubmitResult lists the created tasks and the skipped items.
type SubmitResult struct {
	Tasks   []*domain.PoolTask `json:"tasks"`
	Skipped []SkippedItem      `json:"skipped"`
}

// ErrNoItems is returned when a submission carries no files.
var ErrNoItems = domain.NewValidationError("files", "at least one file is required", nil)

// Submit admits a batch of images. The whole batch is rejected with a
// *domain.CapacityExceededError if it would push the group over its
// outstanding ceiling; otherwise invalid items are skipped individually.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("group_id", req.GroupID.String()),
		slog.String("submitter_id", req.SubmitterID.String()),
	)

	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}

	// Best effort: concurrent batches may each pass this check.
	outstanding, err := s.tasks.CountOutstanding(ctx, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to count outstanding tasks: %w", err)
	}
	if outstanding+len(req.Items) > s.cfg.MaxOutstanding {
		log.Info("batch rejected, pool is full",
			slog.Int("outstanding", outstanding),
			slog.Int("requested", len(req.Items)),
			slog.Int("limit", s.cfg.MaxOutstanding))
		return nil, &domain.CapacityExceededError{
			Outstanding: outstanding,
			Requested:   len(req.Items),
			Limit:       s.cfg.MaxOutstanding,
		}
	}

	result := &SubmitResult{
		Tasks:   make([]*domain.PoolTask, 0, len(req.Items)),
		Skipped: []SkippedItem{},
	}
	var lastStorageErr error

	for _, item := range req.Items {
		contentType, reason := s.checkItem(item)
		if reason != "" {
			result.Skipped = append(result.Skipped, SkippedItem{Filename: item.Filename, Reason: reason})
			continue
		}

		task, err := s.admit(ctx, req, item, contentType)
		if err != nil {
			log.Error("failed to admit item",
				slog.String("filename", item.Filename),
				slog.String("error", err.Error()))
			lastStorageErr = err
			result.Skipped = append(result.Skipped, SkippedItem{Filename: item.Filename, Reason: SkipStorageError})
			continue
		}
		result.Tasks = append(result.Tasks, task)
	}

	if len(result.Tasks) == 0 && lastStorageErr != nil {
		return nil, lastStorageErr
	}

	log.Info("batch admitted",
		slog.Int("created", len(result.Tasks)),
		slog.Int("skipped", len(result.Skipped)))
	return result, nil
}

// checkItem resolves the item's content type and reports why it must be
// skipped, if at all.
func (s *Service) checkItem(item SubmitItem) (string, SkipReason) {
	if len(item.Data) == 0 {
		return "", SkipEmpty
	}
	if int64(len(item.Data)) > s.cfg.MaxFileBytes {
		return "", SkipTooLarge
	}

	contentType := normalizeContentType(item.ContentType)
	if contentType == "" || contentType == genericContentType {
		contentType = normalizeContentType(mimetype.Detect(item.Data).String())
	}
	if _, ok := s.allowed[contentType]; !ok {
		return "", SkipUnsupportedType
	}
	return contentType, ""
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// admit stores the blob and inserts its pending task. A failed insert
// removes the blob again so no orphan is left behind.
func (s *Service) admit(ctx context.Context, req SubmitRequest, item SubmitItem, contentType string) (*domain.PoolTask, error) {
	taskID := uuid.New()
	filename := item.Filename
	if filename == "" {
		filename = "unknown"
	}

	ref, err := s.storage.Put(ctx, req.GroupID, taskID, filename, contentType, item.Data)
	if err != nil {
		return nil, domain.NewStorageError("put", err)
	}

	task, err := domain.NewPoolTask(taskID, req.GroupID, req.SubmitterID,
		ref, filename, contentType, int64(len(item.Data)), s.now())
	if err == nil {
		err = s.tasks.Create(ctx, task)
	}
	if err != nil {
		if _, delErr := s.storage.Delete(ctx, ref); delErr != nil {
			logger.FromContextOrDefault(ctx, s.logger).Warn("failed to remove blob after insert failure",
				slog.String("blob_ref", ref),
				slog.String("error", delErr.Error()))
		}
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		return nil, domain.NewStorageError("insert", err)
	}
	return task, nil
}
