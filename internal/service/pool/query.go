package pool

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/blob"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// StatusFilterActive selects tasks under a lease (claimed or processing).
const StatusFilterActive = "active"

// ListQuery selects a page of a group's tasks.
type ListQuery struct {
	GroupID uuid.UUID
	// Status is a task status, StatusFilterActive, or empty for all.
	Status string
	Limit  int
	Offset int
}

// ListResult is a page of tasks plus the group's per-status counts.
type ListResult struct {
	Tasks          []*domain.PoolTask `json:"tasks"`
	Total          int                `json:"total"`
	PendingCount   int                `json:"pending_count"`
	ActiveCount    int                `json:"active_count"`
	ProcessedCount int                `json:"processed_count"`
	ErrorCount     int                `json:"error_count"`
}

// List returns a page of tasks ordered newest first.
func (s *Service) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	statuses, err := parseStatusFilter(q.Status)
	if err != nil {
		return nil, err
	}
	if q.Offset < 0 {
		return nil, domain.NewValidationError("offset", "cannot be negative", nil)
	}

	tasks, total, err := s.tasks.List(ctx, store.ListFilter{
		GroupID:  q.GroupID,
		Statuses: statuses,
		Limit:    s.pageSize(q.Limit),
		Offset:   q.Offset,
	})
	if err != nil {
		return nil, err
	}

	counts, err := s.tasks.CountByStatus(ctx, q.GroupID)
	if err != nil {
		return nil, err
	}

	if tasks == nil {
		tasks = []*domain.PoolTask{}
	}
	return &ListResult{
		Tasks:          tasks,
		Total:          total,
		PendingCount:   counts.Pending,
		ActiveCount:    counts.Active(),
		ProcessedCount: counts.Processed,
		ErrorCount:     counts.Error,
	}, nil
}

func parseStatusFilter(raw string) ([]domain.TaskStatus, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return nil, nil
	case StatusFilterActive:
		return []domain.TaskStatus{domain.TaskStatusClaimed, domain.TaskStatusProcessing}, nil
	}
	status, err := domain.ParseTaskStatus(raw)
	if err != nil {
		return nil, err
	}
	return []domain.TaskStatus{status}, nil
}

func (s *Service) pageSize(limit int) int {
	switch {
	case limit <= 0:
		return s.cfg.DefaultPageSize
	case limit > s.cfg.MaxPageSize:
		return s.cfg.MaxPageSize
	default:
		return limit
	}
}

// Get returns a single task of the group.
func (s *Service) Get(ctx context.Context, taskID, groupID uuid.UUID) (*domain.PoolTask, error) {
	return s.tasks.GetByID(ctx, taskID, groupID)
}

// Contributors returns how many tasks each member of the group has processed.
func (s *Service) Contributors(ctx context.Context, groupID uuid.UUID) ([]store.MemberCount, error) {
	counts, err := s.tasks.ProcessedCountByMember(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = []store.MemberCount{}
	}
	return counts, nil
}

// History returns the processing attempts recorded for a task of the group.
func (s *Service) History(ctx context.Context, taskID, groupID uuid.UUID) ([]*domain.ProcessingJob, error) {
	if _, err := s.tasks.GetByID(ctx, taskID, groupID); err != nil {
		return nil, err
	}
	jobs, err := s.audit.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*domain.ProcessingJob{}
	}
	return jobs, nil
}

// OpenBlob returns a task together with its image bytes.
func (s *Service) OpenBlob(ctx context.Context, taskID, groupID uuid.UUID) (*domain.PoolTask, []byte, error) {
	task, err := s.tasks.GetByID(ctx, taskID, groupID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.storage.Get(ctx, task.BlobRef)
	if err != nil {
		if errors.Is(err, blob.ErrBlobNotFound) {
			return nil, nil, ErrBlobMissing
		}
		return nil, nil, domain.NewStorageError("get", err)
	}
	return task, data, nil
}
