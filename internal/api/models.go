package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/service/pool"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// TaskResponse is the client view of a pool task.
type TaskResponse struct {
	ID                  uuid.UUID         `json:"id"`
	Filename            string            `json:"filename"`
	ContentType         string            `json:"content_type"`
	ByteSize            int64             `json:"byte_size"`
	SubmitterID         uuid.UUID         `json:"submitter_id"`
	Status              domain.TaskStatus `json:"status"`
	HolderID            *uuid.UUID        `json:"holder_id"`
	LeaseStartedAt      *time.Time        `json:"lease_started_at"`
	ProcessingStartedAt *time.Time        `json:"processing_started_at"`
	CompletedBy         *uuid.UUID        `json:"completed_by"`
	CompletedAt         *time.Time        `json:"completed_at"`
	ResultCount         int               `json:"result_count"`
	FailureReason       string            `json:"failure_reason,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}

func taskToResponse(t *domain.PoolTask) TaskResponse {
	return TaskResponse{
		ID:                  t.ID,
		Filename:            t.Filename,
		ContentType:         t.ContentType,
		ByteSize:            t.ByteSize,
		SubmitterID:         t.SubmitterID,
		Status:              t.Status,
		HolderID:            t.HolderID,
		LeaseStartedAt:      t.LeaseStartedAt,
		ProcessingStartedAt: t.ProcessingStartedAt,
		CompletedBy:         t.CompletedBy,
		CompletedAt:         t.CompletedAt,
		ResultCount:         t.ResultCount,
		FailureReason:       t.FailureReason,
		CreatedAt:           t.CreatedAt,
	}
}

func tasksToResponse(tasks []*domain.PoolTask) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	return out
}

// SubmitResponse lists the tasks created by an upload and the skipped files.
type SubmitResponse struct {
	Tasks   []TaskResponse     `json:"tasks"`
	Skipped []pool.SkippedItem `json:"skipped"`
}

// ListResponse is a page of tasks with the group's per-status counts.
type ListResponse struct {
	Tasks          []TaskResponse `json:"tasks"`
	Total          int            `json:"total"`
	PendingCount   int            `json:"pending_count"`
	ActiveCount    int            `json:"active_count"`
	ProcessedCount int            `json:"processed_count"`
	ErrorCount     int            `json:"error_count"`
}

// ListParams are the query parameters of the list endpoint.
type ListParams struct {
	Status string `validate:"omitempty,oneof=pending claimed processing processed error active"`
	Limit  int    `validate:"gte=0"`
	Offset int    `validate:"gte=0"`
}

// ProcessResponse is the result of a successful processing run.
type ProcessResponse struct {
	Readings []domain.Reading `json:"readings"`
	Provider string           `json:"provider"`
	Message  string           `json:"message"`
	JobID    uuid.UUID        `json:"job_id"`
	Task     TaskResponse     `json:"task"`
}

// JobResponse is one recorded processing attempt.
type JobResponse struct {
	ID          uuid.UUID        `json:"id"`
	RequesterID uuid.UUID        `json:"requester_id"`
	Provider    string           `json:"provider"`
	Status      domain.JobStatus `json:"status"`
	ErrorText   string           `json:"error_text,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

func jobsToResponse(jobs []*domain.ProcessingJob) []JobResponse {
	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobResponse{
			ID:          j.ID,
			RequesterID: j.RequesterID,
			Provider:    j.Provider,
			Status:      j.Status,
			ErrorText:   j.ErrorText,
			StartedAt:   j.StartedAt,
			CompletedAt: j.CompletedAt,
		})
	}
	return out
}

// ContributorResponse is one member's processed count.
type ContributorResponse = store.MemberCount
