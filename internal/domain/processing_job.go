package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the outcome recorded for one processing attempt.
type JobStatus string

// Possible job status values
const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusAbandoned marks an attempt whose lease was lost before the
	// terminal commit; no task transition accompanies it.
	JobStatusAbandoned JobStatus = "abandoned"
)

// ProcessingJob is the append-only audit record of a processing attempt.
type ProcessingJob struct {
	ID          uuid.UUID       `json:"id"`
	TaskID      *uuid.UUID      `json:"task_id,omitempty"`
	GroupID     uuid.UUID       `json:"group_id"`
	RequesterID uuid.UUID       `json:"requester_id"`
	Provider    string          `json:"provider"`
	Status      JobStatus       `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorText   string          `json:"error_text,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewCompletedJob records a successful attempt together with its readings.
func NewCompletedJob(
	taskID, groupID, requesterID uuid.UUID,
	provider string,
	readings []Reading,
	startedAt, completedAt time.Time,
) (*ProcessingJob, error) {
	if readings == nil {
		readings = []Reading{}
	}
	result, err := json.Marshal(readings)
	if err != nil {
		return nil, err
	}
	return newJob(taskID, groupID, requesterID, provider, JobStatusCompleted, result, "", startedAt, completedAt), nil
}

// NewFailedJob records a failed attempt together with its error text.
func NewFailedJob(
	taskID, groupID, requesterID uuid.UUID,
	provider, errorText string,
	startedAt, completedAt time.Time,
) *ProcessingJob {
	return newJob(taskID, groupID, requesterID, provider, JobStatusFailed, nil, errorText, startedAt, completedAt)
}

// AsAbandoned returns a copy of the job re-labelled as abandoned.
func (j *ProcessingJob) AsAbandoned(reason string) *ProcessingJob {
	c := *j
	c.ID = uuid.New()
	c.Status = JobStatusAbandoned
	if c.ErrorText == "" {
		c.ErrorText = reason
	} else {
		c.ErrorText = reason + ": " + c.ErrorText
	}
	return &c
}

// TerminalStatus is the task status this job pairs with.
func (j *ProcessingJob) TerminalStatus() TaskStatus {
	if j.Status == JobStatusCompleted {
		return TaskStatusProcessed
	}
	return TaskStatusError
}

func newJob(
	taskID, groupID, requesterID uuid.UUID,
	provider string,
	status JobStatus,
	result json.RawMessage,
	errorText string,
	startedAt, completedAt time.Time,
) *ProcessingJob {
	tid := taskID
	return &ProcessingJob{
		ID:          uuid.New(),
		TaskID:      &tid,
		GroupID:     groupID,
		RequesterID: requesterID,
		Provider:    provider,
		Status:      status,
		Result:      result,
		ErrorText:   errorText,
		StartedAt:   startedAt.UTC(),
		CompletedAt: completedAt.UTC(),
		CreatedAt:   completedAt.UTC(),
	}
}
