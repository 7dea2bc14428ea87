package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the position of a pool task in its lease lifecycle.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusClaimed    TaskStatus = "claimed"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusProcessed  TaskStatus = "processed"
	TaskStatusError      TaskStatus = "error"
)

// Common validation errors for PoolTask
var (
	ErrEmptyTaskID      = NewValidationError("id", "cannot be empty", ErrInvalidID)
	ErrEmptyGroupID     = NewValidationError("group_id", "cannot be empty", ErrInvalidID)
	ErrEmptySubmitterID = NewValidationError("submitter_id", "cannot be empty", ErrInvalidID)
	ErrEmptyBlobRef     = NewValidationError("blob_ref", "cannot be empty", nil)
	ErrEmptyContentType = NewValidationError("content_type", "cannot be empty", nil)
	ErrInvalidByteSize  = NewValidationError("byte_size", "must be positive", nil)
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusProcessing,
		TaskStatusProcessed, TaskStatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is permitted from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusProcessed || s == TaskStatusError
}

// Leased reports whether a task in status s must carry a holder.
func (s TaskStatus) Leased() bool {
	return s == TaskStatusClaimed || s == TaskStatusProcessing
}

// Outstanding reports whether s counts against the group's admission quota.
func (s TaskStatus) Outstanding() bool {
	return s == TaskStatusPending || s.Leased()
}

// OutstandingStatuses lists the statuses counted by admission control.
var OutstandingStatuses = []TaskStatus{TaskStatusPending, TaskStatusClaimed, TaskStatusProcessing}

// ParseTaskStatus converts a raw string into a TaskStatus.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	s := TaskStatus(raw)
	if !s.Valid() {
		return "", NewValidationError("status", "must be one of pending, claimed, processing, processed, error", ErrInvalidStatus)
	}
	return s, nil
}

// PoolTask is one uploaded image in a family's transcription pool.
// Identity and upload metadata are immutable; the lease and completion
// fields are owned by the lease protocol.
type PoolTask struct {
	ID          uuid.UUID `json:"id"`
	GroupID     uuid.UUID `json:"group_id"`
	SubmitterID uuid.UUID `json:"submitter_id"`
	BlobRef     string    `json:"-"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	ByteSize    int64     `json:"byte_size"`

	Status              TaskStatus `json:"status"`
	HolderID            *uuid.UUID `json:"holder_id,omitempty"`
	LeaseStartedAt      *time.Time `json:"lease_started_at,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`

	CompletedBy   *uuid.UUID `json:"completed_by,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ResultCount   int        `json:"result_count"`
	FailureReason string     `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPoolTask creates a pending task for an image whose bytes are already
// stored under blobRef.
func NewPoolTask(
	id, groupID, submitterID uuid.UUID,
	blobRef, filename, contentType string,
	byteSize int64,
	now time.Time,
) (*PoolTask, error) {
	task := &PoolTask{
		ID:          id,
		GroupID:     groupID,
		SubmitterID: submitterID,
		BlobRef:     blobRef,
		Filename:    filename,
		ContentType: contentType,
		ByteSize:    byteSize,
		Status:      TaskStatusPending,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// Validate checks the immutable fields and the holder/status invariant.
func (t *PoolTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.GroupID == uuid.Nil {
		return ErrEmptyGroupID
	}
	if t.SubmitterID == uuid.Nil {
		return ErrEmptySubmitterID
	}
	if t.BlobRef == "" {
		return ErrEmptyBlobRef
	}
	if t.ContentType == "" {
		return ErrEmptyContentType
	}
	if t.ByteSize <= 0 {
		return ErrInvalidByteSize
	}
	if !t.Status.Valid() {
		return NewValidationError("status", "is unknown", ErrInvalidStatus)
	}
	if t.Status.Leased() != (t.HolderID != nil) {
		return NewValidationError("holder_id", "must be set exactly while claimed or processing", nil)
	}
	return nil
}

// HeldBy reports whether member currently holds the lease.
func (t *PoolTask) HeldBy(member uuid.UUID) bool {
	return t.Status.Leased() && t.HolderID != nil && *t.HolderID == member
}

// LeaseExpired reports whether the claimed lease is reclaimable at now.
// A lease started at t0 is reclaimable from t0+timeout onwards.
func (t *PoolTask) LeaseExpired(now time.Time, timeout time.Duration) bool {
	if t.Status != TaskStatusClaimed || t.LeaseStartedAt == nil {
		return false
	}
	return !now.Before(t.LeaseStartedAt.Add(timeout))
}

// ProcessingStale reports whether a processing task may be reclaimed at now.
// A zero timeout disables processing reclaim entirely.
func (t *PoolTask) ProcessingStale(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 || t.Status != TaskStatusProcessing || t.ProcessingStartedAt == nil {
		return false
	}
	return !now.Before(t.ProcessingStartedAt.Add(timeout))
}

// Claimable reports whether a claim at now would succeed.
func (t *PoolTask) Claimable(now time.Time, leaseTimeout, processingTimeout time.Duration) bool {
	return t.Status == TaskStatusPending ||
		t.LeaseExpired(now, leaseTimeout) ||
		t.ProcessingStale(now, processingTimeout)
}

// ClassifyClaimFailure returns the conflict a claim at now ran into.
func (t *PoolTask) ClassifyClaimFailure() *LeaseConflictError {
	if t.Status.Terminal() {
		return NewLeaseConflictError(ConflictFinished, t.Status)
	}
	return NewLeaseConflictError(ConflictHeld, t.Status)
}

// ClassifyHolderFailure returns the conflict a holder-only transition
// (release, process, finish) ran into. From the caller's side every miss means
// the task is not claimed by them, whatever state it is in now.
func (t *PoolTask) ClassifyHolderFailure() *LeaseConflictError {
	return NewLeaseConflictError(ConflictNotHolder, t.Status)
}

// TerminalUpdate describes the final transition of a processing task.
type TerminalUpdate struct {
	TaskID        uuid.UUID
	GroupID       uuid.UUID
	MemberID      uuid.UUID
	Status        TaskStatus
	ResultCount   int
	FailureReason string
	CompletedAt   time.Time
}

// Validate checks that the update targets a terminal status.
func (u TerminalUpdate) Validate() error {
	if u.TaskID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if u.MemberID == uuid.Nil {
		return NewValidationError("member_id", "cannot be empty", ErrInvalidID)
	}
	if !u.Status.Terminal() {
		return NewValidationError("status", "must be processed or error", ErrInvalidStatus)
	}
	return nil
}
