package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
)

// ClaimParams identifies a claim attempt and the lease rules it runs under.
type ClaimParams struct {
	TaskID   uuid.UUID
	GroupID  uuid.UUID
	MemberID uuid.UUID
	Now      time.Time

	// LeaseTimeout is how long a claimed lease stays exclusive.
	LeaseTimeout time.Duration

	// ProcessingTimeout makes a processing task reclaimable once it has run
	// this long. Zero disables processing reclaim.
	ProcessingTimeout time.Duration
}

// ListFilter selects a page of a group's tasks. An empty Statuses matches all.
type ListFilter struct {
	GroupID  uuid.UUID
	Statuses []domain.TaskStatus
	Limit    int
	Offset   int
}

// StatusCounts holds the number of a group's tasks in each status.
type StatusCounts struct {
	Pending    int `json:"pending"`
	Claimed    int `json:"claimed"`
	Processing int `json:"processing"`
	Processed  int `json:"processed"`
	Error      int `json:"error"`
}

// Active is the number of tasks currently under a lease.
func (c StatusCounts) Active() int {
	return c.Claimed + c.Processing
}

// Add records n tasks in status s.
func (c *StatusCounts) Add(s domain.TaskStatus, n int) {
	switch s {
	case domain.TaskStatusPending:
		c.Pending += n
	case domain.TaskStatusClaimed:
		c.Claimed += n
	case domain.TaskStatusProcessing:
		c.Processing += n
	case domain.TaskStatusProcessed:
		c.Processed += n
	case domain.TaskStatusError:
		c.Error += n
	}
}

// MemberCount is the number of tasks a member has driven to processed.
type MemberCount struct {
	MemberID       uuid.UUID `json:"member_id"`
	ProcessedCount int       `json:"processed_count"`
}

// TaskStore persists pool tasks and implements their state transitions as
// atomic compare-and-set operations.
//
// Transition methods (Claim, Release, BeginProcessing, FinishProcessing)
// return ErrTaskNotFound when the task does not exist in the group and a
// *domain.LeaseConflictError when it exists but its current state does not
// permit the transition. Neither is ever returned after a partial write.
type TaskStore interface {
	// Create inserts a new pending task.
	// Returns ErrBlobRefExists if the blob reference is already bound to a task.
	Create(ctx context.Context, task *domain.PoolTask) error

	// GetByID retrieves a task scoped to its group.
	// Returns ErrTaskNotFound if no such task exists in the group.
	GetByID(ctx context.Context, id, groupID uuid.UUID) (*domain.PoolTask, error)

	// CountOutstanding returns the number of the group's tasks that are
	// pending, claimed or processing.
	CountOutstanding(ctx context.Context, groupID uuid.UUID) (int, error)

	// Claim grants the lease to the member if the task is pending, its lease
	// has expired, or its processing run is stale.
	Claim(ctx context.Context, p ClaimParams) (*domain.PoolTask, error)

	// Release returns a task held by the member to pending.
	Release(ctx context.Context, id, groupID, memberID uuid.UUID, now time.Time) (*domain.PoolTask, error)

	// BeginProcessing moves a task claimed by the member to processing.
	BeginProcessing(ctx context.Context, id, groupID, memberID uuid.UUID, now time.Time) (*domain.PoolTask, error)

	// FinishProcessing commits the terminal transition and its audit record
	// together. If the member no longer holds the task in processing, the
	// job is recorded as abandoned, no task row changes, and a not_holder
	// conflict is returned.
	FinishProcessing(ctx context.Context, update domain.TerminalUpdate, job *domain.ProcessingJob) (*domain.PoolTask, error)

	// List returns a page of tasks ordered newest first along with the total
	// number of tasks matching the filter.
	List(ctx context.Context, filter ListFilter) ([]*domain.PoolTask, int, error)

	// CountByStatus returns the group's task counts per status.
	CountByStatus(ctx context.Context, groupID uuid.UUID) (StatusCounts, error)

	// ProcessedCountByMember returns, per member, how many tasks they completed.
	ProcessedCountByMember(ctx context.Context, groupID uuid.UUID) ([]MemberCount, error)

	// Delete removes a task from the group.
	// Returns ErrTaskNotFound if no such task exists in the group.
	Delete(ctx context.Context, id, groupID uuid.UUID) error

	// DeleteByGroup removes every task of the group and returns the blob
	// references the deleted rows pointed to.
	DeleteByGroup(ctx context.Context, groupID uuid.UUID) ([]string, error)

	// WithTx returns a TaskStore bound to the given transaction.
	WithTx(tx *sql.Tx) TaskStore
}

// AuditStore persists the append-only processing log.
type AuditStore interface {
	// Create inserts a processing job. Jobs are never updated.
	Create(ctx context.Context, job *domain.ProcessingJob) error

	// ListByTask returns the jobs recorded for a task, oldest first.
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.ProcessingJob, error)

	// WithTx returns an AuditStore bound to the given transaction.
	WithTx(tx *sql.Tx) AuditStore
}

// MemberDirectory resolves a member to their family group.
type MemberDirectory interface {
	// GetMembership returns the member's group and role.
	// Returns ErrMembershipNotFound if the member belongs to no group.
	GetMembership(ctx context.Context, memberID uuid.UUID) (*domain.Membership, error)
}
