package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/blob"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/extraction"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
)

// FailureBlobMissing is the failure reason recorded when a task's image is gone.
const FailureBlobMissing = "blob missing"

// commitTimeout bounds the terminal commit once it is detached from the request.
const commitTimeout = 10 * time.Second

// ErrBlobMissing is returned by Process when the task's image no longer exists.
// The task is left in the error state.
var ErrBlobMissing = fmt.Errorf("image file missing: %w", blob.ErrBlobNotFound)

// ProcessingOutcome is the result of a processing run that reached a
// terminal state.
type ProcessingOutcome struct {
	Task     *domain.PoolTask `json:"task"`
	Readings []domain.Reading `json:"readings"`
	Provider string           `json:"provider"`
	JobID    uuid.UUID        `json:"job_id"`
}

// Message summarizes the outcome for display.
func (o *ProcessingOutcome) Message() string {
	return fmt.Sprintf("Extracted %d readings", len(o.Readings))
}

// Process runs extraction on a task the member holds and records the
// outcome. Once the task has entered processing every failure is committed
// as a terminal error state together with its audit record; the returned
// outcome then still carries the final task alongside the error.
func (s *Service) Process(ctx context.Context, taskID, groupID, memberID uuid.UUID) (*ProcessingOutcome, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("task_id", taskID.String()),
		slog.String("member_id", memberID.String()),
	)

	// Only members holding a claimed lease spend quota.
	current, err := s.tasks.GetByID(ctx, taskID, groupID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.TaskStatusClaimed || !current.HeldBy(memberID) {
		return nil, current.ClassifyHolderFailure()
	}

	provider := s.extractor.Name()
	if err := s.limiter.CheckAndConsume(ctx, memberID, provider); err != nil {
		log.Info("processing refused", slog.String("error", err.Error()))
		return nil, err
	}

	task, err := s.tasks.BeginProcessing(ctx, taskID, groupID, memberID, s.now())
	if err != nil {
		return nil, err
	}
	startedAt := s.now()

	data, err := s.storage.Get(ctx, task.BlobRef)
	if err != nil {
		cause, reason := error(domain.NewStorageError("get", err)), err.Error()
		if errors.Is(err, blob.ErrBlobNotFound) {
			cause, reason = ErrBlobMissing, FailureBlobMissing
		}
		return s.fail(ctx, log, task, memberID, provider, reason, startedAt, cause)
	}

	readings, err := extraction.SafeExtract(ctx, s.extractor, data, task.ContentType)
	if err != nil {
		if !errors.Is(err, domain.ErrExtractionFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
		}
		return s.fail(ctx, log, task, memberID, provider, err.Error(), startedAt, err)
	}

	completedAt := s.now()
	job, err := domain.NewCompletedJob(taskID, groupID, memberID, provider, readings, startedAt, completedAt)
	if err != nil {
		return s.fail(ctx, log, task, memberID, provider, "could not encode readings", startedAt, err)
	}

	commitCtx, cancel := commitContext(ctx)
	defer cancel()
	finished, err := s.tasks.FinishProcessing(commitCtx, domain.TerminalUpdate{
		TaskID:      taskID,
		GroupID:     groupID,
		MemberID:    memberID,
		Status:      domain.TaskStatusProcessed,
		ResultCount: len(readings),
		CompletedAt: completedAt,
	}, job)
	if err != nil {
		return nil, err
	}

	log.Info("task processed",
		slog.String("provider", provider),
		slog.Int("readings", len(readings)))
	return &ProcessingOutcome{
		Task:     finished,
		Readings: readings,
		Provider: provider,
		JobID:    job.ID,
	}, nil
}

// commitContext returns the context for the terminal commit. It keeps the
// caller's values but not its cancellation, so a task that reached processing
// is always recorded as processed or error.
func commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
}

// fail commits the error state and returns cause, or the commit error if
// the lease was lost in the meantime.
func (s *Service) fail(
	ctx context.Context,
	log *slog.Logger,
	task *domain.PoolTask,
	memberID uuid.UUID,
	provider, reason string,
	startedAt time.Time,
	cause error,
) (*ProcessingOutcome, error) {
	completedAt := s.now()
	job := domain.NewFailedJob(task.ID, task.GroupID, memberID, provider, reason, startedAt, completedAt)

	commitCtx, cancel := commitContext(ctx)
	defer cancel()
	finished, err := s.tasks.FinishProcessing(commitCtx, domain.TerminalUpdate{
		TaskID:        task.ID,
		GroupID:       task.GroupID,
		MemberID:      memberID,
		Status:        domain.TaskStatusError,
		FailureReason: reason,
		CompletedAt:   completedAt,
	}, job)
	if err != nil {
		log.Error("failed to record processing failure",
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return nil, err
	}

	log.Warn("task processing failed",
		slog.String("provider", provider),
		slog.String("reason", reason))
	return &ProcessingOutcome{
		Task:     finished,
		Readings: []domain.Reading{},
		Provider: provider,
		JobID:    job.ID,
	}, cause
}
