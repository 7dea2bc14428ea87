package pool

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// Claim grants the member an exclusive lease on the task. It fails with a
// held conflict while another member's lease is live and a finished conflict
// once the task is terminal.
func (s *Service) Claim(ctx context.Context, taskID, groupID, memberID uuid.UUID) (*domain.PoolTask, error) {
	task, err := s.tasks.Claim(ctx, store.ClaimParams{
		TaskID:            taskID,
		GroupID:           groupID,
		MemberID:          memberID,
		Now:               s.now(),
		LeaseTimeout:      s.cfg.LeaseTimeout,
		ProcessingTimeout: s.cfg.ProcessingTimeout,
	})
	if err != nil {
		return nil, err
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("task claimed",
		slog.String("task_id", taskID.String()),
		slog.String("member_id", memberID.String()))
	return task, nil
}

// Release returns a task held by the member to the pool.
func (s *Service) Release(ctx context.Context, taskID, groupID, memberID uuid.UUID) (*domain.PoolTask, error) {
	task, err := s.tasks.Release(ctx, taskID, groupID, memberID, s.now())
	if err != nil {
		return nil, err
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("task released",
		slog.String("task_id", taskID.String()),
		slog.String("member_id", memberID.String()))
	return task, nil
}
