package pool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
)

// Delete removes a task and its image. Only the uploader or a group owner
// may delete. A blob that cannot be removed is logged and left behind.
func (s *Service) Delete(ctx context.Context, taskID uuid.UUID, requester *domain.Membership) error {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("task_id", taskID.String()),
		slog.String("member_id", requester.MemberID.String()),
	)

	task, err := s.tasks.GetByID(ctx, taskID, requester.GroupID)
	if err != nil {
		return err
	}
	if !requester.CanDelete(task) {
		return fmt.Errorf("%w: only the uploader or a group owner can delete a task", domain.ErrForbidden)
	}

	if err := s.tasks.Delete(ctx, taskID, requester.GroupID); err != nil {
		return err
	}
	s.removeBlob(ctx, log, task.BlobRef)

	log.Info("task deleted")
	return nil
}

// DeleteGroup removes every task of the group and their images, returning
// the number of tasks deleted.
func (s *Service) DeleteGroup(ctx context.Context, groupID uuid.UUID) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("group_id", groupID.String()))

	refs, err := s.tasks.DeleteByGroup(ctx, groupID)
	if err != nil {
		return 0, err
	}
	for _, ref := range refs {
		s.removeBlob(ctx, log, ref)
	}

	log.Info("group pool purged", slog.Int("tasks", len(refs)))
	return len(refs), nil
}

func (s *Service) removeBlob(ctx context.Context, log *slog.Logger, ref string) {
	existed, err := s.storage.Delete(ctx, ref)
	switch {
	case err != nil:
		log.Warn("failed to delete blob",
			slog.String("blob_ref", ref),
			slog.String("error", err.Error()))
	case !existed:
		log.Debug("blob already gone", slog.String("blob_ref", ref))
	}
}
