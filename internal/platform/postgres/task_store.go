package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
	"github.com/phrazzld/sunlog-api/internal/store"
)

const taskColumns = `id, group_id, submitter_id, blob_ref, filename, content_type, byte_size,
	status, holder_id, lease_started_at, processing_started_at,
	completed_by, completed_at, result_count, failure_reason, created_at, updated_at`

const (
	claimQuery = `
		UPDATE pool_tasks
		SET status = 'claimed',
			holder_id = $3,
			lease_started_at = $4,
			processing_started_at = NULL,
			updated_at = $4
		WHERE id = $1 AND group_id = $2
			AND (
				status = 'pending'
				OR (status = 'claimed' AND lease_started_at <= $5)
				OR ($6::timestamptz IS NOT NULL AND status = 'processing' AND processing_started_at <= $6)
			)
		RETURNING ` + taskColumns

	releaseQuery = `
		UPDATE pool_tasks
		SET status = 'pending',
			holder_id = NULL,
			lease_started_at = NULL,
			processing_started_at = NULL,
			updated_at = $4
		WHERE id = $1 AND group_id = $2
			AND holder_id = $3
			AND status IN ('claimed', 'processing')
		RETURNING ` + taskColumns

	beginProcessingQuery = `
		UPDATE pool_tasks
		SET status = 'processing',
			processing_started_at = $4,
			updated_at = $4
		WHERE id = $1 AND group_id = $2
			AND holder_id = $3
			AND status = 'claimed'
		RETURNING ` + taskColumns

	finishProcessingQuery = `
		UPDATE pool_tasks
		SET status = $4,
			holder_id = NULL,
			lease_started_at = NULL,
			completed_by = $3,
			completed_at = $5,
			result_count = $6,
			failure_reason = $7,
			updated_at = $5
		WHERE id = $1 AND group_id = $2
			AND holder_id = $3
			AND status = 'processing'
		RETURNING ` + taskColumns
)

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.PoolTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("pool task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		INSERT INTO pool_tasks (
			id, group_id, submitter_id, blob_ref, filename, content_type, byte_size,
			status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.GroupID,
		task.SubmitterID,
		task.BlobRef,
		task.Filename,
		task.ContentType,
		task.ByteSize,
		task.Status,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to insert pool task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("group_id", task.GroupID.String()))
		return MapError(err)
	}

	log.Debug("pool task created",
		slog.String("task_id", task.ID.String()),
		slog.String("group_id", task.GroupID.String()))
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *PostgresTaskStore) GetByID(ctx context.Context, id, groupID uuid.UUID) (*domain.PoolTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM pool_tasks WHERE id = $1 AND group_id = $2`
	task, err := scanTask(s.db.QueryRowContext(ctx, query, id, groupID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get pool task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}
	return task, nil
}

// CountOutstanding implements store.TaskStore.CountOutstanding
func (s *PostgresTaskStore) CountOutstanding(ctx context.Context, groupID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM pool_tasks
		WHERE group_id = $1 AND status IN ('pending', 'claimed', 'processing')
	`
	var n int
	if err := s.db.QueryRowContext(ctx, query, groupID).Scan(&n); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to count outstanding tasks",
			slog.String("error", err.Error()),
			slog.String("group_id", groupID.String()))
		return 0, MapError(err)
	}
	return n, nil
}

// Claim implements store.TaskStore.Claim
func (s *PostgresTaskStore) Claim(ctx context.Context, p store.ClaimParams) (*domain.PoolTask, error) {
	now := p.Now.UTC()

	var staleProcessing sql.NullTime
	if p.ProcessingTimeout > 0 {
		staleProcessing = sql.NullTime{Time: now.Add(-p.ProcessingTimeout), Valid: true}
	}

	row := s.db.QueryRowContext(ctx, claimQuery,
		p.TaskID, p.GroupID, p.MemberID, now, now.Add(-p.LeaseTimeout), staleProcessing)

	return s.transition(ctx, "claim", row, p.TaskID, p.GroupID, (*domain.PoolTask).ClassifyClaimFailure)
}

// Release implements store.TaskStore.Release
func (s *PostgresTaskStore) Release(
	ctx context.Context,
	id, groupID, memberID uuid.UUID,
	now time.Time,
) (*domain.PoolTask, error) {
	row := s.db.QueryRowContext(ctx, releaseQuery, id, groupID, memberID, now.UTC())
	return s.transition(ctx, "release", row, id, groupID, (*domain.PoolTask).ClassifyHolderFailure)
}

// BeginProcessing implements store.TaskStore.BeginProcessing
func (s *PostgresTaskStore) BeginProcessing(
	ctx context.Context,
	id, groupID, memberID uuid.UUID,
	now time.Time,
) (*domain.PoolTask, error) {
	row := s.db.QueryRowContext(ctx, beginProcessingQuery, id, groupID, memberID, now.UTC())
	return s.transition(ctx, "begin_processing", row, id, groupID, (*domain.PoolTask).ClassifyHolderFailure)
}

// FinishProcessing implements store.TaskStore.FinishProcessing
func (s *PostgresTaskStore) FinishProcessing(
	ctx context.Context,
	update domain.TerminalUpdate,
	job *domain.ProcessingJob,
) (*domain.PoolTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("task_id", update.TaskID.String()),
		slog.String("member_id", update.MemberID.String()))

	if err := update.Validate(); err != nil {
		return nil, err
	}

	var (
		finished *domain.PoolTask
		lostErr  error
	)

	err := store.WithinTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, finishProcessingQuery,
			update.TaskID,
			update.GroupID,
			update.MemberID,
			update.Status,
			update.CompletedAt.UTC(),
			update.ResultCount,
			update.FailureReason,
		)

		task, err := scanTask(row)
		if err == nil {
			finished = task
			return insertJob(ctx, tx, job)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return MapError(err)
		}

		// The lease was lost while the extractor ran. Keep the attempt on
		// record without touching the task.
		abandoned := job.AsAbandoned("lease lost before commit")
		current, err := s.WithTx(tx).GetByID(ctx, update.TaskID, update.GroupID)
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			abandoned.TaskID = nil
			lostErr = store.ErrTaskNotFound
		case err != nil:
			return err
		default:
			lostErr = current.ClassifyHolderFailure()
		}
		return insertJob(ctx, tx, abandoned)
	})
	if err != nil {
		log.Error("failed to commit processing result",
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("pool_task", "finish", "terminal commit failed", err)
	}

	if lostErr != nil {
		log.Warn("processing result abandoned, lease no longer held",
			slog.String("error", lostErr.Error()))
		return nil, lostErr
	}

	log.Debug("processing result committed",
		slog.String("status", string(finished.Status)),
		slog.Int("result_count", finished.ResultCount))
	return finished, nil
}

// List implements store.TaskStore.List
func (s *PostgresTaskStore) List(ctx context.Context, filter store.ListFilter) ([]*domain.PoolTask, int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	where, args := listWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pool_tasks `+where, args...).Scan(&total); err != nil {
		log.Error("failed to count pool tasks",
			slog.String("error", err.Error()),
			slog.String("group_id", filter.GroupID.String()))
		return nil, 0, MapError(err)
	}

	query := fmt.Sprintf(`SELECT %s FROM pool_tasks %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		taskColumns, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to list pool tasks",
			slog.String("error", err.Error()),
			slog.String("group_id", filter.GroupID.String()))
		return nil, 0, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.PoolTask, 0, filter.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, MapError(err)
	}
	return tasks, total, nil
}

func listWhere(filter store.ListFilter) (string, []any) {
	args := []any{filter.GroupID}
	where := "WHERE group_id = $1"
	if len(filter.Statuses) == 0 {
		return where, args
	}

	placeholders := make([]string, len(filter.Statuses))
	for i, st := range filter.Statuses {
		args = append(args, string(st))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	return where + " AND status IN (" + strings.Join(placeholders, ", ") + ")", args
}

// CountByStatus implements store.TaskStore.CountByStatus
func (s *PostgresTaskStore) CountByStatus(ctx context.Context, groupID uuid.UUID) (store.StatusCounts, error) {
	var counts store.StatusCounts

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM pool_tasks WHERE group_id = $1 GROUP BY status`, groupID)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to count tasks by status",
			slog.String("error", err.Error()),
			slog.String("group_id", groupID.String()))
		return counts, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return counts, MapError(err)
		}
		counts.Add(domain.TaskStatus(status), n)
	}
	return counts, MapError(rows.Err())
}

// ProcessedCountByMember implements store.TaskStore.ProcessedCountByMember
func (s *PostgresTaskStore) ProcessedCountByMember(ctx context.Context, groupID uuid.UUID) ([]store.MemberCount, error) {
	query := `
		SELECT completed_by, COUNT(*)
		FROM pool_tasks
		WHERE group_id = $1 AND status = 'processed'
		GROUP BY completed_by
		ORDER BY COUNT(*) DESC, completed_by
	`
	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to count processed tasks",
			slog.String("error", err.Error()),
			slog.String("group_id", groupID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := []store.MemberCount{}
	for rows.Next() {
		var mc store.MemberCount
		if err := rows.Scan(&mc.MemberID, &mc.ProcessedCount); err != nil {
			return nil, MapError(err)
		}
		counts = append(counts, mc)
	}
	return counts, MapError(rows.Err())
}

// Delete implements store.TaskStore.Delete
func (s *PostgresTaskStore) Delete(ctx context.Context, id, groupID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pool_tasks WHERE id = $1 AND group_id = $2`, id, groupID)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to delete pool task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrTaskNotFound)
}

// DeleteByGroup implements store.TaskStore.DeleteByGroup
func (s *PostgresTaskStore) DeleteByGroup(ctx context.Context, groupID uuid.UUID) ([]string, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, `DELETE FROM pool_tasks WHERE group_id = $1 RETURNING blob_ref`, groupID)
	if err != nil {
		log.Error("failed to delete group tasks",
			slog.String("error", err.Error()),
			slog.String("group_id", groupID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	refs := []string{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, MapError(err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	log.Info("deleted group tasks",
		slog.String("group_id", groupID.String()),
		slog.Int("count", len(refs)))
	return refs, nil
}

// transition scans the row returned by a conditional UPDATE. A miss is
// classified by re-reading the task.
func (s *PostgresTaskStore) transition(
	ctx context.Context,
	op string,
	row *sql.Row,
	id, groupID uuid.UUID,
	classify func(*domain.PoolTask) *domain.LeaseConflictError,
) (*domain.PoolTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("op", op),
		slog.String("task_id", id.String()))

	task, err := scanTask(row)
	if err == nil {
		log.Debug("pool task transitioned", slog.String("status", string(task.Status)))
		return task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Error("pool task transition failed", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	current, err := s.GetByID(ctx, id, groupID)
	if err != nil {
		return nil, err
	}
	conflict := classify(current)
	log.Debug("pool task transition lost",
		slog.String("reason", string(conflict.Reason)),
		slog.String("status", string(current.Status)))
	return nil, conflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.PoolTask, error) {
	var (
		t                                      domain.PoolTask
		status                                 string
		holder, completedBy                    uuid.NullUUID
		leaseStarted, procStarted, completedAt sql.NullTime
	)

	err := row.Scan(
		&t.ID,
		&t.GroupID,
		&t.SubmitterID,
		&t.BlobRef,
		&t.Filename,
		&t.ContentType,
		&t.ByteSize,
		&status,
		&holder,
		&leaseStarted,
		&procStarted,
		&completedBy,
		&completedAt,
		&t.ResultCount,
		&t.FailureReason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	t.HolderID = nullUUID(holder)
	t.CompletedBy = nullUUID(completedBy)
	t.LeaseStartedAt = nullTime(leaseStarted)
	t.ProcessingStartedAt = nullTime(procStarted)
	t.CompletedAt = nullTime(completedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func nullUUID(v uuid.NullUUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := v.UUID
	return &id
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
