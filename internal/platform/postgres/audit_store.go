package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// PostgresAuditStore implements the store.AuditStore interface over the
// processing_jobs table.
type PostgresAuditStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresAuditStore creates a new PostgreSQL implementation of the AuditStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresAuditStore(db store.DBTX, logger *slog.Logger) *PostgresAuditStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAuditStore{
		db:     db,
		logger: logger.With(slog.String("component", "audit_store")),
	}
}

// Ensure PostgresAuditStore implements store.AuditStore interface
var _ store.AuditStore = (*PostgresAuditStore)(nil)

// WithTx implements store.AuditStore.WithTx
func (s *PostgresAuditStore) WithTx(tx *sql.Tx) store.AuditStore {
	return &PostgresAuditStore{db: tx, logger: s.logger}
}

// Create implements store.AuditStore.Create
func (s *PostgresAuditStore) Create(ctx context.Context, job *domain.ProcessingJob) error {
	if err := insertJob(ctx, s.db, job); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to insert processing job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return err
	}
	return nil
}

// ListByTask implements store.AuditStore.ListByTask
func (s *PostgresAuditStore) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.ProcessingJob, error) {
	query := `
		SELECT id, task_id, group_id, requester_id, provider, status, result,
			error_text, started_at, completed_at, created_at
		FROM processing_jobs
		WHERE task_id = $1
		ORDER BY created_at ASC, id
	`
	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list processing jobs",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	jobs := []*domain.ProcessingJob{}
	for rows.Next() {
		var (
			job    domain.ProcessingJob
			task   uuid.NullUUID
			status string
			result []byte
		)
		if err := rows.Scan(
			&job.ID, &task, &job.GroupID, &job.RequesterID, &job.Provider, &status, &result,
			&job.ErrorText, &job.StartedAt, &job.CompletedAt, &job.CreatedAt,
		); err != nil {
			return nil, MapError(err)
		}
		job.TaskID = nullUUID(task)
		job.Status = domain.JobStatus(status)
		if len(result) > 0 {
			job.Result = result
		}
		jobs = append(jobs, &job)
	}
	return jobs, MapError(rows.Err())
}

func insertJob(ctx context.Context, db store.DBTX, job *domain.ProcessingJob) error {
	query := `
		INSERT INTO processing_jobs (
			id, task_id, group_id, requester_id, provider, status, result,
			error_text, started_at, completed_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	var task uuid.NullUUID
	if job.TaskID != nil {
		task = uuid.NullUUID{UUID: *job.TaskID, Valid: true}
	}
	var result any
	if len(job.Result) > 0 {
		result = []byte(job.Result)
	}

	_, err := db.ExecContext(ctx, query,
		job.ID,
		task,
		job.GroupID,
		job.RequesterID,
		job.Provider,
		string(job.Status),
		result,
		job.ErrorText,
		job.StartedAt,
		job.CompletedAt,
		job.CreatedAt,
	)
	return MapError(err)
}
