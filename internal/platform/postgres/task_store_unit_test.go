package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskColumnNames = []string{
	"id", "group_id", "submitter_id", "blob_ref", "filename", "content_type", "byte_size",
	"status", "holder_id", "lease_started_at", "processing_started_at",
	"completed_by", "completed_at", "result_count", "failure_reason", "created_at", "updated_at",
}

func newMockTaskStore(t *testing.T) (*PostgresTaskStore, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresTaskStore(db, nil), db, mock
}

func optUUID(id *uuid.UUID) driver.Value {
	if id == nil {
		return nil
	}
	return id.String()
}

func optTime(ts *time.Time) driver.Value {
	if ts == nil {
		return nil
	}
	return *ts
}

func taskRows(tasks ...*domain.PoolTask) *sqlmock.Rows {
	rows := sqlmock.NewRows(taskColumnNames)
	for _, task := range tasks {
		rows.AddRow(
			task.ID.String(), task.GroupID.String(), task.SubmitterID.String(),
			task.BlobRef, task.Filename, task.ContentType, task.ByteSize,
			string(task.Status), optUUID(task.HolderID), optTime(task.LeaseStartedAt),
			optTime(task.ProcessingStartedAt), optUUID(task.CompletedBy), optTime(task.CompletedAt),
			task.ResultCount, task.FailureReason, task.CreatedAt, task.UpdatedAt,
		)
	}
	return rows
}

func sampleTask(t *testing.T) *domain.PoolTask {
	t.Helper()
	task, err := domain.NewPoolTask(uuid.New(), uuid.New(), uuid.New(),
		"g/images/a_log.jpg", "log.jpg", "image/jpeg", 2048,
		time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return task
}

func claimed(task *domain.PoolTask, holder uuid.UUID, at time.Time) *domain.PoolTask {
	c := *task
	c.Status = domain.TaskStatusClaimed
	c.HolderID = &holder
	c.LeaseStartedAt = &at
	return &c
}

func TestPostgresTaskStore_Claim(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	member := uuid.New()

	t.Run("pending task is granted", func(t *testing.T) {
		s, _, mock := newMockTaskStore(t)
		task := sampleTask(t)

		mock.ExpectQuery("UPDATE pool_tasks").
			WithArgs(task.ID, task.GroupID, member, now, now.Add(-30*time.Minute), sql.NullTime{}).
			WillReturnRows(taskRows(claimed(task, member, now)))

		got, err := s.Claim(context.Background(), store.ClaimParams{
			TaskID: task.ID, GroupID: task.GroupID, MemberID: member,
			Now: now, LeaseTimeout: 30 * time.Minute,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusClaimed, got.Status)
		assert.True(t, got.HeldBy(member))
		assert.Equal(t, now, *got.LeaseStartedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("processing timeout adds the stale cutoff", func(t *testing.T) {
		s, _, mock := newMockTaskStore(t)
		task := sampleTask(t)

		mock.ExpectQuery("UPDATE pool_tasks").
			WithArgs(task.ID, task.GroupID, member, now, now.Add(-time.Minute),
				sql.NullTime{Time: now.Add(-time.Hour), Valid: true}).
			WillReturnRows(taskRows(claimed(task, member, now)))

		_, err := s.Claim(context.Background(), store.ClaimParams{
			TaskID: task.ID, GroupID: task.GroupID, MemberID: member,
			Now: now, LeaseTimeout: time.Minute, ProcessingTimeout: time.Hour,
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("live lease is reported as held", func(t *testing.T) {
		s, _, mock := newMockTaskStore(t)
		task := sampleTask(t)

		mock.ExpectQuery("UPDATE pool_tasks").WillReturnRows(sqlmock.NewRows(taskColumnNames))
		mock.ExpectQuery("SELECT .+ FROM pool_tasks WHERE id").
			WithArgs(task.ID, task.GroupID).
			WillReturnRows(taskRows(claimed(task, uuid.New(), now.Add(-time.Minute))))

		_, err := s.Claim(context.Background(), store.ClaimParams{
			TaskID: task.ID, GroupID: task.GroupID, MemberID: member,
			Now: now, LeaseTimeout: 30 * time.Minute,
		})
		require.ErrorIs(t, err, domain.ErrLeaseConflict)
		reason, _ := domain.ConflictReasonOf(err)
		assert.Equal(t, domain.ConflictHeld, reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal task is reported as finished", func(t *testing.T) {
		s, _, mock := newMockTaskStore(t)
		task := sampleTask(t)
		done := *task
		done.Status = domain.TaskStatusProcessed
		done.CompletedBy = &member
		done.CompletedAt = &now

		mock.ExpectQuery("UPDATE pool_tasks").WillReturnRows(sqlmock.NewRows(taskColumnNames))
		mock.ExpectQuery("SELECT .+ FROM pool_tasks WHERE id").WillReturnRows(taskRows(&done))

		_, err := s.Claim(context.Background(), store.ClaimParams{
			TaskID: task.ID, GroupID: task.GroupID, MemberID: member,
			Now: now, LeaseTimeout: 30 * time.Minute,
		})
		reason, ok := domain.ConflictReasonOf(err)
		require.True(t, ok)
		assert.Equal(t, domain.ConflictFinished, reason)
	})

	t.Run("missing task is not found", func(t *testing.T) {
		s, _, mock := newMockTaskStore(t)

		mock.ExpectQuery("UPDATE pool_tasks").WillReturnRows(sqlmock.NewRows(taskColumnNames))
		mock.ExpectQuery("SELECT .+ FROM pool_tasks WHERE id").WillReturnRows(sqlmock.NewRows(taskColumnNames))

		_, err := s.Claim(context.Background(), store.ClaimParams{
			TaskID: uuid.New(), GroupID: uuid.New(), MemberID: member,
			Now: now, LeaseTimeout: 30 * time.Minute,
		})
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}

func TestPostgresTaskStore_Release_NotHolder(t *testing.T) {
	s, _, mock := newMockTaskStore(t)
	task := sampleTask(t)
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("UPDATE pool_tasks").WillReturnRows(sqlmock.NewRows(taskColumnNames))
	mock.ExpectQuery("SELECT .+ FROM pool_tasks WHERE id").
		WillReturnRows(taskRows(claimed(task, uuid.New(), now)))

	_, err := s.Release(context.Background(), task.ID, task.GroupID, uuid.New(), now)
	reason, ok := domain.ConflictReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ConflictNotHolder, reason)
}

func TestPostgresTaskStore_FinishProcessing(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 5, 0, 0, time.UTC)
	member := uuid.New()

	newJob := func(task *domain.PoolTask) *domain.ProcessingJob {
		job, err := domain.NewCompletedJob(task.ID, task.GroupID, member, "mock",
			[]domain.Reading{{Date: "2025-01-15", M1: 45.5}}, now.Add(-time.Minute), now)
		require.NoError(t, err)
		return job
	}

	t.Run("commits task and audit together", func(t *testing.T) {
		s, _, mock := newMockTaskStore(t)
		task := sampleTask(t)
		job := newJob(task)

		done := *task
		done.Status = domain.TaskStatusProcessed
		done.CompletedBy = &member
		done.CompletedAt = &now
		done.ResultCount = 1

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE pool_tasks").
			WithArgs(task.ID, task.GroupID, member, domain.TaskStatusProcessed, now, 1, "").
			WillReturnRows(taskRows(&done))
		mock.ExpectExec("INSERT INTO processing_jobs").
			WithArgs(job.ID, sqlmock.AnyArg(), task.GroupID, member, "mock", "completed",
				sqlmock.AnyArg(), "", job.StartedAt, job.CompletedAt, job.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		got, err := s.FinishProcessing(context.Background(), domain.TerminalUpdate{
			TaskID: task.ID, GroupID: task.GroupID, MemberID: member,
			Status: domain.TaskStatusProcessed, ResultCount: 1, CompletedAt: now,
		}, job)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusProcessed, got.Status)
		assert.Equal(t, 1, got.ResultCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost lease records an abandoned job only", func(t *testing.T) {
		s, _, mock := newMockTaskStore(t)
		task := sampleTask(t)
		job := newJob(task)
		thief := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE pool_tasks").WillReturnRows(sqlmock.NewRows(taskColumnNames))
		mock.ExpectQuery("SELECT .+ FROM pool_tasks WHERE id").
			WillReturnRows(taskRows(claimed(task, thief, now)))
		mock.ExpectExec("INSERT INTO processing_jobs").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), task.GroupID, member, "mock", "abandoned",
				sqlmock.AnyArg(), sqlmock.AnyArg(), job.StartedAt, job.CompletedAt, job.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := s.FinishProcessing(context.Background(), domain.TerminalUpdate{
			TaskID: task.ID, GroupID: task.GroupID, MemberID: member,
			Status: domain.TaskStatusProcessed, ResultCount: 1, CompletedAt: now,
		}, job)
		reason, ok := domain.ConflictReasonOf(err)
		require.True(t, ok)
		assert.Equal(t, domain.ConflictNotHolder, reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("audit failure rolls back the task update", func(t *testing.T) {
		s, _, mock := newMockTaskStore(t)
		task := sampleTask(t)
		done := *task
		done.Status = domain.TaskStatusError
		done.CompletedBy = &member
		done.CompletedAt = &now
		done.FailureReason = "blob missing"

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE pool_tasks").WillReturnRows(taskRows(&done))
		mock.ExpectExec("INSERT INTO processing_jobs").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		job := domain.NewFailedJob(task.ID, task.GroupID, member, "mock", "blob missing", now, now)
		_, err := s.FinishProcessing(context.Background(), domain.TerminalUpdate{
			TaskID: task.ID, GroupID: task.GroupID, MemberID: member,
			Status: domain.TaskStatusError, FailureReason: "blob missing", CompletedAt: now,
		}, job)
		var storeErr *store.StoreError
		require.ErrorAs(t, err, &storeErr)
		assert.Equal(t, "pool_task", storeErr.Entity)
		assert.Equal(t, "finish", storeErr.Operation)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancelled context never begins the transaction", func(t *testing.T) {
		s, _, mock := newMockTaskStore(t)
		task := sampleTask(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.FinishProcessing(ctx, domain.TerminalUpdate{
			TaskID: task.ID, GroupID: task.GroupID, MemberID: member,
			Status: domain.TaskStatusProcessed, ResultCount: 1, CompletedAt: now,
		}, newJob(task))
		assert.ErrorIs(t, err, context.Canceled)
		assert.IsType(t, &store.StoreError{}, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-terminal update is rejected before touching the database", func(t *testing.T) {
		s, _, mock := newMockTaskStore(t)
		_, err := s.FinishProcessing(context.Background(), domain.TerminalUpdate{
			TaskID: uuid.New(), GroupID: uuid.New(), MemberID: member,
			Status: domain.TaskStatusClaimed, CompletedAt: now,
		}, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTaskStore_List(t *testing.T) {
	s, _, mock := newMockTaskStore(t)
	task := sampleTask(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pool_tasks WHERE group_id = \$1 AND status IN \(\$2, \$3\)`).
		WithArgs(task.GroupID, "claimed", "processing").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`ORDER BY created_at DESC, id LIMIT \$4 OFFSET \$5`).
		WithArgs(task.GroupID, "claimed", "processing", 1, 2).
		WillReturnRows(taskRows(task))

	tasks, total, err := s.List(context.Background(), store.ListFilter{
		GroupID:  task.GroupID,
		Statuses: []domain.TaskStatus{domain.TaskStatusClaimed, domain.TaskStatusProcessing},
		Limit:    1,
		Offset:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTaskStore_CountByStatus(t *testing.T) {
	s, _, mock := newMockTaskStore(t)
	group := uuid.New()

	mock.ExpectQuery("GROUP BY status").WithArgs(group).WillReturnRows(
		sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 4).AddRow("claimed", 1).AddRow("processing", 2).AddRow("error", 1))

	counts, err := s.CountByStatus(context.Background(), group)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCounts{Pending: 4, Claimed: 1, Processing: 2, Error: 1}, counts)
	assert.Equal(t, 3, counts.Active())
}

func TestPostgresTaskStore_Create_DuplicateBlobRef(t *testing.T) {
	s, _, mock := newMockTaskStore(t)
	task := sampleTask(t)

	mock.ExpectExec("INSERT INTO pool_tasks").
		WillReturnError(newPgError(uniqueViolationCode, blobRefConstraint))

	err := s.Create(context.Background(), task)
	assert.ErrorIs(t, err, store.ErrBlobRefExists)
}

func TestPostgresTaskStore_Delete(t *testing.T) {
	s, _, mock := newMockTaskStore(t)
	id, group := uuid.New(), uuid.New()

	mock.ExpectExec("DELETE FROM pool_tasks").WithArgs(id, group).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.Delete(context.Background(), id, group), store.ErrTaskNotFound)

	mock.ExpectQuery("DELETE FROM pool_tasks WHERE group_id").WithArgs(group).
		WillReturnRows(sqlmock.NewRows([]string{"blob_ref"}).AddRow("a").AddRow("b"))
	refs, err := s.DeleteByGroup(context.Background(), group)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, refs)
}

func TestPostgresUsageStore_IncrementIfBelow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresUsageStore(db, nil)
	member := uuid.New()
	day := time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO api_usage").
		WithArgs(member, "extract_readings", "2025-01-15", 100).
		WillReturnRows(sqlmock.NewRows([]string{"request_count"}).AddRow(7))
	count, ok, err := s.IncrementIfBelow(context.Background(), member, "extract_readings", day, 100)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, count)

	mock.ExpectQuery("INSERT INTO api_usage").WillReturnRows(sqlmock.NewRows([]string{"request_count"}))
	count, ok, err = s.IncrementIfBelow(context.Background(), member, "extract_readings", day, 100)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 100, count)
}

func TestPostgresMemberDirectory_GetMembership(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	d := NewPostgresMemberDirectory(db, nil)
	member, group := uuid.New(), uuid.New()

	mock.ExpectQuery("FROM family_members").WithArgs(member).WillReturnRows(
		sqlmock.NewRows([]string{"group_id", "member_id", "display_name", "role"}).
			AddRow(group.String(), member.String(), "Ada", "owner"))

	m, err := d.GetMembership(context.Background(), member)
	require.NoError(t, err)
	assert.Equal(t, group, m.GroupID)
	assert.True(t, m.IsOwner())

	mock.ExpectQuery("FROM family_members").WillReturnRows(
		sqlmock.NewRows([]string{"group_id", "member_id", "display_name", "role"}))
	_, err = d.GetMembership(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrMembershipNotFound)
}
