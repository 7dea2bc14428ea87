package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// PostgresUsageStore counts per-member daily capability usage in api_usage.
type PostgresUsageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresUsageStore creates a usage counter backed by PostgreSQL.
func NewPostgresUsageStore(db store.DBTX, logger *slog.Logger) *PostgresUsageStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresUsageStore{
		db:     db,
		logger: logger.With(slog.String("component", "usage_store")),
	}
}

// IncrementIfBelow adds one use for the member on day unless the count
// already reached limit. It returns the count after the call and whether the
// use was recorded. The check and the increment are one statement, so
// concurrent callers never push the count past limit.
func (s *PostgresUsageStore) IncrementIfBelow(
	ctx context.Context,
	memberID uuid.UUID,
	capability string,
	day time.Time,
	limit int,
) (int, bool, error) {
	query := `
		INSERT INTO api_usage (member_id, capability, usage_date, request_count, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (member_id, capability, usage_date)
		DO UPDATE SET request_count = api_usage.request_count + 1, updated_at = NOW()
		WHERE api_usage.request_count < $4
		RETURNING request_count
	`
	date := day.UTC().Format(time.DateOnly)

	var count int
	err := s.db.QueryRowContext(ctx, query, memberID, capability, date, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return limit, false, nil
	}
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to record api usage",
			slog.String("error", err.Error()),
			slog.String("member_id", memberID.String()),
			slog.String("capability", capability))
		return 0, false, MapError(err)
	}
	return count, true, nil
}
