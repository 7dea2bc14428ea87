package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// PostgresMemberDirectory implements store.MemberDirectory as a read-only
// view of the family_members table.
type PostgresMemberDirectory struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresMemberDirectory creates a member directory backed by PostgreSQL.
func NewPostgresMemberDirectory(db store.DBTX, logger *slog.Logger) *PostgresMemberDirectory {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresMemberDirectory{
		db:     db,
		logger: logger.With(slog.String("component", "member_directory")),
	}
}

var _ store.MemberDirectory = (*PostgresMemberDirectory)(nil)

// GetMembership implements store.MemberDirectory.GetMembership
func (d *PostgresMemberDirectory) GetMembership(ctx context.Context, memberID uuid.UUID) (*domain.Membership, error) {
	query := `
		SELECT group_id, member_id, display_name, role
		FROM family_members
		WHERE member_id = $1
	`
	var (
		m    domain.Membership
		role string
	)
	err := d.db.QueryRowContext(ctx, query, memberID).Scan(&m.GroupID, &m.MemberID, &m.DisplayName, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrMembershipNotFound
		}
		logger.FromContextOrDefault(ctx, d.logger).Error("failed to look up membership",
			slog.String("error", err.Error()),
			slog.String("member_id", memberID.String()))
		return nil, MapError(err)
	}
	m.Role = domain.MemberRole(role)
	return &m, nil
}
