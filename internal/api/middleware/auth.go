package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/sunlog-api/internal/api/shared"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
	"github.com/phrazzld/sunlog-api/internal/redact"
	"github.com/phrazzld/sunlog-api/internal/service/auth"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// AuthMiddleware authenticates members and resolves their family group.
type AuthMiddleware struct {
	jwtService auth.JWTService
	members    store.MemberDirectory
}

// NewAuthMiddleware creates a new AuthMiddleware with the given dependencies.
func NewAuthMiddleware(jwtService auth.JWTService, members store.MemberDirectory) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		members:    members,
	}
}

// Authenticate validates the bearer token and adds the member ID to the
// request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" || strings.Contains(token, " ") {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims, err := m.jwtService.ValidateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Token expired")
			case errors.Is(err, auth.ErrInvalidToken),
				errors.Is(err, auth.ErrTokenNotYetValid),
				errors.Is(err, auth.ErrInvalidSubject):
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
			default:
				logger.FromContextOrDefault(r.Context(), slog.Default()).
					Error("failed to validate token", "error", redact.Error(err))
				shared.RespondWithError(w, r, http.StatusInternalServerError, "Authentication error")
			}
			return
		}

		ctx := shared.WithMemberID(r.Context(), claims.MemberID)
		ctx = logger.WithLogger(ctx, logger.FromContextOrDefault(ctx, slog.Default()).
			With(slog.String("member_id", claims.MemberID.String())))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireMembership resolves the authenticated member's family group and
// rejects members who belong to none. It must run after Authenticate.
func (m *AuthMiddleware) RequireMembership(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := shared.GetMemberID(r.Context())
		if !ok {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}

		membership, err := m.members.GetMembership(r.Context(), memberID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				shared.RespondWithError(w, r, http.StatusForbidden, "You are not a member of a family group",
					shared.WithReason("not_member"), shared.WithElevatedLogLevel())
				return
			}
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
				"Failed to resolve family membership", err)
			return
		}

		ctx := shared.WithMembership(r.Context(), membership)
		ctx = logger.WithLogger(ctx, logger.FromContextOrDefault(ctx, slog.Default()).
			With(slog.String("group_id", membership.GroupID.String())))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
