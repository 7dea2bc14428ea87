package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/api/shared"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
)

// getPathUUID extracts a UUID from the URL path parameters.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, domain.NewValidationError(paramName, "is required", domain.ErrValidation)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, domain.NewValidationError(paramName, "has invalid format", domain.ErrInvalidID)
	}
	return id, nil
}

// requireMembership returns the caller's membership placed in the context by
// the membership middleware, writing an error response if it is missing.
func requireMembership(w http.ResponseWriter, r *http.Request) (*domain.Membership, bool) {
	m, ok := shared.GetMembership(r.Context())
	if !ok {
		logger.FromContextOrDefault(r.Context(), slog.Default()).
			Warn("membership not found in request context")
		HandleAPIError(w, r, domain.ErrUnauthorized, "")
		return nil, false
	}
	return m, true
}

// handleMembershipAndPathUUID extracts both the caller's membership and a
// UUID path parameter. It writes an error response if either is missing.
func handleMembershipAndPathUUID(
	w http.ResponseWriter,
	r *http.Request,
	paramName string,
) (*domain.Membership, uuid.UUID, bool) {
	m, ok := requireMembership(w, r)
	if !ok {
		return nil, uuid.Nil, false
	}

	id, err := getPathUUID(r, paramName)
	if err != nil {
		logger.FromContextOrDefault(r.Context(), slog.Default()).Debug("invalid path parameter",
			slog.String("param_name", paramName),
			slog.String("value", chi.URLParam(r, paramName)))
		HandleAPIError(w, r, err, "")
		return nil, uuid.Nil, false
	}
	return m, id, true
}
