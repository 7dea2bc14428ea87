package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/sunlog-api/internal/api/shared"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/service/pool"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// Machine-readable reasons returned alongside error messages.
const (
	ReasonHeld             = string(domain.ConflictHeld)
	ReasonFinished         = string(domain.ConflictFinished)
	ReasonNotHolder        = string(domain.ConflictNotHolder)
	ReasonNotFound         = "not_found"
	ReasonBlobMissing      = "blob_missing"
	ReasonCapacity         = "capacity_exceeded"
	ReasonValidation       = "validation"
	ReasonExtractionFailed = "extraction_failed"
	ReasonRateLimited      = "rate_limited"
	ReasonForbidden        = "forbidden"
	ReasonNotMember        = "not_member"
	ReasonStorage          = "storage_error"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	if reason, ok := domain.ConflictReasonOf(err); ok {
		// A caller who does not hold the task sees it as absent.
		if reason == domain.ConflictNotHolder {
			return http.StatusNotFound
		}
		return http.StatusConflict
	}

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrNotMember):
		return http.StatusForbidden

	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, pool.ErrBlobMissing):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, domain.ErrExtractionFailed):
		return http.StatusUnprocessableEntity

	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}

// ErrorReason returns the machine-readable reason for err, or "" if none applies.
func ErrorReason(err error) string {
	if reason, ok := domain.ConflictReasonOf(err); ok {
		return string(reason)
	}

	switch {
	case errors.Is(err, pool.ErrBlobMissing):
		return ReasonBlobMissing
	case errors.Is(err, store.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, domain.ErrCapacityExceeded):
		return ReasonCapacity
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidStatus):
		return ReasonValidation
	case errors.Is(err, domain.ErrExtractionFailed):
		return ReasonExtractionFailed
	case errors.Is(err, domain.ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, domain.ErrNotMember):
		return ReasonNotMember
	case errors.Is(err, domain.ErrForbidden):
		return ReasonForbidden
	case errors.Is(err, domain.ErrStorage):
		return ReasonStorage
	default:
		return ""
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	if reason, ok := domain.ConflictReasonOf(err); ok {
		switch reason {
		case domain.ConflictFinished:
			return "Task has already been processed"
		case domain.ConflictNotHolder:
			return "Task not found or not claimed by you"
		default:
			return "Task is currently claimed by another member"
		}
	}

	if errors.Is(err, domain.ErrExtractionFailed) {
		return "Failed to extract readings from image"
	}

	var capErr *domain.CapacityExceededError
	if errors.As(err, &capErr) {
		return "Too many outstanding images in the pool"
	}

	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return "Invalid " + valErr.Field + ": " + valErr.Message
	}

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return "Authentication required"
	case errors.Is(err, domain.ErrNotMember):
		return "You are not a member of a family group"
	case errors.Is(err, domain.ErrForbidden):
		return "Only the uploader or a group owner can delete this image"
	case errors.Is(err, pool.ErrBlobMissing):
		return "Image file not found"
	case errors.Is(err, store.ErrNotFound):
		return "Task not found"
	case errors.Is(err, domain.ErrInvalidStatus):
		return "Invalid status filter"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request"
	case errors.Is(err, domain.ErrRateLimited):
		return "Daily processing limit reached"
	case errors.Is(err, domain.ErrStorage):
		return "Failed to store image"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the error response for err. An empty message falls
// back to GetSafeErrorMessage.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	status := MapErrorToStatusCode(err)

	opts := []shared.ResponseOption{}
	if reason := ErrorReason(err); reason != "" {
		opts = append(opts, shared.WithReason(reason))
	}
	if status == http.StatusForbidden {
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}

// SanitizeValidationError turns validator output into a client-safe message
// naming the first failing field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}
	fe := verrs[0]
	return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), getValidationTagMessage(fe.Tag(), fe.Param()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag, param string) string {
	switch tag {
	case "required":
		return "required field"
	case "oneof":
		return "must be one of " + param
	case "gte":
		return "must be at least " + param
	case "lte":
		return "must be at most " + param
	default:
		return "invalid value"
	}
}
