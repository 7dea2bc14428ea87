package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
)

// ContextKey is the key type for request-scoped values.
type ContextKey string

// Context keys for various values
const (
	// MemberIDContextKey is the context key for the authenticated member ID
	MemberIDContextKey ContextKey = "memberID"

	// MembershipContextKey is the context key for the member's resolved group membership
	MembershipContextKey ContextKey = "membership"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of hex characters in a trace ID
	TraceIDLength = 32
)

// SetTraceID adds a fresh trace ID to the context.
// This is useful for correlating logs and error responses.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// generateTraceID returns 32 random hex characters.
func generateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithMemberID stores the authenticated member ID in the context.
func WithMemberID(ctx context.Context, memberID uuid.UUID) context.Context {
	return context.WithValue(ctx, MemberIDContextKey, memberID)
}

// GetMemberID returns the authenticated member ID, if any.
func GetMemberID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(MemberIDContextKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// WithMembership stores the member's group membership in the context.
func WithMembership(ctx context.Context, m *domain.Membership) context.Context {
	return context.WithValue(ctx, MembershipContextKey, m)
}

// GetMembership returns the member's group membership, if resolved.
func GetMembership(ctx context.Context) (*domain.Membership, bool) {
	m, ok := ctx.Value(MembershipContextKey).(*domain.Membership)
	return m, ok && m != nil
}
