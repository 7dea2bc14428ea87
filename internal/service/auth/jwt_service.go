// Package auth verifies the bearer tokens that identify pool members.
//
// Tokens are issued by the account service; this package only needs the
// shared HMAC secret. The sub claim carries the member's UUID.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JWTService verifies member tokens and, for development and tests, issues them.
type JWTService interface {
	// ValidateToken verifies the token signature and lifetime and extracts
	// the claims.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)

	// GenerateToken signs a token for the member valid for ttl.
	GenerateToken(ctx context.Context, memberID uuid.UUID, ttl time.Duration) (string, error)
}

// Claims holds the verified identity of a request.
type Claims struct {
	MemberID  uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}
