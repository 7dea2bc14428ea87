// Package ratelimit enforces the per-member daily quota on extraction calls.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
)

// ErrLimitExceeded is returned when the member used up today's quota.
var ErrLimitExceeded = fmt.Errorf("%w: daily limit reached", domain.ErrRateLimited)

// Limiter consumes one unit of a member's daily quota for a capability.
type Limiter interface {
	// CheckAndConsume records one use, or returns ErrLimitExceeded without
	// recording it when the quota is exhausted.
	CheckAndConsume(ctx context.Context, memberID uuid.UUID, capability string) error
}

// UsageCounter atomically increments a member's daily usage if it is below limit.
type UsageCounter interface {
	IncrementIfBelow(ctx context.Context, memberID uuid.UUID, capability string, day time.Time, limit int) (int, bool, error)
}

// Daily is a Limiter backed by a persistent UsageCounter.
type Daily struct {
	counter UsageCounter
	limit   int
	now     func() time.Time
}

var _ Limiter = (*Daily)(nil)

// NewDaily returns a limiter that allows limit uses per member, capability and UTC day.
func NewDaily(counter UsageCounter, limit int) (*Daily, error) {
	if counter == nil {
		return nil, errors.New("usage counter cannot be nil")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("daily limit must be positive, got %d", limit)
	}
	return &Daily{counter: counter, limit: limit, now: time.Now}, nil
}

// CheckAndConsume implements Limiter.
func (d *Daily) CheckAndConsume(ctx context.Context, memberID uuid.UUID, capability string) error {
	_, ok, err := d.counter.IncrementIfBelow(ctx, memberID, capability, d.now().UTC(), d.limit)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	if !ok {
		return ErrLimitExceeded
	}
	return nil
}

// Unlimited never denies.
type Unlimited struct{}

var _ Limiter = Unlimited{}

// CheckAndConsume implements Limiter.
func (Unlimited) CheckAndConsume(context.Context, uuid.UUID, string) error {
	return nil
}
