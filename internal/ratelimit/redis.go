package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sunlog:ratelimit:"

// keyTTL outlives the day it counts so that late requests near midnight
// still see the counter.
const keyTTL = 48 * time.Hour

// consumeScript increments the counter only while it is below the limit, so
// denied requests do not inflate the count.
var consumeScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
	return -1
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return current
`)

// Redis is a Limiter keeping daily counters in Redis.
type Redis struct {
	client redis.Scripter
	limit  int
	now    func() time.Time
}

var _ Limiter = (*Redis)(nil)

// NewRedis returns a Redis-backed limiter allowing limit uses per member,
// capability and UTC day.
func NewRedis(client redis.Scripter, limit int) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("daily limit must be positive, got %d", limit)
	}
	return &Redis{client: client, limit: limit, now: time.Now}, nil
}

// Connect opens a Redis client and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// CheckAndConsume implements Limiter.
func (r *Redis) CheckAndConsume(ctx context.Context, memberID uuid.UUID, capability string) error {
	key := usageKey(memberID, capability, r.now())
	n, err := consumeScript.Run(ctx, r.client, []string{key}, r.limit, int(keyTTL.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	if n < 0 {
		return ErrLimitExceeded
	}
	return nil
}

func usageKey(memberID uuid.UUID, capability string, now time.Time) string {
	return keyPrefix + capability + ":" + memberID.String() + ":" + now.UTC().Format(time.DateOnly)
}
