package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (m *memCounter) IncrementIfBelow(_ context.Context, memberID uuid.UUID, capability string, day time.Time, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, false, m.err
	}
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	key := usageKey(memberID, capability, day)
	if m.counts[key] >= limit {
		return m.counts[key], false, nil
	}
	m.counts[key]++
	return m.counts[key], true, nil
}

func TestDaily(t *testing.T) {
	counter := &memCounter{}
	d, err := NewDaily(counter, 2)
	require.NoError(t, err)

	day := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return day }

	ctx := context.Background()
	member := uuid.New()

	require.NoError(t, d.CheckAndConsume(ctx, member, "extract"))
	require.NoError(t, d.CheckAndConsume(ctx, member, "extract"))

	err = d.CheckAndConsume(ctx, member, "extract")
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	assert.NoError(t, d.CheckAndConsume(ctx, uuid.New(), "extract"), "quota is per member")

	d.now = func() time.Time { return day.Add(24 * time.Hour) }
	assert.NoError(t, d.CheckAndConsume(ctx, member, "extract"), "quota resets daily")
}

func TestDaily_CounterError(t *testing.T) {
	cause := errors.New("db down")
	d, err := NewDaily(&memCounter{err: cause}, 1)
	require.NoError(t, err)

	err = d.CheckAndConsume(context.Background(), uuid.New(), "extract")
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, domain.ErrRateLimited)
}

func TestNewDaily_Validation(t *testing.T) {
	_, err := NewDaily(nil, 1)
	assert.Error(t, err)
	_, err = NewDaily(&memCounter{}, 0)
	assert.Error(t, err)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedis(t *testing.T) {
	mr, client := setupRedis(t)

	r, err := NewRedis(client, 3)
	require.NoError(t, err)
	day := time.Date(2025, 1, 15, 23, 59, 0, 0, time.UTC)
	r.now = func() time.Time { return day }

	ctx := context.Background()
	member := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.CheckAndConsume(ctx, member, "extract"))
	}
	assert.ErrorIs(t, r.CheckAndConsume(ctx, member, "extract"), ErrLimitExceeded)
	assert.ErrorIs(t, r.CheckAndConsume(ctx, member, "extract"), ErrLimitExceeded)

	key := usageKey(member, "extract", day)
	val, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "3", val, "denied requests are not counted")
	assert.Equal(t, keyTTL, mr.TTL(key))

	r.now = func() time.Time { return day.Add(time.Minute) }
	assert.NoError(t, r.CheckAndConsume(ctx, member, "extract"), "new UTC day starts a new counter")
}

func TestRedis_ConcurrentConsumers(t *testing.T) {
	_, client := setupRedis(t)

	const limit = 5
	r, err := NewRedis(client, limit)
	require.NoError(t, err)

	member := uuid.New()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.CheckAndConsume(context.Background(), member, "extract") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, limit, allowed)
}

func TestRedis_ConnectionError(t *testing.T) {
	mr, client := setupRedis(t)
	r, err := NewRedis(client, 1)
	require.NoError(t, err)

	mr.Close()
	err = r.CheckAndConsume(context.Background(), uuid.New(), "extract")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrLimitExceeded)
}

func TestConnect(t *testing.T) {
	mr, _ := setupRedis(t)

	client, err := Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	_ = client.Close()

	_, err = Connect(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.CheckAndConsume(context.Background(), uuid.New(), "extract"))
	}
}
