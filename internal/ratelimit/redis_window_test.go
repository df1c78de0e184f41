package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisWindowLimiter(t *testing.T) {
	mr, client := newTestRedis(t)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewRedisWindowLimiter(client, fc, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		res, err := l.Check(ctx, "key_a", 2)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := l.Check(ctx, "key_a", 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, errors.Is(res.Err(), ErrLimitExceeded))
	assert.False(t, res.ResetAt.Before(fc.Now()))
	assert.False(t, res.ResetAt.After(fc.Now().Add(time.Minute)))

	mr.FastForward(time.Minute)

	res, err = l.Check(ctx, "key_a", 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestRedisWindowLimiterNilClient(t *testing.T) {
	var l *RedisWindowLimiter
	assert.Nil(t, NewRedisWindowLimiter(nil, nil, time.Minute))
	_, err := l.Check(context.Background(), "key", 1)
	assert.Error(t, err)
}

func TestLockerWithLock(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "jobs:reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ran := false
	err = locker.WithLock(ctx, "jobs:reconcile", time.Minute, func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.False(t, ran)

	require.NoError(t, locker.Release(ctx, "jobs:reconcile", token))

	err = locker.WithLock(ctx, "jobs:reconcile", time.Minute, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	_, ok, err = locker.TryLock(ctx, "jobs:reconcile", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "WithLock releases the key")
}

func TestNilLockerRunsUnguarded(t *testing.T) {
	var locker *Locker
	ran := false
	err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}
