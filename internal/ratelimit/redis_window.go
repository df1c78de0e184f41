package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/schoolhub/internal/clock"
)

// The first INCR of a window sets its expiry; the key disappears when the
// window elapses and the next request opens a fresh one.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

const redisKeyPrefix = "schoolhub:ratelimit:"

// RedisWindowLimiter shares fixed windows across processes through redis.
type RedisWindowLimiter struct {
	client *redis.Client
	script *redis.Script
	clock  clock.Clock
	length time.Duration
}

func NewRedisWindowLimiter(client *redis.Client, c clock.Clock, length time.Duration) *RedisWindowLimiter {
	if client == nil {
		return nil
	}
	if c == nil {
		c = clock.SystemClock{}
	}
	if length <= 0 {
		length = DefaultWindow
	}
	return &RedisWindowLimiter{
		client: client,
		script: redis.NewScript(fixedWindowScript),
		clock:  c,
		length: length,
	}
}

func (l *RedisWindowLimiter) Check(ctx context.Context, key string, limit int) (Result, error) {
	if l == nil || l.client == nil {
		return Result{}, errors.New("rate limiter not configured")
	}
	if key == "" {
		return Result{}, errors.New("rate limiter key is empty")
	}
	if limit <= 0 {
		return Result{}, errors.New("rate limit must be positive")
	}

	res, err := l.script.Run(ctx, l.client, []string{redisKeyPrefix + key}, l.length.Milliseconds()).Result()
	if err != nil {
		return Result{}, err
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Result{}, fmt.Errorf("unexpected rate limit response: %v", res)
	}
	count, err := toInt64(values[0])
	if err != nil {
		return Result{}, err
	}
	ttl, err := toInt64(values[1])
	if err != nil {
		return Result{}, err
	}

	return Result{
		Allowed:   int(count) <= limit,
		Limit:     limit,
		Remaining: remaining(limit, int(count)),
		ResetAt:   l.clock.Now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected rate limit value type %T", value)
	}
}
