package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(newLimiter),
)

// NewRedisClient returns nil when no redis address is configured.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

type limiterParam struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	Redis     *redis.Client `optional:"true"`
}

func newLimiter(p limiterParam) Limiter {
	window := p.Config.RateLimit.Window
	if p.Config.RateLimit.Backend == config.RateLimitBackendRedis {
		if p.Redis != nil {
			p.Log.Info("rate limiter using redis backend", zap.Duration("window", window))
			return NewRedisWindowLimiter(p.Redis, p.Clock, window)
		}
		p.Log.Warn("redis rate limit backend requested without REDIS_ADDR, using memory")
	}

	limiter := NewWindowLimiter(p.Clock, window)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			limiter.Start(p.Config.RateLimit.PurgeInterval)
			return nil
		},
		OnStop: func(context.Context) error {
			limiter.Stop()
			return nil
		},
	})
	return limiter
}
