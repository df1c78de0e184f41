package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/schoolhub/internal/clock"
	"golang.org/x/sync/singleflight"
)

// tokenRefreshMargin is how long before expiry a cached token is replaced.
const tokenRefreshMargin = 60 * time.Second

type fetchTokenFunc func(ctx context.Context) (string, time.Time, error)

// tokenCache holds one bearer token. Concurrent refreshes share a single fetch.
type tokenCache struct {
	clock clock.Clock
	fetch fetchTokenFunc

	mu     sync.Mutex
	token  string
	expiry time.Time

	group singleflight.Group
}

func newTokenCache(c clock.Clock, fetch fetchTokenFunc) *tokenCache {
	return &tokenCache{clock: c, fetch: fetch}
}

func (c *tokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", false
	}
	if !c.clock.Now().Before(c.expiry.Add(-tokenRefreshMargin)) {
		return "", false
	}
	return c.token, true
}

func (c *tokenCache) Get(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		if token, ok := c.cached(); ok {
			return token, nil
		}
		token, expiry, err := c.fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = token
		c.expiry = expiry
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *tokenCache) Reset() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}
