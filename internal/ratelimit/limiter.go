// Package ratelimit provides fixed-window request limiting keyed by credential.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultWindow is the counting window for per-credential limits.
const DefaultWindow = time.Minute

var ErrLimitExceeded = errors.New("rate_limited")

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests for key against limit in the current window.
type Limiter interface {
	Check(ctx context.Context, key string, limit int) (Result, error)
}

// LimitError reports a rejected request and when the window resets.
type LimitError struct {
	Limit   int
	ResetAt time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded, resets at %s", e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// Err returns a *LimitError when the result denies the request.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &LimitError{Limit: r.Limit, ResetAt: r.ResetAt}
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}
