package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/schoolhub/internal/clock"
)

type window struct {
	count int
	start time.Time
}

// WindowLimiter is a process-local fixed-window counter. Windows idle for
// more than twice the window length are dropped by Purge.
type WindowLimiter struct {
	clock  clock.Clock
	length time.Duration

	mu      sync.Mutex
	windows map[string]*window

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewWindowLimiter(c clock.Clock, length time.Duration) *WindowLimiter {
	if c == nil {
		c = clock.SystemClock{}
	}
	if length <= 0 {
		length = DefaultWindow
	}
	return &WindowLimiter{
		clock:   c,
		length:  length,
		windows: make(map[string]*window),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (l *WindowLimiter) Check(_ context.Context, key string, limit int) (Result, error) {
	if key == "" {
		return Result{}, errors.New("rate limiter key is empty")
	}
	if limit <= 0 {
		return Result{}, errors.New("rate limit must be positive")
	}

	now := l.clock.Now()

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.start.Add(l.length)) {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++
	count, start := w.count, w.start
	l.mu.Unlock()

	return Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining(limit, count),
		ResetAt:   start.Add(l.length),
	}, nil
}

// Purge drops stale windows and returns how many were removed.
func (l *WindowLimiter) Purge() int {
	cutoff := l.clock.Now().Add(-2 * l.length)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if w.start.Before(cutoff) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Reset forgets every window.
func (l *WindowLimiter) Reset() {
	l.mu.Lock()
	l.windows = make(map[string]*window)
	l.mu.Unlock()
}

// Len returns the number of tracked windows.
func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Start runs Purge every interval until Stop is called.
func (l *WindowLimiter) Start(interval time.Duration) {
	if interval <= 0 {
		interval = l.length
	}
	l.startOnce.Do(func() {
		l.mu.Lock()
		l.started = true
		l.mu.Unlock()
		go l.purgeLoop(interval)
	})
}

func (l *WindowLimiter) purgeLoop(interval time.Duration) {
	defer close(l.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Purge()
		case <-l.stopCh:
			return
		}
	}
}

// Stop ends the purge loop started by Start and waits for it to exit.
func (l *WindowLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if started {
		<-l.doneCh
	}
}
