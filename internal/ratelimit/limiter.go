// Package ratelimit implements the in-memory fixed-window admission gate used
// on the request path. Counters are keyed by (scope, path, method) and reset
// at the start of every window; state is process-local and lost on restart.
// There is deliberately no cross-process coordination.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// anonymousKey is used when a caller cannot be identified (empty key).
const anonymousKey = "anonymous"

// Result is the outcome of one admission check. ResetInSeconds is how long
// until the current window rolls over; it doubles as the Retry-After value
// on denial.
type Result struct {
	Allowed        bool
	Limit          int
	Remaining      int
	ResetInSeconds int
}

// bucket is one per-key counter within a window.
type bucket struct {
	windowStart int64 // unix seconds, truncated to the window length
	count       int
}

// Limiter is a fixed-window counter over a single process-wide bucket map.
// All reads and writes of the map are serialized by one mutex; the critical
// section covers the whole read-modify-write so concurrent requests for the
// same key cannot exceed the limit.
type Limiter struct {
	window time.Duration
	nowFn  func() time.Time // injectable for tests

	mu      sync.Mutex
	buckets map[string]bucket
}

// New creates a Limiter with the given window length. Windows shorter than
// one second are clamped to one second.
func New(window time.Duration) *Limiter {
	if window < time.Second {
		window = time.Second
	}
	return &Limiter{
		window:  window,
		nowFn:   time.Now,
		buckets: make(map[string]bucket),
	}
}

// Key builds the canonical bucket key from a scope ("acct" or "ip"), the
// caller identity within that scope, and the route.
func Key(scope, id, path, method string) string {
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("%s:%s:%s:%s", scope, id, path, method)
}

// Allow performs one admission check for key under the given per-window
// limit. The first request of a window creates the bucket with count 1;
// subsequent requests increment it until the limit is reached, after which
// requests are denied without mutating the count until the window rolls over.
func (l *Limiter) Allow(key string, limit int) Result {
	now := l.nowFn().Unix()
	windowSecs := int64(l.window / time.Second)
	windowStart := now - now%windowSecs
	resetIn := int((windowStart + windowSecs) - now)

	if limit < 1 {
		limit = 1
	}
	if key == "" {
		key = anonymousKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.windowStart != windowStart {
		l.buckets[key] = bucket{windowStart: windowStart, count: 1}
		return Result{Allowed: true, Limit: limit, Remaining: maxInt(0, limit-1), ResetInSeconds: resetIn}
	}

	if b.count >= limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetInSeconds: resetIn}
	}

	b.count++
	l.buckets[key] = b
	return Result{Allowed: true, Limit: limit, Remaining: maxInt(0, limit-b.count), ResetInSeconds: resetIn}
}

// Cleanup removes buckets whose window started more than two window-lengths
// ago, bounding memory for churning key sets.
func (l *Limiter) Cleanup() {
	now := l.nowFn().Unix()
	windowSecs := int64(l.window / time.Second)
	windowStart := now - now%windowSecs
	threshold := windowStart - 2*windowSecs

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if b.windowStart < threshold {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup on the given interval until the context is
// cancelled. It is intended to be launched once at startup as a background
// goroutine.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("rate limit cleanup stopped")
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// size returns the current bucket count. Used by tests.
func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
