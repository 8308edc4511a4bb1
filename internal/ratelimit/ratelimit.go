package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Defaults match the documented send-path policy: 10 calls per principal
// per trailing 60 seconds.
const (
	DefaultCapacity = 10
	DefaultWindow   = 60 * time.Second
)

// LimitExceededError is returned when a principal's window is full.
// RetryAfterSeconds is computed from the oldest remaining entry so the
// caller gets an accurate backoff hint.
type LimitExceededError struct {
	RetryAfterSeconds int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// Limiter enforces a per-principal sliding-window cap. The evict-check-
// append sequence runs under one lock so two concurrent calls for the
// same principal can never both pass a check that should reject one.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string][]time.Time
	capacity int
	window   time.Duration
	now      func() time.Time
}

// New creates a Limiter allowing capacity calls per window per principal.
// Non-positive arguments fall back to the defaults.
func New(capacity int, window time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		windows:  make(map[string][]time.Time),
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Check records one call for principal if the window has room, or returns
// a LimitExceededError without recording anything.
func (l *Limiter) Check(principal string) error {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.windows[principal]
	for len(entries) > 0 && now.Sub(entries[0]) >= l.window {
		entries = entries[1:]
	}

	if len(entries) >= l.capacity {
		l.windows[principal] = entries
		retry := int((l.window - now.Sub(entries[0])).Seconds()) + 1
		return &LimitExceededError{RetryAfterSeconds: retry}
	}

	l.windows[principal] = append(entries, now)
	return nil
}
