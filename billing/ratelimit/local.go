// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalLimiter is the process-local tier: a fixed-window counter per
// user/endpoint pair. It resets on restart and is not shared across
// instances; that weak consistency is acceptable because the Redis tier
// backs it up.
type LocalLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	size    time.Duration
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewLocalLimiter creates a local limiter allowing limit requests per
// window
func NewLocalLimiter(limit int, windowSize time.Duration) *LocalLimiter {
	return &LocalLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		size:    windowSize,
		now:     time.Now,
	}
}

// Allow checks and counts one request
func (l *LocalLimiter) Allow(ctx context.Context, userID, endpoint string) (*Decision, error) {
	key := userID + ":" + endpoint
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.size {
		l.windows[key] = &window{start: now, count: 1}
		return &Decision{Allowed: true}, nil
	}

	if w.count >= l.limit {
		return &Decision{
			Allowed:    false,
			RetryAfter: w.start.Add(l.size).Sub(now),
		}, nil
	}

	w.count++
	return &Decision{Allowed: true}, nil
}

// Reset clears all counters (admin/testing operation)
func (l *LocalLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*window)
}
