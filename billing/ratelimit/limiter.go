// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

// Package ratelimit provides the two-tier request-admission gate consulted
// before any ledger mutation: a fast process-local counter and a durable
// cross-instance counter backed by Redis. The local tier is a best-effort
// fast path; the Redis tier is the correctness backstop when multiple
// instances serve the same user.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of an admission check
type Decision struct {
	Allowed    bool          `json:"allowed"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Limiter is the admission gate interface. It never mutates ledger or run
// state; it only answers whether a request may proceed.
type Limiter interface {
	Allow(ctx context.Context, userID, endpoint string) (*Decision, error)
}

// Chain consults limiters in order; every tier must allow. The first
// rejection wins and carries its retry hint.
type Chain []Limiter

// Allow runs the chain
func (c Chain) Allow(ctx context.Context, userID, endpoint string) (*Decision, error) {
	for _, l := range c {
		decision, err := l.Allow(ctx, userID, endpoint)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return decision, nil
		}
	}
	return &Decision{Allowed: true}, nil
}
