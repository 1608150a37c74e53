// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"context"
	"fmt"

	"creditgate/platform/shared/logger"
)

// Gate is the at-most-once processing lock for inbound provider events
type Gate struct {
	repo Repository
	log  *logger.Logger
}

// NewGate creates a new webhook event gate
func NewGate(repo Repository) *Gate {
	return &Gate{
		repo: repo,
		log:  logger.New("webhook"),
	}
}

// CheckAndLock decides whether this delivery should run the underlying
// handler. Completed events and events currently processing are
// acknowledged without processing; new events and retries of failed
// events are locked into processing.
func (g *Gate) CheckAndLock(ctx context.Context, eventID, eventType string) (*LockResult, error) {
	if eventID == "" || eventType == "" {
		return nil, ErrInvalidEvent
	}

	locked, err := g.repo.TryLock(ctx, eventID, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to lock event: %w", err)
	}

	evt, err := g.repo.Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to read event after lock attempt: %w", err)
	}

	if !locked {
		g.log.Info("", eventID, "Skipping duplicate webhook delivery", map[string]interface{}{
			"event_type": eventType,
			"status":     string(evt.Status),
		})
	}

	return &LockResult{ShouldProcess: locked, Event: evt}, nil
}

// MarkCompleted permanently finalizes an event. Replays of a completed
// event never re-invoke its handler.
func (g *Gate) MarkCompleted(ctx context.Context, eventID string) error {
	return g.repo.SetStatus(ctx, eventID, StatusCompleted, "")
}

// MarkFailed records a handler failure. The event stays retryable: a
// later delivery re-enters processing through CheckAndLock.
func (g *Gate) MarkFailed(ctx context.Context, eventID string, errMsg string) error {
	return g.repo.SetStatus(ctx, eventID, StatusFailed, errMsg)
}

// IsHealthy checks if the underlying store is reachable
func (g *Gate) IsHealthy(ctx context.Context) bool {
	return g.repo.Ping(ctx) == nil
}
