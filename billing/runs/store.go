// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"creditgate/platform/shared/logger"
)

// Store is the idempotency layer over operation runs
type Store struct {
	repo Repository
	log  *logger.Logger
}

// NewStore creates a new run store
func NewStore(repo Repository) *Store {
	return &Store{
		repo: repo,
		log:  logger.New("runs"),
	}
}

// CreateOrGet attempts to create a processing run for the request id. When
// a run already exists it is returned with existing=true; the caller
// inspects its status: succeeded and failed runs carry the cached outcome,
// a processing run means a concurrent attempt is mid-flight and the caller
// must not proceed.
func (s *Store) CreateOrGet(ctx context.Context, userID, requestID, operationType string, estimatedCost decimal.Decimal) (*OperationRun, bool, error) {
	if requestID == "" {
		return nil, false, ErrInvalidRequestID
	}

	run := &OperationRun{
		RequestID:     requestID,
		UserID:        userID,
		OperationType: operationType,
		EstimatedCost: estimatedCost,
		Status:        StatusProcessing,
	}

	created, err := s.repo.Insert(ctx, run)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create run: %w", err)
	}

	if created {
		run.CreatedAt = time.Now().UTC()
		return run, false, nil
	}

	// Lost the insert race or this is a retried request; either way the
	// existing row is authoritative
	existing, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return nil, false, fmt.Errorf("run exists but could not be fetched: %w", err)
	}

	return existing, true, nil
}

// MarkSucceeded records the successful outcome of a run. Calling it on a
// run that already reached a terminal state is a safe no-op.
func (s *Store) MarkSucceeded(ctx context.Context, requestID string, output json.RawMessage, durationMs int64) error {
	updated, err := s.repo.MarkTerminal(ctx, requestID, StatusSucceeded, output, "", durationMs)
	if err != nil {
		return err
	}
	if !updated {
		s.log.Warn("", requestID, "Ignored duplicate success signal for terminal run", nil)
	}
	return nil
}

// MarkFailed records the failed outcome of a run. Calling it on a run that
// already reached a terminal state is a safe no-op.
func (s *Store) MarkFailed(ctx context.Context, requestID, errorMessage string, durationMs int64) error {
	updated, err := s.repo.MarkTerminal(ctx, requestID, StatusFailed, nil, errorMessage, durationMs)
	if err != nil {
		return err
	}
	if !updated {
		s.log.Warn("", requestID, "Ignored duplicate failure signal for terminal run", nil)
	}
	return nil
}

// Get returns the run for a request id
func (s *Store) Get(ctx context.Context, requestID string) (*OperationRun, error) {
	return s.repo.Get(ctx, requestID)
}

// ListStaleProcessing returns processing runs older than the given age
func (s *Store) ListStaleProcessing(ctx context.Context, maxAge time.Duration) ([]OperationRun, error) {
	return s.repo.ListStaleProcessing(ctx, time.Now().UTC().Add(-maxAge))
}

// IsHealthy checks if the underlying store is reachable
func (s *Store) IsHealthy(ctx context.Context) bool {
	return s.repo.Ping(ctx) == nil
}
