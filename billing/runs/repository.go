// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package runs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrRunNotFound is returned when no run matches a request id
	ErrRunNotFound = errors.New("operation run not found")

	// ErrInvalidRequestID is returned for an empty idempotency key
	ErrInvalidRequestID = errors.New("invalid request id")
)

// Repository abstracts the durable store for operation runs. The
// uniqueness constraint on request_id is the serialization point: exactly
// one concurrent creator wins, with no application-level locking.
type Repository interface {
	// Insert creates a processing run. It returns created=false when a
	// run with this request id already exists; that is the expected
	// signal for a duplicate, not an error.
	Insert(ctx context.Context, run *OperationRun) (created bool, err error)

	// Get returns the run for a request id, or ErrRunNotFound
	Get(ctx context.Context, requestID string) (*OperationRun, error)

	// MarkTerminal transitions a processing run to a terminal state. A
	// run already in a terminal state is left untouched and updated=false
	// is returned; duplicate completion signals are safe no-ops.
	MarkTerminal(ctx context.Context, requestID string, status RunStatus, output json.RawMessage, errMsg string, durationMs int64) (updated bool, err error)

	// ListStaleProcessing returns runs still in processing that were
	// created before the cutoff. Feeds the reconciliation sweep.
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]OperationRun, error)

	// Ping checks store connectivity
	Ping(ctx context.Context) error
}
