// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

// Package runs tracks the lifecycle of one logical attempt at a paid
// operation, keyed by a caller-supplied idempotency token. A retried
// request finds the original run and returns its outcome instead of
// re-executing the paid call.
package runs

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the lifecycle state of an operation run
type RunStatus string

const (
	StatusProcessing RunStatus = "processing"
	StatusSucceeded  RunStatus = "succeeded"
	StatusFailed     RunStatus = "failed"
)

// OperationRun is one row per logical attempt at a paid operation. It is
// created in processing before the external call and transitions exactly
// once to a terminal state; it never re-enters processing.
type OperationRun struct {
	RequestID     string          `json:"request_id"`
	UserID        string          `json:"user_id"`
	OperationType string          `json:"operation_type"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	Status        RunStatus       `json:"status"`
	OutputResult  json.RawMessage `json:"output_result,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	DurationMs    int64           `json:"duration_ms,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the run has reached a final state
func (r *OperationRun) IsTerminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}
