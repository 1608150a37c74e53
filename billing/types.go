// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

// Package billing is the service package for the CreditGate billing gate.
// It fronts every paid operation with the full admission sequence: rate
// limit, cost estimate, balance check, atomic deduction, idempotent run
// tracking, execution, and compensation on failure.
package billing

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ExecuteRequest is one attempt at a paid operation. RequestID is the
// caller-supplied idempotency token; retries must reuse it to get the
// original outcome instead of a second charge.
type ExecuteRequest struct {
	RequestID     string                 `json:"request_id"`
	UserID        string                 `json:"user_id"`
	OperationType string                 `json:"operation_type"`
	Params        map[string]interface{} `json:"params,omitempty"`
}

// ExecuteOutcome is the uniform result of the billing gate. StatusCode
// classifies the outcome; business rejections (insufficient credit, rate
// limited, duplicate in flight) are outcomes, not Go errors.
type ExecuteOutcome struct {
	StatusCode    int             `json:"-"`
	RequestID     string          `json:"request_id"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	Balance       decimal.Decimal `json:"balance_usd"`
	RetryAfter    time.Duration   `json:"-"`
}

// Outcome reasons surfaced to callers
const (
	ReasonInsufficientCredit = "insufficient_credit"
	ReasonRateLimited        = "rate_limited"
	ReasonDuplicateInFlight  = "duplicate_in_flight"
	ReasonExecutionFailed    = "execution_failed"
)
