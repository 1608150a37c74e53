// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"creditgate/platform/billing/ledger"
	"creditgate/platform/billing/ratelimit"
	"creditgate/platform/billing/runs"
	"creditgate/platform/shared/logger"
)

// CreditLedger is the slice of ledger behavior the gateway drives
type CreditLedger interface {
	Deduct(ctx context.Context, userID string, cost decimal.Decimal, requestID, description string) (*ledger.DeductResult, error)
	Refund(ctx context.Context, userID string, amount decimal.Decimal, requestID, reason string) (*ledger.RefundResult, error)
}

// RunStore is the slice of run-store behavior the gateway drives
type RunStore interface {
	CreateOrGet(ctx context.Context, userID, requestID, operationType string, estimatedCost decimal.Decimal) (*runs.OperationRun, bool, error)
	MarkSucceeded(ctx context.Context, requestID string, output json.RawMessage, durationMs int64) error
	MarkFailed(ctx context.Context, requestID, errorMessage string, durationMs int64) error
	ListStaleProcessing(ctx context.Context, maxAge time.Duration) ([]runs.OperationRun, error)
}

// CostEstimator prices one operation before any money moves
type CostEstimator interface {
	Estimate(operationType string, params map[string]interface{}) decimal.Decimal
}

// Gateway sequences the billing gate in front of every paid operation:
// rate limit, cost estimate, atomic deduction, run creation, execution,
// and settlement. Every path that charges and then fails to deliver ends
// in a compensating refund.
type Gateway struct {
	ledger   CreditLedger
	runs     RunStore
	limiter  ratelimit.Limiter
	pricing  CostEstimator
	executor Executor
	log      *logger.Logger
}

// NewGateway creates a new billing gateway
func NewGateway(l CreditLedger, r RunStore, limiter ratelimit.Limiter, pricing CostEstimator, executor Executor) *Gateway {
	return &Gateway{
		ledger:   l,
		runs:     r,
		limiter:  limiter,
		pricing:  pricing,
		executor: executor,
		log:      logger.New("gateway"),
	}
}

// Execute runs one paid operation through the full gate. Business
// rejections come back as outcomes with the appropriate status code;
// only the transport layer turns them into HTTP responses.
func (g *Gateway) Execute(ctx context.Context, req *ExecuteRequest) *ExecuteOutcome {
	startTime := time.Now()

	// 1. Admission: every tier of the rate limit chain must allow
	decision, err := g.limiter.Allow(ctx, req.UserID, "operations")
	if err != nil {
		return g.internalError(req, "rate limit check failed", err)
	}
	if !decision.Allowed {
		promRateLimitedTotal.Inc()
		promOperationsTotal.WithLabelValues("rate_limited").Inc()
		return &ExecuteOutcome{
			StatusCode: http.StatusTooManyRequests,
			RequestID:  req.RequestID,
			Reason:     ReasonRateLimited,
			RetryAfter: decision.RetryAfter,
		}
	}

	// 2. Price the operation before any money moves
	cost := g.pricing.Estimate(req.OperationType, req.Params)

	// 3. Atomic deduction; this is both the affordability check and the
	// only serialization point for concurrent spend by the same user.
	// No advisory balance check runs in front of it: a replayed request
	// id must always reach the deduction's idempotent fast path, even
	// when the current balance has since dropped below the estimate.
	deduct, err := g.ledger.Deduct(ctx, req.UserID, cost, req.RequestID, "Operation "+req.OperationType)
	if err != nil {
		return g.internalError(req, "deduction failed", err)
	}
	if !deduct.Success {
		promDeductionsTotal.WithLabelValues("insufficient").Inc()
		promOperationsTotal.WithLabelValues("insufficient_credit").Inc()
		return &ExecuteOutcome{
			StatusCode:    http.StatusPaymentRequired,
			RequestID:     req.RequestID,
			Reason:        ReasonInsufficientCredit,
			EstimatedCost: cost,
			Balance:       deduct.BalanceAfter,
		}
	}
	promDeductionsTotal.WithLabelValues("applied").Inc()

	// 4. Exactly-once run creation; an existing run is a replay
	run, existing, err := g.runs.CreateOrGet(ctx, req.UserID, req.RequestID, req.OperationType, cost)
	if err != nil {
		return g.internalError(req, "run creation failed", err)
	}
	if existing {
		return g.replayOutcome(req, run, cost, deduct.BalanceAfter)
	}

	// 5. The paid call itself
	result, execErr := g.executor.Execute(ctx, req)
	durationMs := time.Since(startTime).Milliseconds()

	if execErr != nil {
		g.settleFailure(ctx, req, cost, execErr.Error(), durationMs)
		promOperationsTotal.WithLabelValues("failed").Inc()
		promOperationDuration.WithLabelValues(req.OperationType).Observe(float64(durationMs))
		return &ExecuteOutcome{
			StatusCode:    http.StatusInternalServerError,
			RequestID:     req.RequestID,
			Reason:        ReasonExecutionFailed,
			Error:         execErr.Error(),
			EstimatedCost: cost,
		}
	}

	if err := g.runs.MarkSucceeded(ctx, req.RequestID, result.Output, durationMs); err != nil {
		// The user got their output; losing the cached copy only costs a
		// replay its shortcut
		g.log.Error(req.UserID, req.RequestID, "Failed to record run success", map[string]interface{}{
			"error": err.Error(),
		})
	}

	promOperationsTotal.WithLabelValues("success").Inc()
	promOperationDuration.WithLabelValues(req.OperationType).Observe(float64(durationMs))

	return &ExecuteOutcome{
		StatusCode:    http.StatusOK,
		RequestID:     req.RequestID,
		Result:        result.Output,
		EstimatedCost: cost,
		Balance:       deduct.BalanceAfter,
	}
}

// replayOutcome maps an existing run to the response its original attempt
// produced. A successful replay is indistinguishable from a first-time
// success.
func (g *Gateway) replayOutcome(req *ExecuteRequest, run *runs.OperationRun, cost, balance decimal.Decimal) *ExecuteOutcome {
	switch run.Status {
	case runs.StatusSucceeded:
		promOperationsTotal.WithLabelValues("replay").Inc()
		return &ExecuteOutcome{
			StatusCode:    http.StatusOK,
			RequestID:     req.RequestID,
			Result:        run.OutputResult,
			EstimatedCost: cost,
			Balance:       balance,
		}

	case runs.StatusFailed:
		promOperationsTotal.WithLabelValues("replay").Inc()
		return &ExecuteOutcome{
			StatusCode:    http.StatusInternalServerError,
			RequestID:     req.RequestID,
			Reason:        ReasonExecutionFailed,
			Error:         run.ErrorMessage,
			EstimatedCost: cost,
		}

	default:
		// The original attempt is still mid-flight
		promOperationsTotal.WithLabelValues("duplicate_in_flight").Inc()
		return &ExecuteOutcome{
			StatusCode: http.StatusConflict,
			RequestID:  req.RequestID,
			Reason:     ReasonDuplicateInFlight,
		}
	}
}

// settleFailure refunds the deduction and finalizes the run after a
// failed execution. Settlement errors are logged but never mask the
// execution failure the caller sees.
func (g *Gateway) settleFailure(ctx context.Context, req *ExecuteRequest, cost decimal.Decimal, errMsg string, durationMs int64) {
	if _, err := g.ledger.Refund(ctx, req.UserID, cost, req.RequestID, "Execution failed: "+req.OperationType); err != nil {
		g.log.Error(req.UserID, req.RequestID, "Refund failed after execution failure", map[string]interface{}{
			"error":    err.Error(),
			"cost_usd": cost.String(),
		})
	} else {
		promRefundsTotal.Inc()
	}

	if err := g.runs.MarkFailed(ctx, req.RequestID, errMsg, durationMs); err != nil {
		g.log.Error(req.UserID, req.RequestID, "Failed to record run failure", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (g *Gateway) internalError(req *ExecuteRequest, msg string, err error) *ExecuteOutcome {
	g.log.Error(req.UserID, req.RequestID, "Internal error in billing gate", map[string]interface{}{
		"stage": msg,
		"error": err.Error(),
	})
	promOperationsTotal.WithLabelValues("error").Inc()
	return &ExecuteOutcome{
		StatusCode: http.StatusInternalServerError,
		RequestID:  req.RequestID,
		Error:      msg,
	}
}
