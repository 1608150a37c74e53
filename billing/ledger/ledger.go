// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"creditgate/platform/shared/logger"
)

// refundKeyPrefix derives the idempotency key for a compensating refund
// from the request id of the deduction it reverses
const refundKeyPrefix = "refund:"

// Ledger provides balance checks, atomic deductions, refunds and credit
// grants on top of a Repository. Business outcomes (insufficient credit,
// already processed) are returned as typed results, never as errors.
type Ledger struct {
	repo Repository
	log  *logger.Logger
}

// New creates a new Ledger
func New(repo Repository) *Ledger {
	return &Ledger{
		repo: repo,
		log:  logger.New("ledger"),
	}
}

// CheckBalance is a read-only affordability check. It never mutates state.
func (l *Ledger) CheckBalance(ctx context.Context, userID string, cost decimal.Decimal) (*BalanceCheck, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	bal, err := l.repo.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check balance: %w", err)
	}

	return &BalanceCheck{
		Allowed:        bal.BalanceUSD.GreaterThanOrEqual(cost),
		CurrentBalance: bal.BalanceUSD,
		RemainingAfter: bal.BalanceUSD.Sub(cost),
	}, nil
}

// Deduct atomically charges a user for one logical attempt at a paid
// operation. Replaying the same request id returns the original
// balance_after with AlreadyProcessed set and performs no second
// deduction. A unique-constraint race during the transaction write is
// absorbed the same way; it is the backstop that keeps the operation
// idempotent under concurrent retries, not merely on the happy path.
func (l *Ledger) Deduct(ctx context.Context, userID string, cost decimal.Decimal, requestID, description string) (*DeductResult, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if requestID == "" {
		return nil, ErrInvalidRequestID
	}
	if cost.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	// Fast path: this request id was already charged
	if prev, err := l.repo.GetTransactionByRequestID(ctx, requestID); err == nil {
		return &DeductResult{Success: true, AlreadyProcessed: true, BalanceAfter: prev.BalanceAfter}, nil
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return nil, fmt.Errorf("failed to look up request id: %w", err)
	}

	// Ensure the balance row exists so the conditional update has a row
	// to match against
	bal, err := l.repo.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}

	txn := &CreditTransaction{
		UserID:      userID,
		Type:        TxAPIUsage,
		AmountUSD:   cost.Neg(),
		RequestID:   requestID,
		RunID:       requestID,
		Description: description,
	}

	applied, balanceAfter, err := l.repo.ApplyDeduction(ctx, userID, cost, txn)
	if errors.Is(err, ErrDuplicateRequestID) {
		// Concurrent duplicate won the race; its row is authoritative
		prev, lookupErr := l.repo.GetTransactionByRequestID(ctx, requestID)
		if lookupErr != nil {
			return nil, fmt.Errorf("duplicate request id but original transaction missing: %w", lookupErr)
		}
		return &DeductResult{Success: true, AlreadyProcessed: true, BalanceAfter: prev.BalanceAfter}, nil
	}
	if err != nil {
		return nil, err
	}

	if !applied {
		l.log.Info(userID, requestID, "Deduction rejected: insufficient credit", map[string]interface{}{
			"cost_usd":    cost.String(),
			"balance_usd": bal.BalanceUSD.String(),
		})
		return &DeductResult{Success: false, BalanceAfter: bal.BalanceUSD, Reason: "insufficient_credit"}, nil
	}

	l.log.Info(userID, requestID, "Credit deducted", map[string]interface{}{
		"cost_usd":      cost.String(),
		"balance_after": balanceAfter.String(),
	})

	return &DeductResult{Success: true, BalanceAfter: balanceAfter}, nil
}

// Refund issues the compensating credit for a failed attempt. The refund is
// keyed by a derived idempotency key so refunding the same attempt twice
// restores funds exactly once.
func (l *Ledger) Refund(ctx context.Context, userID string, amount decimal.Decimal, requestID, reason string) (*RefundResult, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if requestID == "" {
		return nil, ErrInvalidRequestID
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	refundKey := refundKeyPrefix + requestID

	if prev, err := l.repo.GetTransactionByRequestID(ctx, refundKey); err == nil {
		return &RefundResult{AlreadyRefunded: true, BalanceAfter: prev.BalanceAfter}, nil
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return nil, fmt.Errorf("failed to look up refund key: %w", err)
	}

	txn := &CreditTransaction{
		UserID:      userID,
		Type:        TxRefund,
		AmountUSD:   amount,
		RequestID:   refundKey,
		RunID:       requestID,
		Description: reason,
	}

	balanceAfter, err := l.repo.ApplyCredit(ctx, userID, amount, txn)
	if errors.Is(err, ErrDuplicateRequestID) {
		prev, lookupErr := l.repo.GetTransactionByRequestID(ctx, refundKey)
		if lookupErr != nil {
			return nil, fmt.Errorf("duplicate refund key but original transaction missing: %w", lookupErr)
		}
		return &RefundResult{AlreadyRefunded: true, BalanceAfter: prev.BalanceAfter}, nil
	}
	if err != nil {
		return nil, err
	}

	l.log.Info(userID, requestID, "Credit refunded", map[string]interface{}{
		"amount_usd":    amount.String(),
		"balance_after": balanceAfter.String(),
		"reason":        reason,
	})

	return &RefundResult{Refunded: true, BalanceAfter: balanceAfter}, nil
}

// GrantPlanCredit applies the recurring credit grant for a subscription
// plan. Deduplication of the provider event that drives this grant is the
// webhook gate's job, so no inline idempotency key is recorded here.
// This path uses the locked read-modify-write store primitive.
func (l *Ledger) GrantPlanCredit(ctx context.Context, userID string, amount decimal.Decimal, planName string) (*GrantResult, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	txn := &CreditTransaction{
		UserID:      userID,
		Type:        TxPlanGrant,
		AmountUSD:   amount,
		Description: fmt.Sprintf("Recurring credit grant for plan %s", planName),
	}

	balanceAfter, err := l.repo.ApplyCreditLocked(ctx, userID, amount, txn)
	if err != nil {
		return nil, fmt.Errorf("failed to grant plan credit: %w", err)
	}

	l.log.Info(userID, "", "Plan credit granted", map[string]interface{}{
		"plan":          planName,
		"amount_usd":    amount.String(),
		"balance_after": balanceAfter.String(),
	})

	return &GrantResult{BalanceAfter: balanceAfter}, nil
}

// AddPurchasedCredit applies a one-time credit purchase. The external
// payment id is recorded in the audit row; deduplication happens upstream
// at the webhook gate keyed by the provider event id.
func (l *Ledger) AddPurchasedCredit(ctx context.Context, userID string, amount decimal.Decimal, externalPaymentID, packageName string) (*GrantResult, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	txn := &CreditTransaction{
		UserID:      userID,
		Type:        TxPurchase,
		AmountUSD:   amount,
		Description: fmt.Sprintf("Credit purchase %s (payment %s)", packageName, externalPaymentID),
	}

	balanceAfter, err := l.repo.ApplyCredit(ctx, userID, amount, txn)
	if err != nil {
		return nil, fmt.Errorf("failed to add purchased credit: %w", err)
	}

	l.log.Info(userID, "", "Purchased credit added", map[string]interface{}{
		"package":       packageName,
		"payment_id":    externalPaymentID,
		"amount_usd":    amount.String(),
		"balance_after": balanceAfter.String(),
	})

	return &GrantResult{BalanceAfter: balanceAfter}, nil
}

// SetPlan records the user's current subscription plan
func (l *Ledger) SetPlan(ctx context.Context, userID, plan string) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	return l.repo.SetPlan(ctx, userID, plan)
}

// Transactions returns the most recent audit log entries for a user
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return l.repo.ListTransactions(ctx, userID, limit)
}

// Balance returns the current balance row for a user
func (l *Ledger) Balance(ctx context.Context, userID string) (*CreditBalance, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return l.repo.GetOrCreateBalance(ctx, userID)
}

// IsHealthy checks if the underlying store is reachable
func (l *Ledger) IsHealthy(ctx context.Context) bool {
	return l.repo.Ping(ctx) == nil
}
