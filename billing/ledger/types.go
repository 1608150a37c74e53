// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

// Package ledger owns credit balance semantics: balance checks, atomic
// deductions, refunds and credit grants, backed by an append-only
// transaction log.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a credit transaction
type TransactionType string

const (
	TxAPIUsage   TransactionType = "api_usage"
	TxRefund     TransactionType = "refund"
	TxPlanGrant  TransactionType = "plan_grant"
	TxPurchase   TransactionType = "purchase"
	TxAdjustment TransactionType = "adjustment"
)

// CreditBalance is the singleton per-user balance row. It is created
// lazily on first access and mutated only through Ledger operations.
type CreditBalance struct {
	UserID          string          `json:"user_id"`
	BalanceUSD      decimal.Decimal `json:"balance_usd"`
	Plan            string          `json:"plan,omitempty"`
	LastRefreshedAt time.Time       `json:"last_refreshed_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CreditTransaction is one row of the append-only audit log. RequestID is
// the idempotency key for billing-affecting operations; it is unique when
// present. BalanceAfter snapshots the balance at write time so replays can
// return the original outcome.
type CreditTransaction struct {
	ID           int64           `json:"id,omitempty"`
	UserID       string          `json:"user_id"`
	Type         TransactionType `json:"type"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	RequestID    string          `json:"request_id,omitempty"`
	RunID        string          `json:"run_id,omitempty"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at,omitempty"`
}

// BalanceCheck is the result of a read-only affordability check
type BalanceCheck struct {
	Allowed        bool            `json:"allowed"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	RemainingAfter decimal.Decimal `json:"remaining_after"`
}

// DeductResult is the outcome of an atomic deduction. AlreadyProcessed is
// set when the request id was seen before; BalanceAfter then carries the
// balance snapshot from the original deduction, not the current balance.
type DeductResult struct {
	Success          bool            `json:"success"`
	AlreadyProcessed bool            `json:"already_processed"`
	BalanceAfter     decimal.Decimal `json:"balance_after"`
	Reason           string          `json:"reason,omitempty"`
}

// RefundResult is the outcome of a compensating credit refund
type RefundResult struct {
	Refunded        bool            `json:"refunded"`
	AlreadyRefunded bool            `json:"already_refunded"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
}

// GrantResult is the outcome of a plan or purchase credit grant
type GrantResult struct {
	BalanceAfter decimal.Decimal `json:"balance_after"`
}
