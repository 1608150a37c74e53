// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository abstracts the durable store underneath the ledger. Two
// capabilities are required of any implementation: an atomic conditional
// numeric update ("subtract N iff balance >= N, in one round trip") and a
// uniqueness constraint on CreditTransaction.RequestID usable as an
// idempotency key.
type Repository interface {
	// GetOrCreateBalance returns the balance row for a user, creating a
	// zero-balance row if none exists (upsert-on-read).
	GetOrCreateBalance(ctx context.Context, userID string) (*CreditBalance, error)

	// ApplyDeduction decrements the balance only if balance >= amount and,
	// in the same store transaction, appends the transaction row. It
	// returns applied=false with the balance untouched when funds are
	// insufficient, and ErrDuplicateRequestID when the unique constraint
	// on request_id rejects the row.
	ApplyDeduction(ctx context.Context, userID string, amount decimal.Decimal, txn *CreditTransaction) (applied bool, balanceAfter decimal.Decimal, err error)

	// ApplyCredit increments the balance and appends the transaction row
	// as one atomic unit. Credits need no balance guard; they still
	// surface ErrDuplicateRequestID when the row carries a request id
	// that was already recorded.
	ApplyCredit(ctx context.Context, userID string, amount decimal.Decimal, txn *CreditTransaction) (balanceAfter decimal.Decimal, err error)

	// ApplyCreditLocked performs the same increment using an explicit row
	// lock plus application-level read (SELECT ... FOR UPDATE). More
	// expensive under contention than ApplyCredit; kept for grant paths
	// that want read-modify-write semantics.
	ApplyCreditLocked(ctx context.Context, userID string, amount decimal.Decimal, txn *CreditTransaction) (balanceAfter decimal.Decimal, err error)

	// GetTransactionByRequestID looks up the transaction recorded under an
	// idempotency key. Returns ErrTransactionNotFound when absent.
	GetTransactionByRequestID(ctx context.Context, requestID string) (*CreditTransaction, error)

	// ListTransactions returns the most recent transactions for a user
	ListTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)

	// SetPlan updates the subscription plan recorded on the balance row
	SetPlan(ctx context.Context, userID, plan string) error

	// Ping checks store connectivity
	Ping(ctx context.Context) error
}
