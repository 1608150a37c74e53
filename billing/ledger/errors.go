// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import "errors"

var (
	// ErrTransactionNotFound is returned when no transaction matches a request id
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateRequestID is returned by the store when the unique
	// constraint on request_id rejects a transaction write. Callers treat
	// this as "already processed", never as a user-visible failure.
	ErrDuplicateRequestID = errors.New("duplicate request id")

	// ErrInvalidUserID is returned for an empty user id
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrInvalidAmount is returned for zero or negative amounts
	ErrInvalidAmount = errors.New("amount must be greater than 0")

	// ErrInvalidRequestID is returned for an empty idempotency key
	ErrInvalidRequestID = errors.New("invalid request id")
)
