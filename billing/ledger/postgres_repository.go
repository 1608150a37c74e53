// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetOrCreateBalance returns the balance row for a user, inserting a
// zero-balance row on first access
func (r *PostgresRepository) GetOrCreateBalance(ctx context.Context, userID string) (*CreditBalance, error) {
	now := time.Now().UTC()

	insert := `
		INSERT INTO credit_balances (user_id, balance_usd, plan, last_refreshed_at, created_at, updated_at)
		VALUES ($1, 0, 'free', $2, $2, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, insert, userID, now); err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	query := `
		SELECT user_id, balance_usd, plan, last_refreshed_at, created_at, updated_at
		FROM credit_balances
		WHERE user_id = $1
	`

	var bal CreditBalance
	var plan sql.NullString
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&bal.UserID, &bal.BalanceUSD, &plan,
		&bal.LastRefreshedAt, &bal.CreatedAt, &bal.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	bal.Plan = plan.String

	return &bal, nil
}

// ApplyDeduction performs the conditional decrement and transaction append
// in a single database transaction. The UPDATE's WHERE guard is the sole
// serialization point per user: zero rows affected means insufficient
// funds and nothing is written.
func (r *PostgresRepository) ApplyDeduction(ctx context.Context, userID string, amount decimal.Decimal, txn *CreditTransaction) (bool, decimal.Decimal, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	update := `
		UPDATE credit_balances
		SET balance_usd = balance_usd - $2, updated_at = $3
		WHERE user_id = $1 AND balance_usd >= $2
		RETURNING balance_usd
	`

	var balanceAfter decimal.Decimal
	err = tx.QueryRowContext(ctx, update, userID, amount, time.Now().UTC()).Scan(&balanceAfter)
	if err == sql.ErrNoRows {
		// Guard rejected: balance unchanged, no transaction row written
		return false, decimal.Zero, nil
	}
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("failed to apply deduction: %w", err)
	}

	if err := insertTransaction(ctx, tx, txn, balanceAfter); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			// A concurrent duplicate slipped past the caller's pre-check.
			// Rolling back undoes the decrement; the original transaction
			// row holds the authoritative balance_after.
			return false, decimal.Zero, ErrDuplicateRequestID
		}
		return false, decimal.Zero, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, decimal.Zero, fmt.Errorf("failed to commit deduction: %w", err)
	}

	return true, balanceAfter, nil
}

// ApplyCredit increments the balance and appends the transaction row in one
// database transaction. The increment is a single upsert so a missing
// balance row is created on the fly.
func (r *PostgresRepository) ApplyCredit(ctx context.Context, userID string, amount decimal.Decimal, txn *CreditTransaction) (decimal.Decimal, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	upsert := `
		INSERT INTO credit_balances (user_id, balance_usd, plan, last_refreshed_at, created_at, updated_at)
		VALUES ($1, $2, 'free', $3, $3, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET balance_usd = credit_balances.balance_usd + EXCLUDED.balance_usd, updated_at = $3
		RETURNING balance_usd
	`

	var balanceAfter decimal.Decimal
	if err := tx.QueryRowContext(ctx, upsert, userID, amount, now).Scan(&balanceAfter); err != nil {
		return decimal.Zero, fmt.Errorf("failed to apply credit: %w", err)
	}

	if err := insertTransaction(ctx, tx, txn, balanceAfter); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return decimal.Zero, ErrDuplicateRequestID
		}
		return decimal.Zero, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit credit: %w", err)
	}

	return balanceAfter, nil
}

// ApplyCreditLocked is the read-modify-write variant: it takes an explicit
// row lock, reads the balance, writes the new value, then appends the
// transaction row. Correct only because of the FOR UPDATE lock; kept for
// grant paths that want the balance in hand before writing.
func (r *PostgresRepository) ApplyCreditLocked(ctx context.Context, userID string, amount decimal.Decimal, txn *CreditTransaction) (decimal.Decimal, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	ensure := `
		INSERT INTO credit_balances (user_id, balance_usd, plan, last_refreshed_at, created_at, updated_at)
		VALUES ($1, 0, 'free', $2, $2, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, ensure, userID, now); err != nil {
		return decimal.Zero, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	var current decimal.Decimal
	lock := `SELECT balance_usd FROM credit_balances WHERE user_id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lock, userID).Scan(&current); err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock balance row: %w", err)
	}

	balanceAfter := current.Add(amount)
	update := `UPDATE credit_balances SET balance_usd = $2, last_refreshed_at = $3, updated_at = $3 WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, update, userID, balanceAfter, now); err != nil {
		return decimal.Zero, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := insertTransaction(ctx, tx, txn, balanceAfter); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return decimal.Zero, ErrDuplicateRequestID
		}
		return decimal.Zero, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit credit: %w", err)
	}

	return balanceAfter, nil
}

// insertTransaction appends one audit log row inside an open transaction
func insertTransaction(ctx context.Context, tx *sql.Tx, txn *CreditTransaction, balanceAfter decimal.Decimal) error {
	query := `
		INSERT INTO credit_transactions (user_id, type, amount_usd, balance_after, request_id, run_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.ExecContext(ctx, query,
		txn.UserID, txn.Type, txn.AmountUSD, balanceAfter,
		nullString(txn.RequestID), nullString(txn.RunID),
		txn.Description, time.Now().UTC(),
	)
	return err
}

// GetTransactionByRequestID looks up a transaction by its idempotency key
func (r *PostgresRepository) GetTransactionByRequestID(ctx context.Context, requestID string) (*CreditTransaction, error) {
	query := `
		SELECT id, user_id, type, amount_usd, balance_after, request_id, run_id, description, created_at
		FROM credit_transactions
		WHERE request_id = $1
	`

	var txn CreditTransaction
	var reqID, runID, description sql.NullString
	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&txn.ID, &txn.UserID, &txn.Type, &txn.AmountUSD, &txn.BalanceAfter,
		&reqID, &runID, &description, &txn.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	txn.RequestID = reqID.String
	txn.RunID = runID.String
	txn.Description = description.String

	return &txn, nil
}

// ListTransactions returns the most recent transactions for a user
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, type, amount_usd, balance_after, request_id, run_id, description, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []CreditTransaction
	for rows.Next() {
		var txn CreditTransaction
		var reqID, runID, description sql.NullString
		if err := rows.Scan(
			&txn.ID, &txn.UserID, &txn.Type, &txn.AmountUSD, &txn.BalanceAfter,
			&reqID, &runID, &description, &txn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.RequestID = reqID.String
		txn.RunID = runID.String
		txn.Description = description.String
		txns = append(txns, txn)
	}

	return txns, rows.Err()
}

// SetPlan updates the subscription plan on the balance row
func (r *PostgresRepository) SetPlan(ctx context.Context, userID, plan string) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO credit_balances (user_id, balance_usd, plan, last_refreshed_at, created_at, updated_at)
		VALUES ($1, 0, $2, $3, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET plan = $2, updated_at = $3
	`
	if _, err := r.db.ExecContext(ctx, query, userID, plan, now); err != nil {
		return fmt.Errorf("failed to set plan: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// nullString converts empty strings to NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
