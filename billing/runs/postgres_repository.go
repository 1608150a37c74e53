// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert creates a processing run. ON CONFLICT DO NOTHING makes the
// uniqueness constraint the arbiter: zero rows affected means another
// creator already holds this request id.
func (r *PostgresRepository) Insert(ctx context.Context, run *OperationRun) (bool, error) {
	query := `
		INSERT INTO operation_runs (request_id, user_id, operation_type, estimated_cost, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		run.RequestID, run.UserID, run.OperationType, run.EstimatedCost,
		StatusProcessing, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}

	return rows == 1, nil
}

// Get returns the run for a request id
func (r *PostgresRepository) Get(ctx context.Context, requestID string) (*OperationRun, error) {
	query := `
		SELECT request_id, user_id, operation_type, estimated_cost, status,
		       output_result, error_message, duration_ms, created_at, completed_at
		FROM operation_runs
		WHERE request_id = $1
	`

	var run OperationRun
	var output []byte
	var errMsg sql.NullString
	var durationMs sql.NullInt64
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&run.RequestID, &run.UserID, &run.OperationType, &run.EstimatedCost,
		&run.Status, &output, &errMsg, &durationMs, &run.CreatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.OutputResult = output
	run.ErrorMessage = errMsg.String
	run.DurationMs = durationMs.Int64
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	return &run, nil
}

// MarkTerminal transitions a processing run to succeeded or failed. The
// WHERE guard on status makes a duplicate completion signal a no-op.
func (r *PostgresRepository) MarkTerminal(ctx context.Context, requestID string, status RunStatus, output json.RawMessage, errMsg string, durationMs int64) (bool, error) {
	query := `
		UPDATE operation_runs
		SET status = $2, output_result = $3, error_message = $4, duration_ms = $5, completed_at = $6
		WHERE request_id = $1 AND status = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		requestID, status, []byte(output), nullString(errMsg),
		durationMs, time.Now().UTC(), StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark run %s: %w", status, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}

	return rows == 1, nil
}

// ListStaleProcessing returns processing runs created before the cutoff
func (r *PostgresRepository) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]OperationRun, error) {
	query := `
		SELECT request_id, user_id, operation_type, estimated_cost, status,
		       output_result, error_message, duration_ms, created_at, completed_at
		FROM operation_runs
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, StatusProcessing, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale runs: %w", err)
	}
	defer rows.Close()

	var stale []OperationRun
	for rows.Next() {
		var run OperationRun
		var output []byte
		var errMsg sql.NullString
		var durationMs sql.NullInt64
		var completedAt sql.NullTime
		if err := rows.Scan(
			&run.RequestID, &run.UserID, &run.OperationType, &run.EstimatedCost,
			&run.Status, &output, &errMsg, &durationMs, &run.CreatedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.OutputResult = output
		run.ErrorMessage = errMsg.String
		run.DurationMs = durationMs.Int64
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		stale = append(stale, run)
	}

	return stale, rows.Err()
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
