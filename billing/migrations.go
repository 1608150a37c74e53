// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements create the billing tables. Every statement is
// idempotent so the bootstrap can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS credit_balances (
		user_id            VARCHAR(255) PRIMARY KEY,
		balance_usd        NUMERIC(12,4) NOT NULL DEFAULT 0,
		plan               VARCHAR(64) NOT NULL DEFAULT 'free',
		last_refreshed_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id            BIGSERIAL PRIMARY KEY,
		user_id       VARCHAR(255) NOT NULL,
		type          VARCHAR(32) NOT NULL,
		amount_usd    NUMERIC(12,4) NOT NULL,
		balance_after NUMERIC(12,4) NOT NULL,
		request_id    VARCHAR(512) UNIQUE,
		run_id        VARCHAR(512),
		description   TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user
		ON credit_transactions (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS operation_runs (
		request_id     VARCHAR(512) PRIMARY KEY,
		user_id        VARCHAR(255) NOT NULL,
		operation_type VARCHAR(64) NOT NULL,
		estimated_cost NUMERIC(12,4) NOT NULL,
		status         VARCHAR(16) NOT NULL,
		output_result  JSONB,
		error_message  TEXT NOT NULL DEFAULT '',
		duration_ms    BIGINT NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at   TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_operation_runs_stale
		ON operation_runs (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS webhook_events (
		event_id     VARCHAR(255) PRIMARY KEY,
		event_type   VARCHAR(64) NOT NULL,
		status       VARCHAR(16) NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		received_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	)`,
}

// EnsureSchema creates the billing tables if they do not exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
