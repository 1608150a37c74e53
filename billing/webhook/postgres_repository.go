// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
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

// TryLock upserts the event into processing in a single statement. The
// conditional DO UPDATE only fires for failed events, so a completed or
// in-flight event yields zero affected rows and locked=false. A
// unique-violation from a simultaneous insert race is folded into the
// same "already processing" answer.
func (r *PostgresRepository) TryLock(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `
		INSERT INTO webhook_events (event_id, event_type, status, error, received_at)
		VALUES ($1, $2, $3, '', $4)
		ON CONFLICT (event_id) DO UPDATE
		SET status = $3, error = '', received_at = $4
		WHERE webhook_events.status = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		eventID, eventType, StatusProcessing, time.Now().UTC(), StatusFailed,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}

	return rows == 1, nil
}

// Get returns the event row for an event id
func (r *PostgresRepository) Get(ctx context.Context, eventID string) (*WebhookEvent, error) {
	query := `
		SELECT event_id, event_type, status, error, received_at, processed_at
		FROM webhook_events
		WHERE event_id = $1
	`

	var evt WebhookEvent
	var errMsg sql.NullString
	var processedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, eventID).Scan(
		&evt.EventID, &evt.EventType, &evt.Status, &errMsg, &evt.ReceivedAt, &processedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	evt.Error = errMsg.String
	if processedAt.Valid {
		evt.ProcessedAt = &processedAt.Time
	}

	return &evt, nil
}

// SetStatus moves a processing event to a terminal or retryable state
func (r *PostgresRepository) SetStatus(ctx context.Context, eventID string, status EventStatus, errMsg string) error {
	query := `
		UPDATE webhook_events
		SET status = $2, error = $3, processed_at = $4
		WHERE event_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, eventID, status, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set event status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrEventNotFound
	}

	return nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
