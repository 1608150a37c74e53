// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package webhook

import "context"

// Repository abstracts the durable store for webhook events. The
// uniqueness constraint on event_id is the cross-instance serialization
// point for deliveries of the same event.
type Repository interface {
	// TryLock atomically moves an event into processing. It succeeds for
	// brand-new events and for retries of previously failed events; it
	// returns locked=false when the event is already completed or
	// currently processing. A simultaneous delivery race resolves to one
	// winner through the store's uniqueness constraint.
	TryLock(ctx context.Context, eventID, eventType string) (locked bool, err error)

	// Get returns the event row, or ErrEventNotFound
	Get(ctx context.Context, eventID string) (*WebhookEvent, error)

	// SetStatus moves a processing event to completed or failed
	SetStatus(ctx context.Context, eventID string, status EventStatus, errMsg string) error

	// Ping checks store connectivity
	Ping(ctx context.Context) error
}
