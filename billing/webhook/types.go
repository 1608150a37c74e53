// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

// Package webhook provides at-most-once processing of inbound billing
// provider events. The provider delivers at-least-once; the gate keyed by
// the provider's event id supplies the missing at-most-once half.
package webhook

import (
	"errors"
	"time"
)

// EventStatus is the processing state of a webhook event
type EventStatus string

const (
	StatusProcessing EventStatus = "processing"
	StatusCompleted  EventStatus = "completed"
	StatusFailed     EventStatus = "failed"
)

// WebhookEvent is one row per inbound provider event. A failed event may
// be retried by re-entering processing; a completed event is permanently
// terminal.
type WebhookEvent struct {
	EventID     string      `json:"event_id"`
	EventType   string      `json:"event_type"`
	Status      EventStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	ReceivedAt  time.Time   `json:"received_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}

// LockResult is the outcome of CheckAndLock. When ShouldProcess is false
// the delivery must be acknowledged without running any business logic:
// duplicates are expected and must be cheap no-ops.
type LockResult struct {
	ShouldProcess bool          `json:"should_process"`
	Event         *WebhookEvent `json:"event,omitempty"`
}

var (
	// ErrEventNotFound is returned when no event matches an event id
	ErrEventNotFound = errors.New("webhook event not found")

	// ErrInvalidEvent is returned for events that fail shape validation.
	// Invalid events are rejected before the gate and never persisted.
	ErrInvalidEvent = errors.New("invalid webhook event")
)
