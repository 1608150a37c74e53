// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Event type strings the billing provider delivers. Unknown types are
// acknowledged and ignored; they never reach business logic untyped.
const (
	EventPaymentSucceeded     = "payment.succeeded"
	EventSubscriptionRenewed  = "subscription.renewed"
	EventSubscriptionCanceled = "subscription.canceled"
)

// Envelope is the loosely-typed wire shape of a provider event. Signature
// verification happens upstream; only shape is validated here.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PaymentSucceeded is a one-time credit purchase notification
type PaymentSucceeded struct {
	UserID      string          `json:"user_id"`
	PaymentID   string          `json:"payment_id"`
	PackageName string          `json:"package"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
}

// SubscriptionRenewed is a recurring plan billing cycle notification
type SubscriptionRenewed struct {
	UserID    string          `json:"user_id"`
	Plan      string          `json:"plan"`
	CreditUSD decimal.Decimal `json:"credit_usd"`
}

// SubscriptionCanceled is a plan cancellation notification
type SubscriptionCanceled struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
}

// Decode validates the raw payload into the closed set of known event
// types. It returns a nil payload for valid envelopes of unknown type, and
// ErrInvalidEvent for payloads that fail shape validation.
func Decode(body []byte) (*Envelope, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, nil, fmt.Errorf("%w: missing id or type", ErrInvalidEvent)
	}

	switch env.Type {
	case EventPaymentSucceeded:
		var evt PaymentSucceeded
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		if evt.UserID == "" || evt.PaymentID == "" || evt.AmountUSD.LessThanOrEqual(decimal.Zero) {
			return nil, nil, fmt.Errorf("%w: incomplete payment.succeeded payload", ErrInvalidEvent)
		}
		return &env, &evt, nil

	case EventSubscriptionRenewed:
		var evt SubscriptionRenewed
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		if evt.UserID == "" || evt.Plan == "" || evt.CreditUSD.LessThanOrEqual(decimal.Zero) {
			return nil, nil, fmt.Errorf("%w: incomplete subscription.renewed payload", ErrInvalidEvent)
		}
		return &env, &evt, nil

	case EventSubscriptionCanceled:
		var evt SubscriptionCanceled
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		if evt.UserID == "" {
			return nil, nil, fmt.Errorf("%w: incomplete subscription.canceled payload", ErrInvalidEvent)
		}
		return &env, &evt, nil
	}

	// Valid envelope, unknown type
	return &env, nil, nil
}
