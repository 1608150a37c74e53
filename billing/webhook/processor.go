// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"creditgate/platform/shared/logger"
)

// CreditGranter is the slice of ledger behavior the processor drives.
// Grants carry no inline idempotency key; the gate in front of this
// interface is their deduplication layer.
type CreditGranter interface {
	GrantPlanCredit(ctx context.Context, userID string, amount decimal.Decimal, planName string) error
	AddPurchasedCredit(ctx context.Context, userID string, amount decimal.Decimal, externalPaymentID, packageName string) error
	SetPlan(ctx context.Context, userID, plan string) error
}

// ProcessResult reports what happened to one delivery
type ProcessResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Processed bool   `json:"processed"`
	Ignored   bool   `json:"ignored,omitempty"`
}

// Processor wires the gate in front of the credit-granting handlers
type Processor struct {
	gate    *Gate
	granter CreditGranter
	log     *logger.Logger
}

// NewProcessor creates a new webhook processor
func NewProcessor(gate *Gate, granter CreditGranter) *Processor {
	return &Processor{
		gate:    gate,
		granter: granter,
		log:     logger.New("webhook"),
	}
}

// Process handles one raw delivery end to end: decode, lock, dispatch,
// finalize. Duplicate deliveries and unknown event types return with
// Processed=false and no business effect.
func (p *Processor) Process(ctx context.Context, body []byte) (*ProcessResult, error) {
	env, evt, err := Decode(body)
	if err != nil {
		// Invalid events are rejected before the gate, never persisted
		return nil, err
	}

	if evt == nil {
		p.log.Info("", env.ID, "Acknowledging unknown webhook event type", map[string]interface{}{
			"event_type": env.Type,
		})
		return &ProcessResult{EventID: env.ID, EventType: env.Type, Ignored: true}, nil
	}

	lock, err := p.gate.CheckAndLock(ctx, env.ID, env.Type)
	if err != nil {
		return nil, err
	}
	if !lock.ShouldProcess {
		return &ProcessResult{EventID: env.ID, EventType: env.Type}, nil
	}

	if err := p.dispatch(ctx, evt); err != nil {
		if markErr := p.gate.MarkFailed(ctx, env.ID, err.Error()); markErr != nil {
			p.log.Error("", env.ID, "Failed to record webhook failure", map[string]interface{}{
				"error": markErr.Error(),
			})
		}
		return nil, fmt.Errorf("failed to process %s: %w", env.Type, err)
	}

	if err := p.gate.MarkCompleted(ctx, env.ID); err != nil {
		return nil, fmt.Errorf("handler succeeded but completion could not be recorded: %w", err)
	}

	return &ProcessResult{EventID: env.ID, EventType: env.Type, Processed: true}, nil
}

func (p *Processor) dispatch(ctx context.Context, evt interface{}) error {
	switch e := evt.(type) {
	case *PaymentSucceeded:
		return p.granter.AddPurchasedCredit(ctx, e.UserID, e.AmountUSD, e.PaymentID, e.PackageName)

	case *SubscriptionRenewed:
		// Plan first: re-running SetPlan on retry is a harmless overwrite,
		// re-running a grant after a partial failure is a double credit
		if err := p.granter.SetPlan(ctx, e.UserID, e.Plan); err != nil {
			return err
		}
		return p.granter.GrantPlanCredit(ctx, e.UserID, e.CreditUSD, e.Plan)

	case *SubscriptionCanceled:
		return p.granter.SetPlan(ctx, e.UserID, "free")

	default:
		return fmt.Errorf("unhandled event type %T", evt)
	}
}
