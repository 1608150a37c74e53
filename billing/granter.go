// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"context"

	"github.com/shopspring/decimal"

	"creditgate/platform/billing/ledger"
	"creditgate/platform/billing/webhook"
)

// ledgerGranter narrows the ledger to the plain-error surface the webhook
// processor drives
type ledgerGranter struct {
	ledger *ledger.Ledger
}

// NewLedgerGranter adapts a Ledger for use as the webhook credit granter
func NewLedgerGranter(l *ledger.Ledger) webhook.CreditGranter {
	return &ledgerGranter{ledger: l}
}

func (g *ledgerGranter) GrantPlanCredit(ctx context.Context, userID string, amount decimal.Decimal, planName string) error {
	_, err := g.ledger.GrantPlanCredit(ctx, userID, amount, planName)
	return err
}

func (g *ledgerGranter) AddPurchasedCredit(ctx context.Context, userID string, amount decimal.Decimal, externalPaymentID, packageName string) error {
	_, err := g.ledger.AddPurchasedCredit(ctx, userID, amount, externalPaymentID, packageName)
	return err
}

func (g *ledgerGranter) SetPlan(ctx context.Context, userID, plan string) error {
	return g.ledger.SetPlan(ctx, userID, plan)
}
