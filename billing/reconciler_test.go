// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"creditgate/platform/billing/runs"
)

func staleRun(requestID string, cost string) runs.OperationRun {
	return runs.OperationRun{
		RequestID:     requestID,
		UserID:        "user-1",
		OperationType: "video_generation",
		EstimatedCost: decimal.RequireFromString(cost),
		Status:        runs.StatusProcessing,
		CreatedAt:     time.Now().UTC().Add(-30 * time.Minute),
	}
}

func TestSweepSettlesStaleRuns(t *testing.T) {
	l := newMockLedger("0.00")
	r := newMockRunStore()
	r.stale = []runs.OperationRun{
		staleRun("req-1", "0.50"),
		staleRun("req-2", "0.04"),
	}

	rec := NewReconciler(l, r, time.Minute, 10*time.Minute)

	swept := rec.Sweep(context.Background())
	if swept != 2 {
		t.Fatalf("swept = %d, want 2", swept)
	}
	if len(l.refunds) != 2 {
		t.Errorf("refunds = %v, want two", l.refunds)
	}
	if !l.balance.Equal(decimal.RequireFromString("0.54")) {
		t.Errorf("balance = %s, want 0.54", l.balance)
	}
	if len(r.failed) != 2 {
		t.Errorf("failed runs = %v, want two", r.failed)
	}
}

func TestSweepNothingStale(t *testing.T) {
	l := newMockLedger("0.00")
	r := newMockRunStore()

	rec := NewReconciler(l, r, time.Minute, 10*time.Minute)

	if swept := rec.Sweep(context.Background()); swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}
	if len(l.refunds) != 0 || len(r.failed) != 0 {
		t.Error("sweep mutated state with nothing stale")
	}
}

// A run is only failed after its refund lands; a refund error leaves the
// run in processing for the next sweep
func TestSweepRefundErrorLeavesRunForRetry(t *testing.T) {
	l := newMockLedger("0.00")
	l.refundErr = errors.New("store unavailable")
	r := newMockRunStore()
	r.stale = []runs.OperationRun{staleRun("req-1", "0.50")}

	rec := NewReconciler(l, r, time.Minute, 10*time.Minute)

	if swept := rec.Sweep(context.Background()); swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}
	if len(r.failed) != 0 {
		t.Error("run failed despite refund error")
	}
}

func TestReconcilerStartStop(t *testing.T) {
	l := newMockLedger("0.00")
	r := newMockRunStore()

	rec := NewReconciler(l, r, 5*time.Millisecond, 10*time.Minute)
	rec.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	rec.Stop()
}
