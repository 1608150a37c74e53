// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"context"
	"sync"
	"time"

	"creditgate/platform/shared/logger"
)

// Reconciler sweeps runs stuck in processing, for instance after a crash
// between deduction and settlement. Each stale run is refunded and marked
// failed; both actions are idempotent, so sweeping a run that settles
// concurrently is harmless.
type Reconciler struct {
	ledger   CreditLedger
	runs     RunStore
	interval time.Duration
	maxAge   time.Duration
	log      *logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewReconciler creates a reconciler sweeping every interval for
// processing runs older than maxAge
func NewReconciler(l CreditLedger, r RunStore, interval, maxAge time.Duration) *Reconciler {
	return &Reconciler{
		ledger:   l,
		runs:     r,
		interval: interval,
		maxAge:   maxAge,
		log:      logger.New("reconciler"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop
func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep(ctx)
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts the loop down and waits for the in-flight sweep to finish
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Sweep refunds and fails every stale processing run. It returns the
// number of runs settled.
func (r *Reconciler) Sweep(ctx context.Context) int {
	stale, err := r.runs.ListStaleProcessing(ctx, r.maxAge)
	if err != nil {
		r.log.Error("", "", "Failed to list stale runs", map[string]interface{}{
			"error": err.Error(),
		})
		return 0
	}

	swept := 0
	for i := range stale {
		run := &stale[i]

		if _, err := r.ledger.Refund(ctx, run.UserID, run.EstimatedCost, run.RequestID, "Reconciled stale run"); err != nil {
			r.log.Error(run.UserID, run.RequestID, "Failed to refund stale run", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		if err := r.runs.MarkFailed(ctx, run.RequestID, "operation timed out", 0); err != nil {
			r.log.Error(run.UserID, run.RequestID, "Failed to fail stale run", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		promReconcilerSweepsTotal.Inc()
		r.log.Info(run.UserID, run.RequestID, "Settled stale run", map[string]interface{}{
			"operation_type": run.OperationType,
			"cost_usd":       run.EstimatedCost.String(),
			"age":            time.Since(run.CreatedAt).String(),
		})
		swept++
	}

	return swept
}
