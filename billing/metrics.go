// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creditgate_operations_total",
			Help: "Total number of paid operations handled by the billing gate",
		},
		[]string{"status"},
	)
	promOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "creditgate_operation_duration_milliseconds",
			Help:    "End-to-end operation duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"operation_type"},
	)
	promDeductionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creditgate_deductions_total",
			Help: "Total number of credit deduction attempts",
		},
		[]string{"result"},
	)
	promRefundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "creditgate_refunds_total",
			Help: "Total number of compensating refunds issued",
		},
	)
	promRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "creditgate_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
	promWebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creditgate_webhook_events_total",
			Help: "Total number of provider webhook deliveries",
		},
		[]string{"event_type", "status"},
	)
	promReconcilerSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "creditgate_reconciler_sweeps_total",
			Help: "Total number of stale runs swept by the reconciler",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promOperationsTotal)
	prometheus.MustRegister(promOperationDuration)
	prometheus.MustRegister(promDeductionsTotal)
	prometheus.MustRegister(promRefundsTotal)
	prometheus.MustRegister(promRateLimitedTotal)
	prometheus.MustRegister(promWebhookEventsTotal)
	prometheus.MustRegister(promReconcilerSweepsTotal)
}
