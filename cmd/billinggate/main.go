// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the CreditGate billing gate service.
//
// The billing gate sits in front of every paid media operation and:
// - Estimates the cost of each operation before any money moves
// - Atomically deducts prepaid credit, never allowing negative balances
// - Deduplicates retried requests by idempotency token
// - Refunds charges for operations that fail after deduction
// - Applies credit grants driven by provider webhook events
//
// Usage:
//
//	./billinggate
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string (required)
//	REDIS_URL - Redis connection string (optional)
//	MEDIA_ENGINE_ENDPOINT - upstream executor base URL
package main

import (
	"creditgate/platform/billing"
)

func main() {
	billing.Run()
}
