// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

// Package pricing is the cost-policy provider: a pure function from
// operation type and parameters to estimated USD cost. It has no side
// effects and is consulted before any deduction.
package pricing

import (
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// OperationPricing is the per-call base price of one operation type
type OperationPricing struct {
	BaseUSD decimal.Decimal `yaml:"base_usd" json:"base_usd"`
}

// Table holds the price list for all paid operation types. The "*" entry
// is the fallback for unknown operations.
type Table struct {
	mu         sync.RWMutex
	operations map[string]OperationPricing
}

// Default per-operation prices in USD
var defaultOperations = map[string]OperationPricing{
	"image_generation": {BaseUSD: decimal.RequireFromString("0.04")},
	"image_upscale":    {BaseUSD: decimal.RequireFromString("0.02")},
	"image_inpaint":    {BaseUSD: decimal.RequireFromString("0.05")},
	"video_generation": {BaseUSD: decimal.RequireFromString("0.50")},
	"audio_generation": {BaseUSD: decimal.RequireFromString("0.10")},
	"*":                {BaseUSD: decimal.RequireFromString("0.05")},
}

// NewTable creates a pricing table with default prices
func NewTable() *Table {
	ops := make(map[string]OperationPricing, len(defaultOperations))
	for k, v := range defaultOperations {
		ops[k] = v
	}
	return &Table{operations: ops}
}

// fileFormat is the YAML override file shape
type fileFormat struct {
	Operations map[string]struct {
		BaseUSD string `yaml:"base_usd"`
	} `yaml:"operations"`
}

// LoadFile overlays prices from a YAML file onto the defaults
func (t *Table) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pricing file: %w", err)
	}

	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse pricing file: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for op, p := range file.Operations {
		base, err := decimal.NewFromString(p.BaseUSD)
		if err != nil {
			return fmt.Errorf("invalid price for %s: %w", op, err)
		}
		t.operations[op] = OperationPricing{BaseUSD: base}
	}

	return nil
}

// Estimate returns the USD cost for one request. The count parameter
// multiplies the base price; everything else in params is ignored by the
// default policy.
func (t *Table) Estimate(operationType string, params map[string]interface{}) decimal.Decimal {
	t.mu.RLock()
	p, ok := t.operations[operationType]
	if !ok {
		p = t.operations["*"]
	}
	t.mu.RUnlock()

	count := int64(1)
	if raw, ok := params["count"]; ok {
		switch v := raw.(type) {
		case int:
			count = int64(v)
		case int64:
			count = v
		case float64:
			count = int64(v)
		}
		if count < 1 {
			count = 1
		}
	}

	return p.BaseUSD.Mul(decimal.NewFromInt(count))
}

// Operations returns a copy of the current price list
func (t *Table) Operations() map[string]OperationPricing {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]OperationPricing, len(t.operations))
	for k, v := range t.operations {
		out[k] = v
	}
	return out
}
