// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Executor performs the actual paid operation after the gate has admitted
// and charged the request. The gate treats it as a black box: any error is
// a billable failure that triggers a refund.
type Executor interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecutorResult, error)
}

// ExecutorResult carries the raw output payload of a completed operation
type ExecutorResult struct {
	Output json.RawMessage `json:"output"`
}

// HTTPExecutor forwards operations to the media engine over HTTP
type HTTPExecutor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPExecutor creates an executor posting to the given endpoint with a
// per-call timeout
func NewHTTPExecutor(endpoint string, timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Execute posts the operation to the media engine and returns its response
// body as the run output
func (e *HTTPExecutor) Execute(ctx context.Context, req *ExecuteRequest) (*ExecutorResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"request_id":     req.RequestID,
		"operation_type": req.OperationType,
		"params":         req.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal executor request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/v1/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build executor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("media engine call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read media engine response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media engine returned status %d: %s", resp.StatusCode, string(body))
	}

	return &ExecutorResult{Output: body}, nil
}
