// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPExecutorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/execute" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		if payload["operation_type"] != "image_generation" {
			t.Errorf("operation_type = %v", payload["operation_type"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://cdn/img.png"}`))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, 5*time.Second)
	result, err := exec.Execute(context.Background(), &ExecuteRequest{
		RequestID:     "req-1",
		UserID:        "user-1",
		OperationType: "image_generation",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.Output) != `{"url":"https://cdn/img.png"}` {
		t.Errorf("output = %s", result.Output)
	}
}

func TestHTTPExecutorNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, 5*time.Second)
	if _, err := exec.Execute(context.Background(), &ExecuteRequest{RequestID: "req-1"}); err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestHTTPExecutorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, 20*time.Millisecond)
	if _, err := exec.Execute(context.Background(), &ExecuteRequest{RequestID: "req-1"}); err == nil {
		t.Fatal("expected timeout error")
	}
}
