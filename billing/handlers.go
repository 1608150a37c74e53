// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"creditgate/platform/billing/ledger"
	"creditgate/platform/billing/webhook"
)

// operationGateway is the gate surface the HTTP layer drives
type operationGateway interface {
	Execute(ctx context.Context, req *ExecuteRequest) *ExecuteOutcome
}

// ledgerReader is the read-only ledger surface exposed over HTTP
type ledgerReader interface {
	Balance(ctx context.Context, userID string) (*ledger.CreditBalance, error)
	Transactions(ctx context.Context, userID string, limit int) ([]ledger.CreditTransaction, error)
}

// webhookProcessor handles one raw provider delivery
type webhookProcessor interface {
	Process(ctx context.Context, body []byte) (*webhook.ProcessResult, error)
}

// Handlers is the HTTP layer of the billing gate. Identity comes from the
// X-User-ID header; authentication happens upstream.
type Handlers struct {
	gateway   operationGateway
	ledger    ledgerReader
	processor webhookProcessor
	health    map[string]func(ctx context.Context) bool
}

// NewHandlers creates the HTTP handler set
func NewHandlers(gateway operationGateway, ledgerReader ledgerReader, processor webhookProcessor, health map[string]func(ctx context.Context) bool) *Handlers {
	return &Handlers{
		gateway:   gateway,
		ledger:    ledgerReader,
		processor: processor,
		health:    health,
	}
}

// Routes registers all billing gate endpoints on the router
func (h *Handlers) Routes(r *mux.Router) {
	r.HandleFunc("/health", h.healthHandler).Methods("GET")
	r.HandleFunc("/api/v1/operations", h.executeOperationHandler).Methods("POST")
	r.HandleFunc("/api/v1/credits/balance", h.balanceHandler).Methods("GET")
	r.HandleFunc("/api/v1/credits/transactions", h.transactionsHandler).Methods("GET")
	r.HandleFunc("/api/v1/webhooks/billing", h.webhookHandler).Methods("POST")
}

func (h *Handlers) executeOperationHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		sendErrorResponse(w, "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.UserID = userID

	if req.OperationType == "" {
		sendErrorResponse(w, "operation_type is required", http.StatusBadRequest)
		return
	}

	// Idempotency token: body request_id wins, then the Idempotency-Key
	// header; generated as a last resort so a lost response is at worst a
	// charge the reconciler can see
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	outcome := h.gateway.Execute(r.Context(), &req)

	if outcome.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(outcome.RetryAfter.Seconds())+1))
	}
	writeJSON(w, outcome.StatusCode, outcome)
}

func (h *Handlers) balanceHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		sendErrorResponse(w, "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	bal, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		sendErrorResponse(w, "Failed to load balance: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, bal)
}

func (h *Handlers) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		sendErrorResponse(w, "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			sendErrorResponse(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	txns, err := h.ledger.Transactions(r.Context(), userID, limit)
	if err != nil {
		sendErrorResponse(w, "Failed to load transactions: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      userID,
		"transactions": txns,
	})
}

func (h *Handlers) webhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		sendErrorResponse(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	result, err := h.processor.Process(r.Context(), body)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidEvent) {
			sendErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Processing failed; the event stays retryable, the provider
		// redelivers on non-2xx
		promWebhookEventsTotal.WithLabelValues("unknown", "error").Inc()
		sendErrorResponse(w, "Webhook processing failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	status := "duplicate"
	switch {
	case result.Processed:
		status = "processed"
	case result.Ignored:
		status = "ignored"
	}
	promWebhookEventsTotal.WithLabelValues(result.EventType, status).Inc()

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) healthHandler(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]bool, len(h.health))
	healthy := true
	for name, check := range h.health {
		ok := check(r.Context())
		components[name] = ok
		if !ok {
			healthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"service":    "creditgate-billinggate",
		"version":    "1.0.0",
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": fmt.Sprintf("%d", status),
	})
}
