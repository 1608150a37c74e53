// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"creditgate/platform/billing/ledger"
	"creditgate/platform/billing/pricing"
	"creditgate/platform/billing/ratelimit"
	"creditgate/platform/billing/runs"
	"creditgate/platform/billing/webhook"
)

// Run is the exported entry point for the billing gate service.
//
// It connects to PostgreSQL, bootstraps the schema, wires the ledger, run
// store, webhook gate, rate limiter and gateway, and serves HTTP until
// SIGINT/SIGTERM.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8080)
//   - DATABASE_URL: PostgreSQL connection string (required)
//   - REDIS_URL: Redis connection string for the distributed rate limit tier (optional)
//   - MEDIA_ENGINE_ENDPOINT: upstream executor base URL (default: http://localhost:9090)
//   - EXECUTOR_TIMEOUT_SECONDS: per-call executor timeout (default: 120)
//   - RATE_LIMIT_PER_MINUTE: requests per user per minute (default: 60)
//   - PRICING_FILE: YAML price overrides (optional)
//   - RECONCILE_INTERVAL_SECONDS: reconciler sweep interval (default: 60)
//   - RECONCILE_STALE_MINUTES: age before a processing run is swept (default: 10)
func Run() {
	log.Println("Starting CreditGate billing gate...")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Database connected")

	if err := EnsureSchema(ctx, db); err != nil {
		log.Fatalf("Failed to bootstrap schema: %v", err)
	}
	log.Println("Schema bootstrap complete")

	// Ledger, run store, webhook gate
	creditLedger := ledger.New(ledger.NewPostgresRepository(db))
	runStore := runs.NewStore(runs.NewPostgresRepository(db))
	gate := webhook.NewGate(webhook.NewPostgresRepository(db))
	processor := webhook.NewProcessor(gate, NewLedgerGranter(creditLedger))

	// Pricing table with optional overrides
	priceTable := pricing.NewTable()
	if path := os.Getenv("PRICING_FILE"); path != "" {
		if err := priceTable.LoadFile(path); err != nil {
			log.Fatalf("Failed to load pricing file: %v", err)
		}
		log.Printf("Pricing overrides loaded from %s", path)
	}

	// Rate limit chain: local tier always, Redis tier when configured
	ratePerMinute := getEnvInt("RATE_LIMIT_PER_MINUTE", 60)
	chain := ratelimit.Chain{ratelimit.NewLocalLimiter(ratePerMinute, time.Minute)}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisLimiter, err := ratelimit.NewRedisLimiterFromURL(redisURL, ratePerMinute, time.Minute)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer func() { _ = redisLimiter.Close() }()
		chain = append(chain, redisLimiter)
		log.Println("Distributed rate limit tier enabled")
	} else {
		log.Println("REDIS_URL not set, using local rate limiting only")
	}

	// Executor
	executorTimeout := time.Duration(getEnvInt("EXECUTOR_TIMEOUT_SECONDS", 120)) * time.Second
	endpoint := getEnv("MEDIA_ENGINE_ENDPOINT", "http://localhost:9090")
	executor := NewHTTPExecutor(endpoint, executorTimeout)
	log.Printf("Media engine endpoint: %s (timeout %s)", endpoint, executorTimeout)

	gateway := NewGateway(creditLedger, runStore, chain, priceTable, executor)

	// Reconciler for runs orphaned between deduction and settlement
	reconciler := NewReconciler(
		creditLedger,
		runStore,
		time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 60))*time.Second,
		time.Duration(getEnvInt("RECONCILE_STALE_MINUTES", 10))*time.Minute,
	)
	reconciler.Start(ctx)
	defer reconciler.Stop()
	log.Println("Reconciler started")

	// HTTP surface
	handlers := NewHandlers(gateway, creditLedger, processor, map[string]func(ctx context.Context) bool{
		"ledger":       creditLedger.IsHealthy,
		"run_store":    runStore.IsHealthy,
		"webhook_gate": gate.IsHealthy,
	})

	r := mux.NewRouter()
	handlers.Routes(r)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	port := getEnv("PORT", "8080")
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("CreditGate billing gate listening on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	log.Println("CreditGate billing gate stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid value for %s: %v", key, err)
		}
		return parsed
	}
	return fallback
}
