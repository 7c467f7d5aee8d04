package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"contentpipe/internal/breaker"
	"contentpipe/internal/ratelimit"
	pubconfig "contentpipe/pkg/config"
)

// HealthResponse represents a simple liveness probe response.
type HealthResponse struct {
	Status string `json:"status"`
}

// DependencyHealthResponse reports the circuit breaker state of every
// collaborator the worker depends on, used as the readiness probe.
type DependencyHealthResponse struct {
	Healthy      bool               `json:"healthy"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// DependencyStatus is one collaborator's breaker state.
type DependencyStatus struct {
	Name               string `json:"name"`
	CircuitBreakerOpen bool   `json:"circuit_breaker_open"`
}

// trackedDependencies lists every breaker.Dependency the worker wires
// up (spec.md §4 collaborators behind internal/breaker).
var trackedDependencies = []breaker.Dependency{
	breaker.DependencyCMS,
	breaker.DependencyObjectStore,
	breaker.DependencyTranscriber,
	breaker.DependencyEmbedder,
	breaker.DependencyFeedFetch,
	breaker.DependencyWebScraper,
	breaker.DependencyVideoChannelAPI,
	breaker.DependencyForumAPI,
	breaker.DependencyMicroblogAPI,
}

// readyFlag lets main mark the worker ready only once the runtime has
// started its pools.
type readyFlag struct {
	ready atomic.Bool
}

func (r *readyFlag) set(v bool) { r.ready.Store(v) }
func (r *readyFlag) get() bool  { return r.ready.Load() }

// startMetricsServer starts the Prometheus metrics and health HTTP
// server on WORKER_HEALTH_PORT / METRICS_PORT. It runs in a background
// goroutine and shuts down gracefully when ctx is cancelled.
//
// Endpoints:
//   - GET /metrics           Prometheus scrape target (default registerer)
//   - GET /metrics/ratelimit rate limiter's own isolated registry
//     (internal/ratelimit.PrometheusMetrics intentionally registers
//     against a private *prometheus.Registry rather than the default
//     one, so it needs its own handler to be scraped at all)
//   - GET /health            liveness probe, always 200
//   - GET /ready             readiness probe: 503 until ready is set and
//     while every tracked dependency's breaker is open
func startMetricsServer(ctx context.Context, logger *slog.Logger, port int, breakers *breaker.Registry, ready *readyFlag, rlMetrics *ratelimit.PrometheusMetrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/metrics/ratelimit", promhttp.HandlerFor(rlMetrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readinessHandler(breakers, ready))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", slog.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("metrics server shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", slog.Any("error", err))
		} else {
			logger.Info("metrics server stopped")
		}
	}()

	return server
}

// metricsPort reads METRICS_PORT, falling back to WORKER_HEALTH_PORT's
// already-validated value when unset or out of range.
func metricsPort(fallback int) int {
	port := pubconfig.GetEnvInt("METRICS_PORT", fallback)
	if port <= 0 || port > 65535 {
		return fallback
	}
	return port
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
}

// readinessHandler reports 503 until ready is set, and thereafter 503
// whenever every tracked dependency is simultaneously unavailable
// (a single open breaker degrades that adapter but shouldn't take the
// whole worker out of rotation).
func readinessHandler(breakers *breaker.Registry, ready *readyFlag) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps := make([]DependencyStatus, 0, len(trackedDependencies))
		openCount := 0
		for _, dep := range trackedDependencies {
			open := breakers.State(dep) == gobreaker.StateOpen
			if open {
				openCount++
			}
			deps = append(deps, DependencyStatus{Name: string(dep), CircuitBreakerOpen: open})
		}

		healthy := ready.get() && openCount < len(trackedDependencies)
		statusCode := http.StatusOK
		if !healthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(DependencyHealthResponse{Healthy: healthy, Dependencies: deps})
	}
}
