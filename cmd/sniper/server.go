package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
	"github.com/Prosniperv2/V2.0/internal/discovery"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
	"github.com/Prosniperv2/V2.0/internal/platform/worker"
	"github.com/Prosniperv2/V2.0/internal/strategy"
)

// statusServer serves health checks, bot status and metrics
type statusServer struct {
	limiter  *resilience.RateLimiter
	pool     *blockchain.ClientPool
	watcher  *blockchain.PairWatcher
	monitor  *discovery.Monitor
	workers  *worker.Pool
	sniper   *strategy.Sniper
	metrics  *observability.Metrics
	logger   *observability.Logger
	started  time.Time
	discover bool
}

type statusResponse struct {
	Uptime      string                    `json:"uptime"`
	Endpoints   map[string]bool           `json:"endpoints"`
	RateLimiter resilience.RateLimitState `json:"rate_limiter"`
	Discovery   discoveryStatus           `json:"discovery"`
	Strategy    strategy.Status           `json:"strategy"`
}

type discoveryStatus struct {
	Enabled   bool            `json:"enabled"`
	LastBlock uint64          `json:"last_block"`
	Counters  discovery.Stats `json:"counters"`
	Workers   worker.Stats    `json:"workers"`
}

func (s *statusServer) handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Readiness check: at least one RPC endpoint must be usable
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		healthy := s.pool.HealthyCount()
		if healthy == 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "healthy_endpoints": 0})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "healthy_endpoints": healthy})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Uptime:      time.Since(s.started).Round(time.Second).String(),
			Endpoints:   s.pool.EndpointStatus(),
			RateLimiter: s.limiter.State(),
			Discovery: discoveryStatus{
				Enabled:   s.discover,
				LastBlock: s.watcher.LastBlock(),
				Counters:  s.monitor.Stats(),
				Workers:   s.workers.Stats(),
			},
			Strategy: s.sniper.Status(),
		})
	})

	// Metrics endpoint
	mux.Handle("/metrics", s.metrics.Handler())

	return mux
}

// serve runs the HTTP server until ctx is done
func (s *statusServer) serve(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("HTTP server listening", slog.String("address", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
