package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelhq/solsync/service/config"
	"github.com/kestrelhq/solsync/service/db"
	"github.com/kestrelhq/solsync/service/metrics"
	"github.com/kestrelhq/solsync/service/temporal"
	"github.com/kestrelhq/solsync/service/txsync"
)

// Server represents the HTTP API for the sync service.
type Server struct {
	addr           string
	cfg            *config.Config
	store          *db.Store
	scheduler      txsync.Scheduler
	temporalClient *temporal.Client
	metrics        *metrics.Metrics
	logger         *slog.Logger
	server         *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is used to kick off account syncs; the temporalClient is
// used for lifecycle event ingestion. The metrics is optional - if nil, the
// metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store *db.Store, scheduler txsync.Scheduler, temporalClient *temporal.Client, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:           addr,
		cfg:            cfg,
		store:          store,
		scheduler:      scheduler,
		temporalClient: temporalClient,
		metrics:        m,
		logger:         logger,
	}
}

// Start starts the HTTP server. It blocks until Shutdown is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Account routes
	mux.Handle("POST /api/v1/accounts", s.instrument("/api/v1/accounts",
		handleCreateAccount(s.store, s.scheduler, s.logger)))
	mux.Handle("GET /api/v1/accounts", s.instrument("/api/v1/accounts",
		handleListAccounts(s.store, s.logger)))
	mux.Handle("GET /api/v1/accounts/{id}", s.instrument("/api/v1/accounts/{id}",
		handleGetAccount(s.store, s.logger)))
	mux.Handle("DELETE /api/v1/accounts/{id}", s.instrument("/api/v1/accounts/{id}",
		handleDeleteAccount(s.store, s.logger)))

	// Transaction routes
	mux.Handle("GET /api/v1/accounts/{id}/transactions", s.instrument("/api/v1/accounts/{id}/transactions",
		handleListTransactions(s.store, s.logger)))
	mux.Handle("POST /api/v1/accounts/{id}/sync", s.instrument("/api/v1/accounts/{id}/sync",
		handleSyncAccount(s.store, s.scheduler, s.logger)))

	// Lifecycle event ingestion
	mux.Handle("POST /api/v1/events", s.instrument("/api/v1/events",
		handleLifecycleEvent(s.temporalClient, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// instrument wraps a handler with request metrics under a stable route label.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS
// preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
