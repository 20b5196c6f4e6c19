package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelhq/solsync/service/assets"
	"github.com/kestrelhq/solsync/service/config"
	"github.com/kestrelhq/solsync/service/db"
	"github.com/kestrelhq/solsync/service/events"
	"github.com/kestrelhq/solsync/service/metrics"
	"github.com/kestrelhq/solsync/service/solana"
	"github.com/kestrelhq/solsync/service/temporal"
	"github.com/kestrelhq/solsync/service/txsync"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting sync worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Start metrics HTTP server
	metricsAddr := getEnvOrDefault("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Initialize the multi-network Solana RPC client
	chainClient := solana.NewClientFromEndpoints(map[string]string{
		string(txsync.NetworkMainnet): cfg.SolanaMainnetRPCURL,
		string(txsync.NetworkDevnet):  cfg.SolanaDevnetRPCURL,
	}, metricsCollector, logger)
	logger.Info("initialized solana RPC clients",
		"networks", cfg.ActiveNetworks,
	)

	// Initialize the assets service with a cached metadata resolver
	resolver := assets.NewRegistryResolver(cfg.TokenMetadataURL, logger)
	assetsService := assets.NewService(chainClient, resolver, 4096, time.Hour, logger)

	// Initialize NATS publisher
	publisher, err := events.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Initialize Temporal client for one-shot task scheduling
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	// Assemble the sync engine
	syncService := txsync.NewService(
		solana.NewChainAdapter(chainClient),
		assetsService,
		store,
		store,
		publisher,
		nil, // default heuristic spam classifier
		metricsCollector,
		logger,
	)
	coordinator := txsync.NewRefreshCoordinator(
		syncService,
		store,
		store,
		assetsService,
		temporalClient,
		nil, // no analytics sink configured
		cfg.RefreshInterval,
		metricsCollector,
		logger,
	)

	// Arm the refresh chain. The chain runs under a fixed workflow id, so
	// arming is a no-op whenever a chain already exists; restarts never
	// stack up extra chains.
	if err := coordinator.ScheduleRefreshAccounts(ctx); err != nil {
		logger.Error("failed to arm refresh chain", "error", err)
		os.Exit(1)
	}

	// Initialize Temporal worker
	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Coordinator:       coordinator,
		Sync:              syncService,
		Accounts:          store,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		worker.Stop()
		logger.Info("shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
