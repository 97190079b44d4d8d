package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/wishpay/service/config"
	"github.com/brojonat/wishpay/service/db"
	"github.com/brojonat/wishpay/service/metrics"
	natspkg "github.com/brojonat/wishpay/service/nats"
	"github.com/brojonat/wishpay/service/payment"
	"github.com/brojonat/wishpay/service/redis"
	"github.com/brojonat/wishpay/service/server"
	"github.com/brojonat/wishpay/service/solana"
	"github.com/brojonat/wishpay/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

// guardSweepInterval is how often expired in-memory signature claims are dropped.
const guardSweepInterval = time.Minute

func main() {
	// Fail fast on missing or invalid configuration
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.SolanaNetwork,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	if err := db.Migrate(ctx, dbPool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	metricsCollector := metrics.NewMetrics(prometheus.DefaultRegisterer)
	store := db.NewStore(dbPool, metricsCollector)

	splitCfg, err := cfg.Payment.SplitConfig()
	if err != nil {
		logger.Error("invalid payment configuration", "error", err)
		os.Exit(1)
	}
	rate := payment.NewRateCalculator(cfg.Payment.CreditsPerSOL)

	// Solana RPC client, spread across every configured endpoint
	rpcClient, err := solana.NewRPCClient(cfg.SolanaRPCURLs...)
	if err != nil {
		logger.Error("failed to create solana RPC client", "error", err)
		os.Exit(1)
	}
	retry := solana.DefaultRetryConfig
	retry.MaxAttempts = cfg.LedgerMaxAttempts
	retry.Timeout = cfg.LedgerTimeout
	ledger := solana.NewClient(rpcClient, solana.EndpointsLabel(cfg.SolanaRPCURLs), retry, metricsCollector, logger)
	logger.Info("initialized solana RPC client",
		"total_endpoints", len(cfg.SolanaRPCURLs),
		"max_attempts", retry.MaxAttempts,
		"timeout", retry.Timeout,
	)

	// Signature claims: always the in-process guard, plus Redis when shared
	// across replicas
	guard := payment.NewSignatureGuard(cfg.Payment.IdempotencyWindow, nil)
	var claimer payment.Claimer = guard
	if cfg.ClaimBackend == "redis" {
		redisClaims, err := redis.NewSignatureClaims(redis.Config{URL: cfg.RedisURL}, cfg.Payment.IdempotencyWindow)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClaims.Close()
		claimer = payment.NewTieredClaimer(guard, redisClaims)
		logger.Info("using redis signature claims")
	}

	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()

	natsSubscriber, err := natspkg.NewSubscriber(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create NATS subscriber", "error", err)
		os.Exit(1)
	}
	defer natsSubscriber.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	builder := payment.NewBuilder(ledger, splitCfg, rate, metricsCollector, logger)
	validator := payment.NewValidator(ledger, claimer, store, natsPublisher, rate, splitCfg, metricsCollector, logger)

	deps := server.Deps{
		Builder:       builder,
		Validator:     validator,
		Ledger:        ledger,
		Store:         store,
		Subscriber:    natsSubscriber,
		Rate:          rate,
		PublicBaseURL: cfg.PublicBaseURL,
		Metrics:       metricsCollector,
		Gatherer:      prometheus.DefaultGatherer,
		Logger:        logger,
	}

	// Settlement routes are only served when Temporal is reachable
	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Warn("temporal unavailable, settlement endpoints disabled",
			"host", cfg.TemporalHost,
			"error", err,
		)
	} else {
		defer temporalClient.Close()
		deps.Settler = temporalClient
		logger.Info("connected to temporal",
			"host", cfg.TemporalHost,
			"namespace", cfg.TemporalNamespace,
			"task_queue", cfg.TemporalTaskQueue,
		)
	}

	httpServer := server.New(cfg.ServerAddr, deps)

	go sweepGuard(ctx, guard, metricsCollector, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// sweepGuard periodically drops expired claims and reports the live count.
func sweepGuard(ctx context.Context, guard *payment.SignatureGuard, m *metrics.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(guardSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := guard.Sweep(); n > 0 {
				logger.DebugContext(ctx, "swept expired signature claims", "count", n)
			}
			m.SetActiveSignatureClaims(guard.Len())
		}
	}
}

// setupLogger creates a structured logger. format "text" gives colorized
// human-readable output; anything else is JSON.
func setupLogger(levelStr, format string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if format == "text" {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
