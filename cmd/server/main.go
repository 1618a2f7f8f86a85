// Package main runs the order router: HTTP/websocket API, job queue,
// worker pool and order executor in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"solana-order-router/internal/api"
	"solana-order-router/internal/config"
	"solana-order-router/internal/dex"
	"solana-order-router/internal/executor"
	"solana-order-router/internal/live"
	"solana-order-router/internal/logging"
	"solana-order-router/internal/observability"
	"solana-order-router/internal/queue"
	"solana-order-router/internal/storage"
	chstore "solana-order-router/internal/storage/clickhouse"
	"solana-order-router/internal/storage/memory"
	"solana-order-router/internal/storage/migrations"
	pgstore "solana-order-router/internal/storage/postgres"
)

const (
	postgresConnectAttempts = 5
	postgresConnectDelay    = 2 * time.Second
)

// allStores holds the storage implementations.
type allStores struct {
	orderStore    storage.OrderStore
	decisionStore storage.RoutingDecisionStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override environment
	flag.StringVar(&cfg.Server.Addr, "addr", cfg.Server.Addr, "HTTP listen address")
	flag.StringVar(&cfg.Storage.PostgresDSN, "postgres-dsn", cfg.Storage.PostgresDSN, "PostgreSQL connection string")
	flag.StringVar(&cfg.Storage.ClickhouseDSN, "clickhouse-dsn", cfg.Storage.ClickhouseDSN, "ClickHouse connection string")
	flag.BoolVar(&cfg.Storage.UseMemory, "use-memory", cfg.Storage.UseMemory, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	flag.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format, "Log format (json, console)")
	flag.IntVar(&cfg.Workers.Concurrency, "concurrency", cfg.Workers.Concurrency, "Orders executed at once")
	flag.Parse()

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatalw("invalid configuration", "error", err)
	}
	logger.Infow("starting order router", "config", cfg.String())

	if err := run(cfg, logger); err != nil {
		logger.Fatalw("server error", "error", err)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	registry := live.NewRegistry(logger.Named("live"))
	router := dex.NewRouter(dex.WithLogger(logger.Named("dex")))
	exec := executor.New(router, registry, stores.orderStore,
		executor.WithDecisionStore(stores.decisionStore),
		executor.WithLogger(logger.Named("executor")),
	)

	q := queue.New(queue.Options{
		Retry: queue.RetryPolicy{
			Attempts:   cfg.Queue.Attempts,
			BaseDelay:  cfg.Queue.BackoffDelay,
			Multiplier: 2,
		},
		CompletedMaxCount: cfg.Queue.CompletedMaxCount,
		CompletedMaxAge:   cfg.Queue.CompletedMaxAge,
		FailedMaxAge:      cfg.Queue.FailedMaxAge,
		Logger:            logger.Named("queue"),
	})
	defer q.Close()
	observability.DefaultMetrics.RegisterQueueGauges(q.Counts)

	pool := queue.NewWorkerPool(q, queue.ExecutorHandler(exec), queue.PoolOptions{
		Concurrency:   cfg.Workers.Concurrency,
		LimiterMax:    cfg.Workers.LimiterMax,
		LimiterWindow: cfg.Workers.LimiterWindow,
		Logger:        logger.Named("pool"),
	})

	// Resume orders the previous process admitted but never finished
	requeued, err := q.Requeue(ctx, stores.orderStore)
	if err != nil {
		return fmt.Errorf("requeue unfinished orders: %w", err)
	}
	if requeued > 0 {
		logger.Infow("unfinished orders requeued", "count", requeued)
	}
	pool.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	apiServer := api.NewServer(stores.orderStore, q, registry, api.WithLogger(logger))
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Infow("received signal, initiating graceful shutdown", "signal", sig.String())
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	// Wait for second signal for immediate shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warnw("received second signal, forcing immediate shutdown", "signal", sig.String())
			os.Exit(1)
		case <-done:
		}
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("HTTP server shutdown", "error", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("worker pool shutdown timed out, in-flight orders returned to queue", "error", err)
	}
	cancel()

	return runErr
}

// createStores creates the order and routing decision stores.
func createStores(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*allStores, func(), error) {
	if cfg.Storage.UseMemory {
		logger.Info("using in-memory storage")
		stores := &allStores{
			orderStore:    memory.NewOrderStore(),
			decisionStore: memory.NewRoutingDecisionStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPoolWithRetry(ctx, cfg.Storage.PostgresDSN, postgresConnectAttempts, postgresConnectDelay, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	// ClickHouse
	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
	}

	stores := &allStores{
		orderStore:    pgstore.NewOrderStore(pool),
		decisionStore: chstore.NewRoutingDecisionStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}
