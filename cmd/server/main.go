/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the royalty statement server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, .env), then apply flags
  2. Initialize logger and metrics
  3. Initialize SQLite store (runs migrations)
  4. Choose the contract lock: Redis when REDIS_URL is set, in-process otherwise
  5. Wire service, batch runner, handler and router
  6. Start the draft scheduler when SCHEDULER_INTERVAL > 0
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides SERVER_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database
  -env     Optional .env file to load first

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections
  5. Exit

EXAMPLES:
  ./server -db="./data/royalty.db"
  LOG_FORMAT=console SCHEDULER_INTERVAL=1h ./server
  REDIS_URL=redis://localhost:6379/0 ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/rs/zerolog"

	"github.com/warp/royalty-engine/api"
	"github.com/warp/royalty-engine/config"
	"github.com/warp/royalty-engine/lock"
	"github.com/warp/royalty-engine/obs"
	"github.com/warp/royalty-engine/royalty"
	"github.com/warp/royalty-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides SERVER_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.LoadConfig(envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.ServerPort = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Contract lock
	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rl, err := lock.NewRedis(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rl.Close()
		locker = rl
		logger.Info().Msg("using redis contract lock")
	}

	metrics := obs.NewMetrics(cfg.MetricsNamespace, nil)
	service := royalty.NewService(store, logger, metrics)

	batch := api.NewBatchRunner(service, store, logger)
	batch.Locker = locker
	batch.LockTTL = cfg.LockTTL
	batch.Concurrency = cfg.BatchConcurrency
	batch.Metrics = metrics
	batch.Interval = cfg.SchedulerInterval
	batch.Tenant = royalty.TenantID(cfg.SchedulerTenant)

	handler := api.NewHandler(store, service, batch, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         logger,
		Metrics:        metrics,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	batch.Start()
	defer batch.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.ServerPort).Str("db", cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	batch.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}
