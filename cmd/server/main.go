/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the shared-expense ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment
  2. Build the structured logger
  3. Initialize SQLite store and apply the optional card seed
  4. Create the authorization gate and the ledger service
  5. Configure HTTP router and start the settlement sweeper
  6. Start server with graceful shutdown

ENVIRONMENT:
  LEDGER_PORT              HTTP server port (default: 8080)
  LEDGER_DB_PATH           SQLite database path (default: ledger.db)
                           Use ":memory:" for in-memory database
  LEDGER_SEED_FILE         Optional YAML card seed
  LEDGER_AUTH_SECRET       HS256 secret for bearer tokens (required)
  LEDGER_SWEEP_INTERVAL    Background settlement interval (0 disables)
  See config/config.go for the full list.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (LEDGER_SHUTDOWN_TIMEOUT)
  3. Stop the sweeper
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/who-owes-who/api"
	"github.com/warp/who-owes-who/auth"
	"github.com/warp/who-owes-who/config"
	"github.com/warp/who-owes-who/ledger"
	"github.com/warp/who-owes-who/logging"
	"github.com/warp/who-owes-who/seed"
	"github.com/warp/who-owes-who/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	if cfg.Store.SeedFile != "" {
		cards, err := seed.Load(cfg.Store.SeedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(context.Background(), store, cards); err != nil {
			return err
		}
		logger.Info("cards seeded", "count", len(cards), "file", cfg.Store.SeedFile)
	}

	gate, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("initialize auth: %w", err)
	}

	service := ledger.NewService(store, ledger.Config{
		Retry: ledger.RetryPolicy{
			MaxAttempts: cfg.Settlement.MaxAttempts,
			Backoff:     ledger.DefaultRetryPolicy().Backoff,
		},
		Tolerance: cfg.Settlement.Tolerance,
	}, logger)

	handler := api.NewHandler(service, store, logger)
	router := api.NewRouter(handler, gate, api.RouterOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger,
	})

	sweeper := api.NewSettlementSweeper(service.Evaluator(), cfg.Settlement.SweepInterval, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.Store.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
