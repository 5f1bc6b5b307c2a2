// Package main is the entry point for the probill API server.
//
// It loads configuration, connects the Postgres pool, wires the payment
// provider client and identity verifier into the handler graph, builds the
// HTTP server with the core chassis (middleware, routing, health checks), and
// starts listening for requests.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
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
	"time"

	"probill/internal/api/handlers"
	"probill/internal/auth"
	"probill/internal/billing"
	"probill/internal/config"
	"probill/internal/core"
	"probill/internal/db"
	"probill/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("probill API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	// Database pool.
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	subRepo := db.NewSubscriptionRepo(pool, logger)

	// Payment provider client and signature verifiers.
	providerClient := external.NewRazorpayClient(
		cfg.Provider.KeyID,
		cfg.Provider.KeySecret,
		cfg.Provider.PlanID,
		cfg.Provider.TotalCycles,
		logger,
	)

	// Webhook transition engine.
	engine := billing.NewEngine(subRepo, logger)

	// Identity token verifier for the auth middleware.
	verifier, err := auth.NewIdentityVerifier(ctx, cfg.Auth.IssuerURL, cfg.Auth.Audience, logger)
	if err != nil {
		return fmt.Errorf("initializing identity verifier: %w", err)
	}

	// Build the server.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = verifier
	srv.HealthProbes = append(srv.HealthProbes, db.NewPoolProbe(pool))

	// Wire the handlers.
	subHandler := handlers.NewSubscriptionHandler(
		providerClient,
		subRepo,
		external.HMACPaymentVerifier{},
		cfg.Provider.KeySecret,
		cfg.Provider.PlanName,
		cfg.Provider.PlanAmount,
		srv.Validator,
		logger,
	)
	webhookHandler := handlers.NewWebhookHandler(
		external.HMACWebhookVerifier{},
		engine,
		cfg.Provider.WebhookSecret,
		logger,
	)

	srv.RouteRegistrars = append(srv.RouteRegistrars,
		subHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
	)

	// Mount all routes (middleware chain + endpoints + health).
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
