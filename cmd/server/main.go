package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/quizimport/internal/config"
	"github.com/JonMunkholm/quizimport/internal/core"
	_ "github.com/JonMunkholm/quizimport/internal/core/schemas" // Register record types
	"github.com/JonMunkholm/quizimport/internal/logging"
	"github.com/JonMunkholm/quizimport/internal/store/backend"
	"github.com/JonMunkholm/quizimport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	store, err := backend.Open(ctx, cfg.Database, slog.Default())
	if err != nil {
		slog.Error("failed to open record store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	for _, schema := range core.All() {
		slog.Debug("record type registered", "type", schema.Type, "table", schema.Table)
	}

	limiter := core.NewApplyLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)
	service := core.NewService(store, limiter, core.ServiceConfig{
		BatchSize:    cfg.Import.BatchSize,
		MaxFileSize:  cfg.Import.MaxFileSize,
		ApplyTimeout: cfg.Import.Timeout,
		SessionTTL:   cfg.Import.SessionTTL,
	})

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	service.StartJanitor(jobCtx, cfg.Import.JanitorInterval)

	server := web.NewServer(service, cfg, store)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Running applies finish against the still-open store.
		if status := limiter.Status(); status.Active > 0 {
			slog.Info("waiting for applies to complete", "active", status.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("applies did not complete in time", "error", err)
			} else {
				slog.Info("all applies completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		cancelJobs()
		_ = store.Close()
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
