// Package main provides the entry point for the ContentCraft pipeline server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maauso/contentcraft-pipeline/internal/bootstrap"
	"github.com/maauso/contentcraft-pipeline/internal/config"
	"github.com/maauso/contentcraft-pipeline/internal/scheduler"
	"github.com/maauso/contentcraft-pipeline/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting ContentCraft pipeline",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("job_store", cfg.JobStore),
		slog.String("event_bus", cfg.EventBus),
		slog.Int("drain_interval_sec", cfg.DrainIntervalSec),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)
	logger.Debug("effective configuration", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.Service, deps.Drainer, deps.Bus, deps.Admins, logger)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Authenticator:  deps.Authenticator,
		Admins:         deps.Admins,
		EventsToken:    cfg.EventsToken,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.GenerationTimeout() + 30*time.Second, // POST /events may run a generation inline
		IdleTimeout:  60 * time.Second,
	}

	drainCtx, stopDrain := context.WithCancel(context.Background())
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		scheduler.New("drainer", cfg.DrainInterval(), func(ctx context.Context) error {
			_, err := deps.Drainer.Drain(ctx)
			return err
		}, logger).Run(drainCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		stopDrain()
		<-drainDone
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	stopDrain()
	<-drainDone
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	// Let in-flight local deliveries finish before closing the job store.
	deps.Bus.Wait()

	logger.Info("server stopped gracefully")
	return nil
}
