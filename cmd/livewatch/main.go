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

	"github.com/joho/godotenv"

	"github.com/livewatch/livewatch/pkg/api"
	"github.com/livewatch/livewatch/pkg/config"
	"github.com/livewatch/livewatch/pkg/database"
	"github.com/livewatch/livewatch/pkg/events"
	"github.com/livewatch/livewatch/pkg/fetch/relay"
	"github.com/livewatch/livewatch/pkg/monitor"
	"github.com/livewatch/livewatch/pkg/scheduler"
	"github.com/livewatch/livewatch/pkg/storage"
	"github.com/livewatch/livewatch/pkg/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env if present. Missing file is fine in containerized deploys
	// where everything comes from the environment.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	logger := newLogger()
	slog.SetDefault(logger)
	logger.Info("Starting livewatch", "version", version.Full())

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database configuration: %w", err)
	}

	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("Failed to close database client", "error", err)
		}
	}()
	logger.Info("Database initialized successfully")

	clock := config.NewClock(cfg.DisplayLocation)
	store := storage.NewStore(dbClient.DB(), clock)

	publisher := events.NewPublisher(dbClient.DB())

	core := &monitor.Core{
		Clock:   clock,
		Config:  cfg.Monitor,
		Gateway: store,
		Bus:     publisher,
		Fetch:   relay.NewFactory(cfg.RelayBaseURL, logger),
		Logger:  logger,
	}

	manager := monitor.NewManager(core, cfg.ShutdownGrace)

	// Reset rooms left in monitoring state by an unclean exit and close
	// sessions their supervisors never ended.
	if err := manager.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile room state: %w", err)
	}

	connManager := events.NewConnectionManager(manager, 5*time.Second)
	listener := events.NewNotifyListener(dbClient.DSN(), connManager)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notify listener: %w", err)
	}
	connManager.SetListener(listener)

	sched := scheduler.NewService(cfg.Scheduler, cfg.Retention, clock, store, manager)
	sched.Start(ctx)

	server := api.NewServer(dbClient, store, manager, connManager, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("HTTP server failed", "error", err)
	}

	logger.Info("Shutting down")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
	defer shutdownCancel()
	manager.Shutdown(shutdownCtx)

	listener.Stop(shutdownCtx)

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
