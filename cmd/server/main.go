// Package main provides the API server entry point for the portfolio valuator.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-valuator/internal/api"
	"github.com/portfolio-valuator/internal/app"
	"github.com/portfolio-valuator/internal/config"
	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/worker"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 15 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	fmt.Println("Portfolio Valuator API Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{
		Cache:      true,
		History:    true,
		RegistryDB: cfg.Registry.FromDatabase,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	var refresher *worker.HistoryWorker
	if len(cfg.Engine.RefreshWallets) > 0 {
		refresher, err = worker.NewHistoryWorker(&worker.HistoryWorkerConfig{
			Engine:      a.Engine,
			Wallets:     cfg.Engine.RefreshWallets,
			Days:        cfg.Engine.HistoryDays,
			Concurrency: cfg.Engine.RefreshConcurrency,
			Logger:      logger,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create history worker")
		}
		if err := refresher.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start history worker")
		}
	}

	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ShutdownTimeout:   shutdownTimeout,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}, a.APIDependencies())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":     cfg.Server.Host,
		"port":     cfg.Server.Port,
		"registry": a.Registry.Version(),
	}).Info("Server started successfully")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.WithError(err).Error("Server failed")
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if refresher != nil {
		if err := refresher.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("History worker did not stop cleanly")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		a.Close()
		os.Exit(1)
	}
	logger.Info("Server exited")
}
