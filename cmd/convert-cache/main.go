package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vertextoedge/convert-cache/internal/adapter/cdn"
	"github.com/vertextoedge/convert-cache/internal/adapter/filesystem"
	"github.com/vertextoedge/convert-cache/internal/adapter/sqlite"
	"github.com/vertextoedge/convert-cache/internal/config"
	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/domain/event"
	"github.com/vertextoedge/convert-cache/internal/logger"
	"github.com/vertextoedge/convert-cache/internal/service/cacher"
	"github.com/vertextoedge/convert-cache/internal/service/maintenance"
	"github.com/vertextoedge/convert-cache/internal/service/server"
	"go.uber.org/zap"
)

const version = "0.1.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var logFile *logger.FileOptions
	if cfg.Logging.FilePath != "" {
		logFile = &logger.FileOptions{
			Path:       cfg.Logging.FilePath,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		}
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting convert-cache",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// Storage usage estimator over the cache root
	estimator, err := filesystem.NewEstimator(cfg.Cache.RootDir)
	if err != nil {
		zapLogger.Fatal("failed to create storage estimator", zap.Error(err))
	}

	// Open database
	dbPath := cfg.GetDatabasePath()
	store, err := sqlite.OpenWithConfig(dbPath, &sqlite.Config{
		BusyTimeoutMs: cfg.Database.BusyTimeoutMs,
		CacheSizeMB:   cfg.Database.CacheSizeMB,
	})
	if err != nil {
		zapLogger.Fatal("failed to open database", zap.Error(err), zap.String("path", dbPath))
	}
	defer store.Close()

	// Domain events: logging and counters
	dispatcher := event.NewInMemoryDispatcher(false)
	metrics := event.NewMetricsHandler()
	dispatcher.Subscribe(event.NewLoggingHandler(zapLogger))
	dispatcher.Subscribe(metrics)

	// Create CDN client
	cdnClient := cdn.NewClient(dispatcher, &cdn.ClientConfig{
		BufferSizeMB:          cfg.Resources.GetBufferSize(),
		ProgressInterval:      cfg.Cache.GetProgressUpdateInterval(),
		ResponseHeaderTimeout: cfg.Resources.GetResponseHeaderTimeout(),
	})

	locator := domain.NewLocator(cfg.Resources.Host, cfg.Resources.DownloadBaseURL)

	// Create cacher
	cacherCfg := &cacher.Config{
		CacheName:              cfg.Cache.Name,
		MaterializeConcurrency: cfg.Cache.MaterializeConcurrency,
	}
	cacherService := cacher.New(cacherCfg, store, estimator, cdnClient, locator, dispatcher, zapLogger)

	// Create maintenance service
	maintenanceCfg := &maintenance.Config{
		PruneInterval:   cfg.Maintenance.GetInterval(),
		TaskStateMaxAge: cfg.Maintenance.GetTaskStateMaxAge(),
		StatsInterval:   cfg.Maintenance.GetStatsInterval(),
	}
	maintenanceService := maintenance.New(maintenanceCfg, cacherService, cacherService, zapLogger)

	// Create HTTP server
	serverCfg := &server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		AdminUsername: cfg.HTTP.AdminUsername,
		AdminPassword: cfg.HTTP.AdminPassword,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
	}
	httpServer := server.New(serverCfg, cacherService, store, locator, metrics, zapLogger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start HTTP server
	go func() {
		if err := httpServer.Start(); err != nil {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Start cacher
	cacherDone := make(chan struct{})
	go func() {
		defer close(cacherDone)
		if err := cacherService.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("cacher stopped with error", zap.Error(err))
		}
	}()

	// Start maintenance service
	maintenanceDone := make(chan struct{})
	go func() {
		defer close(maintenanceDone)
		if err := maintenanceService.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("resources_host", cfg.Resources.Host),
		zap.String("cache", cfg.Cache.Name),
	)
	<-sigChan

	zapLogger.Info("shutdown signal received, stopping services...")

	// Stop HTTP server first so no new tasks are accepted
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	// Cancel context to stop cacher and maintenance
	cancel()
	cacherService.Stop()
	maintenanceService.Stop()

	// In-flight tasks still write to the store, which is closed on return.
	for _, done := range []<-chan struct{}{cacherDone, maintenanceDone} {
		select {
		case <-done:
		case <-shutdownCtx.Done():
			zapLogger.Warn("timed out waiting for services to stop")
		}
	}

	zapLogger.Info("application stopped successfully")
}
