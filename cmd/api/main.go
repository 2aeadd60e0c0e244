package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/capreport/capacityreport/internal/api"
	"github.com/capreport/capacityreport/internal/config"
	"github.com/capreport/capacityreport/internal/logger"
	"github.com/capreport/capacityreport/internal/repository"
	"github.com/capreport/capacityreport/internal/service"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLog := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "capacityreport",
		File:        cfg.Log.File,
		FileOnly:    cfg.Log.FileOnly,
		MaxSizeMB:   100,
		MaxBackups:  7,
		MaxAgeDays:  30,
		Compress:    true,
	})
	logger.SetDefaultLogger(appLog)
	defer logger.Sync()

	// Initialize stores
	configStore, err := repository.NewConfigStore(cfg.Paths.ConfigFile)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to load field-mapping configuration")
	}
	history, err := repository.NewHistoryStore(cfg.Paths.CacheDir)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize history store")
	}

	pool := repository.PoolConfig{
		MaxOpenConns:    cfg.Loader.MaxOpenConns,
		MaxIdleConns:    cfg.Loader.MaxIdleConns,
		ConnMaxLifetime: cfg.Loader.ConnMaxLifetime,
	}

	// Initialize coordinator
	coordinator := service.NewCoordinator(
		configStore,
		history,
		pool,
		cfg.Loader.BatchSize,
		cfg.Paths.ScriptFile,
		appLog,
	)

	// Setup router
	router := api.SetupRouter(cfg, configStore, history, coordinator, appLog)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLog.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Fatal("Server forced to shutdown")
	}

	appLog.Info("Server exited")
}
