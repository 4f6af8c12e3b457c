package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/foundation29org/dxgpt-bench-lab/internal/api"
	"github.com/foundation29org/dxgpt-bench-lab/internal/config"
	"github.com/foundation29org/dxgpt-bench-lab/internal/database"
	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
	"github.com/foundation29org/dxgpt-bench-lab/internal/repository"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cfg := configManager.GetConfig()
	if !cfg.Database.Enabled {
		log.Fatal("The report server requires database.enabled: true")
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := database.NewMigrationRunner(
		configManager.GetDatabaseConnectionString(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create migration runner")
	}
	if err := runner.Up(ctx); err != nil {
		runner.Close()
		logger.WithError(err).Fatal("Failed to apply results store migrations")
	}
	runner.Close()

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to results store")
	}
	defer db.Close()

	store := repository.NewRunRepository(db.Pool, logger)
	server := api.NewServer(cfg.Server, store, nil, cfg.Logging.Level, logger)

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting report server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Report server failed")
	}
	logger.Info("Report server stopped")
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	}
	return logger
}
