// Package main provides the entry point for the bibliometric pipeline HTTP API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/auth"
	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/database"
	"github.com/helixir/bibliometric-pipeline/internal/events"
	"github.com/helixir/bibliometric-pipeline/internal/observability"
	"github.com/helixir/bibliometric-pipeline/internal/repository"
	"github.com/helixir/bibliometric-pipeline/internal/runner"
	httpserver "github.com/helixir/bibliometric-pipeline/internal/server/http"
	"github.com/helixir/bibliometric-pipeline/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("bibliometric-pipeline server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// Run history: PostgreSQL when enabled, otherwise memory.
	var (
		runRepo repository.RunRepository
		health  httpserver.HealthChecker
	)
	if cfg.Database.Enabled {
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info().Msg("database connection established")

		if cfg.Database.MigrationAutoRun {
			if err := migrateUp(db, cfg.Database.MigrationPath, logger); err != nil {
				return err
			}
		}
		runRepo = repository.NewPgRunRepository(db)
		health = db
	} else {
		logger.Warn().Msg("database disabled, run history is kept in memory")
		runRepo = repository.NewMemoryRunRepository()
	}

	// Accounts: Firebase identity plus Firestore or memory profiles.
	var store storage.Store
	if cfg.Firebase.Enabled {
		fs, err := storage.NewFirestoreStore(ctx, storage.FirestoreConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
		})
		if err != nil {
			return fmt.Errorf("connect to firestore: %w", err)
		}
		store = fs
	} else {
		logger.Warn().Msg("firebase disabled, user profiles are kept in memory")
		store = storage.NewMemoryStore()
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close user store")
		}
	}()
	identity := auth.New(auth.Config{
		APIKey:      cfg.Firebase.APIKey,
		IdentityURL: cfg.Firebase.IdentityURL,
		TokenURL:    cfg.Firebase.TokenURL,
		Timeout:     cfg.Firebase.Timeout,
	})
	accounts := storage.NewService(identity, store, logger)

	opts := runner.Options{
		Repo:       runRepo,
		Factory:    runner.NewPhaseFactoryBuilder(cfg, metrics, accounts),
		Recorder:   accounts,
		LogsDir:    cfg.Pipeline.LogsDir,
		WorkDir:    cfg.Pipeline.WorkDir,
		PandocPath: cfg.Pipeline.PandocPath,
		Logger:     logger,
		Metrics:    metrics,
	}
	if cfg.Kafka.Enabled {
		publisher, err := events.NewPublisher(kafkaConfig(cfg), logger)
		if err != nil {
			return fmt.Errorf("create event publisher: %w", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close event publisher")
			}
		}()
		opts.Events = publisher
	}
	manager, err := runner.NewManager(opts)
	if err != nil {
		return fmt.Errorf("create run manager: %w", err)
	}

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    0, // progress streams stay open for the whole run
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, manager, accounts, health, logger)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	errCh := make(chan error, 2)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("bibliometric-pipeline server is ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down bibliometric-pipeline server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int("active_runs", manager.Active()).Msg("runs still active at shutdown")
	}

	logger.Info().Msg("bibliometric-pipeline server shutdown complete")
	return nil
}

func migrateUp(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func kafkaConfig(cfg *config.Config) events.Config {
	return events.Config{
		Brokers:       cfg.Kafka.Brokers,
		EventsTopic:   cfg.Kafka.EventsTopic,
		RequestsTopic: cfg.Kafka.RequestsTopic,
		GroupID:       cfg.Kafka.GroupID,
		BatchTimeout:  cfg.Kafka.BatchTimeout,
	}
}
