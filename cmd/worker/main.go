// Package main provides the entry point for the worker that executes runs
// queued on Kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/bibliometric-pipeline/internal/auth"
	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/database"
	"github.com/helixir/bibliometric-pipeline/internal/events"
	"github.com/helixir/bibliometric-pipeline/internal/observability"
	"github.com/helixir/bibliometric-pipeline/internal/repository"
	"github.com/helixir/bibliometric-pipeline/internal/runner"
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
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("kafka must be enabled (%s_KAFKA_ENABLED=true) to run the worker", config.EnvPrefix)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("bibliometric-pipeline worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer := &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	var runRepo repository.RunRepository
	if cfg.Database.Enabled {
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		runRepo = repository.NewPgRunRepository(db)
	} else {
		logger.Warn().Msg("database disabled, run history is kept in memory")
		runRepo = repository.NewMemoryRunRepository()
	}

	var store storage.Store = storage.NewMemoryStore()
	if cfg.Firebase.Enabled {
		fs, err := storage.NewFirestoreStore(ctx, storage.FirestoreConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
		})
		if err != nil {
			return fmt.Errorf("connect to firestore: %w", err)
		}
		store = fs
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close user store")
		}
	}()
	accounts := storage.NewService(auth.New(auth.Config{
		APIKey:      cfg.Firebase.APIKey,
		IdentityURL: cfg.Firebase.IdentityURL,
		TokenURL:    cfg.Firebase.TokenURL,
		Timeout:     cfg.Firebase.Timeout,
	}), store, logger)

	kafkaCfg := events.Config{
		Brokers:       cfg.Kafka.Brokers,
		EventsTopic:   cfg.Kafka.EventsTopic,
		RequestsTopic: cfg.Kafka.RequestsTopic,
		GroupID:       cfg.Kafka.GroupID,
		BatchTimeout:  cfg.Kafka.BatchTimeout,
	}
	publisher, err := events.NewPublisher(kafkaCfg, logger)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	manager, err := runner.NewManager(runner.Options{
		Repo:       runRepo,
		Factory:    runner.NewPhaseFactoryBuilder(cfg, metrics, accounts),
		Events:     publisher,
		Recorder:   accounts,
		LogsDir:    cfg.Pipeline.LogsDir,
		WorkDir:    cfg.Pipeline.WorkDir,
		PandocPath: cfg.Pipeline.PandocPath,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("create run manager: %w", err)
	}

	listener, err := events.NewListener(kafkaCfg, newRequestHandler(manager, logger), logger)
	if err != nil {
		return fmt.Errorf("create run listener: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close run listener")
		}
	}()

	logger.Info().
		Strs("brokers", kafkaCfg.Brokers).
		Str("topic", kafkaCfg.RequestsTopic).
		Str("group_id", kafkaCfg.GroupID).
		Msg("bibliometric-pipeline worker is ready")

	if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run listener: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("runs still active at shutdown")
	}

	logger.Info().Msg("bibliometric-pipeline worker shutdown complete")
	return nil
}
