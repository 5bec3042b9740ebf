// Package main provides the run history schema migration tool.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/database"
	"github.com/helixir/bibliometric-pipeline/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// migrateFunc performs one action against an open migrator.
type migrateFunc func(m *database.Migrator, logger zerolog.Logger) error

func newRootCmd() *cobra.Command {
	var migrationsPath string
	var embedded bool

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the PostgreSQL run history schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&migrationsPath, "path", "", "override the migrations directory")
	root.PersistentFlags().BoolVar(&embedded, "embedded", false, "use the migrations compiled into the binary")

	action := func(fn migrateFunc) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), migrationsPath, embedded, fn)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			Args:  cobra.NoArgs,
			RunE: action(func(m *database.Migrator, logger zerolog.Logger) error {
				if err := m.Up(); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: action(func(m *database.Migrator, logger zerolog.Logger) error {
				if err := m.Down(); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "steps N",
			Short: "Run N migration steps (positive=up, negative=down)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
				}
				return action(func(m *database.Migrator, logger zerolog.Logger) error {
					logger.Info().Int("steps", n).Msg("running migration steps")
					if err := m.Steps(n); err != nil {
						return fmt.Errorf("migrate steps: %w", err)
					}
					return nil
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current migration version",
			Args:  cobra.NoArgs,
			RunE: action(func(*database.Migrator, zerolog.Logger) error {
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Force set the migration version to recover from a failed migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 0 {
					return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
				}
				return action(func(m *database.Migrator, logger zerolog.Logger) error {
					logger.Warn().Int("version", v).Msg("forcing migration version")
					if err := m.Force(v); err != nil {
						return fmt.Errorf("force version: %w", err)
					}
					return nil
				})(cmd, args)
			},
		},
	)
	return root
}

// withMigrator connects to the configured database, runs fn and prints the
// resulting version.
func withMigrator(ctx context.Context, pathOverride string, embedded bool, fn migrateFunc) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if pathOverride != "" {
		migrationDir = pathOverride
	}
	if embedded {
		migrationDir = ""
	}

	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := database.New(connectCtx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := fn(migrator, logger); err != nil {
		return err
	}
	printVersion(migrator, logger)
	return nil
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
