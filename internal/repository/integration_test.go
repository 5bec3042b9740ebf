//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/bibliometric-pipeline/migrations"
)

// startPostgres runs a disposable PostgreSQL container with the schema applied.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("bibliometric_test"),
		tcpostgres.WithUsername("biblio"),
		tcpostgres.WithPassword("biblio"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrations failed: %v", err)
	}
	srcErr, dbErr := m.Close()
	require.NoError(t, errors.Join(srcErr, dbErr))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPgRunRepository_Integration(t *testing.T) {
	pool := startPostgres(t)

	runRepositoryContract(t, func(t *testing.T) RunRepository {
		_, err := pool.Exec(context.Background(), "TRUNCATE pipeline_runs")
		require.NoError(t, err)
		return NewPgRunRepository(pool)
	})
}

func TestPgRunRepository_IntegrationInTransaction(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	run := newTestRun()
	require.NoError(t, NewPgRunRepository(tx).Create(ctx, run))
	require.NoError(t, tx.Rollback(ctx))

	_, err = NewPgRunRepository(pool).Get(ctx, run.ID)
	require.Error(t, err)
	require.False(t, errors.Is(err, pgx.ErrNoRows), "repository maps missing rows to domain errors")
}
