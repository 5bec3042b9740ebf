package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/bibliometric-pipeline/internal/config"
)

type mockDBTX struct{}

var _ DBTX = (*mockDBTX)(nil)

func (m *mockDBTX) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockDBTX) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockDBTX) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return nil
}

func TestHealthCheckTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, HealthCheckTimeout)
}

func TestNew_InvalidDSN(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:    "localhost",
		Port:    5432,
		Name:    "db",
		SSLMode: "not-a-mode",
	}

	db, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, db)
}

func TestNew_ConnectionError(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// 192.0.2.1 is TEST-NET-1 (RFC 5737), guaranteed unroutable.
	cfg := &config.DatabaseConfig{
		Host:           "192.0.2.1",
		Port:           5432,
		Name:           "testdb",
		User:           "user",
		Password:       "pass",
		SSLMode:        config.SSLModeDisable,
		MaxConns:       2,
		ConnectTimeout: time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	db, err := New(ctx, cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, db)
}

func TestDB_CloseNilPool(t *testing.T) {
	assert.NotPanics(t, func() {
		(&DB{}).Close()
	})
}

func TestDB_WithTransaction(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		var result int
		err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
			return tx.QueryRow(ctx, "SELECT 42").Scan(&result)
		})
		require.NoError(t, err)
		assert.Equal(t, 42, result)
	})

	t.Run("rollback returns fn error", func(t *testing.T) {
		expected := errors.New("intentional failure")
		err := db.WithTransaction(ctx, func(pgx.Tx) error { return expected })
		assert.Equal(t, expected, err)
	})

	t.Run("panic re-raised", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = db.WithTransaction(ctx, func(pgx.Tx) error { panic("boom") })
		})
	})

	t.Run("health", func(t *testing.T) {
		health := db.Health(ctx)
		assert.Equal(t, "healthy", health.Status)
		assert.GreaterOrEqual(t, health.MaxConns, int32(1))
	})
}

// setupTestDB connects to a local PostgreSQL or skips the test.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Host:           "localhost",
		Port:           5432,
		Name:           "bibliometric",
		User:           "biblio",
		Password:       "password",
		SSLMode:        config.SSLModeDisable,
		MaxConns:       5,
		ConnectTimeout: 5 * time.Second,
	}

	db, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
	}
	return db
}
