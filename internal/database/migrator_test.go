package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/bibliometric-pipeline/migrations"
)

func TestNewMigrator_Validation(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("fails with nil database", func(t *testing.T) {
		m, err := NewMigrator(nil, "", logger)
		assert.Nil(t, m)
		assert.ErrorContains(t, err, "database is required")
	})

	t.Run("fails with nil pool", func(t *testing.T) {
		m, err := NewMigrator(&DB{}, "", logger)
		assert.Nil(t, m)
		assert.ErrorContains(t, err, "database pool not initialized")
	})
}

func TestEmbeddedMigrations_Paired(t *testing.T) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs, "every up migration has a down migration")
}

func TestMigrator_UpDown(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	db := setupTestDB(t)
	defer db.Close()

	m, err := NewMigrator(db, "", zerolog.Nop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, m.Close()) }()

	require.NoError(t, m.Up())
	require.NoError(t, m.Up(), "second Up is a no-op")

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.GreaterOrEqual(t, version, uint(1))

	require.NoError(t, m.Steps(1), "stepping past the latest version is a no-op")
}
