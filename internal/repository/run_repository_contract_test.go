package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// runRepositoryContract exercises behaviour every RunRepository shares.
// newRepo must return an empty repository.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) RunRepository) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		run := &domain.PipelineRun{
			ID:        uuid.New(),
			UserID:    "user-1",
			Config:    json.RawMessage(`{"search_query":"graph neural networks"}`),
			CreatedAt: base,
		}
		require.NoError(t, repo.Create(ctx, run))

		got, err := repo.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, domain.RunStatusPending, got.Status)
		assert.JSONEq(t, `{"search_query":"graph neural networks"}`, string(got.Config))
		assert.Empty(t, got.Phases)
		assert.True(t, base.Equal(got.CreatedAt))
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("duplicate create", func(t *testing.T) {
		repo := newRepo(t)
		run := &domain.PipelineRun{ID: uuid.New(), CreatedAt: base}
		require.NoError(t, repo.Create(ctx, run))

		dup := &domain.PipelineRun{ID: run.ID, CreatedAt: base}
		assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := newRepo(t).Get(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("full lifecycle", func(t *testing.T) {
		repo := newRepo(t)
		run := &domain.PipelineRun{ID: uuid.New(), CreatedAt: base}
		require.NoError(t, repo.Create(ctx, run))

		started := base.Add(time.Second)
		require.NoError(t, repo.MarkRunning(ctx, run.ID, started))

		phases := []domain.PhaseRecord{
			{Name: "Search", Success: true, StartedAt: started, Duration: 2 * time.Second},
			{Name: "Filter abstracts", Success: true, StartedAt: started.Add(2 * time.Second), Duration: time.Second},
		}
		for _, p := range phases {
			require.NoError(t, repo.AppendPhase(ctx, run.ID, p))
		}

		completed := base.Add(10 * time.Second)
		require.NoError(t, repo.Finish(ctx, run.ID, true, "", completed))

		got, err := repo.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCompleted, got.Status)
		assert.True(t, got.Success)
		assert.Empty(t, got.ErrorMessage)
		require.NotNil(t, got.StartedAt)
		require.NotNil(t, got.CompletedAt)
		assert.Equal(t, 9*time.Second, got.Duration())
		require.Len(t, got.Phases, 2)
		assert.Equal(t, "Search", got.Phases[0].Name)
		assert.Equal(t, "Filter abstracts", got.Phases[1].Name)
		assert.Equal(t, time.Second, got.Phases[1].Duration)
	})

	t.Run("failing a pending run sets started_at", func(t *testing.T) {
		repo := newRepo(t)
		run := &domain.PipelineRun{ID: uuid.New(), CreatedAt: base}
		require.NoError(t, repo.Create(ctx, run))

		completed := base.Add(time.Minute)
		require.NoError(t, repo.Finish(ctx, run.ID, false, "invalid configuration", completed))

		got, err := repo.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusFailed, got.Status)
		assert.False(t, got.Success)
		assert.Equal(t, "invalid configuration", got.ErrorMessage)
		require.NotNil(t, got.StartedAt)
		assert.True(t, completed.Equal(*got.StartedAt))
	})

	t.Run("terminal runs reject transitions", func(t *testing.T) {
		repo := newRepo(t)
		run := &domain.PipelineRun{ID: uuid.New(), CreatedAt: base}
		require.NoError(t, repo.Create(ctx, run))
		require.NoError(t, repo.MarkRunning(ctx, run.ID, base))
		require.NoError(t, repo.Finish(ctx, run.ID, true, "", base.Add(time.Second)))

		assert.ErrorIs(t, repo.MarkRunning(ctx, run.ID, base), domain.ErrInvalidInput)
		assert.ErrorIs(t, repo.Finish(ctx, run.ID, false, "late", base), domain.ErrInvalidInput)

		got, err := repo.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCompleted, got.Status)
	})

	t.Run("completing a pending run is rejected", func(t *testing.T) {
		repo := newRepo(t)
		run := &domain.PipelineRun{ID: uuid.New(), CreatedAt: base}
		require.NoError(t, repo.Create(ctx, run))
		assert.ErrorIs(t, repo.Finish(ctx, run.ID, true, "", base), domain.ErrInvalidInput)
	})

	t.Run("updates on missing run", func(t *testing.T) {
		repo := newRepo(t)
		id := uuid.New()
		assert.ErrorIs(t, repo.MarkRunning(ctx, id, base), domain.ErrNotFound)
		assert.ErrorIs(t, repo.Finish(ctx, id, true, "", base), domain.ErrNotFound)
		assert.ErrorIs(t, repo.AppendPhase(ctx, id, domain.PhaseRecord{Name: "Search"}), domain.ErrNotFound)
	})

	t.Run("list filters and paginates newest first", func(t *testing.T) {
		repo := newRepo(t)
		var ids []uuid.UUID
		for i := 0; i < 5; i++ {
			user := "alice"
			if i%2 == 1 {
				user = "bob"
			}
			run := &domain.PipelineRun{ID: uuid.New(), UserID: user, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
			require.NoError(t, repo.Create(ctx, run))
			ids = append(ids, run.ID)
		}
		require.NoError(t, repo.MarkRunning(ctx, ids[4], base))

		all, total, err := repo.List(ctx, domain.RunFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, all, 5)
		assert.Equal(t, ids[4], all[0].ID)
		assert.Equal(t, ids[0], all[4].ID)

		alice, total, err := repo.List(ctx, domain.RunFilter{UserID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		for _, r := range alice {
			assert.Equal(t, "alice", r.UserID)
		}

		page, total, err := repo.List(ctx, domain.RunFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, page, 2)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[1], page[1].ID)

		running, total, err := repo.List(ctx, domain.RunFilter{Status: []domain.RunStatus{domain.RunStatusRunning}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, running, 1)
		assert.Equal(t, ids[4], running[0].ID)

		beyond, total, err := repo.List(ctx, domain.RunFilter{Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		assert.Empty(t, beyond)
	})

	t.Run("list rejects negative limit", func(t *testing.T) {
		_, _, err := newRepo(t).List(ctx, domain.RunFilter{Limit: -1})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
