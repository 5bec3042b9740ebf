package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

func TestMemoryRunRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) RunRepository {
		return NewMemoryRunRepository()
	})
}

func TestMemoryRunRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRunRepository()
	run := &domain.PipelineRun{ID: uuid.New()}
	require.NoError(t, repo.Create(ctx, run))

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	got.Status = domain.RunStatusCompleted
	got.Phases = append(got.Phases, domain.PhaseRecord{Name: "Search"})

	again, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPending, again.Status)
	assert.Empty(t, again.Phases)
}

func TestMemoryRunRepository_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRunRepository()
	run := &domain.PipelineRun{ID: uuid.New()}
	require.NoError(t, repo.Create(ctx, run))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.AppendPhase(ctx, run.ID, domain.PhaseRecord{Name: "Search", StartedAt: time.Now()}))
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, got.Phases, 20)
}
