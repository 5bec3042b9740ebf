package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// Compile-time interface verification.
var _ RunRepository = (*MemoryRunRepository)(nil)

// MemoryRunRepository keeps runs in process memory. History is lost on exit.
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*domain.PipelineRun
	now  func() time.Time
}

// NewMemoryRunRepository creates an empty in-memory repository.
func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{
		runs: make(map[uuid.UUID]*domain.PipelineRun),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create implements RunRepository.
func (r *MemoryRunRepository) Create(_ context.Context, run *domain.PipelineRun) error {
	if err := prepareRun(run, r.now()); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; ok {
		return domain.NewAlreadyExistsError("run", run.ID.String())
	}
	r.runs[run.ID] = copyRun(run)
	return nil
}

// Get implements RunRepository.
func (r *MemoryRunRepository) Get(_ context.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, domain.NewNotFoundError("run", id.String())
	}
	return copyRun(run), nil
}

// MarkRunning implements RunRepository.
func (r *MemoryRunRepository) MarkRunning(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	return r.update(id, domain.RunStatusRunning, func(run *domain.PipelineRun) {
		t := startedAt
		run.StartedAt = &t
	})
}

// Finish implements RunRepository.
func (r *MemoryRunRepository) Finish(_ context.Context, id uuid.UUID, success bool, errMsg string, completedAt time.Time) error {
	return r.update(id, finalStatus(success), func(run *domain.PipelineRun) {
		t := completedAt
		run.Success = success
		run.ErrorMessage = errMsg
		run.CompletedAt = &t
		if run.StartedAt == nil {
			run.StartedAt = &t
		}
	})
}

func (r *MemoryRunRepository) update(id uuid.UUID, to domain.RunStatus, apply func(*domain.PipelineRun)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return domain.NewNotFoundError("run", id.String())
	}
	if !isValidRunTransition(run.Status, to) {
		return transitionError(id, run.Status, to)
	}
	run.Status = to
	apply(run)
	return nil
}

// AppendPhase implements RunRepository.
func (r *MemoryRunRepository) AppendPhase(_ context.Context, id uuid.UUID, phase domain.PhaseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return domain.NewNotFoundError("run", id.String())
	}
	run.Phases = append(run.Phases, phase)
	return nil
}

// List implements RunRepository.
func (r *MemoryRunRepository) List(_ context.Context, filter domain.RunFilter) ([]*domain.PipelineRun, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	r.mu.RLock()
	matched := make([]*domain.PipelineRun, 0, len(r.runs))
	for _, run := range r.runs {
		if matchesFilter(run, filter) {
			matched = append(matched, copyRun(run))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func matchesFilter(run *domain.PipelineRun, filter domain.RunFilter) bool {
	if filter.UserID != "" && run.UserID != filter.UserID {
		return false
	}
	if len(filter.Status) == 0 {
		return true
	}
	for _, s := range filter.Status {
		if run.Status == s {
			return true
		}
	}
	return false
}

func copyRun(run *domain.PipelineRun) *domain.PipelineRun {
	c := *run
	c.Config = append([]byte(nil), run.Config...)
	c.Phases = append([]domain.PhaseRecord{}, run.Phases...)
	if run.StartedAt != nil {
		t := *run.StartedAt
		c.StartedAt = &t
	}
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
