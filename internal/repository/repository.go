// Package repository persists pipeline run history.
//
// # Implementations
//
//   - PgRunRepository: PostgreSQL via pgx, used by the server and worker
//   - SQLiteRunRepository: a local database file, used by the command line
//   - MemoryRunRepository: process memory, used when no database is configured
//
// # Error Handling
//
// Methods return domain errors so callers can branch with errors.Is:
//
//   - domain.ErrNotFound: the run does not exist
//   - domain.ErrAlreadyExists: a run with the same ID exists
//   - domain.ErrInvalidInput: invalid arguments or a disallowed status transition
//
// # Transactions
//
// PgRunRepository accepts a DBTX so it can run on the pool or inside a
// transaction obtained from database.DB.WithTransaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    return repository.NewPgRunRepository(tx).Create(ctx, run)
//	})
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/bibliometric-pipeline/internal/database"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// RunRepository stores pipeline runs and their status transitions.
//
// Allowed transitions are pending -> running, pending -> failed and
// running -> completed|failed. Terminal runs never change.
type RunRepository interface {
	// Create inserts a new run. A zero status becomes pending.
	Create(ctx context.Context, run *domain.PipelineRun) error

	// Get returns a run by ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error)

	// MarkRunning moves a pending run to running.
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// AppendPhase records the outcome of one executed phase.
	AppendPhase(ctx context.Context, id uuid.UUID, phase domain.PhaseRecord) error

	// Finish moves a run to completed (success) or failed.
	Finish(ctx context.Context, id uuid.UUID, success bool, errMsg string, completedAt time.Time) error

	// List returns runs matching filter, newest first, with the total count
	// of matches ignoring pagination.
	List(ctx context.Context, filter domain.RunFilter) ([]*domain.PipelineRun, int64, error)
}

var validRunTransitions = map[domain.RunStatus][]domain.RunStatus{
	domain.RunStatusPending: {domain.RunStatusRunning, domain.RunStatusFailed},
	domain.RunStatusRunning: {domain.RunStatusCompleted, domain.RunStatusFailed},
}

func isValidRunTransition(from, to domain.RunStatus) bool {
	for _, s := range validRunTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transitionError(id uuid.UUID, from, to domain.RunStatus) error {
	return fmt.Errorf("run %s: invalid status transition from %s to %s: %w", id, from, to, domain.ErrInvalidInput)
}

func finalStatus(success bool) domain.RunStatus {
	if success {
		return domain.RunStatusCompleted
	}
	return domain.RunStatusFailed
}

// prepareRun validates a run about to be created and fills defaults.
func prepareRun(run *domain.PipelineRun, now time.Time) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}
	if run.ID == uuid.Nil {
		return domain.NewValidationError("id", "run ID is required")
	}
	if run.Status == "" {
		run.Status = domain.RunStatusPending
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if len(run.Config) == 0 {
		run.Config = []byte("{}")
	}
	if run.Phases == nil {
		run.Phases = []domain.PhaseRecord{}
	}
	return nil
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
