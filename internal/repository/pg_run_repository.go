package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// pgUniqueViolation is the PostgreSQL unique_violation error code.
const pgUniqueViolation = "23505"

const runColumns = `id, user_id, status, config, phases, success, error_message,
			created_at, started_at, completed_at`

// Compile-time interface verification.
var _ RunRepository = (*PgRunRepository)(nil)

// PgRunRepository is a PostgreSQL implementation of RunRepository.
type PgRunRepository struct {
	db  DBTX
	now func() time.Time
}

// NewPgRunRepository creates a PostgreSQL run repository.
func NewPgRunRepository(db DBTX) *PgRunRepository {
	return &PgRunRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create implements RunRepository.
func (r *PgRunRepository) Create(ctx context.Context, run *domain.PipelineRun) error {
	if err := prepareRun(run, r.now()); err != nil {
		return err
	}

	phasesJSON, err := json.Marshal(run.Phases)
	if err != nil {
		return fmt.Errorf("failed to marshal phases: %w", err)
	}

	query := `
		INSERT INTO pipeline_runs (
			id, user_id, status, config, phases, success, error_message,
			created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.Exec(ctx, query,
		run.ID, nullString(run.UserID), run.Status, []byte(run.Config), phasesJSON,
		run.Success, nullString(run.ErrorMessage),
		run.CreatedAt, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("run", run.ID.String())
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Get implements RunRepository.
func (r *PgRunRepository) Get(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("run", id.String())
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// MarkRunning implements RunRepository.
func (r *PgRunRepository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE pipeline_runs SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4`

	tag, err := r.db.Exec(ctx, query, domain.RunStatusRunning, startedAt, id, domain.RunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.rejectTransition(ctx, id, domain.RunStatusRunning)
	}
	return nil
}

// AppendPhase implements RunRepository.
func (r *PgRunRepository) AppendPhase(ctx context.Context, id uuid.UUID, phase domain.PhaseRecord) error {
	phaseJSON, err := json.Marshal([]domain.PhaseRecord{phase})
	if err != nil {
		return fmt.Errorf("failed to marshal phase: %w", err)
	}

	query := `UPDATE pipeline_runs SET phases = phases || $1::jsonb WHERE id = $2`

	tag, err := r.db.Exec(ctx, query, phaseJSON, id)
	if err != nil {
		return fmt.Errorf("failed to append phase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("run", id.String())
	}
	return nil
}

// Finish implements RunRepository.
func (r *PgRunRepository) Finish(ctx context.Context, id uuid.UUID, success bool, errMsg string, completedAt time.Time) error {
	status := finalStatus(success)
	query := `
		UPDATE pipeline_runs SET
			status = $1,
			success = $2,
			error_message = $3,
			completed_at = $4,
			started_at = COALESCE(started_at, $4)
		WHERE id = $5 AND status IN ($6, $7)`

	tag, err := r.db.Exec(ctx, query,
		status, success, nullString(errMsg), completedAt, id,
		domain.RunStatusPending, domain.RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.rejectTransition(ctx, id, status)
	}
	return nil
}

// rejectTransition explains why a guarded update matched no rows.
func (r *PgRunRepository) rejectTransition(ctx context.Context, id uuid.UUID, to domain.RunStatus) error {
	var current domain.RunStatus
	err := r.db.QueryRow(ctx, `SELECT status FROM pipeline_runs WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("run", id.String())
		}
		return fmt.Errorf("failed to load run status: %w", err)
	}
	return transitionError(id, current, to)
}

// List implements RunRepository.
func (r *PgRunRepository) List(ctx context.Context, filter domain.RunFilter) ([]*domain.PipelineRun, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, filter.UserID)
		argIndex++
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM pipeline_runs"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM pipeline_runs%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, runColumns, whereClause, argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, total, nil
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// scanRun scans one row produced by a runColumns select.
func scanRun(row pgx.Row) (*domain.PipelineRun, error) {
	var (
		run          domain.PipelineRun
		userID       *string
		errorMessage *string
		configJSON   []byte
		phasesJSON   []byte
	)
	err := row.Scan(
		&run.ID, &userID, &run.Status, &configJSON, &phasesJSON, &run.Success, &errorMessage,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return finalizeRun(&run, userID, errorMessage, configJSON, phasesJSON)
}

func finalizeRun(run *domain.PipelineRun, userID, errorMessage *string, configJSON, phasesJSON []byte) (*domain.PipelineRun, error) {
	if userID != nil {
		run.UserID = *userID
	}
	if errorMessage != nil {
		run.ErrorMessage = *errorMessage
	}
	if len(configJSON) > 0 {
		run.Config = append([]byte(nil), configJSON...)
	}
	run.Phases = []domain.PhaseRecord{}
	if len(phasesJSON) > 0 {
		if err := json.Unmarshal(phasesJSON, &run.Phases); err != nil {
			return nil, fmt.Errorf("failed to unmarshal phases: %w", err)
		}
	}
	return run, nil
}
