package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

//go:embed sqlite_migrations/*.sql
var sqliteMigrations embed.FS

// MemoryDSN opens a private in-memory SQLite database.
const MemoryDSN = ":memory:"

// Compile-time interface verification.
var _ RunRepository = (*SQLiteRunRepository)(nil)

// SQLiteRunRepository keeps run history in a local SQLite file.
type SQLiteRunRepository struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. Use MemoryDSN for a throwaway database.
func OpenSQLite(path string) (*SQLiteRunRepository, error) {
	dsn := path
	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps in-memory databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	r := &SQLiteRunRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := r.migrate(sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return r, nil
}

// Close closes the database.
func (r *SQLiteRunRepository) Close() error {
	return r.db.Close()
}

// migrate applies every NNN_name.up.sql newer than the recorded version.
func (r *SQLiteRunRepository) migrate(fsys embed.FS) error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, "sqlite_migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, "sqlite_migrations/"+name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := r.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := r.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, formatTime(r.now())); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Create implements RunRepository.
func (r *SQLiteRunRepository) Create(ctx context.Context, run *domain.PipelineRun) error {
	if err := prepareRun(run, r.now()); err != nil {
		return err
	}
	phasesJSON, err := json.Marshal(run.Phases)
	if err != nil {
		return fmt.Errorf("failed to marshal phases: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (
			id, user_id, status, config, phases, success, error_message,
			created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), nullString(run.UserID), string(run.Status), string(run.Config), string(phasesJSON),
		run.Success, nullString(run.ErrorMessage),
		formatTime(run.CreatedAt), formatTimePtr(run.StartedAt), formatTimePtr(run.CompletedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.NewAlreadyExistsError("run", run.ID.String())
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Get implements RunRepository.
func (r *SQLiteRunRepository) Get(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, id.String())
	run, err := scanSQLiteRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("run", id.String())
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// MarkRunning implements RunRepository.
func (r *SQLiteRunRepository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	return r.transition(ctx, id, domain.RunStatusRunning, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE pipeline_runs SET status = ?, started_at = ? WHERE id = ?`,
			string(domain.RunStatusRunning), formatTime(startedAt), id.String())
		return err
	})
}

// Finish implements RunRepository.
func (r *SQLiteRunRepository) Finish(ctx context.Context, id uuid.UUID, success bool, errMsg string, completedAt time.Time) error {
	status := finalStatus(success)
	return r.transition(ctx, id, status, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE pipeline_runs SET status = ?, success = ?, error_message = ?,
				completed_at = ?, started_at = COALESCE(started_at, ?)
			WHERE id = ?`,
			string(status), success, nullString(errMsg),
			formatTime(completedAt), formatTime(completedAt), id.String())
		return err
	})
}

func (r *SQLiteRunRepository) transition(ctx context.Context, id uuid.UUID, to domain.RunStatus, apply func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM pipeline_runs WHERE id = ?`, id.String()).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewNotFoundError("run", id.String())
		}
		return fmt.Errorf("failed to load run status: %w", err)
	}
	if !isValidRunTransition(domain.RunStatus(current), to) {
		return transitionError(id, domain.RunStatus(current), to)
	}
	if err := apply(tx); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return tx.Commit()
}

// AppendPhase implements RunRepository.
func (r *SQLiteRunRepository) AppendPhase(ctx context.Context, id uuid.UUID, phase domain.PhaseRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT phases FROM pipeline_runs WHERE id = ?`, id.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewNotFoundError("run", id.String())
		}
		return fmt.Errorf("failed to load phases: %w", err)
	}

	var phases []domain.PhaseRecord
	if err := json.Unmarshal([]byte(raw), &phases); err != nil {
		return fmt.Errorf("failed to unmarshal phases: %w", err)
	}
	updated, err := json.Marshal(append(phases, phase))
	if err != nil {
		return fmt.Errorf("failed to marshal phases: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE pipeline_runs SET phases = ? WHERE id = ?`, string(updated), id.String()); err != nil {
		return fmt.Errorf("failed to append phase: %w", err)
	}
	return tx.Commit()
}

// List implements RunRepository.
func (r *SQLiteRunRepository) List(ctx context.Context, filter domain.RunFilter) ([]*domain.PipelineRun, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	var conditions []string
	var args []interface{}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pipeline_runs"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs` + whereClause +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.PipelineRun
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
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

type sqlScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteRun(row sqlScanner) (*domain.PipelineRun, error) {
	var (
		run                        domain.PipelineRun
		id, status, config, phases string
		createdAt                  string
		userID, errorMessage       sql.NullString
		startedAt, completedAt     sql.NullString
	)
	err := row.Scan(&id, &userID, &status, &config, &phases, &run.Success, &errorMessage,
		&createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	run.Status = domain.RunStatus(status)
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if run.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}

	var uid, msg *string
	if userID.Valid {
		uid = &userID.String
	}
	if errorMessage.Valid {
		msg = &errorMessage.String
	}
	return finalizeRun(&run, uid, msg, []byte(config), []byte(phases))
}

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
