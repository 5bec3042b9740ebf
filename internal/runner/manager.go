// Package runner manages pipeline runs on behalf of the server, the worker
// and the command line: it records runs, executes them, persists their
// status transitions, publishes lifecycle events and fans progress out to
// subscribers.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/events"
	"github.com/helixir/bibliometric-pipeline/internal/observability"
	"github.com/helixir/bibliometric-pipeline/internal/phases"
	"github.com/helixir/bibliometric-pipeline/internal/pipeline"
	"github.com/helixir/bibliometric-pipeline/internal/repository"
	"github.com/helixir/bibliometric-pipeline/internal/runlog"
	"github.com/helixir/bibliometric-pipeline/internal/storage"
)

// Progress event types.
const (
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventError     = "error"
)

// persistTimeout bounds the bookkeeping done after a run, which must
// happen even when the run's context was cancelled.
const persistTimeout = 10 * time.Second

// ProgressEvent is one update of a run, delivered to subscribers.
type ProgressEvent struct {
	Type      string           `json:"type"`
	RunID     string           `json:"run_id"`
	Status    domain.RunStatus `json:"status"`
	Phase     string           `json:"phase,omitempty"`
	Progress  float64          `json:"progress"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

// IsTerminal reports whether no event follows this one.
func (e ProgressEvent) IsTerminal() bool {
	return e.Type == EventCompleted || e.Type == EventError
}

// EventPublisher publishes run lifecycle events.
type EventPublisher interface {
	RunStarted(ctx context.Context, runID uuid.UUID, userID string, phases []string) error
	PhaseCompleted(ctx context.Context, runID uuid.UUID, userID string, payload domain.RunPhaseCompletedPayload) error
	RunFinished(ctx context.Context, runID uuid.UUID, userID string, payload domain.RunFinishedPayload) error
}

var _ EventPublisher = (*events.Publisher)(nil)

// RunRecorder stores per-user run bookkeeping.
type RunRecorder interface {
	RecordRun(ctx context.Context, userID, runID string, params map[string]interface{}) error
	RecordResult(ctx context.Context, userID string, result domain.StoredResult) error
}

var _ RunRecorder = (*storage.Service)(nil)

// Options configures a Manager. Repo and Factory are required.
type Options struct {
	Repo    repository.RunRepository
	Factory PhaseFactoryBuilder

	// Events and Recorder are optional.
	Events   EventPublisher
	Recorder RunRecorder

	// LogsDir receives the run journal when WorkDir is empty.
	LogsDir string
	// WorkDir, when set, gives every run its own directory; relative output
	// paths and the journal are placed under WorkDir/<run id>.
	WorkDir string
	// PandocPath is used when a configuration leaves pandoc_path empty.
	PandocPath string

	// Observer, when set, sees every progress event of every run.
	Observer func(ProgressEvent)

	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Manager executes pipeline runs. One Executor is created per run.
type Manager struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[uuid.UUID]*broadcaster
}

// NewManager creates a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("run repository is required")
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("phase factory builder is required")
	}
	if opts.LogsDir == "" {
		opts.LogsDir = "logs"
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "runner").Logger(),
		now:    now,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[uuid.UUID]*broadcaster),
	}, nil
}

// SubmitOption adjusts a submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	domainTerms [][]string
}

// WithDomainTerms supplies the search terms of each domain in order. They
// are written to Domain1.csv, Domain2.csv and Domain3.csv in the run's
// directory and replace the configured domain files. The first two domains
// need at least one term; an empty third domain is left out.
func WithDomainTerms(domains ...[]string) SubmitOption {
	return func(o *submitOptions) {
		o.domainTerms = domains
	}
}

// Submit records a pending run and executes it in the background. The
// configuration is validated first so callers can reject bad input early.
func (m *Manager) Submit(ctx context.Context, userID string, cfg config.PipelineConfig, opts ...SubmitOption) (*domain.PipelineRun, error) {
	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}

	id := uuid.New()
	if so.domainTerms != nil {
		if err := m.writeDomainFiles(id, &cfg, so.domainTerms); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		m.removeRunDir(id)
		return nil, err
	}
	run, err := m.create(ctx, id, userID, &cfg)
	if err != nil {
		m.removeRunDir(id)
		return nil, err
	}

	b := m.track(run.ID)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(m.ctx, run, &cfg, b)
	}()
	return copyRun(run), nil
}

// RunSync records and executes a run on the caller's goroutine. Invalid
// configurations produce a failed run rather than an error.
func (m *Manager) RunSync(ctx context.Context, userID string, cfg config.PipelineConfig) (*domain.PipelineRun, error) {
	return m.RunQueued(ctx, uuid.New(), userID, cfg)
}

// RunQueued is RunSync with a caller-chosen run ID, used for requests
// that were queued with an ID already assigned. A run that already exists
// is not executed again.
func (m *Manager) RunQueued(ctx context.Context, runID uuid.UUID, userID string, cfg config.PipelineConfig) (*domain.PipelineRun, error) {
	run, err := m.create(ctx, runID, userID, &cfg)
	if err != nil {
		return nil, err
	}
	b := m.track(run.ID)
	m.execute(ctx, run, &cfg, b)
	return m.opts.Repo.Get(context.WithoutCancel(ctx), run.ID)
}

// Get returns a run by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	return m.opts.Repo.Get(ctx, id)
}

// List returns runs matching filter, newest first, and the total count.
func (m *Manager) List(ctx context.Context, filter domain.RunFilter) ([]*domain.PipelineRun, int64, error) {
	return m.opts.Repo.List(ctx, filter)
}

// Subscribe streams the progress of a run. For a run executing in this
// process the channel receives every following event and is closed after
// the terminal one. For any other known run it receives a single event
// describing the stored state and is closed. The returned func releases the
// subscription early.
func (m *Manager) Subscribe(ctx context.Context, id uuid.UUID) (<-chan ProgressEvent, func(), error) {
	m.mu.Lock()
	b, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		if ch, cancel, ok := b.subscribe(); ok {
			return ch, cancel, nil
		}
	}

	run, err := m.opts.Repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan ProgressEvent, 1)
	ch <- storedEvent(run, m.now())
	close(ch)
	return ch, func() {}, nil
}

// Active returns the number of runs executing in this process.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown cancels background runs and waits for them to record their
// outcome, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs to stop: %w", ctx.Err())
	}
}

func (m *Manager) create(ctx context.Context, id uuid.UUID, userID string, cfg *config.PipelineConfig) (*domain.PipelineRun, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding configuration: %w", err)
	}
	run := &domain.PipelineRun{
		ID:        id,
		UserID:    userID,
		Status:    domain.RunStatusPending,
		Config:    raw,
		CreatedAt: m.now(),
	}
	if err := m.opts.Repo.Create(ctx, run); err != nil {
		return nil, err
	}

	if m.opts.Recorder != nil && userID != "" {
		if err := m.opts.Recorder.RecordRun(ctx, userID, id.String(), searchParams(cfg)); err != nil {
			m.logger.Warn().Err(err).Str("run_id", id.String()).Msg("failed to record run for user")
		}
	}
	return run, nil
}

func (m *Manager) track(id uuid.UUID) *broadcaster {
	b := newBroadcaster(id.String(), m.opts.Observer)
	m.mu.Lock()
	m.active[id] = b
	m.mu.Unlock()
	return b
}

func (m *Manager) untrack(id uuid.UUID) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// execute runs one recorded run to completion and records the outcome.
func (m *Manager) execute(ctx context.Context, run *domain.PipelineRun, cfg *config.PipelineConfig, b *broadcaster) {
	defer m.untrack(run.ID)

	logger := observability.WithRunContext(m.logger, run.ID.String(), run.UserID)
	ctx = observability.WithRunID(ctx, run.ID.String())
	ctx = observability.WithLogger(ctx, logger)
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()

	startedAt := m.now()
	if err := m.opts.Repo.MarkRunning(ctx, run.ID, startedAt); err != nil {
		logger.Error().Err(err).Msg("failed to mark run running")
		m.fail(persistCtx, run, b, fmt.Errorf("starting run: %w", err))
		return
	}
	run.Status = domain.RunStatusRunning
	run.StartedAt = &startedAt

	summary, err := m.executePipeline(ctx, run, cfg, b, logger)
	if err != nil {
		m.fail(persistCtx, run, b, err)
		return
	}

	success := summary.Success
	if err := m.opts.Repo.Finish(persistCtx, run.ID, success, summary.Error, m.now()); err != nil {
		logger.Error().Err(err).Msg("failed to record run outcome")
	}
	m.publishFinished(persistCtx, run, summary, logger)
	m.recordResult(persistCtx, run, summary, logger)

	final := ProgressEvent{Type: EventCompleted, Status: domain.RunStatusCompleted, Progress: 1, Message: "Pipeline completed successfully"}
	if !success {
		final = ProgressEvent{Type: EventError, Status: domain.RunStatusFailed, Progress: 1, Message: "Pipeline failed: " + summary.Error}
	}
	final.Timestamp = m.now()
	b.finish(final)

	logger.Info().
		Bool("success", success).
		Dur("duration", summary.Duration).
		Strs("phases_executed", summary.PhasesExecuted).
		Msg("pipeline run finished")
}

// executePipeline sets up the run's journal, workspace and phases and runs
// the executor. Errors are setup failures; phase failures are reported in
// the summary.
func (m *Manager) executePipeline(ctx context.Context, run *domain.PipelineRun, cfg *config.PipelineConfig, b *broadcaster, logger zerolog.Logger) (pipeline.ExecutionSummary, error) {
	logsDir := m.opts.LogsDir
	if m.opts.WorkDir != "" {
		runDir := m.runDir(run.ID)
		rebase(cfg, runDir)
		logsDir = filepath.Join(runDir, "logs")
	}
	if cfg.PandocPath == "" {
		cfg.PandocPath = m.opts.PandocPath
	}

	journal, err := runlog.New(logsDir, runlog.WithLogger(logger))
	if err != nil {
		return pipeline.ExecutionSummary{}, fmt.Errorf("opening run journal: %w", err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close run journal")
		}
	}()
	journal.SetContext(run.UserID, "pipeline")

	ws, err := phases.NewWorkspace(cfg.OutputDir)
	if err != nil {
		return pipeline.ExecutionSummary{}, err
	}
	factory, err := m.opts.Factory(ctx, run.UserID, cfg, ws, logger)
	if err != nil {
		return pipeline.ExecutionSummary{}, fmt.Errorf("preparing phases: %w", err)
	}

	kinds := pipeline.SelectKinds(cfg)
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.String())
	}
	if m.opts.Events != nil {
		if err := m.opts.Events.RunStarted(ctx, run.ID, run.UserID, names); err != nil {
			logger.Warn().Err(err).Msg("failed to publish run started")
		}
	}

	observed := &observedFactory{
		inner: factory,
		total: len(kinds),
		now:   m.now,
		onDone: func(rec domain.PhaseRecord, index, total int) {
			m.phaseDone(ctx, run, rec, index, total, logger)
		},
	}

	executor := pipeline.NewExecutor(cfg, observed, journal,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m.opts.Metrics),
		pipeline.WithProgress(func(phase string, fraction float64, message string) {
			b.publish(ProgressEvent{
				Type:      EventProgress,
				Status:    domain.RunStatusRunning,
				Phase:     phase,
				Progress:  fraction,
				Message:   message,
				Timestamp: m.now(),
			})
		}),
	)
	executor.Execute(ctx)

	summary, err := executor.ExecutionSummary()
	if err != nil {
		return pipeline.ExecutionSummary{}, err
	}
	return summary, nil
}

func (m *Manager) phaseDone(ctx context.Context, run *domain.PipelineRun, rec domain.PhaseRecord, index, total int, logger zerolog.Logger) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := m.opts.Repo.AppendPhase(persistCtx, run.ID, rec); err != nil {
		logger.Warn().Err(err).Str("phase", rec.Name).Msg("failed to record phase")
	}
	if m.opts.Events == nil {
		return
	}
	progress := 0.0
	if total > 0 {
		progress = float64(index) / float64(total)
	}
	err := m.opts.Events.PhaseCompleted(persistCtx, run.ID, run.UserID, domain.RunPhaseCompletedPayload{
		Phase:    rec,
		Index:    index,
		Total:    total,
		Progress: progress,
	})
	if err != nil {
		logger.Warn().Err(err).Str("phase", rec.Name).Msg("failed to publish phase completed")
	}
}

// fail records a run that could not be executed at all.
func (m *Manager) fail(ctx context.Context, run *domain.PipelineRun, b *broadcaster, cause error) {
	logger := observability.WithRunContext(m.logger, run.ID.String(), run.UserID)
	logger.Error().Err(cause).Msg("pipeline run failed before execution")

	if err := m.opts.Repo.Finish(ctx, run.ID, false, cause.Error(), m.now()); err != nil && !errors.Is(err, domain.ErrInvalidInput) {
		logger.Error().Err(err).Msg("failed to record run failure")
	}
	if m.opts.Events != nil {
		err := m.opts.Events.RunFinished(ctx, run.ID, run.UserID, domain.RunFinishedPayload{
			Status: domain.RunStatusFailed,
			Error:  cause.Error(),
		})
		if err != nil {
			logger.Warn().Err(err).Msg("failed to publish run failed")
		}
	}
	b.finish(ProgressEvent{
		Type:      EventError,
		Status:    domain.RunStatusFailed,
		Progress:  1,
		Message:   "Error: " + cause.Error(),
		Timestamp: m.now(),
	})
}

func (m *Manager) publishFinished(ctx context.Context, run *domain.PipelineRun, summary pipeline.ExecutionSummary, logger zerolog.Logger) {
	if m.opts.Events == nil {
		return
	}
	status := domain.RunStatusFailed
	if summary.Success {
		status = domain.RunStatusCompleted
	}
	err := m.opts.Events.RunFinished(ctx, run.ID, run.UserID, domain.RunFinishedPayload{
		Status:         status,
		PhasesExecuted: summary.PhasesExecuted,
		Error:          summary.Error,
		Duration:       summary.Duration,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to publish run finished")
	}
}

func (m *Manager) recordResult(ctx context.Context, run *domain.PipelineRun, summary pipeline.ExecutionSummary, logger zerolog.Logger) {
	if m.opts.Recorder == nil || run.UserID == "" {
		return
	}
	doc, err := toMap(summary.Results)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to encode run results")
		return
	}
	if summary.Error != "" {
		doc["error"] = summary.Error
	}
	doc["duration_seconds"] = summary.Duration.Seconds()

	err = m.opts.Recorder.RecordResult(ctx, run.UserID, domain.StoredResult{
		Name:      "run_" + run.ID.String(),
		RunID:     run.ID.String(),
		Success:   summary.Success,
		Summary:   doc,
		CreatedAt: m.now(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to store run result")
	}
}

// runDir is the directory that holds a run's inputs and, when WorkDir is
// set, its outputs and journal.
func (m *Manager) runDir(id uuid.UUID) string {
	root := m.opts.WorkDir
	if root == "" {
		root = filepath.Join(os.TempDir(), "bibliometric")
	}
	return filepath.Join(root, id.String())
}

func (m *Manager) removeRunDir(id uuid.UUID) {
	if err := os.RemoveAll(m.runDir(id)); err != nil {
		m.logger.Warn().Err(err).Str("run_id", id.String()).Msg("failed to remove run directory")
	}
}

func (m *Manager) writeDomainFiles(id uuid.UUID, cfg *config.PipelineConfig, domains [][]string) error {
	if len(domains) > 3 {
		return domain.NewValidationError("domains", "at most three domains are supported")
	}
	for i := 0; i < 2; i++ {
		if i >= len(domains) || !hasTerms(domains[i]) {
			return domain.NewValidationError(fmt.Sprintf("domain%d", i+1), "at least one search term is required")
		}
	}

	dir := m.runDir(id)
	targets := []*string{&cfg.Domain1, &cfg.Domain2, &cfg.Domain3}
	cfg.Domain3 = ""
	for i, terms := range domains {
		if !hasTerms(terms) {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("Domain%d.csv", i+1))
		if err := phases.WriteTerms(path, terms); err != nil {
			m.removeRunDir(id)
			return fmt.Errorf("domain%d: %w", i+1, err)
		}
		*targets[i] = path
	}
	return nil
}

func hasTerms(terms []string) bool {
	return len(phases.SplitTerms(strings.Join(terms, "\n"))) > 0
}

// rebase moves relative output paths under dir.
func rebase(cfg *config.PipelineConfig, dir string) {
	for _, p := range []*string{&cfg.OutputDir, &cfg.FiguresDir, &cfg.ReportFile, &cfg.TableFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = dir
	}
}

func searchParams(cfg *config.PipelineConfig) map[string]interface{} {
	params, err := toMap(cfg.Summary())
	if err != nil {
		return map[string]interface{}{}
	}
	return params
}

func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func storedEvent(run *domain.PipelineRun, now time.Time) ProgressEvent {
	e := ProgressEvent{
		RunID:     run.ID.String(),
		Status:    run.Status,
		Timestamp: now,
	}
	switch run.Status {
	case domain.RunStatusCompleted:
		e.Type, e.Progress, e.Message = EventCompleted, 1, "Pipeline completed successfully"
	case domain.RunStatusFailed:
		e.Type, e.Progress, e.Message = EventError, 1, "Pipeline failed: "+run.ErrorMessage
	default:
		e.Type = EventProgress
		e.Message = "Run is " + string(run.Status)
		if n := len(run.Phases); n > 0 {
			e.Phase = run.Phases[n-1].Name
		}
	}
	return e
}

func copyRun(run *domain.PipelineRun) *domain.PipelineRun {
	c := *run
	c.Phases = append([]domain.PhaseRecord{}, run.Phases...)
	return &c
}
