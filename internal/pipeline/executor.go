package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/observability"
	"github.com/helixir/bibliometric-pipeline/internal/runlog"
)

// ProgressFunc observes run progress. fraction is in [0, 1].
type ProgressFunc func(phase string, fraction float64, message string)

// Journal is the durable run log the executor writes to.
type Journal interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	StartPipeline()
	EndPipeline(success bool, stats map[string]interface{})
	StartPhase(name string)
	EndPhase(success bool, details map[string]interface{})
	Statistics() runlog.Statistics
	Summary() runlog.JournalSummary
	SaveSummary(filename string, execution interface{}) error
}

var _ Journal = (*runlog.Journal)(nil)

// State is the lifecycle state of an Executor.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// PhaseResult records one executed phase.
type PhaseResult struct {
	Kind        string        `json:"kind"`
	Description string        `json:"description"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// Results is the outcome of a finished run.
type Results struct {
	ExecutionCompleted bool                 `json:"execution_completed"`
	Success            bool                 `json:"success"`
	Configuration      config.ConfigSummary `json:"configuration"`
	Statistics         runlog.Statistics    `json:"statistics"`
	PhasesSelected     []string             `json:"phases_selected"`
	PhasesExecuted     []string             `json:"phases_executed"`
}

// ExecutionSummary is Results plus the per-phase records and the journal's
// own summary.
type ExecutionSummary struct {
	Results
	StartedAt    time.Time             `json:"started_at"`
	EndedAt      time.Time             `json:"ended_at"`
	Duration     time.Duration         `json:"duration_ns"`
	Error        string                `json:"error,omitempty"`
	Phases       []PhaseResult         `json:"phases"`
	ExecutionLog runlog.JournalSummary `json:"execution_log"`
}

// runSummary is the execution part of the persisted summary file.
type runSummary struct {
	Success         bool                 `json:"success"`
	DurationSeconds float64              `json:"duration_seconds"`
	TotalPhases     int                  `json:"total_phases"`
	CompletedPhases int                  `json:"completed_phases"`
	Phases          []PhaseResult        `json:"phases"`
	Error           string               `json:"error,omitempty"`
	Configuration   config.ConfigSummary `json:"configuration"`
}

// Option configures an Executor.
type Option func(*Executor)

// WithProgress registers a progress observer.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Executor) {
		e.progress = fn
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics records run and phase metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithSummaryFile overrides the summary file name inside the journal directory.
func WithSummaryFile(name string) Option {
	return func(e *Executor) {
		e.summaryFile = name
	}
}

// Executor runs one pipeline configuration exactly once.
type Executor struct {
	cfg         *config.PipelineConfig
	factory     PhaseFactory
	journal     Journal
	logger      zerolog.Logger
	metrics     *observability.Metrics
	progress    ProgressFunc
	now         func() time.Time
	summaryFile string

	mu      sync.Mutex
	state   State
	kinds   []PhaseKind
	phases  []Phase
	results []PhaseResult
	success bool
	err     error
	started time.Time
	ended   time.Time
}

// NewExecutor creates an executor for cfg. A nil journal discards entries.
func NewExecutor(cfg *config.PipelineConfig, factory PhaseFactory, journal Journal, opts ...Option) *Executor {
	if journal == nil {
		journal = nopJournal{}
	}
	e := &Executor{
		cfg:         cfg,
		factory:     factory,
		journal:     journal,
		logger:      zerolog.Nop(),
		now:         time.Now,
		summaryFile: runlog.DefaultSummaryFile,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetProgressCallback replaces the progress observer. It has no effect once
// Execute has been called.
func (e *Executor) SetProgressCallback(fn ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateNotStarted {
		e.progress = fn
	}
}

// State returns the lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Execute validates the configuration and runs the selected phases in order,
// stopping at the first failure. It returns the overall success and never
// panics. Only the first call does anything; later calls return false.
func (e *Executor) Execute(ctx context.Context) bool {
	e.mu.Lock()
	if e.state != StateNotStarted {
		e.mu.Unlock()
		e.journal.Warn("Pipeline already executed; create a new executor to run again", nil)
		return false
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.started = e.now()

	if err := e.validate(); err != nil {
		e.logger.Error().Err(err).Msg("pipeline configuration invalid")
		e.err = err
		e.ended = e.now()
		e.complete(false)
		return false
	}

	e.metrics.RecordRunStarted()
	success := e.runPhases(ctx)
	e.ended = e.now()
	e.metrics.RecordRunFinished(success, e.ended.Sub(e.started))

	e.finish(success)
	e.complete(success)
	return success
}

func (e *Executor) validate() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during validation: %v", r)
		}
	}()
	if err := e.cfg.Validate(); err != nil {
		e.journal.Error("Configuration validation failed", err, nil)
		return err
	}
	return nil
}

// runPhases is steps 3 to 6 of a run: bracketing, selection and the
// fail-fast loop. Any error or panic becomes a failed run.
func (e *Executor) runPhases(ctx context.Context) (success bool) {
	defer func() {
		if r := recover(); r != nil {
			success = false
			e.unexpected(fmt.Errorf("panic: %v", r))
		}
	}()

	e.journal.StartPipeline()
	e.kinds = SelectKinds(e.cfg)
	e.phases = make([]Phase, 0, len(e.kinds))
	for _, k := range e.kinds {
		e.phases = append(e.phases, e.factory.NewPhase(k))
	}

	n := len(e.phases)
	for i, phase := range e.phases {
		name := phase.Description()

		if err := ctx.Err(); err != nil {
			e.unexpected(err)
			return false
		}

		e.journal.StartPhase(name)
		e.report(name, float64(i)/float64(n), fmt.Sprintf("Starting %s phase...", name))

		start := e.now()
		ok, err := runPhase(ctx, phase)
		result := PhaseResult{
			Kind:        e.kinds[i].String(),
			Description: name,
			Success:     ok && err == nil,
			StartedAt:   start,
			Duration:    e.now().Sub(start),
		}
		if err != nil {
			result.Error = err.Error()
		}
		e.results = append(e.results, result)
		e.metrics.RecordPhase(e.kinds[i].String(), result.Success, result.Duration)

		if err != nil {
			e.journal.EndPhase(false, map[string]interface{}{"phase": name, "error": err.Error()})
			e.unexpected(fmt.Errorf("%s phase: %w", name, err))
			return false
		}
		if !ok {
			e.err = fmt.Errorf("%w: %s", domain.ErrPhaseFailed, name)
			e.report(name, float64(i)/float64(n), fmt.Sprintf("Error in %s phase", name))
			e.journal.EndPhase(false, map[string]interface{}{"phase": name, "error": "Phase execution failed"})
			e.logger.Warn().Str("phase", name).Msg("phase failed, stopping pipeline")
			return false
		}

		e.report(name, float64(i+1)/float64(n), fmt.Sprintf("Completed %s phase", name))
		e.journal.EndPhase(true, map[string]interface{}{"phase": name})
	}
	return true
}

// runPhase calls phase.Run, converting a panic into an error.
func runPhase(ctx context.Context, phase Phase) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return phase.Run(ctx)
}

// unexpected records an error that aborted the loop and emits the terminal
// progress event. Panics from the journal or the observer are swallowed.
func (e *Executor) unexpected(err error) {
	e.err = err
	e.logger.Error().Err(err).Msg("pipeline execution failed")

	func() {
		defer func() { _ = recover() }()
		e.journal.Error("Pipeline execution error", err, nil)
	}()
	func() {
		defer func() { _ = recover() }()
		e.report("Error", 1.0, "Error: "+err.Error())
	}()
}

func (e *Executor) report(phase string, fraction float64, message string) {
	if e.progress != nil {
		e.progress(phase, fraction, message)
	}
}

// finish closes the journal bracketing and persists the run summary.
func (e *Executor) finish(success bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("failed to finalize pipeline journal")
		}
	}()

	completed := e.completedCount()
	descriptions := e.descriptions()
	summary := e.cfg.Summary()

	e.journal.EndPipeline(success, map[string]interface{}{
		"total_phases":     len(e.phases),
		"completed_phases": completed,
		"phases":           descriptions,
		"configuration":    summary,
	})

	err := e.journal.SaveSummary(e.summaryFile, runSummary{
		Success:         success,
		DurationSeconds: e.ended.Sub(e.started).Seconds(),
		TotalPhases:     len(e.phases),
		CompletedPhases: completed,
		Phases:          e.results,
		Error:           e.errorMessage(),
		Configuration:   summary,
	})
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to save execution summary")
	}
}

func (e *Executor) complete(success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.success = success
	e.state = StateCompleted
}

func (e *Executor) completedCount() int {
	n := 0
	for _, r := range e.results {
		if r.Success {
			n++
		}
	}
	return n
}

func (e *Executor) descriptions() []string {
	out := make([]string, 0, len(e.phases))
	for _, p := range e.phases {
		out = append(out, safeDescription(p))
	}
	return out
}

func safeDescription(p Phase) (name string) {
	defer func() {
		if r := recover(); r != nil {
			name = "unknown"
		}
	}()
	return p.Description()
}

// Results returns the outcome of the run, or domain.ErrNotExecuted before
// Execute has finished.
func (e *Executor) Results() (Results, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateCompleted {
		return Results{}, domain.ErrNotExecuted
	}
	return e.resultsLocked(), nil
}

func (e *Executor) resultsLocked() Results {
	selected := make([]string, 0, len(e.kinds))
	for _, k := range e.kinds {
		selected = append(selected, k.String())
	}
	executed := make([]string, 0, len(e.results))
	for _, r := range e.results {
		executed = append(executed, r.Description)
	}

	var summary config.ConfigSummary
	if e.cfg != nil {
		summary = e.cfg.Summary()
	}
	return Results{
		ExecutionCompleted: true,
		Success:            e.success,
		Configuration:      summary,
		Statistics:         e.journal.Statistics(),
		PhasesSelected:     selected,
		PhasesExecuted:     executed,
	}
}

// ExecutionSummary returns the detailed outcome of the run, or
// domain.ErrNotExecuted before Execute has finished.
func (e *Executor) ExecutionSummary() (ExecutionSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateCompleted {
		return ExecutionSummary{}, domain.ErrNotExecuted
	}
	phases := make([]PhaseResult, len(e.results))
	copy(phases, e.results)
	return ExecutionSummary{
		Results:      e.resultsLocked(),
		StartedAt:    e.started,
		EndedAt:      e.ended,
		Duration:     e.ended.Sub(e.started),
		Error:        e.errorMessage(),
		Phases:       phases,
		ExecutionLog: e.journal.Summary(),
	}, nil
}

// Err returns why a completed run failed: a *domain.ValidationError, an error
// wrapping domain.ErrPhaseFailed, or the unexpected error that aborted the
// run. It is nil on success and before completion.
func (e *Executor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateCompleted || e.success {
		return nil
	}
	return e.err
}

func (e *Executor) errorMessage() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

type nopJournal struct{}

func (nopJournal) Info(string, map[string]interface{})         {}
func (nopJournal) Warn(string, map[string]interface{})         {}
func (nopJournal) Error(string, error, map[string]interface{}) {}
func (nopJournal) StartPipeline()                              {}
func (nopJournal) EndPipeline(bool, map[string]interface{})    {}
func (nopJournal) StartPhase(string)                           {}
func (nopJournal) EndPhase(bool, map[string]interface{})       {}
func (nopJournal) Statistics() runlog.Statistics               { return runlog.Statistics{} }
func (nopJournal) Summary() runlog.JournalSummary              { return runlog.JournalSummary{} }
func (nopJournal) SaveSummary(string, interface{}) error       { return nil }
