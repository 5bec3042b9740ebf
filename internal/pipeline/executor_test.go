package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/runlog"
)

// stubPhase is a Phase with a configurable outcome and a call counter.
type stubPhase struct {
	name  string
	ok    bool
	err   error
	calls int
	runFn func(ctx context.Context) (bool, error)
}

func (p *stubPhase) Run(ctx context.Context) (bool, error) {
	p.calls++
	if p.runFn != nil {
		return p.runFn(ctx)
	}
	return p.ok, p.err
}

func (p *stubPhase) Description() string { return p.name }

// stubFactory hands out one stubPhase per kind, all succeeding by default.
type stubFactory struct {
	phases map[PhaseKind]*stubPhase
	order  []string
}

func newStubFactory() *stubFactory {
	f := &stubFactory{phases: map[PhaseKind]*stubPhase{}}
	for _, k := range CanonicalOrder {
		f.phases[k] = &stubPhase{name: k.String(), ok: true}
	}
	return f
}

func (f *stubFactory) NewPhase(kind PhaseKind) Phase {
	p := f.phases[kind]
	inner := p.runFn
	p.runFn = func(ctx context.Context) (bool, error) {
		f.order = append(f.order, p.name)
		if inner != nil {
			return inner(ctx)
		}
		return p.ok, p.err
	}
	return p
}

func (f *stubFactory) calls(kind PhaseKind) int {
	return f.phases[kind].calls
}

// recordingJournal counts journal calls.
type recordingJournal struct {
	entries     []string
	pipelines   int
	ended       []bool
	phaseStarts []string
	phaseEnds   []bool
	saved       []interface{}
	saveErr     error
	panicOn     string
}

func (j *recordingJournal) Info(msg string, _ map[string]interface{}) {
	j.entries = append(j.entries, "INFO "+msg)
}

func (j *recordingJournal) Warn(msg string, _ map[string]interface{}) {
	j.entries = append(j.entries, "WARN "+msg)
}

func (j *recordingJournal) Error(msg string, _ error, _ map[string]interface{}) {
	j.entries = append(j.entries, "ERROR "+msg)
}

func (j *recordingJournal) StartPipeline() { j.pipelines++ }

func (j *recordingJournal) EndPipeline(success bool, _ map[string]interface{}) {
	j.ended = append(j.ended, success)
}

func (j *recordingJournal) StartPhase(name string) {
	if j.panicOn == name {
		panic("journal exploded")
	}
	j.phaseStarts = append(j.phaseStarts, name)
}

func (j *recordingJournal) EndPhase(success bool, _ map[string]interface{}) {
	j.phaseEnds = append(j.phaseEnds, success)
}

func (j *recordingJournal) Statistics() runlog.Statistics { return runlog.Statistics{} }

func (j *recordingJournal) Summary() runlog.JournalSummary { return runlog.JournalSummary{} }

func (j *recordingJournal) SaveSummary(_ string, execution interface{}) error {
	j.saved = append(j.saved, execution)
	return j.saveErr
}

func (j *recordingJournal) total() int {
	return len(j.entries) + j.pipelines + len(j.ended) + len(j.phaseStarts) + len(j.phaseEnds) + len(j.saved)
}

type progressEvent struct {
	phase    string
	fraction float64
	message  string
}

type progressRecorder struct {
	events []progressEvent
}

func (r *progressRecorder) record(phase string, fraction float64, message string) {
	r.events = append(r.events, progressEvent{phase, fraction, message})
}

func (r *progressRecorder) last() progressEvent {
	return r.events[len(r.events)-1]
}

// validConfig points domain1/domain2 at existing empty files.
func validConfig(t *testing.T) *config.PipelineConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultPipelineConfig()
	cfg.Domain1 = filepath.Join(dir, "Domain1.csv")
	cfg.Domain2 = filepath.Join(dir, "Domain2.csv")
	require.NoError(t, os.WriteFile(cfg.Domain1, nil, 0o644))
	require.NoError(t, os.WriteFile(cfg.Domain2, nil, 0o644))
	cfg.FiguresDir = filepath.Join(dir, "figures")
	return &cfg
}

func TestExecutor_AllPhasesSucceed(t *testing.T) {
	cfg := validConfig(t)
	factory := newStubFactory()
	journal := &recordingJournal{}
	progress := &progressRecorder{}

	e := NewExecutor(cfg, factory, journal, WithProgress(progress.record))
	ok := e.Execute(context.Background())

	assert.True(t, ok)
	assert.Equal(t, []string{"Search", "DomainAnalysis", "Classification", "Analysis", "TableExport", "Report"}, factory.order)
	for _, k := range CanonicalOrder {
		assert.Equal(t, 1, factory.calls(k), k.String())
	}

	require.NotEmpty(t, progress.events)
	assert.Equal(t, 1.0, progress.last().fraction)
	assert.Equal(t, "Completed Report phase", progress.last().message)
	assert.Equal(t, progressEvent{"Search", 0, "Starting Search phase..."}, progress.events[0])
	assert.Len(t, progress.events, 12)

	assert.Equal(t, 1, journal.pipelines)
	assert.Equal(t, []bool{true}, journal.ended)
	assert.Len(t, journal.phaseStarts, 6)
	assert.Equal(t, []bool{true, true, true, true, true, true}, journal.phaseEnds)
	require.Len(t, journal.saved, 1)

	saved := journal.saved[0].(runSummary)
	assert.True(t, saved.Success)
	assert.Equal(t, 6, saved.TotalPhases)
	assert.Equal(t, 6, saved.CompletedPhases)

	assert.Equal(t, StateCompleted, e.State())
	assert.NoError(t, e.Err())
}

func TestExecutor_ClassificationFails(t *testing.T) {
	cfg := validConfig(t)
	factory := newStubFactory()
	factory.phases[PhaseClassification].ok = false
	progress := &progressRecorder{}

	e := NewExecutor(cfg, factory, &recordingJournal{}, WithProgress(progress.record))
	ok := e.Execute(context.Background())

	assert.False(t, ok)
	assert.Equal(t, 1, factory.calls(PhaseSearch))
	assert.Equal(t, 1, factory.calls(PhaseDomainAnalysis))
	assert.Equal(t, 1, factory.calls(PhaseClassification))
	assert.Equal(t, 0, factory.calls(PhaseAnalysis))
	assert.Equal(t, 0, factory.calls(PhaseTableExport))
	assert.Equal(t, 0, factory.calls(PhaseReport))

	assert.Equal(t, progressEvent{"Classification", 2.0 / 6.0, "Error in Classification phase"}, progress.last())

	err := e.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPhaseFailed)

	results, err := e.Results()
	require.NoError(t, err)
	assert.False(t, results.Success)
	assert.Equal(t, []string{"Search", "DomainAnalysis", "Classification"}, results.PhasesExecuted)
	assert.Len(t, results.PhasesSelected, 6)
}

func TestExecutor_FailFast(t *testing.T) {
	for k := 0; k < len(CanonicalOrder); k++ {
		failing := CanonicalOrder[k]
		t.Run(failing.String(), func(t *testing.T) {
			factory := newStubFactory()
			factory.phases[failing].ok = false

			ok := NewExecutor(validConfig(t), factory, nil).Execute(context.Background())

			assert.False(t, ok)
			for i, kind := range CanonicalOrder {
				want := 0
				if i <= k {
					want = 1
				}
				assert.Equal(t, want, factory.calls(kind), kind.String())
			}
		})
	}
}

func TestExecutor_SecondExecuteRejected(t *testing.T) {
	factory := newStubFactory()
	journal := &recordingJournal{}

	e := NewExecutor(validConfig(t), factory, journal)
	require.True(t, e.Execute(context.Background()))
	before := journal.total()

	assert.False(t, e.Execute(context.Background()))

	for _, k := range CanonicalOrder {
		assert.Equal(t, 1, factory.calls(k))
	}
	assert.Equal(t, before+1, journal.total(), "only the guard warning is logged")
	assert.Contains(t, journal.entries[len(journal.entries)-1], "already executed")
}

func TestExecutor_ValidationFailureRunsNothing(t *testing.T) {
	cfg := validConfig(t)
	cfg.Domain1 = filepath.Join(t.TempDir(), "missing.csv")
	factory := newStubFactory()
	journal := &recordingJournal{}
	progress := &progressRecorder{}

	e := NewExecutor(cfg, factory, journal, WithProgress(progress.record))
	ok := e.Execute(context.Background())

	assert.False(t, ok)
	for _, k := range CanonicalOrder {
		assert.Equal(t, 0, factory.calls(k))
	}
	assert.Empty(t, progress.events)
	assert.Zero(t, journal.pipelines)
	assert.Empty(t, journal.saved)

	var verr *domain.ValidationError
	require.ErrorAs(t, e.Err(), &verr)
	assert.Equal(t, "domain1", verr.Field)

	assert.False(t, e.Execute(context.Background()))
}

func TestExecutor_NilConfig(t *testing.T) {
	factory := newStubFactory()
	e := NewExecutor(nil, factory, nil)

	assert.False(t, e.Execute(context.Background()))
	assert.ErrorIs(t, e.Err(), domain.ErrInvalidInput)

	results, err := e.Results()
	require.NoError(t, err)
	assert.False(t, results.Success)
	assert.Empty(t, results.PhasesExecuted)
}

func TestExecutor_PhaseErrorBecomesFailure(t *testing.T) {
	factory := newStubFactory()
	factory.phases[PhaseAnalysis].err = errors.New("disk full")
	progress := &progressRecorder{}
	journal := &recordingJournal{}

	e := NewExecutor(validConfig(t), factory, journal, WithProgress(progress.record))
	ok := e.Execute(context.Background())

	assert.False(t, ok)
	assert.Equal(t, 0, factory.calls(PhaseTableExport))
	assert.Equal(t, progressEvent{"Error", 1.0, "Error: Analysis phase: disk full"}, progress.last())
	assert.Equal(t, []bool{false}, journal.ended)
	require.Len(t, journal.saved, 1)

	summary, err := e.ExecutionSummary()
	require.NoError(t, err)
	require.Len(t, summary.Phases, 4)
	assert.Equal(t, "disk full", summary.Phases[3].Error)
	assert.Contains(t, summary.Error, "disk full")
}

func TestExecutor_PanicInPhaseBecomesFailure(t *testing.T) {
	factory := newStubFactory()
	factory.phases[PhaseSearch].runFn = func(context.Context) (bool, error) {
		panic("nil map")
	}
	progress := &progressRecorder{}

	var ok bool
	e := NewExecutor(validConfig(t), factory, nil, WithProgress(progress.record))
	require.NotPanics(t, func() { ok = e.Execute(context.Background()) })

	assert.False(t, ok)
	assert.Equal(t, 0, factory.calls(PhaseDomainAnalysis))
	assert.Equal(t, "Error", progress.last().phase)
	assert.Contains(t, progress.last().message, "panic: nil map")
}

func TestExecutor_PanicInJournalBecomesFailure(t *testing.T) {
	factory := newStubFactory()
	journal := &recordingJournal{panicOn: "Classification"}

	var ok bool
	e := NewExecutor(validConfig(t), factory, journal)
	require.NotPanics(t, func() { ok = e.Execute(context.Background()) })

	assert.False(t, ok)
	assert.Equal(t, 0, factory.calls(PhaseClassification))
	assert.Equal(t, []bool{false}, journal.ended)
	assert.Equal(t, StateCompleted, e.State())
}

func TestExecutor_PanicInProgressCallback(t *testing.T) {
	factory := newStubFactory()

	var ok bool
	e := NewExecutor(validConfig(t), factory, nil, WithProgress(func(string, float64, string) {
		panic("observer gone")
	}))
	require.NotPanics(t, func() { ok = e.Execute(context.Background()) })

	assert.False(t, ok)
	assert.Equal(t, 0, factory.calls(PhaseSearch))
	assert.Contains(t, e.Err().Error(), "observer gone")
}

func TestExecutor_CanceledContext(t *testing.T) {
	factory := newStubFactory()
	ctx, cancel := context.WithCancel(context.Background())
	factory.phases[PhaseDomainAnalysis].runFn = func(context.Context) (bool, error) {
		cancel()
		return true, nil
	}

	e := NewExecutor(validConfig(t), factory, nil)
	assert.False(t, e.Execute(ctx))
	assert.Equal(t, 0, factory.calls(PhaseClassification))
	assert.ErrorIs(t, e.Err(), context.Canceled)
}

func TestExecutor_AccessorsBeforeExecute(t *testing.T) {
	e := NewExecutor(validConfig(t), newStubFactory(), nil)

	_, err := e.Results()
	assert.ErrorIs(t, err, domain.ErrNotExecuted)

	_, err = e.ExecutionSummary()
	assert.ErrorIs(t, err, domain.ErrNotExecuted)

	assert.Equal(t, StateNotStarted, e.State())
	assert.NoError(t, e.Err())
}

func TestExecutor_SetProgressCallback(t *testing.T) {
	progress := &progressRecorder{}
	cfg := validConfig(t)
	cfg.OnlyReport = true

	e := NewExecutor(cfg, newStubFactory(), nil)
	e.SetProgressCallback(progress.record)
	require.True(t, e.Execute(context.Background()))

	assert.Equal(t, []progressEvent{
		{"Report", 0, "Starting Report phase..."},
		{"Report", 1.0, "Completed Report phase"},
	}, progress.events)
}

func TestExecutor_ProgressFractions(t *testing.T) {
	cfg := validConfig(t)
	cfg.OnlyAnalysis = true
	progress := &progressRecorder{}

	e := NewExecutor(cfg, newStubFactory(), nil, WithProgress(progress.record))
	require.True(t, e.Execute(context.Background()))

	var fractions []float64
	for _, ev := range progress.events {
		fractions = append(fractions, ev.fraction)
	}
	assert.Equal(t, []float64{0, 0.5, 0.5, 1.0}, fractions)
}

func TestExecutor_SummaryNeverRerunsPhases(t *testing.T) {
	factory := newStubFactory()
	journal := &recordingJournal{}

	e := NewExecutor(validConfig(t), factory, journal)
	require.True(t, e.Execute(context.Background()))
	_, _ = e.Results()
	_, _ = e.ExecutionSummary()

	for _, k := range CanonicalOrder {
		assert.Equal(t, 1, factory.calls(k))
	}
}

func TestExecutor_SaveSummaryFailureKeepsSuccess(t *testing.T) {
	journal := &recordingJournal{saveErr: errors.New("read-only")}

	e := NewExecutor(validConfig(t), newStubFactory(), journal)
	assert.True(t, e.Execute(context.Background()))
}

func TestExecutor_WritesSummaryFile(t *testing.T) {
	logsDir := t.TempDir()
	clock := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	journal, err := runlog.New(logsDir, runlog.WithClock(now))
	require.NoError(t, err)
	defer journal.Close()

	cfg := validConfig(t)
	cfg.SkipTable = true

	e := NewExecutor(cfg, newStubFactory(), journal, WithClock(now))
	require.True(t, e.Execute(context.Background()))

	data, err := os.ReadFile(filepath.Join(logsDir, runlog.DefaultSummaryFile))
	require.NoError(t, err)

	var doc struct {
		PipelineStats runlog.Statistics `json:"pipeline_stats"`
		Execution     struct {
			Success         bool                 `json:"success"`
			TotalPhases     int                  `json:"total_phases"`
			CompletedPhases int                  `json:"completed_phases"`
			Configuration   config.ConfigSummary `json:"configuration"`
		} `json:"execution"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.True(t, doc.Execution.Success)
	assert.Equal(t, 5, doc.Execution.TotalPhases)
	assert.Equal(t, 5, doc.Execution.CompletedPhases)
	assert.True(t, doc.Execution.Configuration.FlowControl["skip_table"])
	assert.Equal(t, 5, doc.PipelineStats.PhasesCompleted)
	assert.Greater(t, doc.PipelineStats.PipelineDurationSeconds, 0.0)

	summary, err := e.ExecutionSummary()
	require.NoError(t, err)
	assert.Equal(t, logsDir, summary.ExecutionLog.Directory)
	assert.Greater(t, summary.ExecutionLog.Entries, 0)
	assert.Greater(t, summary.Duration, time.Duration(0))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_started", StateNotStarted.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "completed", StateCompleted.String())
}
