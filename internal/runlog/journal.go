// Package runlog provides the durable run journal used by the pipeline
// executor: a daily human-readable text log, a daily JSON journal of
// structured entries, pipeline/phase bracketing with durations, and the
// per-run execution summary file.
//
// A Journal is created explicitly at process (or run) start and injected into
// the executor. It is safe for concurrent use.
package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is the severity of a journal entry.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// DefaultSummaryFile is the file name the executor writes its run summary to.
const DefaultSummaryFile = "pipeline_execution.json"

// Entry is one record of the JSON journal.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	UserID    string                 `json:"user_id,omitempty"`
	Script    string                 `json:"script,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Statistics describes the pipeline and phase currently (or last) bracketed.
type Statistics struct {
	PipelineDurationSeconds float64 `json:"pipeline_duration"`
	CurrentPhase            string  `json:"current_phase,omitempty"`
	PhaseDurationSeconds    float64 `json:"phase_duration"`
	PhasesCompleted         int     `json:"phases_completed"`
	PhasesFailed            int     `json:"phases_failed"`
}

// JournalSummary describes what the journal has written so far.
type JournalSummary struct {
	Directory string `json:"directory"`
	TextLog   string `json:"text_log"`
	JSONLog   string `json:"json_log"`
	Entries   int    `json:"entries"`
	Errors    int    `json:"errors"`
	Warnings  int    `json:"warnings"`
}

// Summary is the document written by SaveSummary.
type Summary struct {
	PipelineStats Statistics  `json:"pipeline_stats"`
	Timestamp     time.Time   `json:"timestamp"`
	Execution     interface{} `json:"execution,omitempty"`
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

// WithLogger mirrors every entry to the given service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(j *Journal) {
		j.mirror = logger
		j.mirrored = true
	}
}

// Journal writes pipeline log entries to files under a logs directory.
type Journal struct {
	mu  sync.Mutex
	dir string
	now func() time.Time

	mirror   zerolog.Logger
	mirrored bool

	userID string
	script string

	textDay  string
	textFile *os.File
	text     zerolog.Logger

	pipelineStart    time.Time
	lastPipelineTime time.Duration
	currentPhase     string
	phaseStart       time.Time
	phasesCompleted  int
	phasesFailed     int

	entries  int
	errors   int
	warnings int
}

// New creates a journal writing under dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("runlog: logs directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("runlog: create logs directory: %w", err)
	}

	j := &Journal{
		dir:    dir,
		now:    time.Now,
		mirror: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Dir returns the logs directory.
func (j *Journal) Dir() string {
	return j.dir
}

// SetContext stamps subsequent entries with a user and script name.
func (j *Journal) SetContext(userID, script string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.userID = userID
	j.script = script
}

// Close releases the text log file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.textFile == nil {
		return nil
	}
	err := j.textFile.Close()
	j.textFile = nil
	j.textDay = ""
	return err
}

// Info records an informational entry.
func (j *Journal) Info(msg string, fields map[string]interface{}) {
	j.Log(LevelInfo, msg, fields)
}

// Warn records a warning entry.
func (j *Journal) Warn(msg string, fields map[string]interface{}) {
	j.Log(LevelWarning, msg, fields)
}

// Error records an error entry. err may be nil when msg says it all.
func (j *Journal) Error(msg string, err error, fields map[string]interface{}) {
	if err != nil {
		merged := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			merged[k] = v
		}
		merged["error"] = err.Error()
		fields = merged
	}
	j.Log(LevelError, msg, fields)
}

// Log writes an entry to the text log and appends it to the JSON journal.
// Write failures are reported on the mirror logger and do not abort the caller.
func (j *Journal) Log(level Level, msg string, fields map[string]interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logLocked(level, msg, fields)
}

func (j *Journal) logLocked(level Level, msg string, fields map[string]interface{}) {
	now := j.now()
	entry := Entry{
		Timestamp: now,
		Level:     level,
		Message:   msg,
		UserID:    j.userID,
		Script:    j.script,
		Fields:    fields,
	}

	j.entries++
	switch level {
	case LevelError:
		j.errors++
	case LevelWarning:
		j.warnings++
	}

	if err := j.ensureTextLog(now); err != nil {
		j.mirror.Error().Err(err).Msg("failed to open text log")
	} else {
		writeEvent(j.text, level, entry)
	}
	if j.mirrored {
		writeEvent(j.mirror, level, entry)
	}

	if err := j.appendJSON(now, entry); err != nil {
		j.mirror.Error().Err(err).Msg("failed to save detailed log")
	}
}

func writeEvent(logger zerolog.Logger, level Level, entry Entry) {
	var ev *zerolog.Event
	switch level {
	case LevelError:
		ev = logger.Error()
	case LevelWarning:
		ev = logger.Warn()
	default:
		ev = logger.Info()
	}
	if entry.UserID != "" {
		ev = ev.Str("user_id", entry.UserID)
	}
	if entry.Script != "" {
		ev = ev.Str("script", entry.Script)
	}
	ev.Fields(entry.Fields).Msg(entry.Message)
}

func (j *Journal) ensureTextLog(now time.Time) error {
	day := now.Format("20060102")
	if j.textFile != nil && j.textDay == day {
		return nil
	}
	if j.textFile != nil {
		_ = j.textFile.Close()
		j.textFile = nil
	}

	f, err := os.OpenFile(j.textLogPath(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	j.textFile = f
	j.textDay = day
	j.text = zerolog.New(zerolog.ConsoleWriter{
		Out:        f,
		NoColor:    true,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
	return nil
}

func (j *Journal) textLogPath(day string) string {
	return filepath.Join(j.dir, "pipeline_"+day+".log")
}

func (j *Journal) jsonLogPath(day string) string {
	return filepath.Join(j.dir, "detailed_log_"+day+".json")
}

// appendJSON rewrites the day's JSON array with entry appended. Each call
// reads and rewrites the whole file, so cost grows with the number of
// entries already logged that day. A run logs a few dozen entries; if daily
// volume grows large, switch the detailed log to JSON lines and append.
func (j *Journal) appendJSON(now time.Time, entry Entry) error {
	path := j.jsonLogPath(now.Format("20060102"))

	var entries []json.RawMessage
	data, err := os.ReadFile(path)
	switch {
	case err == nil && len(data) > 0:
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return err
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	entries = append(entries, raw)

	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, out)
}

// StartPipeline marks the start of a pipeline execution.
func (j *Journal) StartPipeline() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pipelineStart = j.now()
	j.phasesCompleted = 0
	j.phasesFailed = 0
	j.logLocked(LevelInfo, "Pipeline execution started", nil)
}

// EndPipeline marks the end of a pipeline execution.
func (j *Journal) EndPipeline(success bool, stats map[string]interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var duration time.Duration
	if !j.pipelineStart.IsZero() {
		duration = j.now().Sub(j.pipelineStart)
	}
	j.lastPipelineTime = duration
	j.pipelineStart = time.Time{}

	status := "successfully"
	if !success {
		status = "with errors"
	}
	j.logLocked(LevelInfo,
		fmt.Sprintf("Pipeline execution ended %s (duration: %.2fs)", status, duration.Seconds()),
		map[string]interface{}{"stats": stats, "success": success, "duration": duration.Seconds()})
}

// StartPhase marks the start of a phase.
func (j *Journal) StartPhase(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.currentPhase = name
	j.phaseStart = j.now()
	j.logLocked(LevelInfo, "Starting phase: "+name, nil)
}

// EndPhase marks the end of the phase started last. It is a no-op when no
// phase is open.
func (j *Journal) EndPhase(success bool, details map[string]interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.currentPhase == "" || j.phaseStart.IsZero() {
		return
	}

	duration := j.now().Sub(j.phaseStart)
	status := "successfully"
	if success {
		j.phasesCompleted++
	} else {
		j.phasesFailed++
		status = "with errors"
	}

	fields := map[string]interface{}{
		"phase":    j.currentPhase,
		"duration": duration.Seconds(),
		"success":  success,
	}
	for k, v := range details {
		fields[k] = v
	}

	j.logLocked(LevelInfo,
		fmt.Sprintf("Phase '%s' ended %s (duration: %.2fs)", j.currentPhase, status, duration.Seconds()),
		fields)

	j.currentPhase = ""
	j.phaseStart = time.Time{}
}

// Statistics returns the running pipeline duration, or the duration of the
// last finished pipeline, together with phase counters.
func (j *Journal) Statistics() Statistics {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.statisticsLocked()
}

func (j *Journal) statisticsLocked() Statistics {
	now := j.now()
	stats := Statistics{
		PipelineDurationSeconds: j.lastPipelineTime.Seconds(),
		CurrentPhase:            j.currentPhase,
		PhasesCompleted:         j.phasesCompleted,
		PhasesFailed:            j.phasesFailed,
	}
	if !j.pipelineStart.IsZero() {
		stats.PipelineDurationSeconds = now.Sub(j.pipelineStart).Seconds()
	}
	if !j.phaseStart.IsZero() {
		stats.PhaseDurationSeconds = now.Sub(j.phaseStart).Seconds()
	}
	return stats
}

// Summary reports the journal's files and entry counts.
func (j *Journal) Summary() JournalSummary {
	j.mu.Lock()
	defer j.mu.Unlock()
	day := j.now().Format("20060102")
	return JournalSummary{
		Directory: j.dir,
		TextLog:   j.textLogPath(day),
		JSONLog:   j.jsonLogPath(day),
		Entries:   j.entries,
		Errors:    j.errors,
		Warnings:  j.warnings,
	}
}

// SaveSummary writes the pipeline statistics and the given execution details
// as indented JSON to filename inside the logs directory, replacing any
// previous file.
func (j *Journal) SaveSummary(filename string, execution interface{}) error {
	if filename == "" {
		filename = DefaultSummaryFile
	}

	j.mu.Lock()
	summary := Summary{
		PipelineStats: j.statisticsLocked(),
		Timestamp:     j.now(),
		Execution:     execution,
	}
	j.mu.Unlock()

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		err = fmt.Errorf("encode summary: %w", err)
		j.Error("Failed to save execution summary", err, nil)
		return err
	}
	if err := writeFileAtomic(filepath.Join(j.dir, filename), data); err != nil {
		err = fmt.Errorf("write summary: %w", err)
		j.Error("Failed to save execution summary", err, nil)
		return err
	}
	return nil
}

// ReadEntries loads the JSON journal for the given day.
func (j *Journal) ReadEntries(day time.Time) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.jsonLogPath(day.Format("20060102")))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode journal: %w", err)
	}
	return entries, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
