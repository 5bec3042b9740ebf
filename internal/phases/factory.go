package phases

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/observability"
	"github.com/helixir/bibliometric-pipeline/internal/pipeline"
)

// Deps are the collaborators shared by the phases of one run.
type Deps struct {
	Config    *config.PipelineConfig
	Workspace *Workspace

	// Searcher is required by the Search phase unless searches are skipped.
	Searcher Searcher

	// Classifier is required by the Classification phase.
	Classifier ArticleClassifier

	// Runner runs pandoc. Defaults to ExecRunner.
	Runner CommandRunner

	Logger  zerolog.Logger
	Metrics *observability.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Factory builds the phases of one run from shared Deps.
type Factory struct {
	deps Deps
}

var _ pipeline.PhaseFactory = (*Factory)(nil)

// NewFactory returns a phase factory for deps.
func NewFactory(deps Deps) *Factory {
	if deps.Runner == nil {
		deps.Runner = ExecRunner{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Factory{deps: deps}
}

// NewPhase implements pipeline.PhaseFactory. Unknown kinds yield nil.
func (f *Factory) NewPhase(kind pipeline.PhaseKind) pipeline.Phase {
	d := f.deps
	logger := d.Logger.With().Str("component", "phase").Str("phase", kind.String()).Logger()

	switch kind {
	case pipeline.PhaseSearch:
		return &SearchPhase{cfg: d.Config, ws: d.Workspace, searcher: d.Searcher, logger: logger, metrics: d.Metrics, now: d.Now}
	case pipeline.PhaseDomainAnalysis:
		return &DomainAnalysisPhase{cfg: d.Config, ws: d.Workspace, logger: logger}
	case pipeline.PhaseClassification:
		return &ClassificationPhase{ws: d.Workspace, classifier: d.Classifier, logger: logger}
	case pipeline.PhaseAnalysis:
		return &AnalysisPhase{cfg: d.Config, ws: d.Workspace, logger: logger, now: d.Now}
	case pipeline.PhaseTableExport:
		return &TableExportPhase{cfg: d.Config, ws: d.Workspace, logger: logger}
	case pipeline.PhaseReport:
		return &ReportPhase{cfg: d.Config, ws: d.Workspace, runner: d.Runner, logger: logger, now: d.Now}
	default:
		return nil
	}
}
