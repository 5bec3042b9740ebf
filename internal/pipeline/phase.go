// Package pipeline selects and executes the phases of a bibliometric
// literature-review run.
//
// An Executor is single-use: it validates its configuration, runs the
// selected phases one after another on the caller's goroutine, stops at the
// first failure, and records a summary in the injected run journal.
package pipeline

import "context"

// PhaseKind identifies one stage of the pipeline.
type PhaseKind int

const (
	PhaseSearch PhaseKind = iota
	PhaseDomainAnalysis
	PhaseClassification
	PhaseAnalysis
	PhaseTableExport
	PhaseReport
)

// CanonicalOrder is the order of a full run.
var CanonicalOrder = []PhaseKind{
	PhaseSearch,
	PhaseDomainAnalysis,
	PhaseClassification,
	PhaseAnalysis,
	PhaseTableExport,
	PhaseReport,
}

// String returns the identifier of the kind.
func (k PhaseKind) String() string {
	switch k {
	case PhaseSearch:
		return "Search"
	case PhaseDomainAnalysis:
		return "DomainAnalysis"
	case PhaseClassification:
		return "Classification"
	case PhaseAnalysis:
		return "Analysis"
	case PhaseTableExport:
		return "TableExport"
	case PhaseReport:
		return "Report"
	default:
		return "Unknown"
	}
}

// Phase is one unit of pipeline work.
//
// Run returns false when the phase failed in an expected way (missing input,
// empty result); it returns an error for unexpected failures. Both stop the
// pipeline.
type Phase interface {
	Run(ctx context.Context) (bool, error)
	Description() string
}

// PhaseFactory builds the phase implementation for a kind.
type PhaseFactory interface {
	NewPhase(kind PhaseKind) Phase
}

// PhaseFactoryFunc adapts a function to PhaseFactory.
type PhaseFactoryFunc func(kind PhaseKind) Phase

// NewPhase calls f(kind).
func (f PhaseFactoryFunc) NewPhase(kind PhaseKind) Phase {
	return f(kind)
}
