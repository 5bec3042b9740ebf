package pipeline

import "github.com/helixir/bibliometric-pipeline/internal/config"

// SelectKinds returns the phase kinds a configuration asks for, in run order.
//
// The only_* flags are checked in precedence order only_report, only_analysis,
// only_search; the first one set wins and the remaining flags are ignored
// except skip_table under only_analysis. A full run starts from
// CanonicalOrder and drops phases per skip flag. When both skip_searches and
// skip_integration are set there is nothing left for Search to do, so it is
// dropped too.
func SelectKinds(cfg *config.PipelineConfig) []PhaseKind {
	switch {
	case cfg.OnlyReport:
		return []PhaseKind{PhaseReport}
	case cfg.OnlyAnalysis:
		kinds := []PhaseKind{PhaseAnalysis}
		if !cfg.SkipTable {
			kinds = append(kinds, PhaseTableExport)
		}
		return kinds
	case cfg.OnlySearch:
		return []PhaseKind{PhaseSearch}
	}

	skip := map[PhaseKind]bool{}
	if cfg.SkipSearches && cfg.SkipIntegration {
		skip[PhaseSearch] = true
	}
	if cfg.SkipDomainAnalysis {
		// classification reads the domain analysis output
		skip[PhaseDomainAnalysis] = true
		skip[PhaseClassification] = true
	}
	if cfg.SkipClassification {
		skip[PhaseClassification] = true
	}
	if cfg.SkipTable {
		skip[PhaseTableExport] = true
	}

	kinds := make([]PhaseKind, 0, len(CanonicalOrder))
	for _, k := range CanonicalOrder {
		if !skip[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// SelectPhases builds the phases for cfg using factory.
func SelectPhases(cfg *config.PipelineConfig, factory PhaseFactory) []Phase {
	kinds := SelectKinds(cfg)
	phases := make([]Phase, 0, len(kinds))
	for _, k := range kinds {
		phases = append(phases, factory.NewPhase(k))
	}
	return phases
}
