package phases

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/papersources"
	"github.com/helixir/bibliometric-pipeline/internal/pipeline"
	"github.com/helixir/bibliometric-pipeline/internal/runlog"
)

func TestFactory_NewPhase(t *testing.T) {
	env := newTestEnv(t)
	f := env.factory(nil, nil, nil)

	for _, kind := range pipeline.CanonicalOrder {
		phase := f.NewPhase(kind)
		require.NotNil(t, phase, kind.String())
		assert.NotEmpty(t, phase.Description())
	}
	assert.Nil(t, f.NewPhase(pipeline.PhaseKind(99)))
}

func TestFactory_Defaults(t *testing.T) {
	f := NewFactory(Deps{})
	assert.IsType(t, ExecRunner{}, f.deps.Runner)
	assert.NotNil(t, f.deps.Now)
}

func TestFullPipeline(t *testing.T) {
	env := newTestEnv(t)

	searcher := &fakeSearcher{searchFn: func(params papersources.SearchParams) []papersources.SourceResult {
		shared := paper("10.1/shared", "Deep learning for fishery stock assessment", "An LSTM applied to aquaculture.", 2021)
		shared.Venue = "Fisheries Research"
		other := paper("10.1/"+params.Terms[0], "Only "+params.Terms[0], "", 2019)
		return []papersources.SourceResult{{
			Source: domain.SourceTypeOpenAlex,
			Result: &papersources.SearchResult{Papers: []*domain.Paper{shared, other}},
		}}
	}}
	classifier := &fakeClassifier{classifyFn: func(string) (map[string]string, error) {
		return map[string]string{"model": "LSTM", "application": "stock assessment"}, nil
	}}

	journal, err := runlog.New(filepath.Join(env.dir, "logs"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	var lastFraction float64
	exec := pipeline.NewExecutor(env.cfg, env.factory(searcher, classifier, &fakeRunner{}), journal,
		pipeline.WithProgress(func(phase string, fraction float64, message string) {
			lastFraction = fraction
		}),
	)

	require.True(t, exec.Execute(context.Background()))
	assert.Equal(t, 1.0, lastFraction)

	summary, err := exec.ExecutionSummary()
	require.NoError(t, err)
	assert.Equal(t, []string{"Search", "DomainAnalysis", "Classification", "Analysis", "TableExport", "Report"}, executedKinds(summary))

	var classified []domain.Article
	require.NoError(t, env.ws.ReadJSON(ClassifiedFile, &classified))
	require.Len(t, classified, 1)
	assert.Equal(t, "lstm", classified[0].Model)

	report, err := os.ReadFile(env.cfg.ReportFile)
	require.NoError(t, err)
	assert.Contains(t, string(report), "| lstm | 1 |")
	assert.FileExists(t, env.cfg.TableFile)
	assert.FileExists(t, filepath.Join(env.dir, "logs", runlog.DefaultSummaryFile))
}

func TestOnlyAnalysisPipeline(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.OnlyAnalysis = true
	require.NoError(t, env.ws.WriteJSON(IntegratedFile, classifiedArticles()))

	exec := pipeline.NewExecutor(env.cfg, env.factory(nil, nil, nil), nil)
	require.True(t, exec.Execute(context.Background()))

	summary, err := exec.ExecutionSummary()
	require.NoError(t, err)
	assert.Equal(t, []string{"Analysis", "TableExport"}, executedKinds(summary))
	assert.NoFileExists(t, env.cfg.ReportFile)
}

func executedKinds(s pipeline.ExecutionSummary) []string {
	kinds := make([]string, 0, len(s.Phases))
	for _, p := range s.Phases {
		kinds = append(kinds, p.Kind)
	}
	return kinds
}
