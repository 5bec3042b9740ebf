package phases

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/pipeline"
	"github.com/helixir/bibliometric-pipeline/internal/textnorm"
)

func testDomains() []DomainTerms {
	return []DomainTerms{
		{Number: 1, Terms: []string{"machine learning", "deep learning"}},
		{Number: 2, Terms: []string{"fishery", "aquaculture"}},
		{Number: 3, Terms: []string{"ocean"}},
	}
}

func TestAnalyzeDomains(t *testing.T) {
	both := domain.Article{Paper: *paper("10.1/both", "Deep learning in aquaculture", "Deep learning models for fishery data.", 2020)}
	both.AddDomain(1)
	onlyML := domain.Article{Paper: *paper("10.1/ml", "Machine learning survey", "", 2019)}
	keywords := domain.Article{Paper: *paper("10.1/kw", "Ocean study", "", 2021)}
	keywords.Keywords = []string{"Fishery"}

	result := AnalyzeDomains([]domain.Article{both, onlyML, keywords}, testDomains())

	assert.Equal(t, 3, result.ArticlesAnalyzed)
	require.Len(t, result.Articles, 2)

	got := result.Articles[0]
	assert.Equal(t, "doi:10.1/both", got.CanonicalID)
	assert.Equal(t, []int{1, 2}, got.Domains)
	assert.Equal(t, map[int]map[string]int{
		1: {"deep learning": 2},
		2: {"fishery": 1, "aquaculture": 1},
	}, got.TermHits)

	assert.Equal(t, []int{2, 3}, result.Articles[1].Domains, "keywords count as text")

	assert.Equal(t, map[string]int{"domain1": 1, "domain2": 2, "domain3": 1}, result.DomainCounts)
	assert.Equal(t, []textnorm.Count{{Label: "deep learning", Count: 2}}, result.TermFrequencies["domain1"])
	assert.Equal(t, []textnorm.Count{
		{Label: "fishery", Count: 2},
		{Label: "aquaculture", Count: 1},
	}, result.TermFrequencies["domain2"])
}

func TestAnalyzeDomains_Empty(t *testing.T) {
	result := AnalyzeDomains(nil, testDomains())
	assert.Equal(t, 0, result.ArticlesAnalyzed)
	assert.NotNil(t, result.Articles)
	assert.Empty(t, result.TermFrequencies["domain1"])
}

func TestDomainAnalysisPhase_Run(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.ws.WriteJSON(IntegratedFile, []domain.Article{
		{Paper: *paper("10.1/a", "Neural network for fish stock assessment", "", 2022)},
		{Paper: *paper("10.1/b", "Aquaculture economics", "", 2022)},
	}))

	ok, err := env.factory(nil, nil, nil).NewPhase(pipeline.PhaseDomainAnalysis).Run(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	var result DomainAnalysisResult
	require.NoError(t, env.ws.ReadJSON(DomainAnalysisFile, &result))
	assert.Equal(t, 2, result.ArticlesAnalyzed)
	require.Len(t, result.Articles, 1)
	assert.Equal(t, "doi:10.1/a", result.Articles[0].CanonicalID)
	assert.Len(t, result.Domains, 2)
}

func TestDomainAnalysisPhase_MissingInput(t *testing.T) {
	env := newTestEnv(t)

	ok, err := env.factory(nil, nil, nil).NewPhase(pipeline.PhaseDomainAnalysis).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, env.ws.Exists(DomainAnalysisFile))
}
