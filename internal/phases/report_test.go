package phases

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/bibliometric-pipeline/internal/pipeline"
)

func writeAnalysisResults(t *testing.T, env *testEnv) {
	t.Helper()
	r := Analyze(classifiedArticles())
	r.InputArtifact = ClassifiedFile
	r.YearRange = "2010-present"
	r.Figures = []Figure{{Title: "Models", File: "model_distribution.svg"}}
	require.NoError(t, env.ws.WriteJSON(AnalysisFile, r))
}

func TestRenderReport(t *testing.T) {
	r := Analyze(classifiedArticles())
	r.YearRange = "2010-2024"
	r.TopVenues[0].Label = "A | B"
	r.Figures = []Figure{{Title: "Publications per year", File: "publications_per_year.svg"}}

	out, err := RenderReport(r, "/work/figures", "/work", fixedNow)
	require.NoError(t, err)
	md := string(out)

	assert.Contains(t, md, "# Bibliometric Analysis Report")
	assert.Contains(t, md, "Generated: 2024-05-01 12:00 UTC")
	assert.Contains(t, md, "- Articles analyzed: 3")
	assert.Contains(t, md, "- Publication window: 2010-2024")
	assert.Contains(t, md, "| domain1 & domain2 | 2 |")
	assert.Contains(t, md, "| 2021 | 1 |")
	assert.Contains(t, md, "| lstm | 1 |")
	assert.Contains(t, md, `| A \| B | 2 |`)
	assert.Contains(t, md, "| 1 | CNN for fish images | 2021 | 40 |")
	assert.Contains(t, md, "![Publications per year](figures/publications_per_year.svg)")
}

func TestRenderReport_OmitsEmptySections(t *testing.T) {
	out, err := RenderReport(AnalysisResults{YearRange: "2008-present"}, "figures", ".", fixedNow)
	require.NoError(t, err)

	md := string(out)
	assert.Contains(t, md, "- Articles analyzed: 0")
	assert.NotContains(t, md, "## Models")
	assert.NotContains(t, md, "## Figures")
}

func TestReportPhase_Markdown(t *testing.T) {
	env := newTestEnv(t)
	writeAnalysisResults(t, env)
	runner := &fakeRunner{}

	ok, err := env.factory(nil, nil, runner).NewPhase(pipeline.PhaseReport).Run(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	data, err := os.ReadFile(env.cfg.ReportFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "![Models](figures/model_distribution.svg)")
	assert.Empty(t, runner.name, "pandoc not run without generate_pdf")
}

func TestReportPhase_PDF(t *testing.T) {
	env := newTestEnv(t)
	writeAnalysisResults(t, env)
	env.cfg.GeneratePDF = true
	env.cfg.PandocPath = "/opt/pandoc"

	runner := &fakeRunner{runFn: func(args []string) ([]byte, error) {
		return nil, os.WriteFile(args[2], []byte("%PDF"), 0o644)
	}}

	ok, err := env.factory(nil, nil, runner).NewPhase(pipeline.PhaseReport).Run(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	pdf := filepath.Join(env.dir, "report.pdf")
	assert.Equal(t, "/opt/pandoc", runner.name)
	assert.Equal(t, []string{env.cfg.ReportFile, "-o", pdf, "--resource-path", env.dir}, runner.args)
	assert.FileExists(t, pdf)
}

func TestReportPhase_PandocFailureFailsPhase(t *testing.T) {
	tests := []struct {
		name  string
		runFn func(args []string) ([]byte, error)
	}{
		{"pandoc error", func([]string) ([]byte, error) { return []byte("pdflatex not found"), errors.New("exit status 43") }},
		{"no output file", func([]string) ([]byte, error) { return nil, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			writeAnalysisResults(t, env)
			env.cfg.GeneratePDF = true

			ok, err := env.factory(nil, nil, &fakeRunner{runFn: tt.runFn}).NewPhase(pipeline.PhaseReport).Run(context.Background())
			require.NoError(t, err)
			assert.False(t, ok)
			assert.FileExists(t, env.cfg.ReportFile, "markdown is kept")
		})
	}
}

func TestReportPhase_NoAnalysis(t *testing.T) {
	env := newTestEnv(t)

	ok, err := env.factory(nil, nil, &fakeRunner{}).NewPhase(pipeline.PhaseReport).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPDFPath(t *testing.T) {
	assert.Equal(t, "out/report.pdf", PDFPath("out/report.md"))
	assert.Equal(t, "report.pdf", PDFPath("report"))
}
