package phases

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/llm"
	"github.com/helixir/bibliometric-pipeline/internal/papersources"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// testEnv is a temp directory with two domain term files and a workspace.
type testEnv struct {
	dir string
	cfg *config.PipelineConfig
	ws  *Workspace
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "Domain1.csv"), "term\nmachine learning\ndeep learning\nneural network\n")
	writeFile(t, filepath.Join(dir, "Domain2.csv"), "fishery\naquaculture\n# comment\n\nfish stock\n")

	cfg := config.DefaultPipelineConfig()
	cfg.Domain1 = filepath.Join(dir, "Domain1.csv")
	cfg.Domain2 = filepath.Join(dir, "Domain2.csv")
	cfg.Domain3 = filepath.Join(dir, "Domain3.csv")
	cfg.OutputDir = filepath.Join(dir, "outputs")
	cfg.FiguresDir = filepath.Join(dir, "figures")
	cfg.ReportFile = filepath.Join(dir, "report.md")
	cfg.TableFile = filepath.Join(dir, "articles_table.csv")
	cfg.MaxResults = 20
	cfg.YearStart = 2010
	cfg.Email = "me@example.org"

	ws, err := NewWorkspace(cfg.OutputDir)
	require.NoError(t, err)

	return &testEnv{dir: dir, cfg: &cfg, ws: ws}
}

func (e *testEnv) factory(searcher Searcher, classifier ArticleClassifier, runner CommandRunner) *Factory {
	return NewFactory(Deps{
		Config:     e.cfg,
		Workspace:  e.ws,
		Searcher:   searcher,
		Classifier: classifier,
		Runner:     runner,
		Logger:     zerolog.Nop(),
		Now:        fixedClock,
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func paper(id, title, abstract string, year int) *domain.Paper {
	return &domain.Paper{
		CanonicalID:     "doi:" + id,
		Identifiers:     domain.PaperIdentifiers{DOI: id},
		Title:           title,
		Abstract:        abstract,
		PublicationYear: year,
		Source:          domain.SourceTypeOpenAlex,
	}
}

// fakeSearcher answers SearchAll with searchFn and records the params.
type fakeSearcher struct {
	mu       sync.Mutex
	params   []papersources.SearchParams
	searchFn func(params papersources.SearchParams) []papersources.SourceResult
}

func (f *fakeSearcher) SearchAll(ctx context.Context, params papersources.SearchParams) []papersources.SourceResult {
	f.mu.Lock()
	f.params = append(f.params, params)
	f.mu.Unlock()
	return f.searchFn(params)
}

// fakeClassifier answers Classify with classifyFn.
type fakeClassifier struct {
	classifyFn func(title string) (map[string]string, error)
	calls      int
}

func (f *fakeClassifier) Classify(ctx context.Context, title string) (map[string]string, error) {
	f.calls++
	return f.classifyFn(title)
}

func (f *fakeClassifier) Questions() []llm.Question {
	return llm.DefaultQuestions()
}

// fakeRunner records invocations and runs runFn.
type fakeRunner struct {
	name  string
	args  []string
	runFn func(args []string) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.name = name
	f.args = args
	if f.runFn == nil {
		return nil, nil
	}
	return f.runFn(args)
}

func readRaw(ws *Workspace, name string) ([]byte, error) {
	return os.ReadFile(ws.Path(name))
}
