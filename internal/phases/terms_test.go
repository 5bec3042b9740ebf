package phases

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTerms(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"plain lines", "lstm\ncnn\n", []string{"lstm", "cnn"}},
		{"header and comments", "Terms\n# models\n\nlstm\n  gru  \n", []string{"lstm", "gru"}},
		{"quotes and commas", "\"deep learning\",\n'cnn'\n", []string{"deep learning", "cnn"}},
		{"duplicates", "LSTM\nlstm\nLstm\n", []string{"LSTM"}},
		{"header only skipped when first", "lstm\nterm\n", []string{"lstm", "term"}},
		{"byte order mark", "\ufeffterm\nfish\n", []string{"fish"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".csv")
			writeFile(t, path, tt.content)

			got, err := LoadTerms(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := LoadTerms(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestLoadDomains(t *testing.T) {
	env := newTestEnv(t)

	domains, err := LoadDomains(env.cfg.DomainFiles())
	require.NoError(t, err)
	require.Len(t, domains, 2, "missing optional domain3 is skipped")
	assert.Equal(t, 1, domains[0].Number)
	assert.Equal(t, "domain2", domains[1].Name())
	assert.Equal(t, []string{"fishery", "aquaculture", "fish stock"}, domains[1].Terms)

	writeFile(t, env.cfg.Domain3, "ocean\n")
	domains, err = LoadDomains(env.cfg.DomainFiles())
	require.NoError(t, err)
	assert.Len(t, domains, 3)

	writeFile(t, env.cfg.Domain2, "# nothing\n")
	_, err = LoadDomains(env.cfg.DomainFiles())
	assert.ErrorContains(t, err, "domain2: no terms")
}

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, `"machine learning" OR "cnn"`, BuildQuery([]string{"machine learning", `"cnn"`}))
	assert.Equal(t, "", BuildQuery(nil))
}

func TestTermMatcher(t *testing.T) {
	matchers := newTermMatchers([]string{"fish", "C++", "deep learning"})

	assert.Equal(t, 2, matchers[0].count("Fish and FISH, not fishery"))
	assert.Equal(t, 1, matchers[1].count("written in C++ code"))
	assert.Equal(t, 1, matchers[2].count("Deep Learning models"))
}

func TestWorkspace_JSONRoundTrip(t *testing.T) {
	ws, err := NewWorkspace(filepath.Join(t.TempDir(), "nested", "out"))
	require.NoError(t, err)

	assert.False(t, ws.Exists(IntegratedFile))
	require.NoError(t, ws.WriteJSON(IntegratedFile, map[string]int{"a": 1}))
	assert.True(t, ws.Exists(IntegratedFile))

	var got map[string]int
	require.NoError(t, ws.ReadJSON(IntegratedFile, &got))
	assert.Equal(t, map[string]int{"a": 1}, got)

	err = ws.ReadJSON(ClassifiedFile, &got)
	assert.True(t, errors.Is(err, ErrArtifactMissing))

	writeFile(t, ws.Path(AnalysisFile), "{broken")
	assert.ErrorContains(t, ws.ReadJSON(AnalysisFile, &got), "decoding")
	assert.Equal(t, "domain3_results.json", DomainResultsFile(3))
}

func TestSplitTerms(t *testing.T) {
	assert.Equal(t, []string{"deep learning", "lstm"}, SplitTerms("  deep learning\r\n\n lstm \n"))
	assert.Nil(t, SplitTerms(" \n\t\n"))
}

func TestWriteTerms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "Domain1.csv")

	require.NoError(t, WriteTerms(path, []string{"deep learning", " lstm\ngru ", ""}))

	got, err := LoadTerms(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"deep learning", "lstm", "gru"}, got)
}
