// Package phases implements the six pipeline phases. Phases exchange data
// through JSON files in a shared Workspace directory, so any suffix of the
// pipeline can be re-run from the artifacts of an earlier run.
package phases

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Artifact file names inside the workspace.
const (
	IntegratedFile     = "integrated_results.json"
	DomainAnalysisFile = "domain_analysis.json"
	ClassifiedFile     = "classified_articles.json"
	AnalysisFile       = "analysis_results.json"
)

// ErrArtifactMissing is returned when a phase input has not been produced.
var ErrArtifactMissing = errors.New("artifact missing")

// Workspace is the directory holding intermediate phase artifacts.
type Workspace struct {
	dir string
}

// NewWorkspace creates dir if needed and returns a Workspace rooted there.
func NewWorkspace(dir string) (*Workspace, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace %s: %w", dir, err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the path of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// DomainResultsFile returns the artifact name for domain n's search results.
func DomainResultsFile(n int) string {
	return fmt.Sprintf("domain%d_results.json", n)
}

// Exists reports whether the artifact name has been written.
func (w *Workspace) Exists(name string) bool {
	_, err := os.Stat(w.Path(name))
	return err == nil
}

// WriteJSON atomically replaces the artifact name with the JSON encoding of v.
func (w *Workspace) WriteJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return writeFileAtomic(w.Path(name), data)
}

// ReadJSON decodes the artifact name into v. A missing artifact yields an
// error wrapping ErrArtifactMissing.
func (w *Workspace) ReadJSON(name string, v interface{}) error {
	data, err := os.ReadFile(w.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, name)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
