package phases

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DomainTerms is the term list of one numbered domain.
type DomainTerms struct {
	Number int      `json:"number"`
	File   string   `json:"file"`
	Terms  []string `json:"terms"`
}

// Name returns "domainN".
func (d DomainTerms) Name() string {
	return fmt.Sprintf("domain%d", d.Number)
}

// LoadTerms reads a domain term file: one term per line. Blank lines, lines
// starting with '#' and a leading "term"/"terms" header are skipped.
// Surrounding quotes and a trailing comma are removed. Duplicate terms are
// dropped case-insensitively.
func LoadTerms(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening term file: %w", err)
	}
	defer f.Close()

	var terms []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		line = strings.TrimSpace(strings.TrimSuffix(line, ","))
		line = strings.Trim(line, `"'`)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if first {
			first = false
			if lower := strings.ToLower(line); lower == "term" || lower == "terms" {
				continue
			}
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		terms = append(terms, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading term file %s: %w", path, err)
	}
	return terms, nil
}

// SplitTerms splits newline separated term text, trimming each term and
// dropping blank lines.
func SplitTerms(text string) []string {
	var terms []string
	for _, line := range strings.Split(text, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// WriteTerms writes terms to path in the format LoadTerms reads, one per
// line, creating the parent directory.
func WriteTerms(path string, terms []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating term directory: %w", err)
	}
	var b strings.Builder
	for _, t := range terms {
		for _, line := range SplitTerms(t) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing term file: %w", err)
	}
	return nil
}

// LoadDomains loads the term files in order, numbering domains from 1. An
// empty path ends the list. Optional files (beyond the first two) that do
// not exist are skipped.
func LoadDomains(files []string) ([]DomainTerms, error) {
	var domains []DomainTerms
	for i, file := range files {
		if file == "" {
			break
		}
		if i >= 2 {
			if _, err := os.Stat(file); err != nil {
				continue
			}
		}
		terms, err := LoadTerms(file)
		if err != nil {
			return nil, fmt.Errorf("domain%d: %w", i+1, err)
		}
		if len(terms) == 0 {
			return nil, fmt.Errorf("domain%d: no terms in %s", i+1, file)
		}
		domains = append(domains, DomainTerms{Number: i + 1, File: file, Terms: terms})
	}
	return domains, nil
}

// BuildQuery joins terms into a quoted OR expression.
func BuildQuery(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, "")+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// termMatcher counts whole-word, case-insensitive occurrences of a term.
type termMatcher struct {
	term string
	re   *regexp.Regexp
}

func newTermMatchers(terms []string) []termMatcher {
	matchers := make([]termMatcher, 0, len(terms))
	for _, t := range terms {
		pattern := regexp.QuoteMeta(t)
		if isWordByte(t[0]) {
			pattern = `\b` + pattern
		}
		if isWordByte(t[len(t)-1]) {
			pattern += `\b`
		}
		matchers = append(matchers, termMatcher{
			term: t,
			re:   regexp.MustCompile(`(?i)` + pattern),
		})
	}
	return matchers
}

func (m termMatcher) count(text string) int {
	return len(m.re.FindAllStringIndex(text, -1))
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
