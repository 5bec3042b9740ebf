package domain

import (
	"strings"
)

// SourceType represents the source API that provided paper data.
type SourceType string

// Supported paper source APIs.
const (
	SourceTypeOpenAlex SourceType = "openalex"
	SourceTypeScopus   SourceType = "scopus"
)

// String returns the string representation of the source type.
func (s SourceType) String() string {
	return string(s)
}

// PaperIdentifiers holds the identifiers a source may report for a paper.
type PaperIdentifiers struct {
	DOI        string `json:"doi,omitempty"`
	OpenAlexID string `json:"openalex_id,omitempty"`
	ScopusID   string `json:"scopus_id,omitempty"`
}

// GenerateCanonicalID generates a canonical identifier from paper identifiers.
// Priority order: DOI > OpenAlex > Scopus.
// Returns empty string if no identifiers are available.
func GenerateCanonicalID(ids PaperIdentifiers) string {
	if doi := strings.TrimSpace(ids.DOI); doi != "" {
		return "doi:" + strings.ToLower(doi)
	}
	if openalex := strings.TrimSpace(ids.OpenAlexID); openalex != "" {
		return "openalex:" + openalex
	}
	if scopus := strings.TrimSpace(ids.ScopusID); scopus != "" {
		return "scopus:" + scopus
	}
	return ""
}

// Author represents a paper author with optional affiliation and ORCID.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// String returns a formatted string representation of the author.
func (a Author) String() string {
	var sb strings.Builder
	sb.WriteString(a.Name)

	if a.Affiliation != "" {
		sb.WriteString(" (")
		sb.WriteString(a.Affiliation)
		sb.WriteString(")")
	}

	if a.ORCID != "" {
		sb.WriteString(" [")
		sb.WriteString(a.ORCID)
		sb.WriteString("]")
	}

	return sb.String()
}

// Paper represents an academic paper as returned by a paper source.
type Paper struct {
	CanonicalID     string           `json:"canonical_id"`
	Identifiers     PaperIdentifiers `json:"identifiers"`
	Title           string           `json:"title"`
	Abstract        string           `json:"abstract,omitempty"`
	Authors         []Author         `json:"authors,omitempty"`
	PublicationYear int              `json:"publication_year,omitempty"`
	Venue           string           `json:"venue,omitempty"`
	Keywords        []string         `json:"keywords,omitempty"`
	CitationCount   int              `json:"citation_count"`
	URL             string           `json:"url,omitempty"`
	OpenAccess      bool             `json:"open_access"`
	Source          SourceType       `json:"source"`
}

// HasIdentifier returns true if the paper has at least one identifier.
func (p *Paper) HasIdentifier() bool {
	return p.CanonicalID != ""
}

// AuthorNames returns the author names joined with "; ".
func (p *Paper) AuthorNames() string {
	names := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return strings.Join(names, "; ")
}

// Article is a paper carrying the annotations added by the pipeline phases.
type Article struct {
	Paper

	// Domains lists the domain numbers (1-based) whose search returned the article
	// or whose terms the article matches.
	Domains []int `json:"domains"`

	// TermHits maps a domain number to the matched terms and their counts.
	TermHits map[int]map[string]int `json:"term_hits,omitempty"`

	// Classification holds the LLM answers keyed by field name.
	Classification map[string]string `json:"classification,omitempty"`

	// Model is the normalised model name taken from the classification.
	Model string `json:"model,omitempty"`
}

// InDomain reports whether the article is associated with domain n.
func (a *Article) InDomain(n int) bool {
	for _, d := range a.Domains {
		if d == n {
			return true
		}
	}
	return false
}

// AddDomain associates the article with domain n, keeping Domains sorted and unique.
func (a *Article) AddDomain(n int) {
	for i, d := range a.Domains {
		if d == n {
			return
		}
		if d > n {
			a.Domains = append(a.Domains[:i], append([]int{n}, a.Domains[i:]...)...)
			return
		}
	}
	a.Domains = append(a.Domains, n)
}
