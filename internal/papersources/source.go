// Package papersources provides interfaces and types for academic paper source clients.
//
// Each bibliographic database (OpenAlex, Scopus) implements the PaperSource
// interface, so the search phase can query every enabled source concurrently
// through a Registry.
//
// Example usage:
//
//	registry := papersources.NewRegistry([]papersources.PaperSource{openalex.New(cfg)})
//	results := registry.SearchAll(ctx, papersources.SearchParams{
//		Query:      `"machine learning" OR "deep learning"`,
//		YearFrom:   2008,
//		MaxResults: 50,
//	})
package papersources

import (
	"context"
	"time"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// SearchParams defines the parameters for searching academic papers.
type SearchParams struct {
	// Query is the search query string (required). Terms joined with OR are
	// understood by every source.
	Query string

	// Terms are the individual terms Query was built from. Sources that
	// need their own query syntax rebuild the query from them.
	Terms []string

	// YearFrom filters papers published in or after this year (0 = no bound).
	YearFrom int

	// YearTo filters papers published in or before this year (0 = no bound).
	YearTo int

	// MaxResults caps the total number of papers returned. Sources page
	// internally until the cap or the end of the result set is reached.
	// A value of 0 uses the source's default page size for a single page.
	MaxResults int

	// Mailto is the contact address sent to sources with a polite pool.
	Mailto string
}

// SearchResult contains the results from a paper source search operation.
type SearchResult struct {
	// Papers contains the papers returned by the search.
	Papers []*domain.Paper

	// TotalResults is the number of matches reported by the source, which
	// may exceed len(Papers).
	TotalResults int

	// Pages is the number of HTTP pages fetched.
	Pages int

	// Source identifies which paper source provided these results.
	Source domain.SourceType

	// SearchDuration is the time taken to execute the search.
	SearchDuration time.Duration
}

// PaperSource defines the interface that all paper source clients must implement.
type PaperSource interface {
	// Search queries the paper source for papers matching the given parameters.
	// Implementations must respect context cancellation and wrap errors
	// with source context.
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// SourceType returns the type identifier for this paper source.
	SourceType() domain.SourceType

	// Name returns a human-readable name for logging and display.
	Name() string

	// IsEnabled returns whether this paper source is configured and usable.
	IsEnabled() bool
}

// RequestObserver is notified after every HTTP request to a source.
type RequestObserver interface {
	RecordSourceRequest(source string, success bool)
}
