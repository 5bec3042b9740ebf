package papersources

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// SourceResult is one source's answer to a query. Exactly one of Result and
// Error is set.
type SourceResult struct {
	Source domain.SourceType
	Result *SearchResult
	Error  error
}

// Registry holds the paper sources of one pipeline run. It is built once and
// is read-only afterwards.
type Registry struct {
	sources []PaperSource
	timeout time.Duration
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithSourceTimeout bounds every source search issued by SearchAll.
func WithSourceTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// NewRegistry keeps the enabled sources, ordered by source type. A later
// source replaces an earlier one of the same type.
func NewRegistry(sources []PaperSource, opts ...RegistryOption) *Registry {
	byType := make(map[domain.SourceType]PaperSource, len(sources))
	for _, s := range sources {
		byType[s.SourceType()] = s
	}

	r := &Registry{}
	for _, s := range byType {
		if s.IsEnabled() {
			r.sources = append(r.sources, s)
		}
	}
	sort.Slice(r.sources, func(i, j int) bool {
		return r.sources[i].SourceType() < r.sources[j].SourceType()
	})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sources returns the enabled sources.
func (r *Registry) Sources() []PaperSource {
	return append([]PaperSource(nil), r.sources...)
}

// Len returns the number of enabled sources.
func (r *Registry) Len() int { return len(r.sources) }

// SearchAll queries every enabled source concurrently. One failing source
// does not cancel the others: errors are reported per source and the caller
// decides whether a partial answer is enough.
func (r *Registry) SearchAll(ctx context.Context, params SearchParams) []SourceResult {
	if len(r.sources) == 0 {
		return nil
	}

	results := make([]SourceResult, len(r.sources))
	var g errgroup.Group
	for i, source := range r.sources {
		g.Go(func() error {
			sctx := ctx
			if r.timeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(ctx, r.timeout)
				defer cancel()
			}
			res, err := source.Search(sctx, params)
			results[i] = SourceResult{Source: source.SourceType(), Result: res, Error: err}
			if err != nil {
				results[i].Result = nil
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
