package phases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/observability"
	"github.com/helixir/bibliometric-pipeline/internal/papersources"
)

// Searcher runs one query against every enabled paper source.
type Searcher interface {
	SearchAll(ctx context.Context, params papersources.SearchParams) []papersources.SourceResult
}

var _ Searcher = (*papersources.Registry)(nil)

// SourceOutcome summarises one source's answer to a domain query.
type SourceOutcome struct {
	Source   string        `json:"source"`
	Returned int           `json:"returned"`
	Total    int           `json:"total"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// DomainResults is the search artifact of one domain.
type DomainResults struct {
	Domain     int             `json:"domain"`
	File       string          `json:"file"`
	Query      string          `json:"query"`
	SearchedAt time.Time       `json:"searched_at"`
	Sources    []SourceOutcome `json:"sources"`
	Papers     []*domain.Paper `json:"papers"`
}

// SearchPhase queries every source for each domain and integrates the
// per-domain results into one deduplicated article set.
type SearchPhase struct {
	cfg      *config.PipelineConfig
	ws       *Workspace
	searcher Searcher
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// Description implements pipeline.Phase.
func (p *SearchPhase) Description() string {
	return "Search academic databases for each domain and integrate the results"
}

// Run implements pipeline.Phase.
func (p *SearchPhase) Run(ctx context.Context) (bool, error) {
	if p.searcher == nil && !p.cfg.SkipSearches {
		p.logger.Error().Msg("no paper sources configured")
		return false, nil
	}

	domains, err := LoadDomains(p.cfg.DomainFiles())
	if err != nil {
		p.logger.Error().Err(err).Msg("loading domain terms")
		return false, nil
	}

	results := make([]DomainResults, 0, len(domains))
	for _, d := range domains {
		var dr DomainResults
		if p.cfg.SkipSearches {
			if err := p.ws.ReadJSON(DomainResultsFile(d.Number), &dr); err != nil {
				p.logger.Error().Err(err).Int("domain", d.Number).Msg("cached domain results unavailable")
				return false, nil
			}
			p.logger.Info().Int("domain", d.Number).Int("papers", len(dr.Papers)).Msg("reusing cached domain results")
		} else {
			dr, err = p.searchDomain(ctx, d)
			if err != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				p.logger.Error().Err(err).Int("domain", d.Number).Msg("domain search failed")
				return false, nil
			}
			if err := p.ws.WriteJSON(DomainResultsFile(d.Number), dr); err != nil {
				return false, err
			}
		}
		results = append(results, dr)
	}

	if p.cfg.SkipIntegration {
		p.logger.Info().Msg("integration skipped")
		return true, nil
	}

	articles := Integrate(results)
	if err := p.ws.WriteJSON(IntegratedFile, articles); err != nil {
		return false, err
	}
	p.logger.Info().
		Int("domains", len(results)).
		Int("articles", len(articles)).
		Msg("domain results integrated")
	return true, nil
}

func (p *SearchPhase) searchDomain(ctx context.Context, d DomainTerms) (DomainResults, error) {
	params := papersources.SearchParams{
		Query:      BuildQuery(d.Terms),
		Terms:      d.Terms,
		YearFrom:   p.cfg.YearStart,
		YearTo:     p.cfg.YearEnd,
		MaxResults: p.cfg.MaxResults,
		Mailto:     p.cfg.Email,
	}

	dr := DomainResults{
		Domain:     d.Number,
		File:       d.File,
		Query:      params.Query,
		SearchedAt: p.now(),
		Papers:     []*domain.Paper{},
	}

	sourceResults := p.searcher.SearchAll(ctx, params)
	if len(sourceResults) == 0 {
		return dr, errors.New("no paper sources enabled")
	}

	seen := make(map[string]bool)
	failures := 0
	for _, sr := range sourceResults {
		outcome := SourceOutcome{Source: sr.Source.String()}
		if sr.Error != nil {
			failures++
			outcome.Error = sr.Error.Error()
			p.logger.Warn().Err(sr.Error).Int("domain", d.Number).Str("source", outcome.Source).Msg("source search failed")
			dr.Sources = append(dr.Sources, outcome)
			continue
		}

		outcome.Returned = len(sr.Result.Papers)
		outcome.Total = sr.Result.TotalResults
		outcome.Duration = sr.Result.SearchDuration
		dr.Sources = append(dr.Sources, outcome)
		p.metrics.RecordArticlesFound(outcome.Source, outcome.Returned)

		for _, paper := range sr.Result.Papers {
			if paper == nil || seen[paper.CanonicalID] {
				continue
			}
			seen[paper.CanonicalID] = true
			dr.Papers = append(dr.Papers, paper)
		}
	}

	if failures == len(sourceResults) {
		return dr, fmt.Errorf("all %d sources failed: %s", failures, dr.Sources[0].Error)
	}

	p.logger.Info().
		Int("domain", d.Number).
		Int("papers", len(dr.Papers)).
		Int("failed_sources", failures).
		Msg("domain searched")
	return dr, nil
}

// Integrate merges per-domain results into one article list ordered by first
// appearance. Papers found by several domains are merged and tagged with
// every domain that returned them.
func Integrate(results []DomainResults) []domain.Article {
	index := make(map[string]int)
	articles := []domain.Article{}
	for _, dr := range results {
		for _, paper := range dr.Papers {
			if paper == nil {
				continue
			}
			key := paper.CanonicalID
			if key == "" {
				key = "title:" + paper.Title
			}
			if i, ok := index[key]; ok {
				mergePaper(&articles[i].Paper, paper)
				articles[i].AddDomain(dr.Domain)
				continue
			}
			article := domain.Article{Paper: *paper}
			article.AddDomain(dr.Domain)
			index[key] = len(articles)
			articles = append(articles, article)
		}
	}
	return articles
}

// mergePaper fills gaps in dst from src.
func mergePaper(dst *domain.Paper, src *domain.Paper) {
	if dst.Abstract == "" {
		dst.Abstract = src.Abstract
	}
	if dst.Venue == "" {
		dst.Venue = src.Venue
	}
	if dst.URL == "" {
		dst.URL = src.URL
	}
	if dst.PublicationYear == 0 {
		dst.PublicationYear = src.PublicationYear
	}
	if len(dst.Authors) == 0 {
		dst.Authors = src.Authors
	}
	if src.CitationCount > dst.CitationCount {
		dst.CitationCount = src.CitationCount
	}
	if dst.Identifiers.DOI == "" {
		dst.Identifiers.DOI = src.Identifiers.DOI
	}
	if dst.Identifiers.OpenAlexID == "" {
		dst.Identifiers.OpenAlexID = src.Identifiers.OpenAlexID
	}
	if dst.Identifiers.ScopusID == "" {
		dst.Identifiers.ScopusID = src.Identifiers.ScopusID
	}
	dst.OpenAccess = dst.OpenAccess || src.OpenAccess

	have := make(map[string]bool, len(dst.Keywords))
	for _, kw := range dst.Keywords {
		have[kw] = true
	}
	for _, kw := range src.Keywords {
		if !have[kw] {
			dst.Keywords = append(dst.Keywords, kw)
			have[kw] = true
		}
	}
}
