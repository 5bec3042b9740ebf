package phases

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/textnorm"
)

// MinMatchedDomains is the number of domains an article's text must match
// to be kept by domain analysis.
const MinMatchedDomains = 2

// DomainAnalysisResult is the domain analysis artifact.
type DomainAnalysisResult struct {
	Domains          []DomainTerms               `json:"domains"`
	ArticlesAnalyzed int                         `json:"articles_analyzed"`
	DomainCounts     map[string]int              `json:"domain_counts"`
	TermFrequencies  map[string][]textnorm.Count `json:"term_frequencies"`
	Articles         []domain.Article            `json:"articles"`
}

// DomainAnalysisPhase scores integrated articles against every domain's
// terms and keeps the articles that span several domains.
type DomainAnalysisPhase struct {
	cfg    *config.PipelineConfig
	ws     *Workspace
	logger zerolog.Logger
}

// Description implements pipeline.Phase.
func (p *DomainAnalysisPhase) Description() string {
	return "Analyze domain term overlap across integrated articles"
}

// Run implements pipeline.Phase.
func (p *DomainAnalysisPhase) Run(ctx context.Context) (bool, error) {
	domains, err := LoadDomains(p.cfg.DomainFiles())
	if err != nil {
		p.logger.Error().Err(err).Msg("loading domain terms")
		return false, nil
	}

	var articles []domain.Article
	if err := p.ws.ReadJSON(IntegratedFile, &articles); err != nil {
		p.logger.Error().Err(err).Msg("integrated results unavailable")
		return false, nil
	}

	result := AnalyzeDomains(articles, domains)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := p.ws.WriteJSON(DomainAnalysisFile, result); err != nil {
		return false, err
	}

	p.logger.Info().
		Int("analyzed", result.ArticlesAnalyzed).
		Int("kept", len(result.Articles)).
		Msg("domain analysis complete")
	return true, nil
}

// AnalyzeDomains counts term hits per domain in each article's title,
// abstract and keywords. Articles matching at least MinMatchedDomains
// domains are returned with their TermHits set and Domains extended by the
// matched domains.
func AnalyzeDomains(articles []domain.Article, domains []DomainTerms) DomainAnalysisResult {
	matchers := make([][]termMatcher, len(domains))
	for i, d := range domains {
		matchers[i] = newTermMatchers(d.Terms)
	}

	result := DomainAnalysisResult{
		Domains:          domains,
		ArticlesAnalyzed: len(articles),
		DomainCounts:     make(map[string]int, len(domains)),
		TermFrequencies:  make(map[string][]textnorm.Count, len(domains)),
		Articles:         []domain.Article{},
	}
	frequencies := make([]map[string]int, len(domains))
	for i := range frequencies {
		frequencies[i] = make(map[string]int)
	}

	for _, article := range articles {
		text := articleText(&article.Paper)
		hits := make(map[int]map[string]int)
		for i, d := range domains {
			for _, m := range matchers[i] {
				if c := m.count(text); c > 0 {
					if hits[d.Number] == nil {
						hits[d.Number] = make(map[string]int)
					}
					hits[d.Number][m.term] = c
				}
			}
		}
		if len(hits) < MinMatchedDomains {
			continue
		}

		article.TermHits = hits
		for i, d := range domains {
			if terms, ok := hits[d.Number]; ok {
				article.AddDomain(d.Number)
				result.DomainCounts[d.Name()]++
				for term, c := range terms {
					frequencies[i][term] += c
				}
			}
		}
		result.Articles = append(result.Articles, article)
	}

	for i, d := range domains {
		result.TermFrequencies[d.Name()] = textnorm.TopN(frequencies[i], 0)
	}
	return result
}

func articleText(p *domain.Paper) string {
	parts := make([]string, 0, 2+len(p.Keywords))
	parts = append(parts, p.Title, p.Abstract)
	parts = append(parts, p.Keywords...)
	return strings.Join(parts, " \n ")
}
