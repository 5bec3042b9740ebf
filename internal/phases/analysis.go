package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/textnorm"
)

const topN = 10

// YearCount is the number of publications in one year.
type YearCount struct {
	Year  int `json:"year"`
	Count int `json:"count"`
}

// CitedArticle is an entry of the most-cited list.
type CitedArticle struct {
	Title     string `json:"title"`
	Year      int    `json:"year"`
	Citations int    `json:"citations"`
	URL       string `json:"url,omitempty"`
}

// Figure is a chart written into the figures directory.
type Figure struct {
	Title string `json:"title"`
	File  string `json:"file"`
}

// AnalysisResults is the bibliometric analysis artifact.
type AnalysisResults struct {
	GeneratedAt         time.Time        `json:"generated_at"`
	InputArtifact       string           `json:"input_artifact"`
	TotalArticles       int              `json:"total_articles"`
	YearRange           string           `json:"year_range"`
	PublicationsPerYear []YearCount      `json:"publications_per_year"`
	TopVenues           []textnorm.Count `json:"top_venues"`
	TopAuthors          []textnorm.Count `json:"top_authors"`
	TopKeywords         []textnorm.Count `json:"top_keywords"`
	DomainCounts        []textnorm.Count `json:"domain_counts"`
	DomainCooccurrence  []textnorm.Count `json:"domain_cooccurrence"`
	Models              []textnorm.Count `json:"models"`
	Applications        []textnorm.Count `json:"applications"`
	DataTypes           []textnorm.Count `json:"data_types"`
	MostCited           []CitedArticle   `json:"most_cited"`
	Figures             []Figure         `json:"figures"`
}

// AnalysisPhase computes bibliometric statistics and charts.
type AnalysisPhase struct {
	cfg    *config.PipelineConfig
	ws     *Workspace
	logger zerolog.Logger
	now    func() time.Time
}

// Description implements pipeline.Phase.
func (p *AnalysisPhase) Description() string {
	return "Compute bibliometric statistics and figures"
}

// Run implements pipeline.Phase.
func (p *AnalysisPhase) Run(ctx context.Context) (bool, error) {
	articles, source, err := loadArticles(p.ws)
	if err != nil {
		p.logger.Error().Err(err).Msg("no article set to analyze")
		return false, nil
	}

	results := Analyze(articles)
	results.GeneratedAt = p.now()
	results.InputArtifact = source
	results.YearRange = p.cfg.YearRange()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	figures, err := writeFigures(p.cfg.FiguresDir, &results)
	if err != nil {
		return false, err
	}
	results.Figures = figures

	if err := p.ws.WriteJSON(AnalysisFile, results); err != nil {
		return false, err
	}

	p.logger.Info().
		Str("input", source).
		Int("articles", results.TotalArticles).
		Int("figures", len(figures)).
		Msg("analysis complete")
	return true, nil
}

// Analyze computes the statistics for articles. Figures and run metadata
// are left empty.
func Analyze(articles []domain.Article) AnalysisResults {
	years := make(map[int]int)
	venues := make(map[string]int)
	authors := make(map[string]int)
	keywords := make(map[string]int)
	domains := make(map[string]int)
	pairs := make(map[string]int)
	models := make(map[string]int)
	applications := make(map[string]int)
	dataTypes := make(map[string]int)

	for _, a := range articles {
		if a.PublicationYear > 0 {
			years[a.PublicationYear]++
		}
		if v := strings.TrimSpace(a.Venue); v != "" {
			venues[v]++
		}
		for _, au := range a.Authors {
			if name := strings.TrimSpace(au.Name); name != "" {
				authors[name]++
			}
		}
		for _, kw := range a.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				keywords[kw]++
			}
		}
		for i, d := range a.Domains {
			domains["domain"+strconv.Itoa(d)]++
			for _, other := range a.Domains[i+1:] {
				pairs[fmt.Sprintf("domain%d & domain%d", d, other)]++
			}
		}
		if a.Model != "" && a.Model != textnorm.NotMentioned {
			models[a.Model]++
		}
		countAnswer(applications, a.Classification["application"])
		countAnswer(dataTypes, a.Classification["data_type"])
	}

	yearCounts := make([]YearCount, 0, len(years))
	for y, c := range years {
		yearCounts = append(yearCounts, YearCount{Year: y, Count: c})
	}
	sort.Slice(yearCounts, func(i, j int) bool { return yearCounts[i].Year < yearCounts[j].Year })

	return AnalysisResults{
		TotalArticles:       len(articles),
		PublicationsPerYear: yearCounts,
		TopVenues:           textnorm.TopN(venues, topN),
		TopAuthors:          textnorm.TopN(authors, topN),
		TopKeywords:         textnorm.TopN(keywords, topN),
		DomainCounts:        textnorm.TopN(domains, 0),
		DomainCooccurrence:  textnorm.TopN(pairs, 0),
		Models:              textnorm.TopN(textnorm.ConsolidateCounts(models), 0),
		Applications:        textnorm.TopN(applications, topN),
		DataTypes:           textnorm.TopN(dataTypes, topN),
		MostCited:           mostCited(articles, topN),
	}
}

func countAnswer(counts map[string]int, answer string) {
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" || answer == strings.ToLower(textnorm.NotMentioned) || answer == "0" {
		return
	}
	counts[answer]++
}

func mostCited(articles []domain.Article, n int) []CitedArticle {
	cited := make([]CitedArticle, 0, len(articles))
	for _, a := range articles {
		cited = append(cited, CitedArticle{
			Title:     a.Title,
			Year:      a.PublicationYear,
			Citations: a.CitationCount,
			URL:       a.URL,
		})
	}
	sort.SliceStable(cited, func(i, j int) bool { return cited[i].Citations > cited[j].Citations })
	if len(cited) > n {
		cited = cited[:n]
	}
	return cited
}

func writeFigures(dir string, r *AnalysisResults) ([]Figure, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating figures directory: %w", err)
	}

	years := make([]textnorm.Count, 0, len(r.PublicationsPerYear))
	for _, y := range r.PublicationsPerYear {
		years = append(years, textnorm.Count{Label: strconv.Itoa(y.Year), Count: y.Count})
	}

	charts := []struct {
		file  string
		title string
		data  []textnorm.Count
	}{
		{"publications_per_year.svg", "Publications per year", years},
		{"top_venues.svg", "Top venues", r.TopVenues},
		{"domain_cooccurrence.svg", "Domain co-occurrence", r.DomainCooccurrence},
		{"model_distribution.svg", "Models", r.Models},
		{"applications.svg", "Applications", r.Applications},
	}

	figures := []Figure{}
	for _, c := range charts {
		if len(c.data) == 0 {
			continue
		}
		if err := writeFileAtomic(filepath.Join(dir, c.file), BarChartSVG(c.title, c.data)); err != nil {
			return nil, err
		}
		figures = append(figures, Figure{Title: c.title, File: c.file})
	}
	return figures, nil
}
