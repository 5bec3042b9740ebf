package openalex

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/papersources"
)

const (
	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the page size used when the caller sets no cap.
	DefaultPageSize = 25

	// MaxPageSize is the largest per_page value OpenAlex accepts.
	MaxPageSize = 200

	doiPrefix        = "https://doi.org/"
	openAlexIDPrefix = "https://openalex.org/"
)

// Config holds configuration for the OpenAlex client.
type Config struct {
	// BaseURL is the OpenAlex API base URL.
	BaseURL string

	// Email is the default contact address for the polite pool. A Mailto in
	// SearchParams takes precedence.
	Email string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// PageSize is the number of works requested per page, at most 200.
	PageSize int

	// Enabled indicates whether this source is enabled for searches.
	Enabled bool

	// Observer receives one notification per HTTP attempt (optional).
	Observer papersources.RequestObserver
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize > MaxPageSize {
		c.PageSize = MaxPageSize
	}
}

// Client implements the papersources.PaperSource interface for OpenAlex.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var _ papersources.PaperSource = (*Client)(nil)

// New creates a new OpenAlex client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	userAgent := "bibliometric-pipeline/1.0"
	if cfg.Email != "" {
		userAgent += " (mailto:" + cfg.Email + ")"
	}

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		UserAgent: userAgent,
		Name:      "OpenAlex",
		Source:    string(domain.SourceTypeOpenAlex),
		Observer:  cfg.Observer,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a new OpenAlex client with a custom HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries OpenAlex for works matching params. Pages are fetched with
// cursor pagination until MaxResults papers are collected or the result set
// ends. Works without any identifier are skipped.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	startTime := time.Now()

	if strings.TrimSpace(params.Query) == "" {
		return nil, domain.NewValidationError("query", "search query is required")
	}

	limit := params.MaxResults
	if limit <= 0 {
		limit = c.config.PageSize
	}

	result := &papersources.SearchResult{
		Source: domain.SourceTypeOpenAlex,
	}

	cursor := "*"
	for len(result.Papers) < limit && cursor != "" {
		perPage := c.config.PageSize
		if remaining := limit - len(result.Papers); remaining < perPage {
			perPage = remaining
		}

		page, err := c.fetchPage(ctx, params, cursor, perPage)
		if err != nil {
			return nil, err
		}
		result.Pages++
		result.TotalResults = page.Meta.Count

		for i := range page.Results {
			if paper := workToPaper(&page.Results[i]); paper != nil {
				result.Papers = append(result.Papers, paper)
			}
			if len(result.Papers) >= limit {
				break
			}
		}

		if len(page.Results) == 0 {
			break
		}
		cursor = page.Meta.NextCursor
	}

	result.SearchDuration = time.Since(startTime)
	return result, nil
}

func (c *Client) fetchPage(ctx context.Context, params papersources.SearchParams, cursor string, perPage int) (*SearchResponse, error) {
	searchURL, err := c.buildSearchURL(params, cursor, perPage)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	var searchResp SearchResponse
	if err := c.httpClient.GetJSON(ctx, searchURL, nil, &searchResp); err != nil {
		return nil, err
	}
	return &searchResp, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeOpenAlex
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return "OpenAlex"
}

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) buildSearchURL(params papersources.SearchParams, cursor string, perPage int) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	baseURL.Path = strings.TrimSuffix(baseURL.Path, "/") + "/works"

	query := url.Values{}
	query.Set("search", params.Query)
	if filters := buildFilters(params); len(filters) > 0 {
		query.Set("filter", strings.Join(filters, ","))
	}
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("cursor", cursor)

	mailto := params.Mailto
	if mailto == "" {
		mailto = c.config.Email
	}
	if mailto != "" {
		query.Set("mailto", mailto)
	}

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

func buildFilters(params papersources.SearchParams) []string {
	var filters []string
	if params.YearFrom > 0 {
		filters = append(filters, fmt.Sprintf("from_publication_date:%04d-01-01", params.YearFrom))
	}
	if params.YearTo > 0 {
		filters = append(filters, fmt.Sprintf("to_publication_date:%04d-12-31", params.YearTo))
	}
	return filters
}

// workToPaper converts an OpenAlex Work to a domain Paper, or returns nil
// when the work carries no identifier.
func workToPaper(work *Work) *domain.Paper {
	if work == nil {
		return nil
	}

	doi := normalizeDOI(work.DOI)
	if doi == "" {
		doi = normalizeDOI(work.IDs.DOI)
	}

	openAlexID := normalizeOpenAlexID(work.ID)
	if openAlexID == "" {
		openAlexID = normalizeOpenAlexID(work.IDs.OpenAlex)
	}

	ids := domain.PaperIdentifiers{
		DOI:        doi,
		OpenAlexID: openAlexID,
	}
	canonicalID := domain.GenerateCanonicalID(ids)
	if canonicalID == "" {
		return nil
	}

	authors := make([]domain.Author, 0, len(work.Authorships))
	for _, authorship := range work.Authorships {
		author := domain.Author{
			Name:  authorship.Author.DisplayName,
			ORCID: strings.TrimSpace(strings.TrimPrefix(authorship.Author.Orcid, "https://orcid.org/")),
		}
		if len(authorship.Institutions) > 0 {
			author.Affiliation = authorship.Institutions[0].DisplayName
		}
		authors = append(authors, author)
	}

	title := work.DisplayName
	if title == "" {
		title = work.Title
	}

	var venue, landing string
	if work.PrimaryLocation != nil {
		landing = work.PrimaryLocation.LandingURL
		if work.PrimaryLocation.Source != nil {
			venue = work.PrimaryLocation.Source.DisplayName
		}
	}

	paperURL := landing
	if doi != "" {
		paperURL = doiPrefix + doi
	}

	var openAccess bool
	if work.OpenAccess != nil {
		openAccess = work.OpenAccess.IsOA
	}

	keywords := make([]string, 0, len(work.Keywords))
	for _, kw := range work.Keywords {
		if kw.DisplayName != "" {
			keywords = append(keywords, kw.DisplayName)
		}
	}

	return &domain.Paper{
		CanonicalID:     canonicalID,
		Identifiers:     ids,
		Title:           title,
		Abstract:        reconstructAbstract(work.AbstractInvertedIndex),
		Authors:         authors,
		PublicationYear: work.PublicationYear,
		Venue:           venue,
		Keywords:        keywords,
		CitationCount:   work.CitedByCount,
		URL:             paperURL,
		OpenAccess:      openAccess,
		Source:          domain.SourceTypeOpenAlex,
	}
}

// normalizeDOI strips URL prefixes from DOIs and returns lowercase.
func normalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return ""
	}
	doi = strings.TrimPrefix(doi, doiPrefix)
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return strings.ToLower(strings.TrimSpace(doi))
}

// normalizeOpenAlexID extracts the short ID from full OpenAlex URLs.
func normalizeOpenAlexID(id string) string {
	return strings.TrimSpace(strings.TrimPrefix(id, openAlexIDPrefix))
}

// reconstructAbstract rebuilds the abstract text from OpenAlex's inverted
// index, which maps each word to its positions.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	const maxAbstractWords = 100_000
	totalPairs := 0
	for _, positions := range invertedIndex {
		totalPairs += len(positions)
	}
	if totalPairs > maxAbstractWords {
		return ""
	}

	pairs := make([]posWord, 0, totalPairs)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	var builder strings.Builder
	builder.Grow(totalPairs * 7)
	for i, pair := range pairs {
		if i > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(pair.word)
	}
	return builder.String()
}
