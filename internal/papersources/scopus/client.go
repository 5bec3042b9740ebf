package scopus

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/papersources"
)

const (
	// DefaultBaseURL is the default Scopus API base URL.
	DefaultBaseURL = "https://api.elsevier.com/content"

	// DefaultRateLimit is the default rate limit (5 requests per second).
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the default count per request. COMPLETE view
	// allows at most 25.
	DefaultPageSize = 25

	apiKeyHeader = "X-ELS-APIKey"
	sourceName   = "Scopus"
)

// Config holds configuration for the Scopus client.
type Config struct {
	// BaseURL is the Scopus API base URL.
	BaseURL string

	// APIKey is the Elsevier API key. Required for all requests.
	APIKey string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// PageSize is the count requested per page, at most 25.
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
	if c.PageSize <= 0 || c.PageSize > DefaultPageSize {
		c.PageSize = DefaultPageSize
	}
}

// Client implements the papersources.PaperSource interface for Scopus.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var _ papersources.PaperSource = (*Client)(nil)

// New creates a new Scopus client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		BurstSize:    cfg.BurstSize,
		APIKey:       cfg.APIKey,
		APIKeyHeader: apiKeyHeader,
		Name:         sourceName,
		Source:       string(domain.SourceTypeScopus),
		Observer:     cfg.Observer,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a new Scopus client with a custom HTTP client.
// The API key header must be configured on httpClient.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries Scopus for papers matching params, paging with start/count
// until MaxResults papers are collected or the result set ends.
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
		Source: domain.SourceTypeScopus,
	}

	start := 0
	for len(result.Papers) < limit {
		count := c.config.PageSize
		if remaining := limit - len(result.Papers); remaining < count {
			count = remaining
		}

		page, err := c.fetchPage(ctx, params, start, count)
		if err != nil {
			return nil, err
		}
		result.Pages++
		result.TotalResults, _ = strconv.Atoi(page.SearchResults.TotalResults)

		entries := page.SearchResults.Entries
		// An empty result set is reported as a single entry carrying an error.
		if len(entries) == 1 && entries[0].Error != "" {
			break
		}
		for i := range entries {
			if paper := entryToPaper(&entries[i]); paper != nil {
				result.Papers = append(result.Papers, paper)
			}
			if len(result.Papers) >= limit {
				break
			}
		}

		start += len(entries)
		if len(entries) == 0 || start >= result.TotalResults {
			break
		}
	}

	result.SearchDuration = time.Since(startTime)
	return result, nil
}

func (c *Client) fetchPage(ctx context.Context, params papersources.SearchParams, start, count int) (*SearchResponse, error) {
	searchURL, err := c.buildSearchURL(params, start, count)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	var searchResp SearchResponse
	accept := http.Header{"Accept": []string{"application/json"}}
	if err := c.httpClient.GetJSON(ctx, searchURL, accept, &searchResp); err != nil {
		return nil, err
	}
	return &searchResp, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeScopus
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is enabled.
// Scopus requires an API key, so it returns false if the key is empty.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}

// BuildQuery returns the Scopus advanced search expression for params.
func BuildQuery(params papersources.SearchParams) string {
	parts := []string{fmt.Sprintf("TITLE-ABS-KEY(%s)", params.Query)}
	if params.YearFrom > 0 {
		parts = append(parts, fmt.Sprintf("PUBYEAR > %d", params.YearFrom-1))
	}
	if params.YearTo > 0 {
		parts = append(parts, fmt.Sprintf("PUBYEAR < %d", params.YearTo+1))
	}
	return strings.Join(parts, " AND ")
}

func (c *Client) buildSearchURL(params papersources.SearchParams, start, count int) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/search/scopus"

	q := url.Values{}
	q.Set("query", BuildQuery(params))
	q.Set("view", "COMPLETE")
	q.Set("count", strconv.Itoa(count))
	q.Set("start", strconv.Itoa(start))

	baseURL.RawQuery = q.Encode()
	return baseURL.String(), nil
}

// entryToPaper converts a Scopus entry to a domain Paper, or returns nil
// when the entry carries no identifier.
func entryToPaper(entry *Entry) *domain.Paper {
	if entry == nil {
		return nil
	}

	ids := domain.PaperIdentifiers{
		DOI:      strings.ToLower(strings.TrimSpace(entry.DOI)),
		ScopusID: strings.TrimSpace(strings.TrimPrefix(entry.Identifier, "SCOPUS_ID:")),
	}
	canonicalID := domain.GenerateCanonicalID(ids)
	if canonicalID == "" {
		return nil
	}

	var pubYear int
	if len(entry.CoverDate) >= 4 {
		pubYear, _ = strconv.Atoi(entry.CoverDate[:4])
	}

	citationCount, _ := strconv.Atoi(entry.CitedByCount)

	var keywords []string
	for _, kw := range strings.Split(entry.AuthKeywords, "|") {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	var paperURL string
	for _, link := range entry.Links {
		if link.Ref == "scopus" {
			paperURL = link.Href
			break
		}
	}
	if ids.DOI != "" {
		paperURL = "https://doi.org/" + ids.DOI
	}

	return &domain.Paper{
		CanonicalID:     canonicalID,
		Identifiers:     ids,
		Title:           strings.TrimSpace(entry.Title),
		Abstract:        strings.TrimSpace(entry.Description),
		Authors:         extractAuthors(entry),
		PublicationYear: pubYear,
		Venue:           strings.TrimSpace(entry.PublicationName),
		Keywords:        keywords,
		CitationCount:   citationCount,
		URL:             paperURL,
		OpenAccess:      entry.OpenAccessFlag,
		Source:          domain.SourceTypeScopus,
	}
}

// extractAuthors uses the COMPLETE view author list when available and
// falls back to dc:creator.
func extractAuthors(entry *Entry) []domain.Author {
	if len(entry.Authors) == 0 {
		if creator := strings.TrimSpace(entry.Creator); creator != "" {
			return []domain.Author{{Name: creator}}
		}
		return nil
	}

	affiliations := make(map[string]string, len(entry.Affiliations))
	for _, a := range entry.Affiliations {
		affiliations[a.ID] = a.Name
	}

	authors := make([]domain.Author, 0, len(entry.Authors))
	for _, sa := range entry.Authors {
		name := strings.TrimSpace(sa.Name)
		if name == "" {
			name = strings.TrimSpace(sa.GivenName + " " + sa.Surname)
		}
		if name == "" {
			continue
		}
		author := domain.Author{
			Name:  name,
			ORCID: strings.TrimSpace(sa.ORCID),
		}
		if len(sa.AffilIDs) > 0 {
			author.Affiliation = affiliations[sa.AffilIDs[0].ID]
		}
		authors = append(authors, author)
	}
	return authors
}
