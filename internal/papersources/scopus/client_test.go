package scopus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/papersources"
)

func newTestClient(serverURL string, pageSize int) *Client {
	cfg := Config{
		BaseURL:   serverURL,
		APIKey:    "test-key",
		Timeout:   5 * time.Second,
		RateLimit: 1000,
		BurstSize: 100,
		PageSize:  pageSize,
		Enabled:   true,
	}

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		BurstSize:    cfg.BurstSize,
		RetryDelay:   time.Millisecond,
		APIKey:       cfg.APIKey,
		APIKeyHeader: apiKeyHeader,
	})

	return NewWithHTTPClient(cfg, httpClient)
}

type pagedServer struct {
	mu      sync.Mutex
	total   int
	queries []url.Values
	headers []http.Header
}

func (p *pagedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.queries = append(p.queries, r.URL.Query())
	p.headers = append(p.headers, r.Header.Clone())
	p.mu.Unlock()

	q := r.URL.Query()
	start, _ := strconv.Atoi(q.Get("start"))
	count, _ := strconv.Atoi(q.Get("count"))

	resp := SearchResponse{SearchResults: SearchResults{TotalResults: strconv.Itoa(p.total)}}
	if p.total == 0 {
		resp.SearchResults.Entries = []Entry{{Error: "Result set was empty"}}
	}
	for i := start; i < start+count && i < p.total; i++ {
		resp.SearchResults.Entries = append(resp.SearchResults.Entries, Entry{
			Identifier: "SCOPUS_ID:" + strconv.Itoa(85000000+i),
			Title:      "Paper " + strconv.Itoa(i),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name   string
		params papersources.SearchParams
		want   string
	}{
		{"no years", papersources.SearchParams{Query: `"lstm"`}, `TITLE-ABS-KEY("lstm")`},
		{"from only", papersources.SearchParams{Query: "x", YearFrom: 2010}, "TITLE-ABS-KEY(x) AND PUBYEAR > 2009"},
		{"both bounds", papersources.SearchParams{Query: "x", YearFrom: 2010, YearTo: 2020}, "TITLE-ABS-KEY(x) AND PUBYEAR > 2009 AND PUBYEAR < 2021"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery(tt.params))
		})
	}
}

func TestClient_Search_Paging(t *testing.T) {
	ps := &pagedServer{total: 60}
	server := httptest.NewServer(ps)
	defer server.Close()

	client := newTestClient(server.URL, 25)
	result, err := client.Search(context.Background(), papersources.SearchParams{
		Query:      "fisheries",
		YearFrom:   2008,
		MaxResults: 55,
	})
	require.NoError(t, err)

	assert.Len(t, result.Papers, 55)
	assert.Equal(t, 60, result.TotalResults)
	assert.Equal(t, 3, result.Pages)
	require.Len(t, ps.queries, 3)

	assert.Equal(t, "0", ps.queries[0].Get("start"))
	assert.Equal(t, "25", ps.queries[0].Get("count"))
	assert.Equal(t, "25", ps.queries[1].Get("start"))
	assert.Equal(t, "50", ps.queries[2].Get("start"))
	assert.Equal(t, "5", ps.queries[2].Get("count"))
	assert.Equal(t, "COMPLETE", ps.queries[0].Get("view"))
	assert.Equal(t, "TITLE-ABS-KEY(fisheries) AND PUBYEAR > 2007", ps.queries[0].Get("query"))
	assert.Equal(t, "test-key", ps.headers[0].Get("X-ELS-APIKey"))
	assert.Equal(t, "application/json", ps.headers[0].Get("Accept"))
}

func TestClient_Search_StopsAtEndOfResults(t *testing.T) {
	ps := &pagedServer{total: 30}
	server := httptest.NewServer(ps)
	defer server.Close()

	client := newTestClient(server.URL, 25)
	result, err := client.Search(context.Background(), papersources.SearchParams{Query: "x", MaxResults: 100})
	require.NoError(t, err)

	assert.Len(t, result.Papers, 30)
	assert.Equal(t, 2, result.Pages)
}

func TestClient_Search_EmptyResultSet(t *testing.T) {
	ps := &pagedServer{total: 0}
	server := httptest.NewServer(ps)
	defer server.Close()

	client := newTestClient(server.URL, 25)
	result, err := client.Search(context.Background(), papersources.SearchParams{Query: "x", MaxResults: 10})
	require.NoError(t, err)

	assert.Empty(t, result.Papers)
	assert.Equal(t, 1, result.Pages)
}

func TestClient_Search_Errors(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		client := newTestClient("http://127.0.0.1:1", 25)
		_, err := client.Search(context.Background(), papersources.SearchParams{})
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"service-error":{"status":{"statusText":"Invalid API Key"}}}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL, 25)
		_, err := client.Search(context.Background(), papersources.SearchParams{Query: "x"})

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "Scopus", apiErr.Source)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Contains(t, apiErr.Message, "Invalid API Key")
	})
}

func TestEntryToPaper(t *testing.T) {
	entry := &Entry{
		Identifier:      "SCOPUS_ID:85012345678",
		DOI:             "10.1016/J.FISHRES.2020.105",
		Title:           "  Forecasting catches with LSTM ",
		Description:     "Abstract text.",
		PublicationName: "Fisheries Research",
		CoverDate:       "2020-03-01",
		CitedByCount:    "17",
		AuthKeywords:    "LSTM | fisheries |  ",
		OpenAccessFlag:  true,
		Affiliations:    []Affiliation{{ID: "60000001", Name: "Univ. of Bergen"}},
		Authors: []ScopusAuthor{
			{Name: "Hansen K.", ORCID: "0000-0002-0000-0001", AffilIDs: []AffiliationLink{{ID: "60000001"}}},
			{GivenName: "Ana", Surname: "Silva"},
			{},
		},
	}

	paper := entryToPaper(entry)
	require.NotNil(t, paper)

	assert.Equal(t, "doi:10.1016/j.fishres.2020.105", paper.CanonicalID)
	assert.Equal(t, "85012345678", paper.Identifiers.ScopusID)
	assert.Equal(t, "Forecasting catches with LSTM", paper.Title)
	assert.Equal(t, 2020, paper.PublicationYear)
	assert.Equal(t, 17, paper.CitationCount)
	assert.Equal(t, []string{"LSTM", "fisheries"}, paper.Keywords)
	assert.Equal(t, "https://doi.org/10.1016/j.fishres.2020.105", paper.URL)
	assert.True(t, paper.OpenAccess)
	assert.Equal(t, domain.SourceTypeScopus, paper.Source)
	require.Len(t, paper.Authors, 2)
	assert.Equal(t, "Univ. of Bergen", paper.Authors[0].Affiliation)
	assert.Equal(t, "Ana Silva", paper.Authors[1].Name)
}

func TestEntryToPaper_Fallbacks(t *testing.T) {
	assert.Nil(t, entryToPaper(nil))
	assert.Nil(t, entryToPaper(&Entry{Title: "no ids"}))

	paper := entryToPaper(&Entry{
		Identifier: "SCOPUS_ID:1",
		Creator:    "Doe J.",
		Links:      []Link{{Ref: "self", Href: "https://api"}, {Ref: "scopus", Href: "https://www.scopus.com/1"}},
	})
	require.NotNil(t, paper)
	assert.Equal(t, "scopus:1", paper.CanonicalID)
	assert.Equal(t, []domain.Author{{Name: "Doe J."}}, paper.Authors)
	assert.Equal(t, "https://www.scopus.com/1", paper.URL)
	assert.Nil(t, paper.Keywords)
}

func TestClient_IsEnabled(t *testing.T) {
	assert.True(t, New(Config{Enabled: true, APIKey: "k"}).IsEnabled())
	assert.False(t, New(Config{Enabled: true}).IsEnabled())
	assert.False(t, New(Config{APIKey: "k"}).IsEnabled())

	c := New(Config{PageSize: 100})
	assert.Equal(t, DefaultPageSize, c.config.PageSize)
	assert.Equal(t, "Scopus", c.Name())
	assert.Equal(t, domain.SourceTypeScopus, c.SourceType())
}
