// Package openalex provides a client for the OpenAlex API.
//
// OpenAlex is a free, open catalog of scholarly works. This package
// implements the PaperSource interface for keyword searches over the
// /works endpoint, paging with cursors until the requested number of
// papers is collected.
//
// API Documentation: https://docs.openalex.org/
package openalex

// SearchResponse represents the top-level response from the OpenAlex works search endpoint.
type SearchResponse struct {
	Meta    Meta   `json:"meta"`
	Results []Work `json:"results"`
}

// Meta contains metadata about the search results including pagination info.
type Meta struct {
	Count      int    `json:"count"`
	DBTime     int    `json:"db_response_time_ms"`
	PerPage    int    `json:"per_page"`
	NextCursor string `json:"next_cursor"`
}

// Work represents an academic work (paper) in OpenAlex.
type Work struct {
	ID              string       `json:"id"`
	DOI             string       `json:"doi"`
	Title           string       `json:"title"`
	DisplayName     string       `json:"display_name"`
	PublicationYear int          `json:"publication_year"`
	Type            string       `json:"type"`
	CitedByCount    int          `json:"cited_by_count"`
	OpenAccess      *OpenAccess  `json:"open_access"`
	Authorships     []Authorship `json:"authorships"`
	PrimaryLocation *Location    `json:"primary_location"`
	Keywords        []Keyword    `json:"keywords"`
	IDs             IDs          `json:"ids"`

	// Abstract is stored as an inverted index and reconstructed on conversion.
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

// OpenAccess contains open access information for a work.
type OpenAccess struct {
	IsOA  bool   `json:"is_oa"`
	OAURL string `json:"oa_url"`
}

// Authorship represents an author's contribution to a work.
type Authorship struct {
	Author       AuthorInfo    `json:"author"`
	Institutions []Institution `json:"institutions"`
}

// AuthorInfo contains basic author information.
type AuthorInfo struct {
	DisplayName string `json:"display_name"`
	Orcid       string `json:"orcid"`
}

// Institution represents an academic institution.
type Institution struct {
	DisplayName string `json:"display_name"`
}

// Location represents where a work is available.
type Location struct {
	Source     *Source `json:"source"`
	LandingURL string  `json:"landing_page_url"`
}

// Source represents a publication venue.
type Source struct {
	DisplayName string `json:"display_name"`
}

// Keyword is a keyword OpenAlex assigned to a work.
type Keyword struct {
	DisplayName string  `json:"display_name"`
	Score       float64 `json:"score"`
}

// IDs contains the identifiers OpenAlex reports for a work.
type IDs struct {
	OpenAlex string `json:"openalex"`
	DOI      string `json:"doi"`
}
