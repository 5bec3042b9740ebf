// Package scopus provides a client for the Elsevier Scopus Search API.
//
// Queries are wrapped in TITLE-ABS-KEY and bounded with PUBYEAR clauses.
// Results are paged with start/count until the requested number of papers
// is collected. An API key is required.
//
// API Documentation: https://dev.elsevier.com/documentation/ScopusSearchAPI.wadl
package scopus

// SearchResponse represents the top-level Scopus search API response.
type SearchResponse struct {
	SearchResults SearchResults `json:"search-results"`
}

// SearchResults contains the search result metadata and entries.
type SearchResults struct {
	TotalResults string  `json:"opensearch:totalResults"`
	StartIndex   string  `json:"opensearch:startIndex"`
	ItemsPerPage string  `json:"opensearch:itemsPerPage"`
	Entries      []Entry `json:"entry"`
}

// Entry represents a single document in the Scopus search results.
type Entry struct {
	Identifier      string         `json:"dc:identifier"` // "SCOPUS_ID:85012345678"
	EID             string         `json:"eid"`
	DOI             string         `json:"prism:doi"`
	Title           string         `json:"dc:title"`
	Creator         string         `json:"dc:creator"`
	Description     string         `json:"dc:description"`
	PublicationName string         `json:"prism:publicationName"`
	CoverDate       string         `json:"prism:coverDate"` // "2024-01-15"
	CitedByCount    string         `json:"citedby-count"`
	AuthKeywords    string         `json:"authkeywords"` // "a | b | c"
	OpenAccessFlag  bool           `json:"openaccessFlag"`
	Affiliations    []Affiliation  `json:"affiliation"`
	Authors         []ScopusAuthor `json:"author"`
	Links           []Link         `json:"link"`
	Error           string         `json:"error"`
}

// Affiliation represents an institutional affiliation.
type Affiliation struct {
	ID   string `json:"afid"`
	Name string `json:"affilname"`
}

// ScopusAuthor represents a single author in COMPLETE view responses.
type ScopusAuthor struct {
	Name      string            `json:"authname"` // "Surname G."
	GivenName string            `json:"given-name"`
	Surname   string            `json:"surname"`
	ORCID     string            `json:"orcid"`
	AffilIDs  []AffiliationLink `json:"afid"`
}

// AffiliationLink references an entry affiliation by ID.
type AffiliationLink struct {
	ID string `json:"$"`
}

// Link is a typed hyperlink attached to an entry.
type Link struct {
	Ref  string `json:"@ref"`
	Href string `json:"@href"`
}
