package models

// SearchRequest is the payload for POST /search.
type SearchRequest struct {
	Query string `json:"query" query:"q"`     // free-text, may embed filters
	Page  int    `json:"page"  query:"page"`  // 1-based; clamped by the handler
	Limit int    `json:"limit" query:"limit"` // page size
}

// ParsedQuery is the structured view of a raw search string.
type ParsedQuery struct {
	SemanticText   string   `json:"semantic_query"`
	LanguageFilter string   `json:"language,omitempty"`
	MinStars       int      `json:"min_stars,omitempty"`
	LabelFilter    []string `json:"labels,omitempty"`
	DaysAgo        int      `json:"days_ago,omitempty"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ID            string        `json:"id"`
	Metadata      IssueMetadata `json:"metadata"`
	Similarity    float64       `json:"similarity"`
	CombinedScore float64       `json:"combined_score"`
}

// SortMode selects the ordering for recent-issue browsing.
type SortMode string

const (
	SortNewest            SortMode = "newest"
	SortRecentlyDiscussed SortMode = "recently_discussed"
	SortRelevance         SortMode = "relevance"
	SortStars             SortMode = "stars"
)

// Valid reports whether m is one of the known sort modes.
func (m SortMode) Valid() bool {
	switch m {
	case SortNewest, SortRecentlyDiscussed, SortRelevance, SortStars:
		return true
	}
	return false
}

// RecentRequest drives GET /search/recent.
type RecentRequest struct {
	Limit     int
	SortBy    SortMode
	Languages []string
	Labels    []string
	DaysAgo   int
}

// SearchPage is the paginated response envelope for a search.
type SearchPage struct {
	Results     []SearchResult `json:"results"`
	ParsedQuery ParsedQuery    `json:"parsed_query"`
	Total       int            `json:"total"`
	Page        int            `json:"page"`
	Limit       int            `json:"limit"`
	TotalPages  int            `json:"total_pages"`
	HasNext     bool           `json:"has_next"`
	HasPrev     bool           `json:"has_prev"`
}

// LastUpdated reports the most recent ingestion run. Nil pointers mean the
// index has never been populated.
type LastUpdated struct {
	LastUpdated *string `json:"last_updated"`
	Timestamp   *int64  `json:"timestamp"`
	TotalIssues int     `json:"total_issues"`
}
