package service

import "github.com/ahmednasr/firstcommit/indexer/internal/models"

// Page size bounds for search requests.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Paginate slices a ranked result list. Page is clamped into
// [1, totalPages]; an empty list still has one (empty) page.
func Paginate(results []models.SearchResult, parsed models.ParsedQuery, page, limit int) models.SearchPage {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	total := len(results)
	totalPages := max(1, (total+limit-1)/limit)
	page = max(1, min(page, totalPages))

	start := min((page-1)*limit, total)
	end := min(start+limit, total)
	pageResults := results[start:end]
	if pageResults == nil {
		pageResults = []models.SearchResult{}
	}

	return models.SearchPage{
		Results:     pageResults,
		ParsedQuery: parsed,
		Total:       total,
		Page:        page,
		Limit:       limit,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}
