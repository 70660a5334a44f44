// Package service holds the request-driven logic behind the query API:
// hybrid issue search, recent-issue browsing, index status, and the cached
// repository audit boundary.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
	"github.com/ahmednasr/firstcommit/indexer/internal/vectorindex"
)

// ---- Collaborator contracts -----------------------------------------------

// QueryEmbedder embeds a single search query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Browsing defaults.
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
	recentWindowDays   = 30
	newestWindowHours  = 24
	browseTopK         = 1000
	queryCacheSize     = 512
)

// ---- Service interface + implementation ------------------------------------

// SearchService answers the query API.
type SearchService interface {
	Search(ctx context.Context, raw string) ([]models.SearchResult, models.ParsedQuery, error)
	GetRecentIssues(ctx context.Context, req models.RecentRequest) ([]models.SearchResult, error)
	GetLastUpdated(ctx context.Context) (models.LastUpdated, error)
	HealthCheck(ctx context.Context) (vectorindex.Stats, error)
}

type searchService struct {
	index    vectorindex.Index
	embedder QueryEmbedder
	dim      int
	topK     int
	weights  Weights
	cache    *lru.Cache[string, []float32]
	now      func() time.Time
	logger   *slog.Logger
}

// SearchOption customises a SearchService.
type SearchOption func(*searchService)

// WithWeights overrides DefaultWeights.
func WithWeights(w Weights) SearchOption {
	return func(s *searchService) { s.weights = w }
}

// WithTopK sets how many candidates a search pulls from the index.
func WithTopK(k int) SearchOption {
	return func(s *searchService) {
		if k > 0 {
			s.topK = min(k, vectorindex.MaxTopK)
		}
	}
}

// NewSearchService wires the index and the query embedder. dim is the
// index vector dimension.
func NewSearchService(index vectorindex.Index, embedder QueryEmbedder, dim int, opts ...SearchOption) SearchService {
	cache, _ := lru.New[string, []float32](queryCacheSize)
	s := &searchService{
		index:    index,
		embedder: embedder,
		dim:      dim,
		topK:     100,
		weights:  DefaultWeights,
		cache:    cache,
		now:      time.Now,
		logger:   slog.Default().With("component", "search"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search parses the query, embeds its semantic text, and ranks every
// candidate the filtered vector query returns. The full ranked list is
// returned; callers paginate it.
func (s *searchService) Search(ctx context.Context, raw string) ([]models.SearchResult, models.ParsedQuery, error) {
	parsed := ParseQuery(raw)
	s.logger.Debug("parsed query", "raw", raw, "semantic", parsed.SemanticText,
		"language", parsed.LanguageFilter, "min_stars", parsed.MinStars,
		"labels", parsed.LabelFilter, "days_ago", parsed.DaysAgo)

	// 1. Embed, reusing vectors for repeated queries.
	vec, err := s.queryVector(ctx, parsed.SemanticText)
	if err != nil {
		return nil, parsed, err
	}

	// 2. Filtered vector query.
	now := s.now()
	matches, err := s.index.Query(ctx, vec, s.topK, searchFilter(parsed, now))
	if err != nil {
		return nil, parsed, fmt.Errorf("vector query failed: %w", err)
	}

	// 3. Rank.
	results := make([]models.SearchResult, len(matches))
	for i, m := range matches {
		results[i] = models.SearchResult{
			ID:            m.ID,
			Metadata:      m.Metadata,
			Similarity:    m.Score,
			CombinedScore: s.weights.Score(m.Score, m.Metadata, now),
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.Metadata.UpdatedAtTS != b.Metadata.UpdatedAtTS {
			return a.Metadata.UpdatedAtTS > b.Metadata.UpdatedAtTS
		}
		return a.ID < b.ID
	})

	s.logger.Info("search complete", "query", raw, "results", len(results))
	return results, parsed, nil
}

func (s *searchService) queryVector(ctx context.Context, text string) ([]float32, error) {
	key := strings.ToLower(text)
	if vec, ok := s.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, vec)
	return vec, nil
}

// searchFilter turns the structured part of a parsed query into an index
// filter. Labels are conjunctive.
func searchFilter(pq models.ParsedQuery, now time.Time) vectorindex.Filter {
	var parts []vectorindex.Filter
	if pq.LanguageFilter != "" {
		parts = append(parts, vectorindex.Eq{Field: "language", Value: pq.LanguageFilter})
	}
	if pq.MinStars > 0 {
		parts = append(parts, vectorindex.Gte("stars", float64(pq.MinStars)))
	}
	for _, label := range pq.LabelFilter {
		parts = append(parts, vectorindex.Eq{Field: "labels", Value: label})
	}
	if pq.DaysAgo > 0 {
		parts = append(parts, vectorindex.Gte("updated_at_ts", float64(daysBefore(now, pq.DaysAgo))))
	}
	return vectorindex.Conjoin(parts...)
}

// GetRecentIssues browses the index without semantic scoring. Newest looks
// at issues created in the last 24 hours; the other modes at issues updated
// in the last 30 days, or DaysAgo when set.
func (s *searchService) GetRecentIssues(ctx context.Context, req models.RecentRequest) ([]models.SearchResult, error) {
	if req.SortBy == "" {
		req.SortBy = models.SortNewest
	}
	if !req.SortBy.Valid() {
		return nil, fmt.Errorf("unknown sort mode %q", req.SortBy)
	}
	if req.Limit <= 0 {
		req.Limit = DefaultRecentLimit
	}
	req.Limit = min(req.Limit, MaxRecentLimit)

	now := s.now()
	var window vectorindex.Filter
	switch {
	case req.DaysAgo > 0:
		window = vectorindex.Gte("updated_at_ts", float64(daysBefore(now, req.DaysAgo)))
	case req.SortBy == models.SortNewest:
		window = vectorindex.Gte("created_at_ts", float64(now.Add(-newestWindowHours*time.Hour).Unix()))
	default:
		window = vectorindex.Gte("updated_at_ts", float64(daysBefore(now, recentWindowDays)))
	}
	filter := vectorindex.Conjoin(window, anyOf("language", req.Languages), anyOf("labels", req.Labels))

	matches, err := s.index.Query(ctx, vectorindex.PlaceholderVector(s.dim), browseTopK, filter)
	if err != nil {
		return nil, fmt.Errorf("browse query failed: %w", err)
	}

	results := make([]models.SearchResult, len(matches))
	for i, m := range matches {
		results[i] = models.SearchResult{
			ID:            m.ID,
			Metadata:      m.Metadata,
			CombinedScore: s.weights.Score(0, m.Metadata, now),
		}
	}
	sort.SliceStable(results, recentLess(req.SortBy, results))
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

func recentLess(mode models.SortMode, r []models.SearchResult) func(i, j int) bool {
	return func(i, j int) bool {
		a, b := r[i].Metadata, r[j].Metadata
		switch mode {
		case models.SortRecentlyDiscussed:
			if a.UpdatedAtTS != b.UpdatedAtTS {
				return a.UpdatedAtTS > b.UpdatedAtTS
			}
			if a.Comments != b.Comments {
				return a.Comments > b.Comments
			}
		case models.SortRelevance:
			if r[i].CombinedScore != r[j].CombinedScore {
				return r[i].CombinedScore > r[j].CombinedScore
			}
		case models.SortStars:
			if a.Stars != b.Stars {
				return a.Stars > b.Stars
			}
		}
		if a.CreatedAtTS != b.CreatedAtTS {
			return a.CreatedAtTS > b.CreatedAtTS
		}
		return r[i].ID < r[j].ID
	}
}

// anyOf matches records whose field holds any of values; nil for none.
func anyOf(field string, values []string) vectorindex.Filter {
	var in []any
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			in = append(in, v)
		}
	}
	if len(in) == 0 {
		return nil
	}
	return vectorindex.In{Field: field, Values: in}
}

func daysBefore(now time.Time, days int) int64 {
	return now.Add(-time.Duration(days) * 24 * time.Hour).Unix()
}

// GetLastUpdated reads the ingestion stats sentinel.
func (s *searchService) GetLastUpdated(ctx context.Context) (models.LastUpdated, error) {
	stats, err := vectorindex.ReadIngestionStats(ctx, s.index)
	if err != nil {
		return models.LastUpdated{}, fmt.Errorf("read ingestion stats: %w", err)
	}
	if stats == nil {
		return models.LastUpdated{}, nil
	}
	when := time.Unix(stats.LastRunAt, 0).UTC().Format(time.RFC3339)
	ts := stats.LastRunAt
	return models.LastUpdated{
		LastUpdated: &when,
		Timestamp:   &ts,
		TotalIssues: stats.TotalIssuesIngested,
	}, nil
}

// HealthCheck reports index statistics, or the error reaching the index.
func (s *searchService) HealthCheck(ctx context.Context) (vectorindex.Stats, error) {
	return s.index.Stats(ctx)
}
