package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want models.ParsedQuery
	}{
		{
			name: "language alias",
			raw:  "python web scraping",
			want: models.ParsedQuery{SemanticText: "web scraping", LanguageFilter: "Python"},
		},
		{
			name: "capitalised Go",
			raw:  "Go concurrency bugs",
			want: models.ParsedQuery{SemanticText: "concurrency bugs", LanguageFilter: "Go"},
		},
		{
			name: "lowercase go stays semantic",
			raw:  "where to go next",
			want: models.ParsedQuery{SemanticText: "where to go next"},
		},
		{
			name: "golang in any case",
			raw:  "GOLANG cli flags",
			want: models.ParsedQuery{SemanticText: "cli flags", LanguageFilter: "Go"},
		},
		{
			name: "first language wins",
			raw:  "rust or typescript wasm",
			want: models.ParsedQuery{SemanticText: "or wasm", LanguageFilter: "Rust"},
		},
		{
			name: "stars with k suffix and fallback to raw",
			raw:  "rust 1k stars",
			want: models.ParsedQuery{SemanticText: "rust 1k stars", LanguageFilter: "Rust", MinStars: 1000},
		},
		{
			name: "stars qualifier and label phrase",
			raw:  "help wanted docs stars:>=2.5k",
			want: models.ParsedQuery{SemanticText: "docs", MinStars: 2500, LabelFilter: []string{"help wanted"}},
		},
		{
			name: "plus stars",
			raw:  "over 500+ stars testing",
			want: models.ParsedQuery{SemanticText: "testing", MinStars: 500},
		},
		{
			name: "plural label phrase",
			raw:  "good first issues in typescript",
			want: models.ParsedQuery{SemanticText: "in", LanguageFilter: "TypeScript", LabelFilter: []string{"good first issue"}},
		},
		{
			name: "explicit label qualifier",
			raw:  `label:"needs triage" parser`,
			want: models.ParsedQuery{SemanticText: "parser", LabelFilter: []string{"needs triage"}},
		},
		{
			name: "recency word",
			raw:  "react hooks this week",
			want: models.ParsedQuery{SemanticText: "react hooks", DaysAgo: 7},
		},
		{
			name: "explicit day window",
			raw:  "api bugs last 3 days",
			want: models.ParsedQuery{SemanticText: "api bugs", DaysAgo: 3},
		},
		{
			name: "punctuation around language",
			raw:  "(java) memory leak",
			want: models.ParsedQuery{SemanticText: "memory leak", LanguageFilter: "Java"},
		},
		{
			name: "empty",
			raw:  "   ",
			want: models.ParsedQuery{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseQuery(tt.raw))
		})
	}
}

func TestParseQuery_Deterministic(t *testing.T) {
	raw := "golang good first issue 2k stars last 10 days http client"
	first := ParseQuery(raw)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ParseQuery(raw))
	}
	assert.Equal(t, "http client", first.SemanticText)
	assert.Equal(t, 2000, first.MinStars)
	assert.Equal(t, 10, first.DaysAgo)
}
