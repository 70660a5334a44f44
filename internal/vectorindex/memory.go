package vectorindex

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

// MemoryIndex is a process-local Index with exact cosine search. It backs
// INDEX_BACKEND=memory and the package tests of every consumer.
type MemoryIndex struct {
	mu      sync.RWMutex
	dim     int
	records map[string]Record
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex returns an empty index for vectors of length dim.
func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{dim: dim, records: make(map[string]Record)}
}

// Upsert stores copies of records, replacing existing ids.
func (m *MemoryIndex) Upsert(ctx context.Context, records []Record) error {
	for _, r := range records {
		if len(r.Vector) != m.dim {
			return fmt.Errorf("record %s: vector has %d dims, index expects %d", r.ID, len(r.Vector), m.dim)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.Vector = slices.Clone(r.Vector)
		r.Metadata.Labels = slices.Clone(r.Metadata.Labels)
		r.Metadata.Languages = slices.Clone(r.Metadata.Languages)
		m.records[r.ID] = r
	}
	return nil
}

// Query ranks every issue record passing filter by cosine similarity.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := Validate(filter); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	var matches []Match
	for _, r := range m.records {
		if r.Kind != KindIssue || !matchFilter(r.Metadata, filter) {
			continue
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Score:    (1 + cosine(vector, r.Vector)) / 2,
			Metadata: r.Metadata,
		})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > min(topK, MaxTopK) {
		matches = matches[:min(topK, MaxTopK)]
	}
	return matches, nil
}

// FetchByIDs returns the records that exist among ids.
func (m *MemoryIndex) FetchByIDs(ctx context.Context, ids []string) (map[string]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		if r, ok := m.records[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

// ListAllIDs returns every issue id in ascending order.
func (m *MemoryIndex) ListAllIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id, r := range m.records {
		if r.Kind == KindIssue {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// DeleteByIDs removes ids and reports how many existed.
func (m *MemoryIndex) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := m.records[id]; ok {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// DeleteAll empties the index, sentinel included.
func (m *MemoryIndex) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]Record)
	return nil
}

// Stats counts issue records.
func (m *MemoryIndex) Stats(ctx context.Context) (Stats, error) {
	ids, _ := m.ListAllIDs(ctx)
	return Stats{TotalVectorCount: len(ids), Dimension: m.dim, Backend: "memory"}, nil
}

func matchFilter(md models.IssueMetadata, f Filter) bool {
	switch v := f.(type) {
	case nil:
		return true
	case Eq:
		return fieldEquals(md, v.Field, v.Value)
	case In:
		for _, want := range v.Values {
			if fieldEquals(md, v.Field, want) {
				return true
			}
		}
		return false
	case Range:
		got, ok := fieldValue(md, v.Field).(float64)
		if !ok {
			return false
		}
		switch v.Op {
		case OpLt:
			return got < v.Value
		case OpLte:
			return got <= v.Value
		case OpGt:
			return got > v.Value
		case OpGte:
			return got >= v.Value
		}
		return false
	case And:
		for _, member := range v {
			if !matchFilter(md, member) {
				return false
			}
		}
		return true
	}
	return false
}

func fieldEquals(md models.IssueMetadata, field string, want any) bool {
	switch got := fieldValue(md, field).(type) {
	case []string:
		s, ok := want.(string)
		return ok && slices.Contains(got, s)
	case string:
		s, ok := want.(string)
		return ok && got == s
	case float64:
		n, ok := toFloat(want)
		return ok && got == n
	}
	return false
}

func fieldValue(md models.IssueMetadata, field string) any {
	switch field {
	case "repo_full_name":
		return md.RepoFullName
	case "repo_owner":
		return md.RepoOwner
	case "repo_name":
		return md.RepoName
	case "issue_number":
		return float64(md.IssueNumber)
	case "title":
		return md.Title
	case "url":
		return md.URL
	case "language":
		return md.Language
	case "languages":
		return md.Languages
	case "labels":
		return md.Labels
	case "stars":
		return float64(md.Stars)
	case "comments":
		return float64(md.Comments)
	case "created_at_ts":
		return float64(md.CreatedAtTS)
	case "updated_at_ts":
		return float64(md.UpdatedAtTS)
	case "ingested_at":
		return float64(md.IngestedAt)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
