// Package vectorindex stores issue embeddings and their metadata in a
// remote vector store and answers filtered similarity queries.
//
// Two backends satisfy Index: MongoIndex (MongoDB Atlas Vector Search) for
// production and MemoryIndex for local runs and tests. Batch operations
// accept unbounded slices and chunk them internally.
package vectorindex

import (
	"context"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

// Record kinds. The stats sentinel is never returned by Query or ListAllIDs.
const (
	KindIssue = "issue"
	KindStats = "stats"
)

// Per-call limits of the remote store.
const (
	UpsertBatchSize = 100
	DeleteBatchSize = 1000
	ListPageSize    = 1000
	MaxTopK         = 10000
)

// Record is one stored vector. Issues carry Metadata; the sentinel carries Stats.
type Record struct {
	ID       string
	Vector   []float32
	Kind     string
	Metadata models.IssueMetadata
	Stats    models.IngestionStats
}

// Match is a similarity hit. Score is normalised to [0,1], higher is closer.
type Match struct {
	ID       string
	Score    float64
	Metadata models.IssueMetadata
}

// Stats summarises index contents.
type Stats struct {
	TotalVectorCount int    `json:"total_vector_count"`
	Dimension        int    `json:"dimension"`
	Backend          string `json:"backend"`
}

// Index is the vector store contract. Upsert and DeleteByIDs are idempotent
// per id, so retried or concurrent calls converge.
type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	FetchByIDs(ctx context.Context, ids []string) (map[string]Record, error)
	ListAllIDs(ctx context.Context) ([]string, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
	DeleteAll(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}

// IssueRecord converts an ingested issue into a storable record.
func IssueRecord(issue models.Issue) Record {
	return Record{
		ID:       issue.ID,
		Vector:   issue.Embedding,
		Kind:     KindIssue,
		Metadata: issue.Metadata,
	}
}

// PlaceholderVector is a unit vector along the first axis. Stores reject
// all-zero vectors, so it stands in wherever similarity is irrelevant.
func PlaceholderVector(dim int) []float32 {
	v := make([]float32, dim)
	if dim > 0 {
		v[0] = 1
	}
	return v
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
