package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

const dim = 4

func issueRecord(repo string, number int, vec []float32, mutate func(*models.IssueMetadata)) Record {
	md := models.IssueMetadata{
		RepoFullName: repo,
		IssueNumber:  number,
		Title:        "issue",
		Language:     "Go",
		Labels:       []string{"good first issue"},
		Stars:        600,
		UpdatedAtTS:  1_700_000_000,
		CreatedAtTS:  1_699_000_000,
	}
	if mutate != nil {
		mutate(&md)
	}
	return IssueRecord(models.Issue{ID: models.IssueID(repo, number), Embedding: vec, Metadata: md})
}

func TestMemoryIndex_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(dim)

	first := issueRecord("acme/widget", 42, []float32{1, 0, 0, 0}, nil)
	second := issueRecord("acme/widget", 42, []float32{0, 1, 0, 0}, func(md *models.IssueMetadata) { md.Title = "retitled" })

	require.NoError(t, idx.Upsert(ctx, []Record{first}))
	require.NoError(t, idx.Upsert(ctx, []Record{second}))

	ids, err := idx.ListAllIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/widget#42"}, ids)

	got, err := idx.FetchByIDs(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, "retitled", got["acme/widget#42"].Metadata.Title)
	assert.Equal(t, []float32{0, 1, 0, 0}, got["acme/widget#42"].Vector)
}

func TestMemoryIndex_RejectsWrongDimension(t *testing.T) {
	idx := NewMemoryIndex(dim)
	err := idx.Upsert(context.Background(), []Record{issueRecord("a/b", 1, []float32{1}, nil)})
	assert.Error(t, err)
}

func TestMemoryIndex_QueryFiltersAndRanks(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(dim)
	require.NoError(t, idx.Upsert(ctx, []Record{
		issueRecord("a/go", 1, []float32{1, 0, 0, 0}, nil),
		issueRecord("a/go", 2, []float32{0.8, 0.2, 0, 0}, func(md *models.IssueMetadata) { md.Stars = 50 }),
		issueRecord("b/py", 3, []float32{1, 0, 0, 0}, func(md *models.IssueMetadata) {
			md.Language = "Python"
			md.Labels = []string{"help wanted"}
		}),
	}))
	_, err := WriteIngestionStats(ctx, idx, dim, 3, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	t.Run("no filter ranks by similarity and hides sentinel", func(t *testing.T) {
		got, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 10, nil)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "a/go#1", got[0].ID)
		assert.Equal(t, "b/py#3", got[1].ID)
		assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	})

	t.Run("conjunction", func(t *testing.T) {
		got, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 10, And{
			Eq{Field: "language", Value: "Go"},
			Gte("stars", 100),
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a/go#1", got[0].ID)
	})

	t.Run("list field membership", func(t *testing.T) {
		got, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 10, In{Field: "labels", Values: []any{"help wanted", "easy"}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "b/py#3", got[0].ID)
	})

	t.Run("topK truncates", func(t *testing.T) {
		got, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 1, nil)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("invalid filter", func(t *testing.T) {
		_, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 1, Lt("title", 3))
		assert.Error(t, err)
	})
}

func TestMemoryIndex_DeleteAndStats(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(dim)
	require.NoError(t, idx.Upsert(ctx, []Record{
		issueRecord("a/b", 1, []float32{1, 0, 0, 0}, nil),
		issueRecord("a/b", 2, []float32{1, 0, 0, 0}, nil),
	}))

	n, err := idx.DeleteByIDs(ctx, []string{"a/b#1", "a/b#99"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalVectorCount)

	require.NoError(t, idx.DeleteAll(ctx))
	stats, _ = idx.Stats(ctx)
	assert.Zero(t, stats.TotalVectorCount)
}

func TestIngestionStatsSentinel(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(dim)

	got, err := ReadIngestionStats(ctx, idx)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = WriteIngestionStats(ctx, idx, dim, 10, time.Unix(100, 0))
	require.NoError(t, err)
	_, err = WriteIngestionStats(ctx, idx, dim, 7, time.Unix(200, 0))
	require.NoError(t, err)

	got, err = ReadIngestionStats(ctx, idx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(200), got.LastRunAt)
	assert.Equal(t, 7, got.TotalIssuesIngested)

	recs, _ := idx.FetchByIDs(ctx, []string{models.StatsID})
	assert.Equal(t, []float32{1, 0, 0, 0}, recs[models.StatsID].Vector)

	ids, _ := idx.ListAllIDs(ctx)
	assert.Empty(t, ids)
}
