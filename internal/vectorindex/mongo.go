package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
	"github.com/ahmednasr/firstcommit/indexer/internal/models"
	"github.com/ahmednasr/firstcommit/indexer/internal/retry"
)

// MongoIndex stores issue vectors in a MongoDB collection searched through
// an Atlas Vector Search index.
//
// Expected schema:
//
//	issues
//	  { _id: "owner/repo#123", embedding: []float32,
//	    metadata: { type: "issue", repo_full_name, language, labels, stars, updated_at_ts, ... } }
//	  { _id: "__ingestion_stats__", embedding: [1,0,...],
//	    metadata: { type: "stats", last_run_at, total_issues_ingested } }
//
// The vector index must declare `embedding` as the vector path and every
// filterable metadata field (see Fields) plus `metadata.type` as filter paths.
type MongoIndex struct {
	col       *mongo.Collection
	vectorIdx string // name of Atlas Vector Search index
	dim       int
	timeout   time.Duration // per remote call
	policy    retry.Policy
	logger    *slog.Logger
}

var _ Index = (*MongoIndex)(nil)

// MongoOption configures a MongoIndex.
type MongoOption func(*MongoIndex)

// WithCallTimeout bounds every remote call.
func WithCallTimeout(d time.Duration) MongoOption {
	return func(m *MongoIndex) { m.timeout = d }
}

// WithRetryPolicy sets the per-batch retry policy.
func WithRetryPolicy(p retry.Policy) MongoOption {
	return func(m *MongoIndex) { m.policy = p }
}

// NewMongoIndex wires the collection and the vector index name.
func NewMongoIndex(col *mongo.Collection, vectorIdx string, dim int, opts ...MongoOption) *MongoIndex {
	m := &MongoIndex{
		col:       col,
		vectorIdx: vectorIdx,
		dim:       dim,
		timeout:   30 * time.Second,
		policy:    retry.Default,
		logger:    slog.Default().With("component", "mongo-index"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// docMetadata is the union of issue and sentinel metadata.
type docMetadata struct {
	models.IssueMetadata `bson:",inline"`
	Type                 string `bson:"type"`
	LastRunAt            int64  `bson:"last_run_at,omitempty"`
	TotalIssuesIngested  int    `bson:"total_issues_ingested,omitempty"`
}

type document struct {
	ID        string      `bson:"_id"`
	Embedding []float32   `bson:"embedding,omitempty"`
	Metadata  docMetadata `bson:"metadata"`
	Score     float64     `bson:"score,omitempty"`
}

func toDocument(r Record) document {
	d := document{ID: r.ID, Embedding: r.Vector, Metadata: docMetadata{Type: r.Kind}}
	if r.Kind == KindStats {
		d.Metadata.LastRunAt = r.Stats.LastRunAt
		d.Metadata.TotalIssuesIngested = r.Stats.TotalIssuesIngested
	} else {
		d.Metadata.IssueMetadata = r.Metadata
	}
	return d
}

func (d document) record() Record {
	r := Record{ID: d.ID, Vector: d.Embedding, Kind: d.Metadata.Type}
	if r.Kind == KindStats {
		r.Stats = models.IngestionStats{
			LastRunAt:           d.Metadata.LastRunAt,
			TotalIssuesIngested: d.Metadata.TotalIssuesIngested,
		}
	} else {
		r.Metadata = d.Metadata.IssueMetadata
	}
	return r
}

// -------------------------- public API --------------------------------------

// Upsert replaces documents by _id in unordered bulk writes of
// UpsertBatchSize. A batch that still fails after retries is logged and
// reported; the remaining batches are still written.
func (m *MongoIndex) Upsert(ctx context.Context, records []Record) error {
	var failed error
	for i, batch := range chunk(records, UpsertBatchSize) {
		writes := make([]mongo.WriteModel, len(batch))
		for j, r := range batch {
			if len(r.Vector) != m.dim {
				return &apperrors.IndexError{Op: "upsert", Err: fmt.Errorf("record %s: vector has %d dims, index expects %d", r.ID, len(r.Vector), m.dim)}
			}
			writes[j] = mongo.NewReplaceOneModel().
				SetFilter(bson.M{"_id": r.ID}).
				SetReplacement(toDocument(r)).
				SetUpsert(true)
		}

		err := m.call(ctx, "upsert", func(ctx context.Context) error {
			_, err := m.col.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
			return err
		})
		if err != nil {
			m.logger.Error("upsert batch failed", "batch", i+1, "size", len(batch), "err", err)
			failed = multierror.Append(failed, err)
		}
	}
	if failed != nil {
		return &apperrors.IndexError{Op: "upsert", Err: failed}
	}
	return nil
}

// Query performs a filtered K-NN search across issue embeddings.
func (m *MongoIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := Validate(filter); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	topK = min(topK, MaxTopK)

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: m.vectorIdx},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: vector},
			{Key: "numCandidates", Value: min(topK*10, MaxTopK)},
			{Key: "limit", Value: topK},
			{Key: "filter", Value: toBSON(Conjoin(Eq{Field: "type", Value: KindIssue}, filter))},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "metadata", Value: 1}, // omit heavy embedding field
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}

	var docs []document
	err := m.call(ctx, "query", func(ctx context.Context) error {
		cur, err := m.col.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		defer cur.Close(ctx)
		docs = docs[:0]
		return cur.All(ctx, &docs)
	})
	if err != nil {
		return nil, &apperrors.IndexError{Op: "query", Err: err}
	}

	out := make([]Match, 0, len(docs))
	for _, d := range docs {
		out = append(out, Match{ID: d.ID, Score: d.Score, Metadata: d.Metadata.IssueMetadata})
	}
	return out, nil
}

// FetchByIDs returns the stored records among ids, embeddings included.
func (m *MongoIndex) FetchByIDs(ctx context.Context, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	for _, batch := range chunk(ids, DeleteBatchSize) {
		var docs []document
		err := m.call(ctx, "fetch", func(ctx context.Context) error {
			cur, err := m.col.Find(ctx, bson.M{"_id": bson.M{"$in": batch}})
			if err != nil {
				return err
			}
			defer cur.Close(ctx)
			docs = docs[:0]
			return cur.All(ctx, &docs)
		})
		if err != nil {
			return nil, &apperrors.IndexError{Op: "fetch", Err: err}
		}
		for _, d := range docs {
			out[d.ID] = d.record()
		}
	}
	return out, nil
}

// ListAllIDs pages through issue ids in _id order, ListPageSize at a time,
// so the listing stays complete for any collection size.
func (m *MongoIndex) ListAllIDs(ctx context.Context) ([]string, error) {
	var (
		ids  []string
		last string
	)
	for {
		filter := bson.M{"metadata.type": KindIssue}
		if last != "" {
			filter["_id"] = bson.M{"$gt": last}
		}
		opts := options.Find().
			SetProjection(bson.M{"_id": 1}).
			SetSort(bson.D{{Key: "_id", Value: 1}}).
			SetLimit(ListPageSize)

		var page []struct {
			ID string `bson:"_id"`
		}
		err := m.call(ctx, "list", func(ctx context.Context) error {
			cur, err := m.col.Find(ctx, filter, opts)
			if err != nil {
				return err
			}
			defer cur.Close(ctx)
			page = page[:0]
			return cur.All(ctx, &page)
		})
		if err != nil {
			return nil, &apperrors.IndexError{Op: "list", Err: err}
		}
		for _, p := range page {
			ids = append(ids, p.ID)
		}
		if len(page) < ListPageSize {
			return ids, nil
		}
		last = page[len(page)-1].ID
	}
}

// DeleteByIDs removes ids in batches and returns the number of documents
// actually deleted. Failed batches are logged and reported after the rest
// have been attempted.
func (m *MongoIndex) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	var (
		deleted int
		failed  error
	)
	for i, batch := range chunk(ids, DeleteBatchSize) {
		err := m.call(ctx, "delete", func(ctx context.Context) error {
			res, err := m.col.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": batch}})
			if err != nil {
				return err
			}
			deleted += int(res.DeletedCount)
			return nil
		})
		if err != nil {
			m.logger.Error("delete batch failed", "batch", i+1, "size", len(batch), "err", err)
			failed = multierror.Append(failed, err)
		}
	}
	if failed != nil {
		return deleted, &apperrors.IndexError{Op: "delete", Err: failed}
	}
	return deleted, nil
}

// DeleteAll removes every document, sentinel included.
func (m *MongoIndex) DeleteAll(ctx context.Context) error {
	err := m.call(ctx, "delete_all", func(ctx context.Context) error {
		_, err := m.col.DeleteMany(ctx, bson.M{})
		return err
	})
	if err != nil {
		return &apperrors.IndexError{Op: "delete_all", Err: err}
	}
	return nil
}

// Stats counts issue documents.
func (m *MongoIndex) Stats(ctx context.Context) (Stats, error) {
	var n int64
	err := m.call(ctx, "stats", func(ctx context.Context) error {
		var err error
		n, err = m.col.CountDocuments(ctx, bson.M{"metadata.type": KindIssue})
		return err
	})
	if err != nil {
		return Stats{}, &apperrors.IndexError{Op: "stats", Err: err}
	}
	return Stats{TotalVectorCount: int(n), Dimension: m.dim, Backend: "mongo"}, nil
}

// -------------------------- helpers -----------------------------------------

// call runs op under the retry policy with a per-attempt deadline.
func (m *MongoIndex) call(ctx context.Context, name string, op func(ctx context.Context) error) error {
	return retry.Do(ctx, m.policy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		err := op(callCtx)
		if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
			return &apperrors.TimeoutError{Op: "mongo " + name, Err: err}
		}
		return err
	})
}

// toBSON translates a Filter into an Atlas Vector Search filter document.
func toBSON(f Filter) bson.D {
	switch v := f.(type) {
	case Eq:
		return bson.D{{Key: "metadata." + v.Field, Value: bson.D{{Key: "$eq", Value: v.Value}}}}
	case In:
		return bson.D{{Key: "metadata." + v.Field, Value: bson.D{{Key: "$in", Value: v.Values}}}}
	case Range:
		return bson.D{{Key: "metadata." + v.Field, Value: bson.D{{Key: v.Op.String(), Value: v.Value}}}}
	case And:
		parts := bson.A{}
		for _, member := range v {
			parts = append(parts, toBSON(member))
		}
		return bson.D{{Key: "$and", Value: parts}}
	}
	return bson.D{}
}
