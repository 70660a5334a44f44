// Package repository holds Mongo-backed persistence that is not part of the
// vector index.
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

// AuditRepository caches repository audit results keyed by
// (repo_url, commit_sha). Only VERIFIED results are ever stored.
type AuditRepository struct {
	col    *mongo.Collection
	now    func() time.Time
	logger *slog.Logger
}

// NewAuditRepository returns an AuditRepository over col.
func NewAuditRepository(col *mongo.Collection) *AuditRepository {
	return &AuditRepository{
		col:    col,
		now:    time.Now,
		logger: slog.Default().With("component", "audit_cache"),
	}
}

func auditKey(repoURL, commitSHA string) string {
	return repoURL + "@" + commitSHA
}

// Get returns the cached result for the pair, or nil when absent.
func (r *AuditRepository) Get(ctx context.Context, repoURL, commitSHA string) (*models.AuditResult, error) {
	var entry models.AuditCacheEntry
	err := r.col.FindOne(ctx, bson.M{"_id": auditKey(repoURL, commitSHA)}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		r.logger.Debug("audit cache miss", "repo_url", repoURL, "commit", commitSHA)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.logger.Debug("audit cache hit", "repo_url", repoURL, "commit", commitSHA)
	result := entry.Result
	result.Cached = true
	return &result, nil
}

// Put inserts or replaces the entry for the pair. Results that are not
// VERIFIED are ignored.
func (r *AuditRepository) Put(ctx context.Context, repoURL, commitSHA string, result models.AuditResult) error {
	if result.Status != models.AuditVerified {
		r.logger.Debug("not caching unverified audit", "repo_url", repoURL, "status", result.Status)
		return nil
	}
	entry := models.AuditCacheEntry{
		ID:        auditKey(repoURL, commitSHA),
		RepoURL:   repoURL,
		CommitSHA: commitSHA,
		Result:    result,
		CreatedAt: r.now().UTC(),
	}
	_, err := r.col.ReplaceOne(ctx,
		bson.M{"_id": entry.ID},
		entry,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		r.logger.Error("audit cache upsert failed", "repo_url", repoURL, "commit", commitSHA, "err", err)
		return err
	}
	return nil
}
