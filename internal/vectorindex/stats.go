package vectorindex

import (
	"context"
	"time"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

// WriteIngestionStats overwrites the sentinel record with the given run
// total, stamped with now.
func WriteIngestionStats(ctx context.Context, idx Index, dim, total int, now time.Time) (models.IngestionStats, error) {
	stats := models.IngestionStats{
		LastRunAt:           now.Unix(),
		TotalIssuesIngested: total,
	}
	err := idx.Upsert(ctx, []Record{{
		ID:     models.StatsID,
		Vector: PlaceholderVector(dim),
		Kind:   KindStats,
		Stats:  stats,
	}})
	return stats, err
}

// ReadIngestionStats fetches the sentinel by id. It returns nil when no
// ingestion run has been recorded.
func ReadIngestionStats(ctx context.Context, idx Index) (*models.IngestionStats, error) {
	recs, err := idx.FetchByIDs(ctx, []string{models.StatsID})
	if err != nil {
		return nil, err
	}
	rec, ok := recs[models.StatsID]
	if !ok || rec.Kind != KindStats || rec.Stats.LastRunAt <= 0 {
		return nil, nil
	}
	stats := rec.Stats
	return &stats, nil
}
