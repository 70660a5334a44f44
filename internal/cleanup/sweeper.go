// Package cleanup keeps the index in step with GitHub: it removes issues
// that were recently closed, issues whose metadata has gone stale, and
// (in a full reconciliation) every indexed issue GitHub no longer reports
// as open.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/ahmednasr/firstcommit/indexer/internal/github"
	"github.com/ahmednasr/firstcommit/indexer/internal/models"
	"github.com/ahmednasr/firstcommit/indexer/internal/vectorindex"
)

// Defaults for the sweeps.
const (
	DefaultClosedHours    = 24
	DefaultStaleDays      = 20
	DefaultDeleteBatch    = 100
	DefaultReconcileBatch = 50
	DefaultReconcilePause = 2 * time.Second
)

// IssueSource is the part of the GitHub client the sweeps need.
type IssueSource interface {
	SearchClosedIssues(ctx context.Context, p github.ClosedParams) ([]models.ClosedIssue, error)
	BatchCheckIssueStates(ctx context.Context, ids []string) (map[string]models.IssueState, error)
}

// Sweeper runs the maintenance sweeps against one index.
type Sweeper struct {
	source IssueSource
	index  vectorindex.Index
	dim    int
	now    func() time.Time
	logger *slog.Logger
}

// NewSweeper wires the sweeps; dim is the index vector dimension.
func NewSweeper(source IssueSource, index vectorindex.Index, dim int) *Sweeper {
	return &Sweeper{
		source: source,
		index:  index,
		dim:    dim,
		now:    time.Now,
		logger: slog.Default().With("component", "cleanup"),
	}
}

// deleteInBatches removes ids batch by batch. A failed batch is logged and
// counted; later batches still run.
func (s *Sweeper) deleteInBatches(ctx context.Context, ids []string, size int) (deleted, failed int) {
	if size <= 0 {
		size = DefaultDeleteBatch
	}
	for start := 0; start < len(ids); start += size {
		if ctx.Err() != nil {
			failed++
			return deleted, failed
		}
		batch := ids[start:min(start+size, len(ids))]
		n, err := s.index.DeleteByIDs(ctx, batch)
		deleted += n
		if err != nil {
			failed++
			s.logger.Error("delete batch failed", "batch", start/size+1, "size", len(batch), "err", err)
			continue
		}
		s.logger.Info("deleted batch", "batch", start/size+1, "requested", len(batch), "deleted", n)
	}
	return deleted, failed
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
