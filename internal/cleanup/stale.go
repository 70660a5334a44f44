package cleanup

import (
	"context"
	"time"

	"github.com/ahmednasr/firstcommit/indexer/internal/vectorindex"
)

// StaleOptions configures the stale sweep.
type StaleOptions struct {
	Days      int // DefaultStaleDays when zero
	BatchSize int // DefaultDeleteBatch when zero
	Cap       int // max matches per run; vectorindex.MaxTopK when zero
}

// StaleReport summarises a stale sweep.
type StaleReport struct {
	Cutoff        int64 // epoch seconds; older updates are stale
	Found         int
	Deleted       int
	FailedBatches int
	Err           error
}

// SweepStale deletes issues whose updated_at_ts is older than the window.
// The query vector is a placeholder: only the filter decides the matches.
func (s *Sweeper) SweepStale(ctx context.Context, opts StaleOptions) StaleReport {
	if opts.Days <= 0 {
		opts.Days = DefaultStaleDays
	}
	if opts.Cap <= 0 {
		opts.Cap = vectorindex.MaxTopK
	}
	rep := StaleReport{Cutoff: s.now().Add(-time.Duration(opts.Days) * 24 * time.Hour).Unix()}

	matches, err := s.index.Query(ctx,
		vectorindex.PlaceholderVector(s.dim),
		opts.Cap,
		vectorindex.Lt("updated_at_ts", float64(rep.Cutoff)),
	)
	if err != nil {
		s.logger.Error("stale query failed", "err", err)
		rep.Err = err
		return rep
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	rep.Found = len(ids)
	s.logger.Info("stale issues found", "days", opts.Days, "cutoff", rep.Cutoff, "count", rep.Found)

	rep.Deleted, rep.FailedBatches = s.deleteInBatches(ctx, ids, opts.BatchSize)
	s.logger.Info("stale sweep finished",
		"found", rep.Found, "deleted", rep.Deleted, "failed_batches", rep.FailedBatches)
	return rep
}
