package cleanup

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
	"github.com/ahmednasr/firstcommit/indexer/internal/github"
)

// ClosedOptions configures the closed-issue sweep. Languages and Labels
// take the same values as an ingestion run so every pair that was indexed
// is searched for closures.
type ClosedOptions struct {
	Hours float64 // trailing window; DefaultClosedHours when zero
	// Languages to search, one pass each. Empty means no language qualifier.
	Languages []string
	// Labels to search per language. An empty string means no label
	// qualifier. Nil means github.DefaultLabel only.
	Labels    []string
	BatchSize int           // DefaultDeleteBatch when zero
	PairDelay time.Duration // between consecutive searches
}

// ClosedReport summarises a closed-issue sweep.
type ClosedReport struct {
	Pairs         int
	Found         int
	Deleted       int
	FailedBatches int
	RateLimited   bool
	Err           error // search failures other than a rate limit
}

// SweepClosed deletes issues GitHub reports closed within the window. Ids
// that were never indexed are harmless no-ops. A failed pair is recorded
// and the remaining pairs still run; a rate limit stops the searches and
// deletes what was found so far.
func (s *Sweeper) SweepClosed(ctx context.Context, opts ClosedOptions) ClosedReport {
	if opts.Hours <= 0 {
		opts.Hours = DefaultClosedHours
	}
	languages := opts.Languages
	if len(languages) == 0 {
		languages = []string{""}
	}
	labels := opts.Labels
	if labels == nil {
		labels = []string{github.DefaultLabel}
	}

	var (
		rep  ClosedReport
		ids  []string
		seen = make(map[string]struct{})
	)

pairs:
	for _, lang := range languages {
		for _, label := range labels {
			if rep.Pairs > 0 {
				if err := sleep(ctx, opts.PairDelay); err != nil {
					rep.Err = multierror.Append(rep.Err, err)
					break pairs
				}
			}
			rep.Pairs++

			p := github.ClosedParams{Language: lang, Label: label, Hours: opts.Hours}
			closed, err := s.source.SearchClosedIssues(ctx, p)
			for _, c := range closed {
				if _, dup := seen[c.ID]; dup {
					continue
				}
				seen[c.ID] = struct{}{}
				ids = append(ids, c.ID)
			}

			switch {
			case apperrors.IsRateLimit(err):
				s.logger.Warn("rate limit during closed-issue search; deleting what was found",
					"language", lang, "label", label, "found", len(ids), "err", err)
				rep.RateLimited = true
				break pairs
			case err != nil:
				s.logger.Error("closed-issue search failed", "language", lang, "label", label, "err", err)
				rep.Err = multierror.Append(rep.Err, err)
			}
		}
	}

	rep.Found = len(ids)
	s.logger.Info("closed issues found", "hours", opts.Hours, "pairs", rep.Pairs, "count", rep.Found)

	rep.Deleted, rep.FailedBatches = s.deleteInBatches(ctx, ids, opts.BatchSize)
	s.logger.Info("closed-issue sweep finished",
		"found", rep.Found, "deleted", rep.Deleted, "failed_batches", rep.FailedBatches)
	return rep
}
