package cleanup

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
	"github.com/ahmednasr/firstcommit/indexer/internal/checkpoint"
	"github.com/ahmednasr/firstcommit/indexer/internal/models"
	"github.com/ahmednasr/firstcommit/indexer/internal/vectorindex"
)

// CheckpointName keys the reconciliation resume point in a CheckpointStore.
const CheckpointName = "reconcile"

// CheckpointStore persists the reconciliation resume point.
type CheckpointStore interface {
	Load(ctx context.Context, name string) (*checkpoint.Checkpoint, error)
	Save(ctx context.Context, name string, cp checkpoint.Checkpoint) error
	Clear(ctx context.Context, name string) error
}

// ReconcileOptions configures a full reconciliation.
type ReconcileOptions struct {
	DryRun     bool
	Limit      int           // max ids to check; zero means all
	BatchSize  int           // DefaultReconcileBatch when zero
	Pause      time.Duration // between batches; DefaultReconcilePause when zero, negative disables
	Checkpoint CheckpointStore
}

// Totals are per-state counts.
type Totals struct {
	Open        int `json:"open"`
	Closed      int `json:"closed"`
	NotFound    int `json:"not_found"`
	Error       int `json:"error"`
	Deleted     int `json:"deleted"`
	WouldDelete int `json:"would_delete"`
}

func (t *Totals) add(o Totals) {
	t.Open += o.Open
	t.Closed += o.Closed
	t.NotFound += o.NotFound
	t.Error += o.Error
	t.Deleted += o.Deleted
	t.WouldDelete += o.WouldDelete
}

// ReconcileReport summarises a reconciliation.
type ReconcileReport struct {
	RunID         string
	DryRun        bool
	ResumedAfter  string // last id of the previous aborted run, if any
	Checked       int
	Batches       int
	FailedBatches int
	Totals        Totals
	Before        int // index size before
	After         int // index size after
	RateLimited   bool
	Completed     bool
}

// Reconcile re-checks every indexed issue against GitHub, deleting closed
// and missing issues right after each batch is classified. Batch failures
// are counted and the sweep continues; a rate limit ends it early with
// everything deleted so far kept.
func (s *Sweeper) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultReconcileBatch
	}
	if opts.Pause == 0 {
		opts.Pause = DefaultReconcilePause
	}
	rep := ReconcileReport{RunID: uuid.NewString(), DryRun: opts.DryRun}
	logger := s.logger.With("run_id", rep.RunID, "dry_run", opts.DryRun)

	before, err := s.index.Stats(ctx)
	if err != nil {
		return rep, err
	}
	rep.Before = before.TotalVectorCount

	ids, err := s.index.ListAllIDs(ctx)
	if err != nil {
		return rep, err
	}
	slices.Sort(ids)

	if opts.Checkpoint != nil && !opts.DryRun {
		cp, err := opts.Checkpoint.Load(ctx, CheckpointName)
		if err != nil {
			logger.Warn("could not load checkpoint; starting from the beginning", "err", err)
		} else if cp != nil {
			rep.ResumedAfter = cp.LastID
			ids = ids[sort.SearchStrings(ids, cp.LastID+"\x00"):]
			logger.Info("resuming after checkpoint", "last_id", cp.LastID, "remaining", len(ids))
		}
	}
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	logger.Info("starting reconciliation", "ids", len(ids), "batch_size", opts.BatchSize, "index_size", rep.Before)

	// The checkpoint only moves past ids that were fully reconciled. After
	// a failed batch it stays put so a resumed run re-checks that batch.
	holdCheckpoint := false
	for start := 0; start < len(ids); start += opts.BatchSize {
		if start > 0 && opts.Pause > 0 {
			if err := sleep(ctx, opts.Pause); err != nil {
				logger.Warn("reconciliation cancelled", "checked", rep.Checked, "err", err)
				break
			}
		}
		batch := ids[start:min(start+opts.BatchSize, len(ids))]
		rep.Batches++

		states, err := s.source.BatchCheckIssueStates(ctx, batch)
		rateLimited := apperrors.IsRateLimit(err)
		if err != nil && !rateLimited {
			logger.Error("state check failed", "batch", rep.Batches, "err", err)
			rep.FailedBatches++
			rep.Totals.Error += len(batch)
			rep.Checked += len(batch)
			holdCheckpoint = true
			continue
		}

		bt, remove := classify(batch, states)
		if len(remove) > 0 {
			if opts.DryRun {
				bt.WouldDelete = len(remove)
				logger.Info("would delete", "batch", rep.Batches, "ids", strings.Join(remove, ","))
			} else {
				n, err := s.index.DeleteByIDs(ctx, remove)
				bt.Deleted = n
				if err != nil {
					logger.Error("delete failed", "batch", rep.Batches, "err", err)
					rep.FailedBatches++
					holdCheckpoint = true
				}
			}
		}
		rep.Totals.add(bt)
		rep.Checked += len(batch)
		logger.Info("batch reconciled", "batch", rep.Batches,
			"open", bt.Open, "closed", bt.Closed, "not_found", bt.NotFound, "error", bt.Error,
			"deleted", bt.Deleted, "running_deleted", rep.Totals.Deleted)

		if rateLimited {
			logger.Warn("rate limit reached; stopping reconciliation", "checked", rep.Checked, "err", err)
			rep.RateLimited = true
			break
		}
		if opts.Checkpoint != nil && !opts.DryRun && !holdCheckpoint {
			cp := checkpoint.Checkpoint{
				RunID:     rep.RunID,
				LastID:    batch[len(batch)-1],
				Processed: rep.Checked,
				Deleted:   rep.Totals.Deleted,
			}
			if err := opts.Checkpoint.Save(ctx, CheckpointName, cp); err != nil {
				logger.Warn("could not save checkpoint", "err", err)
			}
		}
	}

	rep.Completed = !rep.RateLimited && ctx.Err() == nil
	if rep.Completed && opts.Checkpoint != nil && !opts.DryRun {
		if err := opts.Checkpoint.Clear(ctx, CheckpointName); err != nil {
			logger.Warn("could not clear checkpoint", "err", err)
		}
	}

	after, err := s.index.Stats(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("could not read index size after reconciliation", "err", err)
		rep.After = -1
	} else {
		rep.After = after.TotalVectorCount
	}

	logger.Info("reconciliation finished",
		"checked", rep.Checked, "open", rep.Totals.Open, "closed", rep.Totals.Closed,
		"not_found", rep.Totals.NotFound, "error", rep.Totals.Error,
		"deleted", rep.Totals.Deleted, "would_delete", rep.Totals.WouldDelete,
		"before", rep.Before, "after", rep.After, "completed", rep.Completed)
	return rep, nil
}

// classify tallies states and picks the removable ids. Ids the source did
// not answer for count as errors and are kept.
func classify(batch []string, states map[string]models.IssueState) (Totals, []string) {
	var (
		t      Totals
		remove []string
	)
	for _, id := range batch {
		state, ok := states[id]
		if !ok {
			state = models.StateError
		}
		switch state {
		case models.StateOpen:
			t.Open++
		case models.StateClosed:
			t.Closed++
		case models.StateNotFound:
			t.NotFound++
		default:
			t.Error++
		}
		if state.Removable() {
			remove = append(remove, id)
		}
	}
	return t, remove
}

// RecentlyIngested lists up to limit issues with an ingestion stamp,
// newest first, for spot-checking what the last runs wrote.
func (s *Sweeper) RecentlyIngested(ctx context.Context, limit int) ([]vectorindex.Match, error) {
	matches, err := s.index.Query(ctx,
		vectorindex.PlaceholderVector(s.dim),
		vectorindex.MaxTopK,
		vectorindex.Gt("ingested_at", 0),
	)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Metadata.IngestedAt > matches[j].Metadata.IngestedAt
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
