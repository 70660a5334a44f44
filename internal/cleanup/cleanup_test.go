package cleanup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
	"github.com/ahmednasr/firstcommit/indexer/internal/checkpoint"
	"github.com/ahmednasr/firstcommit/indexer/internal/github"
	"github.com/ahmednasr/firstcommit/indexer/internal/models"
	"github.com/ahmednasr/firstcommit/indexer/internal/vectorindex"
)

const dim = 4

var now = time.Unix(1_700_000_000, 0)

type fakeSource struct {
	mu     sync.Mutex
	closed []models.ClosedIssue
	// closedByLabel, when set, answers per label instead of closed.
	closedByLabel map[string][]models.ClosedIssue
	closedErr     map[string]error // by label
	closedQueries []github.ClosedParams
	states        map[string]models.IssueState
	failBatch     int // 1-based batch number that fails outright
	limitBatch    int // 1-based batch number that hits the rate limit
	onBatch       func()
	batches       int
}

func (f *fakeSource) SearchClosedIssues(_ context.Context, p github.ClosedParams) ([]models.ClosedIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedQueries = append(f.closedQueries, p)
	if err := f.closedErr[p.Label]; err != nil {
		return nil, err
	}
	if f.closedByLabel != nil {
		return f.closedByLabel[p.Label], nil
	}
	return f.closed, nil
}

func (f *fakeSource) BatchCheckIssueStates(_ context.Context, ids []string) (map[string]models.IssueState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if f.onBatch != nil {
		f.onBatch()
	}
	if f.batches == f.failBatch {
		return nil, errors.New("502 bad gateway")
	}
	out := make(map[string]models.IssueState, len(ids))
	for _, id := range ids {
		s, ok := f.states[id]
		if !ok {
			s = models.StateNotFound
		}
		out[id] = s
	}
	if f.batches == f.limitBatch {
		return out, &apperrors.RateLimitError{Message: "exhausted"}
	}
	return out, nil
}

func seed(t *testing.T, idx vectorindex.Index, ids ...string) {
	t.Helper()
	recs := make([]vectorindex.Record, len(ids))
	for i, id := range ids {
		owner, repo, n, err := models.ParseIssueID(id)
		require.NoError(t, err)
		recs[i] = vectorindex.IssueRecord(models.Issue{
			ID:        id,
			Embedding: []float32{1, 0, 0, 0},
			Metadata: models.IssueMetadata{
				RepoFullName: owner + "/" + repo,
				IssueNumber:  n,
				UpdatedAtTS:  now.Unix(),
				IngestedAt:   now.Unix(),
			},
		})
	}
	require.NoError(t, idx.Upsert(context.Background(), recs))
}

func newSweeper(src IssueSource, idx vectorindex.Index) *Sweeper {
	s := NewSweeper(src, idx, dim)
	s.now = func() time.Time { return now }
	return s
}

func ids(t *testing.T, idx vectorindex.Index) []string {
	t.Helper()
	out, err := idx.ListAllIDs(context.Background())
	require.NoError(t, err)
	return out
}

func TestClosedThenReconcileScenario(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemoryIndex(dim)
	seed(t, idx, "acme/widget#42", "acme/widget#43")

	src := &fakeSource{
		closed: []models.ClosedIssue{{ID: "acme/widget#42", RepoFullName: "acme/widget", IssueNumber: 42, ClosedAt: now.Add(-time.Hour).Format(time.RFC3339)}},
		states: map[string]models.IssueState{"acme/widget#43": models.StateOpen},
	}
	s := newSweeper(src, idx)

	closed := s.SweepClosed(ctx, ClosedOptions{Hours: 24})
	assert.Equal(t, 1, closed.Found)
	assert.Equal(t, 1, closed.Deleted)
	assert.Equal(t, []string{"acme/widget#43"}, ids(t, idx))

	rep, err := s.Reconcile(ctx, ReconcileOptions{Pause: -1})
	require.NoError(t, err)
	assert.True(t, rep.Completed)
	assert.Equal(t, 1, rep.Checked)
	assert.Equal(t, 1, rep.Totals.Open)
	assert.Zero(t, rep.Totals.Deleted)
	assert.Equal(t, []string{"acme/widget#43"}, ids(t, idx))
}

func TestSweepClosed_ToleratesBatchFailures(t *testing.T) {
	idx := &flakyIndex{Index: vectorindex.NewMemoryIndex(dim), failCall: 1}
	seed(t, idx, "a/b#1", "a/b#2", "a/b#3")
	src := &fakeSource{closed: []models.ClosedIssue{{ID: "a/b#1"}, {ID: "a/b#2"}, {ID: "a/b#3"}}}

	rep := newSweeper(src, idx).SweepClosed(context.Background(), ClosedOptions{BatchSize: 2})
	assert.Equal(t, 3, rep.Found)
	assert.Equal(t, 1, rep.FailedBatches)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, []string{"a/b#1", "a/b#2"}, ids(t, idx))
}

func TestSweepClosed_SearchFailure(t *testing.T) {
	src := &fakeSource{closedErr: map[string]error{github.DefaultLabel: errors.New("boom")}}
	rep := newSweeper(src, vectorindex.NewMemoryIndex(dim)).SweepClosed(context.Background(), ClosedOptions{})
	assert.Error(t, rep.Err)
	assert.Zero(t, rep.Deleted)
}

func TestSweepClosed_CoversEveryIngestedPair(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemoryIndex(dim)
	seed(t, idx, "acme/widget#7", "acme/widget#8", "acme/widget#9")
	src := &fakeSource{closedByLabel: map[string][]models.ClosedIssue{
		"good first issue": {{ID: "acme/widget#7"}},
		"help wanted":      {{ID: "acme/widget#8"}, {ID: "acme/widget#7"}},
	}}

	rep := newSweeper(src, idx).SweepClosed(ctx, ClosedOptions{
		Hours:     24,
		Languages: []string{"Go", "Rust"},
		Labels:    []string{"good first issue", "help wanted"},
	})
	require.NoError(t, rep.Err)
	assert.Equal(t, 4, rep.Pairs)
	assert.Equal(t, 2, rep.Found, "duplicates across pairs are deleted once")
	assert.Equal(t, 2, rep.Deleted)
	assert.Equal(t, []string{"acme/widget#9"}, ids(t, idx))

	assert.Equal(t, []github.ClosedParams{
		{Language: "Go", Label: "good first issue", Hours: 24},
		{Language: "Go", Label: "help wanted", Hours: 24},
		{Language: "Rust", Label: "good first issue", Hours: 24},
		{Language: "Rust", Label: "help wanted", Hours: 24},
	}, src.closedQueries)
}

func TestSweepClosed_DefaultsToDefaultLabelWithoutLanguage(t *testing.T) {
	src := &fakeSource{}
	newSweeper(src, vectorindex.NewMemoryIndex(dim)).SweepClosed(context.Background(), ClosedOptions{})
	assert.Equal(t, []github.ClosedParams{{Label: github.DefaultLabel, Hours: DefaultClosedHours}}, src.closedQueries)
}

func TestSweepClosed_PairFailureKeepsGoing(t *testing.T) {
	idx := vectorindex.NewMemoryIndex(dim)
	seed(t, idx, "a/b#1", "a/b#2")
	src := &fakeSource{
		closedErr:     map[string]error{"beginner": errors.New("502 bad gateway")},
		closedByLabel: map[string][]models.ClosedIssue{"easy": {{ID: "a/b#2"}}},
	}

	rep := newSweeper(src, idx).SweepClosed(context.Background(), ClosedOptions{Labels: []string{"beginner", "easy"}})
	assert.Error(t, rep.Err)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, []string{"a/b#1"}, ids(t, idx))
}

func TestSweepClosed_RateLimitStopsSearchingAndDeletesFound(t *testing.T) {
	idx := vectorindex.NewMemoryIndex(dim)
	seed(t, idx, "a/b#1", "a/b#2")
	src := &fakeSource{
		closedByLabel: map[string][]models.ClosedIssue{"help wanted": {{ID: "a/b#1"}}},
		closedErr:     map[string]error{"beginner": &apperrors.RateLimitError{Message: "exhausted"}},
	}

	rep := newSweeper(src, idx).SweepClosed(context.Background(), ClosedOptions{
		Labels: []string{"help wanted", "beginner", "easy"},
	})
	assert.NoError(t, rep.Err)
	assert.True(t, rep.RateLimited)
	assert.Equal(t, 2, rep.Pairs)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, []string{"a/b#2"}, ids(t, idx))
}

func TestSweepStale(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemoryIndex(dim)
	fresh := now.Add(-2 * 24 * time.Hour).Unix()
	old := now.Add(-30 * 24 * time.Hour).Unix()
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{
		vectorindex.IssueRecord(models.Issue{ID: "a/b#1", Embedding: []float32{0, 1, 0, 0}, Metadata: models.IssueMetadata{UpdatedAtTS: fresh}}),
		vectorindex.IssueRecord(models.Issue{ID: "a/b#2", Embedding: []float32{0, 0, 1, 0}, Metadata: models.IssueMetadata{UpdatedAtTS: old}}),
		vectorindex.IssueRecord(models.Issue{ID: "a/b#3", Embedding: []float32{0, 0, 0, 1}, Metadata: models.IssueMetadata{UpdatedAtTS: old}}),
	}))
	_, err := vectorindex.WriteIngestionStats(ctx, idx, dim, 3, now)
	require.NoError(t, err)

	rep := newSweeper(&fakeSource{}, idx).SweepStale(ctx, StaleOptions{Days: 20})
	require.NoError(t, rep.Err)
	assert.Equal(t, now.Add(-20*24*time.Hour).Unix(), rep.Cutoff)
	assert.Equal(t, 2, rep.Found)
	assert.Equal(t, 2, rep.Deleted)
	assert.Equal(t, []string{"a/b#1"}, ids(t, idx))

	stats, err := vectorindex.ReadIngestionStats(ctx, idx)
	require.NoError(t, err)
	assert.NotNil(t, stats, "the sentinel survives sweeps")
}

func TestReconcile_RemovesClosedAndMissingKeepsOpen(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemoryIndex(dim)
	var all []string
	states := map[string]models.IssueState{}
	for n := 1; n <= 12; n++ {
		id := fmt.Sprintf("a/b#%d", n)
		all = append(all, id)
		switch n % 4 {
		case 0:
			states[id] = models.StateOpen
		case 1:
			states[id] = models.StateClosed
		case 2:
			states[id] = models.StateNotFound
		case 3:
			states[id] = models.StateError
		}
	}
	seed(t, idx, all...)

	rep, err := newSweeper(&fakeSource{states: states}, idx).Reconcile(ctx, ReconcileOptions{BatchSize: 5, Pause: -1})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Batches)
	assert.Equal(t, Totals{Open: 3, Closed: 3, NotFound: 3, Error: 3, Deleted: 6}, rep.Totals)
	assert.Equal(t, 12, rep.Before)
	assert.Equal(t, 6, rep.After)

	remaining := ids(t, idx)
	for id, s := range states {
		if s.Removable() {
			assert.NotContains(t, remaining, id)
		} else {
			assert.Contains(t, remaining, id)
		}
	}
}

func TestReconcile_DryRunDeletesNothing(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemoryIndex(dim)
	seed(t, idx, "a/b#1", "a/b#2", "a/b#3", "a/b#4")
	src := &fakeSource{states: map[string]models.IssueState{
		"a/b#1": models.StateOpen,
		"a/b#2": models.StateClosed,
		"a/b#3": models.StateClosed,
	}}

	rep, err := newSweeper(src, idx).Reconcile(ctx, ReconcileOptions{DryRun: true, Pause: -1})
	require.NoError(t, err)
	assert.Zero(t, rep.Totals.Deleted)
	assert.Equal(t, rep.Totals.Closed+rep.Totals.NotFound, rep.Totals.WouldDelete)
	assert.Equal(t, 3, rep.Totals.WouldDelete)
	assert.Len(t, ids(t, idx), 4)
	assert.Equal(t, rep.Before, rep.After)
}

func TestReconcile_BatchFailureContinues(t *testing.T) {
	idx := vectorindex.NewMemoryIndex(dim)
	seed(t, idx, "a/b#1", "a/b#2", "a/b#3", "a/b#4")
	src := &fakeSource{failBatch: 1, states: map[string]models.IssueState{}}

	rep, err := newSweeper(src, idx).Reconcile(context.Background(), ReconcileOptions{BatchSize: 2, Pause: -1})
	require.NoError(t, err)
	assert.True(t, rep.Completed)
	assert.Equal(t, 1, rep.FailedBatches)
	assert.Equal(t, 2, rep.Totals.Error)
	assert.Equal(t, 2, rep.Totals.NotFound)
	assert.Equal(t, []string{"a/b#1", "a/b#2"}, ids(t, idx))
}

func TestReconcile_RateLimitStopsAndResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	store, err := checkpoint.Open("")
	require.NoError(t, err)
	defer store.Close()

	idx := vectorindex.NewMemoryIndex(dim)
	seed(t, idx, "a/b#1", "a/b#2", "a/b#3", "a/b#4", "a/b#5", "a/b#6")
	states := map[string]models.IssueState{
		"a/b#1": models.StateOpen, "a/b#2": models.StateOpen,
		"a/b#3": models.StateClosed, "a/b#4": models.StateOpen,
		"a/b#5": models.StateOpen, "a/b#6": models.StateClosed,
	}

	first, err := newSweeper(&fakeSource{states: states, limitBatch: 3}, idx).
		Reconcile(ctx, ReconcileOptions{BatchSize: 2, Pause: -1, Checkpoint: store})
	require.NoError(t, err)
	assert.True(t, first.RateLimited)
	assert.False(t, first.Completed)
	assert.Equal(t, 2, first.Totals.Deleted, "the rate-limited batch still applies what it resolved")

	cp, err := store.Load(ctx, CheckpointName)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "a/b#4", cp.LastID)

	src := &fakeSource{states: states}
	second, err := newSweeper(src, idx).Reconcile(ctx, ReconcileOptions{BatchSize: 2, Pause: -1, Checkpoint: store})
	require.NoError(t, err)
	assert.Equal(t, "a/b#4", second.ResumedAfter)
	assert.Equal(t, 1, second.Checked, "only a/b#5 remains after the checkpoint")
	assert.True(t, second.Completed)

	cp, err = store.Load(ctx, CheckpointName)
	require.NoError(t, err)
	assert.Nil(t, cp, "a completed run clears the checkpoint")
	assert.Equal(t, []string{"a/b#1", "a/b#2", "a/b#4", "a/b#5"}, ids(t, idx))
}

func TestReconcile_FailedBatchHoldsCheckpoint(t *testing.T) {
	ctx := context.Background()
	store, err := checkpoint.Open("")
	require.NoError(t, err)
	defer store.Close()

	idx := vectorindex.NewMemoryIndex(dim)
	seed(t, idx, "a/b#1", "a/b#2", "a/b#3", "a/b#4", "a/b#5", "a/b#6")
	states := map[string]models.IssueState{
		"a/b#1": models.StateOpen, "a/b#2": models.StateClosed,
		"a/b#3": models.StateOpen, "a/b#4": models.StateOpen,
		"a/b#5": models.StateOpen, "a/b#6": models.StateClosed,
	}

	first, err := newSweeper(&fakeSource{states: states, failBatch: 1, limitBatch: 3}, idx).
		Reconcile(ctx, ReconcileOptions{BatchSize: 2, Pause: -1, Checkpoint: store})
	require.NoError(t, err)
	assert.Equal(t, 1, first.FailedBatches)
	assert.True(t, first.RateLimited)

	cp, err := store.Load(ctx, CheckpointName)
	require.NoError(t, err)
	assert.Nil(t, cp, "nothing before the failed batch was reconciled")

	second, err := newSweeper(&fakeSource{states: states}, idx).
		Reconcile(ctx, ReconcileOptions{BatchSize: 2, Pause: -1, Checkpoint: store})
	require.NoError(t, err)
	assert.Empty(t, second.ResumedAfter)
	assert.Equal(t, 5, second.Checked)
	assert.True(t, second.Completed)
	assert.Equal(t, []string{"a/b#1", "a/b#3", "a/b#4", "a/b#5"}, ids(t, idx))
}

func TestReconcile_FailureAfterProgressKeepsEarlierCheckpoint(t *testing.T) {
	ctx := context.Background()
	store, err := checkpoint.Open("")
	require.NoError(t, err)
	defer store.Close()

	idx := vectorindex.NewMemoryIndex(dim)
	seed(t, idx, "a/b#1", "a/b#2", "a/b#3", "a/b#4", "a/b#5", "a/b#6")
	open := map[string]models.IssueState{}
	for _, id := range ids(t, idx) {
		open[id] = models.StateOpen
	}

	_, err = newSweeper(&fakeSource{states: open, failBatch: 2, limitBatch: 3}, idx).
		Reconcile(ctx, ReconcileOptions{BatchSize: 2, Pause: -1, Checkpoint: store})
	require.NoError(t, err)

	cp, err := store.Load(ctx, CheckpointName)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "a/b#2", cp.LastID)
}

func TestReconcile_CancelledDuringPause(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	idx := vectorindex.NewMemoryIndex(dim)
	seed(t, idx, "a/b#1", "a/b#2", "a/b#3", "a/b#4")
	src := &fakeSource{states: map[string]models.IssueState{}, onBatch: cancel}

	rep, err := newSweeper(src, idx).Reconcile(ctx, ReconcileOptions{BatchSize: 2, Pause: time.Hour})
	require.NoError(t, err)
	assert.False(t, rep.Completed)
	assert.Equal(t, 1, rep.Batches)
	assert.Contains(t, buf.String(), "reconciliation cancelled")
}

func TestReconcile_Limit(t *testing.T) {
	idx := vectorindex.NewMemoryIndex(dim)
	seed(t, idx, "a/b#1", "a/b#2", "a/b#3")
	rep, err := newSweeper(&fakeSource{}, idx).Reconcile(context.Background(), ReconcileOptions{Limit: 2, Pause: -1})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, []string{"a/b#3"}, ids(t, idx))
}

func TestRecentlyIngested(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemoryIndex(dim)
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{
		vectorindex.IssueRecord(models.Issue{ID: "a/b#1", Embedding: []float32{1, 0, 0, 0}, Metadata: models.IssueMetadata{IngestedAt: 10}}),
		vectorindex.IssueRecord(models.Issue{ID: "a/b#2", Embedding: []float32{1, 0, 0, 0}, Metadata: models.IssueMetadata{IngestedAt: 30}}),
		vectorindex.IssueRecord(models.Issue{ID: "a/b#3", Embedding: []float32{1, 0, 0, 0}, Metadata: models.IssueMetadata{IngestedAt: 20}}),
		vectorindex.IssueRecord(models.Issue{ID: "a/b#4", Embedding: []float32{1, 0, 0, 0}}),
	}))

	got, err := newSweeper(&fakeSource{}, idx).RecentlyIngested(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a/b#2", got[0].ID)
	assert.Equal(t, "a/b#3", got[1].ID)
}

// flakyIndex fails the failCall-th DeleteByIDs call.
type flakyIndex struct {
	vectorindex.Index
	calls    int
	failCall int
}

func (f *flakyIndex) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	f.calls++
	if f.calls == f.failCall {
		return 0, &apperrors.IndexError{Op: "delete", Err: errors.New("write conflict")}
	}
	return f.Index.DeleteByIDs(ctx, ids)
}
