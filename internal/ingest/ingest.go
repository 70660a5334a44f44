// Package ingest drives fetch, embed and upsert for every (language, label)
// pair of a run and records the run in the index's stats sentinel.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
	"github.com/ahmednasr/firstcommit/indexer/internal/embedding"
	"github.com/ahmednasr/firstcommit/indexer/internal/github"
	"github.com/ahmednasr/firstcommit/indexer/internal/models"
	"github.com/ahmednasr/firstcommit/indexer/internal/vectorindex"
)

// ContributionLabels is the label set searched with --all-labels.
var ContributionLabels = []string{"good first issue", "help wanted", "beginner", "easy"}

// Defaults mirror the command-line defaults.
const (
	DefaultMinStars  = 500
	DefaultMaxIssues = 100
)

// IssueSource is the part of the GitHub client ingestion needs.
type IssueSource interface {
	SearchIssues(ctx context.Context, p github.SearchParams) ([]models.IssueMetadata, error)
	GetRateLimitStatus(ctx context.Context) (models.RateLimitStatus, error)
}

// Embedder turns documents into vectors, one per text in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options selects what one run fetches.
type Options struct {
	Languages []string
	// Labels to search, one pass each. An empty string means no label
	// qualifier. Nil means DefaultLabel only.
	Labels             []string
	MinStars           int
	MaxIssues          int
	CreatedWithinHours float64
	UpdatedWithinHours float64
	UpdatedWithinDays  int
	// PairDelay paces consecutive searches.
	PairDelay time.Duration
}

// LabelSet resolves the label flags: anyLabel wins over all, which wins
// over single.
func LabelSet(single string, all, anyLabel bool) []string {
	switch {
	case anyLabel:
		return []string{""}
	case all:
		return append([]string(nil), ContributionLabels...)
	case single != "":
		return []string{single}
	default:
		return []string{github.DefaultLabel}
	}
}

// Summary reports one run.
type Summary struct {
	RunID       string
	Total       int // distinct issues upserted
	Pairs       int // pairs attempted
	Empty       int // pairs with no results
	RateLimited bool
	Err         error // non-rate-limit failures, aggregated
	Stats       models.IngestionStats
	RateLimit   *models.RateLimitStatus
}

// Failed reports whether any non-rate-limit error occurred. A run stopped
// only by the rate limit is a success.
func (s Summary) Failed() bool { return s.Err != nil }

// Orchestrator wires the source, the embedder and the index.
type Orchestrator struct {
	source   IssueSource
	embedder Embedder
	index    vectorindex.Index
	dim      int
	now      func() time.Time
	logger   *slog.Logger
}

// New builds an orchestrator; dim is the index vector dimension used for
// the stats sentinel.
func New(source IssueSource, embedder Embedder, index vectorindex.Index, dim int) *Orchestrator {
	return &Orchestrator{
		source:   source,
		embedder: embedder,
		index:    index,
		dim:      dim,
		now:      time.Now,
		logger:   slog.Default().With("component", "ingest"),
	}
}

// Run processes every (language, label) pair sequentially. A rate limit
// stops the remaining pairs; other per-pair failures are recorded and the
// run moves on. The stats sentinel is written in every case.
func (o *Orchestrator) Run(ctx context.Context, opts Options) Summary {
	sum := Summary{RunID: uuid.NewString()}
	logger := o.logger.With("run_id", sum.RunID)

	labels := opts.Labels
	if labels == nil {
		labels = []string{github.DefaultLabel}
	}
	logger.Info("starting ingestion",
		"languages", opts.Languages, "labels", labelNames(labels),
		"min_stars", opts.MinStars, "max_issues", opts.MaxIssues)

	seen := make(map[string]struct{})

pairs:
	for _, lang := range opts.Languages {
		for _, label := range labels {
			if sum.Pairs > 0 && opts.PairDelay > 0 {
				if err := sleep(ctx, opts.PairDelay); err != nil {
					sum.Err = multierror.Append(sum.Err, err)
					break pairs
				}
			}
			sum.Pairs++

			n, err := o.ingestPair(ctx, lang, label, opts, seen)
			if n == 0 && err == nil {
				sum.Empty++
			}
			switch {
			case apperrors.IsRateLimit(err):
				logger.Warn("rate limit reached; stopping remaining pairs", "language", lang, "label", labelName(label), "err", err)
				sum.RateLimited = true
				break pairs
			case err != nil:
				logger.Error("pair failed", "language", lang, "label", labelName(label), "err", err)
				sum.Err = multierror.Append(sum.Err, fmt.Errorf("%s/%s: %w", lang, labelName(label), err))
				if ctx.Err() != nil {
					break pairs
				}
			}
		}
	}
	sum.Total = len(seen)

	// Stats and the quota report must happen even after cancellation.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	stats, err := vectorindex.WriteIngestionStats(finishCtx, o.index, o.dim, sum.Total, o.now())
	if err != nil {
		logger.Error("failed to write ingestion stats", "err", err)
		sum.Err = multierror.Append(sum.Err, fmt.Errorf("write stats: %w", err))
	}
	sum.Stats = stats

	if status, err := o.source.GetRateLimitStatus(finishCtx); err != nil {
		logger.Warn("could not read rate limit status", "err", err)
	} else {
		sum.RateLimit = &status
		logger.Info("rate limit status", "remaining", status.Remaining, "limit", status.Limit, "reset_at", status.ResetAt)
	}

	logger.Info("ingestion finished",
		"total", sum.Total, "pairs", sum.Pairs, "empty", sum.Empty,
		"rate_limited", sum.RateLimited, "failed", sum.Failed())
	return sum
}

// ingestPair runs one search and stores what it found. Issues returned
// alongside a rate-limit error are still stored before the error is
// passed up.
func (o *Orchestrator) ingestPair(ctx context.Context, lang, label string, opts Options, seen map[string]struct{}) (int, error) {
	// 1. Fetch
	issues, fetchErr := o.source.SearchIssues(ctx, github.SearchParams{
		Language:           lang,
		Label:              label,
		MinStars:           opts.MinStars,
		CreatedWithinHours: opts.CreatedWithinHours,
		UpdatedWithinHours: opts.UpdatedWithinHours,
		UpdatedWithinDays:  opts.UpdatedWithinDays,
		MaxIssues:          opts.MaxIssues,
	})
	if fetchErr != nil && !apperrors.IsRateLimit(fetchErr) {
		return 0, fetchErr
	}
	if len(issues) == 0 {
		o.logger.Info("no issues found", "language", lang, "label", labelName(label))
		return 0, fetchErr
	}

	// 2. Embed
	texts := make([]string, len(issues))
	for i, md := range issues {
		texts[i] = embedding.ComposeIssueText(md)
	}
	vectors, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	// 3. Stamp and upsert
	ingestedAt := o.now().Unix()
	records := make([]vectorindex.Record, len(issues))
	for i, md := range issues {
		md.IngestedAt = ingestedAt
		records[i] = vectorindex.IssueRecord(models.Issue{
			ID:        models.IssueID(md.RepoFullName, md.IssueNumber),
			Embedding: vectors[i],
			Metadata:  md,
		})
	}
	if err := o.index.Upsert(ctx, records); err != nil {
		return 0, err
	}

	for _, r := range records {
		seen[r.ID] = struct{}{}
	}
	o.logger.Info("upserted issues", "language", lang, "label", labelName(label), "count", len(records))
	return len(records), fetchErr
}

func labelName(label string) string {
	if label == "" {
		return "ANY"
	}
	return label
}

func labelNames(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = labelName(l)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
