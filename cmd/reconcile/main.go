// Command reconcile re-checks every indexed issue against GitHub and
// removes the ones that are closed or gone.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ahmednasr/firstcommit/indexer/internal/bootstrap"
	"github.com/ahmednasr/firstcommit/indexer/internal/cleanup"
	"github.com/ahmednasr/firstcommit/indexer/internal/config"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("reconcile failed", "err", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:   "reconcile",
		Usage:  "Remove closed and deleted issues by checking every indexed id",
		Before: bootstrap.SetupLogger,
		Action: reconcileCommand,
		Flags: []cli.Flag{
			bootstrap.LogLevelFlag,
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Classify only; delete nothing",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Check at most N ids (0 means all)",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Ids per GitHub state query",
				Value: cleanup.DefaultReconcileBatch,
			},
			&cli.DurationFlag{
				Name:  "pause",
				Usage: "Pause between batches",
				Value: cleanup.DefaultReconcilePause,
			},
			&cli.BoolFlag{
				Name:  "fresh",
				Usage: "Ignore any saved checkpoint and start from the first id",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "verify",
				Usage:  "List the most recently ingested issues",
				Action: verifyCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of issues to list",
						Value: 10,
					},
				},
			},
		},
	}
}

func reconcileCommand(c *cli.Context) error {
	if c.Int("limit") < 0 || c.Int("batch-size") <= 0 {
		return cli.Exit("--limit must be >= 0 and --batch-size > 0", 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	gh, err := bootstrap.NewGitHubClient(cfg)
	if err != nil {
		return err
	}
	if err := gh.Authenticate(ctx); err != nil {
		return err
	}

	idx, closeIndex, err := bootstrap.OpenIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex()

	opts := cleanup.ReconcileOptions{
		DryRun:    c.Bool("dry-run"),
		Limit:     c.Int("limit"),
		BatchSize: c.Int("batch-size"),
		Pause:     c.Duration("pause"),
	}
	if opts.Pause == 0 {
		opts.Pause = -1
	}
	store, err := bootstrap.OpenCheckpoints(cfg)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	if store != nil {
		defer store.Close()
		if c.Bool("fresh") {
			if err := store.Clear(ctx, cleanup.CheckpointName); err != nil {
				return err
			}
		}
		opts.Checkpoint = store
	}

	rep, err := cleanup.NewSweeper(gh, idx, cfg.EmbeddingDim).Reconcile(ctx, opts)
	if err != nil {
		return err
	}

	slog.Info("reconciliation summary",
		"run_id", rep.RunID,
		"dry_run", rep.DryRun,
		"resumed_after", rep.ResumedAfter,
		"checked", rep.Checked,
		"open", rep.Totals.Open,
		"closed", rep.Totals.Closed,
		"not_found", rep.Totals.NotFound,
		"error", rep.Totals.Error,
		"deleted", rep.Totals.Deleted,
		"would_delete", rep.Totals.WouldDelete,
		"index_before", rep.Before,
		"index_after", rep.After,
		"rate_limited", rep.RateLimited,
		"completed", rep.Completed,
	)
	// Failed batches are counted in the summary; the next run picks them up.
	if rep.FailedBatches > 0 {
		slog.Warn("some batches failed", "failed_batches", rep.FailedBatches)
	}
	return nil
}

func verifyCommand(c *cli.Context) error {
	ctx := context.Background()
	cfg := config.Load()
	idx, closeIndex, err := bootstrap.OpenIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex()

	matches, err := cleanup.NewSweeper(nil, idx, cfg.EmbeddingDim).RecentlyIngested(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "%d recently ingested issues\n", len(matches))
	for _, m := range matches {
		md := m.Metadata
		fmt.Fprintf(w, "%-40s  %-12s  stars=%-6d  ingested %s\n  %s\n  %s\n",
			m.ID, md.Language, md.Stars,
			time.Unix(md.IngestedAt, 0).UTC().Format(time.RFC3339),
			md.Title, md.URL)
	}
	return nil
}
