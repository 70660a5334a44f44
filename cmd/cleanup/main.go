// Command cleanup removes recently closed and stale issues from the index.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ahmednasr/firstcommit/indexer/internal/bootstrap"
	"github.com/ahmednasr/firstcommit/indexer/internal/cleanup"
	"github.com/ahmednasr/firstcommit/indexer/internal/config"
	"github.com/ahmednasr/firstcommit/indexer/internal/ingest"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("cleanup failed", "err", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:   "cleanup",
		Usage:  "Delete closed and stale issues from the vector index",
		Before: bootstrap.SetupLogger,
		Action: cleanupCommand,
		Flags: []cli.Flag{
			bootstrap.LogLevelFlag,
			&cli.Float64Flag{
				Name:  "closed-hours",
				Usage: "Delete issues closed within the last N hours",
				Value: cleanup.DefaultClosedHours,
			},
			&cli.IntFlag{
				Name:  "stale-days",
				Usage: "Delete issues not updated for N days",
				Value: cleanup.DefaultStaleDays,
			},
			&cli.BoolFlag{
				Name:  "skip-closed",
				Usage: "Skip the closed-issue sweep",
			},
			&cli.BoolFlag{
				Name:  "skip-stale",
				Usage: "Skip the stale-issue sweep",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Ids per delete call",
				Value: cleanup.DefaultDeleteBatch,
			},
			// The closed sweep searches the same pairs ingestion indexed.
			&cli.StringSliceFlag{
				Name:    "languages",
				Aliases: []string{"L"},
				Usage:   "Languages to search for closures (defaults to DEFAULT_LANGUAGES)",
			},
			&cli.StringFlag{
				Name:  "label",
				Usage: "Issue label to search for closures",
			},
			&cli.BoolFlag{
				Name:  "all-labels",
				Usage: "Search every contribution label (good first issue, help wanted, beginner, easy)",
			},
			&cli.BoolFlag{
				Name:  "any-label",
				Usage: "Search closed issues regardless of label",
			},
			&cli.DurationFlag{
				Name:  "pair-delay",
				Usage: "Pause between consecutive closed-issue searches",
				Value: 2 * time.Second,
			},
		},
	}
}

// closedOptions resolves the closed-sweep flags the way cmd/ingest does.
func closedOptions(c *cli.Context, cfg config.Config) cleanup.ClosedOptions {
	opts := cleanup.ClosedOptions{
		Hours:     c.Float64("closed-hours"),
		Languages: c.StringSlice("languages"),
		Labels:    ingest.LabelSet(c.String("label"), c.Bool("all-labels"), c.Bool("any-label")),
		BatchSize: c.Int("batch-size"),
		PairDelay: c.Duration("pair-delay"),
	}
	if len(opts.Languages) == 0 {
		opts.Languages = cfg.DefaultLanguages
	}
	return opts
}

func cleanupCommand(c *cli.Context) error {
	if c.Bool("skip-closed") && c.Bool("skip-stale") {
		slog.Info("both sweeps skipped; nothing to do")
		return nil
	}
	if c.Float64("closed-hours") <= 0 || c.Int("stale-days") <= 0 {
		return cli.Exit("--closed-hours and --stale-days must be positive", 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	idx, closeIndex, err := bootstrap.OpenIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex()

	// The stale sweep alone never talks to GitHub.
	var source cleanup.IssueSource
	if !c.Bool("skip-closed") {
		gh, err := bootstrap.NewGitHubClient(cfg)
		if err != nil {
			return err
		}
		if err := gh.Authenticate(ctx); err != nil {
			return err
		}
		source = gh
	}
	sweeper := cleanup.NewSweeper(source, idx, cfg.EmbeddingDim)

	failed := false
	if !c.Bool("skip-closed") {
		rep := sweeper.SweepClosed(ctx, closedOptions(c, cfg))
		slog.Info("closed sweep summary",
			"pairs", rep.Pairs, "found", rep.Found, "deleted", rep.Deleted,
			"failed_batches", rep.FailedBatches, "rate_limited", rep.RateLimited)
		failed = failed || rep.Err != nil
	}
	if !c.Bool("skip-stale") {
		rep := sweeper.SweepStale(ctx, cleanup.StaleOptions{
			Days:      c.Int("stale-days"),
			BatchSize: c.Int("batch-size"),
		})
		slog.Info("stale sweep summary",
			"cutoff", rep.Cutoff, "found", rep.Found, "deleted", rep.Deleted,
			"failed_batches", rep.FailedBatches)
		failed = failed || rep.Err != nil
	}

	if stats, err := idx.Stats(ctx); err == nil {
		slog.Info("index size after cleanup", "vectors", stats.TotalVectorCount)
	}
	if failed {
		return cli.Exit("cleanup sweep did not complete", 1)
	}
	return nil
}
