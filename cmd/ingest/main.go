// Command ingest fetches open contribution-friendly issues from GitHub,
// embeds them and upserts them into the vector index.
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
	"github.com/ahmednasr/firstcommit/indexer/internal/config"
	"github.com/ahmednasr/firstcommit/indexer/internal/ingest"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:   "ingest",
		Usage:  "Index open good-first-issue style GitHub issues",
		Before: bootstrap.SetupLogger,
		Action: ingestCommand,
		Flags: []cli.Flag{
			bootstrap.LogLevelFlag,
			&cli.StringSliceFlag{
				Name:    "languages",
				Aliases: []string{"L"},
				Usage:   "Repository languages to search (defaults to DEFAULT_LANGUAGES)",
			},
			&cli.IntFlag{
				Name:  "min-stars",
				Usage: "Minimum repository stars",
				Value: ingest.DefaultMinStars,
			},
			&cli.IntFlag{
				Name:  "max-issues",
				Usage: "Maximum issues per (language, label) pair",
				Value: ingest.DefaultMaxIssues,
			},
			&cli.Float64Flag{
				Name:  "created-hours",
				Usage: "Only issues created within the last N hours",
			},
			&cli.Float64Flag{
				Name:  "recent-hours",
				Usage: "Only issues updated within the last N hours",
			},
			&cli.IntFlag{
				Name:  "recent-days",
				Usage: "Only issues updated within the last N days",
			},
			&cli.StringFlag{
				Name:  "label",
				Usage: "Issue label to search",
			},
			&cli.BoolFlag{
				Name:  "all-labels",
				Usage: "Search every contribution label (good first issue, help wanted, beginner, easy)",
			},
			&cli.BoolFlag{
				Name:  "any-label",
				Usage: "Search open issues regardless of label",
			},
			&cli.DurationFlag{
				Name:  "pair-delay",
				Usage: "Pause between consecutive searches",
				Value: 2 * time.Second,
			},
		},
	}
}

// optionsFromFlags resolves the command line into ingestion options.
func optionsFromFlags(c *cli.Context, cfg config.Config) (ingest.Options, error) {
	opts := ingest.Options{
		Languages:          c.StringSlice("languages"),
		Labels:             ingest.LabelSet(c.String("label"), c.Bool("all-labels"), c.Bool("any-label")),
		MinStars:           c.Int("min-stars"),
		MaxIssues:          c.Int("max-issues"),
		CreatedWithinHours: c.Float64("created-hours"),
		UpdatedWithinHours: c.Float64("recent-hours"),
		UpdatedWithinDays:  c.Int("recent-days"),
		PairDelay:          c.Duration("pair-delay"),
	}
	if len(opts.Languages) == 0 {
		opts.Languages = cfg.DefaultLanguages
	}
	if opts.MinStars < 0 || opts.MaxIssues <= 0 {
		return opts, cli.Exit("--min-stars must be >= 0 and --max-issues > 0", 1)
	}
	if opts.CreatedWithinHours < 0 || opts.UpdatedWithinHours < 0 || opts.UpdatedWithinDays < 0 {
		return opts, cli.Exit("time windows must not be negative", 1)
	}
	return opts, nil
}

func ingestCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	opts, err := optionsFromFlags(c, cfg)
	if err != nil {
		return err
	}

	// Credentials fail the run before any work starts.
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

	gen, err := bootstrap.NewGenerator(ctx, cfg)
	if err != nil {
		return err
	}
	defer gen.Close()

	sum := ingest.New(gh, gen, idx, cfg.EmbeddingDim).Run(ctx, opts)

	slog.Info("ingestion summary",
		"run_id", sum.RunID,
		"total_issues", sum.Total,
		"pairs", sum.Pairs,
		"empty_pairs", sum.Empty,
		"rate_limited", sum.RateLimited,
		"last_run_at", sum.Stats.LastRunAt,
	)
	if sum.RateLimit != nil {
		slog.Info("github quota", "status", sum.RateLimit.String())
	}
	if sum.Failed() {
		slog.Error("ingestion finished with errors", "err", sum.Err)
		return cli.Exit("ingestion finished with errors", 1)
	}
	return nil
}
