// Command wipeindex deletes every vector in the index, the ingestion stats
// sentinel included.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ahmednasr/firstcommit/indexer/internal/bootstrap"
	"github.com/ahmednasr/firstcommit/indexer/internal/config"
)

// confirmWord must be passed to --confirm verbatim.
const confirmWord = "DELETE"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("wipe failed", "err", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:   "wipeindex",
		Usage:  "Delete ALL vectors from the index",
		Before: bootstrap.SetupLogger,
		Action: wipeCommand,
		Flags: []cli.Flag{
			bootstrap.LogLevelFlag,
			&cli.StringFlag{
				Name:  "confirm",
				Usage: "Type " + confirmWord + " to confirm",
			},
		},
	}
}

func wipeCommand(c *cli.Context) error {
	if c.String("confirm") != confirmWord {
		return cli.Exit("refusing to wipe the index: pass --confirm "+confirmWord, 1)
	}

	ctx := context.Background()
	cfg := config.Load()
	idx, closeIndex, err := bootstrap.OpenIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex()

	before, err := idx.Stats(ctx)
	if err != nil {
		return err
	}
	slog.Warn("deleting all vectors", "vectors", before.TotalVectorCount, "backend", before.Backend)
	if err := idx.DeleteAll(ctx); err != nil {
		return err
	}
	slog.Info("index wiped", "deleted", before.TotalVectorCount)
	return nil
}
