package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmednasr/firstcommit/indexer/internal/bootstrap"
	"github.com/ahmednasr/firstcommit/indexer/internal/config"
	"github.com/ahmednasr/firstcommit/indexer/internal/handler"
	"github.com/ahmednasr/firstcommit/indexer/internal/middleware"
	"github.com/ahmednasr/firstcommit/indexer/internal/service"
)

// main is the single entry-point for the query API.
func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg := config.Load()
	if err := bootstrap.ConfigureLogging(cfg.LogLevel); err != nil {
		return err
	}
	slog.Info("configuration loaded",
		"index_backend", cfg.IndexBackend,
		"database", cfg.DBName,
		"collection", cfg.IssuesCollection,
		"embedding_provider", cfg.EmbeddingProvider,
		"embedding_dim", cfg.EmbeddingDim)

	// Vector index
	idx, closeIndex, err := bootstrap.OpenIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex()

	// Query embeddings
	gen, err := bootstrap.NewGenerator(ctx, cfg)
	if err != nil {
		return err
	}
	defer gen.Close()

	// Services
	searchSvc := service.NewSearchService(idx, gen, cfg.EmbeddingDim,
		service.WithTopK(cfg.SearchTopK),
		service.WithWeights(service.Weights{
			Similarity:   cfg.WeightSimilarity,
			Recency:      cfg.WeightRecency,
			Stars:        cfg.WeightStars,
			HalfLifeDays: cfg.HalfLifeDays,
		}),
	)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorHandler: handler.ErrorHandler,
	})
	app.Use(middleware.Logging())
	handler.RegisterRoutes(app, searchSvc)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		_ = app.Shutdown()
	}()

	slog.Info("server starting", "port", cfg.Port)
	return app.Listen(":" + cfg.Port)
}
