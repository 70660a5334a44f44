// Package bootstrap builds the long-lived collaborators the commands share
// from a loaded config.Config. Everything is constructed once in main and
// passed down explicitly.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ahmednasr/firstcommit/indexer/internal/checkpoint"
	"github.com/ahmednasr/firstcommit/indexer/internal/config"
	"github.com/ahmednasr/firstcommit/indexer/internal/database"
	"github.com/ahmednasr/firstcommit/indexer/internal/embedding"
	"github.com/ahmednasr/firstcommit/indexer/internal/github"
	"github.com/ahmednasr/firstcommit/indexer/internal/vectorindex"
)

// ---- Logging ---------------------------------------------------------------

// LogLevelFlag is the global --log-level flag every command carries.
var LogLevelFlag = &cli.StringFlag{
	Name:    "log-level",
	Aliases: []string{"l"},
	Usage:   "Set logging level (debug, info, warn, error)",
	Value:   "info",
}

// SetupLogger installs a text slog handler at the --log-level level. It is
// used as the cli.App Before hook.
func SetupLogger(c *cli.Context) error {
	return ConfigureLogging(c.String("log-level"))
}

// ConfigureLogging installs a text slog handler on stderr at levelStr.
func ConfigureLogging(levelStr string) error {
	levelStr = strings.ToLower(levelStr)

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// ---- Vector index ----------------------------------------------------------

// OpenIndex connects the configured backend. The returned close func
// releases the connection and is never nil.
func OpenIndex(ctx context.Context, cfg config.Config) (vectorindex.Index, func(), error) {
	if err := cfg.ValidateIndex(); err != nil {
		return nil, func() {}, err
	}
	if cfg.IndexBackend == "memory" {
		slog.Warn("using the in-memory index; nothing is persisted")
		return vectorindex.NewMemoryIndex(cfg.EmbeddingDim), func() {}, nil
	}

	client, err := database.NewMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, func() {}, fmt.Errorf("connect to MongoDB: %w", err)
	}
	col := client.Database(cfg.DBName).Collection(cfg.IssuesCollection)
	slog.Info("connected to vector index", "db", cfg.DBName, "collection", cfg.IssuesCollection, "vector_index", cfg.VectorIndexName)

	idx := vectorindex.NewMongoIndex(col, cfg.VectorIndexName, cfg.EmbeddingDim,
		vectorindex.WithCallTimeout(cfg.HTTPTimeout))
	closeFn := func() {
		if err := database.Disconnect(client); err != nil {
			slog.Warn("mongo disconnect failed", "err", err)
		}
	}
	return idx, closeFn, nil
}

// ---- Embeddings ------------------------------------------------------------

// NewGenerator builds the configured embedding model and wraps it in a
// Generator. Callers Close the generator.
func NewGenerator(ctx context.Context, cfg config.Config) (*embedding.Generator, error) {
	if err := cfg.ValidateEmbedding(); err != nil {
		return nil, err
	}

	var (
		model embedding.Model
		err   error
	)
	switch cfg.EmbeddingProvider {
	case "vertex":
		model, err = embedding.NewVertexModel(ctx, cfg.ProjectID, cfg.Location, cfg.EmbeddingModel, cfg.CredentialsFile)
	case "openai":
		model, err = embedding.NewOpenAIModel(cfg.EmbeddingHost, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	case "hash":
		slog.Warn("using the hash embedding model; similarity is lexical only")
		model = embedding.NewHashModel(cfg.EmbeddingDim)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s embeddings: %w", cfg.EmbeddingProvider, err)
	}

	return embedding.NewGenerator(model, cfg.EmbeddingDim,
		embedding.WithBatchSize(cfg.EmbeddingBatchSize),
		embedding.WithTokenBudget(cfg.EmbeddingTokens),
		embedding.WithWorkers(cfg.EmbeddingWorkers),
		embedding.WithTimeout(cfg.HTTPTimeout),
	), nil
}

// ---- GitHub ----------------------------------------------------------------

// NewGitHubClient authenticates as the configured GitHub App, or with
// GITHUB_TOKEN when no app is configured.
func NewGitHubClient(cfg config.Config) (*github.Client, error) {
	if err := cfg.ValidateGitHub(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	var auth github.TokenSource
	if cfg.GitHubAppID != "" {
		app, err := github.NewAppAuth(cfg.GitHubAppID, cfg.GitHubInstallationID, cfg.GitHubPrivateKey, cfg.GitHubAPIURL, httpClient)
		if err != nil {
			return nil, err
		}
		auth = app
	} else {
		auth = github.StaticToken(cfg.GitHubToken)
	}

	return github.NewClient(auth,
		github.WithHTTPClient(httpClient),
		github.WithGraphQLURL(cfg.GitHubGraphQLURL),
		github.WithRate(cfg.GitHubRPS),
	), nil
}

// ---- Checkpoints -----------------------------------------------------------

// OpenCheckpoints opens the reconciliation checkpoint store under
// CHECKPOINT_DIR, or nil when none is configured.
func OpenCheckpoints(cfg config.Config) (*checkpoint.Store, error) {
	if cfg.CheckpointDir == "" {
		return nil, nil
	}
	return checkpoint.Open(cfg.CheckpointDir)
}
