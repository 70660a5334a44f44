// Package config centralises all environment / flag configuration for the
// server and the batch commands. It should be imported only by `cmd/*` (and
// test code). Business-logic layers receive already-built values via
// dependency-injection.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime option the processes need.
// Keep it flat: primitive types, no nested structs.
type Config struct {
	// Network
	Port     string
	LogLevel string // server only; the commands take --log-level

	// Vector index
	IndexBackend     string // "mongo" | "memory"
	MongoURI         string
	DBName           string
	IssuesCollection string
	VectorIndexName  string
	AuditCollection  string

	// Embeddings
	EmbeddingProvider  string // "vertex" | "openai" | "hash"
	EmbeddingModel     string
	EmbeddingHost      string
	EmbeddingAPIKey    string // openai provider only; local servers accept any token
	EmbeddingDim       int
	EmbeddingBatchSize int
	EmbeddingTokens    int // estimated token cap per request; <= 0 disables
	EmbeddingWorkers   int
	ProjectID          string
	Location           string
	CredentialsFile    string

	// GitHub
	GitHubAppID          string
	GitHubInstallationID string
	GitHubPrivateKey     string // PEM; GH_PRIVATE_KEY or the contents of GH_PRIVATE_KEY_PATH
	GitHubToken          string // personal token fallback when no app is configured
	GitHubGraphQLURL     string
	GitHubAPIURL         string
	GitHubRPS            float64

	// Timeouts
	HTTPTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Ingestion
	DefaultLanguages []string

	// Ranking
	WeightSimilarity float64
	WeightRecency    float64
	WeightStars      float64
	HalfLifeDays     float64
	SearchTopK       int

	// Reconciliation resume state
	CheckpointDir string
}

// Load parses the environment (and an optional .env file) into Config.
// Nothing here is fatal; callers run Validate* for the parts they use.
func Load() Config {
	// A missing .env is fine; production sets real env vars.
	_ = godotenv.Load()

	return Config{
		Port:                 getEnv("PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		IndexBackend:         getEnv("INDEX_BACKEND", "mongo"),
		MongoURI:             os.Getenv("MONGODB_URI"),
		DBName:               getEnv("MONGODB_DB", "firstcommit"),
		IssuesCollection:     getEnv("ISSUES_COLLECTION", "issues"),
		VectorIndexName:      getEnv("VECTOR_INDEX_NAME", "issue_embedding_index"),
		AuditCollection:      getEnv("AUDIT_COLLECTION", "audit_cache"),
		EmbeddingProvider:    getEnv("EMBEDDING_PROVIDER", "vertex"),
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", "text-embedding-005"),
		EmbeddingHost:        getEnv("EMBEDDING_HOST", "http://localhost:11434/v1"),
		EmbeddingAPIKey:      getEnv("EMBEDDING_API_KEY", "none"),
		EmbeddingDim:         getInt("EMBEDDING_DIM", 768),
		EmbeddingBatchSize:   getInt("EMBEDDING_BATCH_SIZE", 100),
		EmbeddingTokens:      getInt("EMBEDDING_TOKEN_BUDGET", 18000),
		EmbeddingWorkers:     getInt("EMBEDDING_WORKERS", 4),
		ProjectID:            os.Getenv("GCP_PROJECT_ID"),
		Location:             getEnv("GCP_LOCATION", "us-central1"),
		CredentialsFile:      os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		GitHubAppID:          os.Getenv("GH_APP_ID"),
		GitHubInstallationID: os.Getenv("GH_INSTALLATION_ID"),
		GitHubPrivateKey:     privateKey(),
		GitHubToken:          os.Getenv("GITHUB_TOKEN"),
		GitHubGraphQLURL:     getEnv("GITHUB_GRAPHQL_URL", "https://api.github.com/graphql"),
		GitHubAPIURL:         getEnv("GITHUB_API_URL", "https://api.github.com"),
		GitHubRPS:            getFloat("GITHUB_RPS", 1),
		HTTPTimeout:          getDuration("HTTP_TIMEOUT_SEC", 30),
		ReadTimeout:          getDuration("READ_TIMEOUT_SEC", 5),
		WriteTimeout:         getDuration("WRITE_TIMEOUT_SEC", 10),
		DefaultLanguages:     getList("DEFAULT_LANGUAGES", []string{"Python", "JavaScript", "TypeScript", "Go", "Rust", "Java"}),
		WeightSimilarity:     getFloat("RANK_WEIGHT_SIMILARITY", 0.6),
		WeightRecency:        getFloat("RANK_WEIGHT_RECENCY", 0.25),
		WeightStars:          getFloat("RANK_WEIGHT_STARS", 0.15),
		HalfLifeDays:         getFloat("RANK_HALF_LIFE_DAYS", 14),
		SearchTopK:           getInt("SEARCH_TOP_K", 100),
		CheckpointDir:        os.Getenv("CHECKPOINT_DIR"),
	}
}

// ValidateIndex checks the settings needed to reach the vector index.
func (c Config) ValidateIndex() error {
	switch c.IndexBackend {
	case "memory":
		return nil
	case "mongo":
		if c.MongoURI == "" {
			return errors.New("config: MONGODB_URI is required for the mongo index backend")
		}
		return nil
	default:
		return errors.New("config: INDEX_BACKEND must be mongo or memory")
	}
}

// ValidateGitHub checks that some GitHub credential is configured.
func (c Config) ValidateGitHub() error {
	if c.GitHubAppID != "" {
		if c.GitHubInstallationID == "" || c.GitHubPrivateKey == "" {
			return errors.New("config: GH_INSTALLATION_ID and GH_PRIVATE_KEY(_PATH) are required with GH_APP_ID")
		}
		return nil
	}
	if c.GitHubToken == "" {
		return errors.New("config: set GH_APP_ID (app auth) or GITHUB_TOKEN")
	}
	return nil
}

// ValidateEmbedding checks provider-specific embedding settings.
func (c Config) ValidateEmbedding() error {
	if c.EmbeddingDim <= 0 {
		return errors.New("config: EMBEDDING_DIM must be positive")
	}
	switch c.EmbeddingProvider {
	case "vertex":
		if c.ProjectID == "" {
			return errors.New("config: GCP_PROJECT_ID is required for vertex embeddings")
		}
	case "openai":
		if c.EmbeddingHost == "" {
			return errors.New("config: EMBEDDING_HOST is required for openai embeddings")
		}
	case "hash":
	default:
		return errors.New("config: EMBEDDING_PROVIDER must be vertex, openai or hash")
	}
	return nil
}

// privateKey reads the app key inline or from GH_PRIVATE_KEY_PATH.
func privateKey() string {
	if key := os.Getenv("GH_PRIVATE_KEY"); key != "" {
		// Single-line secrets carry escaped newlines.
		return strings.ReplaceAll(key, `\n`, "\n")
	}
	path := os.Getenv("GH_PRIVATE_KEY_PATH")
	if path == "" {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("cannot read GH_PRIVATE_KEY_PATH", "path", path, "err", err)
		return ""
	}
	return string(raw)
}

// getEnv returns env[key] if set, otherwise defaultVal.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getDuration reads an integer (seconds) from env, falling back to defaultSec.
func getDuration(key string, defaultSec int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			return time.Duration(sec) * time.Second
		}
		slog.Warn("invalid duration; using default", "key", key, "value", v, "default_sec", defaultSec)
	}
	return time.Duration(defaultSec) * time.Second
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid integer; using default", "key", key, "value", v, "default", defaultVal)
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("invalid number; using default", "key", key, "value", v, "default", defaultVal)
	}
	return defaultVal
}

// getList splits a comma-separated env var, dropping blanks.
func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
