package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no stray .env
	for _, k := range []string{"INDEX_BACKEND", "EMBEDDING_DIM", "DEFAULT_LANGUAGES", "RANK_WEIGHT_SIMILARITY", "READ_TIMEOUT_SEC"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "mongo", cfg.IndexBackend)
	assert.Equal(t, 768, cfg.EmbeddingDim)
	assert.Equal(t, 0.6, cfg.WeightSimilarity)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Contains(t, cfg.DefaultLanguages, "Go")
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DEFAULT_LANGUAGES", " Rust, ,Zig ")
	t.Setenv("EMBEDDING_DIM", "not-a-number")
	t.Setenv("RANK_HALF_LIFE_DAYS", "7.5")
	t.Setenv("GH_PRIVATE_KEY", `-----BEGIN KEY-----\nabc\n-----END KEY-----`)

	cfg := Load()
	assert.Equal(t, []string{"Rust", "Zig"}, cfg.DefaultLanguages)
	assert.Equal(t, 768, cfg.EmbeddingDim)
	assert.Equal(t, 7.5, cfg.HalfLifeDays)
	assert.Equal(t, "-----BEGIN KEY-----\nabc\n-----END KEY-----", cfg.GitHubPrivateKey)
}

func TestPrivateKeyFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.pem")
	require.NoError(t, os.WriteFile(path, []byte("PEM"), 0o600))
	t.Setenv("GH_PRIVATE_KEY", "")
	t.Setenv("GH_PRIVATE_KEY_PATH", path)

	assert.Equal(t, "PEM", privateKey())
}

func TestValidate(t *testing.T) {
	assert.Error(t, Config{IndexBackend: "mongo"}.ValidateIndex())
	assert.NoError(t, Config{IndexBackend: "memory"}.ValidateIndex())
	assert.Error(t, Config{IndexBackend: "pinecone"}.ValidateIndex())

	assert.Error(t, Config{}.ValidateGitHub())
	assert.NoError(t, Config{GitHubToken: "t"}.ValidateGitHub())
	assert.Error(t, Config{GitHubAppID: "1"}.ValidateGitHub())
	assert.NoError(t, Config{GitHubAppID: "1", GitHubInstallationID: "2", GitHubPrivateKey: "k"}.ValidateGitHub())

	assert.Error(t, Config{EmbeddingProvider: "vertex", EmbeddingDim: 768}.ValidateEmbedding())
	assert.NoError(t, Config{EmbeddingProvider: "hash", EmbeddingDim: 8}.ValidateEmbedding())
	assert.Error(t, Config{EmbeddingProvider: "hash"}.ValidateEmbedding())
}
