package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text:latest", cfg.Embedding.Model)
	assert.Equal(t, 8000, cfg.Embedding.MaxChars)
	assert.Equal(t, "memory", cfg.Index.Provider)
	assert.Equal(t, 768, cfg.Index.VectorDim)
	assert.Equal(t, 20, cfg.Chat.HistoryLimit)
	assert.Equal(t, 3, cfg.Chat.PerCollectionK)
	assert.Equal(t, 5, cfg.Chat.FinalK)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.Overlap)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedding:
  provider: openai
  model: text-embedding-3-small
  api_key: sk-test
index:
  provider: pgvector
  vector_dim: 1536
database:
  url: postgres://localhost/sage
chat:
  history_limit: 10
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, "pgvector", cfg.Index.Provider)
	assert.Equal(t, 1536, cfg.Index.VectorDim)
	assert.Equal(t, 10, cfg.Chat.HistoryLimit)
	// unset fields still pick up defaults
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Empty(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/sage")
	t.Setenv("PORT", "9090")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/sage", cfg.Database.URL)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Embedding.Provider = "watsonx"
	cfg.Index.Provider = "pgvector"
	cfg.Database.URL = ""
	cfg.Chunker.Overlap = cfg.Chunker.ChunkSize

	errs := cfg.Validate()
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "embedding.provider")
	assert.Contains(t, fields, "database.url")
	assert.Contains(t, fields, "chunker.overlap")
}

func TestMissingFileErrors(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.APIKey = ""

	errs := cfg.Validate()
	require.NotEmpty(t, errs)
	assert.Equal(t, "embedding.api_key", errs[0].Field)
}
