package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

metasearch {
  base_url = "http://localhost:8888"
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Database.Path)
	assert.Equal(t, "localhost", cfg.VectorIndex.Host)
	assert.Equal(t, 6334, cfg.VectorIndex.Port)
	assert.Equal(t, DefaultCollection, cfg.VectorIndex.Collection)
	assert.Equal(t, "payload", cfg.TextIndex.Provider)
	assert.Equal(t, "http://localhost:8888", cfg.Metasearch.BaseURL)
	assert.Equal(t, 1000, cfg.Metasearch.MemoryCacheSize)
	assert.Equal(t, DefaultEncryptionKey, cfg.Encryption.KeyPath)
}

func TestLoadFullTree(t *testing.T) {
	path := writeConfig(t, `
database {
  driver = "postgres"
  host   = "db.internal"
  port   = 5432
  user   = "gruenerator"
  dbname = "gruenerator"
}

vector_index {
  host       = "qdrant.internal"
  port       = 6334
  collection = "chunks"
  use_tls    = true
}

text_index {
  provider            = "meilisearch"
  meilisearch_host    = "http://meili.internal:7700"
  meilisearch_api_key = "masterkey"
}

embeddings {
  provider = "ollama"
  model    = "nomic-embed-text"
}

llm {
  model      = "llama3.1"
  ollama_url = "http://ollama.internal:11434"
}

events {
  brokers = ["redpanda-0:9092", "redpanda-1:9092"]
}

research {
  grundsatz_collection = "grundsatz_chunks"
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "qdrant.internal", cfg.VectorIndex.Host)
	assert.True(t, cfg.VectorIndex.UseTLS)
	assert.Equal(t, "meilisearch", cfg.TextIndex.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, []string{"redpanda-0:9092", "redpanda-1:9092"}, cfg.Events.Brokers)
	assert.Equal(t, "grundsatz_chunks", cfg.Research.GrundsatzCollection)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
database {
  driver = "oracle"
}
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsIncompleteProvider(t *testing.T) {
	path := writeConfig(t, `
text_index {
  provider = "algolia"
}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "algolia_app_id")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRUENERATOR_SEARX_URL", "http://searx.env:8080")
	t.Setenv("GRUENERATOR_DB_PASSWORD", "secret-from-env")

	path := writeConfig(t, `
database {
  driver = "sqlite"
}

metasearch {
  base_url = "http://searx.file:8080"
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://searx.env:8080", cfg.Metasearch.BaseURL)
	assert.Equal(t, "secret-from-env", cfg.Database.Password)
}

func TestDevDefault(t *testing.T) {
	cfg := DevDefault()
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "payload", cfg.TextIndex.Provider)
	assert.NotNil(t, cfg.Events)
}
