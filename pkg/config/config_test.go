package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "rag_chunks", cfg.Qdrant.Collection)
	assert.Equal(t, 3, cfg.Retrieval.OverfetchFactor)
	assert.Equal(t, 0.7, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
}

func TestLoadMergesPartialFileWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9090"
retrieval:
  vector_weight: 0.5
  keyword_weight: 0.5
response_cache:
  ttl_secs: 60
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 0.5, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 0.5, cfg.Retrieval.KeywordWeight)
	assert.Equal(t, 60, cfg.ResponseCache.TTLSecs)
	// Untouched sections still get defaults.
	assert.Equal(t, "llama3.2", cfg.Ollama.Model)
	assert.Equal(t, 768, cfg.Qdrant.Dimension)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Server.Addr = ":7070"
	cfg.Pipeline.Workers = 2

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestNativeConfigConversions(t *testing.T) {
	cfg := Default()
	cfg.Ollama.RequestTimeoutSecs = 30
	cfg.Qdrant.RequestTimeoutSecs = 5
	cfg.ResponseCache.TTLSecs = 3600

	ollama := cfg.OllamaClientConfig()
	assert.Equal(t, "http://localhost:11434", ollama.BaseURL)
	assert.Equal(t, 30*time.Second, ollama.RequestTimeout)

	qdrant := cfg.QdrantStoreConfig()
	assert.Equal(t, 6334, qdrant.Port)
	assert.Equal(t, 5*time.Second, qdrant.RequestTimeout)

	responses := cfg.ResponseCacheServiceConfig()
	assert.Equal(t, time.Hour, responses.TTL)
}
