// Package config loads and persists the application configuration as YAML.
// Every section maps onto the native config of the package it tunes; zero
// values fall back to that package's defaults.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andrew/rag-engine/pkg/cache"
	"github.com/andrew/rag-engine/pkg/cache/embedcache"
	"github.com/andrew/rag-engine/pkg/cache/respcache"
	"github.com/andrew/rag-engine/pkg/llm"
	"github.com/andrew/rag-engine/pkg/pipeline"
	"github.com/andrew/rag-engine/pkg/retrieval"
	"github.com/andrew/rag-engine/pkg/vector"
)

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Addr                string `yaml:"addr"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_secs"`
}

// OllamaConfig contains connection and model details for the Ollama backend.
type OllamaConfig struct {
	BaseURL            string `yaml:"base_url"`
	Model              string `yaml:"model"`
	EmbeddingModel     string `yaml:"embedding_model"`
	SummaryModel       string `yaml:"summary_model"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
	EmbedTimeoutSecs   int    `yaml:"embed_timeout_secs"`
	MaxAttempts        int    `yaml:"max_attempts"`
}

// QdrantConfig contains connection details for the Qdrant vector store.
type QdrantConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Collection         string `yaml:"collection"`
	Dimension          int    `yaml:"dimension"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
}

// RetrievalConfig tunes hybrid scoring.
type RetrievalConfig struct {
	OverfetchFactor int     `yaml:"overfetch_factor"`
	VectorWeight    float64 `yaml:"vector_weight"`
	KeywordWeight   float64 `yaml:"keyword_weight"`
	RerankEnabled   bool    `yaml:"rerank_enabled"`
}

// PipelineConfig tunes the query orchestrator.
type PipelineConfig struct {
	TopK               int     `yaml:"top_k"`
	PromptBudgetBytes  int     `yaml:"prompt_budget_bytes"`
	Workers            int     `yaml:"workers"`
	MinRouteConfidence float64 `yaml:"min_route_confidence"`
	RecentTurns        int     `yaml:"recent_turns"`
}

// EmbedCacheConfig tunes the embedding cache.
type EmbedCacheConfig struct {
	MaxEntries          int     `yaml:"max_entries"`
	MaxBytes            int64   `yaml:"max_bytes"`
	ScanDepth           int     `yaml:"scan_depth"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// ResponseCacheConfig tunes the answer cache.
type ResponseCacheConfig struct {
	MaxEntries int   `yaml:"max_entries"`
	MaxBytes   int64 `yaml:"max_bytes"`
	TTLSecs    int   `yaml:"ttl_secs"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Ollama        OllamaConfig        `yaml:"ollama"`
	Qdrant        QdrantConfig        `yaml:"qdrant"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	EmbedCache    EmbedCacheConfig    `yaml:"embed_cache"`
	ResponseCache ResponseCacheConfig `yaml:"response_cache"`
}

// Load reads a config from the given path. A missing file yields defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/rag-engine/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

// OllamaClientConfig maps the YAML section onto the client's native config.
func (c *AppConfig) OllamaClientConfig() llm.OllamaConfig {
	native := llm.DefaultOllamaConfig()
	native.BaseURL = c.Ollama.BaseURL
	native.Model = c.Ollama.Model
	native.EmbeddingModel = c.Ollama.EmbeddingModel
	native.SummaryModel = c.Ollama.SummaryModel
	if c.Ollama.RequestTimeoutSecs > 0 {
		native.RequestTimeout = time.Duration(c.Ollama.RequestTimeoutSecs) * time.Second
	}
	if c.Ollama.EmbedTimeoutSecs > 0 {
		native.EmbedTimeout = time.Duration(c.Ollama.EmbedTimeoutSecs) * time.Second
	}
	if c.Ollama.MaxAttempts > 0 {
		native.MaxAttempts = c.Ollama.MaxAttempts
	}
	return native
}

// QdrantStoreConfig maps the YAML section onto the store's native config.
func (c *AppConfig) QdrantStoreConfig() vector.QdrantConfig {
	native := vector.DefaultQdrantConfig()
	if c.Qdrant.Host != "" {
		native.Host = c.Qdrant.Host
	}
	if c.Qdrant.Port > 0 {
		native.Port = c.Qdrant.Port
	}
	if c.Qdrant.Collection != "" {
		native.Collection = c.Qdrant.Collection
	}
	if c.Qdrant.Dimension > 0 {
		native.Dimension = c.Qdrant.Dimension
	}
	if c.Qdrant.RequestTimeoutSecs > 0 {
		native.RequestTimeout = time.Duration(c.Qdrant.RequestTimeoutSecs) * time.Second
	}
	return native
}

// RetrievalServiceConfig maps the YAML section onto the service's native config.
func (c *AppConfig) RetrievalServiceConfig() retrieval.Config {
	return retrieval.Config{
		OverfetchFactor: c.Retrieval.OverfetchFactor,
		VectorWeight:    c.Retrieval.VectorWeight,
		KeywordWeight:   c.Retrieval.KeywordWeight,
	}
}

// PipelineServiceConfig maps the YAML section onto the pipeline's native config.
func (c *AppConfig) PipelineServiceConfig() pipeline.Config {
	return pipeline.Config{
		TopK:               c.Pipeline.TopK,
		PromptBudgetBytes:  c.Pipeline.PromptBudgetBytes,
		Workers:            c.Pipeline.Workers,
		MinRouteConfidence: c.Pipeline.MinRouteConfidence,
	}
}

// EmbedCacheServiceConfig maps the YAML section onto the cache's native config.
func (c *AppConfig) EmbedCacheServiceConfig() embedcache.Config {
	return embedcache.Config{
		MaxEntries:          c.EmbedCache.MaxEntries,
		MaxBytes:            c.EmbedCache.MaxBytes,
		ScanDepth:           c.EmbedCache.ScanDepth,
		SimilarityThreshold: c.EmbedCache.SimilarityThreshold,
	}
}

// ResponseCacheServiceConfig maps the YAML section onto the cache's native config.
func (c *AppConfig) ResponseCacheServiceConfig() respcache.Config {
	return respcache.Config{
		MaxEntries: c.ResponseCache.MaxEntries,
		MaxBytes:   c.ResponseCache.MaxBytes,
		TTL:        time.Duration(c.ResponseCache.TTLSecs) * time.Second,
		Strategy:   cache.TTL,
	}
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "rag-engine", "config.yaml"), nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = 10
	}
	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = "http://localhost:11434"
	}
	if cfg.Ollama.Model == "" {
		cfg.Ollama.Model = "llama3.2"
	}
	if cfg.Ollama.EmbeddingModel == "" {
		cfg.Ollama.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "rag_chunks"
	}
	if cfg.Qdrant.Dimension == 0 {
		cfg.Qdrant.Dimension = 768
	}
	if cfg.Retrieval.OverfetchFactor == 0 {
		cfg.Retrieval.OverfetchFactor = 3
	}
	if cfg.Retrieval.VectorWeight == 0 && cfg.Retrieval.KeywordWeight == 0 {
		cfg.Retrieval.VectorWeight = 0.7
		cfg.Retrieval.KeywordWeight = 0.3
	}
	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = 5
	}
	if cfg.Pipeline.PromptBudgetBytes == 0 {
		cfg.Pipeline.PromptBudgetBytes = 12 * 1024
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 8
	}
	if cfg.Pipeline.MinRouteConfidence == 0 {
		cfg.Pipeline.MinRouteConfidence = 0.2
	}
	if cfg.Pipeline.RecentTurns == 0 {
		cfg.Pipeline.RecentTurns = 6
	}
	if cfg.EmbedCache.MaxEntries == 0 {
		cfg.EmbedCache.MaxEntries = 4096
	}
	if cfg.EmbedCache.ScanDepth == 0 {
		cfg.EmbedCache.ScanDepth = 128
	}
	if cfg.EmbedCache.SimilarityThreshold == 0 {
		cfg.EmbedCache.SimilarityThreshold = embedcache.DefaultSimilarityThreshold
	}
	if cfg.ResponseCache.MaxEntries == 0 {
		cfg.ResponseCache.MaxEntries = 2048
	}
	if cfg.ResponseCache.TTLSecs == 0 {
		cfg.ResponseCache.TTLSecs = int((24 * time.Hour).Seconds())
	}
}
