// Package config holds the application configuration tree. One HCL
// file configures every backend the binaries wire together; package
// constructors still apply their own defaults, so partial files are
// fine for development.
package config

import (
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the root of the application configuration.
type Config struct {
	// LogLevel is the hclog level name (trace, debug, info, warn,
	// error). Defaults to info.
	LogLevel string `hcl:"log_level,optional"`

	Database     *DatabaseConfig     `hcl:"database,block"`
	VectorIndex  *VectorIndexConfig  `hcl:"vector_index,block"`
	TextIndex    *TextIndexConfig    `hcl:"text_index,block"`
	Embeddings   *EmbeddingsConfig   `hcl:"embeddings,block"`
	LLM          *LLMConfig          `hcl:"llm,block"`
	Metasearch   *MetasearchConfig   `hcl:"metasearch,block"`
	Crawler      *CrawlerConfig      `hcl:"crawler,block"`
	Events       *EventsConfig       `hcl:"events,block"`
	Encryption   *EncryptionConfig   `hcl:"encryption,block"`
	Research     *ResearchConfig     `hcl:"research,block"`
	SearchPolicy *SearchPolicyConfig `hcl:"search_policy,block"`
	Ingest       *IngestConfig       `hcl:"ingest,block"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver   string `hcl:"driver,optional"`
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	User     string `hcl:"user,optional"`
	Password string `hcl:"password,optional"`
	DBName   string `hcl:"dbname,optional"`
	SSLMode  string `hcl:"sslmode,optional"`

	// Path is the sqlite database file.
	Path string `hcl:"path,optional"`
}

// VectorIndexConfig configures the Qdrant client.
type VectorIndexConfig struct {
	Host   string `hcl:"host,optional"`
	Port   int    `hcl:"port,optional"`
	APIKey string `hcl:"api_key,optional"`
	UseTLS bool   `hcl:"use_tls,optional"`

	// Collection is the per-user chunks collection.
	Collection string `hcl:"collection,optional"`

	// HealthIntervalSeconds is the probe cadence of the worker's
	// health loop.
	HealthIntervalSeconds int `hcl:"health_interval_seconds,optional"`
}

// TextIndexConfig selects the keyword-search backend. The default
// "payload" provider reuses the vector collection's full-text payload
// index and needs no extra process.
type TextIndexConfig struct {
	// Provider is one of payload, bleve, meilisearch, algolia.
	Provider string `hcl:"provider,optional"`

	// Bleve settings.
	BleveIndexPath string `hcl:"bleve_index_path,optional"`

	// Meilisearch settings.
	MeilisearchHost   string `hcl:"meilisearch_host,optional"`
	MeilisearchAPIKey string `hcl:"meilisearch_api_key,optional"`

	// Algolia settings.
	AlgoliaAppID       string `hcl:"algolia_app_id,optional"`
	AlgoliaWriteAPIKey string `hcl:"algolia_write_api_key,optional"`
	AlgoliaSearchKey   string `hcl:"algolia_search_api_key,optional"`
	AlgoliaIndexPrefix string `hcl:"algolia_index_prefix,optional"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of ollama, openai, bedrock, mock.
	Provider  string `hcl:"provider,optional"`
	Model     string `hcl:"model,optional"`
	Dimension int    `hcl:"dimension,optional"`
	APIKey    string `hcl:"api_key,optional"`
	BaseURL   string `hcl:"base_url,optional"`
	Region    string `hcl:"region,optional"`
}

// LLMConfig configures the language-model client factory.
type LLMConfig struct {
	// Model is the default drafting model, e.g. "gpt-4o-mini" or
	// "llama3.1". The provider is detected from the name.
	Model         string `hcl:"model,optional"`
	OpenAIAPIKey  string `hcl:"openai_api_key,optional"`
	OpenAIBaseURL string `hcl:"openai_base_url,optional"`
	OllamaURL     string `hcl:"ollama_url,optional"`
	BedrockRegion string `hcl:"bedrock_region,optional"`
}

// MetasearchConfig configures the SearXNG client and its cache tiers.
type MetasearchConfig struct {
	// BaseURL is the aggregator root. Required for web search.
	BaseURL        string `hcl:"base_url,optional"`
	TimeoutSeconds int    `hcl:"timeout_seconds,optional"`

	// RedisAddr enables the external TTL cache. Empty keeps the
	// in-process LRU only.
	RedisAddr     string `hcl:"redis_addr,optional"`
	RedisPassword string `hcl:"redis_password,optional"`
	RedisDB       int    `hcl:"redis_db,optional"`

	// MemoryCacheSize bounds the in-process fallback cache.
	MemoryCacheSize int `hcl:"memory_cache_size,optional"`
}

// CrawlerConfig configures page fetching.
type CrawlerConfig struct {
	UserAgent      string `hcl:"user_agent,optional"`
	TimeoutSeconds int    `hcl:"timeout_seconds,optional"`
	MaxBytes       int64  `hcl:"max_bytes,optional"`

	// Production refuses loopback and private-range targets.
	Production bool `hcl:"production,optional"`

	// Headless enables the Chrome fallback for JavaScript-heavy and
	// bot-protected pages.
	Headless bool `hcl:"headless,optional"`
}

// EventsConfig configures the message bus. No brokers disables the
// relay and the request consumer.
type EventsConfig struct {
	Brokers       []string `hcl:"brokers,optional"`
	EventTopic    string   `hcl:"event_topic,optional"`
	RequestTopic  string   `hcl:"request_topic,optional"`
	ConsumerGroup string   `hcl:"consumer_group,optional"`
}

// EncryptionConfig locates the field-encryption master key.
type EncryptionConfig struct {
	// KeyPath is the 32-byte key file. Created on first use by
	// `gruenerator keys init`.
	KeyPath string `hcl:"key_path,optional"`
}

// ResearchConfig tunes the research graph.
type ResearchConfig struct {
	// Model overrides the default LLM for research drafting.
	Model string `hcl:"model,optional"`

	GrundsatzCollection string `hcl:"grundsatz_collection,optional"`
	GrundsatzOwner      string `hcl:"grundsatz_owner,optional"`
}

// SearchPolicyConfig locates the editorial policy file.
type SearchPolicyConfig struct {
	// Path is an HCL policy file. Empty uses the built-in German
	// political policy.
	Path string `hcl:"path,optional"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// RulesetPath is an HCL ruleset file. Empty uses the default
	// pipeline for every source type.
	RulesetPath string `hcl:"ruleset_path,optional"`

	EmbedBatchSize int `hcl:"embed_batch_size,optional"`
	EmbedWorkers   int `hcl:"embed_workers,optional"`
}

// Default configuration values.
const (
	DefaultCollection     = "document_chunks"
	DefaultSQLitePath     = ".gruenerator/gruenerator.db"
	DefaultEncryptionKey  = ".gruenerator/field.key"
	DefaultBleveIndexPath = ".gruenerator/bleve"
)

// Load reads an HCL config file, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DevDefault returns a zero-config setup: sqlite database, local
// qdrant, local ollama, no brokers. Used when no config file is given.
func DevDefault() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty blocks and fields so callers can read the
// tree without nil checks.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database == nil {
		c.Database = &DatabaseConfig{}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = DefaultSQLitePath
	}
	if c.VectorIndex == nil {
		c.VectorIndex = &VectorIndexConfig{}
	}
	if c.VectorIndex.Host == "" {
		c.VectorIndex.Host = "localhost"
	}
	if c.VectorIndex.Port == 0 {
		c.VectorIndex.Port = 6334
	}
	if c.VectorIndex.Collection == "" {
		c.VectorIndex.Collection = DefaultCollection
	}
	if c.VectorIndex.HealthIntervalSeconds == 0 {
		c.VectorIndex.HealthIntervalSeconds = 30
	}
	if c.TextIndex == nil {
		c.TextIndex = &TextIndexConfig{}
	}
	if c.TextIndex.Provider == "" {
		c.TextIndex.Provider = "payload"
	}
	if c.TextIndex.Provider == "bleve" && c.TextIndex.BleveIndexPath == "" {
		c.TextIndex.BleveIndexPath = DefaultBleveIndexPath
	}
	if c.Embeddings == nil {
		c.Embeddings = &EmbeddingsConfig{}
	}
	if c.LLM == nil {
		c.LLM = &LLMConfig{}
	}
	if c.Metasearch == nil {
		c.Metasearch = &MetasearchConfig{}
	}
	if c.Metasearch.MemoryCacheSize == 0 {
		c.Metasearch.MemoryCacheSize = 1000
	}
	if c.Crawler == nil {
		c.Crawler = &CrawlerConfig{}
	}
	if c.Events == nil {
		c.Events = &EventsConfig{}
	}
	if c.Encryption == nil {
		c.Encryption = &EncryptionConfig{}
	}
	if c.Encryption.KeyPath == "" {
		c.Encryption.KeyPath = DefaultEncryptionKey
	}
	if c.Research == nil {
		c.Research = &ResearchConfig{}
	}
	if c.SearchPolicy == nil {
		c.SearchPolicy = &SearchPolicyConfig{}
	}
	if c.Ingest == nil {
		c.Ingest = &IngestConfig{}
	}
}

// applyEnv overrides secrets and endpoints from GRUENERATOR_*
// environment variables, so config files stay credential-free.
func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if c.Database == nil {
		c.Database = &DatabaseConfig{}
	}
	set(&c.Database.Password, "GRUENERATOR_DB_PASSWORD")
	if c.VectorIndex == nil {
		c.VectorIndex = &VectorIndexConfig{}
	}
	set(&c.VectorIndex.APIKey, "GRUENERATOR_QDRANT_API_KEY")
	if c.Embeddings == nil {
		c.Embeddings = &EmbeddingsConfig{}
	}
	set(&c.Embeddings.APIKey, "GRUENERATOR_EMBEDDINGS_API_KEY")
	if c.LLM == nil {
		c.LLM = &LLMConfig{}
	}
	set(&c.LLM.OpenAIAPIKey, "GRUENERATOR_OPENAI_API_KEY")
	if c.Metasearch == nil {
		c.Metasearch = &MetasearchConfig{}
	}
	set(&c.Metasearch.BaseURL, "GRUENERATOR_SEARX_URL")
	set(&c.Metasearch.RedisAddr, "GRUENERATOR_REDIS_ADDR")
	set(&c.Metasearch.RedisPassword, "GRUENERATOR_REDIS_PASSWORD")
	if c.Encryption == nil {
		c.Encryption = &EncryptionConfig{}
	}
	set(&c.Encryption.KeyPath, "GRUENERATOR_KEY_PATH")
}

// Validate rejects configurations the binaries cannot start with.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c.Database,
		validation.Field(&c.Database.Driver, validation.In("postgres", "sqlite")),
	); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Database.Driver == "postgres" {
		if err := validation.ValidateStruct(c.Database,
			validation.Field(&c.Database.Host, validation.Required),
			validation.Field(&c.Database.DBName, validation.Required),
		); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := validation.ValidateStruct(c.TextIndex,
		validation.Field(&c.TextIndex.Provider,
			validation.In("payload", "bleve", "meilisearch", "algolia")),
	); err != nil {
		return fmt.Errorf("text_index: %w", err)
	}
	switch c.TextIndex.Provider {
	case "meilisearch":
		if c.TextIndex.MeilisearchHost == "" {
			return fmt.Errorf("text_index: meilisearch_host is required for the meilisearch provider")
		}
	case "algolia":
		if c.TextIndex.AlgoliaAppID == "" || c.TextIndex.AlgoliaWriteAPIKey == "" {
			return fmt.Errorf("text_index: algolia_app_id and algolia_write_api_key are required for the algolia provider")
		}
	}
	return nil
}
