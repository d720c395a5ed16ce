// Package instance wires the configured backends into the service
// graph the binaries share. One Instance holds everything a command
// needs: the database, the vector index, retrieval, ingestion, the
// research graph, and the maintenance services.
package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"gorm.io/gorm"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/config"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/crawler"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/database"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/documents"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/embedding"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/encryption"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/enrich"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/extract"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/ingest"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/llm"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/metasearch"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/reindex"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/research"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search/adapters/algolia"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search/adapters/bleve"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search/adapters/meilisearch"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/searchpolicy"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

// Instance is the wired service graph.
type Instance struct {
	Config *config.Config
	Logger hclog.Logger

	DB          *gorm.DB
	VectorIndex *vectorindex.Client
	Embedder    embedding.Provider

	// TextIndex and TextIndexWriter are nil for the "payload" provider:
	// the retriever then falls back to the vector collection's own
	// full-text payload index and ingestion mirrors nothing.
	TextIndex       search.TextIndex
	TextIndexWriter search.TextIndexWriter

	LLMFactory *llm.ClientFactory
	LLM        llm.Client

	Crawler    *crawler.Crawler
	Metasearch *metasearch.Client

	// Keys manages the field-encryption master key file. Encryption is
	// nil until `keys init` has created the key.
	Keys       *encryption.KeyStore
	Encryption *encryption.Service

	Retriever *search.Retriever
	Policy    *searchpolicy.Policy

	Ingest    *ingest.Service
	Documents *documents.Service
	Research  *research.Service
	Enrich    *enrich.Service
	Reindex   *reindex.Service

	redis *redis.Client
}

// Options adjusts what New builds.
type Options struct {
	// SkipVectorIndex leaves the vector index and everything that
	// depends on it unwired. Used by commands that only touch the
	// relational store, like `keys` and `migrate`.
	SkipVectorIndex bool
}

// New connects the configured backends and wires the services.
// Construction is eager for process-local pieces and lazy for network
// ones: a missing Qdrant surfaces on first use, not at startup.
func New(ctx context.Context, cfg *config.Config, logger hclog.Logger, opts Options) (*Instance, error) {
	if cfg == nil {
		cfg = config.DevDefault()
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	inst := &Instance{Config: cfg, Logger: logger}

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}
	inst.DB = db

	if err := inst.wireEncryption(cfg); err != nil {
		return nil, err
	}

	inst.wireCrawler(cfg)
	if err := inst.wireMetasearch(cfg, logger); err != nil {
		return nil, err
	}
	inst.wirePolicy(cfg)

	if opts.SkipVectorIndex {
		return inst, nil
	}

	if err := inst.wireVectorIndex(cfg, logger); err != nil {
		return nil, err
	}
	if err := inst.wireTextIndex(cfg); err != nil {
		return nil, err
	}
	if err := inst.wireEmbeddings(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := inst.wireLLM(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := inst.wireServices(cfg, logger); err != nil {
		return nil, err
	}
	return inst, nil
}

// Close releases held connections.
func (i *Instance) Close() error {
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			i.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if i.VectorIndex != nil {
		i.VectorIndex.Close()
	}
	if i.DB != nil {
		sqlDB, err := i.DB.DB()
		if err == nil {
			return sqlDB.Close()
		}
	}
	return nil
}

func openDatabase(cfg *config.Config, logger hclog.Logger) (*gorm.DB, error) {
	dbCfg := database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		Path:     cfg.Database.Path,
	}
	if dbCfg.Driver == database.DriverSQLite && dbCfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbCfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return database.Connect(dbCfg, logger)
}

func (i *Instance) wireEncryption(cfg *config.Config) error {
	i.Keys = encryption.NewKeyStore(afero.NewOsFs(), cfg.Encryption.KeyPath)
	if _, err := os.Stat(cfg.Encryption.KeyPath); os.IsNotExist(err) {
		i.Logger.Debug("no encryption key file, saved-text encryption disabled",
			"path", cfg.Encryption.KeyPath)
		return nil
	}
	// A present but unreadable key is a misconfiguration, not a fresh
	// install.
	key, err := i.Keys.Load()
	if err != nil {
		return err
	}
	svc, err := encryption.NewService(key, i.Logger)
	if err != nil {
		return err
	}
	i.Encryption = svc
	return nil
}

func (i *Instance) wireCrawler(cfg *config.Config) {
	c := crawler.Config{
		UserAgent:  cfg.Crawler.UserAgent,
		Timeout:    time.Duration(cfg.Crawler.TimeoutSeconds) * time.Second,
		MaxBytes:   cfg.Crawler.MaxBytes,
		Production: cfg.Crawler.Production,
		Logger:     i.Logger,
	}
	if cfg.Crawler.Headless {
		c.Headless = crawler.NewChromeFetcher()
	}
	i.Crawler = crawler.New(c)
}

func (i *Instance) wireMetasearch(cfg *config.Config, logger hclog.Logger) error {
	if cfg.Metasearch.BaseURL == "" {
		logger.Debug("no metasearch base URL, web search disabled")
		return nil
	}

	fallback := metasearch.FallbackConfig{
		MemorySize: cfg.Metasearch.MemoryCacheSize,
		Logger:     logger,
	}
	if cfg.Metasearch.RedisAddr != "" {
		i.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Metasearch.RedisAddr,
			Password: cfg.Metasearch.RedisPassword,
			DB:       cfg.Metasearch.RedisDB,
		})
		fallback.Redis = i.redis
	}

	client, err := metasearch.New(metasearch.Config{
		BaseURL: cfg.Metasearch.BaseURL,
		Timeout: time.Duration(cfg.Metasearch.TimeoutSeconds) * time.Second,
		Cache:   metasearch.NewFallbackCache(fallback),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	i.Metasearch = client
	return nil
}

func (i *Instance) wirePolicy(cfg *config.Config) {
	if cfg.SearchPolicy.Path == "" {
		i.Policy = searchpolicy.Default()
		return
	}
	policy, err := searchpolicy.Load(cfg.SearchPolicy.Path)
	if err != nil {
		i.Logger.Warn("failed to load search policy, using built-in default",
			"path", cfg.SearchPolicy.Path, "error", err)
		i.Policy = searchpolicy.Default()
		return
	}
	i.Policy = policy
}

func (i *Instance) wireVectorIndex(cfg *config.Config, logger hclog.Logger) error {
	client, err := vectorindex.New(vectorindex.Config{
		Host:           cfg.VectorIndex.Host,
		Port:           cfg.VectorIndex.Port,
		APIKey:         cfg.VectorIndex.APIKey,
		UseTLS:         cfg.VectorIndex.UseTLS,
		HealthInterval: time.Duration(cfg.VectorIndex.HealthIntervalSeconds) * time.Second,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	i.VectorIndex = client
	return nil
}

func (i *Instance) wireTextIndex(cfg *config.Config) error {
	switch cfg.TextIndex.Provider {
	case "", "payload":
		// Retriever defaults to the payload index; nothing to mirror.
		return nil
	case "bleve":
		adapter, err := bleve.NewAdapter(&bleve.Config{
			IndexPath: cfg.TextIndex.BleveIndexPath,
		})
		if err != nil {
			return err
		}
		i.TextIndex = adapter
		i.TextIndexWriter = adapter
	case "meilisearch":
		adapter, err := meilisearch.NewAdapter(&meilisearch.Config{
			Host:   cfg.TextIndex.MeilisearchHost,
			APIKey: cfg.TextIndex.MeilisearchAPIKey,
		})
		if err != nil {
			return err
		}
		i.TextIndex = adapter
		i.TextIndexWriter = adapter
	case "algolia":
		adapter, err := algolia.NewAdapter(&algolia.Config{
			AppID:       cfg.TextIndex.AlgoliaAppID,
			APIKey:      cfg.TextIndex.AlgoliaWriteAPIKey,
			IndexPrefix: cfg.TextIndex.AlgoliaIndexPrefix,
		})
		if err != nil {
			return err
		}
		i.TextIndex = adapter
		i.TextIndexWriter = adapter
	default:
		return fmt.Errorf("unknown text index provider: %q", cfg.TextIndex.Provider)
	}
	return nil
}

func (i *Instance) wireEmbeddings(ctx context.Context, cfg *config.Config, logger hclog.Logger) error {
	provider, err := embedding.NewProvider(ctx, embedding.FactoryConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		Dimension: cfg.Embeddings.Dimension,
		APIKey:    cfg.Embeddings.APIKey,
		BaseURL:   cfg.Embeddings.BaseURL,
		Region:    cfg.Embeddings.Region,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	i.Embedder = provider
	return nil
}

func (i *Instance) wireLLM(ctx context.Context, cfg *config.Config, logger hclog.Logger) error {
	i.LLMFactory = llm.NewClientFactory(llm.ClientFactoryConfig{
		OpenAIAPIKey:  cfg.LLM.OpenAIAPIKey,
		OpenAIBaseURL: cfg.LLM.OpenAIBaseURL,
		OllamaURL:     cfg.LLM.OllamaURL,
		BedrockRegion: cfg.LLM.BedrockRegion,
		Logger:        logger,
	})
	if cfg.LLM.Model == "" {
		logger.Debug("no LLM model configured, generation disabled")
		return nil
	}
	client, err := i.LLMFactory.GetClient(ctx, cfg.LLM.Model)
	if err != nil {
		return err
	}
	i.LLM = client
	return nil
}

func (i *Instance) wireServices(cfg *config.Config, logger hclog.Logger) error {
	retriever, err := search.NewRetriever(search.RetrieverConfig{
		Index:      i.VectorIndex,
		Embedder:   i.Embedder,
		Text:       i.TextIndex,
		Collection: cfg.VectorIndex.Collection,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	i.Retriever = retriever

	var ruleset *ingest.Ruleset
	if cfg.Ingest.RulesetPath != "" {
		ruleset, err = ingest.LoadRuleset(cfg.Ingest.RulesetPath)
		if err != nil {
			return err
		}
	}
	ingestor, err := ingest.New(ingest.Config{
		DB:         i.DB,
		Index:      i.VectorIndex,
		Embedder:   i.Embedder,
		Collection: cfg.VectorIndex.Collection,
		Extractor: extract.New(extract.Config{
			OCR:    extract.NewExternalOCR(),
			FS:     afero.NewOsFs(),
			Logger: logger,
		}),
		Crawler:        i.Crawler,
		TextIndex:      i.TextIndexWriter,
		Ruleset:        ruleset,
		EmbedBatchSize: cfg.Ingest.EmbedBatchSize,
		EmbedWorkers:   cfg.Ingest.EmbedWorkers,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	i.Ingest = ingestor

	docs, err := documents.New(documents.Config{
		DB:         i.DB,
		Index:      i.VectorIndex,
		Collection: cfg.VectorIndex.Collection,
		TextIndex:  i.TextIndexWriter,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	i.Documents = docs

	// The research graph needs web search and an LLM; commands that
	// call it fail with a clear error when it stays unwired.
	if i.Metasearch != nil && i.LLM != nil {
		researcher, err := research.New(research.Config{
			Search:              i.Metasearch,
			Crawler:             i.Crawler,
			LLM:                 i.LLM,
			Retriever:           i.Retriever,
			Policy:              i.Policy,
			Model:               cfg.Research.Model,
			GrundsatzCollection: cfg.Research.GrundsatzCollection,
			GrundsatzOwner:      cfg.Research.GrundsatzOwner,
			Logger:              logger,
		})
		if err != nil {
			return err
		}
		i.Research = researcher
	}

	enricher, err := enrich.New(enrich.Config{
		DB:         i.DB,
		Retriever:  i.Retriever,
		Crawler:    i.Crawler,
		Search:     i.Metasearch,
		LLM:        i.LLM,
		Encryption: i.Encryption,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	i.Enrich = enricher

	reindexer, err := reindex.New(reindex.Config{
		DB:         i.DB,
		Index:      i.VectorIndex,
		Embedder:   i.Embedder,
		Collection: cfg.VectorIndex.Collection,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	i.Reindex = reindexer

	return nil
}
