package cli

import (
	"fmt"

	"github.com/harun/forge/internal/config"
	"github.com/harun/forge/internal/logger"
	"github.com/harun/forge/pkg/agent"
	"github.com/harun/forge/pkg/conversation"
	"github.com/harun/forge/pkg/memory"
	"github.com/harun/forge/pkg/vectorindex"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// runtime holds the components shared by every command.
type runtime struct {
	cfg           *config.Config
	log           *logger.Logger
	logger        zerolog.Logger
	cache         *memory.SQLiteEmbeddingCache
	store         *memory.Store
	ingester      *memory.Ingester
	conversations *conversation.Log
}

// newRuntime loads configuration and wires logging, memory and the
// conversation log. Callers must Close it.
func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logCfg := logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,

		RedactPatterns: cfg.Logging.RedactPatterns,
	}
	validator := config.NewValidator()
	if cmd.Flags().Changed("log-level") {
		if err := validator.ValidateLogLevel(logLevel); err != nil {
			return nil, err
		}
		logCfg.Level = logLevel
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &runtime{cfg: cfg, log: log, logger: log.Zerolog()}
	for _, problem := range validator.ValidateConfig(cfg) {
		rt.logger.Warn().Err(problem).Msg("Suspicious configuration")
	}

	embedder, err := rt.buildEmbedder()
	if err != nil {
		rt.Close()
		return nil, err
	}

	factory, err := vectorindex.NewFactory(vectorindex.Params{
		Backend:        cfg.Memory.Index,
		M:              cfg.Memory.HNSW.M,
		EfConstruction: cfg.Memory.HNSW.EfConstruction,
		EfSearch:       cfg.Memory.HNSW.EfSearch,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.store, err = memory.NewStore(memory.Config{
		Embedder:     embedder,
		IndexFactory: factory,
		Logger:       log.Component("memory"),
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}

	rt.conversations, err = conversation.New(cfg.SessionsDir, log.Component("conversation"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open conversation log: %w", err)
	}

	rt.ingester = memory.NewIngester(memory.IngesterConfig{
		Store:         rt.store,
		Conversations: rt.conversations,
		Logger:        log.Component("ingest"),
	})

	return rt, nil
}

// buildEmbedder selects the embedding provider and puts the on-disk
// cache in front of it when a cache path is configured.
func (rt *runtime) buildEmbedder() (memory.EmbeddingProvider, error) {
	cfg := rt.cfg.Embedding

	var provider memory.EmbeddingProvider
	switch cfg.Provider {
	case "", "hash":
		provider = memory.NewHashEmbedder(cfg.Dimension)
	case "openai":
		apiKey := rt.cfg.EmbeddingAPIKey()
		if apiKey == "" {
			return nil, fmt.Errorf("openai embeddings require an api key")
		}
		provider = memory.NewOpenAIEmbedder(apiKey, cfg.Model, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}

	if cfg.CachePath == "" {
		return provider, nil
	}
	cache, err := memory.NewSQLiteEmbeddingCache(cfg.CachePath)
	if err != nil {
		rt.logger.Warn().Err(err).Str("path", cfg.CachePath).Msg("Embedding cache unavailable, continuing without it")
		return provider, nil
	}
	rt.cache = cache

	model := cfg.Provider + ":" + cfg.Model
	if cfg.Provider == "" || cfg.Provider == "hash" {
		model = fmt.Sprintf("hash:%d", cfg.Dimension)
	}
	return memory.NewCachedEmbedder(provider, cache, model, rt.log.Component("embedding-cache")), nil
}

// Close releases the store, the embedding cache and the log file.
func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to close memory store")
		}
	}
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to close embedding cache")
		}
	}
	if rt.log != nil {
		_ = rt.log.Close()
	}
}

// convertAuthProfiles converts config AI profiles to agent auth profiles
func convertAuthProfiles(profiles []config.AIProfile) []agent.AuthProfile {
	authProfiles := make([]agent.AuthProfile, len(profiles))
	for i, p := range profiles {
		authProfiles[i] = agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Model:    p.Model,
			Priority: p.Priority,
		}
	}
	return authProfiles
}
