package config

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Config represents the main forge configuration
type Config struct {
	// AI providers used for generation
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Embedding provider and cache
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Memory store and vector index
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Workflow engine limits
	Workflow WorkflowConfig `json:"workflow" mapstructure:"workflow"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Conversation logs
	SessionsDir string `json:"sessions_dir" mapstructure:"sessions_dir"`

	// Prometheus listen address, empty disables the endpoint
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"` // lower runs first
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // openai, hash
	Model     string `json:"model" mapstructure:"model"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
	CachePath string `json:"cache_path" mapstructure:"cache_path"`
}

// MemoryConfig configures the memory store
type MemoryConfig struct {
	Index            string     `json:"index" mapstructure:"index"` // hnsw, sqlite-vec
	HNSW             HNSWConfig `json:"hnsw" mapstructure:"hnsw"`
	ReasoningProject string     `json:"reasoning_project" mapstructure:"reasoning_project"`
	ReindexSchedule  string     `json:"reindex_schedule" mapstructure:"reindex_schedule"`
}

// HNSWConfig holds graph construction parameters
type HNSWConfig struct {
	M              int `json:"m" mapstructure:"m"`
	EfConstruction int `json:"ef_construction" mapstructure:"ef_construction"`
	EfSearch       int `json:"ef_search" mapstructure:"ef_search"`
}

// WorkflowConfig bounds a generation run
type WorkflowConfig struct {
	MaxTokens      int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature    float64 `json:"temperature" mapstructure:"temperature"`
	MaxTransitions int     `json:"max_transitions" mapstructure:"max_transitions"`
	ReviewWindow   int     `json:"review_window" mapstructure:"review_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days

	RedactPatterns []string `json:"redact_patterns,omitempty" mapstructure:"redact_patterns"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Model:     "text-embedding-3-small",
			Dimension: 384,
		},
		Memory: MemoryConfig{
			Index: "hnsw",
			HNSW: HNSWConfig{
				M:              16,
				EfConstruction: 200,
				EfSearch:       64,
			},
			ReasoningProject: "reasoning",
		},
		Workflow: WorkflowConfig{
			MaxTokens:      4096,
			Temperature:    0.2,
			MaxTransitions: 50,
			ReviewWindow:   5,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
			MaxSize:   50,
			MaxAge:    7,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// PrimaryProfile returns the profile with the lowest priority value.
func (c *Config) PrimaryProfile() (AIProfile, error) {
	if len(c.AI.Profiles) == 0 {
		return AIProfile{}, fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}
	profiles := make([]AIProfile, len(c.AI.Profiles))
	copy(profiles, c.AI.Profiles)
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
	return profiles[0], nil
}

// EmbeddingAPIKey returns the embedding key, falling back to the first
// openai generation profile.
func (c *Config) EmbeddingAPIKey() string {
	if c.Embedding.APIKey != "" {
		return c.Embedding.APIKey
	}
	for _, p := range c.AI.Profiles {
		if p.Provider == "openai" {
			return p.APIKey
		}
	}
	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %q (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	switch c.Embedding.Provider {
	case "hash":
		if c.Embedding.Dimension <= 0 {
			return fmt.Errorf("embedding dimension must be positive for the hash provider")
		}
	case "openai":
		if c.EmbeddingAPIKey() == "" {
			return fmt.Errorf("openai embedding provider requires an api_key")
		}
	default:
		return fmt.Errorf("invalid embedding provider %q (must be: openai, hash)", c.Embedding.Provider)
	}

	if c.Memory.Index != "hnsw" && c.Memory.Index != "sqlite-vec" {
		return fmt.Errorf("invalid memory index %q (must be: hnsw, sqlite-vec)", c.Memory.Index)
	}
	if c.Memory.ReasoningProject == "" {
		return fmt.Errorf("memory.reasoning_project is required")
	}
	if c.Workflow.MaxTransitions <= 0 {
		return fmt.Errorf("workflow.max_transitions must be positive")
	}

	return nil
}
