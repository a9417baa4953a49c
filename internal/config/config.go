// Package config loads memtier settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/memtier/internal/compress"
	"github.com/rcliao/memtier/internal/conversation"
	"github.com/rcliao/memtier/internal/embedding"
	"github.com/rcliao/memtier/internal/interest"
	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/search"
	"github.com/rcliao/memtier/internal/store"
	"github.com/rcliao/memtier/internal/summarize"
)

// Config is the file layout of memtier settings.
type Config struct {
	// Store selects the snapshot backend: sqlite or redis.
	Store    string      `yaml:"store"`
	DBPath   string      `yaml:"db_path"`
	Redis    RedisConfig `yaml:"redis"`
	LogLevel string      `yaml:"log_level"`

	Compress   CompressConfig   `yaml:"compress"`
	Search     search.Options   `yaml:"search"`
	Interest   interest.Config  `yaml:"interest"`
	RecentK    int              `yaml:"recent_k"`
	Enrich     bool             `yaml:"enrich"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
}

// CompressConfig mirrors compress.Config.
type CompressConfig struct {
	BudgetMax             int     `yaml:"budget_max"`
	L1Threshold           int     `yaml:"l1_threshold"`
	L1Pressure            float64 `yaml:"l1_pressure"`
	ReserveRecent         int     `yaml:"reserve_recent"`
	HierarchicalThreshold float64 `yaml:"hierarchical_threshold"`
}

// RedisConfig addresses the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	// TTL expires idle snapshots; zero keeps them.
	TTL time.Duration `yaml:"ttl"`
}

// SummarizerConfig picks the summarizer. Provider is "truncate" or "openai".
type SummarizerConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	MaxChars int    `yaml:"max_chars"`
}

// EmbeddingConfig picks the embedding provider. An empty provider disables
// similarity scoring.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	CacheSize int    `yaml:"cache_size"`
}

// Default returns the built-in settings.
func Default() Config {
	conv := conversation.DefaultConfig()
	cc := conv.Compress
	return Config{
		Store:    "sqlite",
		DBPath:   defaultDBPath(),
		Redis:    RedisConfig{Addr: "localhost:6379", Prefix: "memtier:"},
		LogLevel: "warn",
		Compress: CompressConfig{
			BudgetMax:             cc.BudgetMax,
			L1Threshold:           cc.L1Threshold,
			L1Pressure:            cc.L1Pressure,
			ReserveRecent:         cc.ReserveRecent,
			HierarchicalThreshold: cc.HierarchicalThreshold,
		},
		Search:     conv.Search,
		Interest:   conv.Interest,
		RecentK:    conv.RecentK,
		Enrich:     conv.Enrich,
		Summarizer: SummarizerConfig{Provider: "truncate", MaxChars: summarize.DefaultMaxChars},
		Embedding:  EmbeddingConfig{CacheSize: conv.CacheSize},
	}
}

func defaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memtier", "memtier.db")
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path falls back to $MEMTIER_CONFIG. A missing file is not an error.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = getenv("MEMTIER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("MEMTIER_DB"); v != "" {
		c.DBPath = v
	}
	if v := getenv("MEMTIER_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("MEMTIER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" && c.Summarizer.APIKey == "" {
		c.Summarizer.APIKey = v
	}
	if v := getenv("MEMTIER_EMBED_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := getenv("MEMTIER_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := getenv("MEMTIER_EMBED_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if err := c.CompressConfig().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Store {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	switch c.Summarizer.Provider {
	case "", "truncate", "openai":
	default:
		return fmt.Errorf("config: unknown summarizer %q", c.Summarizer.Provider)
	}
	if c.Search.MinRelevance < 0 || c.Search.MinRelevance > 1 {
		return fmt.Errorf("config: search.min_relevance %v outside [0,1]", c.Search.MinRelevance)
	}
	if c.Search.SimilarityThreshold <= 0 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("config: search.similarity_threshold %v outside (0,1]", c.Search.SimilarityThreshold)
	}
	if c.Interest.RandomSearchChance < 0 || c.Interest.RandomSearchChance > 1 {
		return fmt.Errorf("config: interest.random_search_chance %v outside [0,1]", c.Interest.RandomSearchChance)
	}
	if c.RecentK < 0 {
		return fmt.Errorf("config: recent_k must not be negative")
	}
	return nil
}

// CompressConfig returns the orchestrator settings.
func (c Config) CompressConfig() compress.Config {
	return compress.Config{
		BudgetMax:             c.Compress.BudgetMax,
		L1Threshold:           c.Compress.L1Threshold,
		L1Pressure:            c.Compress.L1Pressure,
		ReserveRecent:         c.Compress.ReserveRecent,
		HierarchicalThreshold: c.Compress.HierarchicalThreshold,
	}
}

// Conversation returns the per-conversation engine settings.
func (c Config) Conversation() conversation.Config {
	return conversation.Config{
		Compress:  c.CompressConfig(),
		Search:    c.Search,
		Interest:  c.Interest,
		RecentK:   c.RecentK,
		CacheSize: c.Embedding.CacheSize,
		Enrich:    c.Enrich,
	}
}

// RedisOptions returns the redis backend settings.
func (c Config) RedisOptions() store.RedisOptions {
	return store.RedisOptions{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Prefix:   c.Redis.Prefix,
		TTL:      c.Redis.TTL,
	}
}

// NewSummarizer builds the configured summarizer.
func (c Config) NewSummarizer() summarize.Summarizer {
	if c.Summarizer.Provider == "openai" {
		return summarize.NewOpenAI(c.Summarizer.APIKey, c.Summarizer.BaseURL, c.Summarizer.Model)
	}
	return summarize.NewTruncating(c.Summarizer.MaxChars)
}

// NewEmbedder builds the configured embedding provider, or nil when disabled.
func (c Config) NewEmbedder() embedding.Provider {
	return embedding.New(c.Embedding.Provider, c.Embedding.Model, c.Embedding.BaseURL)
}

// NewLogger builds a logger writing to stderr at the configured level.
func (c Config) NewLogger() *logging.GologLogger {
	return logging.New(os.Stderr, logging.ParseLevel(c.LogLevel))
}
