package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memtier/internal/summarize"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, 2000, cfg.Compress.BudgetMax)
	assert.Equal(t, 5, cfg.Compress.L1Threshold)
	assert.Equal(t, 2, cfg.Compress.ReserveRecent)
	assert.Equal(t, 0.5, cfg.Compress.HierarchicalThreshold)
	assert.Equal(t, 3, cfg.Search.Threshold)
	assert.Equal(t, 50*time.Millisecond, cfg.Search.Budget)
	assert.Equal(t, 0.7, cfg.Interest.SearchThreshold)
	assert.Equal(t, 8, cfg.RecentK)
	assert.Nil(t, cfg.NewEmbedder())
	assert.IsType(t, &summarize.Truncating{}, cfg.NewSummarizer())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memtier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: redis
redis:
  addr: cache:6379
  ttl: 72h
compress:
  budget_max: 4000
  l1_threshold: 6
search:
  budget: 120ms
  max_results: 4
interest:
  half_life: 2h
summarizer:
  provider: openai
  model: gpt-4o-mini
`), 0o644))

	cfg, err := load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store)
	ro := cfg.RedisOptions()
	assert.Equal(t, "cache:6379", ro.Addr)
	assert.Equal(t, "memtier:", ro.Prefix)
	assert.Equal(t, 72*time.Hour, ro.TTL)
	assert.Equal(t, 4000, cfg.Compress.BudgetMax)
	assert.Equal(t, 6, cfg.Compress.L1Threshold)
	// Unset keys keep their defaults.
	assert.Equal(t, 2, cfg.Compress.ReserveRecent)
	assert.Equal(t, 120*time.Millisecond, cfg.Search.Budget)
	assert.Equal(t, 4, cfg.Search.MaxResults)
	assert.Equal(t, 0.1, cfg.Search.MinRelevance)
	assert.Equal(t, 2*time.Hour, cfg.Interest.HalfLife)
	assert.IsType(t, &summarize.OpenAI{}, cfg.NewSummarizer())

	conv := cfg.Conversation()
	assert.Equal(t, 4000, conv.Compress.BudgetMax)
	assert.Equal(t, 4, conv.Search.MaxResults)
}

func TestConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recent_k: 3\n"), 0o644))

	cfg, err := load("", env(map[string]string{"MEMTIER_CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RecentK)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "absent.yaml"), env(nil))
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Compress.BudgetMax)
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := load("", env(map[string]string{
		"MEMTIER_DB":             "/tmp/x.db",
		"MEMTIER_REDIS_ADDR":     "redis:6380",
		"MEMTIER_LOG_LEVEL":      "debug",
		"OPENAI_API_KEY":         "sk-test",
		"MEMTIER_EMBED_PROVIDER": "ollama",
		"MEMTIER_EMBED_MODEL":    "all-minilm",
	}))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sk-test", cfg.Summarizer.APIKey)
	require.NotNil(t, cfg.NewEmbedder())
	assert.Equal(t, 384, cfg.NewEmbedder().Dims())
}

func TestInvalid(t *testing.T) {
	cases := map[string]string{
		"budget":     "compress:\n  budget_max: 0\n",
		"l1":         "compress:\n  l1_threshold: 1\n",
		"ratio":      "compress:\n  hierarchical_threshold: 1.5\n",
		"store":      "store: etcd\n",
		"summarizer": "summarizer:\n  provider: magic\n",
		"relevance":  "search:\n  min_relevance: 2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := load(path, env(nil))
			assert.Error(t, err)
		})
	}
}

func TestMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compress: [unclosed"), 0o644))
	_, err := load(path, env(nil))
	assert.ErrorContains(t, err, "parse config")
}
