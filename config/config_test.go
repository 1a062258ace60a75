package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://api.openai.com", cfg.Embedding.BaseURL)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "memory", cfg.Archive.Backend)
	assert.Equal(t, time.Hour, cfg.Improvement.SweepInterval)
	assert.False(t, cfg.Improvement.AutoApply)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kaizen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedding:
  model: text-embedding-3-large
  dimensions: 3072
  timeout: 10s
store:
  backend: redis
  redis_addr: redis.internal:6380
  redis_db: 2
improvement:
  sweep_interval: 30m
  auto_apply: true
log:
  level: debug
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)
	assert.Equal(t, 3072, cfg.Embedding.Dimensions)
	assert.Equal(t, 10*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis.internal:6380", cfg.Store.RedisAddr)
	assert.Equal(t, 2, cfg.Store.RedisDB)
	assert.Equal(t, 30*time.Minute, cfg.Improvement.SweepInterval)
	assert.True(t, cfg.Improvement.AutoApply)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched fields keep their defaults.
	assert.Equal(t, "https://api.openai.com", cfg.Embedding.BaseURL)
	assert.Equal(t, "memory", cfg.Archive.Backend)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [not a mapping"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KAIZEN_STORE_BACKEND", "redis")
	t.Setenv("KAIZEN_STORE_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("KAIZEN_STORE_REDIS_DB", "3")
	t.Setenv("KAIZEN_EMBEDDING_API_KEY", "sk-test-abcdef")
	t.Setenv("KAIZEN_EMBEDDING_TIMEOUT", "45s")
	t.Setenv("KAIZEN_IMPROVEMENT_AUTO_APPLY", "true")
	t.Setenv("KAIZEN_IMPROVEMENT_CONFIDENCE_THRESHOLD", "0.75")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "10.0.0.5:6379", cfg.Store.RedisAddr)
	assert.Equal(t, 3, cfg.Store.RedisDB)
	assert.Equal(t, "sk-test-abcdef", cfg.Embedding.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Embedding.Timeout)
	assert.True(t, cfg.Improvement.AutoApply)
	assert.Equal(t, 0.75, cfg.Improvement.ConfidenceThreshold)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kaizen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))
	t.Setenv("KAIZEN_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_LOG_FORMAT", "console")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestEnvParseFailure(t *testing.T) {
	t.Setenv("KAIZEN_STORE_REDIS_DB", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAIZEN_STORE_REDIS_DB")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown store backend", func(c *Config) { c.Store.Backend = "dynamo" }, false},
		{"unknown archive backend", func(c *Config) { c.Archive.Backend = "postgres" }, false},
		{"redis without addr", func(c *Config) {
			c.Store.Backend = "redis"
			c.Store.RedisAddr = ""
		}, false},
		{"threshold out of range", func(c *Config) { c.Improvement.ConfidenceThreshold = 1.5 }, false},
		{"sqlite archive", func(c *Config) { c.Archive.Backend = "sqlite" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSanitizedMasksAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Embedding.APIKey = "sk-verysecretkey"

	out := cfg.Sanitized()
	assert.Equal(t, "sk************ey", out.Embedding.APIKey)
	assert.NotContains(t, out.Embedding.APIKey, "verysecret")
	// The original is untouched.
	assert.Equal(t, "sk-verysecretkey", cfg.Embedding.APIKey)

	cfg.Embedding.APIKey = "abc"
	assert.Equal(t, "****", cfg.Sanitized().Embedding.APIKey)
}
