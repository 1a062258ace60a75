// Package config loads service configuration from YAML with environment
// variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("kaizen.yaml").
//	    WithEnvPrefix("KAIZEN").
//	    Load()
//
// Precedence: defaults, then the YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// Embedding configures the embedding provider backing episode search.
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Store selects and tunes the episode store backend.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Archive selects and tunes the version archive backend.
	Archive ArchiveConfig `yaml:"archive" env:"ARCHIVE"`

	// Improvement tunes the self-improvement loop.
	Improvement ImprovementConfig `yaml:"improvement" env:"IMPROVEMENT"`

	// Log configures logging.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Model      string        `yaml:"model" env:"MODEL"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// StoreConfig selects the episode store backend.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend   string `yaml:"backend" env:"BACKEND"`
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisDB   int    `yaml:"redis_db" env:"REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// ArchiveConfig selects the version archive backend.
type ArchiveConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path is the sqlite database file, ":memory:" for ephemeral.
	Path string `yaml:"path" env:"PATH"`
}

// ImprovementConfig tunes the improvement loop and applicator.
type ImprovementConfig struct {
	SweepInterval       time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	AutoApply           bool          `yaml:"auto_apply" env:"AUTO_APPLY"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			Timeout:    30 * time.Second,
		},
		Store: StoreConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
			KeyPrefix: "kaizen:",
		},
		Archive: ArchiveConfig{
			Backend: "memory",
			Path:    "kaizen.db",
		},
		Improvement: ImprovementConfig{
			SweepInterval:       time.Hour,
			ConfidenceThreshold: 0.6,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks field combinations that the loader cannot check
// per-field.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	switch c.Archive.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config: unknown archive backend %q", c.Archive.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		return fmt.Errorf("config: redis backend requires store.redis_addr")
	}
	if c.Improvement.ConfidenceThreshold < 0 || c.Improvement.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: improvement.confidence_threshold must be in [0,1]")
	}
	return nil
}

// Loader builds a Config from defaults, an optional YAML file, and
// environment overrides.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a Loader with the KAIZEN env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "KAIZEN"}
}

// WithConfigPath sets the YAML file to load. Missing file is not an
// error; the defaults plus env overrides are used.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", l.configPath, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", l.configPath, err)
		}
	}

	if err := applyEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv walks the struct and overrides fields whose composed env name
// (PREFIX_SECTION_FIELD) is set.
func applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("env")
		if tag == "" {
			continue
		}
		name := prefix + "_" + tag
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			if err := applyEnv(fv, name); err != nil {
				return err
			}
			continue
		}
		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	if fv.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		fv.SetInt(int64(d))
		return nil
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

// Sanitized returns a copy safe for logging, with secrets masked.
func (c *Config) Sanitized() Config {
	out := *c
	if out.Embedding.APIKey != "" {
		out.Embedding.APIKey = mask(out.Embedding.APIKey)
	}
	return out
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
