package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MATCHMAKER_DATABASE_DSN.
const EnvPrefix = "MATCHMAKER"

// Config captures the settings shared by every matchmaker command.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Cache     CacheConfig     `mapstructure:"cache"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver      string        `mapstructure:"driver"`
	DSN         string        `mapstructure:"dsn"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// MatchingConfig holds the empirical scoring constants.
type MatchingConfig struct {
	Threshold       float64       `mapstructure:"threshold"`
	TopK            int           `mapstructure:"top_k"`
	MaxPool         int           `mapstructure:"max_pool"`
	ExactMatchFloor float64       `mapstructure:"exact_match_floor"`
	Weights         WeightsConfig `mapstructure:"weights"`
}

// WeightsConfig holds the blend weights used when attendee documents are present.
type WeightsConfig struct {
	BothKeyword    float64 `mapstructure:"both_keyword"`
	BothDocument   float64 `mapstructure:"both_document"`
	BothCross      float64 `mapstructure:"both_cross"`
	SingleKeyword  float64 `mapstructure:"single_keyword"`
	SingleDocument float64 `mapstructure:"single_document"`
}

// EmbeddingConfig selects the vectorizer backend.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// CacheConfig enables the Redis embedding cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// NATSConfig enables event publication when URL is set.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MetricsConfig enables pushing batch metrics when PushgatewayURL is set.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// TracingConfig controls the OTLP exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

var defaults = map[string]any{
	"database.driver":                   "sqlite",
	"database.dsn":                      "file:matchmaker.db",
	"database.busy_timeout":             "5s",
	"matching.threshold":                0.26,
	"matching.top_k":                    20,
	"matching.max_pool":                 500,
	"matching.exact_match_floor":        0.3,
	"matching.weights.both_keyword":     0.7,
	"matching.weights.both_document":    0.15,
	"matching.weights.both_cross":       0.075,
	"matching.weights.single_keyword":   0.8,
	"matching.weights.single_document":  0.2,
	"embedding.provider":                "hashing",
	"embedding.model":                   "",
	"embedding.api_key":                 "",
	"embedding.dimensions":              768,
	"embedding.timeout":                 "15s",
	"cache.redis_addr":                  "",
	"cache.ttl":                         "24h",
	"nats.url":                          "",
	"nats.subject_prefix":               "matchmaker",
	"metrics.pushgateway_url":           "",
	"metrics.job":                       "matchmaker",
	"tracing.enabled":                   false,
	"tracing.endpoint":                  "localhost:4318",
	"tracing.service_name":              "event-matchmaker",
	"log.level":                         "info",
	"log.json":                          false,
}

// NewViper returns a viper instance with defaults and environment overrides registered.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path and applies environment overrides.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates configuration held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or invalid key at once.
func (c Config) Validate() error {
	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 4)

	switch c.Database.Driver {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			missing = append(missing, "database.dsn")
		}
	default:
		invalid = append(invalid, "database.driver")
	}

	if c.Matching.Threshold < 0 || c.Matching.Threshold > 1 {
		invalid = append(invalid, "matching.threshold")
	}
	if c.Matching.TopK <= 0 {
		invalid = append(invalid, "matching.top_k")
	}
	if c.Matching.MaxPool <= 0 {
		invalid = append(invalid, "matching.max_pool")
	}
	if c.Matching.ExactMatchFloor < 0 || c.Matching.ExactMatchFloor > 1 {
		invalid = append(invalid, "matching.exact_match_floor")
	}

	switch c.Embedding.Provider {
	case "hashing":
		if c.Embedding.Dimensions <= 0 {
			invalid = append(invalid, "embedding.dimensions")
		}
	case "openai", "gemini":
		if strings.TrimSpace(c.Embedding.APIKey) == "" {
			missing = append(missing, "embedding.api_key")
		}
	default:
		invalid = append(invalid, "embedding.provider")
	}

	if c.Cache.RedisAddr != "" && c.Cache.TTL <= 0 {
		invalid = append(invalid, "cache.ttl")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Errorf("invalid config values: %s", strings.Join(invalid, ", ")))
	}
	return errors.Join(errs...)
}
