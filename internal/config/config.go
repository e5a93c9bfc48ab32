package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the memory engine.
// Environment variables are parsed from the MEMORY_ENGINE_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Persistent record store (read-only collaborator)
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"companion-memory.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Long-term semantic store
	LongTermStore  string `envconfig:"LONG_TERM_STORE" default:"weaviate"`
	SearchIndexURL string `envconfig:"SEARCH_INDEX_URL" default:"localhost:8082"`

	// Embeddings
	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel    string `envconfig:"EMBED_MODEL" default:"nomic-embed-text"`

	// Profile source
	ProfileSource     string `envconfig:"PROFILE_SOURCE" default:"store"`
	ProfileServiceURL string `envconfig:"PROFILE_SERVICE_URL" default:""`

	// Short-term buffer capacities
	ActivityCapacity int `envconfig:"ACTIVITY_CAPACITY" default:"30"`
	DialogueCapacity int `envconfig:"DIALOGUE_CAPACITY" default:"200"`

	// Freshness windows
	ProfileTTLMinutes     int `envconfig:"PROFILE_TTL_MINUTES" default:"30"`
	ManagerIdleTTLMinutes int `envconfig:"MANAGER_IDLE_TTL_MINUTES" default:"120"`

	// Sync tuning
	SyncIntervalMinutes int `envconfig:"SYNC_INTERVAL_MINUTES" default:"5"`
	SyncLookbackHours   int `envconfig:"SYNC_LOOKBACK_HOURS" default:"72"`
	SyncRecentHours     int `envconfig:"SYNC_RECENT_HOURS" default:"2"`
	SyncBatchLimit      int `envconfig:"SYNC_BATCH_LIMIT" default:"200"`
	SyncConcurrency     int `envconfig:"SYNC_CONCURRENCY" default:"5"`

	// Ops HTTP endpoint (health, metrics, stats)
	HTTPPort int `envconfig:"HTTP_PORT" default:"8081"`
}

// ResolveDefaults validates driver choices and cross-field requirements.
func (c *Config) ResolveDefaults() error {
	allowedDB := map[string]bool{"sqlite": true, "postgres": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
	}
	switch c.LongTermStore {
	case "weaviate", "off":
	default:
		return fmt.Errorf("unsupported LONG_TERM_STORE: %s", c.LongTermStore)
	}
	switch c.ProfileSource {
	case "store":
	case "http":
		if c.ProfileServiceURL == "" {
			return fmt.Errorf("PROFILE_SOURCE=http requires PROFILE_SERVICE_URL")
		}
	default:
		return fmt.Errorf("unsupported PROFILE_SOURCE: %s", c.ProfileSource)
	}
	if c.ActivityCapacity <= 0 || c.DialogueCapacity <= 0 {
		return fmt.Errorf("buffer capacities must be positive")
	}
	if c.SyncConcurrency <= 0 {
		c.SyncConcurrency = 5
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Example: MEMORY_ENGINE_DB_DRIVER, MEMORY_ENGINE_HTTP_PORT.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("MEMORY_ENGINE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Str("long_term_store", cfg.LongTermStore).
		Str("search_index_url", cfg.SearchIndexURL).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Str("profile_source", cfg.ProfileSource).
		Int("activity_capacity", cfg.ActivityCapacity).
		Int("dialogue_capacity", cfg.DialogueCapacity).
		Int("sync_concurrency", cfg.SyncConcurrency).
		Int("port", cfg.HTTPPort).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config suitable for unit tests: sqlite in a temp
// location, long-term store disabled, small windows.
func NewForTesting() *Config {
	cfg := &Config{
		Environment:           EnvTesting,
		DBDriver:              "sqlite",
		SQLitePath:            "file::memory:?cache=shared",
		LongTermStore:         "off",
		EmbedProvider:         "ollama",
		EmbedModel:            "nomic-embed-text",
		ProfileSource:         "store",
		ActivityCapacity:      30,
		DialogueCapacity:      200,
		ProfileTTLMinutes:     30,
		ManagerIdleTTLMinutes: 120,
		SyncIntervalMinutes:   5,
		SyncLookbackHours:     72,
		SyncRecentHours:       2,
		SyncBatchLimit:        200,
		SyncConcurrency:       5,
		HTTPPort:              8081,
	}
	return cfg
}

// IsTesting returns true if the environment is set to testing.
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// ProfileTTL returns the profile cache TTL as a duration.
func (c *Config) ProfileTTL() time.Duration {
	return time.Duration(c.ProfileTTLMinutes) * time.Minute
}

// SyncInterval returns the minimum resync interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// SyncLookback returns the read window of a full sync pass.
func (c *Config) SyncLookback() time.Duration {
	return time.Duration(c.SyncLookbackHours) * time.Hour
}

// ManagerIdleTTL returns how long an untouched manager survives in the
// registry before the sweeper evicts it.
func (c *Config) ManagerIdleTTL() time.Duration {
	return time.Duration(c.ManagerIdleTTLMinutes) * time.Minute
}

// GetHTTPAddr returns the ops HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
