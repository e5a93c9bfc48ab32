// Package factory builds the engine's collaborators from configuration.
package factory

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/companionlabs/companion-memory/internal/config"
	"github.com/companionlabs/companion-memory/internal/embeddings"
	"github.com/companionlabs/companion-memory/internal/embeddings/ollama"
	"github.com/companionlabs/companion-memory/internal/longterm"
	ltweaviate "github.com/companionlabs/companion-memory/internal/longterm/weaviate"
	"github.com/companionlabs/companion-memory/internal/manager"
	"github.com/companionlabs/companion-memory/internal/profile"
	"github.com/companionlabs/companion-memory/internal/records"
	"github.com/companionlabs/companion-memory/internal/records/postgres"
	"github.com/companionlabs/companion-memory/internal/records/sqlite"
	"github.com/companionlabs/companion-memory/internal/registry"
)

// NewRecordsStore opens the persistent record store selected by config.
func NewRecordsStore(cfg *config.Config) (records.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return sqlite.New(cfg.SQLitePath)
	case "postgres":
		return postgres.New(cfg.PostgresDSN)
	default:
		return nil, errors.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

// NewEmbeddingProvider builds the embedding provider selected by config.
func NewEmbeddingProvider(cfg *config.Config) (embeddings.Provider, error) {
	switch cfg.EmbedProvider {
	case "ollama":
		return ollama.New(cfg.EmbedModel), nil
	default:
		return nil, errors.Errorf("unsupported embed provider %q", cfg.EmbedProvider)
	}
}

// NewLongTermStore builds the long-term store, bootstrapping the index
// schema when weaviate is selected.
func NewLongTermStore(ctx context.Context, cfg *config.Config) (longterm.Store, error) {
	switch cfg.LongTermStore {
	case "off":
		return longterm.NoopStore{}, nil
	case "weaviate":
		embedder, err := NewEmbeddingProvider(cfg)
		if err != nil {
			return nil, err
		}
		if err := ltweaviate.Bootstrap(ctx, cfg.SearchIndexURL); err != nil {
			return nil, errors.Wrap(err, "bootstrap search index")
		}
		return ltweaviate.New(cfg.SearchIndexURL, embedder)
	default:
		return nil, errors.Errorf("unsupported long-term store %q", cfg.LongTermStore)
	}
}

// NewProfileSource builds the profile source selected by config.
func NewProfileSource(cfg *config.Config, store records.Store) (profile.Source, error) {
	switch cfg.ProfileSource {
	case "store":
		return profile.NewStoreSource(store), nil
	case "http":
		if cfg.ProfileServiceURL == "" {
			return nil, errors.New("profile service URL is required for the http source")
		}
		return profile.NewHTTPSource(cfg.ProfileServiceURL), nil
	default:
		return nil, errors.Errorf("unsupported profile source %q", cfg.ProfileSource)
	}
}

// NewRegistry assembles the manager registry on top of already-built
// collaborators.
func NewRegistry(cfg *config.Config, store records.Store, long longterm.Store, src profile.Source, log zerolog.Logger) *registry.Registry {
	factory := func(userID string) (*manager.Manager, error) {
		return manager.New(manager.Params{
			UserID:           userID,
			Records:          store,
			LongTerm:         long,
			ProfileSource:    src,
			Exec:             manager.GoExecutor{},
			Logger:           log,
			ActivityCapacity: cfg.ActivityCapacity,
			DialogueCapacity: cfg.DialogueCapacity,
			ProfileTTL:       cfg.ProfileTTL(),
			HistoryLookback:  cfg.SyncLookback(),
			HistoryLimit:     cfg.SyncBatchLimit,
		})
	}
	return registry.New(factory, cfg.ManagerIdleTTL(), log)
}
