// Package syncworker hosts the memory sync daemon: it periodically
// feeds recently persisted records into per-user memory managers and
// serves the ops HTTP endpoints.
package syncworker

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/companionlabs/companion-memory/internal/api"
	"github.com/companionlabs/companion-memory/internal/config"
	"github.com/companionlabs/companion-memory/internal/factory"
	"github.com/companionlabs/companion-memory/internal/health"
	"github.com/companionlabs/companion-memory/internal/logger"
	"github.com/companionlabs/companion-memory/internal/model"
	"github.com/companionlabs/companion-memory/internal/syncsvc"
)

const (
	healthProbeInterval = 10 * time.Second
	healthProbeTimeout  = 2 * time.Second
	sweepInterval       = 10 * time.Minute
)

// Run starts the sync daemon and blocks until shutdown or error.
func Run() error {
	log := logger.New("memory-syncd")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Str("long_term_store", cfg.LongTermStore).
		Int("sync_interval_minutes", cfg.SyncIntervalMinutes).
		Int("sync_concurrency", cfg.SyncConcurrency).
		Int("http_port", cfg.HTTPPort).
		Msg("memory sync daemon starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := factory.NewRecordsStore(cfg)
	if err != nil {
		log.Error().Stack().Err(err).Msg("records store unavailable")
		return err
	}
	long, err := factory.NewLongTermStore(ctx, cfg)
	if err != nil {
		log.Error().Stack().Err(err).Msg("long-term store unavailable")
		return err
	}
	src, err := factory.NewProfileSource(cfg, store)
	if err != nil {
		log.Error().Stack().Err(err).Msg("profile source unavailable")
		return err
	}

	reg := factory.NewRegistry(cfg, store, long, src, log)
	reg.StartSweeper(ctx, sweepInterval)

	svc := syncsvc.New(store, reg, syncsvc.Config{
		Interval:    cfg.SyncInterval(),
		Lookback:    cfg.SyncLookback(),
		BatchLimit:  cfg.SyncBatchLimit,
		Concurrency: cfg.SyncConcurrency,
	}, log)

	healthDeps := []interface{}{store, long}
	if cfg.LongTermStore == "weaviate" {
		if embedder, err := factory.NewEmbeddingProvider(cfg); err == nil {
			healthDeps = append(healthDeps, embedder)
		}
	}
	svcHealth := startHealthCheckers(ctx, log, healthDeps...)

	server := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           api.NewServer(reg, svcHealth, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("ops endpoints listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go runSyncLoop(ctx, cfg, store, svc, log)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Stack().Err(err).Msg("ops server forced to shut down")
			return err
		}
		log.Info().Msg("sync daemon exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("ops server failed")
		return err
	}
}

// runSyncLoop drives periodic full-scan syncs for every recently active
// user until ctx is cancelled.
func runSyncLoop(ctx context.Context, cfg *config.Config, store recordsLister, svc *syncsvc.Service, log zerolog.Logger) {
	ticker := time.NewTicker(cfg.SyncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := time.Now().UTC().Add(-cfg.SyncLookback())
			users, err := store.ActiveUserIDs(ctx, since)
			if err != nil {
				log.Warn().Err(err).Msg("active user scan failed")
				continue
			}
			if len(users) == 0 {
				continue
			}
			results := svc.SyncMultiple(ctx, users)
			synced, failed := 0, 0
			for _, res := range results {
				switch res.Status {
				case model.SyncError:
					failed++
				default:
					synced += res.SyncedCount
				}
			}
			log.Info().Int("users", len(users)).Int("records", synced).Int("failures", failed).Msg("sync pass finished")
		}
	}
}

type recordsLister interface {
	ActiveUserIDs(ctx context.Context, since time.Time) ([]string, error)
}

func startHealthCheckers(ctx context.Context, log zerolog.Logger, deps ...interface{}) *health.ServiceHealthChecker {
	var checkers []health.HealthChecker
	names := []string{"records-store", "long-term-store", "embedder"}
	for i, dep := range deps {
		pinger, ok := dep.(health.HealthPinger)
		if !ok {
			continue
		}
		name := "dep"
		if i < len(names) {
			name = names[i]
		}
		c := health.NewPingChecker(name, pinger, log, healthProbeTimeout)
		go c.Start(ctx, healthProbeInterval)
		checkers = append(checkers, c)
	}
	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, healthProbeInterval)
	return svcHealth
}
