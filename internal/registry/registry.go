// Package registry holds the process-wide map of user id to memory
// manager. It is the only shared mutable structure in the engine and is
// guarded accordingly; managers are created lazily and evicted either
// explicitly or by the idle sweeper.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/companionlabs/companion-memory/internal/manager"
	"github.com/companionlabs/companion-memory/internal/model"
)

// DefaultIdleTTL is how long a manager may go untouched before the
// sweeper evicts it.
const DefaultIdleTTL = 2 * time.Hour

// Factory builds a manager for a user on first access.
type Factory func(userID string) (*manager.Manager, error)

// Registry is a concurrency-safe keyed cache of managers with explicit
// eviction.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*manager.Manager
	factory  Factory
	idleTTL  time.Duration
	log      zerolog.Logger
}

// New constructs an empty registry. idleTTL <= 0 selects DefaultIdleTTL.
func New(factory Factory, idleTTL time.Duration, log zerolog.Logger) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Registry{
		managers: make(map[string]*manager.Manager),
		factory:  factory,
		idleTTL:  idleTTL,
		log:      log,
	}
}

// GetOrCreate returns the manager for userID, constructing it on first
// access. Construction happens under the registry lock so two racing
// callers never build two managers for the same user.
func (r *Registry) GetOrCreate(userID string) (*manager.Manager, error) {
	if userID == "" {
		return nil, model.ErrValidation
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[userID]; ok {
		return m, nil
	}
	m, err := r.factory(userID)
	if err != nil {
		return nil, err
	}
	r.managers[userID] = m
	r.log.Debug().Str("userId", userID).Msg("manager created")
	return m, nil
}

// Peek returns the manager for userID without creating one.
func (r *Registry) Peek(userID string) (*manager.Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[userID]
	return m, ok
}

// Evict closes and removes the manager for userID. Returns whether one
// existed.
func (r *Registry) Evict(userID string) bool {
	r.mu.Lock()
	m, ok := r.managers[userID]
	delete(r.managers, userID)
	r.mu.Unlock()
	if ok {
		m.Close()
		r.log.Info().Str("userId", userID).Msg("manager evicted")
	}
	return ok
}

// Len reports how many managers are cached.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// Stats snapshots every cached manager.
func (r *Registry) Stats() []model.ManagerStats {
	r.mu.Lock()
	managers := make([]*manager.Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	out := make([]model.ManagerStats, 0, len(managers))
	for _, m := range managers {
		out = append(out, m.GetStats())
	}
	return out
}

// SweepIdle evicts every manager idle longer than the configured TTL
// and returns how many were removed.
func (r *Registry) SweepIdle(now time.Time) int {
	r.mu.Lock()
	var stale []*manager.Manager
	for uid, m := range r.managers {
		if now.Sub(m.LastAccess()) >= r.idleTTL {
			stale = append(stale, m)
			delete(r.managers, uid)
		}
	}
	r.mu.Unlock()

	for _, m := range stale {
		m.Close()
	}
	if len(stale) > 0 {
		r.log.Info().Int("evicted", len(stale)).Msg("idle manager sweep")
	}
	return len(stale)
}

// StartSweeper runs SweepIdle on the given interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				r.SweepIdle(now)
			}
		}
	}()
}
