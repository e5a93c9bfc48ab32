// Package profile caches a derived snapshot of user attributes behind a TTL.
package profile

import (
	"context"
	"sync"
	"time"

	"github.com/companionlabs/companion-memory/internal/model"
)

// DefaultTTL bounds snapshot freshness when the caller passes zero.
const DefaultTTL = 30 * time.Minute

// Source reads structured profile attributes for a user. Read-only from the
// engine's perspective; implementations live in this package (store, http).
type Source interface {
	Fetch(ctx context.Context, userID string) (map[string]string, error)
}

// Cache is a single-slot TTL cache of one user's ProfileSnapshot.
//
// Concurrent misses may each invoke the source: recomputation is idempotent
// and cheap, so the duplicate fetch is accepted instead of holding a lock
// across I/O. The slot itself is guarded; last writer wins.
type Cache struct {
	userID string
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu   sync.Mutex
	snap *model.ProfileSnapshot
}

// NewCache creates a cache bound to one user. A non-positive ttl falls back
// to DefaultTTL.
func NewCache(userID string, source Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		userID: userID,
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get returns the cached snapshot when fresh and force is false; otherwise
// it fetches from the source, stamps and stores the new snapshot.
func (c *Cache) Get(ctx context.Context, force bool) (model.ProfileSnapshot, error) {
	c.mu.Lock()
	if !force && c.snap != nil && c.snap.Fresh(c.now(), c.ttl) {
		snap := *c.snap
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	// Fetch outside the lock so a slow source never stalls readers that can
	// still be served a stale-but-present snapshot elsewhere.
	attrs, err := c.source.Fetch(ctx, c.userID)
	if err != nil {
		return model.ProfileSnapshot{}, err
	}

	snap := model.ProfileSnapshot{Attributes: attrs, FetchedAt: c.now()}
	c.mu.Lock()
	c.snap = &snap
	c.mu.Unlock()
	return snap, nil
}

// Peek returns the current snapshot without triggering a fetch, plus whether
// one exists and is fresh.
func (c *Cache) Peek() (*model.ProfileSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return nil, false
	}
	snap := *c.snap
	return &snap, snap.Fresh(c.now(), c.ttl)
}

// Invalidate drops the cached snapshot.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}
