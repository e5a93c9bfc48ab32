// Package syncsvc pulls recently persisted records into per-user memory
// managers. Fan-out runs under a bounded worker pool, per-user resyncs
// are rate-limited by an in-process cursor, and every failure is
// reported in the result instead of raised.
package syncsvc

import (
	"context"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/companionlabs/companion-memory/internal/manager"
	"github.com/companionlabs/companion-memory/internal/model"
	"github.com/companionlabs/companion-memory/internal/records"
)

const (
	// DefaultInterval is the minimum gap between unforced resyncs of one
	// user.
	DefaultInterval = 5 * time.Minute

	// DefaultLookback bounds the read window of a full sync pass.
	DefaultLookback = 72 * time.Hour

	// DefaultBatchLimit caps records read per user per pass.
	DefaultBatchLimit = 200

	// DefaultConcurrency bounds the fan-out worker pool.
	DefaultConcurrency = 5

	readMaxAttempts = 3
	readBaseBackoff = 200 * time.Millisecond
)

// ManagerProvider hands out the memory manager for a user. Satisfied by
// registry.Registry.
type ManagerProvider interface {
	GetOrCreate(userID string) (*manager.Manager, error)
}

// Config tunes a Service. Zero values select the defaults above.
type Config struct {
	Interval    time.Duration
	Lookback    time.Duration
	BatchLimit  int
	Concurrency int
}

// Service synchronizes persisted records into short-term buffers and
// best-effort mirrors them into the long-term store via the manager.
type Service struct {
	store    records.Store
	managers ManagerProvider
	cfg      Config
	log      zerolog.Logger

	mu      sync.Mutex
	cursors map[string]time.Time // userID -> lastSyncedAt, process-local

	now func() time.Time
}

// New constructs a Service.
func New(store records.Store, managers ManagerProvider, cfg Config, log zerolog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Service{
		store:    store,
		managers: managers,
		cfg:      cfg,
		log:      log,
		cursors:  make(map[string]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SyncUser runs one full sync pass for userID. Unless force is set, a
// pass within the resync interval of the previous one returns skipped
// without touching the store.
func (s *Service) SyncUser(ctx context.Context, userID string, force bool) model.SyncResult {
	return s.syncWindow(ctx, userID, s.cfg.Lookback, force)
}

// SyncRecent is the opportunistic variant run just before a turn: same
// semantics as SyncUser but with a caller-chosen, typically much
// shorter, lookback window.
func (s *Service) SyncRecent(ctx context.Context, userID string, hours int) model.SyncResult {
	if hours <= 0 {
		hours = 2
	}
	return s.syncWindow(ctx, userID, time.Duration(hours)*time.Hour, false)
}

func (s *Service) syncWindow(ctx context.Context, userID string, lookback time.Duration, force bool) model.SyncResult {
	start := s.now()
	res := model.SyncResult{UserID: userID, SyncedAt: start}

	s.mu.Lock()
	cursor, seen := s.cursors[userID]
	s.mu.Unlock()

	if !force && seen && start.Sub(cursor) < s.cfg.Interval {
		res.Status = model.SyncSkipped
		syncRunsTotal.WithLabelValues(string(model.SyncSkipped)).Inc()
		return res
	}

	since := start.Add(-lookback)
	// Records older than the cursor are already in the buffer; narrow the
	// window so a pass never re-feeds them.
	if seen && cursor.After(since) {
		since = cursor
	}

	recs, err := s.readRecent(ctx, userID, since)
	if err != nil {
		s.log.Warn().Err(err).Str("userId", userID).Msg("sync read phase failed")
		res.Status = model.SyncError
		res.Errors = append(res.Errors, err.Error())
		syncRunsTotal.WithLabelValues(string(model.SyncError)).Inc()
		return res
	}

	m, err := s.managers.GetOrCreate(userID)
	if err != nil {
		res.Status = model.SyncError
		res.Errors = append(res.Errors, err.Error())
		syncRunsTotal.WithLabelValues(string(model.SyncError)).Inc()
		return res
	}

	// Newest-first from the store; feed oldest-first so buffer order
	// stays chronological. Long-term failures are per record: report,
	// count, continue.
	for i := len(recs) - 1; i >= 0; i-- {
		cres, aerr := m.AddMessage(ctx, recs[i].ToMemoryRecord(), true)
		if aerr != nil {
			res.Errors = append(res.Errors, aerr.Error())
			continue
		}
		res.SyncedCount++
		if cres.LongTermError != "" {
			res.Errors = append(res.Errors, cres.LongTermError)
			longTermWriteFailuresTotal.Inc()
		}
	}

	s.mu.Lock()
	s.cursors[userID] = start
	s.mu.Unlock()

	res.Status = model.SyncSuccess
	syncRunsTotal.WithLabelValues(string(model.SyncSuccess)).Inc()
	syncedRecordsTotal.Add(float64(res.SyncedCount))
	syncDuration.Observe(s.now().Sub(start).Seconds())
	s.log.Debug().Str("userId", userID).Int("synced", res.SyncedCount).Int("errors", len(res.Errors)).Msg("sync pass complete")
	return res
}

// readRecent retries transient store failures with exponential backoff.
func (s *Service) readRecent(ctx context.Context, userID string, since time.Time) ([]*records.PersistedRecord, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = readBaseBackoff
	exp.Reset()

	var out []*records.PersistedRecord
	op := func() error {
		var err error
		out, err = s.store.ListRecent(ctx, records.ListRecentRequest{
			UserID: userID,
			Since:  since,
			Limit:  s.cfg.BatchLimit,
		})
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, readMaxAttempts-1), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return out, nil
}

// SyncMultiple fans SyncUser out over a bounded worker pool so batch
// size never translates into unbounded store load. Users left
// unprocessed at cancellation report an error result.
func (s *Service) SyncMultiple(ctx context.Context, userIDs []string) map[string]model.SyncResult {
	jobs := make(chan string)
	var mu sync.Mutex
	out := make(map[string]model.SyncResult, len(userIDs))

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for uid := range jobs {
				var res model.SyncResult
				if err := ctx.Err(); err != nil {
					res = model.SyncResult{UserID: uid, Status: model.SyncError, Errors: []string{err.Error()}, SyncedAt: s.now()}
				} else {
					res = s.SyncUser(ctx, uid, false)
				}
				mu.Lock()
				out[uid] = res
				mu.Unlock()
			}
		}()
	}

	for _, uid := range userIDs {
		jobs <- uid
	}
	close(jobs)
	wg.Wait()
	return out
}

// Cursor returns the last successful sync time for userID.
func (s *Service) Cursor(userID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.cursors[userID]
	return t, ok
}

// ResetCursor forgets a user's cursor so the next pass reads the full
// window. Used when a user's memory is cleared.
func (s *Service) ResetCursor(userID string) {
	s.mu.Lock()
	delete(s.cursors, userID)
	s.mu.Unlock()
}
