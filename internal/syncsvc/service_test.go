package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companionlabs/companion-memory/internal/longterm/longtermtest"
	"github.com/companionlabs/companion-memory/internal/manager"
	"github.com/companionlabs/companion-memory/internal/model"
	"github.com/companionlabs/companion-memory/internal/records"
	"github.com/companionlabs/companion-memory/internal/records/recordstest"
	"github.com/companionlabs/companion-memory/internal/registry"
)

type emptyProfile struct{}

func (emptyProfile) Fetch(ctx context.Context, userID string) (map[string]string, error) {
	return map[string]string{}, nil
}

type fixture struct {
	store *recordstest.FakeStore
	long  *longtermtest.FakeStore
	reg   *registry.Registry
	svc   *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := recordstest.NewFakeStore()
	long := longtermtest.New()
	factory := func(userID string) (*manager.Manager, error) {
		return manager.New(manager.Params{
			UserID:        userID,
			Records:       store,
			LongTerm:      long,
			ProfileSource: emptyProfile{},
			Exec:          manager.SyncExecutor{},
			Logger:        zerolog.Nop(),
		})
	}
	reg := registry.New(factory, 0, zerolog.Nop())
	return &fixture{
		store: store,
		long:  long,
		reg:   reg,
		svc:   New(store, reg, cfg, zerolog.Nop()),
	}
}

func seedRecords(f *fixture, userID string, n int) {
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < n; i++ {
		f.store.Seed(userID, recordstest.Record(
			userID, model.CategoryDialogue, model.RoleUser,
			fmt.Sprintf("%s-msg-%d", userID, i), base.Add(time.Duration(i)*time.Minute)))
	}
}

func TestSyncUserFeedsBufferChronologically(t *testing.T) {
	f := newFixture(t, Config{})
	seedRecords(f, "u1", 3)

	res := f.svc.SyncUser(context.Background(), "u1", false)
	assert.Equal(t, model.SyncSuccess, res.Status)
	assert.Equal(t, 3, res.SyncedCount)
	assert.Empty(t, res.Errors)

	m, err := f.reg.GetOrCreate("u1")
	require.NoError(t, err)
	dlg := m.Export().Buffers[model.CategoryDialogue]
	require.Len(t, dlg, 3)
	assert.Equal(t, "u1-msg-0", dlg[0].Content)
	assert.Equal(t, "u1-msg-2", dlg[2].Content)
	// records were mirrored into the long-term store
	assert.Len(t, f.long.Stored("u1"), 3)
}

func TestSyncUserSkipsWithinInterval(t *testing.T) {
	f := newFixture(t, Config{Interval: time.Minute})
	seedRecords(f, "u1", 1)

	first := f.svc.SyncUser(context.Background(), "u1", false)
	require.Equal(t, model.SyncSuccess, first.Status)
	readsAfterFirst := f.store.ListCalls

	second := f.svc.SyncUser(context.Background(), "u1", false)
	assert.Equal(t, model.SyncSkipped, second.Status)
	assert.Equal(t, 0, second.SyncedCount)
	assert.Equal(t, readsAfterFirst, f.store.ListCalls, "skipped pass must not read the store")
}

func TestSyncUserForceBypassesInterval(t *testing.T) {
	f := newFixture(t, Config{Interval: time.Hour})
	seedRecords(f, "u1", 2)

	require.Equal(t, model.SyncSuccess, f.svc.SyncUser(context.Background(), "u1", false).Status)
	res := f.svc.SyncUser(context.Background(), "u1", true)
	assert.Equal(t, model.SyncSuccess, res.Status)
}

func TestSyncUserReadFailureLeavesCursorUnset(t *testing.T) {
	f := newFixture(t, Config{Interval: time.Minute})
	f.store.FailReads = errors.New("db down")

	res := f.svc.SyncUser(context.Background(), "u1", false)
	assert.Equal(t, model.SyncError, res.Status)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "db down")

	_, ok := f.svc.Cursor("u1")
	assert.False(t, ok, "cursor must only advance after a successful read phase")

	// the next attempt is not gated by the failed one
	f.store.FailReads = nil
	seedRecords(f, "u1", 1)
	assert.Equal(t, model.SyncSuccess, f.svc.SyncUser(context.Background(), "u1", false).Status)
}

func TestSyncUserSwallowsPerRecordLongTermFailures(t *testing.T) {
	f := newFixture(t, Config{})
	seedRecords(f, "u1", 3)
	f.long.FailWrites = errors.New("index down")

	res := f.svc.SyncUser(context.Background(), "u1", false)
	assert.Equal(t, model.SyncSuccess, res.Status, "long-term failures must not fail the pass")
	assert.Equal(t, 3, res.SyncedCount, "short-term writes all succeeded")
	assert.Len(t, res.Errors, 3)

	m, err := f.reg.GetOrCreate("u1")
	require.NoError(t, err)
	assert.Len(t, m.Export().Buffers[model.CategoryDialogue], 3)
}

func TestSyncRecentUsesShortWindow(t *testing.T) {
	f := newFixture(t, Config{Interval: time.Minute})
	now := time.Now().UTC()
	f.store.Seed("u1",
		recordstest.Record("u1", model.CategoryDialogue, model.RoleUser, "old", now.Add(-6*time.Hour)),
		recordstest.Record("u1", model.CategoryDialogue, model.RoleUser, "new", now.Add(-10*time.Minute)),
	)

	res := f.svc.SyncRecent(context.Background(), "u1", 2)
	assert.Equal(t, model.SyncSuccess, res.Status)
	assert.Equal(t, 1, res.SyncedCount, "only records inside the window sync")

	assert.Equal(t, model.SyncSkipped, f.svc.SyncRecent(context.Background(), "u1", 2).Status)
}

func TestSyncMultipleIsolatesPerUserFailures(t *testing.T) {
	f := newFixture(t, Config{})
	seedRecords(f, "ok-user", 2)
	failing := &failingFor{Store: f.store, user: "bad-user", err: errors.New("read exploded")}
	f.svc.store = failing

	out := f.svc.SyncMultiple(context.Background(), []string{"ok-user", "bad-user"})
	require.Len(t, out, 2)
	assert.Equal(t, model.SyncSuccess, out["ok-user"].Status)
	assert.Equal(t, 2, out["ok-user"].SyncedCount)
	assert.Equal(t, model.SyncError, out["bad-user"].Status)
}

func TestSyncMultipleBoundsConcurrency(t *testing.T) {
	f := newFixture(t, Config{Concurrency: 2})
	gauge := &concurrencyGauge{Store: f.store}
	f.svc.store = gauge

	users := make([]string, 10)
	for i := range users {
		users[i] = fmt.Sprintf("u%d", i)
	}
	out := f.svc.SyncMultiple(context.Background(), users)
	assert.Len(t, out, 10)
	assert.LessOrEqual(t, gauge.max.Load(), int32(2))
}

func TestSyncMultipleReportsCancellation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.svc.SyncMultiple(ctx, []string{"u1", "u2"})
	require.Len(t, out, 2)
	for _, res := range out {
		assert.Equal(t, model.SyncError, res.Status)
	}
}

// failingFor fails reads for one user and delegates the rest.
type failingFor struct {
	records.Store
	user string
	err  error
}

func (f *failingFor) ListRecent(ctx context.Context, req records.ListRecentRequest) ([]*records.PersistedRecord, error) {
	if req.UserID == f.user {
		return nil, f.err
	}
	return f.Store.ListRecent(ctx, req)
}

// concurrencyGauge records the peak number of in-flight reads.
type concurrencyGauge struct {
	records.Store
	inflight atomic.Int32
	max      atomic.Int32
}

func (g *concurrencyGauge) ListRecent(ctx context.Context, req records.ListRecentRequest) ([]*records.PersistedRecord, error) {
	cur := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		prev := g.max.Load()
		if cur <= prev || g.max.CompareAndSwap(prev, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return g.Store.ListRecent(ctx, req)
}
