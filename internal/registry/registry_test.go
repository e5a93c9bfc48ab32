package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companionlabs/companion-memory/internal/longterm/longtermtest"
	"github.com/companionlabs/companion-memory/internal/manager"
	"github.com/companionlabs/companion-memory/internal/model"
	"github.com/companionlabs/companion-memory/internal/records/recordstest"
)

type fetchNothing struct{}

func (fetchNothing) Fetch(ctx context.Context, userID string) (map[string]string, error) {
	return map[string]string{}, nil
}

func testFactory() Factory {
	store := recordstest.NewFakeStore()
	long := longtermtest.New()
	return func(userID string) (*manager.Manager, error) {
		return manager.New(manager.Params{
			UserID:        userID,
			Records:       store,
			LongTerm:      long,
			ProfileSource: fetchNothing{},
			Exec:          manager.SyncExecutor{},
			Logger:        zerolog.Nop(),
		})
	}
}

func TestGetOrCreateReusesManager(t *testing.T) {
	r := New(testFactory(), 0, zerolog.Nop())

	m1, err := r.GetOrCreate("u1")
	require.NoError(t, err)
	m2, err := r.GetOrCreate("u1")
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, 1, r.Len())
}

func TestGetOrCreateRejectsEmptyID(t *testing.T) {
	r := New(testFactory(), 0, zerolog.Nop())
	_, err := r.GetOrCreate("")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestConcurrentGetOrCreateBuildsOnce(t *testing.T) {
	r := New(testFactory(), 0, zerolog.Nop())

	var wg sync.WaitGroup
	out := make([]*manager.Manager, 8)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := r.GetOrCreate("u1")
			assert.NoError(t, err)
			out[i] = m
		}(i)
	}
	wg.Wait()

	for _, m := range out {
		assert.Same(t, out[0], m)
	}
	assert.Equal(t, 1, r.Len())
}

func TestEvictClosesManager(t *testing.T) {
	r := New(testFactory(), 0, zerolog.Nop())
	m, err := r.GetOrCreate("u1")
	require.NoError(t, err)

	assert.True(t, r.Evict("u1"))
	assert.False(t, r.Evict("u1"))
	assert.Equal(t, 0, r.Len())

	_, err = m.AddMessage(context.Background(), model.MemoryRecord{Category: model.CategoryDialogue, Content: "x"}, false)
	assert.ErrorIs(t, err, model.ErrManagerClosed)
}

func TestSweepIdleEvictsStaleManagers(t *testing.T) {
	r := New(testFactory(), time.Minute, zerolog.Nop())
	_, err := r.GetOrCreate("u1")
	require.NoError(t, err)
	_, err = r.GetOrCreate("u2")
	require.NoError(t, err)

	assert.Equal(t, 0, r.SweepIdle(time.Now().UTC()))
	assert.Equal(t, 2, r.Len())

	assert.Equal(t, 2, r.SweepIdle(time.Now().UTC().Add(2*time.Minute)))
	assert.Equal(t, 0, r.Len())
	_, ok := r.Peek("u1")
	assert.False(t, ok)
}

func TestStatsSnapshotsAllManagers(t *testing.T) {
	r := New(testFactory(), 0, zerolog.Nop())
	_, err := r.GetOrCreate("a")
	require.NoError(t, err)
	_, err = r.GetOrCreate("b")
	require.NoError(t, err)

	stats := r.Stats()
	assert.Len(t, stats, 2)
}
