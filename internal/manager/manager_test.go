package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companionlabs/companion-memory/internal/longterm/longtermtest"
	"github.com/companionlabs/companion-memory/internal/model"
	"github.com/companionlabs/companion-memory/internal/records/recordstest"
)

type staticProfile struct {
	attrs map[string]string
	err   error
}

func (s *staticProfile) Fetch(ctx context.Context, userID string) (map[string]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.attrs, nil
}

// manualExecutor collects tasks so tests control when the history load runs.
type manualExecutor struct{ tasks []func() }

func (m *manualExecutor) Go(fn func()) { m.tasks = append(m.tasks, fn) }

func (m *manualExecutor) runAll() {
	for _, fn := range m.tasks {
		fn()
	}
	m.tasks = nil
}

func newTestManager(t *testing.T, store *recordstest.FakeStore, long *longtermtest.FakeStore, src *staticProfile) *Manager {
	t.Helper()
	if store == nil {
		store = recordstest.NewFakeStore()
	}
	if long == nil {
		long = longtermtest.New()
	}
	if src == nil {
		src = &staticProfile{attrs: map[string]string{}}
	}
	m, err := New(Params{
		UserID:        "user-1",
		Records:       store,
		LongTerm:      long,
		ProfileSource: src,
		Exec:          SyncExecutor{},
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return m
}

func TestNewRequiresCollaborators(t *testing.T) {
	store := recordstest.NewFakeStore()
	long := longtermtest.New()
	src := &staticProfile{}

	cases := []Params{
		{Records: store, LongTerm: long, ProfileSource: src, Exec: SyncExecutor{}},
		{UserID: "u", LongTerm: long, ProfileSource: src, Exec: SyncExecutor{}},
		{UserID: "u", Records: store, ProfileSource: src, Exec: SyncExecutor{}},
		{UserID: "u", Records: store, LongTerm: long, Exec: SyncExecutor{}},
		{UserID: "u", Records: store, LongTerm: long, ProfileSource: src},
	}
	for i, p := range cases {
		if _, err := New(p); err == nil {
			t.Fatalf("case %d: expected construction error", i)
		}
	}
}

func TestHistoryLoadPopulatesBuffer(t *testing.T) {
	store := recordstest.NewFakeStore()
	now := time.Now().UTC()
	store.Seed("user-1",
		recordstest.Record("user-1", model.CategoryDialogue, model.RoleUser, "hello", now.Add(-2*time.Minute)),
		recordstest.Record("user-1", model.CategoryDialogue, model.RoleAssistant, "hi there", now.Add(-1*time.Minute)),
		recordstest.Record("user-1", model.CategoryActivity, model.RoleUser, "logged lunch", now.Add(-30*time.Second)),
	)

	m := newTestManager(t, store, nil, nil)

	export := m.Export()
	assert.Equal(t, model.StateReady, export.State)
	require.Len(t, export.Buffers[model.CategoryDialogue], 2)
	assert.Equal(t, "hello", export.Buffers[model.CategoryDialogue][0].Content)
	assert.Equal(t, "hi there", export.Buffers[model.CategoryDialogue][1].Content)
	require.Len(t, export.Buffers[model.CategoryActivity], 1)
}

func TestReadsDuringLoadingDoNotBlock(t *testing.T) {
	exec := &manualExecutor{}
	m, err := New(Params{
		UserID:        "user-1",
		Records:       recordstest.NewFakeStore(),
		LongTerm:      longtermtest.New(),
		ProfileSource: &staticProfile{},
		Exec:          exec,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)

	assert.Equal(t, model.StateLoading, m.GetStats().State)
	res, err := m.AddMessage(context.Background(), model.MemoryRecord{Category: model.CategoryDialogue, Content: "early"}, false)
	require.NoError(t, err)
	assert.True(t, res.ShortTermOK)

	exec.runAll()
	assert.Equal(t, model.StateReady, m.GetStats().State)
}

func TestAddMessageLongTermFailure(t *testing.T) {
	long := longtermtest.New()
	long.FailWrites = errors.New("index down")
	m := newTestManager(t, nil, long, nil)

	res, err := m.AddMessage(context.Background(), model.MemoryRecord{
		ID:       "rec-1",
		Category: model.CategoryDialogue,
		Content:  "keep me",
	}, true)
	require.NoError(t, err)

	assert.True(t, res.ShortTermOK)
	assert.False(t, res.LongTermOK)
	assert.Contains(t, res.LongTermError, "index down")

	export := m.Export()
	require.Len(t, export.Buffers[model.CategoryDialogue], 1)
	assert.Equal(t, "rec-1", export.Buffers[model.CategoryDialogue][0].ID)
}

func TestAddMessageSkipsLongTermWhenDisabled(t *testing.T) {
	long := longtermtest.New()
	m := newTestManager(t, nil, long, nil)

	res, err := m.AddMessage(context.Background(), model.MemoryRecord{Category: model.CategoryActivity, Content: "walk"}, false)
	require.NoError(t, err)
	assert.True(t, res.ShortTermOK)
	assert.False(t, res.LongTermOK)
	assert.Empty(t, res.LongTermError)
	assert.Equal(t, 0, long.AddCalls)
}

func TestAddMessageRejectsUnknownCategory(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	_, err := m.AddMessage(context.Background(), model.MemoryRecord{Category: "mood", Content: "x"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestGetContextAssembly(t *testing.T) {
	long := longtermtest.New()
	src := &staticProfile{attrs: map[string]string{"name": "Ada", "goal": "run 5k", "city": ""}}
	m := newTestManager(t, nil, long, src)

	ctx := context.Background()
	_, err := m.AddMessage(ctx, model.MemoryRecord{Category: model.CategoryActivity, Content: "morning jog"}, true)
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, model.MemoryRecord{Category: model.CategoryDialogue, Content: "talked about jogging pace"}, true)
	require.NoError(t, err)

	text, err := m.GetContext(ctx, ContextRequest{ActivityLimit: 10, DialogueLimit: 10, IncludeLongTerm: true, Query: "jog"})
	require.NoError(t, err)

	actIdx := strings.Index(text, "## Recent Activity")
	dlgIdx := strings.Index(text, "## Recent Dialogue")
	relIdx := strings.Index(text, "## Related Memories")
	profIdx := strings.Index(text, "## User Profile")
	require.True(t, actIdx >= 0 && dlgIdx > actIdx && relIdx > dlgIdx && profIdx > relIdx,
		"sections out of order:\n%s", text)

	assert.Contains(t, text, "morning jog")
	// profile lines are sorted by key and empty values render as unset
	assert.Less(t, strings.Index(text, "- city: (unset)"), strings.Index(text, "- goal: run 5k"))
	assert.Less(t, strings.Index(text, "- goal: run 5k"), strings.Index(text, "- name: Ada"))
}

func TestGetContextLayerFailuresAreInline(t *testing.T) {
	long := longtermtest.New()
	long.FailSearches = errors.New("search down")
	src := &staticProfile{err: errors.New("profile down")}
	m := newTestManager(t, nil, long, src)

	text, err := m.GetContext(context.Background(), ContextRequest{
		ActivityLimit: 5, DialogueLimit: 5, IncludeLongTerm: true, Query: "anything",
	})
	require.NoError(t, err)
	assert.Contains(t, text, "(long-term memory unavailable)")
	assert.Contains(t, text, "(profile unavailable)")
	assert.Contains(t, text, "## Recent Activity")
}

func TestSearchMemoriesMergesLayers(t *testing.T) {
	long := longtermtest.New()
	m := newTestManager(t, nil, long, nil)

	ctx := context.Background()
	_, err := m.AddMessage(ctx, model.MemoryRecord{Category: model.CategoryDialogue, Content: "protein intake chat"}, true)
	require.NoError(t, err)

	res, err := m.SearchMemories(ctx, SearchRequest{
		Query: "protein", IncludeShortTerm: true, IncludeLongTerm: true,
	})
	require.NoError(t, err)
	require.Len(t, res.ShortTerm, 1)
	assert.Equal(t, model.SourceShortTerm, res.ShortTerm[0].Source)
	require.Len(t, res.LongTerm, 1)
	assert.Equal(t, model.SourceLongTerm, res.LongTerm[0].Source)
	assert.Empty(t, res.LongTermError)
}

func TestSearchMemoriesLongTermOutage(t *testing.T) {
	long := longtermtest.New()
	long.FailSearches = errors.New("timeout")
	m := newTestManager(t, nil, long, nil)

	res, err := m.SearchMemories(context.Background(), SearchRequest{Query: "x", IncludeLongTerm: true})
	require.NoError(t, err)
	assert.Contains(t, res.LongTermError, "timeout")
	assert.Empty(t, res.LongTerm)
}

func TestClearMemoriesActivityOnly(t *testing.T) {
	long := longtermtest.New()
	m := newTestManager(t, nil, long, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := m.AddMessage(ctx, model.MemoryRecord{Category: model.CategoryActivity, Content: fmt.Sprintf("a%d", i)}, true)
		require.NoError(t, err)
	}
	_, err := m.AddMessage(ctx, model.MemoryRecord{Category: model.CategoryDialogue, Content: "keep"}, true)
	require.NoError(t, err)

	cat := model.CategoryActivity
	res, err := m.ClearMemories(ctx, &cat, true, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ShortTermCleared)
	assert.Equal(t, 0, res.LongTermCleared)

	export := m.Export()
	assert.Empty(t, export.Buffers[model.CategoryActivity])
	assert.Len(t, export.Buffers[model.CategoryDialogue], 1)
	// long-term store untouched
	assert.Len(t, long.Stored("user-1"), 4)
}

func TestClearMemoriesLongTermFailureKeepsShortTermClear(t *testing.T) {
	long := longtermtest.New()
	long.FailClears = errors.New("no index")
	m := newTestManager(t, nil, long, nil)

	ctx := context.Background()
	_, err := m.AddMessage(ctx, model.MemoryRecord{Category: model.CategoryDialogue, Content: "gone"}, false)
	require.NoError(t, err)

	res, err := m.ClearMemories(ctx, nil, true, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ShortTermCleared)
	assert.Contains(t, res.LongTermError, "no index")
	assert.Empty(t, m.Export().Buffers[model.CategoryDialogue])
}

func TestConcurrentAddMessageKeepsBothRecords(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"id-a", "id-b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.AddMessage(ctx, model.MemoryRecord{ID: id, Category: model.CategoryDialogue, Content: id}, false)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	seen := map[string]int{}
	for _, rec := range m.Export().Buffers[model.CategoryDialogue] {
		seen[rec.ID]++
	}
	assert.Equal(t, 1, seen["id-a"])
	assert.Equal(t, 1, seen["id-b"])
}

func TestClosedManagerRejectsOperations(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	m.Close()

	_, err := m.AddMessage(context.Background(), model.MemoryRecord{Category: model.CategoryDialogue, Content: "x"}, false)
	assert.ErrorIs(t, err, model.ErrManagerClosed)
	_, err = m.GetContext(context.Background(), ContextRequest{})
	assert.ErrorIs(t, err, model.ErrManagerClosed)
}

func TestGetStats(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	_, err := m.AddMessage(context.Background(), model.MemoryRecord{Category: model.CategoryActivity, Content: "x"}, false)
	require.NoError(t, err)

	stats := m.GetStats()
	assert.Equal(t, "user-1", stats.UserID)
	assert.Equal(t, model.StateReady, stats.State)
	assert.Equal(t, 1, stats.Buffers[model.CategoryActivity].Count)
	assert.False(t, stats.ProfileFresh)
	assert.False(t, stats.LastAccess.IsZero())
}
