// Package manager implements the per-user memory façade. A Manager owns
// one short-term buffer and one profile cache, holds a handle to the
// long-term store, and assembles conversation context with strict
// failure isolation: the short-term path never fails, and long-term or
// profile outages degrade the output instead of aborting it.
package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/companionlabs/companion-memory/internal/longterm"
	"github.com/companionlabs/companion-memory/internal/model"
	"github.com/companionlabs/companion-memory/internal/profile"
	"github.com/companionlabs/companion-memory/internal/records"
	"github.com/companionlabs/companion-memory/internal/shortterm"
)

const (
	// DefaultHistoryLookback bounds how far back the initial history load
	// reaches.
	DefaultHistoryLookback = 72 * time.Hour

	// DefaultHistoryLimit caps how many records the initial load pulls.
	DefaultHistoryLimit = 200

	// DefaultSearchLimit is used when a search request leaves Limit unset.
	DefaultSearchLimit = 5
)

// Params carries the collaborators and tuning knobs for one Manager.
// Records, LongTerm, ProfileSource and Exec are required; construction
// fails fast when one is missing because a manager without collaborators
// has no safe degraded mode.
type Params struct {
	UserID        string
	Records       records.Store
	LongTerm      longterm.Store
	ProfileSource profile.Source
	Exec          Executor
	Logger        zerolog.Logger

	ActivityCapacity int
	DialogueCapacity int
	ProfileTTL       time.Duration
	HistoryLookback  time.Duration
	HistoryLimit     int
}

// Manager is the per-user memory façade. All exported methods are safe
// for concurrent use; short-term mutations are serialized by the
// buffer's lock and long-term calls run off every lock so slow index
// I/O never stalls a concurrent short-term read.
type Manager struct {
	userID  string
	buffer  *shortterm.Buffer
	profile *profile.Cache
	long    longterm.Store
	store   records.Store
	log     zerolog.Logger

	lookback time.Duration
	limit    int

	mu         sync.Mutex
	state      model.ManagerState
	lastAccess time.Time
	closed     bool
}

// New constructs a Manager and schedules its history load on the given
// executor. The manager is usable immediately; reads during the load
// see whatever has arrived so far.
func New(p Params) (*Manager, error) {
	if p.UserID == "" {
		return nil, errors.New("manager: userID is required")
	}
	if p.Records == nil {
		return nil, errors.New("manager: records store is required")
	}
	if p.LongTerm == nil {
		return nil, errors.New("manager: long-term store is required")
	}
	if p.ProfileSource == nil {
		return nil, errors.New("manager: profile source is required")
	}
	if p.Exec == nil {
		return nil, errors.New("manager: executor is required")
	}
	lookback := p.HistoryLookback
	if lookback <= 0 {
		lookback = DefaultHistoryLookback
	}
	limit := p.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	m := &Manager{
		userID:     p.UserID,
		buffer:     shortterm.New(p.ActivityCapacity, p.DialogueCapacity),
		profile:    profile.NewCache(p.UserID, p.ProfileSource, p.ProfileTTL),
		long:       p.LongTerm,
		store:      p.Records,
		log:        p.Logger.With().Str("userId", p.UserID).Logger(),
		lookback:   lookback,
		limit:      limit,
		state:      model.StateLoading,
		lastAccess: time.Now().UTC(),
	}
	p.Exec.Go(m.loadHistory)
	return m, nil
}

// loadHistory populates the buffer from persisted records, then flips
// the manager to Ready. A read failure still flips the state; the
// manager simply starts empty and the next sync pass fills it.
func (m *Manager) loadHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recs, err := m.store.ListRecent(ctx, records.ListRecentRequest{
		UserID: m.userID,
		Since:  time.Now().UTC().Add(-m.lookback),
		Limit:  m.limit,
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("history load failed, starting with empty buffers")
	}
	// ListRecent returns newest first; insert oldest first so insertion
	// order matches chronological order.
	for i := len(recs) - 1; i >= 0; i-- {
		m.buffer.Add(recs[i].ToMemoryRecord())
	}

	m.mu.Lock()
	m.state = model.StateReady
	m.mu.Unlock()
	m.log.Debug().Int("loaded", len(recs)).Msg("manager ready")
}

// AddMessage writes rec to the short-term buffer and, when
// syncToLongTerm is set, mirrors it into the long-term store. The
// short-term write cannot fail and is never rolled back; a long-term
// failure is reported in the result instead of returned as an error.
func (m *Manager) AddMessage(ctx context.Context, rec model.MemoryRecord, syncToLongTerm bool) (model.CompositeResult, error) {
	if err := m.touch(); err != nil {
		return model.CompositeResult{}, err
	}
	if !rec.Category.Valid() {
		return model.CompositeResult{}, errors.Wrapf(model.ErrValidation, "unknown category %q", rec.Category)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Role == "" {
		rec.Role = model.RoleUser
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.UserID = m.userID

	m.buffer.Add(rec)
	res := model.CompositeResult{ShortTermOK: true}

	if !syncToLongTerm {
		return res, nil
	}
	if _, err := m.long.AddMessage(ctx, m.userID, rec); err != nil {
		m.log.Warn().Err(err).Str("recordId", rec.ID).Msg("long-term write failed")
		res.LongTermError = err.Error()
		return res, nil
	}
	res.LongTermOK = true
	return res, nil
}

// ContextRequest tunes one GetContext call.
type ContextRequest struct {
	ActivityLimit   int
	DialogueLimit   int
	IncludeLongTerm bool
	Query           string
}

// GetContext assembles the text block an assistant turn consumes:
// short-term sections first, then ranked long-term excerpts when a
// query is given, then the profile snapshot as stable-ordered key/value
// lines. Each layer failure renders as an inline diagnostic.
func (m *Manager) GetContext(ctx context.Context, req ContextRequest) (string, error) {
	if err := m.touch(); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(m.buffer.CombinedContext(req.ActivityLimit, req.DialogueLimit))

	if req.IncludeLongTerm && req.Query != "" {
		sb.WriteString("\n\n## Related Memories\n")
		hits, err := m.long.SearchRelevant(ctx, m.userID, req.Query, nil, DefaultSearchLimit)
		switch {
		case err != nil:
			m.log.Warn().Err(err).Msg("long-term search failed during context assembly")
			sb.WriteString("(long-term memory unavailable)\n")
		case len(hits) == 0:
			sb.WriteString("(none)\n")
		default:
			for _, h := range hits {
				sb.WriteString("- " + h.Content + "\n")
			}
		}
	}

	sb.WriteString("\n\n## User Profile\n")
	snap, err := m.profile.Get(ctx, false)
	switch {
	case err != nil:
		m.log.Warn().Err(err).Msg("profile fetch failed during context assembly")
		sb.WriteString("(profile unavailable)\n")
	case len(snap.Attributes) == 0:
		sb.WriteString("(unset)\n")
	default:
		keys := make([]string, 0, len(snap.Attributes))
		for k := range snap.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := snap.Attributes[k]
			if v == "" {
				v = "(unset)"
			}
			sb.WriteString(fmt.Sprintf("- %s: %s\n", k, v))
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// SearchRequest tunes one SearchMemories call.
type SearchRequest struct {
	Query            string
	Category         *model.Category
	Limit            int
	IncludeShortTerm bool
	IncludeLongTerm  bool
}

// SearchMemories queries both layers and merges the hits tagged by
// origin. A long-term outage populates LongTermError instead of failing
// the call.
func (m *Manager) SearchMemories(ctx context.Context, req SearchRequest) (model.SearchResults, error) {
	if err := m.touch(); err != nil {
		return model.SearchResults{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var out model.SearchResults
	if req.IncludeShortTerm {
		out.ShortTerm = m.buffer.Search(req.Query, req.Category, limit)
	}
	if req.IncludeLongTerm {
		hits, err := m.long.SearchRelevant(ctx, m.userID, req.Query, req.Category, limit)
		if err != nil {
			m.log.Warn().Err(err).Msg("long-term search failed")
			out.LongTermError = err.Error()
		} else {
			out.LongTerm = hits
		}
	}
	return out, nil
}

// ClearMemories clears each requested layer independently. A long-term
// failure neither prevents nor undoes the short-term clear.
func (m *Manager) ClearMemories(ctx context.Context, category *model.Category, clearShortTerm, clearLongTerm bool) (model.ClearResult, error) {
	if err := m.touch(); err != nil {
		return model.ClearResult{}, err
	}
	var out model.ClearResult
	if clearShortTerm {
		if category != nil {
			out.ShortTermCleared = m.buffer.Clear(*category)
		} else {
			out.ShortTermCleared = m.buffer.Clear()
		}
	}
	if clearLongTerm {
		n, err := m.long.ClearByType(ctx, m.userID, category)
		out.LongTermCleared = n
		if err != nil {
			m.log.Warn().Err(err).Msg("long-term clear failed")
			out.LongTermError = err.Error()
		}
	}
	return out, nil
}

// GetStats returns a read-only diagnostics snapshot.
func (m *Manager) GetStats() model.ManagerStats {
	m.mu.Lock()
	state := m.state
	last := m.lastAccess
	m.mu.Unlock()

	_, fresh := m.profile.Peek()
	return model.ManagerStats{
		UserID:       m.userID,
		State:        state,
		Buffers:      m.buffer.Stats(),
		ProfileFresh: fresh,
		LastAccess:   last,
	}
}

// Export dumps the manager's full in-process memory.
func (m *Manager) Export() model.ManagerExport {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	out := model.ManagerExport{
		UserID:  m.userID,
		State:   state,
		Buffers: m.buffer.Export(),
	}
	if snap, _ := m.profile.Peek(); snap != nil {
		out.Profile = snap
	}
	return out
}

// InvalidateProfile drops the cached profile snapshot so the next
// context assembly refetches it.
func (m *Manager) InvalidateProfile() { m.profile.Invalidate() }

// UserID returns the user this manager serves.
func (m *Manager) UserID() string { return m.userID }

// LastAccess returns when an exported method last touched this manager.
func (m *Manager) LastAccess() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAccess
}

// Close marks the manager closed. Subsequent operations return
// model.ErrManagerClosed. Called by the registry on eviction.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// touch refuses closed managers and stamps the access time.
func (m *Manager) touch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.ErrManagerClosed
	}
	m.lastAccess = time.Now().UTC()
	return nil
}
