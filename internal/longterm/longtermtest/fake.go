// Package longtermtest provides an in-memory longterm.Store for tests.
package longtermtest

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/companionlabs/companion-memory/internal/longterm"
	"github.com/companionlabs/companion-memory/internal/model"
)

// FakeStore keeps indexed records in memory and matches queries by
// case-insensitive substring. Error injection fields let tests exercise
// failure isolation paths.
type FakeStore struct {
	mu      sync.Mutex
	records map[string][]model.MemoryRecord // userID -> records

	FailWrites   error
	FailSearches error
	FailClears   error

	AddCalls    int
	SearchCalls int
}

var _ longterm.Store = (*FakeStore)(nil)

func New() *FakeStore {
	return &FakeStore{records: make(map[string][]model.MemoryRecord)}
}

func (f *FakeStore) AddMessage(ctx context.Context, userID string, rec model.MemoryRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AddCalls++
	if f.FailWrites != nil {
		return "", f.FailWrites
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	f.records[userID] = append(f.records[userID], rec)
	return rec.ID, nil
}

func (f *FakeStore) SearchRelevant(ctx context.Context, userID, query string, category *model.Category, k int) ([]model.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchCalls++
	if f.FailSearches != nil {
		return nil, f.FailSearches
	}
	needle := strings.ToLower(query)
	var out []model.SearchHit
	for _, rec := range f.records[userID] {
		if category != nil && rec.Category != *category {
			continue
		}
		if !strings.Contains(strings.ToLower(rec.Content), needle) {
			continue
		}
		out = append(out, model.SearchHit{
			RecordID: rec.ID,
			Category: rec.Category,
			Content:  rec.Content,
			Score:    1,
			Source:   model.SourceLongTerm,
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (f *FakeStore) ClearByType(ctx context.Context, userID string, category *model.Category) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailClears != nil {
		return 0, f.FailClears
	}
	kept := f.records[userID][:0]
	removed := 0
	for _, rec := range f.records[userID] {
		if category == nil || rec.Category == *category {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	f.records[userID] = kept
	return removed, nil
}

// Stored returns a copy of the records indexed for userID.
func (f *FakeStore) Stored(userID string) []model.MemoryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.MemoryRecord, len(f.records[userID]))
	copy(out, f.records[userID])
	return out
}
