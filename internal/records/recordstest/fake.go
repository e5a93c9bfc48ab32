// Package recordstest provides an in-memory records.Store for unit tests.
package recordstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/companionlabs/companion-memory/internal/model"
	"github.com/companionlabs/companion-memory/internal/records"
)

// FakeStore is a thread-safe in-memory records.Store. Tests seed it with
// Seed/SetAttributes and can force read failures via FailReads.
type FakeStore struct {
	mu         sync.Mutex
	recs       map[string][]*records.PersistedRecord
	attrs      map[string]map[string]string
	FailReads  error
	ListCalls  int
	AttrsCalls int
}

// NewFakeStore returns an empty fake.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		recs:  map[string][]*records.PersistedRecord{},
		attrs: map[string]map[string]string{},
	}
}

// Seed appends records for a user.
func (f *FakeStore) Seed(userID string, recs ...*records.PersistedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[userID] = append(f.recs[userID], recs...)
}

// SetAttributes replaces a user's profile attributes.
func (f *FakeStore) SetAttributes(userID string, attrs map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attrs[userID] = attrs
}

func (f *FakeStore) ListRecent(ctx context.Context, req records.ListRecentRequest) ([]*records.PersistedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if f.FailReads != nil {
		return nil, f.FailReads
	}

	match := func(r *records.PersistedRecord) bool {
		if !req.Since.IsZero() && r.CreationTime.Before(req.Since) {
			return false
		}
		if len(req.Categories) == 0 {
			return true
		}
		for _, c := range req.Categories {
			if r.Category == c {
				return true
			}
		}
		return false
	}

	var out []*records.PersistedRecord
	for _, r := range f.recs[req.UserID] {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreationTime.After(out[j].CreationTime)
	})
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (f *FakeStore) UserAttributes(ctx context.Context, userID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AttrsCalls++
	if f.FailReads != nil {
		return nil, f.FailReads
	}
	out := make(map[string]string, len(f.attrs[userID]))
	for k, v := range f.attrs[userID] {
		out[k] = v
	}
	return out, nil
}

func (f *FakeStore) ActiveUserIDs(ctx context.Context, since time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailReads != nil {
		return nil, f.FailReads
	}
	seen := map[string]bool{}
	var ids []string
	for uid, recs := range f.recs {
		for _, r := range recs {
			if !r.CreationTime.Before(since) && !seen[uid] {
				seen[uid] = true
				ids = append(ids, uid)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *FakeStore) HealthPing(ctx context.Context) error {
	if f.FailReads != nil {
		return f.FailReads
	}
	return nil
}

var _ records.Store = (*FakeStore)(nil)

// Record is a convenience constructor for seeded records.
func Record(userID string, cat model.Category, role model.Role, content string, ts time.Time) *records.PersistedRecord {
	return &records.PersistedRecord{
		RecordID:     content,
		UserID:       userID,
		Category:     cat,
		Role:         role,
		Content:      content,
		CreationTime: ts,
	}
}
