package profile

import (
	"context"

	"github.com/companionlabs/companion-memory/internal/records"
)

// StoreSource reads profile attributes from the persistent record store.
type StoreSource struct {
	store records.Store
}

// NewStoreSource wraps a records.Store as a profile Source.
func NewStoreSource(store records.Store) *StoreSource {
	return &StoreSource{store: store}
}

func (s *StoreSource) Fetch(ctx context.Context, userID string) (map[string]string, error) {
	return s.store.UserAttributes(ctx, userID)
}
