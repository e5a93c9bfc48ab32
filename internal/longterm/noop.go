package longterm

import (
	"context"

	"github.com/google/uuid"

	"github.com/companionlabs/companion-memory/internal/model"
)

// NoopStore satisfies Store without persisting anything. It is used when
// the deployment runs without a search index; writes succeed so callers
// never treat a disabled index as a failure.
type NoopStore struct{}

var _ Store = (*NoopStore)(nil)

func (NoopStore) AddMessage(ctx context.Context, userID string, rec model.MemoryRecord) (string, error) {
	return uuid.NewString(), nil
}

func (NoopStore) SearchRelevant(ctx context.Context, userID, query string, category *model.Category, k int) ([]model.SearchHit, error) {
	return nil, nil
}

func (NoopStore) ClearByType(ctx context.Context, userID string, category *model.Category) (int, error) {
	return 0, nil
}
