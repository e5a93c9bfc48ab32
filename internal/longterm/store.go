// Package longterm defines the durable semantic memory store used for
// cross-session recall. Implementations index conversation records per
// user and answer relevance queries over them.
package longterm

import (
	"context"

	"github.com/companionlabs/companion-memory/internal/model"
)

// Store is the long-term semantic memory interface. All operations are
// namespaced by userID so one user's records never leak into another's
// results.
type Store interface {
	// AddMessage indexes a single record and returns the identifier the
	// store assigned to it.
	AddMessage(ctx context.Context, userID string, rec model.MemoryRecord) (string, error)

	// SearchRelevant returns up to k hits ranked by relevance to query.
	// A nil category searches across all categories.
	SearchRelevant(ctx context.Context, userID, query string, category *model.Category, k int) ([]model.SearchHit, error)

	// ClearByType removes indexed records for the user and returns how
	// many were deleted. A nil category clears everything.
	ClearByType(ctx context.Context, userID string, category *model.Category) (int, error)
}
