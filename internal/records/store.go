// Package records defines the engine's read-only view of the persistent
// record store owned by the assistant backend.
package records

import (
	"context"
	"time"

	"github.com/companionlabs/companion-memory/internal/model"
)

// PersistedRecord is a durable activity or dialogue record as the backend
// stored it. The sync service converts these into model.MemoryRecord.
type PersistedRecord struct {
	RecordID     string                 `json:"recordId"`
	UserID       string                 `json:"userId"`
	Category     model.Category         `json:"category"`
	Role         model.Role             `json:"role"`
	Content      string                 `json:"content"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreationTime time.Time              `json:"creationTime"`
}

// ListRecentRequest captures the only read shape the engine needs:
// records for one user, optionally narrowed by category, at or after Since,
// newest first, capped at Limit.
type ListRecentRequest struct {
	UserID     string
	Categories []model.Category
	Since      time.Time
	Limit      int
}

// Store exposes the persistent record store to the engine. The engine never
// writes through this interface; persistence belongs to the backend.
type Store interface {
	// ListRecent returns matching records ordered by CreationTime descending.
	ListRecent(ctx context.Context, req ListRecentRequest) ([]*PersistedRecord, error)

	// UserAttributes returns the structured profile attributes for a user.
	// Feeds profile.StoreSource.
	UserAttributes(ctx context.Context, userID string) (map[string]string, error)

	// ActiveUserIDs lists users with at least one record since the cutoff,
	// used by the sync daemon to bound its fan-out.
	ActiveUserIDs(ctx context.Context, since time.Time) ([]string, error)

	// HealthPing reports store reachability.
	HealthPing(ctx context.Context) error
}

// ToMemoryRecord converts a persisted record into its in-process form.
// Metadata values are flattened to strings; nested structures are dropped.
func (r *PersistedRecord) ToMemoryRecord() model.MemoryRecord {
	var meta map[string]string
	if len(r.Metadata) > 0 {
		meta = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			if s, ok := v.(string); ok {
				meta[k] = s
			}
		}
	}
	return model.MemoryRecord{
		ID:        r.RecordID,
		UserID:    r.UserID,
		Category:  r.Category,
		Role:      r.Role,
		Content:   r.Content,
		Metadata:  meta,
		Timestamp: r.CreationTime,
	}
}
