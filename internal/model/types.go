package model

import "time"

// Category segments short-term memory into independent buckets.
type Category string

const (
	CategoryActivity Category = "activity"
	CategoryDialogue Category = "dialogue"
)

// Categories lists every known category in stable order.
func Categories() []Category {
	return []Category{CategoryActivity, CategoryDialogue}
}

// Valid reports whether c names a known category.
func (c Category) Valid() bool {
	return c == CategoryActivity || c == CategoryDialogue
}

// Role tags who produced a record. Resolved once at construction; there is
// no runtime type inspection anywhere downstream.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MemoryRecord is a single unit of conversational memory. Immutable once
// created; the buffer copies slices on read so callers never alias internal
// state.
type MemoryRecord struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Category  Category          `json:"category"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ProfileSnapshot is a derived view of user attributes with its fetch stamp.
type ProfileSnapshot struct {
	Attributes map[string]string `json:"attributes"`
	FetchedAt  time.Time         `json:"fetchedAt"`
}

// Fresh reports whether the snapshot is still usable at now given ttl.
func (p ProfileSnapshot) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.FetchedAt) < ttl
}

// CompositeResult reports per-layer outcome of a write that touches both the
// short-term buffer and the long-term store. A long-term failure is data,
// not an error value; the short-term write is never rolled back.
type CompositeResult struct {
	ShortTermOK   bool   `json:"shortTermOk"`
	LongTermOK    bool   `json:"longTermOk"`
	LongTermError string `json:"longTermError,omitempty"`
}

// Hit sources, recorded on each SearchHit so merged result sets stay
// attributable to the layer that produced them.
const (
	SourceShortTerm = "short_term"
	SourceLongTerm  = "long_term"
)

// SearchHit is one scored match from either memory layer.
type SearchHit struct {
	RecordID string   `json:"recordId"`
	Category Category `json:"category"`
	Content  string   `json:"content"`
	Score    float64  `json:"score"`
	Source   string   `json:"source"`
}

// SearchResults merges both layers, tagged by origin. A long-term outage
// populates LongTermError rather than failing the call.
type SearchResults struct {
	ShortTerm     []SearchHit `json:"shortTerm"`
	LongTerm      []SearchHit `json:"longTerm"`
	LongTermError string      `json:"longTermError,omitempty"`
}

// ClearResult reports per-layer clear counts.
type ClearResult struct {
	ShortTermCleared int    `json:"shortTermCleared"`
	LongTermCleared  int    `json:"longTermCleared"`
	LongTermError    string `json:"longTermError,omitempty"`
}

// SyncStatus classifies the outcome of one sync attempt.
type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncSkipped SyncStatus = "skipped"
	SyncError   SyncStatus = "error"
)

// SyncResult is the per-user report of a sync pass. Errors carries
// per-record long-term failures; a read-phase failure yields Status ==
// SyncError with a single entry.
type SyncResult struct {
	UserID      string     `json:"userId"`
	Status      SyncStatus `json:"status"`
	SyncedCount int        `json:"syncedCount"`
	Errors      []string   `json:"errors,omitempty"`
	SyncedAt    time.Time  `json:"syncedAt"`
}

// BufferStats describes one short-term bucket.
type BufferStats struct {
	Count    int `json:"count"`
	Capacity int `json:"capacity"`
}

// ManagerState tracks the background history load of a manager.
type ManagerState string

const (
	StateLoading ManagerState = "loading"
	StateReady   ManagerState = "ready"
)

// ManagerStats is the read-only diagnostics snapshot of one manager.
type ManagerStats struct {
	UserID       string                   `json:"userId"`
	State        ManagerState             `json:"state"`
	Buffers      map[Category]BufferStats `json:"buffers"`
	ProfileFresh bool                     `json:"profileFresh"`
	LastAccess   time.Time                `json:"lastAccess"`
}

// ManagerExport is a full dump of a manager's in-process memory, used by
// diagnostics and tests.
type ManagerExport struct {
	UserID  string                      `json:"userId"`
	State   ManagerState                `json:"state"`
	Buffers map[Category][]MemoryRecord `json:"buffers"`
	Profile *ProfileSnapshot            `json:"profile,omitempty"`
}
