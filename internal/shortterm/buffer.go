// Package shortterm holds the capacity-bounded, per-category in-process
// buffers of a user's most recent memory records.
package shortterm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/companionlabs/companion-memory/internal/model"
)

// DefaultActivityCapacity and DefaultDialogueCapacity bound the buckets when
// the caller passes zero.
const (
	DefaultActivityCapacity = 30
	DefaultDialogueCapacity = 200
)

// Buffer is a type-segmented FIFO of memory records. Each category owns an
// independent bucket with a fixed capacity; on overflow the oldest records
// are evicted first. All methods are safe for concurrent use.
type Buffer struct {
	mu         sync.Mutex
	buckets    map[model.Category][]model.MemoryRecord
	capacities map[model.Category]int
}

// New creates a Buffer with the given per-category capacities.
// Non-positive capacities fall back to the defaults.
func New(activityCap, dialogueCap int) *Buffer {
	if activityCap <= 0 {
		activityCap = DefaultActivityCapacity
	}
	if dialogueCap <= 0 {
		dialogueCap = DefaultDialogueCapacity
	}
	return &Buffer{
		buckets: map[model.Category][]model.MemoryRecord{
			model.CategoryActivity: nil,
			model.CategoryDialogue: nil,
		},
		capacities: map[model.Category]int{
			model.CategoryActivity: activityCap,
			model.CategoryDialogue: dialogueCap,
		},
	}
}

// Add appends rec to the bucket matching its category, evicting the oldest
// entries when the bucket would exceed its capacity. A record whose ID is
// already present in the bucket is skipped, so a history load racing a sync
// pass cannot double-feed the same record. Records with an unknown category
// are dropped silently; the short-term path never fails.
func (b *Buffer) Add(rec model.MemoryRecord) {
	if !rec.Category.Valid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if rec.ID != "" {
		for _, have := range b.buckets[rec.Category] {
			if have.ID == rec.ID {
				return
			}
		}
	}

	bucket := append(b.buckets[rec.Category], rec)
	if max := b.capacities[rec.Category]; len(bucket) > max {
		// Clamp, never exceed. Eviction is oldest-first.
		bucket = bucket[len(bucket)-max:]
	}
	b.buckets[rec.Category] = bucket
}

// Recent returns the most recent limit records of category in chronological
// order, oldest first. It never errors and never blocks on I/O.
func (b *Buffer) Recent(category model.Category, limit int) []model.MemoryRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := b.buckets[category]
	if limit <= 0 || limit > len(bucket) {
		limit = len(bucket)
	}
	out := make([]model.MemoryRecord, limit)
	copy(out, bucket[len(bucket)-limit:])
	return out
}

// Clear empties the named buckets, or all buckets when none are given, and
// returns the number of removed records.
func (b *Buffer) Clear(categories ...model.Category) int {
	if len(categories) == 0 {
		categories = model.Categories()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for _, c := range categories {
		removed += len(b.buckets[c])
		b.buckets[c] = nil
	}
	return removed
}

// Stats returns per-category counts and configured capacities.
func (b *Buffer) Stats() map[model.Category]model.BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[model.Category]model.BufferStats, len(b.buckets))
	for c, bucket := range b.buckets {
		out[c] = model.BufferStats{Count: len(bucket), Capacity: b.capacities[c]}
	}
	return out
}

// Export copies every bucket for diagnostics.
func (b *Buffer) Export() map[model.Category][]model.MemoryRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[model.Category][]model.MemoryRecord, len(b.buckets))
	for c, bucket := range b.buckets {
		cp := make([]model.MemoryRecord, len(bucket))
		copy(cp, bucket)
		out[c] = cp
	}
	return out
}

// CombinedContext renders a deterministic text block: the activity section
// first, then the dialogue section, items within each section chronological.
func (b *Buffer) CombinedContext(activityLimit, dialogueLimit int) string {
	activity := b.Recent(model.CategoryActivity, activityLimit)
	dialogue := b.Recent(model.CategoryDialogue, dialogueLimit)

	var sb strings.Builder
	sb.WriteString("## Recent Activity\n")
	writeSection(&sb, activity)
	sb.WriteString("\n## Recent Dialogue\n")
	writeSection(&sb, dialogue)
	return strings.TrimRight(sb.String(), "\n")
}

func writeSection(sb *strings.Builder, recs []model.MemoryRecord) {
	if len(recs) == 0 {
		sb.WriteString("(none)\n")
		return
	}
	for _, r := range recs {
		fmt.Fprintf(sb, "- [%s] %s: %s\n",
			r.Timestamp.UTC().Format("2006-01-02 15:04"), r.Role, r.Content)
	}
}

// Search scans the buckets for records whose content contains query,
// case-insensitively. category narrows the scan when non-nil.
func (b *Buffer) Search(query string, category *model.Category, limit int) []model.SearchHit {
	needle := strings.ToLower(query)
	cats := model.Categories()
	if category != nil {
		cats = []model.Category{*category}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var hits []model.SearchHit
	for _, c := range cats {
		for _, r := range b.buckets[c] {
			if needle != "" && !strings.Contains(strings.ToLower(r.Content), needle) {
				continue
			}
			hits = append(hits, model.SearchHit{
				RecordID: r.ID,
				Category: r.Category,
				Content:  r.Content,
				Score:    1,
				Source:   model.SourceShortTerm,
			})
			if limit > 0 && len(hits) >= limit {
				return hits
			}
		}
	}
	return hits
}
