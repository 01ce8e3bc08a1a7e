package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alem-hub/alem-progression/internal/domain/feed"
)

// FeedRepository implements feed.Repository.
type FeedRepository struct {
	mu      sync.RWMutex
	entries map[string][]feed.Entry
}

// NewFeedRepository creates an empty feed.
func NewFeedRepository() *FeedRepository {
	return &FeedRepository{entries: make(map[string][]feed.Entry)}
}

// Append adds an entry.
func (r *FeedRepository) Append(_ context.Context, entry *feed.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := *entry
	e.Metadata = cloneMetadata(entry.Metadata)
	r.entries[entry.StudentID] = append(r.entries[entry.StudentID], e)
	return nil
}

// ListByStudent returns entries newest first.
func (r *FeedRepository) ListByStudent(_ context.Context, studentID string, publicOnly bool, limit int) ([]*feed.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.entries[studentID]
	out := make([]*feed.Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if publicOnly && !all[i].IsPublic {
			continue
		}
		e := all[i]
		out = append(out, &e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out[:clampLimit(len(out), limit)], nil
}
