package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/alem-progression/internal/domain/rating"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// RatingRepository implements rating.Repository.
type RatingRepository struct {
	mu      sync.RWMutex
	records map[string]rating.Record
	history map[string][]rating.HistoryEntry
}

// NewRatingRepository creates an empty repository.
func NewRatingRepository() *RatingRepository {
	return &RatingRepository{
		records: make(map[string]rating.Record),
		history: make(map[string][]rating.HistoryEntry),
	}
}

// Get returns the current rating.
func (r *RatingRepository) Get(_ context.Context, studentID string) (*rating.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[studentID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &rec, nil
}

// Update stores the rating and its history entry together.
func (r *RatingRepository) Update(_ context.Context, record *rating.Record, entry *rating.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[record.StudentID] = *record
	if entry != nil {
		r.history[entry.StudentID] = append(r.history[entry.StudentID], *entry)
	}
	return nil
}

// History returns the newest entries first.
func (r *RatingRepository) History(_ context.Context, studentID string, limit int) ([]*rating.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.history[studentID]
	out := make([]*rating.HistoryEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		out = append(out, &e)
	}
	return out[:clampLimit(len(out), limit)], nil
}
