package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/streak"
)

// StreakRepository implements streak.Repository.
type StreakRepository struct {
	mu      sync.RWMutex
	records map[string]*streak.Record
}

// NewStreakRepository creates an empty repository.
func NewStreakRepository() *StreakRepository {
	return &StreakRepository{records: make(map[string]*streak.Record)}
}

// Get returns the streak record.
func (r *StreakRepository) Get(_ context.Context, studentID string) (*streak.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[studentID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return rec.Clone(), nil
}

// Save upserts the record.
func (r *StreakRepository) Save(_ context.Context, record *streak.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[record.StudentID] = record.Clone()
	return nil
}
