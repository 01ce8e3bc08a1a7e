// Package feed stores the activity-feed entries produced by progression hooks.
package feed

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// Entry - запись ленты активности.
type Entry struct {
	ID          string
	StudentID   string
	Kind        shared.EventType
	Title       string
	Description string
	Metadata    map[string]interface{}
	IsPublic    bool
	CreatedAt   time.Time
}

// FromEvent строит запись из события ActivityLoggedEvent.
func FromEvent(e shared.ActivityLoggedEvent) *Entry {
	return &Entry{
		ID:          uuid.NewString(),
		StudentID:   e.StudentID,
		Kind:        e.EventType(),
		Title:       e.Title,
		Description: e.Description,
		Metadata:    e.Metadata,
		IsPublic:    e.IsPublic,
		CreatedAt:   e.OccurredAt(),
	}
}

// Repository - хранилище ленты.
type Repository interface {
	// Append добавляет запись.
	Append(ctx context.Context, entry *Entry) error

	// ListByStudent возвращает записи студента, новые первыми.
	// publicOnly скрывает приватные записи (для чужих профилей).
	ListByStudent(ctx context.Context, studentID string, publicOnly bool, limit int) ([]*Entry, error)
}
