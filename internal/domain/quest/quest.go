package quest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY QUEST
// ══════════════════════════════════════════════════════════════════════════════

// DailyQuest - экземпляр шаблона на конкретную дату.
type DailyQuest struct {
	ID           string
	TemplateKey  string
	Title        string
	Description  string
	Category     Category
	Requirements Requirements
	XPReward     int
	ActiveDate   time.Time
	CreatedAt    time.Time
}

// NewDailyQuest создаёт экземпляр шаблона на дату.
func NewDailyQuest(t Template, date time.Time, now time.Time) *DailyQuest {
	return &DailyQuest{
		ID:           uuid.NewString(),
		TemplateKey:  t.Key,
		Title:        t.Title,
		Description:  t.Description,
		Category:     t.Category,
		Requirements: t.Requirements,
		XPReward:     t.XPReward,
		ActiveDate:   date,
		CreatedAt:    now,
	}
}

// Increment возвращает, на сколько продвинуть квест этой активностью.
// Ноль означает, что активность не подходит.
func (q *DailyQuest) Increment(activity shared.ActivityType, data shared.ActivityData) int {
	req := q.Requirements
	lesson := activity == shared.ActivityLessonCompleted

	switch req.Type {
	case ReqCompleteLessons:
		if lesson {
			return 1
		}
	case ReqPerfectScore:
		if lesson && data.Accuracy >= 100 {
			return 1
		}
	case ReqHighAccuracy:
		if lesson && data.Accuracy >= req.MinAccuracy {
			return 1
		}
	case ReqFastCompletion:
		if lesson && req.MaxTime > 0 && data.TimeTaken <= req.MaxTime {
			return 1
		}
	case ReqStudyTime:
		// Время копится в секундах как есть.
		if lesson && data.TimeTaken > 0 {
			return data.TimeTaken
		}
	case ReqEarnXP:
		if data.XPEarned > 0 {
			return data.XPEarned
		}
	case ReqDailyPractice:
		return 1
	}
	return 0
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// Progress - прогресс студента по квесту.
type Progress struct {
	ID             string
	StudentID      string
	QuestID        string
	Progress       int
	TargetProgress int
	Completed      bool
	CompletedAt    *time.Time
	Metadata       map[string]interface{}
	UpdatedAt      time.Time
}

// NewProgress создаёт пустой прогресс с целью из квеста.
func NewProgress(studentID string, q *DailyQuest, now time.Time) *Progress {
	return &Progress{
		ID:             uuid.NewString(),
		StudentID:      studentID,
		QuestID:        q.ID,
		TargetProgress: q.Requirements.TargetOrDefault(),
		UpdatedAt:      now,
	}
}

// Clone возвращает копию.
func (p *Progress) Clone() *Progress {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Advance добавляет increment. Переход completed false -> true происходит
// один раз; после него прогресс больше не меняется. Возвращает true только
// в момент этого перехода.
func (p *Progress) Advance(increment int, now time.Time) bool {
	if p.Completed || increment <= 0 {
		return false
	}

	p.Progress += increment
	p.UpdatedAt = now
	if p.Progress < p.TargetProgress {
		return false
	}

	p.Progress = p.TargetProgress
	p.Completed = true
	p.CompletedAt = &now
	return true
}

// WithProgress - квест вместе с прогрессом студента.
type WithProgress struct {
	Quest    *DailyQuest
	Progress *Progress // nil, если студент ещё не начинал
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище квестов и прогресса.
type Repository interface {
	// ListByDate возвращает квесты на дату.
	ListByDate(ctx context.Context, date time.Time) ([]*DailyQuest, error)

	// CreateQuest создаёт квест; ErrAlreadyExists, если шаблон на эту дату уже есть.
	CreateQuest(ctx context.Context, q *DailyQuest) error

	// GetQuest возвращает квест или ErrNotFound.
	GetQuest(ctx context.Context, id string) (*DailyQuest, error)

	// GetProgress возвращает прогресс или ErrNotFound.
	GetProgress(ctx context.Context, studentID, questID string) (*Progress, error)

	// SaveProgress создаёт или обновляет прогресс.
	SaveProgress(ctx context.Context, p *Progress) error

	// ListProgress возвращает прогресс студента по указанным квестам.
	ListProgress(ctx context.Context, studentID string, questIDs []string) ([]*Progress, error)
}
