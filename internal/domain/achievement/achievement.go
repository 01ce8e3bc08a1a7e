// Package achievement defines the badge catalog, the rule table that decides
// when a badge is earned, and the history those rules read.
package achievement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Achievement - запись каталога. Name - машинный ключ правила.
type Achievement struct {
	ID          string
	Name        string
	Title       string
	Description string
	XPReward    int
}

// StudentAchievement - факт получения, уникален по (студент, достижение).
type StudentAchievement struct {
	ID            string
	StudentID     string
	AchievementID string
	EarnedAt      time.Time
}

// NewStudentAchievement создаёт запись о получении.
func NewStudentAchievement(studentID, achievementID string, now time.Time) *StudentAchievement {
	return &StudentAchievement{
		ID:            uuid.NewString(),
		StudentID:     studentID,
		AchievementID: achievementID,
		EarnedAt:      now,
	}
}

// DefaultCatalog - каталог, который засевается миграцией.
func DefaultCatalog() []Achievement {
	return []Achievement{
		{ID: "first_lesson", Name: "first_lesson", Title: "First Steps", Description: "Complete your first lesson", XPReward: 10},
		{ID: "lessons_10", Name: "lessons_10", Title: "Getting Started", Description: "Complete 10 lessons", XPReward: 50},
		{ID: "lessons_50", Name: "lessons_50", Title: "Committed", Description: "Complete 50 lessons", XPReward: 150},
		{ID: "lessons_100", Name: "lessons_100", Title: "Centurion", Description: "Complete 100 lessons", XPReward: 300},
		{ID: "streak_3", Name: "streak_3", Title: "On a Roll", Description: "Reach a 3-day streak", XPReward: 25},
		{ID: "streak_7", Name: "streak_7", Title: "Week Warrior", Description: "Reach a 7-day streak", XPReward: 50},
		{ID: "streak_30", Name: "streak_30", Title: "Unstoppable", Description: "Reach a 30-day streak", XPReward: 200},
		{ID: "streak_100", Name: "streak_100", Title: "Legend", Description: "Reach a 100-day streak", XPReward: 500},
		{ID: "accuracy_master", Name: "accuracy_master", Title: "Accuracy Master", Description: "Average 90% accuracy over at least 20 lessons", XPReward: 150},
		{ID: "first_perfect", Name: "first_perfect", Title: "Bullseye", Description: "Get your first perfect score", XPReward: 20},
		{ID: "perfectionist", Name: "perfectionist", Title: "Perfectionist", Description: "Get 10 perfect scores", XPReward: 100},
		{ID: "speed_demon", Name: "speed_demon", Title: "Speed Demon", Description: "Finish a lesson in 30 seconds or less", XPReward: 50},
		{ID: "subject_specialist", Name: "subject_specialist", Title: "Specialist", Description: "Complete 10 different lessons in one subject", XPReward: 100},
		{ID: "night_owl", Name: "night_owl", Title: "Night Owl", Description: "Do 70% of your lessons between 22:00 and 04:00", XPReward: 75},
		{ID: "early_bird", Name: "early_bird", Title: "Early Bird", Description: "Do 70% of your lessons between 05:00 and 09:00", XPReward: 75},
		{ID: "weekend_warrior", Name: "weekend_warrior", Title: "Weekend Warrior", Description: "Complete 10 lessons on weekends", XPReward: 75},
		{ID: "dedicated_learner", Name: "dedicated_learner", Title: "Dedicated Learner", Description: "Study 14 days in a row", XPReward: 150},
		{ID: "comeback_kid", Name: "comeback_kid", Title: "Comeback Kid", Description: "Return after a week away", XPReward: 50},
		{ID: "rising_star", Name: "rising_star", Title: "Rising Star", Description: "Improve your accuracy by 15 points", XPReward: 100},
		{ID: "level_5", Name: "level_5", Title: "Apprentice", Description: "Reach level 5", XPReward: 50},
		{ID: "level_10", Name: "level_10", Title: "Adept", Description: "Reach level 10", XPReward: 150},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// Attempt - запись журнала уроков, по которому считаются правила.
type Attempt struct {
	ID          string
	StudentID   string
	LessonID    string
	Subject     string
	Score       int
	TotalPoints int
	Accuracy    float64 // 0..100
	TimeTaken   int     // секунды
	CompletedAt time.Time
}

// Journal - запись попыток.
type Journal interface {
	Record(ctx context.Context, attempt *Attempt) error
}

// HistoryReader - агрегаты по истории студента. Все методы только читают.
// Часы и дни недели считаются в часовом поясе реализации.
type HistoryReader interface {
	// CountLessons - число завершённых уроков.
	CountLessons(ctx context.Context, studentID string) (int, error)

	// CountPerfect - число уроков со 100% результатом.
	CountPerfect(ctx context.Context, studentID string) (int, error)

	// AccuracyStats - средняя точность и размер выборки.
	AccuracyStats(ctx context.Context, studentID string) (avg float64, samples int, err error)

	// FastestCompletion - лучшее время; ok=false, если уроков нет.
	FastestCompletion(ctx context.Context, studentID string) (seconds int, ok bool, err error)

	// MaxUniqueLessonsPerSubject - наибольшее число разных уроков в одном предмете.
	MaxUniqueLessonsPerSubject(ctx context.Context, studentID string) (int, error)

	// HourShare - доля уроков, начатых в часы [fromHour, toHour) (через полночь,
	// если fromHour > toHour), и размер выборки.
	HourShare(ctx context.Context, studentID string, fromHour, toHour int) (share float64, samples int, err error)

	// WeekendSessions - число уроков в субботу и воскресенье.
	WeekendSessions(ctx context.Context, studentID string) (int, error)

	// ActivityDays - различные календарные дни с уроками по возрастанию.
	ActivityDays(ctx context.Context, studentID string) ([]time.Time, error)

	// AccuracySeries - точность уроков в хронологическом порядке.
	AccuracySeries(ctx context.Context, studentID string) ([]float64, error)
}

// ProgressReader - срезы состояния из других подсистем.
type ProgressReader interface {
	CurrentStreak(ctx context.Context, studentID string) (int, error)
	Level(ctx context.Context, studentID string) (int, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository - каталог и выданные достижения.
type Repository interface {
	// ListCatalog возвращает весь каталог.
	ListCatalog(ctx context.Context) ([]Achievement, error)

	// ListEarnedIDs возвращает ID уже полученных достижений.
	ListEarnedIDs(ctx context.Context, studentID string) ([]string, error)

	// Award записывает получение; ErrAlreadyExists, если уже есть.
	Award(ctx context.Context, award *StudentAchievement) error

	// Revoke удаляет выдачу, чья награда не была выплачена.
	Revoke(ctx context.Context, awardID string) error

	// ListEarned возвращает полученные достижения с датами.
	ListEarned(ctx context.Context, studentID string) ([]*StudentAchievement, error)
}
