package shared

import (
	"context"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

// ActivityType discriminates the signal passed to quests and achievements.
type ActivityType string

const (
	// ActivityLessonCompleted is raised for every graded lesson.
	ActivityLessonCompleted ActivityType = "lesson_completed"

	// ActivityStreakUpdated is raised after the streak tracker ran.
	ActivityStreakUpdated ActivityType = "streak_updated"

	// ActivityLevelUp is raised when a level-up happened during the event.
	ActivityLevelUp ActivityType = "level_up"
)

// ActivityData is the per-event payload the quest predicates and achievement
// rules look at. Accuracy is a percentage in [0, 100].
type ActivityData struct {
	LessonID    string
	Subject     string
	Score       int
	TotalPoints int
	Accuracy    float64
	TimeTaken   int // seconds
	XPEarned    int
	Streak      int
	OccurredAt  time.Time
}

// IsPerfect reports a 100% result.
func (d ActivityData) IsPerfect() bool {
	return d.TotalPoints > 0 && d.Score >= d.TotalPoints
}

// AccuracyPercent computes score/totalPoints as a percentage.
func AccuracyPercent(score, totalPoints int) float64 {
	if totalPoints <= 0 {
		return 0
	}
	return float64(score) * 100 / float64(totalPoints)
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT ID
// ══════════════════════════════════════════════════════════════════════════════

// NormalizeStudentID trims whitespace. Student IDs are opaque otherwise.
func NormalizeStudentID(id string) string {
	return strings.TrimSpace(id)
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT LOCK
// ══════════════════════════════════════════════════════════════════════════════

// StudentLocker serializes every mutation of one student's progression.
// Implementations must be reentrant through ctx: fn receives a context that
// marks the lock as held, and a nested WithStudentLock with that context runs
// fn directly instead of blocking.
type StudentLocker interface {
	WithStudentLock(ctx context.Context, studentID string, fn func(ctx context.Context) error) error
}
