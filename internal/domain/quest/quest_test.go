package quest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

func TestSelectTemplates_DeterministicPerDate(t *testing.T) {
	date := time.Date(2024, time.June, 13, 0, 0, 0, 0, time.UTC) // Thursday

	first := SelectTemplates(Catalog, date)
	second := SelectTemplates(Catalog, date)

	require.Len(t, first, QuestsPerDay)
	assert.Equal(t, first, second)
}

func TestSelectTemplates_IndexingRule(t *testing.T) {
	date := time.Date(2024, time.June, 13, 0, 0, 0, 0, time.UTC) // Thursday, weekday 4

	selected := SelectTemplates(Catalog, date)
	knowledge := ByCategory(Catalog, CategoryKnowledge)
	consistency := ByCategory(Catalog, CategoryConsistency)
	rest := ByCategory(Catalog, CategoryAccuracy, CategorySpeed, CategoryChallenge)

	assert.Equal(t, knowledge[13%len(knowledge)].Key, selected[0].Key)
	assert.Equal(t, consistency[4%len(consistency)].Key, selected[1].Key)
	assert.Equal(t, rest[(4+13)%len(rest)].Key, selected[2].Key)
}

func TestSelectTemplates_OnePerSlotCategory(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		selected := SelectTemplates(Catalog, start.AddDate(0, 0, i))
		require.Len(t, selected, 3)
		assert.Equal(t, CategoryKnowledge, selected[0].Category)
		assert.Equal(t, CategoryConsistency, selected[1].Category)
		assert.NotContains(t, []Category{CategoryKnowledge, CategoryConsistency}, selected[2].Category)
	}
}

func TestCalendarDate_UsesLocation(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*3600)
	instant := time.Date(2024, 6, 13, 21, 0, 0, 0, time.UTC) // 02:00 on the 14th in Almaty

	assert.Equal(t, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), CalendarDate(instant, almaty))
}

func TestIncrement_Predicates(t *testing.T) {
	lesson := shared.ActivityLessonCompleted
	perfect := shared.ActivityData{Accuracy: 100, TimeTaken: 45}
	good := shared.ActivityData{Accuracy: 85, TimeTaken: 200}

	q := func(req Requirements) *DailyQuest { return &DailyQuest{Requirements: req} }

	assert.Equal(t, 1, q(Requirements{Type: ReqCompleteLessons}).Increment(lesson, good))
	assert.Equal(t, 0, q(Requirements{Type: ReqCompleteLessons}).Increment(shared.ActivityStreakUpdated, good))

	assert.Equal(t, 1, q(Requirements{Type: ReqPerfectScore}).Increment(lesson, perfect))
	assert.Equal(t, 0, q(Requirements{Type: ReqPerfectScore}).Increment(lesson, good))

	assert.Equal(t, 1, q(Requirements{Type: ReqHighAccuracy, MinAccuracy: 80}).Increment(lesson, good))
	assert.Equal(t, 0, q(Requirements{Type: ReqHighAccuracy, MinAccuracy: 90}).Increment(lesson, good))

	assert.Equal(t, 1, q(Requirements{Type: ReqFastCompletion, MaxTime: 60}).Increment(lesson, perfect))
	assert.Equal(t, 0, q(Requirements{Type: ReqFastCompletion, MaxTime: 60}).Increment(lesson, good))

	assert.Equal(t, 200, q(Requirements{Type: ReqStudyTime}).Increment(lesson, good))
	assert.Equal(t, 30, q(Requirements{Type: ReqEarnXP}).Increment(lesson, shared.ActivityData{XPEarned: 30}))
	assert.Equal(t, 1, q(Requirements{Type: ReqDailyPractice}).Increment(shared.ActivityStreakUpdated, good))
}

func TestProgress_AdvanceIsOneWay(t *testing.T) {
	now := time.Now()
	q := &DailyQuest{ID: "q1", Requirements: Requirements{Type: ReqCompleteLessons, Target: 2}}
	p := NewProgress("s1", q, now)

	assert.False(t, p.Advance(1, now))
	assert.True(t, p.Advance(1, now))
	assert.True(t, p.Completed)
	require.NotNil(t, p.CompletedAt)

	assert.False(t, p.Advance(5, now))
	assert.Equal(t, 2, p.Progress)
}

func TestNewProgress_DefaultTarget(t *testing.T) {
	q := &DailyQuest{ID: "q1", Requirements: Requirements{Type: ReqDailyPractice}}
	p := NewProgress("s1", q, time.Now())

	assert.Equal(t, 1, p.TargetProgress)
}
