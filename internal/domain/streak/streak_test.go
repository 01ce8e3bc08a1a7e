package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loc = time.UTC

func day(n int, hour int) time.Time {
	return time.Date(2024, time.March, n, hour, 0, 0, 0, loc)
}

func TestRecordActivity_DayOneTwoSkipFour(t *testing.T) {
	r := NewRecord("s1")

	assert.Equal(t, TransitionStarted, r.RecordActivity(day(1, 10), loc))
	assert.Equal(t, 1, r.CurrentStreak)

	assert.Equal(t, TransitionExtended, r.RecordActivity(day(2, 9), loc))
	assert.Equal(t, 2, r.CurrentStreak)
	assert.Equal(t, 2, r.LongestStreak)

	assert.Equal(t, TransitionBroken, r.RecordActivity(day(4, 18), loc))
	assert.Equal(t, 1, r.CurrentStreak)
	assert.Equal(t, 2, r.LongestStreak)
}

func TestRecordActivity_SameDayIsIdempotent(t *testing.T) {
	r := NewRecord("s1")
	r.RecordActivity(day(1, 8), loc)
	r.RecordActivity(day(2, 8), loc)

	assert.Equal(t, TransitionUnchanged, r.RecordActivity(day(2, 23), loc))
	assert.Equal(t, 2, r.CurrentStreak)
}

func TestRecordActivity_MidnightBoundaryCountsAsNextDay(t *testing.T) {
	r := NewRecord("s1")
	r.RecordActivity(time.Date(2024, 3, 1, 23, 59, 0, 0, loc), loc)
	r.RecordActivity(time.Date(2024, 3, 2, 0, 1, 0, 0, loc), loc)

	assert.Equal(t, 2, r.CurrentStreak)
}

func TestRecordActivity_LongestNeverDecreases(t *testing.T) {
	r := NewRecord("s1")
	longest := 0
	days := []int{1, 2, 3, 5, 6, 10, 11, 12, 13, 20}
	for _, d := range days {
		r.RecordActivity(day(d, 12), loc)
		assert.GreaterOrEqual(t, r.LongestStreak, longest)
		assert.GreaterOrEqual(t, r.LongestStreak, r.CurrentStreak)
		longest = r.LongestStreak
	}
	assert.Equal(t, 4, r.LongestStreak)
}

func TestCrossedMilestones(t *testing.T) {
	assert.Empty(t, CrossedMilestones(1, 2))

	crossed := CrossedMilestones(2, 3)
	require.Len(t, crossed, 1)
	assert.Equal(t, 3, crossed[0].Days)
	assert.Equal(t, 25, crossed[0].XPReward)

	assert.Empty(t, CrossedMilestones(3, 3))
	assert.Len(t, CrossedMilestones(0, 14), 3)
}

func TestUseFreeze(t *testing.T) {
	r := NewRecord("s1")
	r.RecordActivity(day(1, 12), loc)
	r.RecordActivity(day(2, 12), loc)

	assert.False(t, r.UseFreeze(day(4, 8), loc))

	r.GrantFreezes(1)
	require.True(t, r.UseFreeze(day(3, 8), loc))
	assert.Equal(t, 0, r.FreezesAvailable)
	assert.Equal(t, 1, r.FreezesUsed)
	assert.Equal(t, 2, r.CurrentStreak)

	// Activity the next day continues the streak.
	r.RecordActivity(day(4, 12), loc)
	assert.Equal(t, 3, r.CurrentStreak)
}

func TestIsAtRisk(t *testing.T) {
	r := NewRecord("s1")
	assert.False(t, r.IsAtRisk(day(1, 12), loc))

	r.RecordActivity(day(1, 12), loc)
	assert.False(t, r.IsAtRisk(day(1, 20), loc))
	assert.True(t, r.IsAtRisk(day(2, 20), loc))
}
