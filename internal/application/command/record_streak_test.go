package command_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-progression/internal/application/command"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/streak"
	"github.com/alem-hub/alem-progression/pkg/keylock"
)

func TestRecordActivity_ThirdDayPaysMilestone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for day := 1; day <= 2; day++ {
		res, err := f.streaks.RecordActivity(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, res.MilestoneReached)
		f.clock.AddDays(1)
	}

	res, err := f.streaks.RecordActivity(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, streak.TransitionExtended, res.Transition)
	assert.Equal(t, 3, res.Record.CurrentStreak)
	assert.Equal(t, []int{3}, res.MilestoneReached)
	assert.Equal(t, 25, res.MilestoneXP)

	progress, err := f.xp.GetProgress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), progress.TotalXP)
	assert.Equal(t, 1, f.events.Count(shared.EventStreakMilestone))
}

func TestRecordActivity_UnpaidMilestoneKeepsDayOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	awarder := &flakyAwarder{next: f.xp, failures: 1}
	h := command.NewStreakHandler(f.store.Streaks, awarder, keylock.New(0), f.events, nil, f.clock.Now,
		command.StreakConfig{Location: time.UTC}, nil)

	for day := 1; day <= 2; day++ {
		_, err := h.RecordActivity(ctx, "s1")
		require.NoError(t, err)
		f.clock.AddDays(1)
	}

	_, err := h.RecordActivity(ctx, "s1")
	require.Error(t, err)
	record, err := h.GetStreak(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, record.CurrentStreak, "the day is not recorded without its milestone")
	assert.Zero(t, f.events.Count(shared.EventStreakMilestone))

	res, err := h.RecordActivity(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Record.CurrentStreak)
	assert.Equal(t, []int{3}, res.MilestoneReached)

	progress, err := f.xp.GetProgress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), progress.TotalXP)
	assert.Equal(t, 1, f.events.Count(shared.EventStreakMilestone))
}

func TestRecordActivity_SameDayChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.streaks.RecordActivity(ctx, "s1")
	require.NoError(t, err)

	res, err := f.streaks.RecordActivity(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, streak.TransitionUnchanged, res.Transition)
	assert.Equal(t, 1, res.Record.CurrentStreak)
}

func TestRecordActivity_GapBreaksStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.streaks.RecordActivity(ctx, "s1")
	require.NoError(t, err)
	f.clock.AddDays(1)
	_, err = f.streaks.RecordActivity(ctx, "s1")
	require.NoError(t, err)

	f.clock.AddDays(3)
	res, err := f.streaks.RecordActivity(ctx, "s1")
	require.NoError(t, err)

	assert.True(t, res.Broken)
	assert.Equal(t, 1, res.Record.CurrentStreak)
	assert.Equal(t, 2, res.Record.LongestStreak)
	assert.Equal(t, 1, f.events.Count(shared.EventStreakBroken))
}

func TestUseFreeze_BridgesMissedDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.streaks.UseFreeze(ctx, "s1")
	assert.True(t, shared.IsNoFreezeAvailable(err))

	_, err = f.streaks.GrantFreezes(ctx, "s1", 1)
	require.NoError(t, err)

	_, err = f.streaks.RecordActivity(ctx, "s1")
	require.NoError(t, err)
	f.clock.AddDays(1)
	_, err = f.streaks.RecordActivity(ctx, "s1")
	require.NoError(t, err)

	// Day three is missed; the freeze is spent on day four.
	f.clock.AddDays(2)
	record, err := f.streaks.UseFreeze(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, record.CurrentStreak)
	assert.Zero(t, record.FreezesAvailable)
	assert.Equal(t, 1, record.FreezesUsed)

	f.clock.AddDays(1)
	res, err := f.streaks.RecordActivity(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Record.CurrentStreak)
	assert.Equal(t, []int{3}, res.MilestoneReached)

	_, err = f.streaks.UseFreeze(ctx, "s1")
	assert.ErrorIs(t, err, shared.ErrNoFreezeAvailable)
}

func TestGrantFreezes_RejectsNonPositive(t *testing.T) {
	f := newFixture(t)

	_, err := f.streaks.GrantFreezes(context.Background(), "s1", 0)
	assert.ErrorIs(t, err, shared.ErrInvalidFreezeGrant)
}

func TestAtRisk_OnlyTheDayAfterActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.streaks.RecordActivity(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, f.streaks.AtRisk(res.Record))

	f.clock.AddDays(1)
	record, err := f.streaks.GetStreak(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, f.streaks.AtRisk(record))
}
