package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-progression/internal/domain/quest"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

type fakeRoller struct {
	calls  int
	errs   []error
	rolled bool
}

func (f *fakeRoller) CheckAndStartNewSeasonIfNeeded(context.Context) (bool, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return false, err
	}
	return f.rolled, nil
}

func TestSeasonRolloverJob_RetriesTransientErrors(t *testing.T) {
	roller := &fakeRoller{
		errs:   []error{shared.WrapError("league", "FreezeSeason", shared.ErrStoreUnavailable, "down", errors.New("conn reset"))},
		rolled: true,
	}
	job := NewSeasonRolloverJob(roller, nil)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 2, roller.calls)
	assert.Equal(t, int64(1), job.Rollovers())
}

func TestSeasonRolloverJob_StopsOnPermanentError(t *testing.T) {
	roller := &fakeRoller{errs: []error{shared.ErrNoDivisions}}
	job := NewSeasonRolloverJob(roller, nil)

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	assert.Equal(t, 1, roller.calls)
	assert.Equal(t, int64(0), job.Rollovers())
}

type fakeGenerator struct {
	at time.Time
}

func (f *fakeGenerator) GenerateDailyQuests(_ context.Context, at time.Time) ([]*quest.DailyQuest, error) {
	f.at = at
	return []*quest.DailyQuest{{ID: "q1"}, {ID: "q2"}}, nil
}

func TestDailyQuestsJob_UsesClock(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 5, 0, 0, time.UTC)
	gen := &fakeGenerator{}
	job := NewDailyQuestsJob(gen, timeutil.FixedClock(now), nil)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now, gen.at)
	assert.Equal(t, "daily_quests", job.Name())
}
