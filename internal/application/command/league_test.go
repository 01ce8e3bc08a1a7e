package command_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-progression/internal/application/command"
	"github.com/alem-hub/alem-progression/internal/domain/league"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/pkg/keylock"
)

func TestGetCurrentSeason_CoversTheWeek(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	season, err := f.leagues.GetCurrentSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), season.StartDate)
	assert.True(t, season.IsActive)
	assert.False(t, season.IsOver(start))

	again, err := f.leagues.GetCurrentSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, season.ID, again.ID)
}

func TestJoinSeason_NewStudentStartsInBronze(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.leagues.JoinSeason(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "bronze", p.DivisionID)
	assert.Zero(t, p.WeeklyXP)

	again, err := f.leagues.JoinSeason(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
}

func TestJoinSeason_PlacesByTrailingXP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Award outside league accounting so only the ledger knows about it.
	plain := command.NewXPHandler(f.store.Ledger, keylock.New(0), nil, nil, nil, f.clock.Now, command.DefaultXPConfig(), nil)
	_, err := plain.AwardXP(ctx, lesson("s1", 350))
	require.NoError(t, err)

	p, err := f.leagues.JoinSeason(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "gold", p.DivisionID)
	assert.Zero(t, p.WeeklyXP)
}

func TestAddWeeklyXP_PromotesAcrossBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.leagues.AddWeeklyXP(ctx, "s1", 60)
	require.NoError(t, err)
	assert.Equal(t, "bronze", p.DivisionID)
	assert.False(t, p.Promoted)

	p, err = f.leagues.AddWeeklyXP(ctx, "s1", 40)
	require.NoError(t, err)
	assert.Equal(t, "silver", p.DivisionID)
	assert.True(t, p.Promoted)
	assert.Equal(t, int64(100), p.WeeklyXP)
	assert.Equal(t, 1, f.events.Count(shared.EventLeaguePromoted))

	p, err = f.leagues.AddWeeklyXP(ctx, "s1", 10)
	require.NoError(t, err)
	assert.False(t, p.Promoted)

	_, err = f.leagues.AddWeeklyXP(ctx, "s1", 0)
	assert.True(t, shared.IsValidation(err))
}

func TestGetStanding_RanksWithinDivision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for id, amount := range map[string]int64{"s1": 20, "s2": 70, "s3": 45} {
		_, err := f.leagues.AddWeeklyXP(ctx, id, amount)
		require.NoError(t, err)
	}

	want := map[string]int{"s2": 1, "s3": 2, "s1": 3}
	for id, rank := range want {
		view, err := f.leagues.GetStanding(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "bronze", view.Division.ID)
		assert.Equal(t, rank, view.Rank, id)
	}

	_, err := f.leagues.GetStanding(ctx, "ghost")
	assert.ErrorIs(t, err, shared.ErrParticipationGone)
}

func TestGetStanding_WithoutStandingsFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handler := command.NewLeagueHandler(f.store.Leagues, f.store.Ledger, nil, keylock.New(0), nil, nil, f.clock.Now,
		command.LeagueConfig{Location: time.UTC}, nil)

	_, err := handler.AddWeeklyXP(ctx, "s1", 10)
	require.NoError(t, err)
	_, err = handler.AddWeeklyXP(ctx, "s2", 30)
	require.NoError(t, err)

	view, err := handler.GetStanding(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, view.Rank)
}

func TestCheckAndStartNewSeasonIfNeeded_RollsOverOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.leagues.AddWeeklyXP(ctx, "s1", 80)
	require.NoError(t, err)
	_, err = f.leagues.AddWeeklyXP(ctx, "s2", 30)
	require.NoError(t, err)
	closing, err := f.leagues.GetCurrentSeason(ctx)
	require.NoError(t, err)

	rolled, err := f.leagues.CheckAndStartNewSeasonIfNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, rolled, "season still running")

	f.clock.Set(time.Date(2026, time.March, 8, 0, 30, 0, 0, time.UTC))

	rolled, err = f.leagues.CheckAndStartNewSeasonIfNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, rolled)

	rolled, err = f.leagues.CheckAndStartNewSeasonIfNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, rolled)

	next, err := f.leagues.GetCurrentSeason(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, closing.ID, next.ID)
	assert.Equal(t, time.Date(2026, time.March, 8, 0, 0, 0, 0, time.UTC), next.StartDate)

	old, err := f.store.Leagues.GetSeason(ctx, closing.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.True(t, old.IsFrozen())

	p, err := f.store.Leagues.GetParticipation(ctx, "s1", closing.ID)
	require.NoError(t, err)
	assert.Zero(t, p.WeeklyXP)
	require.NotNil(t, p.FinalRank)
	assert.Equal(t, 1, *p.FinalRank)
	require.NotNil(t, p.FinalWeeklyXP)
	assert.Equal(t, int64(80), *p.FinalWeeklyXP)

	assert.Equal(t, 1, f.events.Count(shared.EventSeasonRolledOver))
}

func TestEndSeasonAndStartNew_RepeatKeepsFinalRanks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.leagues.AddWeeklyXP(ctx, "s1", 50)
	require.NoError(t, err)
	closing, err := f.leagues.GetCurrentSeason(ctx)
	require.NoError(t, err)

	// A partial run: ranks frozen but the season never deactivated.
	frozen := []league.Standing{{StudentID: "s1", DivisionID: "bronze", WeeklyXP: 50, Rank: 7}}
	require.NoError(t, f.store.Leagues.FreezeSeason(ctx, closing.ID, frozen, start))

	next, err := f.leagues.EndSeasonAndStartNew(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, closing.ID, next.ID)

	p, err := f.store.Leagues.GetParticipation(ctx, "s1", closing.ID)
	require.NoError(t, err)
	require.NotNil(t, p.FinalRank)
	assert.Equal(t, 7, *p.FinalRank, "frozen ranks are not recomputed")
	assert.Zero(t, p.WeeklyXP)
}

// rolloverMidWrite closes the season between a participation read and its
// write, once armed.
type rolloverMidWrite struct {
	league.Repository
	armed    atomic.Bool
	rollover func()
}

func (r *rolloverMidWrite) UpdateParticipation(ctx context.Context, p *league.Participation) error {
	if r.armed.CompareAndSwap(true, false) {
		r.rollover()
	}
	return r.Repository.UpdateParticipation(ctx, p)
}

func TestAddWeeklyXP_RolloverBetweenReadAndWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := &rolloverMidWrite{Repository: f.store.Leagues}
	h := command.NewLeagueHandler(repo, f.store.Ledger, f.standings, keylock.New(0), f.events, nil, f.clock.Now,
		command.LeagueConfig{Location: time.UTC, PlacementWindow: 7 * 24 * time.Hour}, nil)
	repo.rollover = func() {
		_, err := h.EndSeasonAndStartNew(ctx)
		assert.NoError(t, err)
	}

	p, err := h.AddWeeklyXP(ctx, "s1", 50)
	require.NoError(t, err)
	closing := p.SeasonID

	repo.armed.Store(true)
	p, err = h.AddWeeklyXP(ctx, "s1", 30)
	require.NoError(t, err)
	assert.NotEqual(t, closing, p.SeasonID, "late XP counts in the new season")
	assert.Equal(t, int64(30), p.WeeklyXP)

	old, err := f.store.Leagues.GetParticipation(ctx, "s1", closing)
	require.NoError(t, err)
	assert.Zero(t, old.WeeklyXP, "closed season must stay reset")
	require.NotNil(t, old.FinalWeeklyXP)
	assert.Equal(t, int64(50), *old.FinalWeeklyXP)
}

func TestAddWeeklyXP_FrozenSeasonRejectsWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.leagues.AddWeeklyXP(ctx, "s1", 50)
	require.NoError(t, err)
	require.NoError(t, f.store.Leagues.FreezeSeason(ctx, p.SeasonID, nil, start))

	p.WeeklyXP = 999
	err = f.store.Leagues.UpdateParticipation(ctx, p)
	assert.ErrorIs(t, err, shared.ErrSeasonClosed)

	stored, err := f.store.Leagues.GetParticipation(ctx, "s1", p.SeasonID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), stored.WeeklyXP)
}

func TestValidateCatalog_DefaultsArePartition(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.leagues.ValidateCatalog(context.Background()))
}
