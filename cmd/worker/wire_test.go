package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-progression/config"
	"github.com/alem-hub/alem-progression/internal/application/query"
	"github.com/alem-hub/alem-progression/internal/application/saga"
	"github.com/alem-hub/alem-progression/internal/infrastructure/health"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		App:         config.AppConfig{Name: "test", Location: time.UTC},
		Database:    config.DatabaseConfig{Disabled: true},
		Progression: config.ProgressionConfig{LevelUpMode: "legacy", BaseLessonXP: 20, PerfectBonusXP: 5, PlacementWindow: 7 * 24 * time.Hour},
		Scheduler:   config.SchedulerConfig{RolloverOnStart: true},
		Features:    config.LoadFeatureFlags(nil),
	}
}

func TestBuildEngine_LessonFlowsIntoProfile(t *testing.T) {
	cfg := testConfig(t)
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	log := logger.NewNop()

	st, err := openStores(context.Background(), cfg, log)
	require.NoError(t, err)
	defer st.close()

	eng, err := buildEngine(cfg, st, timeutil.FixedClock(now), log)
	require.NoError(t, err)
	defer eng.close()
	eng.startupChecks(context.Background(), cfg, log)

	summary, err := eng.lessons.ProcessActivity(context.Background(), saga.ActivityEvent{
		StudentID:   "alice",
		LessonID:    "go-101",
		Subject:     "go",
		Score:       10,
		TotalPoints: 10,
		TimeTaken:   120,
		Timestamp:   now,
	})
	require.NoError(t, err)
	assert.Empty(t, summary.Failures)
	require.NotNil(t, summary.XP)
	assert.Equal(t, 25, summary.XP.XPAwarded)

	names := make([]string, 0, len(summary.Achievements))
	for _, a := range summary.Achievements {
		names = append(names, a.Name)
	}
	assert.Contains(t, names, "first_lesson")
	assert.Contains(t, names, "first_perfect")

	eng.bus.Drain()

	profile, err := eng.profile.Handle(context.Background(), query.GetProgressionProfileQuery{StudentID: "alice", Viewer: "alice"})
	require.NoError(t, err)
	assert.Empty(t, profile.Degraded)
	assert.GreaterOrEqual(t, profile.TotalXP, int64(55))
	assert.Equal(t, 1, profile.CurrentStreak)
	require.NotNil(t, profile.League)
	assert.Equal(t, profile.TotalXP, profile.League.WeeklyXP)
	assert.Len(t, profile.Achievements, len(summary.Achievements))
	assert.NotEmpty(t, profile.Feed)
}

func TestBuildEngine_LeaguesDisabled(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.Features.DisableFeature(config.FeatureLeagues))
	log := logger.NewNop()

	st, err := openStores(context.Background(), cfg, log)
	require.NoError(t, err)
	defer st.close()

	eng, err := buildEngine(cfg, st, nil, log)
	require.NoError(t, err)
	defer eng.close()

	_, err = eng.lessons.ProcessActivity(context.Background(), saga.ActivityEvent{
		StudentID: "bob", LessonID: "l1", Score: 5, TotalPoints: 10,
	})
	require.NoError(t, err)

	profile, err := eng.profile.Handle(context.Background(), query.GetProgressionProfileQuery{StudentID: "bob"})
	require.NoError(t, err)
	assert.Nil(t, profile.League)
}

func TestStandingsBreaker_UsesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.BreakerFailures = 2
	cfg.Redis.BreakerCoolDown = time.Minute

	breaker := standingsBreaker(cfg, logger.NewNop())
	fail := func(context.Context) error { return assert.AnError }

	_ = breaker.Execute(context.Background(), fail)
	assert.Equal(t, "closed", breaker.State().String())
	_ = breaker.Execute(context.Background(), fail)
	assert.Equal(t, "open", breaker.State().String())

	_ = breaker.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.Equal(t, 2, breaker.Counts().TotalFailures)
}

func TestMemoryStores_RegisterNoChecks(t *testing.T) {
	st := memoryStores(testConfig(t))
	checker := health.NewChecker("test", time.Second)
	st.registerChecks(checker)

	status := checker.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Checks)
}
