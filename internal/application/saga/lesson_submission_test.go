package saga_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-progression/internal/application/command"
	"github.com/alem-hub/alem-progression/internal/application/saga"
	"github.com/alem-hub/alem-progression/internal/domain/achievement"
	"github.com/alem-hub/alem-progression/internal/domain/rating"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/alem-progression/pkg/keylock"
)

var noon = time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

type brokenRatings struct {
	*memory.RatingRepository
}

func (brokenRatings) Update(context.Context, *rating.Record, *rating.HistoryEntry) error {
	return errors.New("ratings table is locked")
}

type panickingJournal struct{}

func (panickingJournal) Record(context.Context, *achievement.Attempt) error {
	panic("journal exploded")
}

type gate map[string]bool

func (g gate) Enabled(feature, _ string) bool {
	on, ok := g[feature]
	return !ok || on
}

type harness struct {
	store   *memory.Store
	xp      *command.XPHandler
	flow    *saga.AchievementFlowSaga
	lessons *saga.LessonSubmissionSaga
}

type harnessOptions struct {
	ratings  rating.Repository
	journal  achievement.Journal
	features saga.FeatureGate

	// wrapAwarder and wrapHistory decorate what the achievement flow sees.
	wrapAwarder func(command.XPAwarder) command.XPAwarder
	wrapHistory func(achievement.HistoryReader) achievement.HistoryReader
}

// flakyAwarder fails the first `failures` awards.
type flakyAwarder struct {
	next     command.XPAwarder
	failures int
}

func (a *flakyAwarder) AwardXP(ctx context.Context, cmd command.AwardXPCommand) (*command.AwardXPResult, error) {
	if a.failures > 0 {
		a.failures--
		return nil, shared.WrapError("xp", "AwardXP", shared.ErrStoreUnavailable, "ledger down", errors.New("connection reset"))
	}
	return a.next.AwardXP(ctx, cmd)
}

// perfectCountDown fails only the perfect-lesson count.
type perfectCountDown struct {
	achievement.HistoryReader
}

func (perfectCountDown) CountPerfect(context.Context, string) (int, error) {
	return 0, errors.New("attempts index unavailable")
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	store := memory.NewStore(time.UTC)
	locker := keylock.New(0)
	clock := func() time.Time { return noon }

	leagues := command.NewLeagueHandler(store.Leagues, store.Ledger, memory.NewStandings(), locker, nil, nil, clock,
		command.LeagueConfig{Location: time.UTC}, nil)
	xpHandler := command.NewXPHandler(store.Ledger, locker, leagues, nil, nil, clock, command.DefaultXPConfig(), nil)
	streaks := command.NewStreakHandler(store.Streaks, xpHandler, locker, nil, nil, clock, command.StreakConfig{Location: time.UTC}, nil)

	var ratingRepo rating.Repository = store.Ratings
	if opts.ratings != nil {
		ratingRepo = opts.ratings
	}
	ratings := command.NewRatingHandler(ratingRepo, locker, clock, command.RatingConfig{}, nil)
	quests := command.NewQuestHandler(store.Quests, xpHandler, locker, nil, nil, clock, command.QuestConfig{Location: time.UTC}, nil)

	var awarder command.XPAwarder = xpHandler
	if opts.wrapAwarder != nil {
		awarder = opts.wrapAwarder(awarder)
	}
	var history achievement.HistoryReader = store.History
	if opts.wrapHistory != nil {
		history = opts.wrapHistory(history)
	}

	flowCfg := saga.DefaultAchievementFlowConfig()
	flowCfg.Location = time.UTC
	flow, err := saga.NewAchievementFlowSagaBuilder().
		WithRepository(store.Achievements).
		WithHistory(history).
		WithProgress(saga.EngineProgress{Streaks: streaks, XP: xpHandler}).
		WithAwarder(awarder).
		WithLocker(locker).
		WithClock(clock).
		WithConfig(flowCfg).
		Build()
	require.NoError(t, err)

	var journal achievement.Journal = store.History
	if opts.journal != nil {
		journal = opts.journal
	}

	cfg := saga.DefaultLessonSubmissionConfig()
	cfg.Location = time.UTC
	lessons, err := saga.NewLessonSubmissionSaga(saga.LessonSubmissionDeps{
		XP:           xpHandler,
		Streaks:      streaks,
		Ratings:      ratings,
		Quests:       quests,
		Achievements: flow,
		Journal:      journal,
		Features:     opts.features,
		Locker:       locker,
		Clock:        clock,
	}, cfg)
	require.NoError(t, err)

	return &harness{store: store, xp: xpHandler, flow: flow, lessons: lessons}
}

func perfectLesson(studentID, lessonID string) saga.ActivityEvent {
	return saga.ActivityEvent{
		StudentID:   studentID,
		LessonID:    lessonID,
		Subject:     "algebra",
		Score:       10,
		TotalPoints: 10,
		TimeTaken:   45,
		Timestamp:   noon,
	}
}

func achievementIDs(list []achievement.Achievement) []string {
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestLessonXP(t *testing.T) {
	tests := []struct {
		name         string
		score, total int
		want         int
	}{
		{"perfect gets bonus", 10, 10, 25},
		{"partial rounds", 7, 10, 14},
		{"zero still pays one", 0, 10, 1},
		{"no points pays nothing", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, saga.LessonXP(tt.score, tt.total, 20, 5))
		})
	}
}

func TestProcessActivity_FirstPerfectLesson(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	summary, err := h.lessons.ProcessActivity(context.Background(), perfectLesson("s1", "l1"))
	require.NoError(t, err)

	assert.Empty(t, summary.Failures)
	require.NotNil(t, summary.XP)
	assert.Equal(t, 25, summary.XP.XPAwarded)
	require.NotNil(t, summary.Streak)
	assert.Equal(t, 1, summary.Streak.CurrentStreak)
	require.NotNil(t, summary.Rating)
	assert.Greater(t, summary.Rating.NewRating, rating.DefaultRating)
	assert.Len(t, summary.CompletedQuests, 3)
	assert.ElementsMatch(t, []string{"first_lesson", "first_perfect"}, achievementIDs(summary.Achievements))
}

func TestProcessActivity_AchievementsAreAwardedOnce(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.lessons.ProcessActivity(ctx, perfectLesson("s1", "l1"))
	require.NoError(t, err)

	summary, err := h.lessons.ProcessActivity(ctx, perfectLesson("s1", "l2"))
	require.NoError(t, err)
	assert.NotContains(t, achievementIDs(summary.Achievements), "first_lesson")
	assert.NotContains(t, achievementIDs(summary.Achievements), "first_perfect")

	earned, err := h.flow.ListEarned(ctx, "s1")
	require.NoError(t, err)
	seen := map[string]int{}
	for _, e := range earned {
		seen[e.Achievement.ID]++
	}
	assert.Equal(t, 1, seen["first_lesson"])
	assert.Equal(t, 1, seen["first_perfect"])
}

func TestCheckAndAward_UnpaidAchievementIsRevoked(t *testing.T) {
	// The first payment fails; whichever award it belonged to must stay
	// unearned and be paid by the next check.
	h := newHarness(t, harnessOptions{
		wrapAwarder: func(next command.XPAwarder) command.XPAwarder {
			return &flakyAwarder{next: next, failures: 1}
		},
	})
	ctx := context.Background()
	require.NoError(t, h.store.History.Record(ctx, &achievement.Attempt{
		ID: "a1", StudentID: "s1", LessonID: "l1", Subject: "algebra",
		Score: 10, TotalPoints: 10, Accuracy: 100, TimeTaken: 45, CompletedAt: noon,
	}))
	input := saga.AchievementCheckInput{
		StudentID: "s1",
		Activity:  shared.ActivityLessonCompleted,
		Data:      shared.ActivityData{LessonID: "l1", Score: 10, TotalPoints: 10, Accuracy: 100, OccurredAt: noon},
	}

	first, err := h.flow.CheckAndAward(ctx, input)
	require.Error(t, err)
	require.NotNil(t, first)
	assert.NotEmpty(t, first.NewAchievements, "awards paid before the failure are still reported")

	earned, err := h.store.Achievements.ListEarnedIDs(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, earned, len(first.NewAchievements), "the unpaid award is not kept")

	retry, err := h.flow.CheckAndAward(ctx, input)
	require.NoError(t, err)
	assert.Len(t, retry.NewAchievements, 1)

	all := append(achievementIDs(first.NewAchievements), achievementIDs(retry.NewAchievements)...)
	assert.Contains(t, all, "first_lesson")
	assert.Contains(t, all, "first_perfect")

	progress, err := h.xp.GetProgress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(first.TotalXPBonus+retry.TotalXPBonus), progress.TotalXP)
	assert.Equal(t, int64(10+20), progress.TotalXP)
}

func TestProcessActivity_UnpaidAchievementIsReportedAndRetried(t *testing.T) {
	h := newHarness(t, harnessOptions{
		wrapAwarder: func(next command.XPAwarder) command.XPAwarder {
			return &flakyAwarder{next: next, failures: 1}
		},
	})
	ctx := context.Background()

	summary, err := h.lessons.ProcessActivity(ctx, perfectLesson("s1", "l1"))
	require.NoError(t, err)
	assert.True(t, summary.Failed(saga.SubsystemAchievements))
	assert.Len(t, summary.Achievements, 1, "the paid award is still in the summary")
	require.NotNil(t, summary.Streak)

	summary, err = h.lessons.ProcessActivity(ctx, perfectLesson("s1", "l2"))
	require.NoError(t, err)
	assert.False(t, summary.Failed(saga.SubsystemAchievements))
	assert.Len(t, summary.Achievements, 1)

	earned, err := h.store.Achievements.ListEarnedIDs(ctx, "s1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first_lesson", "first_perfect"}, earned)
}

func TestProcessActivity_RuleReadFailureSkipsOnlyThatRule(t *testing.T) {
	h := newHarness(t, harnessOptions{
		wrapHistory: func(next achievement.HistoryReader) achievement.HistoryReader {
			return perfectCountDown{next}
		},
	})

	summary, err := h.lessons.ProcessActivity(context.Background(), perfectLesson("s1", "l1"))
	require.NoError(t, err)

	assert.False(t, summary.Failed(saga.SubsystemAchievements))
	ids := achievementIDs(summary.Achievements)
	assert.Contains(t, ids, "first_lesson")
	assert.NotContains(t, ids, "first_perfect")
}

func TestProcessActivity_RatingFailureIsIsolated(t *testing.T) {
	store := memory.NewStore(time.UTC)
	h := newHarness(t, harnessOptions{ratings: brokenRatings{store.Ratings}})

	summary, err := h.lessons.ProcessActivity(context.Background(), perfectLesson("s1", "l1"))
	require.NoError(t, err)

	assert.True(t, summary.Failed(saga.SubsystemRating))
	assert.Nil(t, summary.Rating)
	assert.Len(t, summary.Failures, 1)

	require.NotNil(t, summary.XP)
	assert.Equal(t, 25, summary.XP.XPAwarded)
	require.NotNil(t, summary.Streak)
	assert.NotEmpty(t, summary.CompletedQuests)
}

func TestProcessActivity_PanickingJournalIsRecorded(t *testing.T) {
	h := newHarness(t, harnessOptions{journal: panickingJournal{}})

	summary, err := h.lessons.ProcessActivity(context.Background(), perfectLesson("s1", "l1"))
	require.NoError(t, err)

	require.True(t, summary.Failed(saga.SubsystemJournal))
	assert.Contains(t, summary.Failures[saga.SubsystemJournal], "journal exploded")
	assert.NotNil(t, summary.XP)
	assert.False(t, summary.Failed(saga.SubsystemAchievements))
}

func TestProcessActivity_FeatureGateSkipsQuests(t *testing.T) {
	h := newHarness(t, harnessOptions{features: gate{saga.FeatureQuests: false}})
	ctx := context.Background()

	summary, err := h.lessons.ProcessActivity(ctx, perfectLesson("s1", "l1"))
	require.NoError(t, err)

	assert.Empty(t, summary.Failures)
	assert.Empty(t, summary.CompletedQuests)
	assert.NotEmpty(t, summary.Achievements)

	// Lesson XP plus the two first-time achievements; no quest rewards.
	progress, err := h.xp.GetProgress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(25+10+20), progress.TotalXP)
}

func TestProcessActivity_RejectsInvalidEvent(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	_, err := h.lessons.ProcessActivity(context.Background(), saga.ActivityEvent{StudentID: "s1", LessonID: "l1", Score: 1})
	assert.True(t, shared.IsValidation(err))

	_, err = h.lessons.ProcessActivity(context.Background(), saga.ActivityEvent{StudentID: "s1", LessonID: "l1", Score: 11, TotalPoints: 10})
	assert.True(t, shared.IsValidation(err))
}

func TestNewLessonSubmissionSaga_RequiresEngines(t *testing.T) {
	_, err := saga.NewLessonSubmissionSaga(saga.LessonSubmissionDeps{}, saga.DefaultLessonSubmissionConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xp handler is required")
	assert.Contains(t, err.Error(), "student locker is required")
}
