package command_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-progression/internal/application/command"
	"github.com/alem-hub/alem-progression/internal/domain/quest"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/xp"
	"github.com/alem-hub/alem-progression/pkg/keylock"
)

var twoLessons = quest.Template{
	Key:          "knowledge_two",
	Title:        "Two Lessons",
	Description:  "Complete 2 lessons",
	Category:     quest.CategoryKnowledge,
	Requirements: quest.Requirements{Type: quest.ReqCompleteLessons, Target: 2},
	XPReward:     40,
}

func TestGenerateDailyQuests_SameDateSameRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.quests.GenerateDailyQuests(ctx, start)
	require.NoError(t, err)
	require.Len(t, first, quest.QuestsPerDay)

	second, err := f.quests.GenerateDailyQuests(ctx, start.Add(6 * time.Hour))
	require.NoError(t, err)
	require.Len(t, second, len(first))

	ids := map[string]bool{}
	for _, q := range first {
		ids[q.ID] = true
	}
	for _, q := range second {
		assert.True(t, ids[q.ID], "quest %s was regenerated", q.TemplateKey)
	}

	f.clock.AddDays(1)
	next, err := f.quests.GenerateDailyQuests(ctx, f.clock.Now())
	require.NoError(t, err)
	for _, q := range next {
		assert.False(t, ids[q.ID])
	}
}

func TestUpdateProgress_CompletesOnce(t *testing.T) {
	f := newFixture(t, withCatalog(twoLessons))
	ctx := context.Background()

	quests, err := f.quests.GenerateDailyQuests(ctx, start)
	require.NoError(t, err)
	require.Len(t, quests, 1)
	id := quests[0].ID

	upd, err := f.quests.UpdateProgress(ctx, "s1", id, 1, nil)
	require.NoError(t, err)
	assert.False(t, upd.JustCompleted)
	assert.Equal(t, 1, upd.Progress.Progress)

	upd, err = f.quests.UpdateProgress(ctx, "s1", id, 5, map[string]interface{}{"source": "test"})
	require.NoError(t, err)
	assert.True(t, upd.JustCompleted)
	assert.Equal(t, 40, upd.XPAwarded)
	assert.Equal(t, 2, upd.Progress.Progress)
	assert.True(t, upd.Progress.Completed)
	assert.NotNil(t, upd.Progress.CompletedAt)

	upd, err = f.quests.UpdateProgress(ctx, "s1", id, 1, nil)
	require.NoError(t, err)
	assert.False(t, upd.JustCompleted)
	assert.Zero(t, upd.XPAwarded)
	assert.Equal(t, 2, upd.Progress.Progress)

	txs, err := f.xp.ListTransactions(ctx, "s1", 10)
	require.NoError(t, err)
	paid := 0
	for _, tx := range txs {
		if tx.Type == xp.TypeDailyQuest {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, 1, f.events.Count(shared.EventQuestCompleted))
}

func TestUpdateProgress_Errors(t *testing.T) {
	f := newFixture(t, withCatalog(twoLessons))
	ctx := context.Background()

	quests, err := f.quests.GenerateDailyQuests(ctx, start)
	require.NoError(t, err)

	_, err = f.quests.UpdateProgress(ctx, "s1", quests[0].ID, 0, nil)
	assert.ErrorIs(t, err, shared.ErrInvalidIncrement)

	_, err = f.quests.UpdateProgress(ctx, "s1", "missing", 1, nil)
	assert.ErrorIs(t, err, shared.ErrQuestNotFound)
}

func TestCheckAndUpdateQuests_PerfectLessonCompletesTodaysSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 2026-03-04 is a Wednesday: daily lesson, show up and flawless.
	completed, err := f.quests.CheckAndUpdateQuests(ctx, "s1", shared.ActivityLessonCompleted, shared.ActivityData{
		LessonID:    "l1",
		Score:       10,
		TotalPoints: 10,
		Accuracy:    100,
		TimeTaken:   90,
		OccurredAt:  start,
	})
	require.NoError(t, err)

	keys := make([]string, 0, len(completed))
	for _, q := range completed {
		keys = append(keys, q.TemplateKey)
	}
	assert.ElementsMatch(t, []string{"knowledge_daily_lesson", "consistency_show_up", "accuracy_flawless"}, keys)

	progress, err := f.xp.GetProgress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(15+10+30), progress.TotalXP)

	today, err := f.quests.GetDailyQuests(ctx, "s1", start)
	require.NoError(t, err)
	require.Len(t, today, 3)
	for _, wp := range today {
		require.NotNil(t, wp.Progress)
		assert.True(t, wp.Progress.Completed)
	}

	again, err := f.quests.CheckAndUpdateQuests(ctx, "s1", shared.ActivityLessonCompleted, shared.ActivityData{
		Score: 10, TotalPoints: 10, Accuracy: 100, OccurredAt: start,
	})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestGetDailyQuests_UntouchedQuestHasNoProgress(t *testing.T) {
	f := newFixture(t, withCatalog(twoLessons))

	today, err := f.quests.GetDailyQuests(context.Background(), "s1", start)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Nil(t, today[0].Progress)
}

func TestUpdateProgress_UnpaidRewardLeavesQuestOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	awarder := &flakyAwarder{next: f.xp, failures: 1}
	h := command.NewQuestHandler(f.store.Quests, awarder, keylock.New(0), f.events, nil, f.clock.Now,
		command.QuestConfig{Location: time.UTC, Catalog: []quest.Template{twoLessons}}, nil)

	quests, err := h.GenerateDailyQuests(ctx, start)
	require.NoError(t, err)
	id := quests[0].ID

	_, err = h.UpdateProgress(ctx, "s1", id, 2, nil)
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))
	assert.Zero(t, f.events.Count(shared.EventQuestCompleted))

	_, err = f.store.Quests.GetProgress(ctx, "s1", id)
	assert.True(t, shared.IsNotFound(err), "completion must not be stored before the reward is paid")

	upd, err := h.UpdateProgress(ctx, "s1", id, 2, nil)
	require.NoError(t, err)
	assert.True(t, upd.JustCompleted)
	assert.Equal(t, 40, upd.XPAwarded)

	progress, err := f.xp.GetProgress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), progress.TotalXP)
	assert.Equal(t, 1, f.events.Count(shared.EventQuestCompleted))

	// Paid exactly once.
	upd, err = h.UpdateProgress(ctx, "s1", id, 1, nil)
	require.NoError(t, err)
	assert.False(t, upd.JustCompleted)
	assert.Equal(t, 2, awarder.calls)
}

func TestCheckAndUpdateQuests_FailedRewardPaysOnNextLesson(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	awarder := &flakyAwarder{next: f.xp, failures: 1}
	oneLesson := twoLessons
	oneLesson.Key = "knowledge_one"
	oneLesson.Requirements.Target = 1
	oneLesson.XPReward = 15
	h := command.NewQuestHandler(f.store.Quests, awarder, keylock.New(0), f.events, nil, f.clock.Now,
		command.QuestConfig{Location: time.UTC, Catalog: []quest.Template{oneLesson}}, nil)

	data := shared.ActivityData{Score: 10, TotalPoints: 10, Accuracy: 100, OccurredAt: start}

	completed, err := h.CheckAndUpdateQuests(ctx, "s1", shared.ActivityLessonCompleted, data)
	require.Error(t, err)
	assert.Empty(t, completed)

	completed, err = h.CheckAndUpdateQuests(ctx, "s1", shared.ActivityLessonCompleted, data)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	progress, err := f.xp.GetProgress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), progress.TotalXP)
}

func TestCheckAndUpdateQuests_BackdatedEventCountsToday(t *testing.T) {
	f := newFixture(t, withCatalog(twoLessons))
	ctx := context.Background()

	yesterday, err := f.quests.GenerateDailyQuests(ctx, start.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, yesterday, 1)

	data := shared.ActivityData{Score: 10, TotalPoints: 10, OccurredAt: start.AddDate(0, 0, -1)}
	_, err = f.quests.CheckAndUpdateQuests(ctx, "s1", shared.ActivityLessonCompleted, data)
	require.NoError(t, err)

	_, err = f.store.Quests.GetProgress(ctx, "s1", yesterday[0].ID)
	assert.True(t, shared.IsNotFound(err), "past quests stay closed")

	today, err := f.quests.GetDailyQuests(ctx, "s1", start)
	require.NoError(t, err)
	require.Len(t, today, 1)
	require.NotNil(t, today[0].Progress)
	assert.Equal(t, 1, today[0].Progress.Progress)
}

// gatedQuests blocks the first ListByDate until released.
type gatedQuests struct {
	quest.Repository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedQuests) ListByDate(ctx context.Context, date time.Time) ([]*quest.DailyQuest, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.Repository.ListByDate(ctx, date)
}

func TestGenerateDailyQuests_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture(t)
	repo := &gatedQuests{Repository: f.store.Quests, entered: make(chan struct{}), release: make(chan struct{})}
	h := command.NewQuestHandler(repo, f.xp, keylock.New(0), f.events, nil, f.clock.Now,
		command.QuestConfig{Location: time.UTC}, nil)

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := h.GenerateDailyQuests(first, start)
		firstDone <- err
	}()
	<-repo.entered

	type result struct {
		quests []*quest.DailyQuest
		err    error
	}
	secondDone := make(chan result, 1)
	go func() {
		qs, err := h.GenerateDailyQuests(context.Background(), start)
		secondDone <- result{qs, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	close(repo.release)

	if err := <-firstDone; err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	second := <-secondDone
	require.NoError(t, second.err)
	assert.Len(t, second.quests, quest.QuestsPerDay)
}
