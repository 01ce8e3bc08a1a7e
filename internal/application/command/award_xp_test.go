package command_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-progression/internal/application/command"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/xp"
	"github.com/alem-hub/alem-progression/pkg/keylock"
)

func lesson(studentID string, amount int) command.AwardXPCommand {
	return command.AwardXPCommand{
		StudentID:   studentID,
		Amount:      amount,
		Type:        xp.TypeLessonCompletion,
		Description: "Lesson",
	}
}

func TestAwardXP_CrossingLevelTwoAddsBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.xp.AwardXP(ctx, lesson("s1", 150))
	require.NoError(t, err)

	assert.True(t, res.LeveledUp)
	assert.Equal(t, 1, res.PreviousLevel)
	assert.Equal(t, 2, res.CurrentLevel)
	assert.Equal(t, 100, res.LevelUpBonus)
	assert.Equal(t, int64(250), res.TotalXP)
	assert.Equal(t, int64(20), res.XPToNextLevel)
	assert.Equal(t, []int{2}, res.LevelsReached)

	txs, err := f.xp.ListTransactions(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	types := []xp.TransactionType{txs[0].Type, txs[1].Type}
	assert.ElementsMatch(t, []xp.TransactionType{xp.TypeLessonCompletion, xp.TypeLevelUpBonus}, types)
	assert.Equal(t, 1, f.events.Count(shared.EventLevelUp))
}

func TestAwardXP_NoLevelUpBelowThreshold(t *testing.T) {
	f := newFixture(t)

	res, err := f.xp.AwardXP(context.Background(), lesson("s1", 99))
	require.NoError(t, err)

	assert.False(t, res.LeveledUp)
	assert.Equal(t, 1, res.CurrentLevel)
	assert.Zero(t, res.LevelUpBonus)
	assert.Equal(t, int64(1), res.XPToNextLevel)
}

func TestAwardXP_LevelUpModes(t *testing.T) {
	tests := []struct {
		name    string
		opts    []option
		total   int64
		level   int
		bonus   int
		reached []int
	}{
		{
			name:    "legacy pays one bonus",
			total:   360,
			level:   3,
			bonus:   100,
			reached: []int{2},
		},
		{
			name:    "cascade follows every crossed threshold",
			opts:    []option{withCascade()},
			total:   710,
			level:   4,
			bonus:   100 + 150 + 200,
			reached: []int{2, 3, 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts...)
			ctx := context.Background()

			res, err := f.xp.AwardXP(ctx, lesson("s1", 260))
			require.NoError(t, err)

			assert.Equal(t, tt.total, res.TotalXP)
			assert.Equal(t, tt.level, res.CurrentLevel)
			assert.Equal(t, tt.bonus, res.LevelUpBonus)
			assert.Equal(t, tt.reached, res.LevelsReached)

			progress, err := f.xp.GetProgress(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, tt.total, progress.TotalXP)
			assert.Equal(t, tt.level, progress.Level)
		})
	}
}

func TestAwardXP_RejectsInvalidAwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.xp.AwardXP(ctx, lesson("s1", 0))
	assert.True(t, shared.IsValidation(err))

	_, err = f.xp.AwardXP(ctx, lesson("s1", -5))
	assert.ErrorIs(t, err, shared.ErrNonPositiveAward)

	_, err = f.xp.AwardXP(ctx, command.AwardXPCommand{StudentID: "s1", Amount: 5, Type: "bogus"})
	assert.ErrorIs(t, err, shared.ErrUnknownXPType)

	_, err = f.xp.AwardXP(ctx, lesson("  ", 5))
	assert.True(t, shared.IsValidation(err))

	txs, err := f.xp.ListTransactions(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestAwardXP_AdminAdjustmentCannotGoNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.xp.AwardXP(ctx, lesson("s1", 50))
	require.NoError(t, err)

	res, err := f.xp.AwardXP(ctx, command.AwardXPCommand{StudentID: "s1", Amount: -20, Type: xp.TypeAdminAdjustment})
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.TotalXP)

	_, err = f.xp.AwardXP(ctx, command.AwardXPCommand{StudentID: "s1", Amount: -31, Type: xp.TypeAdminAdjustment})
	assert.ErrorIs(t, err, shared.ErrNegativeValue)

	progress, err := f.xp.GetProgress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), progress.TotalXP)
}

func TestAwardXP_ConcurrentAwardsMatchLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.xp.AwardXP(ctx, lesson("s1", 10))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 200 base XP crosses level 2 at 100 and level 3 at 270 (after the first bonus).
	progress, err := f.xp.GetProgress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(200+100+150), progress.TotalXP)

	rec, err := f.xp.Reconcile(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, progress.TotalXP, rec.LedgerSum)

	txs, err := f.xp.ListTransactions(ctx, "s1", 100)
	require.NoError(t, err)
	var base int
	for _, tx := range txs {
		if tx.Type == xp.TypeLessonCompletion {
			base += tx.Amount
		}
	}
	assert.Equal(t, workers*10, base)
}

func TestReconcile_DetectsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.xp.AwardXP(ctx, lesson("s1", 40))
	require.NoError(t, err)

	f.store.Ledger.Corrupt("s1", 999)

	rec, err := f.xp.Reconcile(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
	assert.Equal(t, int64(40), rec.LedgerSum)
	assert.Equal(t, int64(999), rec.StoredTotalXP)
}

func TestGetProgress_UnknownStudentStartsAtLevelOne(t *testing.T) {
	f := newFixture(t)

	progress, err := f.xp.GetProgress(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Level)
	assert.Zero(t, progress.TotalXP)
	assert.Equal(t, int64(100), progress.XPToNextLevel)
}

func TestAwardXP_LeagueFailureDoesNotFailAward(t *testing.T) {
	f := newFixture(t)
	m := &countingMetrics{}
	handler := command.NewXPHandler(f.store.Ledger, keylock.New(0), brokenLeague{}, f.events, m, f.clock.Now,
		command.DefaultXPConfig(), nil)

	res, err := handler.AwardXP(context.Background(), lesson("s1", 30))
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.TotalXP)
	assert.Equal(t, []string{"league"}, m.failed)
}

func TestAwardXP_ForwardsEveryPositiveAwardToLeague(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.xp.AwardXP(ctx, lesson("s1", 150))
	require.NoError(t, err)

	standing, err := f.leagues.GetStanding(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), standing.Participation.WeeklyXP)
}
