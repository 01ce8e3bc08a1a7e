package achievement

import (
	"context"
	"sort"
	"time"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RULE TABLE
// Правило - чистая функция чтения: по истории студента решает, заслужено ли
// достижение. Правила ничего не пишут.
// ══════════════════════════════════════════════════════════════════════════════

// Input - всё, что доступно правилу.
type Input struct {
	StudentID string
	Activity  shared.ActivityType
	Data      shared.ActivityData
	History   HistoryReader
	Progress  ProgressReader
	Now       time.Time
	Location  *time.Location
}

// Predicate проверяет одно достижение.
type Predicate func(ctx context.Context, in Input) (bool, error)

// Thresholds правил.
const (
	AccuracyMinSample    = 20
	AccuracyMasterLevel  = 90.0
	TimeOfDayShare       = 0.70
	TimeOfDayMinSample   = 10
	ComebackGapDays      = 7
	ComebackRecentDays   = 1
	ImprovementPoints    = 15.0
	ImprovementMinSample = 10
)

// Rules сопоставляет имя достижения и правило.
var Rules = map[string]Predicate{
	"first_lesson":       lessonCount(1),
	"lessons_10":         lessonCount(10),
	"lessons_50":         lessonCount(50),
	"lessons_100":        lessonCount(100),
	"streak_3":           streakAtLeast(3),
	"streak_7":           streakAtLeast(7),
	"streak_30":          streakAtLeast(30),
	"streak_100":         streakAtLeast(100),
	"accuracy_master":    accuracyAtLeast(AccuracyMasterLevel, AccuracyMinSample),
	"first_perfect":      perfectCount(1),
	"perfectionist":      perfectCount(10),
	"speed_demon":        fastestWithin(30),
	"subject_specialist": subjectDepth(10),
	"night_owl":          timeOfDay(22, 4),
	"early_bird":         timeOfDay(5, 9),
	"weekend_warrior":    weekendSessions(10),
	"dedicated_learner":  consecutiveRun(14),
	"comeback_kid":       comeback(ComebackGapDays, ComebackRecentDays),
	"rising_star":        improvement(ImprovementPoints, ImprovementMinSample),
	"level_5":            levelAtLeast(5),
	"level_10":           levelAtLeast(10),
}

func lessonCount(n int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		count, err := in.History.CountLessons(ctx, in.StudentID)
		return count >= n, err
	}
}

func perfectCount(n int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		count, err := in.History.CountPerfect(ctx, in.StudentID)
		return count >= n, err
	}
}

func streakAtLeast(days int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		if in.Data.Streak >= days {
			return true, nil
		}
		current, err := in.Progress.CurrentStreak(ctx, in.StudentID)
		return current >= days, err
	}
}

func levelAtLeast(level int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		current, err := in.Progress.Level(ctx, in.StudentID)
		return current >= level, err
	}
}

func accuracyAtLeast(avg float64, minSample int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		got, samples, err := in.History.AccuracyStats(ctx, in.StudentID)
		if err != nil {
			return false, err
		}
		return samples >= minSample && got >= avg, nil
	}
}

func fastestWithin(seconds int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		fastest, ok, err := in.History.FastestCompletion(ctx, in.StudentID)
		if err != nil || !ok {
			return false, err
		}
		return fastest <= seconds, nil
	}
}

func subjectDepth(n int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		count, err := in.History.MaxUniqueLessonsPerSubject(ctx, in.StudentID)
		return count >= n, err
	}
}

func timeOfDay(fromHour, toHour int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		share, samples, err := in.History.HourShare(ctx, in.StudentID, fromHour, toHour)
		if err != nil {
			return false, err
		}
		return samples >= TimeOfDayMinSample && share >= TimeOfDayShare, nil
	}
}

func weekendSessions(n int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		count, err := in.History.WeekendSessions(ctx, in.StudentID)
		return count >= n, err
	}
}

func consecutiveRun(days int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		activity, err := in.History.ActivityDays(ctx, in.StudentID)
		if err != nil {
			return false, err
		}
		return LongestConsecutiveRun(activity) >= days, nil
	}
}

func comeback(gapDays, recentDays int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		activity, err := in.History.ActivityDays(ctx, in.StudentID)
		if err != nil {
			return false, err
		}
		return IsComeback(activity, in.Now, in.Location, gapDays, recentDays), nil
	}
}

func improvement(points float64, minSample int) Predicate {
	return func(ctx context.Context, in Input) (bool, error) {
		series, err := in.History.AccuracySeries(ctx, in.StudentID)
		if err != nil {
			return false, err
		}
		gain, ok := AccuracyGain(series, minSample)
		return ok && gain >= points, nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PURE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func dayIndex(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// LongestConsecutiveRun - самая длинная цепочка подряд идущих дней.
// Дни могут идти в любом порядке и повторяться.
func LongestConsecutiveRun(days []time.Time) int {
	if len(days) == 0 {
		return 0
	}
	idx := make([]int64, 0, len(days))
	seen := make(map[int64]bool, len(days))
	for _, d := range days {
		i := dayIndex(d)
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })

	longest, run := 1, 1
	for i := 1; i < len(idx); i++ {
		if idx[i] == idx[i-1]+1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// IsComeback - последняя активность была недавно (не позже recentDays назад),
// а перед ней был перерыв не меньше gapDays.
func IsComeback(days []time.Time, now time.Time, loc *time.Location, gapDays, recentDays int) bool {
	if len(days) < 2 {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	sorted := make([]int64, 0, len(days))
	seen := make(map[int64]bool, len(days))
	for _, d := range days {
		i := dayIndex(d)
		if !seen[i] {
			seen[i] = true
			sorted = append(sorted, i)
		}
	}
	if len(sorted) < 2 {
		return false
	}
	sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })

	latest := sorted[len(sorted)-1]
	previous := sorted[len(sorted)-2]
	today := dayIndex(now.In(loc))

	return today-latest <= int64(recentDays) && latest-previous >= int64(gapDays)
}

// AccuracyGain - разница средней точности второй и первой половины серии.
// ok=false, если выборка меньше minSample.
func AccuracyGain(series []float64, minSample int) (float64, bool) {
	if len(series) < minSample || len(series) < 2 {
		return 0, false
	}
	half := len(series) / 2
	earlier := mean(series[:half])
	recent := mean(series[len(series)-half:])
	return recent - earlier, true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
