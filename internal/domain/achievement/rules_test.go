package achievement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	lessons    int
	perfect    int
	avg        float64
	samples    int
	fastest    int
	hasFastest bool
	subject    int
	share      float64
	shareN     int
	weekend    int
	days       []time.Time
	series     []float64
	err        error
}

func (f *fakeHistory) CountLessons(context.Context, string) (int, error) { return f.lessons, f.err }
func (f *fakeHistory) CountPerfect(context.Context, string) (int, error) { return f.perfect, f.err }
func (f *fakeHistory) AccuracyStats(context.Context, string) (float64, int, error) {
	return f.avg, f.samples, f.err
}
func (f *fakeHistory) FastestCompletion(context.Context, string) (int, bool, error) {
	return f.fastest, f.hasFastest, f.err
}
func (f *fakeHistory) MaxUniqueLessonsPerSubject(context.Context, string) (int, error) {
	return f.subject, f.err
}
func (f *fakeHistory) HourShare(context.Context, string, int, int) (float64, int, error) {
	return f.share, f.shareN, f.err
}
func (f *fakeHistory) WeekendSessions(context.Context, string) (int, error) { return f.weekend, f.err }
func (f *fakeHistory) ActivityDays(context.Context, string) ([]time.Time, error) {
	return f.days, f.err
}
func (f *fakeHistory) AccuracySeries(context.Context, string) ([]float64, error) {
	return f.series, f.err
}

type fakeProgress struct {
	streak int
	level  int
}

func (f fakeProgress) CurrentStreak(context.Context, string) (int, error) { return f.streak, nil }
func (f fakeProgress) Level(context.Context, string) (int, error)         { return f.level, nil }

func d(month time.Month, day int) time.Time {
	return time.Date(2024, month, day, 0, 0, 0, 0, time.UTC)
}

func eval(t *testing.T, name string, h *fakeHistory, p fakeProgress, now time.Time) bool {
	t.Helper()
	rule, ok := Rules[name]
	require.True(t, ok, "rule %s missing", name)
	got, err := rule(context.Background(), Input{
		StudentID: "s1",
		History:   h,
		Progress:  p,
		Now:       now,
		Location:  time.UTC,
	})
	require.NoError(t, err)
	return got
}

func TestRules_EveryCatalogEntryHasRule(t *testing.T) {
	for _, a := range DefaultCatalog() {
		_, ok := Rules[a.Name]
		assert.True(t, ok, "no rule for %s", a.Name)
	}
}

func TestRules_Counts(t *testing.T) {
	now := d(time.May, 1)
	assert.False(t, eval(t, "first_lesson", &fakeHistory{}, fakeProgress{}, now))
	assert.True(t, eval(t, "first_lesson", &fakeHistory{lessons: 1}, fakeProgress{}, now))
	assert.True(t, eval(t, "lessons_10", &fakeHistory{lessons: 12}, fakeProgress{}, now))
	assert.False(t, eval(t, "perfectionist", &fakeHistory{perfect: 9}, fakeProgress{}, now))
	assert.True(t, eval(t, "weekend_warrior", &fakeHistory{weekend: 10}, fakeProgress{}, now))
	assert.True(t, eval(t, "subject_specialist", &fakeHistory{subject: 10}, fakeProgress{}, now))
}

func TestRules_AccuracyNeedsMinimumSample(t *testing.T) {
	now := d(time.May, 1)
	assert.False(t, eval(t, "accuracy_master", &fakeHistory{avg: 99, samples: 5}, fakeProgress{}, now))
	assert.True(t, eval(t, "accuracy_master", &fakeHistory{avg: 91, samples: 20}, fakeProgress{}, now))
	assert.False(t, eval(t, "accuracy_master", &fakeHistory{avg: 89.9, samples: 40}, fakeProgress{}, now))
}

func TestRules_SpeedAndTimeOfDay(t *testing.T) {
	now := d(time.May, 1)
	assert.False(t, eval(t, "speed_demon", &fakeHistory{}, fakeProgress{}, now))
	assert.True(t, eval(t, "speed_demon", &fakeHistory{fastest: 30, hasFastest: true}, fakeProgress{}, now))
	assert.True(t, eval(t, "night_owl", &fakeHistory{share: 0.7, shareN: 10}, fakeProgress{}, now))
	assert.False(t, eval(t, "night_owl", &fakeHistory{share: 0.9, shareN: 3}, fakeProgress{}, now))
}

func TestRules_StreakAndLevel(t *testing.T) {
	now := d(time.May, 1)
	assert.True(t, eval(t, "streak_7", &fakeHistory{}, fakeProgress{streak: 7}, now))
	assert.False(t, eval(t, "streak_30", &fakeHistory{}, fakeProgress{streak: 29}, now))
	assert.True(t, eval(t, "level_5", &fakeHistory{}, fakeProgress{level: 6}, now))
}

func TestRules_ErrorsPropagateToCaller(t *testing.T) {
	rule := Rules["lessons_10"]
	_, err := rule(context.Background(), Input{
		StudentID: "s1",
		History:   &fakeHistory{err: errors.New("timeout")},
		Progress:  fakeProgress{},
	})
	assert.Error(t, err)
}

func TestLongestConsecutiveRun(t *testing.T) {
	assert.Equal(t, 0, LongestConsecutiveRun(nil))
	days := []time.Time{d(3, 5), d(3, 1), d(3, 2), d(3, 3), d(3, 3), d(3, 7), d(3, 8)}
	assert.Equal(t, 3, LongestConsecutiveRun(days))

	// Month boundary.
	assert.Equal(t, 3, LongestConsecutiveRun([]time.Time{d(2, 28), d(2, 29), d(3, 1)}))
}

func TestIsComeback(t *testing.T) {
	days := []time.Time{d(3, 1), d(3, 2), d(3, 12)}
	assert.True(t, IsComeback(days, d(3, 12).Add(10*time.Hour), time.UTC, 7, 1))
	assert.True(t, IsComeback(days, d(3, 13), time.UTC, 7, 1))
	assert.False(t, IsComeback(days, d(3, 15), time.UTC, 7, 1), "not recent any more")

	short := []time.Time{d(3, 1), d(3, 5)}
	assert.False(t, IsComeback(short, d(3, 5), time.UTC, 7, 1))
	assert.False(t, IsComeback([]time.Time{d(3, 1)}, d(3, 1), time.UTC, 7, 1))
}

func TestAccuracyGain(t *testing.T) {
	_, ok := AccuracyGain([]float64{50, 90}, 10)
	assert.False(t, ok)

	series := []float64{60, 60, 60, 60, 60, 80, 80, 80, 80, 80}
	gain, ok := AccuracyGain(series, 10)
	require.True(t, ok)
	assert.InDelta(t, 20.0, gain, 1e-9)

	assert.True(t, eval(t, "rising_star", &fakeHistory{series: series}, fakeProgress{}, d(5, 1)))
}
