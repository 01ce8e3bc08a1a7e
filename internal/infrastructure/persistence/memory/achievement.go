package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/alem-progression/internal/domain/achievement"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// AchievementRepository implements achievement.Repository. An achievement
// is awarded to a student at most once.
type AchievementRepository struct {
	mu      sync.RWMutex
	catalog []achievement.Achievement
	earned  map[string][]achievement.StudentAchievement
}

// NewAchievementRepository creates a repository over catalog. A nil catalog
// means achievement.DefaultCatalog.
func NewAchievementRepository(catalog []achievement.Achievement) *AchievementRepository {
	if catalog == nil {
		catalog = achievement.DefaultCatalog()
	}
	c := make([]achievement.Achievement, len(catalog))
	copy(c, catalog)
	return &AchievementRepository{
		catalog: c,
		earned:  make(map[string][]achievement.StudentAchievement),
	}
}

// ListCatalog returns the whole catalog.
func (r *AchievementRepository) ListCatalog(_ context.Context) ([]achievement.Achievement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]achievement.Achievement, len(r.catalog))
	copy(out, r.catalog)
	return out, nil
}

// ListEarnedIDs returns the IDs already earned by the student.
func (r *AchievementRepository) ListEarnedIDs(_ context.Context, studentID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.earned[studentID]))
	for _, e := range r.earned[studentID] {
		ids = append(ids, e.AchievementID)
	}
	return ids, nil
}

// Award records an achievement or fails with ErrAchievementAlreadyEarned.
func (r *AchievementRepository) Award(_ context.Context, award *achievement.StudentAchievement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.earned[award.StudentID] {
		if e.AchievementID == award.AchievementID {
			return shared.ErrAchievementAlreadyEarned
		}
	}
	r.earned[award.StudentID] = append(r.earned[award.StudentID], *award)
	return nil
}

// Revoke removes an award by ID. Unknown IDs are ignored.
func (r *AchievementRepository) Revoke(_ context.Context, awardID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for student, list := range r.earned {
		for i, e := range list {
			if e.ID == awardID {
				r.earned[student] = append(list[:i:i], list[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

// ListEarned returns the student's awards, newest first.
func (r *AchievementRepository) ListEarned(_ context.Context, studentID string) ([]*achievement.StudentAchievement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.earned[studentID]
	out := make([]*achievement.StudentAchievement, 0, len(all))
	for i := range all {
		e := all[i]
		out = append(out, &e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EarnedAt.After(out[j].EarnedAt) })
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// History implements achievement.Journal and achievement.HistoryReader over
// the attempts it has recorded.
type History struct {
	mu       sync.RWMutex
	loc      *time.Location
	attempts map[string][]achievement.Attempt
}

// NewHistory creates an empty history; loc decides hours and days.
func NewHistory(loc *time.Location) *History {
	if loc == nil {
		loc = timeutil.DefaultLocation
	}
	return &History{loc: loc, attempts: make(map[string][]achievement.Attempt)}
}

// Record appends an attempt.
func (h *History) Record(_ context.Context, attempt *achievement.Attempt) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts[attempt.StudentID] = append(h.attempts[attempt.StudentID], *attempt)
	return nil
}

func (h *History) list(studentID string) []achievement.Attempt {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]achievement.Attempt, len(h.attempts[studentID]))
	copy(out, h.attempts[studentID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out
}

// CountLessons returns the number of attempts.
func (h *History) CountLessons(_ context.Context, studentID string) (int, error) {
	return len(h.list(studentID)), nil
}

// CountPerfect returns the number of full-score attempts.
func (h *History) CountPerfect(_ context.Context, studentID string) (int, error) {
	n := 0
	for _, a := range h.list(studentID) {
		if a.Accuracy >= 100 {
			n++
		}
	}
	return n, nil
}

// AccuracyStats returns the mean accuracy and the sample size.
func (h *History) AccuracyStats(_ context.Context, studentID string) (float64, int, error) {
	attempts := h.list(studentID)
	if len(attempts) == 0 {
		return 0, 0, nil
	}
	var sum float64
	for _, a := range attempts {
		sum += a.Accuracy
	}
	return sum / float64(len(attempts)), len(attempts), nil
}

// FastestCompletion returns the shortest positive completion time.
func (h *History) FastestCompletion(_ context.Context, studentID string) (int, bool, error) {
	best, ok := 0, false
	for _, a := range h.list(studentID) {
		if a.TimeTaken <= 0 {
			continue
		}
		if !ok || a.TimeTaken < best {
			best, ok = a.TimeTaken, true
		}
	}
	return best, ok, nil
}

// MaxUniqueLessonsPerSubject returns the deepest subject by distinct lessons.
func (h *History) MaxUniqueLessonsPerSubject(_ context.Context, studentID string) (int, error) {
	bySubject := make(map[string]map[string]struct{})
	for _, a := range h.list(studentID) {
		if a.Subject == "" {
			continue
		}
		if bySubject[a.Subject] == nil {
			bySubject[a.Subject] = make(map[string]struct{})
		}
		bySubject[a.Subject][a.LessonID] = struct{}{}
	}
	best := 0
	for _, lessons := range bySubject {
		if len(lessons) > best {
			best = len(lessons)
		}
	}
	return best, nil
}

// HourShare returns the share of attempts with a local hour in [fromHour, toHour).
func (h *History) HourShare(_ context.Context, studentID string, fromHour, toHour int) (float64, int, error) {
	attempts := h.list(studentID)
	if len(attempts) == 0 {
		return 0, 0, nil
	}
	hits := 0
	for _, a := range attempts {
		if inHours(a.CompletedAt.In(h.loc).Hour(), fromHour, toHour) {
			hits++
		}
	}
	return float64(hits) / float64(len(attempts)), len(attempts), nil
}

func inHours(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour < to
	}
	return hour >= from || hour < to
}

// WeekendSessions counts attempts on a local Saturday or Sunday.
func (h *History) WeekendSessions(_ context.Context, studentID string) (int, error) {
	n := 0
	for _, a := range h.list(studentID) {
		if timeutil.IsWeekend(a.CompletedAt, h.loc) {
			n++
		}
	}
	return n, nil
}

// ActivityDays returns the distinct local days with attempts, ascending.
func (h *History) ActivityDays(_ context.Context, studentID string) ([]time.Time, error) {
	seen := make(map[string]bool)
	var days []time.Time
	for _, a := range h.list(studentID) {
		key := timeutil.DateKey(a.CompletedAt, h.loc)
		if seen[key] {
			continue
		}
		seen[key] = true
		days = append(days, timeutil.StartOfDay(a.CompletedAt, h.loc))
	}
	return days, nil
}

// AccuracySeries returns accuracies in chronological order.
func (h *History) AccuracySeries(_ context.Context, studentID string) ([]float64, error) {
	attempts := h.list(studentID)
	out := make([]float64, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Accuracy)
	}
	return out, nil
}
