// Package streak tracks consecutive days of activity and freeze tokens.
package streak

import (
	"context"
	"sort"
	"time"

	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MILESTONES
// ══════════════════════════════════════════════════════════════════════════════

// Milestone - порог серии и награда за него.
type Milestone struct {
	Days     int
	XPReward int
}

// Milestones - фиксированная таблица наград, по возрастанию.
var Milestones = []Milestone{
	{Days: 3, XPReward: 25},
	{Days: 7, XPReward: 75},
	{Days: 14, XPReward: 150},
	{Days: 30, XPReward: 300},
	{Days: 50, XPReward: 500},
	{Days: 100, XPReward: 1000},
	{Days: 365, XPReward: 3650},
}

// CrossedMilestones возвращает вехи m, для которых old < m.Days ≤ new.
func CrossedMilestones(oldStreak, newStreak int) []Milestone {
	var crossed []Milestone
	for _, m := range Milestones {
		if oldStreak < m.Days && m.Days <= newStreak {
			crossed = append(crossed, m)
		}
	}
	sort.Slice(crossed, func(i, j int) bool { return crossed[i].Days < crossed[j].Days })
	return crossed
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - серия студента.
type Record struct {
	StudentID        string
	CurrentStreak    int
	LongestStreak    int
	LastActivityDate *time.Time
	FreezesAvailable int
	FreezesUsed      int
	UpdatedAt        time.Time
}

// NewRecord создаёт пустую серию.
func NewRecord(studentID string) *Record {
	return &Record{StudentID: studentID}
}

// Clone возвращает копию записи.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastActivityDate != nil {
		d := *r.LastActivityDate
		c.LastActivityDate = &d
	}
	return &c
}

// Transition - результат применения активности к серии.
type Transition int

const (
	// TransitionStarted - первая активность.
	TransitionStarted Transition = iota
	// TransitionUnchanged - активность в тот же день.
	TransitionUnchanged
	// TransitionExtended - активность на следующий день.
	TransitionExtended
	// TransitionBroken - пропущен день или больше, серия начата заново.
	TransitionBroken
)

// RecordActivity применяет активность в момент now (дни считаются в loc).
//
//	Δ = 0  -> без изменений
//	Δ = 1  -> current + 1
//	Δ > 1  -> current = 1
//	нет даты -> current = 1
//
// LongestStreak никогда не уменьшается.
func (r *Record) RecordActivity(now time.Time, loc *time.Location) Transition {
	today := timeutil.StartOfDay(now, loc)

	if r.LastActivityDate == nil {
		r.CurrentStreak = 1
		r.bumpLongest()
		r.LastActivityDate = &today
		return TransitionStarted
	}

	delta := timeutil.DaysBetween(*r.LastActivityDate, now, loc)

	var tr Transition
	switch {
	case delta <= 0:
		// Тот же день (или часы сдвинуты назад) - ничего не меняем.
		return TransitionUnchanged
	case delta == 1:
		r.CurrentStreak++
		tr = TransitionExtended
	default:
		r.CurrentStreak = 1
		tr = TransitionBroken
	}

	r.bumpLongest()
	r.LastActivityDate = &today
	return tr
}

// UseFreeze тратит один токен: вчерашний пропуск считается активностью,
// last_activity_date сдвигается на сегодня без увеличения серии.
// Возвращает false, если токенов нет.
func (r *Record) UseFreeze(now time.Time, loc *time.Location) bool {
	if r.FreezesAvailable <= 0 {
		return false
	}
	today := timeutil.StartOfDay(now, loc)
	r.FreezesAvailable--
	r.FreezesUsed++
	r.LastActivityDate = &today
	return true
}

// GrantFreezes добавляет токены заморозки.
func (r *Record) GrantFreezes(n int) {
	if n > 0 {
		r.FreezesAvailable += n
	}
}

// IsAtRisk - серия прервётся, если сегодня не будет активности.
func (r *Record) IsAtRisk(now time.Time, loc *time.Location) bool {
	if r.LastActivityDate == nil || r.CurrentStreak == 0 {
		return false
	}
	return timeutil.DaysBetween(*r.LastActivityDate, now, loc) == 1
}

func (r *Record) bumpLongest() {
	if r.CurrentStreak > r.LongestStreak {
		r.LongestStreak = r.CurrentStreak
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище серий.
type Repository interface {
	// Get возвращает серию или ErrNotFound.
	Get(ctx context.Context, studentID string) (*Record, error)

	// Save создаёт или обновляет серию.
	Save(ctx context.Context, record *Record) error
}
