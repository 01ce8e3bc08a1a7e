// Package quest contains the daily quest catalog, the date-seeded selection
// rule and per-student progress.
package quest

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORIES & REQUIREMENTS
// ══════════════════════════════════════════════════════════════════════════════

// Category - категория шаблона.
type Category string

const (
	CategoryKnowledge   Category = "knowledge"
	CategoryAccuracy    Category = "accuracy"
	CategorySpeed       Category = "speed"
	CategoryConsistency Category = "consistency"
	CategoryChallenge   Category = "challenge"
)

// RequirementType - что именно считается прогрессом.
type RequirementType string

const (
	ReqCompleteLessons RequirementType = "complete_lessons"
	ReqPerfectScore    RequirementType = "perfect_score"
	ReqHighAccuracy    RequirementType = "high_accuracy"
	ReqFastCompletion  RequirementType = "fast_completion"
	ReqStudyTime       RequirementType = "study_time"
	ReqEarnXP          RequirementType = "earn_xp"
	ReqDailyPractice   RequirementType = "daily_practice"
)

// Requirements - условие выполнения квеста.
type Requirements struct {
	Type        RequirementType `json:"type"`
	Target      int             `json:"target"`
	MaxTime     int             `json:"max_time,omitempty"`     // секунды, для fast_completion
	MinAccuracy float64         `json:"min_accuracy,omitempty"` // проценты, для high_accuracy
}

// TargetOrDefault возвращает цель, по умолчанию 1.
func (r Requirements) TargetOrDefault() int {
	if r.Target <= 0 {
		return 1
	}
	return r.Target
}

// ══════════════════════════════════════════════════════════════════════════════
// TEMPLATES
// ══════════════════════════════════════════════════════════════════════════════

// Template - шаблон из фиксированного каталога.
type Template struct {
	Key          string
	Title        string
	Description  string
	Category     Category
	Requirements Requirements
	XPReward     int
}

// Catalog - фиксированный каталог. Порядок внутри категории важен:
// по нему индексирует правило выбора.
var Catalog = []Template{
	// knowledge
	{Key: "knowledge_daily_lesson", Title: "Daily Lesson", Description: "Complete 1 lesson",
		Category: CategoryKnowledge, Requirements: Requirements{Type: ReqCompleteLessons, Target: 1}, XPReward: 15},
	{Key: "knowledge_seeker", Title: "Knowledge Seeker", Description: "Complete 3 lessons",
		Category: CategoryKnowledge, Requirements: Requirements{Type: ReqCompleteLessons, Target: 3}, XPReward: 30},
	{Key: "knowledge_deep_dive", Title: "Deep Dive", Description: "Complete 5 lessons",
		Category: CategoryKnowledge, Requirements: Requirements{Type: ReqCompleteLessons, Target: 5}, XPReward: 50},
	{Key: "knowledge_focused_study", Title: "Focused Study", Description: "Study for 15 minutes",
		Category: CategoryKnowledge, Requirements: Requirements{Type: ReqStudyTime, Target: 900}, XPReward: 40},

	// accuracy
	{Key: "accuracy_flawless", Title: "Flawless", Description: "Get a perfect score",
		Category: CategoryAccuracy, Requirements: Requirements{Type: ReqPerfectScore, Target: 1}, XPReward: 30},
	{Key: "accuracy_perfectionist", Title: "Perfectionist", Description: "Get 3 perfect scores",
		Category: CategoryAccuracy, Requirements: Requirements{Type: ReqPerfectScore, Target: 3}, XPReward: 60},
	{Key: "accuracy_sharp_mind", Title: "Sharp Mind", Description: "Score at least 80% in 3 lessons",
		Category: CategoryAccuracy, Requirements: Requirements{Type: ReqHighAccuracy, Target: 3, MinAccuracy: 80}, XPReward: 35},

	// speed
	{Key: "speed_quick_thinker", Title: "Quick Thinker", Description: "Finish a lesson in under a minute",
		Category: CategorySpeed, Requirements: Requirements{Type: ReqFastCompletion, Target: 1, MaxTime: 60}, XPReward: 25},
	{Key: "speed_run", Title: "Speed Run", Description: "Finish 3 lessons in under 2 minutes each",
		Category: CategorySpeed, Requirements: Requirements{Type: ReqFastCompletion, Target: 3, MaxTime: 120}, XPReward: 45},

	// consistency
	{Key: "consistency_show_up", Title: "Show Up", Description: "Practice today",
		Category: CategoryConsistency, Requirements: Requirements{Type: ReqDailyPractice, Target: 1}, XPReward: 10},
	{Key: "consistency_ten_minutes", Title: "Ten Minute Habit", Description: "Study for 10 minutes",
		Category: CategoryConsistency, Requirements: Requirements{Type: ReqStudyTime, Target: 600}, XPReward: 25},
	{Key: "consistency_keep_going", Title: "Keep Going", Description: "Complete 2 lessons",
		Category: CategoryConsistency, Requirements: Requirements{Type: ReqCompleteLessons, Target: 2}, XPReward: 20},

	// challenge
	{Key: "challenge_xp_hunter", Title: "XP Hunter", Description: "Earn 100 XP",
		Category: CategoryChallenge, Requirements: Requirements{Type: ReqEarnXP, Target: 100}, XPReward: 50},
	{Key: "challenge_marathon", Title: "Marathon", Description: "Complete 10 lessons",
		Category: CategoryChallenge, Requirements: Requirements{Type: ReqCompleteLessons, Target: 10}, XPReward: 100},
}

// ByCategory возвращает шаблоны категории в порядке каталога.
func ByCategory(catalog []Template, categories ...Category) []Template {
	want := make(map[Category]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}
	var out []Template
	for _, t := range catalog {
		if want[t.Category] {
			out = append(out, t)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// SELECTION
// Выбор детерминирован: одна и та же дата всегда даёт те же три шаблона.
//   knowledge   [dayOfMonth % n]
//   consistency [weekday % n]           (воскресенье = 0)
//   остальные   [(weekday + dayOfMonth) % n]
// ══════════════════════════════════════════════════════════════════════════════

// QuestsPerDay - сколько квестов выбирается на день.
const QuestsPerDay = 3

// SelectTemplates выбирает шаблоны для календарной даты. date должна быть
// уже приведена к нужному часовому поясу (см. CalendarDate).
func SelectTemplates(catalog []Template, date time.Time) []Template {
	dayOfMonth := date.Day()
	weekday := int(date.Weekday())

	var selected []Template

	if knowledge := ByCategory(catalog, CategoryKnowledge); len(knowledge) > 0 {
		selected = append(selected, knowledge[dayOfMonth%len(knowledge)])
	}
	if consistency := ByCategory(catalog, CategoryConsistency); len(consistency) > 0 {
		selected = append(selected, consistency[weekday%len(consistency)])
	}
	if rest := ByCategory(catalog, CategoryAccuracy, CategorySpeed, CategoryChallenge); len(rest) > 0 {
		selected = append(selected, rest[(weekday+dayOfMonth)%len(rest)])
	}
	return selected
}

// CalendarDate возвращает полночь календарного дня t в loc, выраженную в UTC.
// Так дата одинаково хранится в колонке DATE и в памяти.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
