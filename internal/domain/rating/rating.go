// Package rating implements the single-player ELO-style skill estimate.
package rating

import (
	"context"
	"math"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ALGORITHM
// Ожидаемый результат считается против фиксированного базового рейтинга
// (1500), а не против соперника: это калибровка одного игрока.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultRating - стартовый рейтинг и якорь ожидаемого результата.
	DefaultRating = 1500

	// KFactor - максимальное изменение за урок до множителей.
	KFactor = 32.0

	// TimeBonusWindow - урок дольше этого (в секундах) не даёт изменения.
	TimeBonusWindow = 300.0

	// MaxStreakSteps - после 10 дней множитель серии не растёт.
	MaxStreakSteps = 10

	streakStep = 0.1
	eloScale   = 400.0
)

// Input - пять входов одного обновления.
type Input struct {
	PreviousRating int
	Score          int
	TotalPoints    int
	TimeTaken      int // секунды
	Streak         int
}

// Calculation - промежуточные значения и итог.
type Calculation struct {
	Performance      float64
	Expected         float64
	TimeBonus        float64
	StreakMultiplier float64
	Delta            int
	NewRating        int
}

// Performance = score / totalPoints.
func Performance(score, totalPoints int) float64 {
	if totalPoints <= 0 {
		return 0
	}
	return float64(score) / float64(totalPoints)
}

// Expected = 1 / (1 + 10^((1500 - previous) / 400)).
func Expected(previous int) float64 {
	return 1 / (1 + math.Pow(10, float64(DefaultRating-previous)/eloScale))
}

// TimeBonus = max(0, 1 - t/300).
func TimeBonus(timeTaken int) float64 {
	return math.Max(0, 1-float64(timeTaken)/TimeBonusWindow)
}

// StreakMultiplier = 1 + min(streak, 10) × 0.1.
func StreakMultiplier(streak int) float64 {
	if streak < 0 {
		streak = 0
	}
	if streak > MaxStreakSteps {
		streak = MaxStreakSteps
	}
	return 1 + float64(streak)*streakStep
}

// Calculate вычисляет Δ = round(32 × (performance − expected) × timeBonus × mult).
// floor ограничивает рейтинг снизу, nil - без ограничения.
func Calculate(in Input, floor *int) Calculation {
	c := Calculation{
		Performance:      Performance(in.Score, in.TotalPoints),
		Expected:         Expected(in.PreviousRating),
		TimeBonus:        TimeBonus(in.TimeTaken),
		StreakMultiplier: StreakMultiplier(in.Streak),
	}

	// Половины округляются вверх: +2.5 -> 3, -2.5 -> -2.
	c.Delta = int(math.Floor(KFactor*(c.Performance-c.Expected)*c.TimeBonus*c.StreakMultiplier + 0.5))
	c.NewRating = in.PreviousRating + c.Delta

	if floor != nil && c.NewRating < *floor {
		c.NewRating = *floor
		c.Delta = c.NewRating - in.PreviousRating
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// Record - текущий рейтинг студента.
type Record struct {
	StudentID string
	Rating    int
	UpdatedAt time.Time
}

// NewRecord создаёт запись с рейтингом по умолчанию.
func NewRecord(studentID string) *Record {
	return &Record{StudentID: studentID, Rating: DefaultRating}
}

// HistoryEntry - неизменяемая запись об обновлении.
type HistoryEntry struct {
	ID             string
	StudentID      string
	LessonID       string
	PreviousRating int
	Delta          int
	NewRating      int
	Performance    float64
	TimeTaken      int
	Streak         int
	CreatedAt      time.Time
}

// Repository - хранилище рейтингов.
type Repository interface {
	// Get возвращает рейтинг или ErrNotFound.
	Get(ctx context.Context, studentID string) (*Record, error)

	// Update сохраняет новый рейтинг и добавляет запись истории атомарно.
	Update(ctx context.Context, record *Record, entry *HistoryEntry) error

	// History возвращает последние записи, новые первыми.
	History(ctx context.Context, studentID string, limit int) ([]*HistoryEntry, error)
}
