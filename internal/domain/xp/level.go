package xp

import (
	"math"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CURVE
// Уровень L требует R(L) XP сверх суммы всех предыдущих уровней:
//   R(1) = 100
//   R(L) = floor(100 × 1.2^(L-1)) + floor(L × 25), L > 1
// Кривая строго возрастает, поэтому уровень однозначно определяется total_xp.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// FirstLevelRequirement - XP для перехода с 1-го уровня на 2-й.
	FirstLevelRequirement = 100

	// LevelUpBonusPerLevel - множитель бонуса за новый уровень.
	LevelUpBonusPerLevel = 50

	// MaxLevel - верхняя граница таблицы. Кумулятивная сумма до MaxLevel
	// помещается в int64 с запасом.
	MaxLevel = 200

	growthBase    = 100.0
	growthFactor  = 1.2
	perLevelExtra = 25.0
)

var (
	// requirements[L] = R(L), индекс 0 не используется.
	requirements [MaxLevel + 1]int64

	// thresholds[L] = суммарный XP, с которого начинается уровень L.
	thresholds [MaxLevel + 1]int64
)

func init() {
	requirements[1] = FirstLevelRequirement
	for l := 2; l <= MaxLevel; l++ {
		requirements[l] = int64(math.Floor(growthBase*math.Pow(growthFactor, float64(l-1)))) +
			int64(math.Floor(float64(l)*perLevelExtra))
	}

	thresholds[1] = 0
	for l := 2; l <= MaxLevel; l++ {
		thresholds[l] = thresholds[l-1] + requirements[l-1]
	}
}

// RequiredXP возвращает R(level): сколько XP нужно набрать внутри уровня,
// чтобы перейти на следующий.
func RequiredXP(level int) int64 {
	if level < 1 {
		level = 1
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return requirements[level]
}

// CumulativeXP возвращает суммарный XP, с которого начинается уровень.
func CumulativeXP(level int) int64 {
	if level < 1 {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return thresholds[level]
}

// CalculateLevel определяет уровень по суммарному XP.
func CalculateLevel(total int64) int {
	if total <= 0 {
		return 1
	}
	level := 1
	for level < MaxLevel && total >= thresholds[level+1] {
		level++
	}
	return level
}

// LevelState - производные поля XPRecord.
type LevelState struct {
	Level         int
	XPIntoLevel   int64
	XPToNextLevel int64
}

// Progress вычисляет уровень, XP внутри уровня и остаток до следующего.
// На MaxLevel остаток равен нулю.
func Progress(total int64) LevelState {
	if total < 0 {
		total = 0
	}
	level := CalculateLevel(total)
	into := total - thresholds[level]

	var toNext int64
	if level < MaxLevel {
		toNext = requirements[level] - into
	}

	return LevelState{
		Level:         level,
		XPIntoLevel:   into,
		XPToNextLevel: toNext,
	}
}

// LevelUpBonus возвращает бонус за достижение уровня: floor(level × 50).
func LevelUpBonus(level int) int {
	if level < 1 {
		return 0
	}
	return level * LevelUpBonusPerLevel
}
