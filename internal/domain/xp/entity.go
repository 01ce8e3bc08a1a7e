// Package xp contains the XP ledger: the level curve, per-student balance
// records and the append-only transaction log.
package xp

import (
	"time"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION TYPES
// ══════════════════════════════════════════════════════════════════════════════

// TransactionType - источник начисления XP.
type TransactionType string

const (
	TypeLessonCompletion TransactionType = "lesson_completion"
	TypeStreakMilestone  TransactionType = "streak_milestone"
	TypeDailyQuest       TransactionType = "daily_quest"
	TypeAchievement      TransactionType = "achievement"
	TypeLevelUpBonus     TransactionType = "level_up_bonus"
	TypeAdminAdjustment  TransactionType = "admin_adjustment"
)

// IsValid проверяет, что тип известен.
func (t TransactionType) IsValid() bool {
	switch t {
	case TypeLessonCompletion, TypeStreakMilestone, TypeDailyQuest,
		TypeAchievement, TypeLevelUpBonus, TypeAdminAdjustment:
		return true
	}
	return false
}

// AllowsNegative - только ручная корректировка может списывать XP.
func (t TransactionType) AllowsNegative() bool {
	return t == TypeAdminAdjustment
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - баланс XP студента. CurrentLevel и XPToNextLevel всегда
// вычисляются из TotalXP через Progress и никогда не задаются отдельно.
type Record struct {
	StudentID     string
	TotalXP       int64
	CurrentLevel  int
	XPToNextLevel int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewRecord создаёт пустую запись: 0 XP, уровень 1.
func NewRecord(studentID string, now time.Time) *Record {
	r := &Record{
		StudentID: studentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.Recompute()
	return r
}

// Recompute пересчитывает производные поля из TotalXP. Повреждённая запись
// (отрицательный баланс, неверный уровень) приводится к корректному виду.
func (r *Record) Recompute() {
	if r.TotalXP < 0 {
		r.TotalXP = 0
	}
	state := Progress(r.TotalXP)
	r.CurrentLevel = state.Level
	r.XPToNextLevel = state.XPToNextLevel
}

// State возвращает полное состояние уровня.
func (r *Record) State() LevelState {
	return Progress(r.TotalXP)
}

// Clone возвращает копию записи.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

// Transaction - неизменяемая запись в журнале XP.
type Transaction struct {
	ID          string
	StudentID   string
	Amount      int
	Type        TransactionType
	Description string
	Metadata    map[string]interface{}
	CreatedAt   time.Time
}

// NewTransaction создаёт транзакцию с новым идентификатором.
func NewTransaction(
	studentID string,
	amount int,
	txType TransactionType,
	description string,
	metadata map[string]interface{},
	now time.Time,
) *Transaction {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Transaction{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   now,
	}
}
