package league

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище сезонов, дивизионов и участий.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Seasons
	// ─────────────────────────────────────────────────────────────────────────

	// GetActiveSeason возвращает единственный активный сезон или ErrNotFound.
	GetActiveSeason(ctx context.Context) (*Season, error)

	// GetSeason возвращает сезон по ID или ErrNotFound.
	GetSeason(ctx context.Context, id string) (*Season, error)

	// CreateSeason создаёт сезон. Если активный сезон уже есть,
	// возвращает ErrAlreadyExists (ограничение уникальности).
	CreateSeason(ctx context.Context, season *Season) error

	// FreezeSeason сохраняет итоговые места и отмечает сезон замороженным.
	// Повторный вызов для замороженного сезона ничего не меняет.
	FreezeSeason(ctx context.Context, seasonID string, standings []Standing, frozenAt time.Time) error

	// ResetSeasonParticipants обнуляет weekly_xp и флаги. Возвращает
	// количество участников.
	ResetSeasonParticipants(ctx context.Context, seasonID string) (int, error)

	// DeactivateSeason снимает флаг is_active.
	DeactivateSeason(ctx context.Context, seasonID string) error

	// ─────────────────────────────────────────────────────────────────────────
	// Divisions
	// ─────────────────────────────────────────────────────────────────────────

	// ListDivisions возвращает каталог дивизионов по возрастанию порядка.
	ListDivisions(ctx context.Context) ([]Division, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Participation
	// ─────────────────────────────────────────────────────────────────────────

	// GetParticipation возвращает участие или ErrNotFound.
	GetParticipation(ctx context.Context, studentID, seasonID string) (*Participation, error)

	// CreateParticipation создаёт участие; ErrAlreadyExists при дубликате.
	CreateParticipation(ctx context.Context, p *Participation) error

	// UpdateParticipation сохраняет division_id, weekly_xp и флаги.
	// Только для активного незамороженного сезона, иначе ErrSeasonClosed.
	UpdateParticipation(ctx context.Context, p *Participation) error

	// ListParticipants возвращает всех участников сезона.
	ListParticipants(ctx context.Context, seasonID string) ([]*Participation, error)
}

// StandingsCache - быстрые таблицы дивизионов (Redis sorted sets).
// Ошибки кэша не должны влиять на начисление XP.
type StandingsCache interface {
	// SetWeeklyXP обновляет счёт участника в таблице дивизиона.
	SetWeeklyXP(ctx context.Context, seasonID, divisionID, studentID string, weeklyXP int64) error

	// Remove убирает участника из таблицы дивизиона (после перевода).
	Remove(ctx context.Context, seasonID, divisionID, studentID string) error

	// Rank возвращает место (с 1) в дивизионе; 0 если нет данных.
	Rank(ctx context.Context, seasonID, divisionID, studentID string) (int, error)

	// DropSeason удаляет все таблицы сезона.
	DropSeason(ctx context.Context, seasonID string, divisionIDs []string) error
}
