// Package league models weekly competitive seasons and XP divisions.
package league

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DIVISIONS
// ══════════════════════════════════════════════════════════════════════════════

// Division - уровень лиги с диапазоном недельного XP [Min, Max).
// MaxXPPerWeek == nil означает открытый верх.
type Division struct {
	ID           string
	Name         string
	Order        int
	MinXPPerWeek int64
	MaxXPPerWeek *int64
}

// Contains проверяет, что xp попадает в [Min, Max).
func (d Division) Contains(xp int64) bool {
	if xp < d.MinXPPerWeek {
		return false
	}
	return d.MaxXPPerWeek == nil || xp < *d.MaxXPPerWeek
}

func upper(v int64) *int64 { return &v }

// DefaultDivisions - каталог, который засевается миграцией.
func DefaultDivisions() []Division {
	return []Division{
		{ID: "bronze", Name: "Bronze", Order: 1, MinXPPerWeek: 0, MaxXPPerWeek: upper(100)},
		{ID: "silver", Name: "Silver", Order: 2, MinXPPerWeek: 100, MaxXPPerWeek: upper(300)},
		{ID: "gold", Name: "Gold", Order: 3, MinXPPerWeek: 300, MaxXPPerWeek: upper(600)},
		{ID: "sapphire", Name: "Sapphire", Order: 4, MinXPPerWeek: 600, MaxXPPerWeek: upper(1000)},
		{ID: "ruby", Name: "Ruby", Order: 5, MinXPPerWeek: 1000, MaxXPPerWeek: upper(1500)},
		{ID: "diamond", Name: "Diamond", Order: 6, MinXPPerWeek: 1500},
	}
}

// SortDivisions упорядочивает по возрастанию порога.
func SortDivisions(divisions []Division) []Division {
	sorted := make([]Division, len(divisions))
	copy(sorted, divisions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].MinXPPerWeek != sorted[j].MinXPPerWeek {
			return sorted[i].MinXPPerWeek < sorted[j].MinXPPerWeek
		}
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}

// ResolveDivision проходит дивизионы по возрастанию порога и оставляет
// самый высокий, диапазон которого содержит xp.
func ResolveDivision(divisions []Division, xp int64) (Division, error) {
	if len(divisions) == 0 {
		return Division{}, shared.ErrNoDivisions
	}
	if xp < 0 {
		xp = 0
	}

	sorted := SortDivisions(divisions)
	resolved := sorted[0]
	found := false
	for _, d := range sorted {
		if d.Contains(xp) {
			resolved = d
			found = true
		}
	}
	if !found {
		// Дыра в каталоге: держимся за последний порог, который не превышен.
		for _, d := range sorted {
			if xp >= d.MinXPPerWeek {
				resolved = d
			}
		}
	}
	return resolved, nil
}

// ValidatePartition проверяет, что дивизионы без пропусков и пересечений
// покрывают [0, ∞). Движок на это полагается, но сам не проверяет.
func ValidatePartition(divisions []Division) error {
	if len(divisions) == 0 {
		return shared.ErrNoDivisions
	}
	sorted := SortDivisions(divisions)

	if sorted[0].MinXPPerWeek != 0 {
		return fmt.Errorf("league: lowest division %q starts at %d, want 0", sorted[0].ID, sorted[0].MinXPPerWeek)
	}
	for i := 0; i < len(sorted)-1; i++ {
		cur, next := sorted[i], sorted[i+1]
		if cur.MaxXPPerWeek == nil {
			return fmt.Errorf("league: division %q is unbounded but %q follows", cur.ID, next.ID)
		}
		if *cur.MaxXPPerWeek != next.MinXPPerWeek {
			return fmt.Errorf("league: gap or overlap between %q (max %d) and %q (min %d)",
				cur.ID, *cur.MaxXPPerWeek, next.ID, next.MinXPPerWeek)
		}
	}
	last := sorted[len(sorted)-1]
	if last.MaxXPPerWeek != nil {
		return fmt.Errorf("league: top division %q must be unbounded", last.ID)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SEASONS
// ══════════════════════════════════════════════════════════════════════════════

// Season - недельный сезон с воскресенья по субботу.
type Season struct {
	ID        string
	StartDate time.Time
	EndDate   time.Time
	IsActive  bool
	// FrozenAt выставляется после сохранения итоговых мест.
	FrozenAt  *time.Time
	CreatedAt time.Time
}

// NewSeasonFor создаёт активный сезон, содержащий now.
func NewSeasonFor(now time.Time, loc *time.Location) *Season {
	return &Season{
		ID:        uuid.NewString(),
		StartDate: timeutil.StartOfWeek(now, loc),
		EndDate:   timeutil.EndOfWeek(now, loc),
		IsActive:  true,
		CreatedAt: now,
	}
}

// IsOver - конец сезона уже прошёл.
func (s *Season) IsOver(now time.Time) bool {
	return s.EndDate.Before(now)
}

// IsFrozen - итоговые места уже сохранены.
func (s *Season) IsFrozen() bool {
	return s.FrozenAt != nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PARTICIPATION
// ══════════════════════════════════════════════════════════════════════════════

// Participation - участие студента в сезоне.
type Participation struct {
	ID            string
	StudentID     string
	SeasonID      string
	DivisionID    string
	WeeklyXP      int64
	Promoted      bool
	Demoted       bool
	FinalRank     *int
	FinalWeeklyXP *int64
	JoinedAt      time.Time
	UpdatedAt     time.Time
}

// NewParticipation создаёт участие в дивизионе.
func NewParticipation(studentID, seasonID, divisionID string, now time.Time) *Participation {
	return &Participation{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		SeasonID:   seasonID,
		DivisionID: divisionID,
		JoinedAt:   now,
		UpdatedAt:  now,
	}
}

// Clone возвращает копию.
func (p *Participation) Clone() *Participation {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Move переводит участника в дивизион to. Флаги выставляются только
// в момент смены и сбрасываются при следующем начислении без смены.
func (p *Participation) Move(from, to Division) {
	p.Promoted = false
	p.Demoted = false
	if from.ID == to.ID {
		return
	}
	p.DivisionID = to.ID
	if to.Order > from.Order {
		p.Promoted = true
	} else {
		p.Demoted = true
	}
}

// Standing - итоговое место участника в дивизионе.
type Standing struct {
	ParticipationID string
	StudentID       string
	DivisionID      string
	WeeklyXP        int64
	Rank            int
}

// RankParticipants упорядочивает участников каждого дивизиона по weekly_xp
// по убыванию (при равенстве - кто раньше вступил) и назначает места с 1.
func RankParticipants(participants []*Participation) []Standing {
	byDivision := make(map[string][]*Participation)
	var order []string
	for _, p := range participants {
		if _, ok := byDivision[p.DivisionID]; !ok {
			order = append(order, p.DivisionID)
		}
		byDivision[p.DivisionID] = append(byDivision[p.DivisionID], p)
	}
	sort.Strings(order)

	standings := make([]Standing, 0, len(participants))
	for _, divisionID := range order {
		group := byDivision[divisionID]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].WeeklyXP != group[j].WeeklyXP {
				return group[i].WeeklyXP > group[j].WeeklyXP
			}
			if !group[i].JoinedAt.Equal(group[j].JoinedAt) {
				return group[i].JoinedAt.Before(group[j].JoinedAt)
			}
			return group[i].StudentID < group[j].StudentID
		})
		for i, p := range group {
			standings = append(standings, Standing{
				ParticipationID: p.ID,
				StudentID:       p.StudentID,
				DivisionID:      divisionID,
				WeeklyXP:        p.WeeklyXP,
				Rank:            i + 1,
			})
		}
	}
	return standings
}
