package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/alem-progression/internal/domain/league"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// LeagueRepository implements league.Repository. At most one season is
// active at a time, mirroring the partial unique index in PostgreSQL.
type LeagueRepository struct {
	mu             sync.RWMutex
	divisions      []league.Division
	seasons        map[string]*league.Season
	participations map[string]*league.Participation // key: season/student
}

// NewLeagueRepository creates a repository over the division catalog.
// A nil catalog means league.DefaultDivisions.
func NewLeagueRepository(divisions []league.Division) *LeagueRepository {
	if divisions == nil {
		divisions = league.DefaultDivisions()
	}
	return &LeagueRepository{
		divisions:      league.SortDivisions(divisions),
		seasons:        make(map[string]*league.Season),
		participations: make(map[string]*league.Participation),
	}
}

func participationKey(seasonID, studentID string) string {
	return seasonID + "/" + studentID
}

func cloneSeason(s *league.Season) *league.Season {
	c := *s
	if s.FrozenAt != nil {
		t := *s.FrozenAt
		c.FrozenAt = &t
	}
	return &c
}

// GetActiveSeason returns the active season.
func (r *LeagueRepository) GetActiveSeason(_ context.Context) (*league.Season, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.seasons {
		if s.IsActive {
			return cloneSeason(s), nil
		}
	}
	return nil, shared.ErrNoActiveSeason
}

// GetSeason returns a season by ID.
func (r *LeagueRepository) GetSeason(_ context.Context, id string) (*league.Season, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.seasons[id]
	if !ok {
		return nil, shared.ErrSeasonNotFound
	}
	return cloneSeason(s), nil
}

// CreateSeason inserts a season, refusing a second active one.
func (r *LeagueRepository) CreateSeason(_ context.Context, season *league.Season) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seasons[season.ID]; ok {
		return shared.ErrAlreadyExists
	}
	if season.IsActive {
		for _, s := range r.seasons {
			if s.IsActive {
				return shared.ErrAlreadyExists
			}
		}
	}
	r.seasons[season.ID] = cloneSeason(season)
	return nil
}

// FreezeSeason stores final ranks once.
func (r *LeagueRepository) FreezeSeason(_ context.Context, seasonID string, standings []league.Standing, frozenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.seasons[seasonID]
	if !ok {
		return shared.ErrSeasonNotFound
	}
	if s.IsFrozen() {
		return nil
	}

	for _, st := range standings {
		p, ok := r.participations[participationKey(seasonID, st.StudentID)]
		if !ok {
			continue
		}
		rank := st.Rank
		weekly := st.WeeklyXP
		p.FinalRank = &rank
		p.FinalWeeklyXP = &weekly
	}
	t := frozenAt
	s.FrozenAt = &t
	return nil
}

// ResetSeasonParticipants zeroes weekly XP and movement flags.
func (r *LeagueRepository) ResetSeasonParticipants(_ context.Context, seasonID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.participations {
		if p.SeasonID != seasonID {
			continue
		}
		p.WeeklyXP = 0
		p.Promoted = false
		p.Demoted = false
		n++
	}
	return n, nil
}

// DeactivateSeason clears the active flag.
func (r *LeagueRepository) DeactivateSeason(_ context.Context, seasonID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.seasons[seasonID]
	if !ok {
		return shared.ErrSeasonNotFound
	}
	s.IsActive = false
	return nil
}

// ListDivisions returns the catalog in ascending order.
func (r *LeagueRepository) ListDivisions(_ context.Context) ([]league.Division, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]league.Division, len(r.divisions))
	copy(out, r.divisions)
	return out, nil
}

// GetParticipation returns the participation of a student in a season.
func (r *LeagueRepository) GetParticipation(_ context.Context, studentID, seasonID string) (*league.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participations[participationKey(seasonID, studentID)]
	if !ok {
		return nil, shared.ErrParticipationGone
	}
	return p.Clone(), nil
}

// CreateParticipation inserts a participation.
func (r *LeagueRepository) CreateParticipation(_ context.Context, p *league.Participation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := participationKey(p.SeasonID, p.StudentID)
	if _, ok := r.participations[key]; ok {
		return shared.ErrAlreadyExists
	}
	r.participations[key] = p.Clone()
	return nil
}

// UpdateParticipation stores division, weekly XP and flags.
func (r *LeagueRepository) UpdateParticipation(_ context.Context, p *league.Participation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.seasons[p.SeasonID]; !ok || !s.IsActive || s.IsFrozen() {
		return shared.ErrSeasonClosed
	}
	stored, ok := r.participations[participationKey(p.SeasonID, p.StudentID)]
	if !ok {
		return shared.ErrParticipationGone
	}
	stored.DivisionID = p.DivisionID
	stored.WeeklyXP = p.WeeklyXP
	stored.Promoted = p.Promoted
	stored.Demoted = p.Demoted
	stored.UpdatedAt = p.UpdatedAt
	return nil
}

// ListParticipants returns every participant of the season ordered by join time.
func (r *LeagueRepository) ListParticipants(_ context.Context, seasonID string) ([]*league.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*league.Participation
	for _, p := range r.participations {
		if p.SeasonID == seasonID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}
