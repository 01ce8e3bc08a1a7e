package memory

import (
	"context"
	"sort"
	"sync"
)

// Standings implements league.StandingsCache with plain maps. It plays the
// role Redis sorted sets play in production.
type Standings struct {
	mu     sync.Mutex
	boards map[string]map[string]int64 // season/division -> student -> weekly xp
}

// NewStandings creates an empty cache.
func NewStandings() *Standings {
	return &Standings{boards: make(map[string]map[string]int64)}
}

func boardKey(seasonID, divisionID string) string {
	return seasonID + "/" + divisionID
}

// SetWeeklyXP sets the score of a student.
func (s *Standings) SetWeeklyXP(_ context.Context, seasonID, divisionID, studentID string, weeklyXP int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := boardKey(seasonID, divisionID)
	if s.boards[key] == nil {
		s.boards[key] = make(map[string]int64)
	}
	s.boards[key][studentID] = weeklyXP
	return nil
}

// Remove deletes a student from a division board.
func (s *Standings) Remove(_ context.Context, seasonID, divisionID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.boards[boardKey(seasonID, divisionID)], studentID)
	return nil
}

// Rank returns the 1-based position, 0 when the student is absent.
// Ties order by student ID, as ZREVRANK does for equal scores.
func (s *Standings) Rank(_ context.Context, seasonID, divisionID, studentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	board := s.boards[boardKey(seasonID, divisionID)]
	if _, ok := board[studentID]; !ok {
		return 0, nil
	}
	ids := make([]string, 0, len(board))
	for id := range board {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if board[ids[i]] != board[ids[j]] {
			return board[ids[i]] > board[ids[j]]
		}
		return ids[i] > ids[j]
	})
	for i, id := range ids {
		if id == studentID {
			return i + 1, nil
		}
	}
	return 0, nil
}

// DropSeason removes the boards of a season.
func (s *Standings) DropSeason(_ context.Context, seasonID string, divisionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range divisionIDs {
		delete(s.boards, boardKey(seasonID, d))
	}
	return nil
}
