// Package memory provides in-process implementations of the progression
// repositories. They back the engine tests and single-node deployments that
// run without PostgreSQL. Every method copies values in and out so callers
// never share mutable state with the store.
package memory

import (
	"time"

	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// Store groups all in-memory repositories.
type Store struct {
	Ledger       *Ledger
	Streaks      *StreakRepository
	Ratings      *RatingRepository
	Leagues      *LeagueRepository
	Quests       *QuestRepository
	Achievements *AchievementRepository
	History      *History
	Feed         *FeedRepository
}

// NewStore creates empty repositories. The league catalog and achievement
// catalog are seeded with the defaults. loc decides calendar days for quest
// dates and history aggregates.
func NewStore(loc *time.Location) *Store {
	if loc == nil {
		loc = timeutil.DefaultLocation
	}
	return &Store{
		Ledger:       NewLedger(),
		Streaks:      NewStreakRepository(),
		Ratings:      NewRatingRepository(),
		Leagues:      NewLeagueRepository(nil),
		Quests:       NewQuestRepository(loc),
		Achievements: NewAchievementRepository(nil),
		History:      NewHistory(loc),
		Feed:         NewFeedRepository(),
	}
}

func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func clampLimit(n, limit int) int {
	if limit <= 0 || limit > n {
		return n
	}
	return limit
}
