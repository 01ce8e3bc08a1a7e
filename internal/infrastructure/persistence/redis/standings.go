package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEAGUE STANDINGS
// ══════════════════════════════════════════════════════════════════════════════

// Standings implements league.StandingsCache with one sorted set per
// season and division. Scores are weekly XP; ZREVRANK gives the position.
type Standings struct {
	client redis.UniversalClient
}

// NewStandings creates the cache.
func NewStandings(client redis.UniversalClient) *Standings {
	return &Standings{client: client}
}

// SetWeeklyXP writes the student's score and refreshes the board TTL.
func (s *Standings) SetWeeklyXP(ctx context.Context, seasonID, divisionID, studentID string, weeklyXP int64) error {
	key := StandingsKey(seasonID, divisionID)

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(weeklyXP), Member: studentID})
	pipe.Expire(ctx, key, TTLStandings)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove drops the student from a division board.
func (s *Standings) Remove(ctx context.Context, seasonID, divisionID, studentID string) error {
	return s.client.ZRem(ctx, StandingsKey(seasonID, divisionID), studentID).Err()
}

// Rank returns the 1-based position, 0 when the student is absent.
func (s *Standings) Rank(ctx context.Context, seasonID, divisionID, studentID string) (int, error) {
	// ZRevRank returns 0-based rank (0 = highest score)
	rank, err := s.client.ZRevRank(ctx, StandingsKey(seasonID, divisionID), studentID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(rank) + 1, nil
}

// DropSeason deletes every board of the season.
func (s *Standings) DropSeason(ctx context.Context, seasonID string, divisionIDs []string) error {
	if len(divisionIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(divisionIDs))
	for _, d := range divisionIDs {
		keys = append(keys, StandingsKey(seasonID, d))
	}
	return s.client.Del(ctx, keys...).Err()
}
