package redis

import (
	"context"

	"github.com/alem-hub/alem-progression/internal/domain/league"
	"github.com/alem-hub/alem-progression/pkg/circuitbreaker"
)

// GuardedStandings wraps a StandingsCache with a circuit breaker. While the
// circuit is open every call fails fast and the league falls back to
// store-computed ranks.
type GuardedStandings struct {
	next    league.StandingsCache
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedStandings wraps next.
func NewGuardedStandings(next league.StandingsCache, breaker *circuitbreaker.CircuitBreaker) *GuardedStandings {
	return &GuardedStandings{next: next, breaker: breaker}
}

func (g *GuardedStandings) SetWeeklyXP(ctx context.Context, seasonID, divisionID, studentID string, weeklyXP int64) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.SetWeeklyXP(ctx, seasonID, divisionID, studentID, weeklyXP)
	})
}

func (g *GuardedStandings) Remove(ctx context.Context, seasonID, divisionID, studentID string) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.Remove(ctx, seasonID, divisionID, studentID)
	})
}

func (g *GuardedStandings) Rank(ctx context.Context, seasonID, divisionID, studentID string) (int, error) {
	var rank int
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		rank, err = g.next.Rank(ctx, seasonID, divisionID, studentID)
		return err
	})
	return rank, err
}

func (g *GuardedStandings) DropSeason(ctx context.Context, seasonID string, divisionIDs []string) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.DropSeason(ctx, seasonID, divisionIDs)
	})
}

var _ league.StandingsCache = (*GuardedStandings)(nil)
