package command_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alem-hub/alem-progression/internal/application/command"
	"github.com/alem-hub/alem-progression/internal/domain/league"
	"github.com/alem-hub/alem-progression/internal/domain/quest"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/alem-progression/pkg/keylock"
)

// Wednesday; the league week runs 2026-03-01 .. 2026-03-07 in UTC.
var start = time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) AddDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type countingMetrics struct {
	command.NopMetrics

	mu     sync.Mutex
	failed []string
}

func (m *countingMetrics) SubsystemFailed(subsystem string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, subsystem)
}

type brokenLeague struct{}

func (brokenLeague) AddWeeklyXP(context.Context, string, int64) (*league.Participation, error) {
	return nil, shared.WrapError("league", "AddWeeklyXP", shared.ErrStoreUnavailable, "down", errors.New("connection refused"))
}

// flakyAwarder fails the first `failures` awards with a retryable error.
type flakyAwarder struct {
	next command.XPAwarder

	mu       sync.Mutex
	failures int
	calls    int
}

func (a *flakyAwarder) AwardXP(ctx context.Context, cmd command.AwardXPCommand) (*command.AwardXPResult, error) {
	a.mu.Lock()
	a.calls++
	fail := a.failures > 0
	if fail {
		a.failures--
	}
	a.mu.Unlock()

	if fail {
		return nil, shared.WrapError("xp", "AwardXP", shared.ErrStoreUnavailable, "ledger down", errors.New("connection reset"))
	}
	return a.next.AwardXP(ctx, cmd)
}

type fixture struct {
	store     *memory.Store
	standings *memory.Standings
	clock     *testClock
	events    *recorder

	xp      *command.XPHandler
	leagues *command.LeagueHandler
	streaks *command.StreakHandler
	ratings *command.RatingHandler
	quests  *command.QuestHandler
}

type fixtureOptions struct {
	mode    command.LevelUpMode
	catalog []quest.Template
	floor   *int
}

type option func(*fixtureOptions)

func withCascade() option {
	return func(o *fixtureOptions) { o.mode = command.LevelUpCascade }
}

func withCatalog(catalog ...quest.Template) option {
	return func(o *fixtureOptions) { o.catalog = catalog }
}

func withFloor(floor int) option {
	return func(o *fixtureOptions) { o.floor = &floor }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()

	o := fixtureOptions{mode: command.LevelUpLegacy}
	for _, opt := range opts {
		opt(&o)
	}

	f := &fixture{
		store:     memory.NewStore(time.UTC),
		standings: memory.NewStandings(),
		clock:     &testClock{now: start},
		events:    &recorder{},
	}
	locker := keylock.New(0)

	f.leagues = command.NewLeagueHandler(f.store.Leagues, f.store.Ledger, f.standings, locker, f.events, nil, f.clock.Now,
		command.LeagueConfig{Location: time.UTC, PlacementWindow: 7 * 24 * time.Hour}, nil)
	f.xp = command.NewXPHandler(f.store.Ledger, locker, f.leagues, f.events, nil, f.clock.Now,
		command.XPConfig{LevelUpMode: o.mode}, nil)
	f.streaks = command.NewStreakHandler(f.store.Streaks, f.xp, locker, f.events, nil, f.clock.Now,
		command.StreakConfig{Location: time.UTC}, nil)
	f.ratings = command.NewRatingHandler(f.store.Ratings, locker, f.clock.Now, command.RatingConfig{Floor: o.floor}, nil)
	f.quests = command.NewQuestHandler(f.store.Quests, f.xp, locker, f.events, nil, f.clock.Now,
		command.QuestConfig{Location: time.UTC, Catalog: o.catalog}, nil)
	return f
}
