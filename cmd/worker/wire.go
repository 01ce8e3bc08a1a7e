package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/alem-hub/alem-progression/config"
	"github.com/alem-hub/alem-progression/internal/application/command"
	"github.com/alem-hub/alem-progression/internal/application/eventhandler"
	"github.com/alem-hub/alem-progression/internal/application/query"
	"github.com/alem-hub/alem-progression/internal/application/saga"
	"github.com/alem-hub/alem-progression/internal/domain/achievement"
	"github.com/alem-hub/alem-progression/internal/domain/feed"
	"github.com/alem-hub/alem-progression/internal/domain/league"
	"github.com/alem-hub/alem-progression/internal/domain/quest"
	"github.com/alem-hub/alem-progression/internal/domain/rating"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/streak"
	"github.com/alem-hub/alem-progression/internal/domain/xp"
	"github.com/alem-hub/alem-progression/internal/infrastructure/health"
	"github.com/alem-hub/alem-progression/internal/infrastructure/messaging"
	"github.com/alem-hub/alem-progression/internal/infrastructure/metrics"
	"github.com/alem-hub/alem-progression/internal/infrastructure/persistence/analytics"
	"github.com/alem-hub/alem-progression/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/alem-progression/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/alem-progression/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/alem-progression/pkg/circuitbreaker"
	"github.com/alem-hub/alem-progression/pkg/keylock"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/retry"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORES
// ══════════════════════════════════════════════════════════════════════════════

// stores holds one implementation per repository port.
type stores struct {
	ledger       xp.Ledger
	streaks      streak.Repository
	ratings      rating.Repository
	leagues      league.Repository
	standings    league.StandingsCache
	quests       quest.Repository
	achievements achievement.Repository
	journal      achievement.Journal
	history      achievement.HistoryReader
	feed         feed.Repository
	locker       shared.StudentLocker

	// checks feed the readiness endpoint.
	checks []storeCheck

	closers []func()
}

type storeCheck struct {
	name     string
	fn       health.CheckFunc
	critical bool
}

// registerChecks adds every store check to c.
func (s *stores) registerChecks(c *health.Checker) {
	for _, sc := range s.checks {
		if sc.critical {
			c.AddCheck(sc.name, sc.fn)
		} else {
			c.AddOptional(sc.name, sc.fn)
		}
	}
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// memoryStores backs every port with the in-process store.
func memoryStores(cfg *config.Config) *stores {
	mem := memory.NewStore(cfg.App.Location)
	return &stores{
		ledger:       mem.Ledger,
		streaks:      mem.Streaks,
		ratings:      mem.Ratings,
		leagues:      mem.Leagues,
		standings:    memory.NewStandings(),
		quests:       mem.Quests,
		achievements: mem.Achievements,
		journal:      mem.History,
		history:      mem.History,
		feed:         mem.Feed,
		locker:       keylock.New(0),
	}
}

// openStores connects PostgreSQL, the analytics handle and, when enabled,
// Redis. A Redis outage at startup falls back to the in-process lock and
// standings.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Database.Disabled {
		log.Warn("database disabled, using in-memory store")
		return memoryStores(cfg), nil
	}

	s := &stores{}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	pgCfg.MinConns = int32(cfg.Database.MinConns)
	pgCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout

	log.Info("connecting to database...")
	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.closers = append(s.closers, conn.Close)
	s.checks = append(s.checks, storeCheck{name: "postgres", fn: health.PingCheck(conn), critical: true})
	log.Info("database connection established")

	if cfg.Database.RunMigrations {
		log.Info("checking database migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	var db *sqlx.DB
	db, err = analytics.Open(pgCfg.DSN())
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = db.Close() })
	history := analytics.NewHistory(db, cfg.App.Location)

	s.ledger = postgres.NewXPLedger(conn)
	s.streaks = postgres.NewStreakRepository(conn, cfg.App.Location)
	s.ratings = postgres.NewRatingRepository(conn)
	s.leagues = postgres.NewLeagueRepository(conn)
	s.quests = postgres.NewQuestRepository(conn, cfg.App.Location)
	s.achievements = postgres.NewAchievementRepository(conn)
	s.journal = history
	s.history = history
	s.feed = postgres.NewFeedRepository(conn)
	s.standings = memory.NewStandings()
	s.locker = keylock.New(0)

	if cfg.Redis.Enabled {
		client, err := connectRedis(ctx, cfg)
		if err != nil {
			log.Warn("failed to connect to Redis, using in-process lock and standings", logger.Err(err))
		} else {
			s.closers = append(s.closers, func() { _ = client.Close() })
			s.locker = redis.NewStudentLock(client, redis.StudentLockConfig{
				TTL:      cfg.Redis.LockTTL,
				Attempts: cfg.Redis.LockAttempts,
			}, log)
			breaker := standingsBreaker(cfg, log)
			s.standings = redis.NewGuardedStandings(redis.NewStandings(client), breaker)
			s.checks = append(s.checks,
				storeCheck{name: "redis", fn: func(ctx context.Context) error { return client.Ping(ctx).Err() }},
				storeCheck{name: "standings", fn: func(context.Context) error {
					if state := breaker.State(); state != circuitbreaker.StateClosed {
						return fmt.Errorf("circuit %s", state)
					}
					return nil
				}},
			)
			log.Info("Redis connection established")
		}
	}

	ok = true
	return s, nil
}

// standingsBreaker trips after repeated Redis failures so league ranks come
// from the store without waiting on timeouts. Cancelled requests don't count.
func standingsBreaker(cfg *config.Config, log *logger.Logger) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New("standings",
		circuitbreaker.WithFailureThreshold(cfg.Redis.BreakerFailures),
		circuitbreaker.WithCoolDown(cfg.Redis.BreakerCoolDown),
		circuitbreaker.WithIsFailure(func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	)
}

func connectRedis(ctx context.Context, cfg *config.Config) (*goredis.Client, error) {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return redis.NewClient(ctx, rc)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// engine is the wired progression system.
type engine struct {
	bus          *messaging.InMemoryEventBus
	metrics      *metrics.Progression
	xp           *command.XPHandler
	streaks      *command.StreakHandler
	ratings      *command.RatingHandler
	leagues      *command.LeagueHandler
	quests       *command.QuestHandler
	achievements *saga.AchievementFlowSaga
	lessons      *saga.LessonSubmissionSaga
	profile      *query.GetProgressionProfileHandler
}

// buildEngine wires handlers over s. clock may be nil.
func buildEngine(cfg *config.Config, s *stores, clock timeutil.Clock, log *logger.Logger) (*engine, error) {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	loc := cfg.App.Location
	m := metrics.New()

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	busCfg.Observer = m
	bus := messaging.NewInMemoryEventBus(busCfg)

	// Feed writes retry transient store errors before the bus logs them.
	feedSubscriber := messaging.WithMiddleware(bus,
		messaging.LoggingMiddleware(log, 500*time.Millisecond),
		messaging.RetryMiddleware(retry.StoreRetrier(shared.IsRetryable)),
	)
	if err := eventhandler.NewOnActivityLoggedHandler(s.feed, log).Register(feedSubscriber); err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("subscribe feed recorder: %w", err)
	}

	leagueCfg := command.DefaultLeagueConfig()
	leagueCfg.Location = loc
	leagueCfg.PlacementWindow = cfg.Progression.PlacementWindow
	leagues := command.NewLeagueHandler(s.leagues, s.ledger, s.standings, s.locker, bus, m, clock, leagueCfg, log)

	xpCfg := command.DefaultXPConfig()
	xpCfg.LevelUpMode = command.ParseLevelUpMode(cfg.Progression.LevelUpMode)
	if cfg.Features.IsEnabled(config.FeatureCascadeLevelUp) {
		xpCfg.LevelUpMode = command.LevelUpCascade
	}
	var accumulator command.WeeklyXPAccumulator
	if cfg.Features.IsEnabled(config.FeatureLeagues) {
		accumulator = leagues
	}
	xpHandler := command.NewXPHandler(s.ledger, s.locker, accumulator, bus, m, clock, xpCfg, log)

	streaks := command.NewStreakHandler(s.streaks, xpHandler, s.locker, bus, m, clock, command.StreakConfig{Location: loc}, log)
	ratings := command.NewRatingHandler(s.ratings, s.locker, clock, command.RatingConfig{Floor: cfg.Progression.RatingFloor}, log)

	questCfg := command.DefaultQuestConfig()
	questCfg.Location = loc
	quests := command.NewQuestHandler(s.quests, xpHandler, s.locker, bus, m, clock, questCfg, log)

	achCfg := saga.DefaultAchievementFlowConfig()
	achCfg.Location = loc
	achievements, err := saga.NewAchievementFlowSagaBuilder().
		WithRepository(s.achievements).
		WithHistory(s.history).
		WithProgress(saga.EngineProgress{Streaks: streaks, XP: xpHandler}).
		WithAwarder(xpHandler).
		WithLocker(s.locker).
		WithEventBus(bus).
		WithMetrics(m).
		WithClock(clock).
		WithConfig(achCfg).
		WithLogger(log).
		Build()
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("build achievement flow: %w", err)
	}

	lessonCfg := saga.DefaultLessonSubmissionConfig()
	lessonCfg.BaseLessonXP = cfg.Progression.BaseLessonXP
	lessonCfg.PerfectBonusXP = cfg.Progression.PerfectBonusXP
	lessonCfg.Location = loc
	lessons, err := saga.NewLessonSubmissionSaga(saga.LessonSubmissionDeps{
		XP:           xpHandler,
		Streaks:      streaks,
		Ratings:      ratings,
		Quests:       quests,
		Achievements: achievements,
		Journal:      s.journal,
		Features:     cfg.Features,
		Locker:       s.locker,
		Metrics:      m,
		Clock:        clock,
		Logger:       log,
	}, lessonCfg)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("build lesson submission: %w", err)
	}

	var profileLeagues *command.LeagueHandler
	if accumulator != nil {
		profileLeagues = leagues
	}
	profile := query.NewGetProgressionProfileHandler(xpHandler, streaks, ratings, profileLeagues, quests, achievements, s.feed, clock, log)

	return &engine{
		bus:          bus,
		metrics:      m,
		xp:           xpHandler,
		streaks:      streaks,
		ratings:      ratings,
		leagues:      leagues,
		quests:       quests,
		achievements: achievements,
		lessons:      lessons,
		profile:      profile,
	}, nil
}

// startupChecks validates catalogs and closes a season that expired while
// the worker was down. Failures are logged; the next tick retries.
func (e *engine) startupChecks(ctx context.Context, cfg *config.Config, log *logger.Logger) {
	if err := e.leagues.ValidateCatalog(ctx); err != nil {
		log.Warn("league catalog check failed", logger.Err(err))
	}
	if !cfg.Scheduler.RolloverOnStart {
		return
	}
	rolled, err := e.leagues.CheckAndStartNewSeasonIfNeeded(ctx)
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		log.Warn("startup season check failed", logger.Err(err))
	case rolled:
		log.Info("expired season closed at startup")
	}
}

func (e *engine) close() {
	_ = e.bus.Close()
}
