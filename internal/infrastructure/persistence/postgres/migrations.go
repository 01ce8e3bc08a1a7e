package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/alem-progression/internal/domain/achievement"
	"github.com/alem-hub/alem-progression/internal/domain/league"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}

	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insert := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insert, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}

	return nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var last int
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_xp_ledger", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_streaks_and_ratings", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_leagues", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_quests_and_achievements", UpSQL: migration004Up, DownSQL: migration004Down},
		{Version: 5, Name: "seed_catalogs", UpSQL: SeedSQL(league.DefaultDivisions(), achievement.DefaultCatalog()), DownSQL: migration005Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: XP LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS xp_records (
    student_id VARCHAR(64) PRIMARY KEY,
    total_xp BIGINT NOT NULL DEFAULT 0,
    current_level INTEGER NOT NULL DEFAULT 1,
    xp_to_next_level BIGINT NOT NULL DEFAULT 100,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_total_xp CHECK (total_xp >= 0),
    CONSTRAINT valid_level CHECK (current_level BETWEEN 1 AND 200)
);

-- Append-only: rows are never updated or deleted.
CREATE TABLE IF NOT EXISTS xp_transactions (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES xp_records(student_id),
    amount INTEGER NOT NULL,
    type VARCHAR(30) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_tx_type CHECK (type IN (
        'lesson_completion', 'streak_milestone', 'daily_quest',
        'achievement', 'level_up_bonus', 'admin_adjustment'
    )),
    CONSTRAINT positive_unless_adjustment CHECK (amount > 0 OR type = 'admin_adjustment')
);

CREATE INDEX IF NOT EXISTS idx_xp_transactions_student_created ON xp_transactions(student_id, created_at DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS xp_transactions;
DROP TABLE IF EXISTS xp_records;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: STREAKS & RATINGS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS streaks (
    student_id VARCHAR(64) PRIMARY KEY,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_activity_date DATE,
    freezes_available INTEGER NOT NULL DEFAULT 0,
    freezes_used INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_streak CHECK (current_streak >= 0 AND longest_streak >= current_streak),
    CONSTRAINT valid_freezes CHECK (freezes_available >= 0 AND freezes_used >= 0)
);

CREATE TABLE IF NOT EXISTS ratings (
    student_id VARCHAR(64) PRIMARY KEY,
    rating INTEGER NOT NULL DEFAULT 1500,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS rating_history (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    lesson_id VARCHAR(64) NOT NULL,
    previous_rating INTEGER NOT NULL,
    delta INTEGER NOT NULL,
    new_rating INTEGER NOT NULL,
    performance DOUBLE PRECISION NOT NULL,
    time_taken INTEGER NOT NULL DEFAULT 0,
    streak INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_rating_history_student_created ON rating_history(student_id, created_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS rating_history;
DROP TABLE IF EXISTS ratings;
DROP TABLE IF EXISTS streaks;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: LEAGUES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS league_divisions (
    id VARCHAR(30) PRIMARY KEY,
    name VARCHAR(50) NOT NULL,
    sort_order INTEGER NOT NULL UNIQUE,
    min_xp_per_week BIGINT NOT NULL,
    max_xp_per_week BIGINT,

    CONSTRAINT valid_range CHECK (max_xp_per_week IS NULL OR max_xp_per_week > min_xp_per_week)
);

CREATE TABLE IF NOT EXISTS league_seasons (
    id UUID PRIMARY KEY,
    start_date TIMESTAMP WITH TIME ZONE NOT NULL,
    end_date TIMESTAMP WITH TIME ZONE NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    frozen_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- At most one active season.
CREATE UNIQUE INDEX IF NOT EXISTS idx_league_seasons_single_active ON league_seasons(is_active) WHERE is_active;

CREATE TABLE IF NOT EXISTS league_participations (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    season_id UUID NOT NULL REFERENCES league_seasons(id) ON DELETE CASCADE,
    division_id VARCHAR(30) NOT NULL REFERENCES league_divisions(id),
    weekly_xp BIGINT NOT NULL DEFAULT 0,
    promoted BOOLEAN NOT NULL DEFAULT FALSE,
    demoted BOOLEAN NOT NULL DEFAULT FALSE,
    final_rank INTEGER,
    final_weekly_xp BIGINT,
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_season_student UNIQUE (season_id, student_id),
    CONSTRAINT valid_weekly_xp CHECK (weekly_xp >= 0),
    CONSTRAINT single_direction CHECK (NOT (promoted AND demoted))
);

CREATE INDEX IF NOT EXISTS idx_league_participations_division ON league_participations(season_id, division_id, weekly_xp DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS league_participations;
DROP TABLE IF EXISTS league_seasons;
DROP TABLE IF EXISTS league_divisions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: QUESTS, ACHIEVEMENTS, FEED, ATTEMPTS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS daily_quests (
    id UUID PRIMARY KEY,
    template_key VARCHAR(50) NOT NULL,
    title VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category VARCHAR(30) NOT NULL,
    requirements JSONB NOT NULL,
    xp_reward INTEGER NOT NULL,
    active_date DATE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_template_per_day UNIQUE (active_date, template_key)
);

CREATE TABLE IF NOT EXISTS quest_progress (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    quest_id UUID NOT NULL REFERENCES daily_quests(id) ON DELETE CASCADE,
    progress INTEGER NOT NULL DEFAULT 0,
    target_progress INTEGER NOT NULL,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMP WITH TIME ZONE,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_student_quest UNIQUE (student_id, quest_id),
    CONSTRAINT valid_progress CHECK (progress >= 0 AND progress <= target_progress)
);

CREATE TABLE IF NOT EXISTS achievements (
    id VARCHAR(50) PRIMARY KEY,
    name VARCHAR(50) NOT NULL UNIQUE,
    title VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    xp_reward INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS student_achievements (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    achievement_id VARCHAR(50) NOT NULL REFERENCES achievements(id),
    earned_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_student_achievement UNIQUE (student_id, achievement_id)
);

CREATE TABLE IF NOT EXISTS lesson_attempts (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    lesson_id VARCHAR(64) NOT NULL,
    subject VARCHAR(100) NOT NULL DEFAULT '',
    score INTEGER NOT NULL,
    total_points INTEGER NOT NULL,
    accuracy DOUBLE PRECISION NOT NULL,
    time_taken INTEGER NOT NULL DEFAULT 0,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_lesson_attempts_student ON lesson_attempts(student_id, completed_at);

CREATE TABLE IF NOT EXISTS activity_feed (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    kind VARCHAR(40) NOT NULL,
    title VARCHAR(200) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    is_public BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_activity_feed_student_created ON activity_feed(student_id, created_at DESC);
`

const migration004Down = `
DROP TABLE IF EXISTS activity_feed;
DROP TABLE IF EXISTS lesson_attempts;
DROP TABLE IF EXISTS student_achievements;
DROP TABLE IF EXISTS achievements;
DROP TABLE IF EXISTS quest_progress;
DROP TABLE IF EXISTS daily_quests;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 005: CATALOG SEEDS
// ══════════════════════════════════════════════════════════════════════════════

const migration005Down = `
DELETE FROM student_achievements;
DELETE FROM achievements;
DELETE FROM league_participations;
DELETE FROM league_divisions;
`

// SeedSQL renders idempotent inserts for the division and achievement catalogs.
func SeedSQL(divisions []league.Division, catalog []achievement.Achievement) string {
	var b strings.Builder

	for _, d := range divisions {
		upperBound := "NULL"
		if d.MaxXPPerWeek != nil {
			upperBound = fmt.Sprintf("%d", *d.MaxXPPerWeek)
		}
		fmt.Fprintf(&b,
			"INSERT INTO league_divisions (id, name, sort_order, min_xp_per_week, max_xp_per_week) VALUES (%s, %s, %d, %d, %s) ON CONFLICT (id) DO NOTHING;\n",
			quote(d.ID), quote(d.Name), d.Order, d.MinXPPerWeek, upperBound,
		)
	}

	for _, a := range catalog {
		fmt.Fprintf(&b,
			"INSERT INTO achievements (id, name, title, description, xp_reward) VALUES (%s, %s, %s, %s, %d) ON CONFLICT (id) DO NOTHING;\n",
			quote(a.ID), quote(a.Name), quote(a.Title), quote(a.Description), a.XPReward,
		)
	}

	return b.String()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
