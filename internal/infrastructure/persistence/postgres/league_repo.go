package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/alem-progression/internal/domain/league"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEAGUE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LeagueRepository implements league.Repository for PostgreSQL. The single
// active season is enforced by a partial unique index.
type LeagueRepository struct {
	conn *Connection
}

// NewLeagueRepository creates a new LeagueRepository.
func NewLeagueRepository(conn *Connection) *LeagueRepository {
	return &LeagueRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Seasons
// ─────────────────────────────────────────────────────────────────────────────

const selectSeason = `
	SELECT id, start_date, end_date, is_active, frozen_at, created_at
	FROM league_seasons
`

func scanSeason(row pgx.Row) (*league.Season, error) {
	var s league.Season
	if err := row.Scan(&s.ID, &s.StartDate, &s.EndDate, &s.IsActive, &s.FrozenAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetActiveSeason returns the active season.
func (r *LeagueRepository) GetActiveSeason(ctx context.Context) (*league.Season, error) {
	s, err := scanSeason(r.conn.QueryRow(ctx, selectSeason+" WHERE is_active"))
	if err != nil {
		return nil, mapError("league", "GetActiveSeason", err, shared.ErrNoActiveSeason)
	}
	return s, nil
}

// GetSeason returns a season by ID.
func (r *LeagueRepository) GetSeason(ctx context.Context, id string) (*league.Season, error) {
	s, err := scanSeason(r.conn.QueryRow(ctx, selectSeason+" WHERE id = $1", id))
	if err != nil {
		return nil, mapError("league", "GetSeason", err, shared.ErrSeasonNotFound)
	}
	return s, nil
}

// CreateSeason inserts a season. A second active season violates the index.
func (r *LeagueRepository) CreateSeason(ctx context.Context, s *league.Season) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO league_seasons (id, start_date, end_date, is_active, frozen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.StartDate, s.EndDate, s.IsActive, s.FrozenAt, s.CreatedAt)
	return mapError("league", "CreateSeason", err, nil)
}

// FreezeSeason stores final ranks and marks the season frozen. The
// frozen_at guard makes a repeated call a no-op.
func (r *LeagueRepository) FreezeSeason(ctx context.Context, seasonID string, standings []league.Standing, frozenAt time.Time) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE league_seasons SET frozen_at = $1 WHERE id = $2 AND frozen_at IS NULL`,
			frozenAt, seasonID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, st := range standings {
			batch.Queue(`
				UPDATE league_participations
				SET final_rank = $1, final_weekly_xp = $2
				WHERE season_id = $3 AND student_id = $4
			`, st.Rank, st.WeeklyXP, seasonID, st.StudentID)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return mapError("league", "FreezeSeason", err, nil)
}

// ResetSeasonParticipants zeroes weekly XP and movement flags.
func (r *LeagueRepository) ResetSeasonParticipants(ctx context.Context, seasonID string) (int, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE league_participations
		SET weekly_xp = 0, promoted = FALSE, demoted = FALSE, updated_at = NOW()
		WHERE season_id = $1
	`, seasonID)
	if err != nil {
		return 0, mapError("league", "ResetSeasonParticipants", err, nil)
	}
	return int(tag.RowsAffected()), nil
}

// DeactivateSeason clears the active flag.
func (r *LeagueRepository) DeactivateSeason(ctx context.Context, seasonID string) error {
	_, err := r.conn.Exec(ctx, `UPDATE league_seasons SET is_active = FALSE WHERE id = $1`, seasonID)
	return mapError("league", "DeactivateSeason", err, nil)
}

// ─────────────────────────────────────────────────────────────────────────────
// Divisions
// ─────────────────────────────────────────────────────────────────────────────

// ListDivisions returns the catalog ordered by threshold.
func (r *LeagueRepository) ListDivisions(ctx context.Context) ([]league.Division, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, name, sort_order, min_xp_per_week, max_xp_per_week
		FROM league_divisions
		ORDER BY min_xp_per_week, sort_order
	`)
	if err != nil {
		return nil, mapError("league", "ListDivisions", err, nil)
	}
	defer rows.Close()

	var out []league.Division
	for rows.Next() {
		var d league.Division
		if err := rows.Scan(&d.ID, &d.Name, &d.Order, &d.MinXPPerWeek, &d.MaxXPPerWeek); err != nil {
			return nil, mapError("league", "ListDivisions", err, nil)
		}
		out = append(out, d)
	}
	return out, mapError("league", "ListDivisions", rows.Err(), nil)
}

// ─────────────────────────────────────────────────────────────────────────────
// Participation
// ─────────────────────────────────────────────────────────────────────────────

const selectParticipation = `
	SELECT id, student_id, season_id, division_id, weekly_xp, promoted, demoted,
	       final_rank, final_weekly_xp, joined_at, updated_at
	FROM league_participations
`

func scanParticipation(row pgx.Row) (*league.Participation, error) {
	var p league.Participation
	err := row.Scan(&p.ID, &p.StudentID, &p.SeasonID, &p.DivisionID, &p.WeeklyXP, &p.Promoted, &p.Demoted,
		&p.FinalRank, &p.FinalWeeklyXP, &p.JoinedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetParticipation returns the participation of a student in a season.
func (r *LeagueRepository) GetParticipation(ctx context.Context, studentID, seasonID string) (*league.Participation, error) {
	p, err := scanParticipation(r.conn.QueryRow(ctx,
		selectParticipation+" WHERE student_id = $1 AND season_id = $2", studentID, seasonID))
	if err != nil {
		return nil, mapError("league", "GetParticipation", err, shared.ErrParticipationGone)
	}
	return p, nil
}

// CreateParticipation inserts a participation.
func (r *LeagueRepository) CreateParticipation(ctx context.Context, p *league.Participation) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO league_participations (id, student_id, season_id, division_id, weekly_xp,
		                                   promoted, demoted, joined_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.StudentID, p.SeasonID, p.DivisionID, p.WeeklyXP, p.Promoted, p.Demoted, p.JoinedAt, p.UpdatedAt)
	return mapError("league", "CreateParticipation", err, nil)
}

// UpdateParticipation stores division, weekly XP and flags. Rows of a
// frozen or inactive season are left alone.
func (r *LeagueRepository) UpdateParticipation(ctx context.Context, p *league.Participation) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE league_participations
		SET division_id = $1, weekly_xp = $2, promoted = $3, demoted = $4, updated_at = $5
		WHERE season_id = $6 AND student_id = $7
		  AND season_id IN (SELECT id FROM league_seasons WHERE is_active AND frozen_at IS NULL)
	`, p.DivisionID, p.WeeklyXP, p.Promoted, p.Demoted, p.UpdatedAt, p.SeasonID, p.StudentID)
	if err != nil {
		return mapError("league", "UpdateParticipation", err, nil)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var open bool
	err = r.conn.QueryRow(ctx,
		`SELECT is_active AND frozen_at IS NULL FROM league_seasons WHERE id = $1`, p.SeasonID,
	).Scan(&open)
	switch {
	case errors.Is(err, pgx.ErrNoRows), err == nil && !open:
		return shared.ErrSeasonClosed
	case err != nil:
		return mapError("league", "UpdateParticipation", err, nil)
	}
	return shared.ErrParticipationGone
}

// ListParticipants returns every participant of the season.
func (r *LeagueRepository) ListParticipants(ctx context.Context, seasonID string) ([]*league.Participation, error) {
	rows, err := r.conn.Query(ctx, selectParticipation+" WHERE season_id = $1 ORDER BY joined_at, student_id", seasonID)
	if err != nil {
		return nil, mapError("league", "ListParticipants", err, nil)
	}
	defer rows.Close()

	var out []*league.Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, mapError("league", "ListParticipants", err, nil)
		}
		out = append(out, p)
	}
	return out, mapError("league", "ListParticipants", rows.Err(), nil)
}
