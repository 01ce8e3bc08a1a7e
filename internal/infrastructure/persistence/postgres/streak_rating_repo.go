package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/alem-progression/internal/domain/rating"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// StreakRepository implements streak.Repository for PostgreSQL.
type StreakRepository struct {
	conn *Connection
	loc  *time.Location
}

// NewStreakRepository creates a new StreakRepository. loc interprets the
// DATE column of the last activity.
func NewStreakRepository(conn *Connection, loc *time.Location) *StreakRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &StreakRepository{conn: conn, loc: loc}
}

// Get returns the streak record.
func (r *StreakRepository) Get(ctx context.Context, studentID string) (*streak.Record, error) {
	var (
		rec  streak.Record
		last *time.Time
	)
	err := r.conn.QueryRow(ctx, `
		SELECT student_id, current_streak, longest_streak, last_activity_date,
		       freezes_available, freezes_used, updated_at
		FROM streaks
		WHERE student_id = $1
	`, studentID).Scan(
		&rec.StudentID, &rec.CurrentStreak, &rec.LongestStreak, &last,
		&rec.FreezesAvailable, &rec.FreezesUsed, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, mapError("streak", "Get", err, shared.ErrNotFound)
	}
	if last != nil {
		// DATE comes back as midnight UTC; rebuild it as a local day.
		y, m, d := last.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, r.loc)
		rec.LastActivityDate = &day
	}
	return &rec, nil
}

// Save upserts the record.
func (r *StreakRepository) Save(ctx context.Context, rec *streak.Record) error {
	var last *string
	if rec.LastActivityDate != nil {
		day := rec.LastActivityDate.In(r.loc).Format("2006-01-02")
		last = &day
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO streaks (student_id, current_streak, longest_streak, last_activity_date,
		                     freezes_available, freezes_used, updated_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
		ON CONFLICT (student_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_activity_date = EXCLUDED.last_activity_date,
			freezes_available = EXCLUDED.freezes_available,
			freezes_used = EXCLUDED.freezes_used,
			updated_at = EXCLUDED.updated_at
	`, rec.StudentID, rec.CurrentStreak, rec.LongestStreak, last,
		rec.FreezesAvailable, rec.FreezesUsed, rec.UpdatedAt)
	return mapError("streak", "Save", err, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// RATING REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// RatingRepository implements rating.Repository for PostgreSQL.
type RatingRepository struct {
	conn *Connection
}

// NewRatingRepository creates a new RatingRepository.
func NewRatingRepository(conn *Connection) *RatingRepository {
	return &RatingRepository{conn: conn}
}

// Get returns the current rating.
func (r *RatingRepository) Get(ctx context.Context, studentID string) (*rating.Record, error) {
	var rec rating.Record
	err := r.conn.QueryRow(ctx,
		`SELECT student_id, rating, updated_at FROM ratings WHERE student_id = $1`,
		studentID,
	).Scan(&rec.StudentID, &rec.Rating, &rec.UpdatedAt)
	if err != nil {
		return nil, mapError("rating", "Get", err, shared.ErrNotFound)
	}
	return &rec, nil
}

// Update stores the rating and appends the history entry in one transaction.
func (r *RatingRepository) Update(ctx context.Context, rec *rating.Record, entry *rating.HistoryEntry) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ratings (student_id, rating, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (student_id) DO UPDATE SET rating = EXCLUDED.rating, updated_at = EXCLUDED.updated_at
		`, rec.StudentID, rec.Rating, rec.UpdatedAt); err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO rating_history (id, student_id, lesson_id, previous_rating, delta, new_rating,
			                            performance, time_taken, streak, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, entry.ID, entry.StudentID, entry.LessonID, entry.PreviousRating, entry.Delta, entry.NewRating,
			entry.Performance, entry.TimeTaken, entry.Streak, entry.CreatedAt)
		return err
	})
	return mapError("rating", "Update", err, nil)
}

// History returns the newest entries first.
func (r *RatingRepository) History(ctx context.Context, studentID string, limit int) ([]*rating.HistoryEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, student_id, lesson_id, previous_rating, delta, new_rating,
		       performance, time_taken, streak, created_at
		FROM rating_history
		WHERE student_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, studentID, limit)
	if err != nil {
		return nil, mapError("rating", "History", err, nil)
	}
	defer rows.Close()

	var out []*rating.HistoryEntry
	for rows.Next() {
		var e rating.HistoryEntry
		if err := rows.Scan(&e.ID, &e.StudentID, &e.LessonID, &e.PreviousRating, &e.Delta, &e.NewRating,
			&e.Performance, &e.TimeTaken, &e.Streak, &e.CreatedAt); err != nil {
			return nil, mapError("rating", "History", err, nil)
		}
		out = append(out, &e)
	}
	return out, mapError("rating", "History", rows.Err(), nil)
}
