// Package analytics reads lesson history for achievement rules. It runs on
// database/sql through sqlx and lib/pq so the aggregate queries can target a
// read replica independently of the pgx pool that serves writes.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/alem-hub/alem-progression/internal/domain/achievement"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// History implements achievement.Journal and achievement.HistoryReader over
// the lesson_attempts table.
type History struct {
	db  *sqlx.DB
	loc *time.Location
}

// Open connects through the lib/pq driver.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewHistory constructs the reader. loc decides local hours and days.
func NewHistory(db *sqlx.DB, loc *time.Location) *History {
	if loc == nil {
		loc = time.UTC
	}
	return &History{db: db, loc: loc}
}

func (h *History) zone() string {
	return h.loc.String()
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return shared.StoreError("achievement", op, err)
}

// Record appends an attempt. Replaying the same attempt ID is a no-op.
func (h *History) Record(ctx context.Context, a *achievement.Attempt) error {
	_, err := h.db.ExecContext(ctx, `INSERT INTO lesson_attempts (id, student_id, lesson_id, subject, score, total_points, accuracy, time_taken, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.StudentID, a.LessonID, a.Subject, a.Score, a.TotalPoints, a.Accuracy, a.TimeTaken, a.CompletedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return nil
	}
	return wrap("RecordAttempt", err)
}

// CountLessons returns the number of attempts.
func (h *History) CountLessons(ctx context.Context, studentID string) (int, error) {
	var n int
	err := h.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM lesson_attempts WHERE student_id = $1`, studentID)
	return n, wrap("CountLessons", err)
}

// CountPerfect returns the number of full-score attempts.
func (h *History) CountPerfect(ctx context.Context, studentID string) (int, error) {
	var n int
	err := h.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM lesson_attempts WHERE student_id = $1 AND accuracy >= 100`, studentID)
	return n, wrap("CountPerfect", err)
}

type accuracyStats struct {
	Avg     float64 `db:"avg"`
	Samples int     `db:"samples"`
}

// AccuracyStats returns the mean accuracy and the sample size.
func (h *History) AccuracyStats(ctx context.Context, studentID string) (float64, int, error) {
	var s accuracyStats
	err := h.db.GetContext(ctx, &s, `SELECT COALESCE(AVG(accuracy), 0) AS avg, COUNT(*) AS samples FROM lesson_attempts WHERE student_id = $1`, studentID)
	return s.Avg, s.Samples, wrap("AccuracyStats", err)
}

// FastestCompletion returns the shortest positive completion time.
func (h *History) FastestCompletion(ctx context.Context, studentID string) (int, bool, error) {
	var best sql.NullInt64
	err := h.db.GetContext(ctx, &best, `SELECT MIN(time_taken) FROM lesson_attempts WHERE student_id = $1 AND time_taken > 0`, studentID)
	if err != nil {
		return 0, false, wrap("FastestCompletion", err)
	}
	return int(best.Int64), best.Valid, nil
}

// MaxUniqueLessonsPerSubject returns the deepest subject by distinct lessons.
func (h *History) MaxUniqueLessonsPerSubject(ctx context.Context, studentID string) (int, error) {
	var n int
	err := h.db.GetContext(ctx, &n, `SELECT COALESCE(MAX(lessons), 0) FROM (SELECT COUNT(DISTINCT lesson_id) AS lessons FROM lesson_attempts WHERE student_id = $1 AND subject <> '' GROUP BY subject) per_subject`, studentID)
	return n, wrap("MaxUniqueLessonsPerSubject", err)
}

type hourShare struct {
	Hits    int `db:"hits"`
	Samples int `db:"samples"`
}

// HourShare returns the share of attempts with a local hour in [fromHour, toHour).
func (h *History) HourShare(ctx context.Context, studentID string, fromHour, toHour int) (float64, int, error) {
	cond := "EXTRACT(HOUR FROM completed_at AT TIME ZONE $2) >= $3 AND EXTRACT(HOUR FROM completed_at AT TIME ZONE $2) < $4"
	if fromHour > toHour {
		cond = "EXTRACT(HOUR FROM completed_at AT TIME ZONE $2) >= $3 OR EXTRACT(HOUR FROM completed_at AT TIME ZONE $2) < $4"
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FILTER (WHERE %s) AS hits, COUNT(*) AS samples FROM lesson_attempts WHERE student_id = $1`, cond)

	var s hourShare
	if err := h.db.GetContext(ctx, &s, query, studentID, h.zone(), fromHour, toHour); err != nil {
		return 0, 0, wrap("HourShare", err)
	}
	if s.Samples == 0 {
		return 0, 0, nil
	}
	return float64(s.Hits) / float64(s.Samples), s.Samples, nil
}

// WeekendSessions counts attempts on a local Saturday or Sunday.
func (h *History) WeekendSessions(ctx context.Context, studentID string) (int, error) {
	var n int
	err := h.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM lesson_attempts WHERE student_id = $1 AND EXTRACT(ISODOW FROM completed_at AT TIME ZONE $2) IN (6, 7)`, studentID, h.zone())
	return n, wrap("WeekendSessions", err)
}

// ActivityDays returns the distinct local days with attempts, ascending.
func (h *History) ActivityDays(ctx context.Context, studentID string) ([]time.Time, error) {
	var raw []time.Time
	err := h.db.SelectContext(ctx, &raw, `SELECT DISTINCT (completed_at AT TIME ZONE $2)::date AS day FROM lesson_attempts WHERE student_id = $1 ORDER BY day`, studentID, h.zone())
	if err != nil {
		return nil, wrap("ActivityDays", err)
	}
	days := make([]time.Time, 0, len(raw))
	for _, d := range raw {
		y, m, dd := d.Date()
		days = append(days, time.Date(y, m, dd, 0, 0, 0, 0, h.loc))
	}
	return days, nil
}

// AccuracySeries returns accuracies in chronological order.
func (h *History) AccuracySeries(ctx context.Context, studentID string) ([]float64, error) {
	var series []float64
	err := h.db.SelectContext(ctx, &series, `SELECT accuracy FROM lesson_attempts WHERE student_id = $1 ORDER BY completed_at`, studentID)
	return series, wrap("AccuracySeries", err)
}
