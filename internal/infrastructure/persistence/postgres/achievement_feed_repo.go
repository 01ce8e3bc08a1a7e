package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alem-hub/alem-progression/internal/domain/achievement"
	"github.com/alem-hub/alem-progression/internal/domain/feed"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.Repository for PostgreSQL.
type AchievementRepository struct {
	conn *Connection
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

// ListCatalog returns the whole catalog.
func (r *AchievementRepository) ListCatalog(ctx context.Context) ([]achievement.Achievement, error) {
	rows, err := r.conn.Query(ctx, `SELECT id, name, title, description, xp_reward FROM achievements ORDER BY id`)
	if err != nil {
		return nil, mapError("achievement", "ListCatalog", err, nil)
	}
	defer rows.Close()

	var out []achievement.Achievement
	for rows.Next() {
		var a achievement.Achievement
		if err := rows.Scan(&a.ID, &a.Name, &a.Title, &a.Description, &a.XPReward); err != nil {
			return nil, mapError("achievement", "ListCatalog", err, nil)
		}
		out = append(out, a)
	}
	return out, mapError("achievement", "ListCatalog", rows.Err(), nil)
}

// ListEarnedIDs returns the IDs the student already holds.
func (r *AchievementRepository) ListEarnedIDs(ctx context.Context, studentID string) ([]string, error) {
	rows, err := r.conn.Query(ctx, `SELECT achievement_id FROM student_achievements WHERE student_id = $1`, studentID)
	if err != nil {
		return nil, mapError("achievement", "ListEarnedIDs", err, nil)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError("achievement", "ListEarnedIDs", err, nil)
		}
		ids = append(ids, id)
	}
	return ids, mapError("achievement", "ListEarnedIDs", rows.Err(), nil)
}

// Award inserts the award; the unique constraint turns a repeat into ErrAlreadyExists.
func (r *AchievementRepository) Award(ctx context.Context, a *achievement.StudentAchievement) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO student_achievements (id, student_id, achievement_id, earned_at)
		VALUES ($1, $2, $3, $4)
	`, a.ID, a.StudentID, a.AchievementID, a.EarnedAt)
	if IsUniqueViolation(err) {
		return shared.ErrAchievementAlreadyEarned
	}
	return mapError("achievement", "Award", err, nil)
}

// Revoke deletes an award by ID.
func (r *AchievementRepository) Revoke(ctx context.Context, awardID string) error {
	_, err := r.conn.Exec(ctx, `DELETE FROM student_achievements WHERE id = $1`, awardID)
	return mapError("achievement", "Revoke", err, nil)
}

// ListEarned returns the student's awards, newest first.
func (r *AchievementRepository) ListEarned(ctx context.Context, studentID string) ([]*achievement.StudentAchievement, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, student_id, achievement_id, earned_at
		FROM student_achievements
		WHERE student_id = $1
		ORDER BY earned_at DESC
	`, studentID)
	if err != nil {
		return nil, mapError("achievement", "ListEarned", err, nil)
	}
	defer rows.Close()

	var out []*achievement.StudentAchievement
	for rows.Next() {
		var a achievement.StudentAchievement
		if err := rows.Scan(&a.ID, &a.StudentID, &a.AchievementID, &a.EarnedAt); err != nil {
			return nil, mapError("achievement", "ListEarned", err, nil)
		}
		out = append(out, &a)
	}
	return out, mapError("achievement", "ListEarned", rows.Err(), nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// FEED REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// FeedRepository implements feed.Repository for PostgreSQL.
type FeedRepository struct {
	conn *Connection
}

// NewFeedRepository creates a new FeedRepository.
func NewFeedRepository(conn *Connection) *FeedRepository {
	return &FeedRepository{conn: conn}
}

// Append inserts an entry.
func (r *FeedRepository) Append(ctx context.Context, e *feed.Entry) error {
	metadata, err := json.Marshal(nonNilMetadata(e.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO activity_feed (id, student_id, kind, title, description, metadata, is_public, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.StudentID, string(e.Kind), e.Title, e.Description, metadata, e.IsPublic, e.CreatedAt)
	return mapError("feed", "Append", err, nil)
}

// ListByStudent returns entries newest first.
func (r *FeedRepository) ListByStudent(ctx context.Context, studentID string, publicOnly bool, limit int) ([]*feed.Entry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, student_id, kind, title, description, metadata, is_public, created_at
		FROM activity_feed
		WHERE student_id = $1 AND (is_public OR NOT $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, studentID, publicOnly, limit)
	if err != nil {
		return nil, mapError("feed", "ListByStudent", err, nil)
	}
	defer rows.Close()

	var out []*feed.Entry
	for rows.Next() {
		var (
			e        feed.Entry
			kind     string
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.StudentID, &kind, &e.Title, &e.Description, &metadata, &e.IsPublic, &e.CreatedAt); err != nil {
			return nil, mapError("feed", "ListByStudent", err, nil)
		}
		e.Kind = shared.EventType(kind)
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &e.Metadata)
		}
		out = append(out, &e)
	}
	return out, mapError("feed", "ListByStudent", rows.Err(), nil)
}
