package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/alem-progression/internal/domain/quest"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUEST REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// QuestRepository implements quest.Repository for PostgreSQL.
type QuestRepository struct {
	conn *Connection
	loc  *time.Location
}

// NewQuestRepository creates a new QuestRepository. loc turns instants into
// the DATE key of a quest.
func NewQuestRepository(conn *Connection, loc *time.Location) *QuestRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &QuestRepository{conn: conn, loc: loc}
}

func (r *QuestRepository) dateKey(t time.Time) string {
	return t.In(r.loc).Format("2006-01-02")
}

const selectQuest = `
	SELECT id, template_key, title, description, category, requirements, xp_reward, active_date, created_at
	FROM daily_quests
`

func (r *QuestRepository) scanQuest(row pgx.Row) (*quest.DailyQuest, error) {
	var (
		q        quest.DailyQuest
		category string
		reqs     []byte
		date     time.Time
	)
	if err := row.Scan(&q.ID, &q.TemplateKey, &q.Title, &q.Description, &category, &reqs, &q.XPReward, &date, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.Category = quest.Category(category)
	if err := json.Unmarshal(reqs, &q.Requirements); err != nil {
		return nil, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}
	y, m, d := date.Date()
	q.ActiveDate = time.Date(y, m, d, 0, 0, 0, 0, r.loc)
	return &q, nil
}

// ListByDate returns the quests active on date.
func (r *QuestRepository) ListByDate(ctx context.Context, date time.Time) ([]*quest.DailyQuest, error) {
	rows, err := r.conn.Query(ctx, selectQuest+" WHERE active_date = $1::date ORDER BY created_at, template_key", r.dateKey(date))
	if err != nil {
		return nil, mapError("quest", "ListByDate", err, nil)
	}
	defer rows.Close()

	var out []*quest.DailyQuest
	for rows.Next() {
		q, err := r.scanQuest(rows)
		if err != nil {
			return nil, mapError("quest", "ListByDate", err, nil)
		}
		out = append(out, q)
	}
	return out, mapError("quest", "ListByDate", rows.Err(), nil)
}

// CreateQuest inserts a quest; the (date, template) constraint rejects duplicates.
func (r *QuestRepository) CreateQuest(ctx context.Context, q *quest.DailyQuest) error {
	reqs, err := json.Marshal(q.Requirements)
	if err != nil {
		return fmt.Errorf("failed to marshal requirements: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO daily_quests (id, template_key, title, description, category, requirements, xp_reward, active_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9)
	`, q.ID, q.TemplateKey, q.Title, q.Description, string(q.Category), reqs, q.XPReward, r.dateKey(q.ActiveDate), q.CreatedAt)
	return mapError("quest", "CreateQuest", err, nil)
}

// GetQuest returns a quest by ID.
func (r *QuestRepository) GetQuest(ctx context.Context, id string) (*quest.DailyQuest, error) {
	q, err := r.scanQuest(r.conn.QueryRow(ctx, selectQuest+" WHERE id = $1", id))
	if err != nil {
		return nil, mapError("quest", "GetQuest", err, shared.ErrQuestNotFound)
	}
	return q, nil
}

const selectProgress = `
	SELECT id, student_id, quest_id, progress, target_progress, completed, completed_at, metadata, updated_at
	FROM quest_progress
`

func scanProgress(row pgx.Row) (*quest.Progress, error) {
	var (
		p        quest.Progress
		metadata []byte
	)
	if err := row.Scan(&p.ID, &p.StudentID, &p.QuestID, &p.Progress, &p.TargetProgress, &p.Completed, &p.CompletedAt, &metadata, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &p.Metadata)
	}
	return &p, nil
}

// GetProgress returns a student's progress on a quest.
func (r *QuestRepository) GetProgress(ctx context.Context, studentID, questID string) (*quest.Progress, error) {
	p, err := scanProgress(r.conn.QueryRow(ctx, selectProgress+" WHERE student_id = $1 AND quest_id = $2", studentID, questID))
	if err != nil {
		return nil, mapError("quest", "GetProgress", err, shared.ErrNotFound)
	}
	return p, nil
}

// SaveProgress upserts progress. A completed row is never reopened.
func (r *QuestRepository) SaveProgress(ctx context.Context, p *quest.Progress) error {
	metadata, err := json.Marshal(nonNilMetadata(p.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO quest_progress (id, student_id, quest_id, progress, target_progress, completed, completed_at, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (student_id, quest_id) DO UPDATE SET
			progress = EXCLUDED.progress,
			completed = EXCLUDED.completed,
			completed_at = EXCLUDED.completed_at,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		WHERE NOT quest_progress.completed
	`, p.ID, p.StudentID, p.QuestID, p.Progress, p.TargetProgress, p.Completed, p.CompletedAt, metadata, p.UpdatedAt)
	return mapError("quest", "SaveProgress", err, nil)
}

// ListProgress returns the student's progress rows for questIDs.
func (r *QuestRepository) ListProgress(ctx context.Context, studentID string, questIDs []string) ([]*quest.Progress, error) {
	if len(questIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn.Query(ctx, selectProgress+" WHERE student_id = $1 AND quest_id = ANY($2::uuid[])", studentID, questIDs)
	if err != nil {
		return nil, mapError("quest", "ListProgress", err, nil)
	}
	defer rows.Close()

	var out []*quest.Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, mapError("quest", "ListProgress", err, nil)
		}
		out = append(out, p)
	}
	return out, mapError("quest", "ListProgress", rows.Err(), nil)
}
