package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/alem-progression/internal/domain/quest"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// QuestRepository implements quest.Repository. A template is instantiated
// at most once per calendar date.
type QuestRepository struct {
	mu       sync.RWMutex
	loc      *time.Location
	quests   map[string]*quest.DailyQuest
	byDate   map[string][]string // date -> quest IDs
	progress map[string]*quest.Progress
}

// NewQuestRepository creates an empty repository; loc decides the date key.
func NewQuestRepository(loc *time.Location) *QuestRepository {
	if loc == nil {
		loc = timeutil.DefaultLocation
	}
	return &QuestRepository{
		loc:      loc,
		quests:   make(map[string]*quest.DailyQuest),
		byDate:   make(map[string][]string),
		progress: make(map[string]*quest.Progress),
	}
}

func progressKey(studentID, questID string) string {
	return studentID + "/" + questID
}

func cloneQuest(q *quest.DailyQuest) *quest.DailyQuest {
	c := *q
	return &c
}

func cloneProgress(p *quest.Progress) *quest.Progress {
	c := p.Clone()
	c.Metadata = cloneMetadata(p.Metadata)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// ListByDate returns the quests active on date in creation order.
func (r *QuestRepository) ListByDate(_ context.Context, date time.Time) ([]*quest.DailyQuest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byDate[timeutil.DateKey(date, r.loc)]
	out := make([]*quest.DailyQuest, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneQuest(r.quests[id]))
	}
	return out, nil
}

// CreateQuest inserts a quest unless its template already exists on that date.
func (r *QuestRepository) CreateQuest(_ context.Context, q *quest.DailyQuest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := timeutil.DateKey(q.ActiveDate, r.loc)
	for _, id := range r.byDate[key] {
		if r.quests[id].TemplateKey == q.TemplateKey {
			return shared.ErrAlreadyExists
		}
	}
	r.quests[q.ID] = cloneQuest(q)
	r.byDate[key] = append(r.byDate[key], q.ID)
	return nil
}

// GetQuest returns a quest by ID.
func (r *QuestRepository) GetQuest(_ context.Context, id string) (*quest.DailyQuest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.quests[id]
	if !ok {
		return nil, shared.ErrQuestNotFound
	}
	return cloneQuest(q), nil
}

// GetProgress returns the progress of a student on a quest.
func (r *QuestRepository) GetProgress(_ context.Context, studentID, questID string) (*quest.Progress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.progress[progressKey(studentID, questID)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneProgress(p), nil
}

// SaveProgress upserts progress. A completed row never reverts.
func (r *QuestRepository) SaveProgress(_ context.Context, p *quest.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := progressKey(p.StudentID, p.QuestID)
	if stored, ok := r.progress[key]; ok && stored.Completed && !p.Completed {
		return nil
	}
	r.progress[key] = cloneProgress(p)
	return nil
}

// ListProgress returns the student's progress for the given quests.
func (r *QuestRepository) ListProgress(_ context.Context, studentID string, questIDs []string) ([]*quest.Progress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*quest.Progress, 0, len(questIDs))
	for _, id := range questIDs {
		if p, ok := r.progress[progressKey(studentID, id)]; ok {
			out = append(out, cloneProgress(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QuestID < out[j].QuestID })
	return out, nil
}
