package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/alem-progression/internal/domain/quest"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/xp"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// QuestConfig configures the quest handler.
type QuestConfig struct {
	// Location decides which calendar date "today" is.
	Location *time.Location

	// Catalog overrides the built-in template catalog.
	Catalog []quest.Template
}

// DefaultQuestConfig returns the default configuration.
func DefaultQuestConfig() QuestConfig {
	return QuestConfig{Location: timeutil.DefaultLocation, Catalog: quest.Catalog}
}

// QuestUpdate is the outcome of one progress update.
type QuestUpdate struct {
	Quest         *quest.DailyQuest
	Progress      *quest.Progress
	JustCompleted bool
	XPAwarded     int
}

// QuestHandler generates daily quests and tracks student progress.
type QuestHandler struct {
	repo      quest.Repository
	awarder   XPAwarder
	locker    shared.StudentLocker
	publisher shared.EventPublisher
	metrics   Metrics
	clock     timeutil.Clock
	config    QuestConfig
	log       *logger.Logger

	generation singleflight.Group
}

// NewQuestHandler creates the handler.
func NewQuestHandler(
	repo quest.Repository,
	awarder XPAwarder,
	locker shared.StudentLocker,
	publisher shared.EventPublisher,
	metrics Metrics,
	clock timeutil.Clock,
	config QuestConfig,
	log *logger.Logger,
) *QuestHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if config.Location == nil {
		config.Location = timeutil.DefaultLocation
	}
	if len(config.Catalog) == 0 {
		config.Catalog = quest.Catalog
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &QuestHandler{
		repo:      repo,
		awarder:   awarder,
		locker:    locker,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		config:    config,
		log:       log.With(logger.Component("quest")),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// GENERATION
// ══════════════════════════════════════════════════════════════════════════════

// GenerateDailyQuests returns the quests for the calendar date of at,
// creating the missing ones. Calling it again for the same date returns the
// same rows.
func (h *QuestHandler) GenerateDailyQuests(ctx context.Context, at time.Time) ([]*quest.DailyQuest, error) {
	date := quest.CalendarDate(at, h.config.Location)

	return doShared(ctx, &h.generation, date.Format(time.DateOnly), func(ctx context.Context) ([]*quest.DailyQuest, error) {
		return h.generate(ctx, date)
	})
}

func (h *QuestHandler) generate(ctx context.Context, date time.Time) ([]*quest.DailyQuest, error) {
	const op = "GenerateDailyQuests"

	existing, err := h.repo.ListByDate(ctx, date)
	if err != nil {
		return nil, shared.StoreError("quest", op, err)
	}
	byKey := make(map[string]*quest.DailyQuest, len(existing))
	for _, q := range existing {
		byKey[q.TemplateKey] = q
	}

	templates := quest.SelectTemplates(h.config.Catalog, date)
	raced := false
	for _, t := range templates {
		if _, ok := byKey[t.Key]; ok {
			continue
		}
		q := quest.NewDailyQuest(t, date, h.clock())
		err := h.repo.CreateQuest(ctx, q)
		switch {
		case err == nil:
			byKey[t.Key] = q
		case shared.IsAlreadyExists(err):
			raced = true
		default:
			return nil, shared.StoreError("quest", op, err)
		}
	}

	if raced {
		// Another process created some rows; use theirs.
		existing, err = h.repo.ListByDate(ctx, date)
		if err != nil {
			return nil, shared.StoreError("quest", op, err)
		}
		for _, q := range existing {
			byKey[q.TemplateKey] = q
		}
	}

	quests := make([]*quest.DailyQuest, 0, len(templates))
	for _, t := range templates {
		if q, ok := byKey[t.Key]; ok {
			quests = append(quests, q)
		}
	}
	return quests, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// UpdateProgress adds increment to the student's progress on questID. The
// quest completes at most once; later increments are ignored.
func (h *QuestHandler) UpdateProgress(
	ctx context.Context,
	studentID, questID string,
	increment int,
	metadata map[string]interface{},
) (*QuestUpdate, error) {
	studentID = shared.NormalizeStudentID(studentID)
	if increment <= 0 {
		return nil, shared.ErrInvalidIncrement
	}

	var update *QuestUpdate
	err := h.locker.WithStudentLock(ctx, studentID, func(ctx context.Context) error {
		q, err := h.repo.GetQuest(ctx, questID)
		if err != nil {
			if shared.IsNotFound(err) {
				return shared.ErrQuestNotFound
			}
			return shared.StoreError("quest", "UpdateProgress", err)
		}
		update, err = h.advance(ctx, studentID, q, increment, metadata)
		return err
	})
	if err != nil {
		return nil, err
	}
	return update, nil
}

func (h *QuestHandler) advance(
	ctx context.Context,
	studentID string,
	q *quest.DailyQuest,
	increment int,
	metadata map[string]interface{},
) (*QuestUpdate, error) {
	const op = "UpdateProgress"
	now := h.clock()

	p, err := h.repo.GetProgress(ctx, studentID, q.ID)
	switch {
	case shared.IsNotFound(err):
		p = quest.NewProgress(studentID, q, now)
	case err != nil:
		return nil, shared.StoreError("quest", op, err)
	}

	update := &QuestUpdate{Quest: q, Progress: p}
	if p.Completed {
		return update, nil
	}

	update.JustCompleted = p.Advance(increment, now)
	if len(metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			p.Metadata[k] = v
		}
	}

	// The reward is paid before completion is stored: a failed payment
	// leaves the quest open and the next update completes and pays it.
	if update.JustCompleted && q.XPReward > 0 {
		if _, err := h.awarder.AwardXP(ctx, AwardXPCommand{
			StudentID:   studentID,
			Amount:      q.XPReward,
			Type:        xp.TypeDailyQuest,
			Description: fmt.Sprintf("Quest: %s", q.Title),
			Metadata:    map[string]interface{}{"quest_id": q.ID, "template": q.TemplateKey},
		}); err != nil {
			return nil, err
		}
		update.XPAwarded = q.XPReward
	}

	if err := h.repo.SaveProgress(ctx, p); err != nil {
		if update.XPAwarded > 0 {
			h.log.Error("quest reward paid but completion not saved",
				logger.StudentID(studentID),
				logger.QuestID(q.ID),
				logger.Int("xp_reward", update.XPAwarded),
				logger.Err(err),
			)
		} else {
			h.log.Error("save quest progress failed", logger.StudentID(studentID), logger.QuestID(q.ID), logger.Err(err))
		}
		return nil, shared.StoreError("quest", op, err)
	}
	if !update.JustCompleted {
		return update, nil
	}

	h.metrics.QuestCompleted(q.TemplateKey)
	h.log.Info("quest completed",
		logger.StudentID(studentID),
		logger.QuestID(q.ID),
		logger.String("template", q.TemplateKey),
	)
	if err := h.publisher.Publish(shared.NewActivityLoggedEvent(
		shared.EventQuestCompleted,
		studentID,
		fmt.Sprintf("Quest complete: %s", q.Title),
		q.Description,
		map[string]interface{}{"quest_id": q.ID, "xp_reward": q.XPReward, "category": string(q.Category)},
		true,
		now,
	)); err != nil {
		h.log.Warn("event dropped", logger.Err(err))
	}
	return update, nil
}

// CheckAndUpdateQuests advances every quest of today that the activity
// counts toward and returns the quests it completed. Today is taken from the
// engine clock, not from data.OccurredAt. A failing quest does not stop the
// others.
func (h *QuestHandler) CheckAndUpdateQuests(
	ctx context.Context,
	studentID string,
	activity shared.ActivityType,
	data shared.ActivityData,
) ([]*quest.DailyQuest, error) {
	studentID = shared.NormalizeStudentID(studentID)

	// Progress always counts toward today's quests; a late or backdated
	// event cannot reopen an earlier day.
	quests, err := h.GenerateDailyQuests(ctx, h.clock())
	if err != nil {
		return nil, err
	}

	var completed []*quest.DailyQuest
	var errs []error
	err = h.locker.WithStudentLock(ctx, studentID, func(ctx context.Context) error {
		for _, q := range quests {
			inc := q.Increment(activity, data)
			if inc <= 0 {
				continue
			}
			update, err := h.advance(ctx, studentID, q, inc, nil)
			if err != nil {
				h.log.Warn("quest update failed", logger.StudentID(studentID), logger.QuestID(q.ID), logger.Err(err))
				errs = append(errs, err)
				continue
			}
			if update.JustCompleted {
				completed = append(completed, q)
			}
		}
		return nil
	})
	if err != nil {
		return completed, err
	}
	return completed, errors.Join(errs...)
}

// GetDailyQuests returns the quests of the date with the student's progress.
func (h *QuestHandler) GetDailyQuests(ctx context.Context, studentID string, at time.Time) ([]quest.WithProgress, error) {
	studentID = shared.NormalizeStudentID(studentID)

	quests, err := h.GenerateDailyQuests(ctx, at)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(quests))
	for _, q := range quests {
		ids = append(ids, q.ID)
	}
	progress, err := h.repo.ListProgress(ctx, studentID, ids)
	if err != nil {
		return nil, shared.StoreError("quest", "GetDailyQuests", err)
	}
	byQuest := make(map[string]*quest.Progress, len(progress))
	for _, p := range progress {
		byQuest[p.QuestID] = p
	}

	out := make([]quest.WithProgress, 0, len(quests))
	for _, q := range quests {
		out = append(out, quest.WithProgress{Quest: q, Progress: byQuest[q.ID]})
	}
	return out, nil
}
