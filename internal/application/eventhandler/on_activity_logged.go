// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"time"

	"github.com/alem-hub/alem-progression/internal/domain/feed"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACTIVITY LOGGED HANDLER
// Сохраняет записи ленты активности, которые публикуют движки прогресса:
// повышение уровня, вехи серии, квесты, достижения, переходы между лигами.
//
// Запись в ленту - побочный эффект: ошибка логируется и не возвращается
// в движок, который опубликовал событие.
// ═══════════════════════════════════════════════════════════════════════════

// FeedEventTypes - события, которые попадают в ленту.
var FeedEventTypes = []shared.EventType{
	shared.EventLevelUp,
	shared.EventStreakMilestone,
	shared.EventStreakBroken,
	shared.EventStreakFrozen,
	shared.EventQuestCompleted,
	shared.EventAchievementUnlocked,
	shared.EventLeaguePromoted,
	shared.EventLeagueDemoted,
}

// OnActivityLoggedHandler пишет ActivityLoggedEvent в хранилище ленты.
type OnActivityLoggedHandler struct {
	repo    feed.Repository
	logger  *logger.Logger
	timeout time.Duration
}

// NewOnActivityLoggedHandler создаёт обработчик.
func NewOnActivityLoggedHandler(repo feed.Repository, log *logger.Logger) *OnActivityLoggedHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &OnActivityLoggedHandler{
		repo:    repo,
		logger:  log.With(logger.Component("feed_recorder")),
		timeout: 5 * time.Second,
	}
}

// Register подписывает обработчик на все события ленты.
func (h *OnActivityLoggedHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range FeedEventTypes {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle реализует shared.EventHandler.
func (h *OnActivityLoggedHandler) Handle(event shared.Event) error {
	logged, ok := event.(shared.ActivityLoggedEvent)
	if !ok {
		h.logger.Debug("skip non-feed event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	entry := feed.FromEvent(logged)
	if err := h.repo.Append(ctx, entry); err != nil {
		h.logger.Error("append feed entry failed",
			logger.StudentID(entry.StudentID),
			logger.String("kind", string(entry.Kind)),
			logger.Err(err),
		)
		return err
	}
	return nil
}
