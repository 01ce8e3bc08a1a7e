// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/alem-progression/internal/application/command"
	"github.com/alem-hub/alem-progression/internal/application/saga"
	"github.com/alem-hub/alem-progression/internal/domain/feed"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESSION PROFILE QUERY
// Собирает всё состояние прогресса студента в одном ответе: уровень, серия,
// рейтинг, лига, квесты дня, достижения и лента. Отказ любой части, кроме XP,
// не ломает ответ: поле остаётся пустым, а имя части попадает в Degraded.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressionProfileQuery содержит параметры запроса.
type GetProgressionProfileQuery struct {
	// StudentID - ID студента.
	StudentID string

	// Viewer - кто смотрит профиль. Чужой профиль показывает только публичную ленту.
	Viewer string

	// FeedLimit - сколько записей ленты вернуть (по умолчанию 10).
	FeedLimit int
}

// Validate проверяет параметры запроса.
func (q *GetProgressionProfileQuery) Validate() error {
	q.StudentID = shared.NormalizeStudentID(q.StudentID)
	if q.StudentID == "" {
		return shared.NewDomainError("query", "GetProgressionProfile", shared.ErrInvalidInput, "student id is required")
	}
	if q.FeedLimit <= 0 {
		q.FeedLimit = 10
	}
	if q.FeedLimit > 100 {
		q.FeedLimit = 100
	}
	return nil
}

// ProgressionProfileDTO - полный профиль прогресса.
type ProgressionProfileDTO struct {
	// ─────────────────────────────────────────────────────────────────────────
	// XP и уровень
	// ─────────────────────────────────────────────────────────────────────────

	StudentID     string `json:"student_id"`
	TotalXP       int64  `json:"total_xp"`
	Level         int    `json:"level"`
	XPIntoLevel   int64  `json:"xp_into_level"`
	XPToNextLevel int64  `json:"xp_to_next_level"`

	// ─────────────────────────────────────────────────────────────────────────
	// Серия и рейтинг
	// ─────────────────────────────────────────────────────────────────────────

	CurrentStreak    int  `json:"current_streak"`
	LongestStreak    int  `json:"longest_streak"`
	FreezesAvailable int  `json:"freezes_available"`
	StreakAtRisk     bool `json:"streak_at_risk"`
	Rating           int  `json:"rating"`

	// ─────────────────────────────────────────────────────────────────────────
	// Лига
	// ─────────────────────────────────────────────────────────────────────────

	League *LeagueDTO `json:"league,omitempty"`

	// ─────────────────────────────────────────────────────────────────────────
	// Квесты, достижения, лента
	// ─────────────────────────────────────────────────────────────────────────

	Quests       []QuestDTO       `json:"quests"`
	Achievements []AchievementDTO `json:"achievements"`
	Feed         []FeedEntryDTO   `json:"feed"`

	// Degraded - части, которые не удалось прочитать.
	Degraded []string `json:"degraded,omitempty"`
}

// LeagueDTO - позиция в текущем сезоне.
type LeagueDTO struct {
	SeasonID string    `json:"season_id"`
	EndsAt   time.Time `json:"ends_at"`
	Division string    `json:"division"`
	WeeklyXP int64     `json:"weekly_xp"`
	Rank     int       `json:"rank"`
	Promoted bool      `json:"promoted"`
	Demoted  bool      `json:"demoted"`
}

// QuestDTO - квест дня с прогрессом.
type QuestDTO struct {
	QuestID   string `json:"quest_id"`
	Title     string `json:"title"`
	Category  string `json:"category"`
	Progress  int    `json:"progress"`
	Target    int    `json:"target"`
	Completed bool   `json:"completed"`
	XPReward  int    `json:"xp_reward"`
}

// AchievementDTO - полученное достижение.
type AchievementDTO struct {
	Name     string    `json:"name"`
	Title    string    `json:"title"`
	EarnedAt time.Time `json:"earned_at"`
}

// FeedEntryDTO - запись ленты.
type FeedEntryDTO struct {
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressionProfileHandler обрабатывает запрос профиля.
type GetProgressionProfileHandler struct {
	xp           *command.XPHandler
	streaks      *command.StreakHandler
	ratings      *command.RatingHandler
	leagues      *command.LeagueHandler
	quests       *command.QuestHandler
	achievements *saga.AchievementFlowSaga
	feed         feed.Repository
	clock        timeutil.Clock
	log          *logger.Logger
}

// NewGetProgressionProfileHandler создаёт обработчик. leagues и feed могут быть nil.
func NewGetProgressionProfileHandler(
	xp *command.XPHandler,
	streaks *command.StreakHandler,
	ratings *command.RatingHandler,
	leagues *command.LeagueHandler,
	quests *command.QuestHandler,
	achievements *saga.AchievementFlowSaga,
	feedRepo feed.Repository,
	clock timeutil.Clock,
	log *logger.Logger,
) *GetProgressionProfileHandler {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &GetProgressionProfileHandler{
		xp:           xp,
		streaks:      streaks,
		ratings:      ratings,
		leagues:      leagues,
		quests:       quests,
		achievements: achievements,
		feed:         feedRepo,
		clock:        clock,
		log:          log.With(logger.Component("profile_query")),
	}
}

// Handle выполняет запрос. Части читаются параллельно.
func (h *GetProgressionProfileHandler) Handle(ctx context.Context, q GetProgressionProfileQuery) (*ProgressionProfileDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	// XP обязателен: без него профиля нет.
	progress, err := h.xp.GetProgress(ctx, q.StudentID)
	if err != nil {
		return nil, err
	}
	dto := &ProgressionProfileDTO{
		StudentID:     q.StudentID,
		TotalXP:       progress.TotalXP,
		Level:         progress.Level,
		XPIntoLevel:   progress.XPIntoLevel,
		XPToNextLevel: progress.XPToNextLevel,
		Quests:        []QuestDTO{},
		Achievements:  []AchievementDTO{},
		Feed:          []FeedEntryDTO{},
	}

	var mu sync.Mutex
	degrade := func(part string, err error) {
		h.log.Warn("profile part unavailable",
			logger.StudentID(q.StudentID),
			logger.String("part", part),
			logger.Err(err),
		)
		mu.Lock()
		dto.Degraded = append(dto.Degraded, part)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r, err := h.streaks.GetStreak(gctx, q.StudentID)
		if err != nil {
			degrade("streak", err)
			return nil
		}
		mu.Lock()
		dto.CurrentStreak = r.CurrentStreak
		dto.LongestStreak = r.LongestStreak
		dto.FreezesAvailable = r.FreezesAvailable
		dto.StreakAtRisk = h.streaks.AtRisk(r)
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		r, err := h.ratings.GetRating(gctx, q.StudentID)
		if err != nil {
			degrade("rating", err)
			return nil
		}
		mu.Lock()
		dto.Rating = r.Rating
		mu.Unlock()
		return nil
	})

	if h.leagues != nil {
		g.Go(func() error {
			view, err := h.leagues.GetStanding(gctx, q.StudentID)
			if err != nil {
				if !shared.IsNotFound(err) {
					degrade("league", err)
				}
				return nil
			}
			mu.Lock()
			dto.League = &LeagueDTO{
				SeasonID: view.Season.ID,
				EndsAt:   view.Season.EndDate,
				Division: view.Division.Name,
				WeeklyXP: view.Participation.WeeklyXP,
				Rank:     view.Rank,
				Promoted: view.Participation.Promoted,
				Demoted:  view.Participation.Demoted,
			}
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		quests, err := h.quests.GetDailyQuests(gctx, q.StudentID, h.clock())
		if err != nil {
			degrade("quests", err)
			return nil
		}
		out := make([]QuestDTO, 0, len(quests))
		for _, wp := range quests {
			d := QuestDTO{
				QuestID:  wp.Quest.ID,
				Title:    wp.Quest.Title,
				Category: string(wp.Quest.Category),
				Target:   wp.Quest.Requirements.TargetOrDefault(),
				XPReward: wp.Quest.XPReward,
			}
			if wp.Progress != nil {
				d.Progress = wp.Progress.Progress
				d.Target = wp.Progress.TargetProgress
				d.Completed = wp.Progress.Completed
			}
			out = append(out, d)
		}
		mu.Lock()
		dto.Quests = out
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		earned, err := h.achievements.ListEarned(gctx, q.StudentID)
		if err != nil {
			degrade("achievements", err)
			return nil
		}
		out := make([]AchievementDTO, 0, len(earned))
		for _, e := range earned {
			out = append(out, AchievementDTO{Name: e.Achievement.Name, Title: e.Achievement.Title, EarnedAt: e.EarnedAt})
		}
		mu.Lock()
		dto.Achievements = out
		mu.Unlock()
		return nil
	})

	if h.feed != nil {
		g.Go(func() error {
			publicOnly := shared.NormalizeStudentID(q.Viewer) != q.StudentID
			entries, err := h.feed.ListByStudent(gctx, q.StudentID, publicOnly, q.FeedLimit)
			if err != nil {
				degrade("feed", err)
				return nil
			}
			out := make([]FeedEntryDTO, 0, len(entries))
			for _, e := range entries {
				out = append(out, FeedEntryDTO{
					Kind:        string(e.Kind),
					Title:       e.Title,
					Description: e.Description,
					CreatedAt:   e.CreatedAt,
				})
			}
			mu.Lock()
			dto.Feed = out
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return dto, nil
}
