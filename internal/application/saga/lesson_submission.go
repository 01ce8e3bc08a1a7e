package saga

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/alem-progression/internal/application/command"
	"github.com/alem-hub/alem-progression/internal/domain/achievement"
	"github.com/alem-hub/alem-progression/internal/domain/quest"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/streak"
	"github.com/alem-hub/alem-progression/internal/domain/xp"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON SUBMISSION SAGA
// Flow: Validate → Lock Student → {Streak ∥ Rating} → Lesson XP → Journal →
//
//	Quests → Achievements → Summary
//
// Each step runs behind its own error boundary. A failing step is logged,
// counted and reported in Summary.Failures; the next steps still run.
// ══════════════════════════════════════════════════════════════════════════════

// ActivityEvent is a graded lesson submitted by a student.
type ActivityEvent struct {
	StudentID   string    `validate:"required,max=128"`
	LessonID    string    `validate:"required,max=128"`
	Subject     string    `validate:"max=128"`
	Score       int       `validate:"gte=0,ltefield=TotalPoints"`
	TotalPoints int       `validate:"gt=0"`
	TimeTaken   int       `validate:"gte=0"`
	Timestamp   time.Time `validate:"-"`
}

// Validate checks the event.
func (e ActivityEvent) Validate() error {
	return command.ValidateStruct("progression", "ProcessActivity", e)
}

// Subsystem names used in Summary.Failures, logs and metrics.
const (
	SubsystemLock         = "lock"
	SubsystemStreak       = "streak"
	SubsystemRating       = "rating"
	SubsystemXP           = "xp"
	SubsystemJournal      = "journal"
	SubsystemQuests       = "quests"
	SubsystemAchievements = "achievements"
)

// Outcome is the tagged result of one fail-soft step.
type Outcome[T any] struct {
	Value T
	Err   error
}

// OK reports a successful step.
func (o Outcome[T]) OK() bool { return o.Err == nil }

// attempt runs fn and turns a panic into an error.
func attempt[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (out Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic: %v", r)
		}
	}()
	v, err := fn(ctx)
	return Outcome[T]{Value: v, Err: err}
}

// Summary is what the submission handler gets back. Rating and Streak are
// nil when their subsystem failed.
type Summary struct {
	StudentID       string
	LessonID        string
	Rating          *command.RatingResult
	Streak          *streak.Record
	XP              *command.AwardXPResult
	MilestoneXP     int
	CompletedQuests []*quest.DailyQuest
	Achievements    []achievement.Achievement
	Failures        map[string]string
	Duration        time.Duration
}

// Failed reports whether subsystem failed during the event.
func (s *Summary) Failed(subsystem string) bool {
	_, ok := s.Failures[subsystem]
	return ok
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG & DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// LessonSubmissionConfig controls lesson XP and optional subsystems.
type LessonSubmissionConfig struct {
	BaseLessonXP       int
	PerfectBonusXP     int
	EnableQuests       bool
	EnableAchievements bool
	Location           *time.Location
}

// DefaultLessonSubmissionConfig returns default configuration.
func DefaultLessonSubmissionConfig() LessonSubmissionConfig {
	return LessonSubmissionConfig{
		BaseLessonXP:       20,
		PerfectBonusXP:     5,
		EnableQuests:       true,
		EnableAchievements: true,
		Location:           timeutil.DefaultLocation,
	}
}

// FeatureGate decides per student whether an optional subsystem runs.
type FeatureGate interface {
	Enabled(feature, studentID string) bool
}

// Feature names checked through FeatureGate.
const (
	FeatureQuests       = "quests"
	FeatureAchievements = "achievements"
)

// LessonSubmissionDeps groups the engines the saga coordinates.
type LessonSubmissionDeps struct {
	XP           *command.XPHandler
	Streaks      *command.StreakHandler
	Ratings      *command.RatingHandler
	Quests       *command.QuestHandler
	Achievements *AchievementFlowSaga
	Journal      achievement.Journal
	Features     FeatureGate
	Locker       shared.StudentLocker
	Metrics      command.Metrics
	Clock        timeutil.Clock
	Logger       *logger.Logger
}

func (d LessonSubmissionDeps) validate() error {
	var errs []error
	if d.XP == nil {
		errs = append(errs, errors.New("xp handler is required"))
	}
	if d.Streaks == nil {
		errs = append(errs, errors.New("streak handler is required"))
	}
	if d.Ratings == nil {
		errs = append(errs, errors.New("rating handler is required"))
	}
	if d.Quests == nil {
		errs = append(errs, errors.New("quest handler is required"))
	}
	if d.Achievements == nil {
		errs = append(errs, errors.New("achievement saga is required"))
	}
	if d.Locker == nil {
		errs = append(errs, errors.New("student locker is required"))
	}
	return errors.Join(errs...)
}

// LessonSubmissionSaga is the single entry point for graded activities.
type LessonSubmissionSaga struct {
	deps   LessonSubmissionDeps
	config LessonSubmissionConfig
	log    *logger.Logger
}

// NewLessonSubmissionSaga creates the saga.
func NewLessonSubmissionSaga(deps LessonSubmissionDeps, config LessonSubmissionConfig) (*LessonSubmissionSaga, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = command.NopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if config.BaseLessonXP <= 0 {
		config.BaseLessonXP = 20
	}
	if config.PerfectBonusXP < 0 {
		config.PerfectBonusXP = 0
	}
	if config.Location == nil {
		config.Location = timeutil.DefaultLocation
	}
	return &LessonSubmissionSaga{
		deps:   deps,
		config: config,
		log:    deps.Logger.With(logger.Component("progression")),
	}, nil
}

// LessonXP is the XP a graded lesson pays before any bonuses.
func LessonXP(score, totalPoints, base, perfectBonus int) int {
	if totalPoints <= 0 {
		return 0
	}
	amount := int(math.Round(float64(score) / float64(totalPoints) * float64(base)))
	if amount < 1 {
		amount = 1
	}
	if score >= totalPoints {
		amount += perfectBonus
	}
	return amount
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// ProcessActivity runs every subsystem for one graded lesson. It returns an
// error only for an invalid event.
func (s *LessonSubmissionSaga) ProcessActivity(ctx context.Context, event ActivityEvent) (*Summary, error) {
	event.StudentID = shared.NormalizeStudentID(event.StudentID)
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.deps.Clock()
	}

	started := time.Now()
	summary := &Summary{
		StudentID: event.StudentID,
		LessonID:  event.LessonID,
		Failures:  map[string]string{},
	}
	log := s.log.With(logger.StudentID(event.StudentID), logger.LessonID(event.LessonID))

	err := s.deps.Locker.WithStudentLock(ctx, event.StudentID, func(ctx context.Context) error {
		s.run(ctx, event, summary, log)
		return nil
	})
	if err != nil {
		s.fail(summary, log, SubsystemLock, err)
	}

	summary.Duration = time.Since(started)
	s.deps.Metrics.ObserveEvent(summary.Duration)
	log.Debug("activity processed",
		logger.Latency(summary.Duration),
		logger.Int("failures", len(summary.Failures)),
	)
	return summary, nil
}

func (s *LessonSubmissionSaga) run(ctx context.Context, event ActivityEvent, summary *Summary, log *logger.Logger) {
	// Rating uses the streak as it stood before this lesson, so the two
	// engines can run side by side.
	priorStreak := 0
	if r, err := s.deps.Streaks.GetStreak(ctx, event.StudentID); err == nil {
		priorStreak = r.CurrentStreak
	}

	var streakOut Outcome[*command.StreakResult]
	var ratingOut Outcome[*command.RatingResult]

	var g errgroup.Group
	g.Go(func() error {
		streakOut = attempt(ctx, func(ctx context.Context) (*command.StreakResult, error) {
			return s.deps.Streaks.RecordActivity(ctx, event.StudentID)
		})
		return nil
	})
	g.Go(func() error {
		ratingOut = attempt(ctx, func(ctx context.Context) (*command.RatingResult, error) {
			return s.deps.Ratings.UpdateRating(ctx, command.UpdateRatingCommand{
				StudentID:   event.StudentID,
				LessonID:    event.LessonID,
				Score:       event.Score,
				TotalPoints: event.TotalPoints,
				TimeTaken:   event.TimeTaken,
				Streak:      priorStreak,
			})
		})
		return nil
	})
	_ = g.Wait()

	currentStreak := priorStreak
	if streakOut.OK() {
		summary.Streak = streakOut.Value.Record
		summary.MilestoneXP = streakOut.Value.MilestoneXP
		currentStreak = streakOut.Value.Record.CurrentStreak
	} else {
		s.fail(summary, log, SubsystemStreak, streakOut.Err)
	}
	if ratingOut.OK() {
		summary.Rating = ratingOut.Value
	} else {
		s.fail(summary, log, SubsystemRating, ratingOut.Err)
	}

	// Lesson XP
	amount := LessonXP(event.Score, event.TotalPoints, s.config.BaseLessonXP, s.config.PerfectBonusXP)
	xpOut := attempt(ctx, func(ctx context.Context) (*command.AwardXPResult, error) {
		return s.deps.XP.AwardXP(ctx, command.AwardXPCommand{
			StudentID:   event.StudentID,
			Amount:      amount,
			Type:        xp.TypeLessonCompletion,
			Description: "Lesson completed",
			Metadata: map[string]interface{}{
				"lesson_id":    event.LessonID,
				"score":        event.Score,
				"total_points": event.TotalPoints,
			},
		})
	})
	xpEarned := summary.MilestoneXP
	if xpOut.OK() {
		summary.XP = xpOut.Value
		xpEarned += xpOut.Value.XPAwarded + xpOut.Value.LevelUpBonus
	} else {
		s.fail(summary, log, SubsystemXP, xpOut.Err)
	}

	data := shared.ActivityData{
		LessonID:    event.LessonID,
		Subject:     event.Subject,
		Score:       event.Score,
		TotalPoints: event.TotalPoints,
		Accuracy:    shared.AccuracyPercent(event.Score, event.TotalPoints),
		TimeTaken:   event.TimeTaken,
		XPEarned:    xpEarned,
		Streak:      currentStreak,
		OccurredAt:  event.Timestamp,
	}

	// Journal feeds the achievement history, so it goes first.
	if s.deps.Journal != nil {
		journalOut := attempt(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.deps.Journal.Record(ctx, &achievement.Attempt{
				ID:          uuid.NewString(),
				StudentID:   event.StudentID,
				LessonID:    event.LessonID,
				Subject:     event.Subject,
				Score:       event.Score,
				TotalPoints: event.TotalPoints,
				Accuracy:    data.Accuracy,
				TimeTaken:   event.TimeTaken,
				CompletedAt: event.Timestamp,
			})
		})
		if !journalOut.OK() {
			s.fail(summary, log, SubsystemJournal, journalOut.Err)
		}
	}

	if s.enabled(s.config.EnableQuests, FeatureQuests, event.StudentID) {
		questOut := attempt(ctx, func(ctx context.Context) ([]*quest.DailyQuest, error) {
			return s.deps.Quests.CheckAndUpdateQuests(ctx, event.StudentID, shared.ActivityLessonCompleted, data)
		})
		summary.CompletedQuests = questOut.Value
		if !questOut.OK() {
			s.fail(summary, log, SubsystemQuests, questOut.Err)
		}
	}

	if s.enabled(s.config.EnableAchievements, FeatureAchievements, event.StudentID) {
		achOut := attempt(ctx, func(ctx context.Context) (*AchievementFlowResult, error) {
			return s.deps.Achievements.CheckAndAward(ctx, AchievementCheckInput{
				StudentID: event.StudentID,
				Activity:  shared.ActivityLessonCompleted,
				Data:      data,
			})
		})
		if achOut.Value != nil {
			summary.Achievements = achOut.Value.NewAchievements
		}
		if !achOut.OK() {
			s.fail(summary, log, SubsystemAchievements, achOut.Err)
		}
	}
}

func (s *LessonSubmissionSaga) enabled(configured bool, feature, studentID string) bool {
	if !configured {
		return false
	}
	return s.deps.Features == nil || s.deps.Features.Enabled(feature, studentID)
}

func (s *LessonSubmissionSaga) fail(summary *Summary, log *logger.Logger, subsystem string, err error) {
	summary.Failures[subsystem] = err.Error()
	s.deps.Metrics.SubsystemFailed(subsystem)
	log.Warn("subsystem failed", logger.String("subsystem", subsystem), logger.Err(err))
}
