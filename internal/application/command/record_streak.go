package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/streak"
	"github.com/alem-hub/alem-progression/internal/domain/xp"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// XPAwarder is the slice of the XP handler other engines call into.
type XPAwarder interface {
	AwardXP(ctx context.Context, cmd AwardXPCommand) (*AwardXPResult, error)
}

// StreakResult is the outcome of one activity.
type StreakResult struct {
	Record           *streak.Record
	Transition       streak.Transition
	MilestoneReached []int
	MilestoneXP      int
	Broken           bool
}

// StreakConfig configures the streak handler.
type StreakConfig struct {
	// Location decides where calendar days start.
	Location *time.Location
}

// DefaultStreakConfig returns the default configuration.
func DefaultStreakConfig() StreakConfig {
	return StreakConfig{Location: timeutil.DefaultLocation}
}

// StreakHandler tracks consecutive active days and freeze tokens.
type StreakHandler struct {
	repo      streak.Repository
	awarder   XPAwarder
	locker    shared.StudentLocker
	publisher shared.EventPublisher
	metrics   Metrics
	clock     timeutil.Clock
	config    StreakConfig
	log       *logger.Logger
}

// NewStreakHandler creates the handler.
func NewStreakHandler(
	repo streak.Repository,
	awarder XPAwarder,
	locker shared.StudentLocker,
	publisher shared.EventPublisher,
	metrics Metrics,
	clock timeutil.Clock,
	config StreakConfig,
	log *logger.Logger,
) *StreakHandler {
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
	if log == nil {
		log = logger.NewNop()
	}
	return &StreakHandler{
		repo:      repo,
		awarder:   awarder,
		locker:    locker,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		config:    config,
		log:       log.With(logger.Component("streak")),
	}
}

// RecordActivity applies today's activity and pays out crossed milestones.
func (h *StreakHandler) RecordActivity(ctx context.Context, studentID string) (*StreakResult, error) {
	studentID = shared.NormalizeStudentID(studentID)
	if studentID == "" {
		return nil, shared.NewDomainError("streak", "RecordActivity", shared.ErrInvalidInput, "student id is required")
	}

	var result *StreakResult
	err := h.locker.WithStudentLock(ctx, studentID, func(ctx context.Context) error {
		var err error
		result, err = h.recordActivity(ctx, studentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *StreakHandler) recordActivity(ctx context.Context, studentID string) (*StreakResult, error) {
	now := h.clock()

	record, err := h.load(ctx, studentID, "RecordActivity")
	if err != nil {
		return nil, err
	}
	previous := record.CurrentStreak

	tr := record.RecordActivity(now, h.config.Location)
	result := &StreakResult{Record: record, Transition: tr, Broken: tr == streak.TransitionBroken}
	if tr == streak.TransitionUnchanged {
		return result, nil
	}

	// Extended or started from zero: old value is the streak before today.
	from := previous
	if tr != streak.TransitionExtended {
		from = 0
	}
	crossed := streak.CrossedMilestones(from, record.CurrentStreak)

	// Milestones are paid before the advance is stored. If a payment fails
	// the day stays unrecorded and the next activity crosses it again.
	for _, m := range crossed {
		if _, err := h.awarder.AwardXP(ctx, AwardXPCommand{
			StudentID:   studentID,
			Amount:      m.XPReward,
			Type:        xp.TypeStreakMilestone,
			Description: fmt.Sprintf("%d-day streak", m.Days),
			Metadata:    map[string]interface{}{"milestone": m.Days},
		}); err != nil {
			if len(result.MilestoneReached) > 0 {
				h.log.Error("streak milestone paid but streak not saved",
					logger.StudentID(studentID),
					logger.Int("milestone_xp", result.MilestoneXP),
				)
			}
			return nil, err
		}
		result.MilestoneReached = append(result.MilestoneReached, m.Days)
		result.MilestoneXP += m.XPReward
	}

	record.UpdatedAt = now
	if err := h.repo.Save(ctx, record); err != nil {
		h.log.Error("save streak failed",
			logger.StudentID(studentID),
			logger.Int("milestone_xp", result.MilestoneXP),
			logger.Err(err),
		)
		return nil, shared.StoreError("streak", "RecordActivity", err)
	}

	if result.Broken && previous > 1 {
		h.emit(shared.NewActivityLoggedEvent(
			shared.EventStreakBroken,
			studentID,
			"Streak lost",
			fmt.Sprintf("A %d-day streak ended", previous),
			map[string]interface{}{"previous_streak": previous},
			false,
			now,
		))
	}

	for _, m := range crossed {
		h.metrics.StreakMilestone(m.Days)
		h.emit(shared.NewActivityLoggedEvent(
			shared.EventStreakMilestone,
			studentID,
			fmt.Sprintf("%d-day streak!", m.Days),
			fmt.Sprintf("Kept learning %d days in a row and earned %d XP", m.Days, m.XPReward),
			map[string]interface{}{"milestone": m.Days, "xp_reward": m.XPReward},
			true,
			now,
		))
	}

	h.log.Debug("streak updated",
		logger.StudentID(studentID),
		logger.Int("current", record.CurrentStreak),
		logger.Int("longest", record.LongestStreak),
	)
	return result, nil
}

// UseFreeze spends a token so a missed yesterday does not break the streak.
func (h *StreakHandler) UseFreeze(ctx context.Context, studentID string) (*streak.Record, error) {
	studentID = shared.NormalizeStudentID(studentID)

	var record *streak.Record
	err := h.locker.WithStudentLock(ctx, studentID, func(ctx context.Context) error {
		now := h.clock()
		r, err := h.load(ctx, studentID, "UseFreeze")
		if err != nil {
			return err
		}
		if !r.UseFreeze(now, h.config.Location) {
			return shared.ErrNoFreezeAvailable
		}
		r.UpdatedAt = now
		if err := h.repo.Save(ctx, r); err != nil {
			return shared.StoreError("streak", "UseFreeze", err)
		}

		h.emit(shared.NewActivityLoggedEvent(
			shared.EventStreakFrozen,
			studentID,
			"Streak frozen",
			fmt.Sprintf("Used a freeze to keep a %d-day streak", r.CurrentStreak),
			map[string]interface{}{"freezes_left": r.FreezesAvailable},
			false,
			now,
		))
		record = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GrantFreezes adds freeze tokens.
func (h *StreakHandler) GrantFreezes(ctx context.Context, studentID string, n int) (*streak.Record, error) {
	studentID = shared.NormalizeStudentID(studentID)
	if n <= 0 {
		return nil, shared.ErrInvalidFreezeGrant
	}

	var record *streak.Record
	err := h.locker.WithStudentLock(ctx, studentID, func(ctx context.Context) error {
		r, err := h.load(ctx, studentID, "GrantFreezes")
		if err != nil {
			return err
		}
		r.GrantFreezes(n)
		r.UpdatedAt = h.clock()
		if err := h.repo.Save(ctx, r); err != nil {
			return shared.StoreError("streak", "GrantFreezes", err)
		}
		record = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.Info("freezes granted", logger.StudentID(studentID), logger.Int("count", n))
	return record, nil
}

// GetStreak returns the record, or an empty one if the student never studied.
func (h *StreakHandler) GetStreak(ctx context.Context, studentID string) (*streak.Record, error) {
	return h.load(ctx, shared.NormalizeStudentID(studentID), "GetStreak")
}

// AtRisk reports whether the streak breaks unless the student studies today.
func (h *StreakHandler) AtRisk(record *streak.Record) bool {
	return record.IsAtRisk(h.clock(), h.config.Location)
}

func (h *StreakHandler) load(ctx context.Context, studentID, op string) (*streak.Record, error) {
	record, err := h.repo.Get(ctx, studentID)
	switch {
	case shared.IsNotFound(err):
		return streak.NewRecord(studentID), nil
	case err != nil:
		return nil, shared.StoreError("streak", op, err)
	}
	return record, nil
}

func (h *StreakHandler) emit(event shared.Event) {
	if err := h.publisher.Publish(event); err != nil {
		h.log.Warn("event dropped", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
}
