package command

import (
	"context"

	"github.com/google/uuid"

	"github.com/alem-hub/alem-progression/internal/domain/rating"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// UpdateRatingCommand carries one graded lesson.
type UpdateRatingCommand struct {
	StudentID   string `validate:"required,max=128"`
	LessonID    string `validate:"max=128"`
	Score       int    `validate:"gte=0,ltefield=TotalPoints"`
	TotalPoints int    `validate:"gt=0"`
	TimeTaken   int    `validate:"gte=0"`
	Streak      int    `validate:"gte=0"`
}

// Validate checks the command.
func (c UpdateRatingCommand) Validate() error {
	if c.TotalPoints <= 0 {
		return shared.ErrInvalidTotalPoints
	}
	return ValidateStruct("rating", "UpdateRating", c)
}

// RatingResult is the change produced by one lesson.
type RatingResult struct {
	PreviousRating int
	RatingChange   int
	NewRating      int
}

// RatingConfig configures the rating handler.
type RatingConfig struct {
	// Floor clamps the rating from below; nil keeps it unbounded.
	Floor *int
}

// RatingHandler updates the single-player skill estimate.
type RatingHandler struct {
	repo   rating.Repository
	locker shared.StudentLocker
	clock  timeutil.Clock
	config RatingConfig
	log    *logger.Logger
}

// NewRatingHandler creates the handler.
func NewRatingHandler(
	repo rating.Repository,
	locker shared.StudentLocker,
	clock timeutil.Clock,
	config RatingConfig,
	log *logger.Logger,
) *RatingHandler {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RatingHandler{
		repo:   repo,
		locker: locker,
		clock:  clock,
		config: config,
		log:    log.With(logger.Component("rating")),
	}
}

// UpdateRating applies the lesson to the stored rating and appends history.
func (h *RatingHandler) UpdateRating(ctx context.Context, cmd UpdateRatingCommand) (*RatingResult, error) {
	cmd.StudentID = shared.NormalizeStudentID(cmd.StudentID)
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result *RatingResult
	err := h.locker.WithStudentLock(ctx, cmd.StudentID, func(ctx context.Context) error {
		record, err := h.load(ctx, cmd.StudentID, "UpdateRating")
		if err != nil {
			return err
		}

		calc := rating.Calculate(rating.Input{
			PreviousRating: record.Rating,
			Score:          cmd.Score,
			TotalPoints:    cmd.TotalPoints,
			TimeTaken:      cmd.TimeTaken,
			Streak:         cmd.Streak,
		}, h.config.Floor)

		now := h.clock()
		entry := &rating.HistoryEntry{
			ID:             uuid.NewString(),
			StudentID:      cmd.StudentID,
			LessonID:       cmd.LessonID,
			PreviousRating: record.Rating,
			Delta:          calc.Delta,
			NewRating:      calc.NewRating,
			Performance:    calc.Performance,
			TimeTaken:      cmd.TimeTaken,
			Streak:         cmd.Streak,
			CreatedAt:      now,
		}
		previous := record.Rating
		record.Rating = calc.NewRating
		record.UpdatedAt = now

		if err := h.repo.Update(ctx, record, entry); err != nil {
			h.log.Error("save rating failed", logger.StudentID(cmd.StudentID), logger.Err(err))
			return shared.StoreError("rating", "UpdateRating", err)
		}

		result = &RatingResult{
			PreviousRating: previous,
			RatingChange:   calc.Delta,
			NewRating:      calc.NewRating,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.Debug("rating updated",
		logger.StudentID(cmd.StudentID),
		logger.LessonID(cmd.LessonID),
		logger.Int("delta", result.RatingChange),
		logger.Int("rating", result.NewRating),
	)
	return result, nil
}

// GetRating returns the current rating, defaulting to 1500.
func (h *RatingHandler) GetRating(ctx context.Context, studentID string) (*rating.Record, error) {
	return h.load(ctx, shared.NormalizeStudentID(studentID), "GetRating")
}

// History returns the newest rating changes first.
func (h *RatingHandler) History(ctx context.Context, studentID string, limit int) ([]*rating.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	entries, err := h.repo.History(ctx, shared.NormalizeStudentID(studentID), limit)
	if err != nil {
		return nil, shared.StoreError("rating", "History", err)
	}
	return entries, nil
}

func (h *RatingHandler) load(ctx context.Context, studentID, op string) (*rating.Record, error) {
	record, err := h.repo.Get(ctx, studentID)
	switch {
	case shared.IsNotFound(err):
		return rating.NewRecord(studentID), nil
	case err != nil:
		return nil, shared.StoreError("rating", op, err)
	}
	return record, nil
}
