package jobs

import (
	"context"
	"time"

	"github.com/alem-hub/alem-progression/internal/domain/quest"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY QUESTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// QuestGenerator creates the quest set of a day if it does not exist yet.
type QuestGenerator interface {
	GenerateDailyQuests(ctx context.Context, at time.Time) ([]*quest.DailyQuest, error)
}

// DailyQuestsJob pre-generates today's quests right after midnight so the
// first student of the day does not pay for it. Generation is idempotent.
type DailyQuestsJob struct {
	quests QuestGenerator
	clock  timeutil.Clock
	log    *logger.Logger
}

// NewDailyQuestsJob creates the job.
func NewDailyQuestsJob(quests QuestGenerator, clock timeutil.Clock, log *logger.Logger) *DailyQuestsJob {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &DailyQuestsJob{
		quests: quests,
		clock:  clock,
		log:    log.With(logger.Component("daily_quests_job")),
	}
}

// Name returns the job name.
func (j *DailyQuestsJob) Name() string { return "daily_quests" }

// Description returns the job description.
func (j *DailyQuestsJob) Description() string {
	return "Generates the daily quest set for the current day"
}

// Run executes the job.
func (j *DailyQuestsJob) Run(ctx context.Context) error {
	generated, err := j.quests.GenerateDailyQuests(ctx, j.clock())
	if err != nil {
		return err
	}
	j.log.Info("daily quests ready", logger.Int("count", len(generated)))
	return nil
}
