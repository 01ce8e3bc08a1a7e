// Package jobs contains the scheduled jobs of the progression engine.
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEASON ROLLOVER JOB
// ══════════════════════════════════════════════════════════════════════════════

// SeasonRoller closes an expired league season and opens the next one.
type SeasonRoller interface {
	CheckAndStartNewSeasonIfNeeded(ctx context.Context) (bool, error)
}

// SeasonRolloverJob checks the active season on every tick. The rollover
// is restartable, so a failed attempt is retried on transient store errors
// and otherwise left to the next tick.
type SeasonRolloverJob struct {
	roller  SeasonRoller
	retrier *retry.Retrier
	log     *logger.Logger

	rollovers atomic.Int64
	lastCheck atomic.Value // time.Time
}

// NewSeasonRolloverJob creates the job.
func NewSeasonRolloverJob(roller SeasonRoller, log *logger.Logger) *SeasonRolloverJob {
	if log == nil {
		log = logger.NewNop()
	}
	return &SeasonRolloverJob{
		roller:  roller,
		retrier: retry.StoreRetrier(shared.IsRetryable),
		log:     log.With(logger.Component("season_rollover_job")),
	}
}

// Name returns the job name.
func (j *SeasonRolloverJob) Name() string { return "season_rollover" }

// Description returns the job description.
func (j *SeasonRolloverJob) Description() string {
	return "Freezes final league standings and starts the next weekly season"
}

// Run executes one check.
func (j *SeasonRolloverJob) Run(ctx context.Context) error {
	rolled := false
	err := j.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		rolled, err = j.roller.CheckAndStartNewSeasonIfNeeded(ctx)
		return err
	})
	j.lastCheck.Store(time.Now())
	if err != nil {
		return err
	}
	if rolled {
		j.rollovers.Add(1)
		j.log.Info("season rolled over")
	}
	return nil
}

// Rollovers returns how many rollovers this job has performed.
func (j *SeasonRolloverJob) Rollovers() int64 {
	return j.rollovers.Load()
}
