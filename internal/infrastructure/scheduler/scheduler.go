// Package scheduler runs the periodic progression jobs (season rollover,
// daily quest pre-generation) on top of robfig/cron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alem-hub/alem-progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job.
	// The context is cancelled when the scheduler is stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

var (
	// ErrNilJob is returned when registering a nil job.
	ErrNilJob = errors.New("scheduler: job is nil")

	// ErrJobAlreadyExists is returned for a duplicate job name.
	ErrJobAlreadyExists = errors.New("scheduler: job already exists")

	// ErrJobNotFound is returned by RunNow for an unknown job.
	ErrJobNotFound = errors.New("scheduler: job not found")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler owns a cron instance. Overlapping runs of the same job are
// skipped and panics are recovered by the cron chain.
type Scheduler struct {
	mu       sync.RWMutex
	cron     *cron.Cron
	log      *logger.Logger
	jobs     map[string]Job
	entries  map[string]cron.EntryID
	lastRuns map[string]JobResult

	ctx    context.Context
	cancel context.CancelFunc

	onJobComplete func(result JobResult)
}

// Config contains configuration for the Scheduler.
type Config struct {
	Location *time.Location
	Logger   *logger.Logger

	// OnJobComplete is called after every run (optional).
	OnJobComplete func(result JobResult)
}

// New creates a scheduler.
func New(config Config) *Scheduler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}
	log := config.Logger.With(logger.Component("scheduler"))
	adapter := cronLogger{log: log}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(config.Location),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		log:           log,
		jobs:          make(map[string]Job),
		entries:       make(map[string]cron.EntryID),
		lastRuns:      make(map[string]JobResult),
		ctx:           ctx,
		cancel:        cancel,
		onJobComplete: config.OnJobComplete,
	}
}

// Register schedules job with a standard 5-field spec or a descriptor
// such as "@every 1h".
func (s *Scheduler) Register(job Job, spec string) error {
	if job == nil {
		return ErrNilJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	id, err := s.cron.AddFunc(spec, func() { s.run(s.ctx, job) })
	if err != nil {
		return fmt.Errorf("scheduler: invalid spec %q for %s: %w", spec, name, err)
	}

	s.jobs[name] = job
	s.entries[name] = id
	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("spec", spec),
		logger.String("description", job.Description()),
	)
	return nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("jobs_count", len(s.jobs)))
}

// Stop cancels running jobs and waits for them up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun returns the next activation of a job.
func (s *Scheduler) NextRun(jobName string) (time.Time, bool) {
	s.mu.RLock()
	id, ok := s.entries[jobName]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// RunNow immediately executes a job by name, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (JobResult, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobName]
	s.mu.RUnlock()
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	return s.run(ctx, job), nil
}

// LastRun returns the latest result of a job.
func (s *Scheduler) LastRun(jobName string) (JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lastRuns[jobName]
	return r, ok
}

func (s *Scheduler) run(ctx context.Context, job Job) JobResult {
	name := job.Name()
	started := time.Now()
	s.log.Info("job started", logger.String("job", name))

	err := job.Run(ctx)
	result := JobResult{
		JobName:     name,
		StartedAt:   started,
		CompletedAt: time.Now(),
		Success:     err == nil,
		Error:       err,
	}
	result.Duration = result.CompletedAt.Sub(started)

	s.mu.Lock()
	s.lastRuns[name] = result
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", logger.String("job", name), logger.Latency(result.Duration), logger.Err(err))
	} else {
		s.log.Info("job completed", logger.String("job", name), logger.Latency(result.Duration))
	}

	if s.onJobComplete != nil {
		s.onJobComplete(result)
	}
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON LOGGER ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// cronLogger routes robfig/cron diagnostics into the zap logger.
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, append(kvFields(keysAndValues), logger.Err(err))...)
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, logger.Any(key, kv[i+1]))
	}
	return fields
}
