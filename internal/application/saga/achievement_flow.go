// Package saga contains multi-step business processes that coordinate
// several engines for one student.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alem-hub/alem-progression/internal/application/command"
	"github.com/alem-hub/alem-progression/internal/domain/achievement"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/xp"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA
// Flow: Load Catalog → Subtract Earned → Evaluate Rules →
//
//	(Grant Award → Award XP) per achievement → Publish Feed Entries
//
// Rules only read. The only writes are the award rows and the XP they pay.
// An award whose XP could not be paid is revoked, so a later check finds it
// unearned and pays it then.
// ══════════════════════════════════════════════════════════════════════════════

// AchievementCheckInput is the activity signal to evaluate.
type AchievementCheckInput struct {
	StudentID string
	Activity  shared.ActivityType
	Data      shared.ActivityData
}

// Validate checks if the input is valid.
func (i AchievementCheckInput) Validate() error {
	if shared.NormalizeStudentID(i.StudentID) == "" {
		return shared.NewDomainError("achievement", "CheckAndAward", shared.ErrInvalidInput, "student id is required")
	}
	return nil
}

// AchievementFlowResult contains the newly earned achievements.
type AchievementFlowResult struct {
	StudentID       string
	NewAchievements []achievement.Achievement
	TotalXPBonus    int
	// FailedRules lists rules whose history read failed and were skipped.
	FailedRules []string
	ProcessedAt time.Time
}

// HasNewAchievements returns true if any achievements were unlocked.
func (r *AchievementFlowResult) HasNewAchievements() bool {
	return len(r.NewAchievements) > 0
}

// AchievementFlowStep represents a step in the achievement flow.
type AchievementFlowStep string

const (
	StepLoadCatalog         AchievementFlowStep = "load_catalog"
	StepLoadEarned          AchievementFlowStep = "load_earned"
	StepEvaluateRules       AchievementFlowStep = "evaluate_rules"
	StepGrantAchievements   AchievementFlowStep = "grant_achievements"
	StepAwardXP             AchievementFlowStep = "award_xp"
	StepPublishEvents       AchievementFlowStep = "publish_events"
	StepAchievementComplete AchievementFlowStep = "complete"
)

// AchievementFlowState tracks the current state of one run.
type AchievementFlowState struct {
	CurrentStep AchievementFlowStep
	Input       AchievementCheckInput
	Catalog     []achievement.Achievement
	Earned      map[string]bool
	Candidates  []achievement.Achievement
	Granted     []achievement.Achievement
	FailedRules []string
	TotalXP     int
	StartedAt   time.Time
	FailedStep  AchievementFlowStep
}

// FlowError names the step where a flow stopped.
type FlowError struct {
	Flow string
	Step AchievementFlowStep
	Err  error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: step %s: %v", e.Flow, e.Step, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowConfig contains configuration for the achievement flow saga.
type AchievementFlowConfig struct {
	EnableXPRewards bool
	Location        *time.Location
}

// DefaultAchievementFlowConfig returns default configuration.
func DefaultAchievementFlowConfig() AchievementFlowConfig {
	return AchievementFlowConfig{
		EnableXPRewards: true,
		Location:        timeutil.DefaultLocation,
	}
}

// AchievementFlowSaga evaluates the rule table and grants achievements.
type AchievementFlowSaga struct {
	repo      achievement.Repository
	history   achievement.HistoryReader
	progress  achievement.ProgressReader
	rules     map[string]achievement.Predicate
	awarder   command.XPAwarder
	locker    shared.StudentLocker
	publisher shared.EventPublisher
	metrics   command.Metrics
	clock     timeutil.Clock
	config    AchievementFlowConfig
	log       *logger.Logger
}

// CheckAndAward evaluates every unearned achievement and grants the ones
// whose rule matches. A rule whose history read fails counts as no match.
// When paying an award fails the result still lists the awards that were
// granted and paid, next to the error.
func (s *AchievementFlowSaga) CheckAndAward(ctx context.Context, input AchievementCheckInput) (*AchievementFlowResult, error) {
	input.StudentID = shared.NormalizeStudentID(input.StudentID)
	if err := input.Validate(); err != nil {
		return nil, err
	}

	state := &AchievementFlowState{
		CurrentStep: StepLoadCatalog,
		Input:       input,
		StartedAt:   s.clock(),
	}

	err := s.locker.WithStudentLock(ctx, input.StudentID, func(ctx context.Context) error {
		return s.execute(ctx, state)
	})
	if err == nil {
		state.CurrentStep = StepAchievementComplete
	}
	return &AchievementFlowResult{
		StudentID:       input.StudentID,
		NewAchievements: state.Granted,
		TotalXPBonus:    state.TotalXP,
		FailedRules:     state.FailedRules,
		ProcessedAt:     s.clock(),
	}, err
}

func (s *AchievementFlowSaga) execute(ctx context.Context, state *AchievementFlowState) error {
	// Step 1: Load catalog
	if err := s.stepLoadCatalog(ctx, state); err != nil {
		return s.wrapError(state, err)
	}

	// Step 2: Load already earned achievements
	state.CurrentStep = StepLoadEarned
	if err := s.stepLoadEarned(ctx, state); err != nil {
		return s.wrapError(state, err)
	}

	// Step 3: Evaluate rules
	state.CurrentStep = StepEvaluateRules
	s.stepEvaluateRules(ctx, state)
	if len(state.Candidates) == 0 {
		return nil
	}

	// Step 4: Grant each award and pay it before the next one. A failed
	// award does not stop the others.
	var errs []error
	for _, a := range state.Candidates {
		if err := s.stepGrant(ctx, state, a); err != nil {
			errs = append(errs, s.wrapError(state, err))
		}
	}

	// Step 5: Publish feed entries for what was granted and paid
	state.CurrentStep = StepPublishEvents
	s.stepPublishEvents(state)
	return errors.Join(errs...)
}
// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

func (s *AchievementFlowSaga) stepLoadCatalog(ctx context.Context, state *AchievementFlowState) error {
	catalog, err := s.repo.ListCatalog(ctx)
	if err != nil {
		return shared.StoreError("achievement", "ListCatalog", err)
	}
	state.Catalog = catalog
	return nil
}

func (s *AchievementFlowSaga) stepLoadEarned(ctx context.Context, state *AchievementFlowState) error {
	ids, err := s.repo.ListEarnedIDs(ctx, state.Input.StudentID)
	if err != nil {
		return shared.StoreError("achievement", "ListEarnedIDs", err)
	}
	state.Earned = make(map[string]bool, len(ids))
	for _, id := range ids {
		state.Earned[id] = true
	}
	return nil
}

func (s *AchievementFlowSaga) stepEvaluateRules(ctx context.Context, state *AchievementFlowState) {
	in := achievement.Input{
		StudentID: state.Input.StudentID,
		Activity:  state.Input.Activity,
		Data:      state.Input.Data,
		History:   s.history,
		Progress:  s.progress,
		Now:       state.StartedAt,
		Location:  s.config.Location,
	}

	for _, a := range state.Catalog {
		if state.Earned[a.ID] {
			continue
		}
		rule, ok := s.rules[a.Name]
		if !ok {
			continue
		}

		matched, err := rule(ctx, in)
		if err != nil {
			state.FailedRules = append(state.FailedRules, a.Name)
			s.log.Warn("achievement rule failed",
				logger.StudentID(state.Input.StudentID),
				logger.Achievement(a.Name),
				logger.Err(err),
			)
			continue
		}
		if matched {
			state.Candidates = append(state.Candidates, a)
		}
	}
}

func (s *AchievementFlowSaga) stepGrant(ctx context.Context, state *AchievementFlowState, a achievement.Achievement) error {
	state.CurrentStep = StepGrantAchievements
	award := achievement.NewStudentAchievement(state.Input.StudentID, a.ID, state.StartedAt)
	err := s.repo.Award(ctx, award)
	switch {
	case err == nil:
	case shared.IsAlreadyExists(err):
		// Earned concurrently by another instance.
		return nil
	default:
		return shared.StoreError("achievement", "Award", err)
	}

	if s.config.EnableXPRewards && a.XPReward > 0 {
		state.CurrentStep = StepAwardXP
		if _, err := s.awarder.AwardXP(ctx, command.AwardXPCommand{
			StudentID:   state.Input.StudentID,
			Amount:      a.XPReward,
			Type:        xp.TypeAchievement,
			Description: fmt.Sprintf("Achievement: %s", a.Title),
			Metadata:    map[string]interface{}{"achievement": a.Name},
		}); err != nil {
			s.revoke(ctx, award, a)
			return err
		}
		state.TotalXP += a.XPReward
	}

	state.Granted = append(state.Granted, a)
	s.metrics.AchievementAwarded(a.Name)
	return nil
}

// revoke undoes an award whose XP was not paid. If the delete fails too the
// award stays without its XP and is logged for reconciliation.
func (s *AchievementFlowSaga) revoke(ctx context.Context, award *achievement.StudentAchievement, a achievement.Achievement) {
	if err := s.repo.Revoke(context.WithoutCancel(ctx), award.ID); err != nil {
		s.log.Error("achievement granted without xp",
			logger.StudentID(award.StudentID),
			logger.Achievement(a.Name),
			logger.Int("xp_reward", a.XPReward),
			logger.Err(err),
		)
	}
}

func (s *AchievementFlowSaga) stepPublishEvents(state *AchievementFlowState) {
	for _, a := range state.Granted {
		s.log.Info("achievement unlocked",
			logger.StudentID(state.Input.StudentID),
			logger.Achievement(a.Name),
		)
		event := shared.NewActivityLoggedEvent(
			shared.EventAchievementUnlocked,
			state.Input.StudentID,
			fmt.Sprintf("Unlocked %s", a.Title),
			a.Description,
			map[string]interface{}{"achievement": a.Name, "xp_reward": a.XPReward},
			true,
			state.StartedAt,
		)
		if err := s.publisher.Publish(event); err != nil {
			s.log.Warn("event dropped", logger.Achievement(a.Name), logger.Err(err))
		}
	}
}

func (s *AchievementFlowSaga) wrapError(state *AchievementFlowState, err error) error {
	state.FailedStep = state.CurrentStep
	s.log.Error("achievement flow failed",
		logger.StudentID(state.Input.StudentID),
		logger.String("step", string(state.CurrentStep)),
		logger.Err(err),
	)
	return &FlowError{Flow: "achievement_flow", Step: state.CurrentStep, Err: err}
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// EarnedAchievement joins an award with its catalog entry.
type EarnedAchievement struct {
	Achievement achievement.Achievement
	EarnedAt    time.Time
}

// ListEarned returns the student's achievements, newest first.
func (s *AchievementFlowSaga) ListEarned(ctx context.Context, studentID string) ([]EarnedAchievement, error) {
	studentID = shared.NormalizeStudentID(studentID)

	catalog, err := s.repo.ListCatalog(ctx)
	if err != nil {
		return nil, shared.StoreError("achievement", "ListEarned", err)
	}
	byID := make(map[string]achievement.Achievement, len(catalog))
	for _, a := range catalog {
		byID[a.ID] = a
	}

	awards, err := s.repo.ListEarned(ctx, studentID)
	if err != nil {
		return nil, shared.StoreError("achievement", "ListEarned", err)
	}

	out := make([]EarnedAchievement, 0, len(awards))
	for _, aw := range awards {
		a, ok := byID[aw.AchievementID]
		if !ok {
			a = achievement.Achievement{ID: aw.AchievementID, Name: aw.AchievementID}
		}
		out = append(out, EarnedAchievement{Achievement: a, EarnedAt: aw.EarnedAt})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EarnedAt.After(out[j].EarnedAt) })
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowSagaBuilder helps construct AchievementFlowSaga with optional dependencies.
type AchievementFlowSagaBuilder struct {
	repo      achievement.Repository
	history   achievement.HistoryReader
	progress  achievement.ProgressReader
	rules     map[string]achievement.Predicate
	awarder   command.XPAwarder
	locker    shared.StudentLocker
	publisher shared.EventPublisher
	metrics   command.Metrics
	clock     timeutil.Clock
	config    AchievementFlowConfig
	log       *logger.Logger
}

// NewAchievementFlowSagaBuilder creates a new builder.
func NewAchievementFlowSagaBuilder() *AchievementFlowSagaBuilder {
	return &AchievementFlowSagaBuilder{
		rules:  achievement.Rules,
		config: DefaultAchievementFlowConfig(),
	}
}

// WithRepository sets the catalog and award store.
func (b *AchievementFlowSagaBuilder) WithRepository(repo achievement.Repository) *AchievementFlowSagaBuilder {
	b.repo = repo
	return b
}

// WithHistory sets the history the rules read.
func (b *AchievementFlowSagaBuilder) WithHistory(history achievement.HistoryReader) *AchievementFlowSagaBuilder {
	b.history = history
	return b
}

// WithProgress sets the streak and level reader.
func (b *AchievementFlowSagaBuilder) WithProgress(progress achievement.ProgressReader) *AchievementFlowSagaBuilder {
	b.progress = progress
	return b
}

// WithRules replaces the rule table.
func (b *AchievementFlowSagaBuilder) WithRules(rules map[string]achievement.Predicate) *AchievementFlowSagaBuilder {
	b.rules = rules
	return b
}

// WithAwarder sets the XP engine.
func (b *AchievementFlowSagaBuilder) WithAwarder(awarder command.XPAwarder) *AchievementFlowSagaBuilder {
	b.awarder = awarder
	return b
}

// WithLocker sets the per-student lock.
func (b *AchievementFlowSagaBuilder) WithLocker(locker shared.StudentLocker) *AchievementFlowSagaBuilder {
	b.locker = locker
	return b
}

// WithEventBus sets the event bus.
func (b *AchievementFlowSagaBuilder) WithEventBus(bus shared.EventPublisher) *AchievementFlowSagaBuilder {
	b.publisher = bus
	return b
}

// WithMetrics sets the metrics sink.
func (b *AchievementFlowSagaBuilder) WithMetrics(m command.Metrics) *AchievementFlowSagaBuilder {
	b.metrics = m
	return b
}

// WithClock sets the clock.
func (b *AchievementFlowSagaBuilder) WithClock(clock timeutil.Clock) *AchievementFlowSagaBuilder {
	b.clock = clock
	return b
}

// WithConfig sets the configuration.
func (b *AchievementFlowSagaBuilder) WithConfig(config AchievementFlowConfig) *AchievementFlowSagaBuilder {
	b.config = config
	return b
}

// WithLogger sets the logger.
func (b *AchievementFlowSagaBuilder) WithLogger(log *logger.Logger) *AchievementFlowSagaBuilder {
	b.log = log
	return b
}

// Build creates the AchievementFlowSaga instance.
func (b *AchievementFlowSagaBuilder) Build() (*AchievementFlowSaga, error) {
	if b.repo == nil {
		return nil, errors.New("achievement repository is required")
	}
	if b.history == nil {
		return nil, errors.New("history reader is required")
	}
	if b.progress == nil {
		return nil, errors.New("progress reader is required")
	}
	if b.awarder == nil {
		return nil, errors.New("xp awarder is required")
	}
	if b.locker == nil {
		return nil, errors.New("student locker is required")
	}

	s := &AchievementFlowSaga{
		repo:      b.repo,
		history:   b.history,
		progress:  b.progress,
		rules:     b.rules,
		awarder:   b.awarder,
		locker:    b.locker,
		publisher: b.publisher,
		metrics:   b.metrics,
		clock:     b.clock,
		config:    b.config,
		log:       b.log,
	}
	if s.publisher == nil {
		s.publisher = shared.NopPublisher{}
	}
	if s.metrics == nil {
		s.metrics = command.NopMetrics{}
	}
	if s.clock == nil {
		s.clock = timeutil.SystemClock
	}
	if s.config.Location == nil {
		s.config.Location = timeutil.DefaultLocation
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	s.log = s.log.With(logger.Component("achievement"))
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// EngineProgress reads streak and level through the command handlers.
type EngineProgress struct {
	Streaks *command.StreakHandler
	XP      *command.XPHandler
}

// CurrentStreak implements achievement.ProgressReader.
func (p EngineProgress) CurrentStreak(ctx context.Context, studentID string) (int, error) {
	r, err := p.Streaks.GetStreak(ctx, studentID)
	if err != nil {
		return 0, err
	}
	return r.CurrentStreak, nil
}

// Level implements achievement.ProgressReader.
func (p EngineProgress) Level(ctx context.Context, studentID string) (int, error) {
	v, err := p.XP.GetProgress(ctx, studentID)
	if err != nil {
		return 0, err
	}
	return v.Level, nil
}
