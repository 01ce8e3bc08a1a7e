package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/alem-progression/internal/domain/league"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/xp"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPCommand requests a ledger write for one student.
type AwardXPCommand struct {
	StudentID   string             `validate:"required,max=128"`
	Amount      int                `validate:"ne=0"`
	Type        xp.TransactionType `validate:"required"`
	Description string             `validate:"max=500"`
	Metadata    map[string]interface{}
}

// Validate checks the command. Only admin adjustments may be negative.
func (c AwardXPCommand) Validate() error {
	if err := ValidateStruct("xp", "AwardXP", c); err != nil {
		return err
	}
	if !c.Type.IsValid() {
		return shared.ErrUnknownXPType
	}
	if c.Amount <= 0 && !c.Type.AllowsNegative() {
		return shared.ErrNonPositiveAward
	}
	return nil
}

// AwardXPResult is the state after the award and any level-up bonus.
type AwardXPResult struct {
	XPAwarded     int
	TotalXP       int64
	CurrentLevel  int
	XPToNextLevel int64
	LeveledUp     bool
	LevelUpBonus  int
	PreviousLevel int

	// LevelsReached lists every level that produced a bonus, in order.
	LevelsReached []int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// LevelUpMode selects how a bonus that crosses another threshold is treated.
type LevelUpMode string

const (
	// LevelUpLegacy appends one bonus per award and never re-checks.
	LevelUpLegacy LevelUpMode = "legacy"

	// LevelUpCascade re-runs the level check after each bonus.
	LevelUpCascade LevelUpMode = "cascade"
)

// ParseLevelUpMode maps a config string to a mode, defaulting to legacy.
func ParseLevelUpMode(s string) LevelUpMode {
	if LevelUpMode(s) == LevelUpCascade {
		return LevelUpCascade
	}
	return LevelUpLegacy
}

// WeeklyXPAccumulator receives every positive award for league accounting.
type WeeklyXPAccumulator interface {
	AddWeeklyXP(ctx context.Context, studentID string, amount int64) (*league.Participation, error)
}

// XPConfig configures the XP handler.
type XPConfig struct {
	LevelUpMode LevelUpMode
}

// DefaultXPConfig returns the default configuration.
func DefaultXPConfig() XPConfig {
	return XPConfig{LevelUpMode: LevelUpLegacy}
}

// XPHandler owns the XP ledger and level derivation.
type XPHandler struct {
	ledger    xp.Ledger
	locker    shared.StudentLocker
	league    WeeklyXPAccumulator
	publisher shared.EventPublisher
	metrics   Metrics
	clock     timeutil.Clock
	config    XPConfig
	log       *logger.Logger
}

// NewXPHandler creates the handler. league may be nil when leagues are disabled.
func NewXPHandler(
	ledger xp.Ledger,
	locker shared.StudentLocker,
	league WeeklyXPAccumulator,
	publisher shared.EventPublisher,
	metrics Metrics,
	clock timeutil.Clock,
	config XPConfig,
	log *logger.Logger,
) *XPHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &XPHandler{
		ledger:    ledger,
		locker:    locker,
		league:    league,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		config:    config,
		log:       log.With(logger.Component("xp")),
	}
}

// AwardXP appends a transaction, derives the level and handles level-ups.
func (h *XPHandler) AwardXP(ctx context.Context, cmd AwardXPCommand) (*AwardXPResult, error) {
	cmd.StudentID = shared.NormalizeStudentID(cmd.StudentID)
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result *AwardXPResult
	err := h.locker.WithStudentLock(ctx, cmd.StudentID, func(ctx context.Context) error {
		var err error
		result, err = h.award(ctx, cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *XPHandler) award(ctx context.Context, cmd AwardXPCommand) (*AwardXPResult, error) {
	before, after, err := h.apply(ctx, cmd.StudentID, cmd.Amount, cmd.Type, cmd.Description, cmd.Metadata)
	if err != nil {
		return nil, err
	}

	result := &AwardXPResult{
		XPAwarded:     cmd.Amount,
		PreviousLevel: before.CurrentLevel,
	}
	fill(result, after)

	if after.CurrentLevel <= before.CurrentLevel {
		return result, nil
	}

	result.LeveledUp = true
	switch h.config.LevelUpMode {
	case LevelUpCascade:
		err = h.cascade(ctx, cmd.StudentID, after.CurrentLevel, result)
	default:
		err = h.legacyBonus(ctx, cmd.StudentID, after.CurrentLevel, result)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// legacyBonus appends exactly one bonus for the level reached by the base
// award. The stored level fields follow the new balance, but a threshold
// crossed by the bonus itself is not reported.
func (h *XPHandler) legacyBonus(ctx context.Context, studentID string, level int, result *AwardXPResult) error {
	bonus := xp.LevelUpBonus(level)
	_, after, err := h.applyBonus(ctx, studentID, level, bonus)
	if err != nil {
		return err
	}
	result.LevelUpBonus = bonus
	result.LevelsReached = append(result.LevelsReached, level)
	fill(result, after)
	return nil
}

// cascade applies bonuses until a bonus no longer crosses a threshold.
func (h *XPHandler) cascade(ctx context.Context, studentID string, level int, result *AwardXPResult) error {
	for level > 0 {
		bonus := xp.LevelUpBonus(level)
		before, after, err := h.applyBonus(ctx, studentID, level, bonus)
		if err != nil {
			return err
		}
		result.LevelUpBonus += bonus
		result.LevelsReached = append(result.LevelsReached, level)
		fill(result, after)

		if after.CurrentLevel > before.CurrentLevel {
			level = after.CurrentLevel
		} else {
			level = 0
		}
	}
	return nil
}

func (h *XPHandler) applyBonus(ctx context.Context, studentID string, level, bonus int) (*xp.Record, *xp.Record, error) {
	before, after, err := h.apply(ctx, studentID, bonus, xp.TypeLevelUpBonus,
		fmt.Sprintf("Level %d bonus", level),
		map[string]interface{}{"level": level})
	if err != nil {
		return nil, nil, err
	}

	h.metrics.LevelUp(level)
	h.log.Info("level up",
		logger.StudentID(studentID),
		logger.CurrentLevel(level),
		logger.Int("bonus", bonus),
	)
	h.emit(shared.NewActivityLoggedEvent(
		shared.EventLevelUp,
		studentID,
		fmt.Sprintf("Reached level %d", level),
		fmt.Sprintf("Leveled up to %d and earned %d bonus XP", level, bonus),
		map[string]interface{}{"level": level, "bonus_xp": bonus},
		true,
		h.clock(),
	))
	return before, after, nil
}

// apply writes one transaction and forwards positive amounts to the league.
func (h *XPHandler) apply(
	ctx context.Context,
	studentID string,
	amount int,
	txType xp.TransactionType,
	description string,
	metadata map[string]interface{},
) (*xp.Record, *xp.Record, error) {
	now := h.clock()
	tx := xp.NewTransaction(studentID, amount, txType, description, metadata, now)

	before, after, err := h.ledger.Apply(ctx, tx)
	if err != nil {
		if shared.IsValidation(err) {
			return nil, nil, err
		}
		h.log.Error("ledger write failed",
			logger.StudentID(studentID),
			logger.XPAmount(amount),
			logger.String("type", string(txType)),
			logger.Err(err),
		)
		return nil, nil, shared.StoreError("xp", "AwardXP", err)
	}
	before = normalized(before, studentID, now)
	after = normalized(after, studentID, now)

	h.metrics.XPAwarded(string(txType), amount)
	h.log.Debug("xp awarded",
		logger.StudentID(studentID),
		logger.XPAmount(amount),
		logger.String("type", string(txType)),
		logger.Int64("total_xp", after.TotalXP),
	)
	h.emit(shared.NewXPAwardedEvent(studentID, amount, string(txType), after.TotalXP, after.CurrentLevel, now))

	if amount > 0 && h.league != nil {
		if _, err := h.league.AddWeeklyXP(ctx, studentID, int64(amount)); err != nil {
			h.metrics.SubsystemFailed("league")
			h.log.Warn("league accounting failed",
				logger.StudentID(studentID),
				logger.XPAmount(amount),
				logger.Err(err),
			)
		}
	}
	return before, after, nil
}

func (h *XPHandler) emit(event shared.Event) {
	if err := h.publisher.Publish(event); err != nil {
		h.log.Warn("event dropped",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}

// normalized treats a missing or corrupt record as a fresh one.
func normalized(r *xp.Record, studentID string, now time.Time) *xp.Record {
	if r == nil {
		return xp.NewRecord(studentID, now)
	}
	c := r.Clone()
	c.Recompute()
	return c
}

func fill(result *AwardXPResult, r *xp.Record) {
	result.TotalXP = r.TotalXP
	result.CurrentLevel = r.CurrentLevel
	result.XPToNextLevel = r.XPToNextLevel
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// ProgressView is a student's XP balance with the level breakdown.
type ProgressView struct {
	StudentID     string
	TotalXP       int64
	Level         int
	XPIntoLevel   int64
	XPToNextLevel int64
}

// GetProgress returns the balance, treating a missing record as level 1.
func (h *XPHandler) GetProgress(ctx context.Context, studentID string) (*ProgressView, error) {
	studentID = shared.NormalizeStudentID(studentID)
	record, err := h.ledger.Get(ctx, studentID)
	switch {
	case shared.IsNotFound(err):
		record = xp.NewRecord(studentID, h.clock())
	case err != nil:
		return nil, shared.StoreError("xp", "GetProgress", err)
	}

	state := xp.Progress(record.TotalXP)
	return &ProgressView{
		StudentID:     studentID,
		TotalXP:       max(record.TotalXP, 0),
		Level:         state.Level,
		XPIntoLevel:   state.XPIntoLevel,
		XPToNextLevel: state.XPToNextLevel,
	}, nil
}

// ListTransactions returns the newest ledger entries first.
func (h *XPHandler) ListTransactions(ctx context.Context, studentID string, limit int) ([]*xp.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	txs, err := h.ledger.ListTransactions(ctx, shared.NormalizeStudentID(studentID), limit)
	if err != nil {
		return nil, shared.StoreError("xp", "ListTransactions", err)
	}
	return txs, nil
}

// Reconciliation compares the ledger sum with the stored balance.
type Reconciliation struct {
	StudentID     string
	LedgerSum     int64
	StoredTotalXP int64
	Consistent    bool
}

// Reconcile checks that the transactions add up to the stored balance.
func (h *XPHandler) Reconcile(ctx context.Context, studentID string) (*Reconciliation, error) {
	studentID = shared.NormalizeStudentID(studentID)

	var rec *Reconciliation
	err := h.locker.WithStudentLock(ctx, studentID, func(ctx context.Context) error {
		sum, err := h.ledger.SumTransactions(ctx, studentID)
		if err != nil {
			return shared.StoreError("xp", "Reconcile", err)
		}

		var stored int64
		record, err := h.ledger.Get(ctx, studentID)
		switch {
		case shared.IsNotFound(err):
		case err != nil:
			return shared.StoreError("xp", "Reconcile", err)
		default:
			stored = record.TotalXP
		}

		rec = &Reconciliation{
			StudentID:     studentID,
			LedgerSum:     sum,
			StoredTotalXP: stored,
			Consistent:    sum == stored,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !rec.Consistent {
		h.log.Warn("ledger mismatch",
			logger.StudentID(studentID),
			logger.Int64("ledger_sum", rec.LedgerSum),
			logger.Int64("total_xp", rec.StoredTotalXP),
		)
	}
	return rec, nil
}
