package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/alem-progression/internal/domain/league"
	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/xp"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// LeagueConfig configures the league handler.
type LeagueConfig struct {
	// Location decides where weeks start (Sunday 00:00).
	Location *time.Location

	// PlacementWindow is the trailing window used for the initial division.
	PlacementWindow time.Duration
}

// DefaultLeagueConfig returns the default configuration.
func DefaultLeagueConfig() LeagueConfig {
	return LeagueConfig{
		Location:        timeutil.DefaultLocation,
		PlacementWindow: 7 * 24 * time.Hour,
	}
}

// LeagueHandler manages weekly seasons, divisions and participation.
type LeagueHandler struct {
	repo      league.Repository
	ledger    xp.Ledger
	standings league.StandingsCache
	locker    shared.StudentLocker
	publisher shared.EventPublisher
	metrics   Metrics
	clock     timeutil.Clock
	config    LeagueConfig
	log       *logger.Logger

	seasons singleflight.Group
}

// NewLeagueHandler creates the handler. standings may be nil.
func NewLeagueHandler(
	repo league.Repository,
	ledger xp.Ledger,
	standings league.StandingsCache,
	locker shared.StudentLocker,
	publisher shared.EventPublisher,
	metrics Metrics,
	clock timeutil.Clock,
	config LeagueConfig,
	log *logger.Logger,
) *LeagueHandler {
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
	if config.PlacementWindow <= 0 {
		config.PlacementWindow = 7 * 24 * time.Hour
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &LeagueHandler{
		repo:      repo,
		ledger:    ledger,
		standings: standings,
		locker:    locker,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		config:    config,
		log:       log.With(logger.Component("league")),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SEASONS
// ══════════════════════════════════════════════════════════════════════════════

// GetCurrentSeason returns the active season, creating the week containing
// now if there is none. Concurrent creators in one process share a single
// insert; across processes the unique index on the active flag decides and
// the losers re-read.
func (h *LeagueHandler) GetCurrentSeason(ctx context.Context) (*league.Season, error) {
	season, err := h.repo.GetActiveSeason(ctx)
	if err == nil {
		return season, nil
	}
	if !shared.IsNotFound(err) {
		return nil, shared.StoreError("league", "GetCurrentSeason", err)
	}

	season, err = doShared(ctx, &h.seasons, "active", func(ctx context.Context) (*league.Season, error) {
		if season, err := h.repo.GetActiveSeason(ctx); err == nil {
			return season, nil
		}

		season := league.NewSeasonFor(h.clock(), h.config.Location)
		err := h.repo.CreateSeason(ctx, season)
		switch {
		case err == nil:
			h.log.Info("season started",
				logger.SeasonID(season.ID),
				logger.Time("start", season.StartDate),
				logger.Time("end", season.EndDate),
			)
			return season, nil
		case shared.IsAlreadyExists(err):
			return h.repo.GetActiveSeason(ctx)
		default:
			return nil, err
		}
	})
	if err != nil {
		return nil, shared.StoreError("league", "GetCurrentSeason", err)
	}
	return season, nil
}

// EndSeasonAndStartNew closes the active season and opens the next one.
// Every step checks the stored state first, so a run that failed halfway
// can simply be repeated.
func (h *LeagueHandler) EndSeasonAndStartNew(ctx context.Context) (*league.Season, error) {
	return doShared(ctx, &h.seasons, "rollover", h.rollover)
}

func (h *LeagueHandler) rollover(ctx context.Context) (*league.Season, error) {
	const op = "EndSeasonAndStartNew"

	closing, err := h.repo.GetActiveSeason(ctx)
	if shared.IsNotFound(err) {
		// Already closed; just make sure the next season exists.
		return h.GetCurrentSeason(ctx)
	}
	if err != nil {
		return nil, shared.StoreError("league", op, err)
	}

	now := h.clock()
	log := h.log.With(logger.SeasonID(closing.ID), logger.Operation(op))

	if !closing.IsFrozen() {
		participants, err := h.repo.ListParticipants(ctx, closing.ID)
		if err != nil {
			return nil, shared.StoreError("league", op, err)
		}
		standings := league.RankParticipants(participants)
		if err := h.repo.FreezeSeason(ctx, closing.ID, standings, now); err != nil {
			return nil, shared.StoreError("league", op, err)
		}
		log.Info("season frozen", logger.Int("participants", len(participants)))
	}

	reset, err := h.repo.ResetSeasonParticipants(ctx, closing.ID)
	if err != nil {
		return nil, shared.StoreError("league", op, err)
	}
	if err := h.repo.DeactivateSeason(ctx, closing.ID); err != nil {
		return nil, shared.StoreError("league", op, err)
	}

	if h.standings != nil {
		if divisions, err := h.repo.ListDivisions(ctx); err == nil {
			ids := make([]string, 0, len(divisions))
			for _, d := range divisions {
				ids = append(ids, d.ID)
			}
			if err := h.standings.DropSeason(ctx, closing.ID, ids); err != nil {
				log.Warn("drop standings failed", logger.Err(err))
			}
		}
	}

	next, err := h.GetCurrentSeason(ctx)
	if err != nil {
		return nil, err
	}

	h.metrics.SeasonRolledOver(reset)
	h.emit(shared.NewSeasonRolledOverEvent(closing.ID, next.ID, reset, now))
	log.Info("season rolled over",
		logger.String("new_season_id", next.ID),
		logger.Int("participants", reset),
	)
	return next, nil
}

// CheckAndStartNewSeasonIfNeeded rolls the season over once its end date has
// passed. It reports whether a rollover happened.
func (h *LeagueHandler) CheckAndStartNewSeasonIfNeeded(ctx context.Context) (bool, error) {
	season, err := h.GetCurrentSeason(ctx)
	if err != nil {
		return false, err
	}
	if !season.IsOver(h.clock()) {
		return false, nil
	}
	if _, err := h.EndSeasonAndStartNew(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PARTICIPATION
// ══════════════════════════════════════════════════════════════════════════════

// JoinSeason returns the student's participation in the current season,
// placing them by trailing XP on first call.
func (h *LeagueHandler) JoinSeason(ctx context.Context, studentID string) (*league.Participation, error) {
	studentID = shared.NormalizeStudentID(studentID)
	if studentID == "" {
		return nil, shared.NewDomainError("league", "JoinSeason", shared.ErrInvalidInput, "student id is required")
	}

	var p *league.Participation
	err := h.locker.WithStudentLock(ctx, studentID, func(ctx context.Context) error {
		season, err := h.GetCurrentSeason(ctx)
		if err != nil {
			return err
		}
		p, err = h.join(ctx, studentID, season)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (h *LeagueHandler) join(ctx context.Context, studentID string, season *league.Season) (*league.Participation, error) {
	const op = "JoinSeason"

	p, err := h.repo.GetParticipation(ctx, studentID, season.ID)
	if err == nil {
		return p, nil
	}
	if !shared.IsNotFound(err) {
		return nil, shared.StoreError("league", op, err)
	}

	divisions, err := h.repo.ListDivisions(ctx)
	if err != nil {
		return nil, shared.StoreError("league", op, err)
	}

	now := h.clock()
	trailing, err := h.ledger.SumEarnedSince(ctx, studentID, now.Add(-h.config.PlacementWindow))
	if err != nil {
		return nil, shared.StoreError("league", op, err)
	}
	division, err := league.ResolveDivision(divisions, trailing)
	if err != nil {
		return nil, err
	}

	p = league.NewParticipation(studentID, season.ID, division.ID, now)
	err = h.repo.CreateParticipation(ctx, p)
	switch {
	case err == nil:
		h.log.Debug("joined season",
			logger.StudentID(studentID),
			logger.SeasonID(season.ID),
			logger.String("division", division.ID),
		)
		return p, nil
	case shared.IsAlreadyExists(err):
		// Another instance won the insert.
		existing, err := h.repo.GetParticipation(ctx, studentID, season.ID)
		if err != nil {
			return nil, shared.StoreError("league", op, err)
		}
		return existing, nil
	default:
		return nil, shared.StoreError("league", op, err)
	}
}

// AddWeeklyXP adds XP to the current season and moves the student between
// divisions when the new total crosses a boundary.
func (h *LeagueHandler) AddWeeklyXP(ctx context.Context, studentID string, amount int64) (*league.Participation, error) {
	studentID = shared.NormalizeStudentID(studentID)
	if amount <= 0 {
		return nil, shared.NewDomainError("league", "AddWeeklyXP", shared.ErrInvalidInput, "weekly xp increment must be positive")
	}

	var p *league.Participation
	err := h.locker.WithStudentLock(ctx, studentID, func(ctx context.Context) error {
		var err error
		p, err = h.addWeeklyXP(ctx, studentID, amount)
		if !errors.Is(err, shared.ErrSeasonClosed) {
			return err
		}

		// The season was frozen between the read and the write. Finish the
		// rollover if it is due and count the XP in the season that is open.
		h.log.Debug("season closed during update, retrying", logger.StudentID(studentID))
		if _, err := h.CheckAndStartNewSeasonIfNeeded(ctx); err != nil {
			return err
		}
		p, err = h.addWeeklyXP(ctx, studentID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (h *LeagueHandler) addWeeklyXP(ctx context.Context, studentID string, amount int64) (*league.Participation, error) {
	const op = "AddWeeklyXP"

	season, err := h.GetCurrentSeason(ctx)
	if err != nil {
		return nil, err
	}
	p, err := h.join(ctx, studentID, season)
	if err != nil {
		return nil, err
	}

	divisions, err := h.repo.ListDivisions(ctx)
	if err != nil {
		return nil, shared.StoreError("league", op, err)
	}
	divisions = league.SortDivisions(divisions)

	from, ok := findDivision(divisions, p.DivisionID)
	if !ok {
		// Unknown division id: treat as lowest tier so the move is a promotion.
		from = league.Division{ID: p.DivisionID, Order: -1}
	}

	now := h.clock()
	p.WeeklyXP += amount
	to, err := league.ResolveDivision(divisions, p.WeeklyXP)
	if err != nil {
		return nil, err
	}
	p.Move(from, to)
	p.UpdatedAt = now

	if err := h.repo.UpdateParticipation(ctx, p); err != nil {
		return nil, shared.StoreError("league", op, err)
	}

	h.syncStandings(ctx, p, from.ID)

	if p.Promoted || p.Demoted {
		h.divisionChanged(studentID, p, from, to, now)
	}
	return p, nil
}

func (h *LeagueHandler) divisionChanged(studentID string, p *league.Participation, from, to league.Division, now time.Time) {
	direction := "promoted"
	eventType := shared.EventLeaguePromoted
	title := fmt.Sprintf("Promoted to %s", to.Name)
	public := true
	if p.Demoted {
		direction = "demoted"
		eventType = shared.EventLeagueDemoted
		title = fmt.Sprintf("Moved to %s", to.Name)
		public = false
	}

	h.metrics.DivisionChanged(direction)
	h.log.Info("division changed",
		logger.StudentID(studentID),
		logger.SeasonID(p.SeasonID),
		logger.String("from", from.ID),
		logger.String("to", to.ID),
		logger.String("direction", direction),
	)
	h.emit(shared.NewActivityLoggedEvent(
		eventType,
		studentID,
		title,
		fmt.Sprintf("%d XP this week", p.WeeklyXP),
		map[string]interface{}{
			"season_id":     p.SeasonID,
			"from_division": from.ID,
			"to_division":   to.ID,
			"weekly_xp":     p.WeeklyXP,
		},
		public,
		now,
	))
}

func (h *LeagueHandler) syncStandings(ctx context.Context, p *league.Participation, previousDivision string) {
	if h.standings == nil {
		return
	}
	if previousDivision != p.DivisionID {
		if err := h.standings.Remove(ctx, p.SeasonID, previousDivision, p.StudentID); err != nil {
			h.log.Warn("standings remove failed", logger.StudentID(p.StudentID), logger.Err(err))
		}
	}
	if err := h.standings.SetWeeklyXP(ctx, p.SeasonID, p.DivisionID, p.StudentID, p.WeeklyXP); err != nil {
		h.log.Warn("standings update failed", logger.StudentID(p.StudentID), logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// StandingView is a student's live position in the current season.
type StandingView struct {
	Season        *league.Season
	Participation *league.Participation
	Division      league.Division
	Rank          int
}

// GetStanding returns the student's division and rank without joining.
func (h *LeagueHandler) GetStanding(ctx context.Context, studentID string) (*StandingView, error) {
	const op = "GetStanding"
	studentID = shared.NormalizeStudentID(studentID)

	season, err := h.GetCurrentSeason(ctx)
	if err != nil {
		return nil, err
	}
	p, err := h.repo.GetParticipation(ctx, studentID, season.ID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrParticipationGone
		}
		return nil, shared.StoreError("league", op, err)
	}
	divisions, err := h.repo.ListDivisions(ctx)
	if err != nil {
		return nil, shared.StoreError("league", op, err)
	}
	division, _ := findDivision(divisions, p.DivisionID)

	view := &StandingView{Season: season, Participation: p, Division: division}

	if h.standings != nil {
		rank, err := h.standings.Rank(ctx, season.ID, p.DivisionID, studentID)
		if err == nil && rank > 0 {
			view.Rank = rank
			return view, nil
		}
		if err != nil {
			h.log.Warn("standings rank failed, falling back to store", logger.StudentID(studentID), logger.Err(err))
		}
	}

	participants, err := h.repo.ListParticipants(ctx, season.ID)
	if err != nil {
		return nil, shared.StoreError("league", op, err)
	}
	for _, s := range league.RankParticipants(participants) {
		if s.StudentID == studentID {
			view.Rank = s.Rank
			break
		}
	}
	return view, nil
}

// ValidateCatalog checks that the stored divisions partition weekly XP.
// Problems are logged; the engine keeps running.
func (h *LeagueHandler) ValidateCatalog(ctx context.Context) error {
	divisions, err := h.repo.ListDivisions(ctx)
	if err != nil {
		return shared.StoreError("league", "ValidateCatalog", err)
	}
	if err := league.ValidatePartition(divisions); err != nil {
		h.log.Warn("division catalog is not a partition", logger.Err(err))
		return err
	}
	return nil
}

func (h *LeagueHandler) emit(event shared.Event) {
	if err := h.publisher.Publish(event); err != nil {
		h.log.Warn("event dropped", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
}

func findDivision(divisions []league.Division, id string) (league.Division, bool) {
	for _, d := range divisions {
		if d.ID == id {
			return d, true
		}
	}
	return league.Division{}, false
}
