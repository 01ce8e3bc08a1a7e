// Package metrics exposes progression counters and timings to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// Progression holds the collectors of the progression engine. A nil
// *Progression is a valid no-op sink.
type Progression struct {
	registry *prometheus.Registry
	handler  http.Handler

	xpAwarded         *prometheus.CounterVec
	xpAmount          *prometheus.CounterVec
	levelUps          *prometheus.CounterVec
	streakMilestones  *prometheus.CounterVec
	questsCompleted   *prometheus.CounterVec
	achievements      *prometheus.CounterVec
	divisionChanges   *prometheus.CounterVec
	seasonRollovers   prometheus.Counter
	rolledOverMembers prometheus.Counter
	subsystemFailures *prometheus.CounterVec
	eventDuration     prometheus.Histogram
	handlerDuration   *prometheus.HistogramVec
}

// New registers the collectors on a private registry.
func New() *Progression {
	registry := prometheus.NewRegistry()

	m := &Progression{
		registry: registry,
		xpAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_xp_awarded_total",
			Help: "Number of XP ledger transactions by type",
		}, []string{"type"}),
		xpAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_xp_amount_total",
			Help: "Sum of positive XP awarded by type",
		}, []string{"type"}),
		levelUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_level_ups_total",
			Help: "Number of level-ups by level reached",
		}, []string{"level"}),
		streakMilestones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_streak_milestones_total",
			Help: "Number of streak milestones reached",
		}, []string{"days"}),
		questsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_quests_completed_total",
			Help: "Number of daily quests completed by template",
		}, []string{"template"}),
		achievements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_achievements_awarded_total",
			Help: "Number of achievements awarded",
		}, []string{"name"}),
		divisionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_league_division_changes_total",
			Help: "Number of league division changes by direction",
		}, []string{"direction"}),
		seasonRollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progression_season_rollovers_total",
			Help: "Number of completed league season rollovers",
		}),
		rolledOverMembers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progression_season_rollover_participants_total",
			Help: "Participants reset by season rollovers",
		}),
		subsystemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_subsystem_failures_total",
			Help: "Fail-soft subsystem errors during event processing",
		}, []string{"subsystem"}),
		eventDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "progression_event_duration_seconds",
			Help:    "Time to process one graded activity",
			Buckets: prometheus.DefBuckets,
		}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "progression_event_handler_duration_seconds",
			Help:    "Event bus handler latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type", "status"}),
	}

	registry.MustRegister(
		m.xpAwarded, m.xpAmount, m.levelUps, m.streakMilestones, m.questsCompleted,
		m.achievements, m.divisionChanges, m.seasonRollovers, m.rolledOverMembers,
		m.subsystemFailures, m.eventDuration, m.handlerDuration,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *Progression) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *Progression) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// XPAwarded counts one ledger write.
func (m *Progression) XPAwarded(txType string, amount int) {
	if m == nil {
		return
	}
	m.xpAwarded.WithLabelValues(txType).Inc()
	if amount > 0 {
		m.xpAmount.WithLabelValues(txType).Add(float64(amount))
	}
}

// LevelUp counts a level reached.
func (m *Progression) LevelUp(level int) {
	if m == nil {
		return
	}
	m.levelUps.WithLabelValues(strconv.Itoa(level)).Inc()
}

// StreakMilestone counts a milestone reached.
func (m *Progression) StreakMilestone(days int) {
	if m == nil {
		return
	}
	m.streakMilestones.WithLabelValues(strconv.Itoa(days)).Inc()
}

// QuestCompleted counts a completed quest.
func (m *Progression) QuestCompleted(templateKey string) {
	if m == nil {
		return
	}
	m.questsCompleted.WithLabelValues(templateKey).Inc()
}

// AchievementAwarded counts an award.
func (m *Progression) AchievementAwarded(name string) {
	if m == nil {
		return
	}
	m.achievements.WithLabelValues(name).Inc()
}

// DivisionChanged counts a promotion or demotion.
func (m *Progression) DivisionChanged(direction string) {
	if m == nil {
		return
	}
	m.divisionChanges.WithLabelValues(direction).Inc()
}

// SeasonRolledOver counts a rollover and the participants it reset.
func (m *Progression) SeasonRolledOver(participants int) {
	if m == nil {
		return
	}
	m.seasonRollovers.Inc()
	m.rolledOverMembers.Add(float64(participants))
}

// SubsystemFailed counts a fail-soft error.
func (m *Progression) SubsystemFailed(subsystem string) {
	if m == nil {
		return
	}
	m.subsystemFailures.WithLabelValues(subsystem).Inc()
}

// ObserveEvent records the processing time of one activity.
func (m *Progression) ObserveEvent(d time.Duration) {
	if m == nil {
		return
	}
	m.eventDuration.Observe(d.Seconds())
}

// ObserveHandler records an event bus handler execution.
func (m *Progression) ObserveHandler(eventType shared.EventType, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.handlerDuration.WithLabelValues(string(eventType), status).Observe(d.Seconds())
}
