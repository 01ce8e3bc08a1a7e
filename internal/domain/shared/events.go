package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Progression event types. Each one is also an activity-feed kind.
const (
	// XP events
	EventXPAwarded EventType = "progress.xp_awarded"
	EventLevelUp   EventType = "progress.level_up"

	// Streak events
	EventStreakMilestone EventType = "streak.milestone"
	EventStreakBroken    EventType = "streak.broken"
	EventStreakFrozen    EventType = "streak.frozen"

	// Quest events
	EventQuestCompleted EventType = "quest.completed"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"

	// League events
	EventLeaguePromoted   EventType = "league.promoted"
	EventLeagueDemoted    EventType = "league.demoted"
	EventSeasonRolledOver EventType = "league.season_rolled_over"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Activity Logged Event
// ═══════════════════════════════════════════════════════════════════════════

// ActivityLoggedEvent is the outbound hook every subsystem produces for the
// activity feed. The event type tells what happened; Title and Description are
// human readable and Metadata carries the structured details.
type ActivityLoggedEvent struct {
	BaseEvent
	StudentID   string                 `json:"student_id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	IsPublic    bool                   `json:"is_public"`
}

// Payload implements Event interface.
func (e ActivityLoggedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"title":       e.Title,
		"description": e.Description,
		"metadata":    e.Metadata,
		"is_public":   e.IsPublic,
	}
}

// NewActivityLoggedEvent creates a new ActivityLoggedEvent.
func NewActivityLoggedEvent(
	eventType EventType,
	studentID, title, description string,
	metadata map[string]interface{},
	isPublic bool,
	at time.Time,
) ActivityLoggedEvent {
	return ActivityLoggedEvent{
		BaseEvent:   NewBaseEvent(eventType, studentID, at),
		StudentID:   studentID,
		Title:       title,
		Description: description,
		Metadata:    metadata,
		IsPublic:    isPublic,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Awarded Event
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted after every ledger write. It is not a feed entry.
type XPAwardedEvent struct {
	BaseEvent
	StudentID       string `json:"student_id"`
	Amount          int    `json:"amount"`
	TransactionType string `json:"transaction_type"`
	TotalXP         int64  `json:"total_xp"`
	Level           int    `json:"level"`
}

// Payload implements Event interface.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":       e.StudentID,
		"amount":           e.Amount,
		"transaction_type": e.TransactionType,
		"total_xp":         e.TotalXP,
		"level":            e.Level,
	}
}

// NewXPAwardedEvent creates a new XPAwardedEvent.
func NewXPAwardedEvent(studentID string, amount int, txType string, total int64, level int, at time.Time) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent:       NewBaseEvent(EventXPAwarded, studentID, at),
		StudentID:       studentID,
		Amount:          amount,
		TransactionType: txType,
		TotalXP:         total,
		Level:           level,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Season Rolled Over Event
// ═══════════════════════════════════════════════════════════════════════════

// SeasonRolledOverEvent is emitted once per completed rollover.
type SeasonRolledOverEvent struct {
	BaseEvent
	ClosedSeasonID string `json:"closed_season_id"`
	NewSeasonID    string `json:"new_season_id"`
	Participants   int    `json:"participants"`
}

// Payload implements Event interface.
func (e SeasonRolledOverEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"closed_season_id": e.ClosedSeasonID,
		"new_season_id":    e.NewSeasonID,
		"participants":     e.Participants,
	}
}

// NewSeasonRolledOverEvent creates a new SeasonRolledOverEvent.
func NewSeasonRolledOverEvent(closedID, newID string, participants int, at time.Time) SeasonRolledOverEvent {
	return SeasonRolledOverEvent{
		BaseEvent:      NewBaseEvent(EventSeasonRolledOver, newID, at),
		ClosedSeasonID: closedID,
		NewSeasonID:    newID,
		Participants:   participants,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
// Publishing is fire-and-forget: an error means the event was not accepted,
// never that a subscriber failed.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
