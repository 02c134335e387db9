package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the progress engine.
const (
	// Progress events
	EventXPAwarded EventType = "progress.xp_awarded"
	EventLevelUp   EventType = "progress.level_up"
	EventReverted  EventType = "progress.reverted"

	// Achievement events
	EventAchievementPending EventType = "achievement.pending"
	EventAchievementClaimed EventType = "achievement.claimed"
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
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
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
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// Correlation returns the correlation ID, empty when unset.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted after an award has been persisted.
type XPAwardedEvent struct {
	BaseEvent
	Token    string `json:"token"`
	Source   string `json:"source"`
	Action   string `json:"action"`
	Category string `json:"category,omitempty"`
	Amount   int    `json:"amount"`
	TotalXP  int    `json:"total_xp"`
}

// Payload implements Event interface.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"token":    e.Token,
		"source":   e.Source,
		"action":   e.Action,
		"category": e.Category,
		"amount":   e.Amount,
		"total_xp": e.TotalXP,
	}
}

// NewXPAwardedEvent creates a new XPAwardedEvent.
func NewXPAwardedEvent(userID, token, source, action, category string, amount, totalXP int) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent: NewBaseEvent(EventXPAwarded, userID),
		Token:     token,
		Source:    source,
		Action:    action,
		Category:  category,
		Amount:    amount,
		TotalXP:   totalXP,
	}
}

// IsReversal reports whether the award removed XP.
func (e XPAwardedEvent) IsReversal() bool {
	return e.Amount < 0
}

// LevelUpEvent is emitted when the global level increases.
type LevelUpEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
	TotalXP  int `json:"total_xp"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"total_xp":  e.TotalXP,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel, totalXP int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		TotalXP:   totalXP,
	}
}

// RevertedEvent is emitted when a ReversalData package has been replayed.
type RevertedEvent struct {
	BaseEvent
	Token          string   `json:"token"`
	Amount         int      `json:"amount"`
	RemovedPending []string `json:"removed_pending,omitempty"`
}

// Payload implements Event interface.
func (e RevertedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"token":           e.Token,
		"amount":          e.Amount,
		"removed_pending": e.RemovedPending,
	}
}

// NewRevertedEvent creates a new RevertedEvent.
func NewRevertedEvent(userID, token string, amount int, removedPending []string) RevertedEvent {
	return RevertedEvent{
		BaseEvent:      NewBaseEvent(EventReverted, userID),
		Token:          token,
		Amount:         amount,
		RemovedPending: removedPending,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementPendingEvent signals that an achievement became claimable.
type AchievementPendingEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	Title         string `json:"title"`
	XPReward      int    `json:"xp_reward"`
	Backfilled    bool   `json:"backfilled"`
}

// Payload implements Event interface.
func (e AchievementPendingEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id": e.AchievementID,
		"title":          e.Title,
		"xp_reward":      e.XPReward,
		"backfilled":     e.Backfilled,
	}
}

// NewAchievementPendingEvent creates a new AchievementPendingEvent.
func NewAchievementPendingEvent(userID, achievementID, title string, xpReward int, backfilled bool) AchievementPendingEvent {
	return AchievementPendingEvent{
		BaseEvent:     NewBaseEvent(EventAchievementPending, userID),
		AchievementID: achievementID,
		Title:         title,
		XPReward:      xpReward,
		Backfilled:    backfilled,
	}
}

// AchievementClaimedEvent is emitted when a pending achievement is claimed.
type AchievementClaimedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	XPAwarded     int    `json:"xp_awarded"`
	TotalXP       int    `json:"total_xp"`
}

// Payload implements Event interface.
func (e AchievementClaimedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id": e.AchievementID,
		"xp_awarded":     e.XPAwarded,
		"total_xp":       e.TotalXP,
	}
}

// NewAchievementClaimedEvent creates a new AchievementClaimedEvent.
func NewAchievementClaimedEvent(userID, achievementID string, xpAwarded, totalXP int) AchievementClaimedEvent {
	return AchievementClaimedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementClaimed, userID),
		AchievementID: achievementID,
		XPAwarded:     xpAwarded,
		TotalXP:       totalXP,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
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
