// Package notification содержит доменную модель уведомлений о прогрессе.
// Уведомления формируются из событий движка и доставляются по принципу
// best-effort: сбой доставки никогда не влияет на начисление XP.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION TYPE
// ══════════════════════════════════════════════════════════════════════════════

// Type определяет тип уведомления.
type Type string

const (
	// TypeLevelUp - пользователь перешёл на новый уровень.
	// "⬆️ Level 5! 2,500 XP earned so far"
	TypeLevelUp Type = "level_up"

	// TypeAchievementPending - достижение доступно для получения.
	TypeAchievementPending Type = "achievement_pending"

	// TypeAchievementClaimed - достижение получено.
	TypeAchievementClaimed Type = "achievement_claimed"
)

// IsValid reports whether t is a known type.
func (t Type) IsValid() bool {
	switch t {
	case TypeLevelUp, TypeAchievementPending, TypeAchievementClaimed:
		return true
	}
	return false
}

// Emoji возвращает эмодзи для данного типа уведомления.
func (t Type) Emoji() string {
	switch t {
	case TypeLevelUp:
		return "⬆️"
	case TypeAchievementPending:
		return "🏅"
	case TypeAchievementClaimed:
		return "🏆"
	default:
		return "📬"
	}
}

// DefaultPriority возвращает приоритет по умолчанию.
func (t Type) DefaultPriority() Priority {
	switch t {
	case TypeAchievementPending:
		return PriorityHigh
	case TypeLevelUp:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PRIORITY
// ══════════════════════════════════════════════════════════════════════════════

// Priority определяет приоритет уведомления.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// Notification - сообщение для пользователя.
type Notification struct {
	UserID   string            `json:"user_id"`
	Type     Type              `json:"type"`
	Priority Priority          `json:"priority"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`

	// CorrelationID связывает уведомление с исходным запросом.
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ErrInvalidNotification возвращается для некорректного уведомления.
var ErrInvalidNotification = errors.New("invalid notification")

// New создаёт уведомление с приоритетом по умолчанию.
func New(userID string, t Type, title, body string, now time.Time) (*Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidNotification)
	}
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidNotification, t)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidNotification)
	}
	return &Notification{
		UserID:    userID,
		Type:      t,
		Priority:  t.DefaultPriority(),
		Title:     title,
		Body:      body,
		Data:      map[string]string{},
		CreatedAt: now,
	}, nil
}

// Text возвращает заголовок с эмодзи и тело одной строкой.
func (n *Notification) Text() string {
	if n.Body == "" {
		return n.Type.Emoji() + " " + n.Title
	}
	return n.Type.Emoji() + " " + n.Title + ": " + n.Body
}

// ══════════════════════════════════════════════════════════════════════════════
// SENDER
// ══════════════════════════════════════════════════════════════════════════════

// Sender доставляет уведомление во внешний канал.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}
