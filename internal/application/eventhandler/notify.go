// Package eventhandler содержит обработчики событий движка прогресса.
// Обработчики реагируют на уже сохранённые изменения и запускают побочные
// эффекты: уведомления и сброс кешей. Ошибка обработчика не отменяет
// начисление и не повторяется синхронно.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/notification"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/circuitbreaker"
)

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFY HANDLER
// Превращает события уровня и достижений в уведомления и отправляет их
// через circuit breaker. Пока breaker открыт, уведомления отбрасываются.
// ═══════════════════════════════════════════════════════════════════════════

// NotifyHandler отправляет уведомления о прогрессе.
type NotifyHandler struct {
	sender  notification.Sender
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
	config  NotifyConfig
}

// NotifyConfig содержит конфигурацию обработчика.
type NotifyConfig struct {
	// Timeout ограничивает одну попытку доставки.
	Timeout time.Duration

	// NotifyBackfilled - уведомлять ли о достижениях, условия которых были
	// выполнены ещё до события (например, после изменения каталога).
	NotifyBackfilled bool

	Now func() time.Time
}

// DefaultNotifyConfig возвращает конфигурацию по умолчанию.
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		Timeout:          5 * time.Second,
		NotifyBackfilled: true,
		Now:              time.Now,
	}
}

// NewNotifyHandler создаёт обработчик. breaker может быть nil.
func NewNotifyHandler(sender notification.Sender, breaker *circuitbreaker.CircuitBreaker, logger *slog.Logger, config NotifyConfig) *NotifyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultNotifyConfig().Timeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if breaker == nil {
		breaker = circuitbreaker.NotificationBreaker(nil)
	}
	return &NotifyHandler{
		sender:  sender,
		breaker: breaker,
		logger:  logger.With(slog.String("component", "notify_handler")),
		config:  config,
	}
}

// Register подписывает обработчик на события.
func (h *NotifyHandler) Register(sub shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventLevelUp,
		shared.EventAchievementPending,
		shared.EventAchievementClaimed,
	} {
		if err := sub.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle обрабатывает одно событие.
func (h *NotifyHandler) Handle(event shared.Event) error {
	n, err := h.build(event)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	err = h.breaker.Execute(ctx, func(ctx context.Context) error {
		return h.sender.Send(ctx, n)
	})
	switch {
	case err == nil:
		h.logger.Debug("notification sent",
			slog.String("user_id", n.UserID),
			slog.String("type", string(n.Type)),
		)
		return nil
	case circuitbreaker.Rejected(err):
		h.logger.Warn("notification dropped, delivery circuit open",
			slog.String("user_id", n.UserID),
			slog.String("type", string(n.Type)),
		)
		return nil
	default:
		return fmt.Errorf("send %s notification: %w", n.Type, err)
	}
}

// build создаёт уведомление из события. nil означает, что уведомлять не нужно.
// Данные читаются из Payload, поэтому работают и для событий других инстансов.
func (h *NotifyHandler) build(event shared.Event) (*notification.Notification, error) {
	p := event.Payload()
	now := h.config.Now()

	var (
		n   *notification.Notification
		err error
	)
	switch event.EventType() {
	case shared.EventLevelUp:
		level := payloadInt(p, "new_level")
		n, err = notification.New(event.AggregateID(), notification.TypeLevelUp,
			fmt.Sprintf("Level %d!", level),
			fmt.Sprintf("%d XP earned so far", payloadInt(p, "total_xp")), now)
		if err == nil {
			n.Data["level"] = strconv.Itoa(level)
		}

	case shared.EventAchievementPending:
		backfilled := payloadBool(p, "backfilled")
		if backfilled && !h.config.NotifyBackfilled {
			return nil, nil
		}
		n, err = notification.New(event.AggregateID(), notification.TypeAchievementPending,
			payloadString(p, "title"),
			fmt.Sprintf("ready to claim for %d XP", payloadInt(p, "xp_reward")), now)
		if err == nil {
			n.Data["achievement_id"] = payloadString(p, "achievement_id")
			if backfilled {
				n.Priority = notification.PriorityLow
			}
		}

	case shared.EventAchievementClaimed:
		n, err = notification.New(event.AggregateID(), notification.TypeAchievementClaimed,
			"Achievement claimed",
			fmt.Sprintf("+%d XP", payloadInt(p, "xp_awarded")), now)
		if err == nil {
			n.Data["achievement_id"] = payloadString(p, "achievement_id")
		}

	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if c, ok := event.(interface{ Correlation() string }); ok {
		n.CorrelationID = c.Correlation()
	}
	return n, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// PAYLOAD HELPERS
// ═══════════════════════════════════════════════════════════════════════════

func payloadInt(p map[string]interface{}, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func payloadString(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

func payloadBool(p map[string]interface{}, key string) bool {
	b, _ := p[key].(bool)
	return b
}
