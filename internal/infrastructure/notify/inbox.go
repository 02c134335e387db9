package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/notification"
	rediscache "github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/redis"
)

// InboxClient is the subset of *redis.Client used by the inbox.
type InboxClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// InboxConfig configures the per-user Redis inbox.
type InboxConfig struct {
	// MaxItems caps the list length per user.
	MaxItems int64

	// TTL expires an inbox that receives nothing new.
	TTL time.Duration
}

// DefaultInboxConfig returns the defaults.
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{MaxItems: 50, TTL: 30 * 24 * time.Hour}
}

// InboxSender pushes notifications as JSON onto notifications:<user>, newest
// first, for the client apps to poll.
type InboxSender struct {
	client InboxClient
	config InboxConfig
}

// NewInboxSender creates an InboxSender.
func NewInboxSender(client InboxClient, config InboxConfig) *InboxSender {
	def := DefaultInboxConfig()
	if config.MaxItems <= 0 {
		config.MaxItems = def.MaxItems
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	return &InboxSender{client: client, config: config}
}

// InboxKey returns the list key for a user.
func InboxKey(userID string) string {
	return rediscache.PrefixNotification + userID
}

// Send implements notification.Sender.
func (s *InboxSender) Send(ctx context.Context, n *notification.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := InboxKey(n.UserID)
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("push to inbox %s: %w", key, err)
	}
	if err := s.client.LTrim(ctx, key, 0, s.config.MaxItems-1).Err(); err != nil {
		return fmt.Errorf("trim inbox %s: %w", key, err)
	}
	if err := s.client.Expire(ctx, key, s.config.TTL).Err(); err != nil {
		return fmt.Errorf("expire inbox %s: %w", key, err)
	}
	return nil
}
