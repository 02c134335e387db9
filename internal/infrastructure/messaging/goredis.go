package messaging

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// GoRedisPubSub adapts a go-redis client to PubSubClient.
type GoRedisPubSub struct {
	client redis.UniversalClient

	mu   sync.Mutex
	subs []*redis.PubSub
}

var _ PubSubClient = (*GoRedisPubSub)(nil)

// NewGoRedisPubSub wraps client. Close closes subscriptions, not the client.
func NewGoRedisPubSub(client redis.UniversalClient) *GoRedisPubSub {
	return &GoRedisPubSub{client: client}
}

// Publish publishes message to channel.
func (p *GoRedisPubSub) Publish(ctx context.Context, channel string, message string) error {
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to channels. The returned channel closes when ctx is
// done or the subscription is closed.
func (p *GoRedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan PubSubMessage, error) {
	sub := p.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	out := make(chan PubSubMessage)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- PubSubMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes every subscription opened through this adapter.
func (p *GoRedisPubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var first error
	for _, s := range p.subs {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.subs = nil
	return first
}
