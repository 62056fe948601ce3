package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/vrlab/classroom-monitor/internal/infrastructure/messaging"
)

// PubSub adapts Cache to messaging.RedisClient so the event bus can fan
// engine events out across monitor instances.
type PubSub struct {
	cache *Cache

	mu   sync.Mutex
	subs []func() error
}

// NewPubSub creates an adapter over cache.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{cache: cache}
}

// Channel returns the namespaced events channel.
func (p *PubSub) Channel() string {
	return p.cache.Key(ChannelEvents)
}

// Publish implements messaging.RedisClient. message is sent as is when it is
// a string, JSON encoded otherwise.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}
	return p.cache.client.Publish(ctx, channel, message).Err()
}

// Subscribe implements messaging.RedisClient. The returned channel closes
// when ctx is done or the adapter is closed.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	ps := p.cache.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrCacheConnection, err)
	}

	p.mu.Lock()
	p.subs = append(p.subs, ps.Close)
	p.mu.Unlock()

	out := make(chan messaging.RedisMessage, 64)
	in := ps.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					_ = ps.Close()
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes every subscription opened through the adapter. The
// underlying client stays open; it belongs to Cache.
func (p *PubSub) Close() error {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	var firstErr error
	for _, closeFn := range subs {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Compile-time check.
var _ messaging.RedisClient = (*PubSub)(nil)
