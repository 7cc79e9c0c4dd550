package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

// Redis implements Publisher and Subscriber over Redis pub/sub.
type Redis struct {
	client *redis.Client
	logger logpkg.Logger
}

// OpenRedis connects to Redis and verifies the connection. Failure here
// is fatal for the process; everything after startup is best-effort.
func OpenRedis(ctx context.Context, url string, logger logpkg.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client, logger: logger}, nil
}

// Close releases the client.
func (r *Redis) Close() error { return r.client.Close() }

// Ping checks bus liveness.
func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

// Publish broadcasts one payload on a channel. Consumers that are not
// subscribed at this moment miss the message; that is the contract.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// SetLatest records the most recent snapshot timestamp for a channel.
func (r *Redis) SetLatest(ctx context.Context, channel, timestamp string) error {
	return r.client.Set(ctx, channel+":timestamp", timestamp, 0).Err()
}

// Subscribe opens a pub/sub subscription on the given channels.
func (r *Redis) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func(), error) {
	pubsub := r.client.Subscribe(ctx, channels...)
	// Receive forces the SUBSCRIBE round-trip so a broken bus surfaces
	// here instead of as a silent empty stream.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	r.logger.Debug("bus subscription opened", logpkg.Any("channels", channels))

	out := make(chan Message)
	done := make(chan struct{})
	go func() {
		defer close(out)
		src := pubsub.Channel()
		for {
			select {
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, stop, nil
}
