package bus

import "context"

// Message is one payload received from a bus channel.
type Message struct {
	Channel string
	Payload []byte
}

// Publisher is the capability the snapshot builder publishes through.
// Publish is fire-and-forget: the bus gives no delivery or ordering
// guarantee; ordering comes from the single-publisher-per-kind
// discipline upstream.
type Publisher interface {
	// Publish broadcasts one payload on a channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// SetLatest records the most recent snapshot timestamp for a channel
	// so late-joining consumers can see feed freshness.
	SetLatest(ctx context.Context, channel, timestamp string) error
}

// Subscriber is the capability the fan-out dispatcher consumes from.
type Subscriber interface {
	// Subscribe returns a stream of messages for the given channels and a
	// stop function releasing the subscription. The stream closes when
	// ctx is cancelled or stop is called.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, func(), error)
}
