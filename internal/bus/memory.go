package bus

import (
	"context"
	"sync"
)

// Memory is an in-process bus with the same fire-and-forget contract as
// the Redis implementation. Used by tests and single-process setups.
type Memory struct {
	mu     sync.Mutex
	subs   map[int]*memorySub
	nextID int
	latest map[string]string
}

type memorySub struct {
	channels map[string]struct{}
	out      chan Message
}

// NewMemory returns an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]*memorySub), latest: make(map[string]string)}
}

// Publish delivers the payload to every current subscriber of the
// channel. A subscriber that is not draining its stream is skipped, the
// publisher never blocks.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if _, ok := sub.channels[channel]; !ok {
			continue
		}
		select {
		case sub.out <- Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

// SetLatest records the most recent snapshot timestamp for a channel.
func (m *Memory) SetLatest(_ context.Context, channel, timestamp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[channel] = timestamp
	return nil
}

// Latest returns the last timestamp recorded for a channel.
func (m *Memory) Latest(channel string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest[channel]
}

// Ping always succeeds for the in-process bus.
func (m *Memory) Ping(context.Context) error { return nil }

// SubscriberCount returns the number of open subscriptions.
func (m *Memory) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Subscribe registers a buffered subscription for the given channels.
func (m *Memory) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func(), error) {
	sub := &memorySub{channels: make(map[string]struct{}, len(channels)), out: make(chan Message, 64)}
	for _, ch := range channels {
		sub.channels[ch] = struct{}{}
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	m.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(sub.out)
		})
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			stop()
		}()
	}
	return sub.out, stop, nil
}
