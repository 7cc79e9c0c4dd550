package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nikhi3632/Stroomweg/internal/bus"
	"github.com/nikhi3632/Stroomweg/internal/datex"
	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

// Dispatcher fans published snapshots out to subscribed consumers. It is
// the only reader of the bus on the serving side; one goroutine consumes
// both kind channels, which preserves per-kind publish order into every
// consumer queue.
type Dispatcher struct {
	sub        bus.Subscriber
	registry   *Registry
	sites      *SiteIndex
	logger     logpkg.Logger
	queueDepth int

	mu        sync.Mutex
	consumers map[string]*Consumer
	nextID    atomic.Uint64
}

// NewDispatcher builds a dispatcher over the given bus subscriber and
// site reference index.
func NewDispatcher(sub bus.Subscriber, sites *SiteIndex, queueDepth int, logger logpkg.Logger) *Dispatcher {
	return &Dispatcher{
		sub:        sub,
		registry:   NewRegistry(),
		sites:      sites,
		logger:     logger,
		queueDepth: queueDepth,
		consumers:  make(map[string]*Consumer),
	}
}

// Registry exposes the subscription registry, mainly for status
// reporting.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Run consumes the bus until ctx is cancelled. Ingestion is never
// blocked by this loop: enqueueing to consumers is non-blocking and the
// bus imposes no back-pressure on publishers.
func (d *Dispatcher) Run(ctx context.Context) error {
	msgs, stop, err := d.sub.Subscribe(ctx,
		bus.ChannelFor(datex.KindSpeeds),
		bus.ChannelFor(datex.KindJourneyTimes),
	)
	if err != nil {
		return fmt.Errorf("dispatcher subscribe: %w", err)
	}
	defer stop()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			d.handle(msg)
		case <-ctx.Done():
			return nil
		}
	}
}

// Connect registers a new consumer and returns its delivery handle.
func (d *Dispatcher) Connect() *Consumer {
	id := fmt.Sprintf("c%d-%d", d.nextID.Add(1), time.Now().UnixMilli())
	c := newConsumer(id, d.queueDepth)
	d.mu.Lock()
	d.consumers[c.ID()] = c
	d.mu.Unlock()
	d.logger.Debug("consumer connected", logpkg.Str("consumer", c.ID()))
	return c
}

// Subscribe installs or replaces the consumer's filter for a kind and
// returns the number of reference sites the filter currently matches.
func (d *Dispatcher) Subscribe(c *Consumer, kind datex.Kind, f Filter) int {
	sites := d.sites.Resolve(f)
	d.registry.Register(&Subscription{
		Consumer:  c,
		Kind:      kind,
		Filter:    f,
		Sites:     sites,
		CreatedAt: time.Now(),
	})
	d.logger.Debug("subscription installed",
		logpkg.Str("consumer", c.ID()),
		logpkg.Str("kind", string(kind)),
		logpkg.Str("filter", f.String()),
		logpkg.Int("filter_count", len(sites)),
	)
	return len(sites)
}

// Unsubscribe removes the consumer's filter for a kind.
func (d *Dispatcher) Unsubscribe(c *Consumer, kind datex.Kind) bool {
	return d.registry.Unregister(c.ID(), kind)
}

// Disconnect removes every subscription for the consumer and closes its
// delivery stream. Called on transport close, normal or not.
func (d *Dispatcher) Disconnect(c *Consumer) {
	d.registry.UnregisterAll(c.ID())
	d.mu.Lock()
	delete(d.consumers, c.ID())
	d.mu.Unlock()
	c.close()
	if n := c.Dropped(); n > 0 {
		d.logger.Warn("consumer disconnected with dropped deliveries",
			logpkg.Str("consumer", c.ID()), logpkg.Uint64("dropped", n))
	} else {
		d.logger.Debug("consumer disconnected", logpkg.Str("consumer", c.ID()))
	}
}

func (d *Dispatcher) handle(msg bus.Message) {
	switch msg.Channel {
	case bus.ChannelFor(datex.KindSpeeds):
		snap, err := bus.DecodeSpeedSnapshot(msg.Payload)
		if err != nil {
			d.logger.Warn("dropping undecodable snapshot", logpkg.Str("channel", msg.Channel), logpkg.Err(err))
			return
		}
		for _, sub := range d.registry.ForKind(datex.KindSpeeds) {
			records := expandSpeeds(snap, sub.Sites)
			if len(records) == 0 {
				continue
			}
			sub.Consumer.enqueue(Delivery{Kind: datex.KindSpeeds, Cycle: snap.Cycle, Records: records})
		}
	case bus.ChannelFor(datex.KindJourneyTimes):
		snap, err := bus.DecodeJourneyTimeSnapshot(msg.Payload)
		if err != nil {
			d.logger.Warn("dropping undecodable snapshot", logpkg.Str("channel", msg.Channel), logpkg.Err(err))
			return
		}
		for _, sub := range d.registry.ForKind(datex.KindJourneyTimes) {
			records := expandJourneyTimes(snap, sub.Sites)
			if len(records) == 0 {
				continue
			}
			sub.Consumer.enqueue(Delivery{Kind: datex.KindJourneyTimes, Cycle: snap.Cycle, Records: records})
		}
	default:
		d.logger.Debug("ignoring message on unknown channel", logpkg.Str("channel", msg.Channel))
	}
}
