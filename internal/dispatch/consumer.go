package dispatch

import (
	"sync"

	"github.com/nikhi3632/Stroomweg/internal/datex"
)

// Delivery is one matched snapshot subset queued for a consumer.
type Delivery struct {
	Kind  datex.Kind
	Cycle uint64
	// Records is []SpeedDelivery or []JourneyTimeDelivery depending on
	// Kind.
	Records interface{}
}

// Consumer owns one connected client's bounded delivery queue. The
// transport handler drains Deliveries from its own goroutine; the
// dispatcher enqueues and never blocks on it.
type Consumer struct {
	id    string
	queue chan Delivery

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

func newConsumer(id string, depth int) *Consumer {
	if depth <= 0 {
		depth = 1
	}
	return &Consumer{id: id, queue: make(chan Delivery, depth)}
}

// ID returns the consumer id.
func (c *Consumer) ID() string { return c.id }

// Deliveries is the stream the transport drains. It closes when the
// consumer disconnects.
func (c *Consumer) Deliveries() <-chan Delivery { return c.queue }

// Dropped returns how many pending deliveries were discarded because the
// queue was full.
func (c *Consumer) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// enqueue adds a delivery, discarding the oldest pending one when the
// queue is full. Enqueue never blocks, which keeps a stalled consumer
// from slowing the dispatcher or any other consumer.
func (c *Consumer) enqueue(d Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.queue <- d:
			return
		default:
		}
		select {
		case <-c.queue:
			c.dropped++
		default:
		}
	}
}

// close ends the delivery stream. Safe against concurrent enqueues.
func (c *Consumer) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
}
