package feed

import (
	"context"
	"sync/atomic"
	"time"

	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

// CycleFunc runs one ingestion cycle. Errors are reported as degraded
// status by the cycle itself; the poller only logs them.
type CycleFunc func(ctx context.Context) error

// Poller triggers a feed's cycle on a fixed period. Each feed gets its
// own poller; a stuck or failing feed never affects the others.
type Poller struct {
	name   string
	period time.Duration
	run    CycleFunc
	logger logpkg.Logger

	inFlight atomic.Bool
	skipped  atomic.Uint64
}

// NewPoller builds a poller for one feed.
func NewPoller(name string, period time.Duration, run CycleFunc, logger logpkg.Logger) *Poller {
	return &Poller{
		name:   name,
		period: period,
		run:    run,
		logger: logger.WithComponent("poller").With(logpkg.Str("feed", name)),
	}
}

// Skipped returns how many ticks were dropped because the previous
// cycle was still running.
func (p *Poller) Skipped() uint64 { return p.skipped.Load() }

// Run fires the cycle immediately and then on every period tick until
// ctx is cancelled. A tick that arrives while a cycle is in flight is
// skipped and counted, never queued.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	p.fire(ctx)
	for {
		select {
		case <-ticker.C:
			p.fire(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Poller) fire(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		n := p.skipped.Add(1)
		p.logger.Warn("cycle still in flight, skipping tick", logpkg.Uint64("skipped_total", n))
		return
	}
	go func() {
		defer p.inFlight.Store(false)
		start := time.Now()
		if err := p.run(ctx); err != nil {
			p.logger.Error("cycle failed",
				logpkg.Dur("elapsed", time.Since(start)), logpkg.Err(err))
			return
		}
		p.logger.Debug("cycle complete", logpkg.Dur("elapsed", time.Since(start)))
	}()
}
