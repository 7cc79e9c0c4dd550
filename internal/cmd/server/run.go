package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nikhi3632/Stroomweg/internal/bus"
	cfgpkg "github.com/nikhi3632/Stroomweg/internal/config"
	"github.com/nikhi3632/Stroomweg/internal/dispatch"
	"github.com/nikhi3632/Stroomweg/internal/feed"
	"github.com/nikhi3632/Stroomweg/internal/ingest"
	httpserver "github.com/nikhi3632/Stroomweg/internal/server/http"
	"github.com/nikhi3632/Stroomweg/internal/store"
	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

// Options carries CLI overrides layered on top of file and env config.
type Options struct {
	ConfigPath   string
	HTTPAddr     string
	PollInterval time.Duration
	LogLevel     string
	LogFormat    string
}

// LoadConfig resolves the effective configuration: defaults, then
// config file, then environment, then CLI flags.
func LoadConfig(opts Options) (cfgpkg.Config, error) {
	cfg, err := cfgpkg.Load(opts.ConfigPath)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	if opts.HTTPAddr != "" {
		cfg.HTTPAddr = opts.HTTPAddr
	}
	if opts.PollInterval > 0 {
		cfg.Feeds.PollInterval = opts.PollInterval
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg cfgpkg.Config) logpkg.Logger {
	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	return logger
}

// Run starts the full pipeline and blocks until ctx is cancelled or a
// component fails at startup: store and bus connections, site index,
// ingestion pollers, the fan-out dispatcher, and the HTTP API.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	logger.Info("starting stroomweg server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Dur("poll_interval", cfg.Feeds.PollInterval),
		logpkg.Str("level", cfg.LogLevel),
		logpkg.Str("format", cfg.LogFormat),
	)

	st, err := store.Open(sctx, cfg.DatabaseURL, logger,
		store.WithBatchSize(cfg.Ingest.BatchSize),
		store.WithBatchAttempts(cfg.Ingest.BatchAttempts),
	)
	if err != nil {
		return err
	}
	defer st.Close()

	rbus, err := bus.OpenRedis(sctx, cfg.RedisURL, logger)
	if err != nil {
		return err
	}
	defer rbus.Close()

	fetcher := feed.NewClient(cfg.Feeds.FetchTimeout, cfg.Feeds.FetchAttempts, cfg.Feeds.FetchBackoff, logger)
	sites := dispatch.NewSiteIndex()
	svc := ingest.New(st, fetcher, rbus, sites,
		ingest.URLs{
			Reference:    cfg.Feeds.MeasurementURL,
			Speeds:       cfg.Feeds.TrafficSpeedURL,
			JourneyTimes: cfg.Feeds.TravelTimeURL,
		},
		logger,
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithInFlightBatches(cfg.Ingest.InFlightBatches),
	)
	if err := svc.LoadSiteIndex(sctx); err != nil {
		return err
	}

	dispatcher := dispatch.NewDispatcher(rbus, sites, cfg.Fanout.QueueDepth, logger)

	pollers := map[string]*feed.Poller{
		ingest.FeedSpeeds:       feed.NewPoller(ingest.FeedSpeeds, cfg.Feeds.PollInterval, svc.RunSpeedsCycle, logger),
		ingest.FeedJourneyTimes: feed.NewPoller(ingest.FeedJourneyTimes, cfg.Feeds.PollInterval, svc.RunJourneyTimesCycle, logger),
		ingest.FeedReference:    feed.NewPoller(ingest.FeedReference, cfg.Feeds.ReferenceInterval, svc.RunReferenceCycle, logger),
	}

	hsrv := httpserver.New(dispatcher, svc, st, rbus, logger,
		httpserver.WithPollers(pollers),
		httpserver.WithCycles(st),
	)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	for _, p := range pollers {
		p := p
		g.Go(func() error { return p.Run(gctx) })
	}
	g.Go(func() error {
		err := hsrv.ListenAndServe(gctx, cfg.HTTPAddr)
		if err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	err = g.Wait()
	logger.Info("stroomweg server stopped")
	return err
}

// InitSchema creates the database tables and exits. Development
// bootstrap; production schemas are migrated externally.
func InitSchema(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := store.Open(sctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.EnsureSchema(sctx); err != nil {
		return err
	}
	logger.Info("database schema ensured")
	return nil
}

// SyncReference runs one reference cycle and exits. Used by the
// `reference sync` command to prime or refresh site data out of band.
func SyncReference(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := store.Open(sctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	fetcher := feed.NewClient(cfg.Feeds.FetchTimeout, cfg.Feeds.FetchAttempts, cfg.Feeds.FetchBackoff, logger)
	sites := dispatch.NewSiteIndex()
	svc := ingest.New(st, fetcher, bus.NewMemory(), sites,
		ingest.URLs{Reference: cfg.Feeds.MeasurementURL}, logger)
	if err := svc.RunReferenceCycle(sctx); err != nil {
		return err
	}
	logger.Info("reference data synced", logpkg.Int("sites", sites.Len()))
	return nil
}
