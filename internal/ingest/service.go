package ingest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nikhi3632/Stroomweg/internal/bus"
	"github.com/nikhi3632/Stroomweg/internal/datex"
	"github.com/nikhi3632/Stroomweg/internal/dispatch"
	"github.com/nikhi3632/Stroomweg/internal/store"
	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

// Feed names used for status and cycle records.
const (
	FeedSpeeds       = "speeds"
	FeedJourneyTimes = "journey-times"
	FeedReference    = "reference"
)

// Store is the persistence capability the cycles need.
type Store interface {
	UpsertSites(ctx context.Context, sites []datex.Site) error
	LoadSites(ctx context.Context) ([]datex.Site, error)
	InsertSpeeds(ctx context.Context, recs []datex.SpeedRecord) (store.WriteStats, error)
	InsertJourneyTimes(ctx context.Context, recs []datex.JourneyTimeRecord) (store.WriteStats, error)
	RecordCycle(ctx context.Context, rec store.CycleRecord) error
}

// Fetcher retrieves one feed payload as a decompressed stream.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// URLs holds the three feed endpoints.
type URLs struct {
	Reference    string
	Speeds       string
	JourneyTimes string
}

// Service runs ingestion cycles: fetch, stream-decode, persist in
// bounded batches, then publish exactly one snapshot per kind per
// cycle.
type Service struct {
	store  Store
	fetch  Fetcher
	bus    bus.Publisher
	sites  *dispatch.SiteIndex
	logger logpkg.Logger
	urls   URLs

	batchSize int
	inFlight  int

	speedCycle atomic.Uint64
	jtCycle    atomic.Uint64
	refCycle   atomic.Uint64

	mu     sync.Mutex
	status map[string]FeedStatus
}

// FeedStatus is the last observed cycle outcome for one feed.
type FeedStatus struct {
	Feed          string    `json:"feed"`
	Cycle         uint64    `json:"cycle"`
	Status        string    `json:"status"`
	Records       int       `json:"records"`
	Skipped       int       `json:"skipped"`
	FailedBatches int       `json:"failed_batches"`
	FinishedAt    time.Time `json:"finished_at"`
	Error         string    `json:"error,omitempty"`
}

// Cycle outcome statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Option adjusts service behavior.
type Option func(*Service)

// WithBatchSize sets the persistence batch size.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithInFlightBatches bounds how many decoded batches may await
// persistence at once.
func WithInFlightBatches(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.inFlight = n
		}
	}
}

// New builds the ingestion service.
func New(st Store, fetch Fetcher, pub bus.Publisher, sites *dispatch.SiteIndex, urls URLs, logger logpkg.Logger, opts ...Option) *Service {
	s := &Service{
		store:     st,
		fetch:     fetch,
		bus:       pub,
		sites:     sites,
		logger:    logger.WithComponent("ingest"),
		urls:      urls,
		batchSize: 500,
		inFlight:  2,
		status:    make(map[string]FeedStatus),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns the last cycle outcome per feed.
func (s *Service) Status() []FeedStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FeedStatus, 0, len(s.status))
	for _, fs := range s.status {
		out = append(out, fs)
	}
	return out
}

func (s *Service) setStatus(fs FeedStatus) {
	s.mu.Lock()
	s.status[fs.Feed] = fs
	s.mu.Unlock()
}

// LoadSiteIndex primes the in-memory site index from the store. When
// the store holds no reference data yet, a reference cycle runs
// synchronously first.
func (s *Service) LoadSiteIndex(ctx context.Context) error {
	sites, err := s.store.LoadSites(ctx)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		s.logger.Info("no reference data stored, running initial reference cycle")
		return s.RunReferenceCycle(ctx)
	}
	s.sites.ReplaceAll(sites)
	s.logger.Info("site index loaded", logpkg.Int("sites", len(sites)))
	return nil
}
