package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/nikhi3632/Stroomweg/internal/datex"
	"github.com/nikhi3632/Stroomweg/internal/dispatch"
	"github.com/nikhi3632/Stroomweg/internal/feed"
	"github.com/nikhi3632/Stroomweg/internal/ingest"
	"github.com/nikhi3632/Stroomweg/internal/store"
	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

// Pinger reports backend reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusSource supplies per-feed cycle outcomes for the status endpoint.
type StatusSource interface {
	Status() []ingest.FeedStatus
}

// CycleSource supplies persisted ingestion cycle history.
type CycleSource interface {
	RecentCycles(ctx context.Context, limit int) ([]store.CycleRecord, error)
}

type Server struct {
	dispatcher *dispatch.Dispatcher
	status     StatusSource
	store      Pinger
	bus        Pinger
	cycles     CycleSource
	pollers    map[string]*feed.Poller
	logger     logpkg.Logger
	srv        *http.Server
	lis        net.Listener
}

// Option adjusts the server.
type Option func(*Server)

// WithPollers exposes poller skip counters on the status endpoint.
func WithPollers(pollers map[string]*feed.Poller) Option {
	return func(s *Server) { s.pollers = pollers }
}

// WithCycles exposes persisted cycle history on the status endpoint.
func WithCycles(src CycleSource) Option {
	return func(s *Server) { s.cycles = src }
}

func New(d *dispatch.Dispatcher, status StatusSource, store, bus Pinger, logger logpkg.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()
	s := &Server{
		dispatcher: d,
		status:     status,
		store:      store,
		bus:        bus,
		logger:     logger.WithComponent("http"),
		srv:        &http.Server{Handler: cors(mux)},
	}
	for _, opt := range opts {
		opt(s)
	}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/speeds/stream", s.handleSpeedsStream)
	mux.HandleFunc("/v1/journey-times/stream", s.handleJourneyTimesStream)
	mux.HandleFunc("/v1/ws", s.handleWS)
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http server listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// Addr returns the bound listen address, empty before ListenAndServe.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving", "reason": "store"})
		return
	}
	if err := s.bus.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving", "reason": "bus"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statusResponse struct {
	Feeds         []ingest.FeedStatus `json:"feeds"`
	Subscriptions int                 `json:"subscriptions"`
	SkippedCycles map[string]uint64   `json:"skipped_cycles,omitempty"`
	RecentCycles  []store.CycleRecord `json:"recent_cycles,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{
		Feeds:         s.status.Status(),
		Subscriptions: s.dispatcher.Registry().Len(),
	}
	if s.cycles != nil {
		recent, err := s.cycles.RecentCycles(r.Context(), 20)
		if err != nil {
			s.logger.Warn("recent cycles unavailable", logpkg.Err(err))
		} else {
			resp.RecentCycles = recent
		}
	}
	if len(s.pollers) > 0 {
		resp.SkippedCycles = make(map[string]uint64, len(s.pollers))
		for name, p := range s.pollers {
			resp.SkippedCycles[name] = p.Skipped()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// kindFromString validates a transport-supplied record kind.
func kindFromString(s string) (datex.Kind, bool) {
	switch datex.Kind(s) {
	case datex.KindSpeeds:
		return datex.KindSpeeds, true
	case datex.KindJourneyTimes:
		return datex.KindJourneyTimes, true
	default:
		return "", false
	}
}
