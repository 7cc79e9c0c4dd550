package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/nikhi3632/Stroomweg/internal/datex"
	"github.com/nikhi3632/Stroomweg/internal/dispatch"
	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

func (s *Server) handleSpeedsStream(w http.ResponseWriter, r *http.Request) {
	s.handleStream(w, r, datex.KindSpeeds)
}

func (s *Server) handleJourneyTimesStream(w http.ResponseWriter, r *http.Request) {
	s.handleStream(w, r, datex.KindJourneyTimes)
}

// handleStream serves one SSE subscription. Each delivered batch
// becomes one event whose data is a JSON array of records.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, kind datex.Kind) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	f, err := dispatch.FilterFromParams(q.Get("road"), q.Get("bbox"), q.Get("site_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var minQuality *float64
	if kind == datex.KindJourneyTimes && q.Get("min_quality") != "" {
		mq, err := strconv.ParseFloat(q.Get("min_quality"), 64)
		if err != nil {
			http.Error(w, "min_quality must be numeric", http.StatusBadRequest)
			return
		}
		minQuality = &mq
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	c := s.dispatcher.Connect()
	defer s.dispatcher.Disconnect(c)
	count := s.dispatcher.Subscribe(c, kind, f)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: subscribed\ndata: {\"subscribed\":%q,\"filter_count\":%d}\n\n", kind, count)
	flusher.Flush()

	s.logger.Debug("sse stream opened",
		logpkg.Str("kind", string(kind)), logpkg.Str("filter", f.String()),
		logpkg.Int("filter_count", count))

	for {
		select {
		case <-r.Context().Done():
			return
		case d, ok := <-c.Deliveries():
			if !ok {
				return
			}
			records := d.Records
			if minQuality != nil {
				filtered := filterQuality(d.Records.([]dispatch.JourneyTimeDelivery), *minQuality)
				if len(filtered) == 0 {
					continue
				}
				records = filtered
			}
			data, err := json.Marshal(records)
			if err != nil {
				s.logger.Warn("marshal sse batch", logpkg.Err(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", d.Kind, data)
			flusher.Flush()
		}
	}
}

// filterQuality drops records below the quality threshold; records
// without a quality value are kept.
func filterQuality(recs []dispatch.JourneyTimeDelivery, min float64) []dispatch.JourneyTimeDelivery {
	var out []dispatch.JourneyTimeDelivery
	for _, rec := range recs {
		if rec.Quality != nil && *rec.Quality < min {
			continue
		}
		out = append(out, rec)
	}
	return out
}
