package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nikhi3632/Stroomweg/internal/bus"
	"github.com/nikhi3632/Stroomweg/internal/datex"
	"github.com/nikhi3632/Stroomweg/internal/dispatch"
	"github.com/nikhi3632/Stroomweg/internal/ingest"
	"github.com/nikhi3632/Stroomweg/internal/store"
	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeStatus struct{ feeds []ingest.FeedStatus }

func (f fakeStatus) Status() []ingest.FeedStatus { return f.feeds }

func ptr(f float64) *float64 { return &f }

type fakeCycles struct {
	recs []store.CycleRecord
	err  error
}

func (f fakeCycles) RecentCycles(context.Context, int) ([]store.CycleRecord, error) {
	return f.recs, f.err
}

func testServer(t *testing.T, storePing, busPing Pinger, opts ...Option) (*Server, *bus.Memory, *httptest.Server) {
	t.Helper()
	mem := bus.NewMemory()
	sites := dispatch.NewSiteIndex()
	lat1, lon1 := 52.0, 5.0
	lat2, lon2 := 50.0, 5.0
	sites.ReplaceAll([]datex.Site{
		{SiteID: "S1", Name: "A2 hmp 1.0", Road: "A2", Lat: &lat1, Lon: &lon1},
		{SiteID: "S2", Name: "A4 hmp 2.0", Road: "A4", Lat: &lat2, Lon: &lon2},
	})
	d := dispatch.NewDispatcher(mem, sites, 16, logpkg.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	waitUntil(t, func() bool { return mem.SubscriberCount() > 0 })

	status := fakeStatus{feeds: []ingest.FeedStatus{{Feed: "speeds", Cycle: 3, Status: "ok", Records: 120}}}
	s := New(d, status, storePing, busPing, logpkg.NewNopLogger(), opts...)
	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return s, mem, ts
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}

func TestHealthHandler(t *testing.T) {
	_, _, ts := testServer(t, fakePinger{}, fakePinger{})
	resp, err := http.Get(ts.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestHealthHandlerStoreDown(t *testing.T) {
	_, _, ts := testServer(t, fakePinger{err: context.DeadlineExceeded}, fakePinger{})
	resp, err := http.Get(ts.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status: %d, want 503", resp.StatusCode)
	}
}

func TestStatusHandler(t *testing.T) {
	_, _, ts := testServer(t, fakePinger{}, fakePinger{})
	resp, err := http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Feeds) != 1 || body.Feeds[0].Cycle != 3 {
		t.Fatalf("unexpected feeds: %+v", body.Feeds)
	}
}

func TestStatusHandlerRecentCycles(t *testing.T) {
	cycles := fakeCycles{recs: []store.CycleRecord{
		{Feed: "speeds", Cycle: 3, Status: "ok", Records: 120},
		{Feed: "journey-times", Cycle: 3, Status: "partial", Records: 40, FailedBatches: 1},
	}}
	_, _, ts := testServer(t, fakePinger{}, fakePinger{}, WithCycles(cycles))

	resp, err := http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.RecentCycles) != 2 || body.RecentCycles[1].Status != "partial" {
		t.Fatalf("unexpected recent cycles: %+v", body.RecentCycles)
	}
}

func TestStatusHandlerCycleHistoryUnavailable(t *testing.T) {
	_, _, ts := testServer(t, fakePinger{}, fakePinger{},
		WithCycles(fakeCycles{err: context.DeadlineExceeded}))

	resp, err := http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status must degrade without cycle history, got %d", resp.StatusCode)
	}
	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.RecentCycles) != 0 {
		t.Fatalf("recent cycles should be omitted on error, got %+v", body.RecentCycles)
	}
}

func TestSSEStreamRequiresFilter(t *testing.T) {
	_, _, ts := testServer(t, fakePinger{}, fakePinger{})
	resp, err := http.Get(ts.URL + "/v1/speeds/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing filter should be 400, got %d", resp.StatusCode)
	}
}

// readEvent reads one "event:"/"data:" pair off an SSE stream.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestSSEStreamDeliversMatches(t *testing.T) {
	s, mem, ts := testServer(t, fakePinger{}, fakePinger{})

	resp, err := http.Get(ts.URL + "/v1/speeds/stream?road=A2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	event, data := readEvent(t, r)
	if event != "subscribed" {
		t.Fatalf("first event = %q", event)
	}
	var ack struct {
		Subscribed  string `json:"subscribed"`
		FilterCount int    `json:"filter_count"`
	}
	if err := json.Unmarshal([]byte(data), &ack); err != nil {
		t.Fatalf("ack decode: %v", err)
	}
	if ack.Subscribed != "speeds" || ack.FilterCount != 1 {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	waitUntil(t, func() bool { return s.dispatcher.Registry().Len() == 1 })
	snap := bus.SpeedSnapshot{
		Cycle:     1,
		Timestamp: "2026-08-26T10:00:00Z",
		Sites: []bus.SpeedSite{
			{SiteID: "S1", Lanes: []bus.SpeedLane{{Lane: 1, SpeedKMH: ptr(88)}}},
			{SiteID: "S2", Lanes: []bus.SpeedLane{{Lane: 1, SpeedKMH: ptr(120)}}},
		},
	}
	payload, _ := bus.EncodeSnapshot(snap)
	mem.Publish(context.Background(), bus.ChannelFor(datex.KindSpeeds), payload)

	event, data = readEvent(t, r)
	if event != "speeds" {
		t.Fatalf("event = %q", event)
	}
	var records []dispatch.SpeedDelivery
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		t.Fatalf("records decode: %v", err)
	}
	if len(records) != 1 || records[0].SiteID != "S1" {
		t.Fatalf("road filter should pass only S1, got %+v", records)
	}
}

func TestSSEJourneyTimesMinQuality(t *testing.T) {
	s, mem, ts := testServer(t, fakePinger{}, fakePinger{})

	resp, err := http.Get(ts.URL + "/v1/journey-times/stream?road=A2&min_quality=90")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)
	readEvent(t, r) // subscribed ack

	waitUntil(t, func() bool { return s.dispatcher.Registry().Len() == 1 })

	// First snapshot sits below the threshold and is suppressed; the
	// second passes.
	for i, q := range []float64{50, 95} {
		snap := bus.JourneyTimeSnapshot{
			Cycle:     uint64(i + 1),
			Timestamp: "2026-08-26T10:00:00Z",
			Segments: []bus.JourneyTimeSegment{
				{SiteID: "S1", DurationSec: ptr(60), Quality: ptr(q)},
			},
		}
		payload, _ := bus.EncodeSnapshot(snap)
		mem.Publish(context.Background(), bus.ChannelFor(datex.KindJourneyTimes), payload)
	}

	event, data := readEvent(t, r)
	if event != "journey-times" {
		t.Fatalf("event = %q", event)
	}
	var records []dispatch.JourneyTimeDelivery
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].Quality == nil || *records[0].Quality != 95 {
		t.Fatalf("low quality record should have been filtered, got %+v", records)
	}
}

func TestSSEMinQualityRejectsMalformed(t *testing.T) {
	_, _, ts := testServer(t, fakePinger{}, fakePinger{})
	resp, err := http.Get(ts.URL + "/v1/journey-times/stream?road=A2&min_quality=high")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d, want 400", resp.StatusCode)
	}
}
