package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/nikhi3632/Stroomweg/internal/bus"
	"github.com/nikhi3632/Stroomweg/internal/datex"
	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

func intPtr(n int) *int { return &n }

func newTestDispatcher(t *testing.T, depth int) (*Dispatcher, *bus.Memory, context.CancelFunc) {
	t.Helper()
	mem := bus.NewMemory()
	sites := NewSiteIndex()
	sites.ReplaceAll([]datex.Site{
		site("S1", "A2", 52.0, 5.0),
		site("S2", "A2", 50.0, 5.0),
		site("S3", "A4", 52.5, 5.5),
	})
	d := NewDispatcher(mem, sites, depth, logpkg.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("dispatcher did not stop")
		}
	})
	// Give Run a moment to install its bus subscription.
	waitFor(t, func() bool {
		return mem.SubscriberCount() > 0
	})
	return d, mem, cancel
}

func waitFor(t *testing.T, cond func() bool) {
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

func publishSpeeds(t *testing.T, mem *bus.Memory, snap bus.SpeedSnapshot) {
	t.Helper()
	payload, err := bus.EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := mem.Publish(context.Background(), bus.ChannelFor(datex.KindSpeeds), payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func receive(t *testing.T, c *Consumer) Delivery {
	t.Helper()
	select {
	case d, ok := <-c.Deliveries():
		if !ok {
			t.Fatalf("delivery stream closed unexpectedly")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a delivery")
	}
	return Delivery{}
}

func expectNoDelivery(t *testing.T, c *Consumer) {
	t.Helper()
	select {
	case d := <-c.Deliveries():
		t.Fatalf("unexpected delivery: %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherFiltersPerSubscription(t *testing.T) {
	d, mem, _ := newTestDispatcher(t, 8)

	roadSub := d.Connect()
	if n := d.Subscribe(roadSub, datex.KindSpeeds, RoadFilter("A2")); n != 2 {
		t.Fatalf("road A2 filter_count = %d, want 2", n)
	}
	bboxSub := d.Connect()
	if n := d.Subscribe(bboxSub, datex.KindSpeeds, BBoxFilter(BBox{MinLat: 51, MinLon: 4, MaxLat: 53, MaxLon: 6})); n != 2 {
		t.Fatalf("bbox filter_count = %d, want 2", n)
	}
	siteSub := d.Connect()
	if n := d.Subscribe(siteSub, datex.KindSpeeds, SiteFilter("S3")); n != 1 {
		t.Fatalf("site filter_count = %d, want 1", n)
	}

	publishSpeeds(t, mem, bus.SpeedSnapshot{
		Cycle:     1,
		Timestamp: "2026-08-26T10:00:00Z",
		Sites: []bus.SpeedSite{
			{SiteID: "S1", Lanes: []bus.SpeedLane{{Lane: 1, SpeedKMH: ptr(92.5), FlowVehHr: intPtr(1200)}}},
			{SiteID: "S2", Lanes: []bus.SpeedLane{{Lane: 0, SpeedKMH: ptr(80)}}},
			{SiteID: "S3", Lanes: []bus.SpeedLane{{Lane: 1, SpeedKMH: nil}}},
		},
	})

	got := receive(t, roadSub)
	records := got.Records.([]SpeedDelivery)
	if len(records) != 2 {
		t.Fatalf("road subscriber should see S1 and S2, got %d records", len(records))
	}

	got = receive(t, bboxSub)
	records = got.Records.([]SpeedDelivery)
	seen := map[string]bool{}
	for _, r := range records {
		seen[r.SiteID] = true
	}
	if !seen["S1"] || !seen["S3"] || seen["S2"] {
		t.Fatalf("bbox subscriber should see S1 and S3 only, got %v", seen)
	}

	got = receive(t, siteSub)
	records = got.Records.([]SpeedDelivery)
	if len(records) != 1 || records[0].SiteID != "S3" {
		t.Fatalf("site subscriber should see only S3, got %+v", records)
	}
	if records[0].Timestamp != "2026-08-26T10:00:00Z" {
		t.Fatalf("delivery timestamp should carry the snapshot timestamp")
	}
	if records[0].Lanes[0].SpeedKMH != nil {
		t.Fatalf("missing speed must stay null in the delivery")
	}
}

func TestDispatcherSkipsEmptyMatches(t *testing.T) {
	d, mem, _ := newTestDispatcher(t, 8)

	c := d.Connect()
	d.Subscribe(c, datex.KindSpeeds, SiteFilter("S3"))

	publishSpeeds(t, mem, bus.SpeedSnapshot{
		Cycle:     1,
		Timestamp: "2026-08-26T10:00:00Z",
		Sites:     []bus.SpeedSite{{SiteID: "S1", Lanes: []bus.SpeedLane{{Lane: 0, SpeedKMH: ptr(100)}}}},
	})
	expectNoDelivery(t, c)
}

func TestDispatcherPreservesCycleOrder(t *testing.T) {
	d, mem, _ := newTestDispatcher(t, 8)

	c := d.Connect()
	d.Subscribe(c, datex.KindSpeeds, SiteFilter("S1"))

	for cycle := uint64(1); cycle <= 3; cycle++ {
		publishSpeeds(t, mem, bus.SpeedSnapshot{
			Cycle:     cycle,
			Timestamp: "2026-08-26T10:00:00Z",
			Sites:     []bus.SpeedSite{{SiteID: "S1", Lanes: []bus.SpeedLane{{Lane: 0, SpeedKMH: ptr(100)}}}},
		})
	}

	for want := uint64(1); want <= 3; want++ {
		got := receive(t, c)
		if got.Cycle != want {
			t.Fatalf("delivery cycle = %d, want %d", got.Cycle, want)
		}
	}
}

func TestDispatcherSlowConsumerDoesNotStallOthers(t *testing.T) {
	d, mem, _ := newTestDispatcher(t, 1)

	slow := d.Connect()
	d.Subscribe(slow, datex.KindSpeeds, SiteFilter("S1"))
	fast := d.Connect()
	d.Subscribe(fast, datex.KindSpeeds, SiteFilter("S1"))

	for cycle := uint64(1); cycle <= 4; cycle++ {
		publishSpeeds(t, mem, bus.SpeedSnapshot{
			Cycle:     cycle,
			Timestamp: "2026-08-26T10:00:00Z",
			Sites:     []bus.SpeedSite{{SiteID: "S1", Lanes: []bus.SpeedLane{{Lane: 0, SpeedKMH: ptr(100)}}}},
		})
		// The fast consumer drains each cycle as it arrives.
		got := receive(t, fast)
		if got.Cycle != cycle {
			t.Fatalf("fast consumer cycle = %d, want %d", got.Cycle, cycle)
		}
	}

	// The slow consumer kept only the newest delivery its depth-1 queue
	// could hold.
	waitFor(t, func() bool { return slow.Dropped() == 3 })
	got := receive(t, slow)
	if got.Cycle != 4 {
		t.Fatalf("slow consumer should hold the newest cycle, got %d", got.Cycle)
	}
}

func TestDispatcherDisconnectStopsDeliveries(t *testing.T) {
	d, mem, _ := newTestDispatcher(t, 8)

	c := d.Connect()
	d.Subscribe(c, datex.KindSpeeds, SiteFilter("S1"))
	d.Disconnect(c)

	if _, ok := <-c.Deliveries(); ok {
		t.Fatalf("delivery stream should close on disconnect")
	}
	if d.Registry().Len() != 0 {
		t.Fatalf("disconnect must drop all subscriptions")
	}

	// Publishing after disconnect must not panic.
	publishSpeeds(t, mem, bus.SpeedSnapshot{
		Cycle:     1,
		Timestamp: "2026-08-26T10:00:00Z",
		Sites:     []bus.SpeedSite{{SiteID: "S1", Lanes: []bus.SpeedLane{{Lane: 0, SpeedKMH: ptr(100)}}}},
	})
	time.Sleep(50 * time.Millisecond)
}

func TestDispatcherSiteFilterMatchesNonReferenceSegment(t *testing.T) {
	d, mem, _ := newTestDispatcher(t, 8)

	// Journey-time segment ids come from the traveltime feed and are not
	// reference sites; the subscription must still count and deliver them.
	const segID = "RWS01_MONIBAS_0021hrl0414ra"
	c := d.Connect()
	if n := d.Subscribe(c, datex.KindJourneyTimes, SiteFilter(segID)); n != 1 {
		t.Fatalf("filter_count = %d, want 1", n)
	}

	snap := bus.JourneyTimeSnapshot{
		Cycle:     1,
		Timestamp: "2026-08-26T10:00:00Z",
		Segments: []bus.JourneyTimeSegment{
			{SiteID: segID, DurationSec: ptr(120), RefDurationSec: ptr(90), DelaySec: ptr(30)},
			{SiteID: "RWS01_MONIBAS_other", DurationSec: ptr(40)},
		},
	}
	payload, err := bus.EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := mem.Publish(context.Background(), bus.ChannelFor(datex.KindJourneyTimes), payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := receive(t, c)
	records := got.Records.([]JourneyTimeDelivery)
	if len(records) != 1 || records[0].SiteID != segID {
		t.Fatalf("expected exactly the subscribed segment, got %+v", records)
	}
}

func TestDispatcherJourneyTimes(t *testing.T) {
	d, mem, _ := newTestDispatcher(t, 8)

	c := d.Connect()
	if n := d.Subscribe(c, datex.KindJourneyTimes, RoadFilter("A4")); n != 1 {
		t.Fatalf("filter_count = %d, want 1", n)
	}

	snap := bus.JourneyTimeSnapshot{
		Cycle:     7,
		Timestamp: "2026-08-26T10:01:00Z",
		Segments: []bus.JourneyTimeSegment{
			{SiteID: "S3", DurationSec: ptr(60), RefDurationSec: ptr(45), DelaySec: ptr(15), Quality: ptr(96)},
			{SiteID: "S1", DurationSec: ptr(30)},
		},
	}
	payload, err := bus.EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := mem.Publish(context.Background(), bus.ChannelFor(datex.KindJourneyTimes), payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := receive(t, c)
	if got.Kind != datex.KindJourneyTimes || got.Cycle != 7 {
		t.Fatalf("unexpected delivery header: %+v", got)
	}
	records := got.Records.([]JourneyTimeDelivery)
	if len(records) != 1 || records[0].SiteID != "S3" {
		t.Fatalf("expected only S3, got %+v", records)
	}
	if records[0].DelaySec == nil || *records[0].DelaySec != 15 {
		t.Fatalf("delay should pass through, got %+v", records[0].DelaySec)
	}
}
