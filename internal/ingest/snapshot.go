package ingest

import (
	"context"
	"time"

	"github.com/nikhi3632/Stroomweg/internal/bus"
	"github.com/nikhi3632/Stroomweg/internal/datex"
	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

// buildSpeedSnapshot groups one cycle's records per site into the
// compact wire form. Site order follows first appearance in the feed.
func buildSpeedSnapshot(cycle uint64, records []datex.SpeedRecord) bus.SpeedSnapshot {
	snap := bus.SpeedSnapshot{Cycle: cycle, Timestamp: latestSpeedTS(records)}
	index := make(map[string]int, len(records))
	for _, rec := range records {
		i, ok := index[rec.SiteID]
		if !ok {
			i = len(snap.Sites)
			index[rec.SiteID] = i
			snap.Sites = append(snap.Sites, bus.SpeedSite{SiteID: rec.SiteID})
		}
		snap.Sites[i].Lanes = append(snap.Sites[i].Lanes, bus.SpeedLane{
			Lane:      rec.Lane,
			SpeedKMH:  rec.SpeedKMH,
			FlowVehHr: rec.FlowVehHr,
		})
	}
	return snap
}

func buildJourneyTimeSnapshot(cycle uint64, records []datex.JourneyTimeRecord) bus.JourneyTimeSnapshot {
	snap := bus.JourneyTimeSnapshot{Cycle: cycle, Timestamp: latestJourneyTS(records)}
	for _, rec := range records {
		snap.Segments = append(snap.Segments, bus.JourneyTimeSegment{
			SiteID:         rec.SiteID,
			DurationSec:    rec.DurationSec,
			RefDurationSec: rec.RefDurationSec,
			DelaySec:       rec.DelaySec(),
			Quality:        rec.Quality,
		})
	}
	return snap
}

func latestSpeedTS(records []datex.SpeedRecord) string {
	var latest time.Time
	for _, rec := range records {
		if rec.Timestamp.After(latest) {
			latest = rec.Timestamp
		}
	}
	if latest.IsZero() {
		latest = time.Now().UTC()
	}
	return latest.UTC().Format(time.RFC3339)
}

func latestJourneyTS(records []datex.JourneyTimeRecord) string {
	var latest time.Time
	for _, rec := range records {
		if rec.Timestamp.After(latest) {
			latest = rec.Timestamp
		}
	}
	if latest.IsZero() {
		latest = time.Now().UTC()
	}
	return latest.UTC().Format(time.RFC3339)
}

// publishSpeeds broadcasts the cycle snapshot. Publishing is
// fire-and-forget; a bus outage degrades live consumers but never fails
// the cycle.
func (s *Service) publishSpeeds(ctx context.Context, cycle uint64, records []datex.SpeedRecord) {
	snap := buildSpeedSnapshot(cycle, records)
	payload, err := bus.EncodeSnapshot(snap)
	if err != nil {
		s.logger.Error("encode speed snapshot", logpkg.Uint64("cycle", cycle), logpkg.Err(err))
		return
	}
	channel := bus.ChannelFor(datex.KindSpeeds)
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.Warn("publish speed snapshot", logpkg.Uint64("cycle", cycle), logpkg.Err(err))
		return
	}
	if err := s.bus.SetLatest(ctx, channel, snap.Timestamp); err != nil {
		s.logger.Warn("set latest speed timestamp", logpkg.Err(err))
	}
}

func (s *Service) publishJourneyTimes(ctx context.Context, cycle uint64, records []datex.JourneyTimeRecord) {
	snap := buildJourneyTimeSnapshot(cycle, records)
	payload, err := bus.EncodeSnapshot(snap)
	if err != nil {
		s.logger.Error("encode journey time snapshot", logpkg.Uint64("cycle", cycle), logpkg.Err(err))
		return
	}
	channel := bus.ChannelFor(datex.KindJourneyTimes)
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.Warn("publish journey time snapshot", logpkg.Uint64("cycle", cycle), logpkg.Err(err))
		return
	}
	if err := s.bus.SetLatest(ctx, channel, snap.Timestamp); err != nil {
		s.logger.Warn("set latest journey time timestamp", logpkg.Err(err))
	}
}
