package dispatch

import "github.com/nikhi3632/Stroomweg/internal/bus"

// SpeedDelivery is the expanded per-site speed record sent to consumers.
type SpeedDelivery struct {
	SiteID    string              `json:"site_id"`
	Timestamp string              `json:"timestamp"`
	Lanes     []SpeedLaneDelivery `json:"lanes"`
}

// SpeedLaneDelivery is one lane within a SpeedDelivery.
type SpeedLaneDelivery struct {
	Lane      int      `json:"lane"`
	SpeedKMH  *float64 `json:"speed_kmh"`
	FlowVehHr *int     `json:"flow_veh_hr"`
}

// JourneyTimeDelivery is the expanded journey-time record sent to
// consumers.
type JourneyTimeDelivery struct {
	SiteID         string   `json:"site_id"`
	Timestamp      string   `json:"timestamp"`
	DurationSec    *float64 `json:"duration_sec"`
	RefDurationSec *float64 `json:"ref_duration_sec"`
	DelaySec       *float64 `json:"delay_sec"`
	Quality        *float64 `json:"quality"`
}

// expandSpeeds filters a speed snapshot down to the subscribed site set
// and expands the compact wire form.
func expandSpeeds(snap bus.SpeedSnapshot, sites map[string]struct{}) []SpeedDelivery {
	var out []SpeedDelivery
	for _, entry := range snap.Sites {
		if _, ok := sites[entry.SiteID]; !ok {
			continue
		}
		d := SpeedDelivery{SiteID: entry.SiteID, Timestamp: snap.Timestamp}
		for _, lane := range entry.Lanes {
			d.Lanes = append(d.Lanes, SpeedLaneDelivery{
				Lane:      lane.Lane,
				SpeedKMH:  lane.SpeedKMH,
				FlowVehHr: lane.FlowVehHr,
			})
		}
		out = append(out, d)
	}
	return out
}

// expandJourneyTimes filters a journey-time snapshot down to the
// subscribed site set and expands the compact wire form.
func expandJourneyTimes(snap bus.JourneyTimeSnapshot, sites map[string]struct{}) []JourneyTimeDelivery {
	var out []JourneyTimeDelivery
	for _, seg := range snap.Segments {
		if _, ok := sites[seg.SiteID]; !ok {
			continue
		}
		out = append(out, JourneyTimeDelivery{
			SiteID:         seg.SiteID,
			Timestamp:      snap.Timestamp,
			DurationSec:    seg.DurationSec,
			RefDurationSec: seg.RefDurationSec,
			DelaySec:       seg.DelaySec,
			Quality:        seg.Quality,
		})
	}
	return out
}
