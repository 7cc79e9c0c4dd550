package datex

import (
	"strings"
	"time"
)

// Kind identifies a measurement record kind. Kinds double as publish-bus
// channel names.
type Kind string

const (
	KindSpeeds       Kind = "speeds"
	KindJourneyTimes Kind = "journey-times"
)

// LaneIndexes maps a lane to the measuredValue indexes carrying its flow
// and speed values in the trafficspeed payload. Zero means absent.
type LaneIndexes struct {
	FlowIndex  int `json:"flow_index,omitempty"`
	SpeedIndex int `json:"speed_index,omitempty"`
}

// IndexMapping maps DATEX lane names (lane1..lane9,
// allLanesCompleteCarriageway) to their measuredValue indexes.
type IndexMapping map[string]LaneIndexes

// Site is a measurement site from the reference payload. Reference data;
// read-only during a cycle.
type Site struct {
	SiteID       string       `json:"site_id"`
	Name         string       `json:"name,omitempty"`
	Road         string       `json:"road,omitempty"`
	Lanes        int          `json:"lanes,omitempty"`
	Equipment    string       `json:"equipment,omitempty"`
	Direction    string       `json:"direction,omitempty"`
	Lat          *float64     `json:"lat,omitempty"`
	Lon          *float64     `json:"lon,omitempty"`
	IndexMapping IndexMapping `json:"-"`
}

// HasCoordinate reports whether the site carries a usable position.
func (s Site) HasCoordinate() bool { return s.Lat != nil && s.Lon != nil }

// SpeedRecord is one per-lane speed/flow measurement. Lane 0 is the
// whole-carriageway aggregate.
type SpeedRecord struct {
	SiteID    string
	Timestamp time.Time
	Lane      int
	SpeedKMH  *float64
	FlowVehHr *int
}

// JourneyTimeRecord is one journey-time measurement for a route segment.
type JourneyTimeRecord struct {
	SiteID         string
	Timestamp      time.Time
	DurationSec    *float64
	RefDurationSec *float64
	Accuracy       *float64
	Quality        *float64
	InputValues    *int
}

// DelaySec derives the delay against the free-flow reference duration,
// nil when either side is missing.
func (r JourneyTimeRecord) DelaySec() *float64 {
	if r.DurationSec == nil || r.RefDurationSec == nil {
		return nil
	}
	d := *r.DurationSec - *r.RefDurationSec
	return &d
}

// DecodeStats accounts for one payload decode.
type DecodeStats struct {
	// Records is the number of records emitted.
	Records int
	// Skipped counts malformed records that were dropped; the decode
	// itself continues past them.
	Skipped int
}

// LaneNumber maps a DATEX lane name to its lane number. Lane names that
// carry no per-lane measurement (hardShoulder and friends) report ok=false.
func LaneNumber(name string) (int, bool) {
	if name == "allLanesCompleteCarriageway" {
		return 0, true
	}
	if len(name) == 5 && strings.HasPrefix(name, "lane") && name[4] >= '1' && name[4] <= '9' {
		return int(name[4] - '0'), true
	}
	return 0, false
}

// RoadFromName derives the road designation from a site name; NDW site
// names lead with the road, e.g. "N457 hmp 4.75 Re".
func RoadFromName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
