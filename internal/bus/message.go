package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nikhi3632/Stroomweg/internal/datex"
)

// ChannelFor maps a record kind to its bus channel name.
func ChannelFor(kind datex.Kind) string { return string(kind) }

// SpeedSnapshot is the per-cycle speeds message published on the bus.
// Records are grouped per site in a compact form; the dispatcher expands
// them for delivery.
type SpeedSnapshot struct {
	Cycle     uint64      `json:"cycle"`
	Timestamp string      `json:"t"`
	Sites     []SpeedSite `json:"sites"`
}

// SpeedSite carries one site's per-lane values within a snapshot.
type SpeedSite struct {
	SiteID string      `json:"s"`
	Lanes  []SpeedLane `json:"l"`
}

// SpeedLane is one lane's measurement; lane 0 is the carriageway
// aggregate.
type SpeedLane struct {
	Lane      int      `json:"n"`
	SpeedKMH  *float64 `json:"v,omitempty"`
	FlowVehHr *int     `json:"f,omitempty"`
}

// JourneyTimeSnapshot is the per-cycle journey-times message.
type JourneyTimeSnapshot struct {
	Cycle     uint64               `json:"cycle"`
	Timestamp string               `json:"t"`
	Segments  []JourneyTimeSegment `json:"segments"`
}

// JourneyTimeSegment is one route segment's journey time.
type JourneyTimeSegment struct {
	SiteID         string   `json:"s"`
	DurationSec    *float64 `json:"d,omitempty"`
	RefDurationSec *float64 `json:"r,omitempty"`
	DelaySec       *float64 `json:"delay,omitempty"`
	Quality        *float64 `json:"q,omitempty"`
}

// EncodeSnapshot marshals a snapshot message for the wire.
func EncodeSnapshot(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeSpeedSnapshot unmarshals a speeds channel payload.
func DecodeSpeedSnapshot(payload []byte) (SpeedSnapshot, error) {
	var s SpeedSnapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return SpeedSnapshot{}, fmt.Errorf("decode speed snapshot: %w", err)
	}
	return s, nil
}

// DecodeJourneyTimeSnapshot unmarshals a journey-times channel payload.
func DecodeJourneyTimeSnapshot(payload []byte) (JourneyTimeSnapshot, error) {
	var s JourneyTimeSnapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return JourneyTimeSnapshot{}, fmt.Errorf("decode journey time snapshot: %w", err)
	}
	return s, nil
}
