package datex

import (
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"time"
)

// ErrStopDecode can be returned from an emit callback to end a decode
// early without reporting an error.
var ErrStopDecode = errors.New("datex: stop decode")

const (
	basicTypeFlow       = "TrafficFlow"
	basicTypeSpeed      = "TrafficSpeed"
	basicTypeTravelTime = "TravelTimeData"
)

// noValue is the feed's sentinel for "no data".
const noValue = -1

// XML shapes for the siteMeasurements payloads. Leaf values stay strings
// so a malformed value never corrupts decoder state; conversion happens
// per record and failures skip only that record.
type xmlSiteMeasurements struct {
	SiteRef xmlSiteRef              `xml:"measurementSiteReference"`
	Time    string                  `xml:"measurementTimeDefault"`
	Values  []xmlMeasuredValueOuter `xml:"measuredValue"`
}

type xmlSiteRef struct {
	ID string `xml:"id,attr"`
}

type xmlMeasuredValueOuter struct {
	Index string                `xml:"index,attr"`
	Inner xmlMeasuredValueInner `xml:"measuredValue"`
}

type xmlMeasuredValueInner struct {
	BasicData xmlBasicData   `xml:"basicData"`
	Extension xmlMVExtension `xml:"measuredValueExtension"`
}

type xmlBasicData struct {
	Type       string        `xml:"http://www.w3.org/2001/XMLSchema-instance type,attr"`
	FlowRate   string        `xml:"vehicleFlow>vehicleFlowRate"`
	Speed      string        `xml:"averageVehicleSpeed>speed"`
	TravelTime xmlTravelTime `xml:"travelTime"`
}

type xmlTravelTime struct {
	Accuracy    string `xml:"accuracy,attr"`
	Quality     string `xml:"supplierCalculatedDataQuality,attr"`
	InputValues string `xml:"numberOfInputValuesUsed,attr"`
	Duration    string `xml:"duration"`
}

type xmlMVExtension struct {
	RefDuration string `xml:"basicDataReferenceValue>travelTimeData>duration"`
}

// forEachElement walks the token stream and decodes every element with the
// given local name, one element buffered at a time. Unknown elements and
// fields are skipped, which keeps the decoder forward compatible.
func forEachElement(r io.Reader, local string, fn func(dec *xml.Decoder, se xml.StartElement) error) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != local {
			continue
		}
		if err := fn(dec, se); err != nil {
			if errors.Is(err, ErrStopDecode) {
				return nil
			}
			return err
		}
	}
}

// DecodeSpeeds streams per-lane speed/flow records out of a trafficspeed
// payload. mappings supplies the per-site lane/index layout from the
// reference data; sites without a mapping are ignored. Records are handed
// to emit one at a time; the decoder holds at most one siteMeasurements
// element in memory regardless of payload size.
func DecodeSpeeds(r io.Reader, mappings map[string]IndexMapping, emit func(SpeedRecord) error) (DecodeStats, error) {
	var stats DecodeStats
	err := forEachElement(r, "siteMeasurements", func(dec *xml.Decoder, se xml.StartElement) error {
		var sm xmlSiteMeasurements
		if err := dec.DecodeElement(&sm, &se); err != nil {
			stats.Skipped++
			return nil
		}
		if sm.SiteRef.ID == "" || sm.Time == "" {
			stats.Skipped++
			return nil
		}
		mapping, ok := mappings[sm.SiteRef.ID]
		if !ok {
			return nil
		}
		ts, err := time.Parse(time.RFC3339, sm.Time)
		if err != nil {
			stats.Skipped++
			return nil
		}

		// Index → value lookup over all measuredValue elements.
		values := make(map[int]float64, len(sm.Values))
		for _, mv := range sm.Values {
			idx, err := strconv.Atoi(mv.Index)
			if err != nil {
				continue
			}
			bd := mv.Inner.BasicData
			switch bd.Type {
			case basicTypeFlow:
				if bd.FlowRate != "" {
					if n, err := strconv.Atoi(bd.FlowRate); err == nil {
						values[idx] = float64(n)
					}
				}
			case basicTypeSpeed:
				if bd.Speed != "" {
					if f, err := strconv.ParseFloat(bd.Speed, 64); err == nil {
						values[idx] = f
					}
				}
			}
		}

		for laneName, indexes := range mapping {
			laneNum, ok := LaneNumber(laneName)
			if !ok {
				continue
			}
			rec := SpeedRecord{SiteID: sm.SiteRef.ID, Timestamp: ts, Lane: laneNum}
			if indexes.SpeedIndex != 0 {
				if v, ok := values[indexes.SpeedIndex]; ok && v != noValue {
					speed := v
					rec.SpeedKMH = &speed
				}
			}
			if indexes.FlowIndex != 0 {
				if v, ok := values[indexes.FlowIndex]; ok && v != noValue {
					flow := int(v)
					rec.FlowVehHr = &flow
				}
			}
			if err := emit(rec); err != nil {
				return err
			}
			stats.Records++
		}
		return nil
	})
	return stats, err
}

// DecodeJourneyTimes streams journey-time records out of a traveltime
// payload. The actual travel time sits in the first measuredValue; the
// free-flow reference duration in its extension.
func DecodeJourneyTimes(r io.Reader, emit func(JourneyTimeRecord) error) (DecodeStats, error) {
	var stats DecodeStats
	err := forEachElement(r, "siteMeasurements", func(dec *xml.Decoder, se xml.StartElement) error {
		var sm xmlSiteMeasurements
		if err := dec.DecodeElement(&sm, &se); err != nil {
			stats.Skipped++
			return nil
		}
		if sm.SiteRef.ID == "" || sm.Time == "" || len(sm.Values) == 0 {
			stats.Skipped++
			return nil
		}
		ts, err := time.Parse(time.RFC3339, sm.Time)
		if err != nil {
			stats.Skipped++
			return nil
		}
		inner := sm.Values[0].Inner
		tt := inner.BasicData.TravelTime
		if tt.Duration == "" {
			stats.Skipped++
			return nil
		}

		rec := JourneyTimeRecord{SiteID: sm.SiteRef.ID, Timestamp: ts}
		rec.DurationSec = parseOptFloat(tt.Duration)
		rec.Accuracy = parseOptFloat(tt.Accuracy)
		rec.Quality = parseOptFloat(tt.Quality)
		if tt.InputValues != "" {
			if n, err := strconv.Atoi(tt.InputValues); err == nil {
				rec.InputValues = &n
			}
		}
		rec.RefDurationSec = parseOptFloat(inner.Extension.RefDuration)

		if err := emit(rec); err != nil {
			return err
		}
		stats.Records++
		return nil
	})
	return stats, err
}

// parseOptFloat parses an optional numeric value, folding the feed's -1
// sentinel and parse failures into nil.
func parseOptFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f == noValue {
		return nil
	}
	return &f
}
