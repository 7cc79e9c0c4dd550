package datex

import (
	"encoding/xml"
	"io"
	"strconv"
)

const (
	vehicleTypeAny = "anyVehicle"
	valueTypeFlow  = "trafficFlow"
	valueTypeSpeed = "trafficSpeed"
)

type xmlSiteRecord struct {
	ID              string                 `xml:"id,attr"`
	Name            xmlMultilingual        `xml:"measurementSiteName"`
	Lanes           string                 `xml:"measurementSiteNumberOfLanes"`
	Equipment       xmlMultilingual        `xml:"measurementEquipmentTypeUsed"`
	Side            string                 `xml:"measurementSide"`
	Location        xmlSiteLocation        `xml:"measurementSiteLocation"`
	Characteristics []xmlCharacteristicOut `xml:"measurementSpecificCharacteristics"`
}

type xmlMultilingual struct {
	Values []string `xml:"values>value"`
}

func (m xmlMultilingual) first() string {
	if len(m.Values) == 0 {
		return ""
	}
	return m.Values[0]
}

type xmlSiteLocation struct {
	Lat string `xml:"pointByCoordinates>pointCoordinates>latitude"`
	Lon string `xml:"pointByCoordinates>pointCoordinates>longitude"`
}

type xmlCharacteristicOut struct {
	Index string              `xml:"index,attr"`
	Inner xmlCharacteristicIn `xml:"measurementSpecificCharacteristics"`
}

type xmlCharacteristicIn struct {
	VehicleType string `xml:"specificVehicleCharacteristics>vehicleType"`
	Lane        string `xml:"specificLane"`
	ValueType   string `xml:"specificMeasurementValueType"`
}

// DecodeSites streams measurement sites out of the reference payload
// (measurement.xml.gz). The index mapping records, per lane, which
// measuredValue indexes carry anyVehicle flow and speed; the speed decoder
// needs it to address the trafficspeed payload.
func DecodeSites(r io.Reader, emit func(Site) error) (DecodeStats, error) {
	var stats DecodeStats
	err := forEachElement(r, "measurementSiteRecord", func(dec *xml.Decoder, se xml.StartElement) error {
		var sr xmlSiteRecord
		if err := dec.DecodeElement(&sr, &se); err != nil {
			stats.Skipped++
			return nil
		}
		if sr.ID == "" {
			stats.Skipped++
			return nil
		}

		site := Site{
			SiteID:    sr.ID,
			Name:      sr.Name.first(),
			Equipment: sr.Equipment.first(),
			Direction: sr.Side,
		}
		site.Road = RoadFromName(site.Name)
		if sr.Lanes != "" {
			if n, err := strconv.Atoi(sr.Lanes); err == nil {
				site.Lanes = n
			}
		}
		if lat, err := strconv.ParseFloat(sr.Location.Lat, 64); err == nil {
			if lon, err := strconv.ParseFloat(sr.Location.Lon, 64); err == nil {
				site.Lat, site.Lon = &lat, &lon
			}
		}

		mapping := IndexMapping{}
		for _, ch := range sr.Characteristics {
			idx, err := strconv.Atoi(ch.Index)
			if err != nil {
				continue
			}
			in := ch.Inner
			if in.VehicleType != vehicleTypeAny || in.Lane == "" {
				continue
			}
			indexes := mapping[in.Lane]
			switch in.ValueType {
			case valueTypeFlow:
				indexes.FlowIndex = idx
			case valueTypeSpeed:
				indexes.SpeedIndex = idx
			default:
				continue
			}
			mapping[in.Lane] = indexes
		}
		if len(mapping) > 0 {
			site.IndexMapping = mapping
		}

		if err := emit(site); err != nil {
			return err
		}
		stats.Records++
		return nil
	})
	return stats, err
}
