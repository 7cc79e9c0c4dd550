package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nikhi3632/Stroomweg/internal/datex"
)

// FilterKind tags the closed set of filter variants.
type FilterKind int

const (
	// FilterRoad matches a road designation, case-insensitive, exact.
	FilterRoad FilterKind = iota
	// FilterBBox matches sites whose coordinate lies inside a rectangle.
	FilterBBox
	// FilterSite matches one site id exactly.
	FilterSite
)

// BBox is a latitude/longitude rectangle.
type BBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Contains reports whether the point lies inside the rectangle,
// boundaries included.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// ParseBBox parses "lat1,lon1,lat2,lon2". Corner order does not matter;
// the rectangle is normalized.
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox must be lat1,lon1,lat2,lon2")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("bbox component %d: %w", i+1, err)
		}
		vals[i] = f
	}
	b := BBox{MinLat: vals[0], MinLon: vals[1], MaxLat: vals[2], MaxLon: vals[3]}
	if b.MinLat > b.MaxLat {
		b.MinLat, b.MaxLat = b.MaxLat, b.MinLat
	}
	if b.MinLon > b.MaxLon {
		b.MinLon, b.MaxLon = b.MaxLon, b.MinLon
	}
	return b, nil
}

// Filter is a closed tagged variant restricting which sites a
// subscription receives.
type Filter struct {
	kind   FilterKind
	road   string
	bbox   BBox
	siteID string
}

// RoadFilter matches sites on the named road, ignoring case.
func RoadFilter(name string) Filter { return Filter{kind: FilterRoad, road: name} }

// BBoxFilter matches sites inside the rectangle.
func BBoxFilter(b BBox) Filter { return Filter{kind: FilterBBox, bbox: b} }

// SiteFilter matches exactly one site id.
func SiteFilter(id string) Filter { return Filter{kind: FilterSite, siteID: id} }

// Matches evaluates the filter against a site. Pure and total: a site
// lacking the attribute the filter needs is a non-match, never an error.
func (f Filter) Matches(site datex.Site) bool {
	switch f.kind {
	case FilterRoad:
		return site.Road != "" && strings.EqualFold(site.Road, f.road)
	case FilterBBox:
		if !site.HasCoordinate() {
			return false
		}
		return f.bbox.Contains(*site.Lat, *site.Lon)
	case FilterSite:
		return site.SiteID == f.siteID
	default:
		return false
	}
}

// String renders the filter for logs.
func (f Filter) String() string {
	switch f.kind {
	case FilterRoad:
		return "road=" + f.road
	case FilterBBox:
		return fmt.Sprintf("bbox=%g,%g,%g,%g", f.bbox.MinLat, f.bbox.MinLon, f.bbox.MaxLat, f.bbox.MaxLon)
	case FilterSite:
		return "site_id=" + f.siteID
	default:
		return "invalid"
	}
}

// FilterFromParams builds a filter from transport parameters. Exactly
// one is required; when several are present, site_id wins over bbox,
// bbox over road.
func FilterFromParams(road, bbox, siteID string) (Filter, error) {
	switch {
	case siteID != "":
		return SiteFilter(siteID), nil
	case bbox != "":
		b, err := ParseBBox(bbox)
		if err != nil {
			return Filter{}, err
		}
		return BBoxFilter(b), nil
	case road != "":
		return RoadFilter(road), nil
	default:
		return Filter{}, fmt.Errorf("a filter is required: road, bbox, or site_id")
	}
}
