package dispatch

import (
	"sync"

	"github.com/nikhi3632/Stroomweg/internal/datex"
)

// SiteIndex is the in-memory view of the site reference data used to
// resolve filters. It is replaced wholesale when the reference feed is
// refreshed and read concurrently by subscribe calls.
type SiteIndex struct {
	mu    sync.RWMutex
	sites map[string]datex.Site
}

// NewSiteIndex returns an empty index.
func NewSiteIndex() *SiteIndex {
	return &SiteIndex{sites: make(map[string]datex.Site)}
}

// ReplaceAll swaps the full site set.
func (x *SiteIndex) ReplaceAll(sites []datex.Site) {
	next := make(map[string]datex.Site, len(sites))
	for _, s := range sites {
		next[s.SiteID] = s
	}
	x.mu.Lock()
	x.sites = next
	x.mu.Unlock()
}

// Len returns the number of known sites.
func (x *SiteIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.sites)
}

// Mappings returns a snapshot of the per-site measured value index
// mappings, keyed by site id. The speed decoder needs these to place
// lane values.
func (x *SiteIndex) Mappings() map[string]datex.IndexMapping {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]datex.IndexMapping, len(x.sites))
	for id, s := range x.sites {
		if len(s.IndexMapping) > 0 {
			out[id] = s.IndexMapping
		}
	}
	return out
}

// Get looks up one site.
func (x *SiteIndex) Get(id string) (datex.Site, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s, ok := x.sites[id]
	return s, ok
}

// Resolve evaluates a filter against the reference data and returns the
// matching site-id set. The set is captured at subscribe time; a
// reference refresh does not rewrite existing subscriptions.
//
// A site_id filter resolves to that id unconditionally: it matches
// records by exact id, and journey-time segment ids never appear in the
// reference feed at all.
func (x *SiteIndex) Resolve(f Filter) map[string]struct{} {
	if f.kind == FilterSite {
		return map[string]struct{}{f.siteID: {}}
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]struct{})
	for id, s := range x.sites {
		if f.Matches(s) {
			out[id] = struct{}{}
		}
	}
	return out
}
