/*
Package association is the heart of the rearview engine. It owns every Association (the bundle of
forward-name resolutions observed leading to one address) and every Resolution within them,
enforces the cache bound by shearing low-scoring resolutions off the idle end of an eviction
queue, and hands recycled addresses to the refresh batcher for re-publication into the zone.

All entities are owned exclusively by the Store; callers only ever see value-copied views.
*/
package association

import (
	"net/netip"
	"time"

	"github.com/markdingo/rearview/internal/dnsutil"
	"github.com/markdingo/rearview/internal/heuristic"
)

// Resolution is one observed forward chain leading to the owning association's address. The chain
// is stored in telemetry order: terminal name (closest to the address) first, outermost query name
// last. The terminal name uniquely identifies a Resolution within an Association.
type Resolution struct {
	chain      []string  // FQDNs, terminal first. Never empty.
	queryCount int       // Observations, incremented once per observation
	firstSeen  time.Time // Immutable after creation
	lastSeen   time.Time
	trend      float64 // Weighted inter-observation gap in seconds
	reloaded   bool    // Reconstructed from the zone at startup, never seen live
}

// terminal returns the name closest to the address - the name published as the PTR target.
func (t *Resolution) terminal() string {
	return t.chain[0]
}

// sample converts to the scorer's view of this resolution.
func (t *Resolution) sample() heuristic.Sample {
	return heuristic.Sample{
		Depth:      len(t.chain),
		Labels:     dnsutil.Labels(t.terminal()),
		QueryCount: t.queryCount,
		LastSeen:   t.lastSeen,
		Trend:      t.trend,
	}
}

// Association is the set of Resolutions for a single address plus the cached best selection. An
// Association present in the store always has at least one Resolution and is always enqueued in
// the eviction queue; the queue is looked up by address, never by a held pointer.
type Association struct {
	address     netip.Addr
	resolutions map[string]*Resolution // Keyed by terminal name
	bestCache   string                 // Terminal of the cached best, empty means not computed
}

// ResolutionView is the value-copied external form of a Resolution.
type ResolutionView struct {
	Chain      []string
	QueryCount int
	FirstSeen  time.Time
	LastSeen   time.Time
	Trend      float64
	Reloaded   bool
	Score      float64 // As of the view's construction time
}

// Terminal returns the PTR target name of the viewed resolution.
func (t ResolutionView) Terminal() string {
	return t.Chain[0]
}

// AssociationView is the value-copied external form of an Association as returned by Lookup.
type AssociationView struct {
	Address     netip.Addr
	Best        string // Terminal of the best resolution as of the lookup
	Resolutions []ResolutionView
}

// Entry is what an association contributes to the zone: the best resolution's terminal name plus
// the counters published in the metadata TXT. The refresh batcher re-derives one of these per
// address at commit time.
type Entry struct {
	Address   netip.Addr
	Terminal  string
	FirstSeen time.Time
	LastSeen  time.Time
	Score     float64
}

func (t *Resolution) view(score float64) ResolutionView {
	return ResolutionView{
		Chain:      append([]string{}, t.chain...),
		QueryCount: t.queryCount,
		FirstSeen:  t.firstSeen,
		LastSeen:   t.lastSeen,
		Trend:      t.trend,
		Reloaded:   t.reloaded,
		Score:      score,
	}
}
