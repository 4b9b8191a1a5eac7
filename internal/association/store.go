package association

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/markdingo/rearview/internal/heuristic"
)

const me = "association"

// ErrInvalidTelemetry is returned by Observe for a malformed chain. The event is dropped, counted
// and the store is left untouched.
var ErrInvalidTelemetry = errors.New(me + ": invalid telemetry")

// Recycler receives addresses whose zone entry needs re-publishing - every association touched by
// an eviction pass, including those deleted outright (the zone has to remove their PTR). The
// refresh batcher satisfies this interface.
type Recycler interface {
	Add(address netip.Addr)
}

// Config defines the store parameters. CacheSize bounds the total Resolution count across all
// associations; zero is legal and causes every observation to be sheared straight back out.
type Config struct {
	CacheSize       int
	EvictionLogSize int
	Scorer          heuristic.Scorer
	Recycler        Recycler // May be nil when no zone refresh is wanted (tests)
}

var (
	DefaultConfig = Config{
		CacheSize:       700,
		EvictionLogSize: 64,
	}
)

// storeStats is split out so resetCounters() is a trivial struct copy.
type storeStats struct {
	observations         int
	invalidTelemetry     int
	reloadSeeds          int
	evictionPasses       int
	resolutionsSheared   int
	associationsRecycled int
	associationsDeleted  int
}

// Store is the sole writer to all Association and Resolution entities. One mutex is held for the
// entirety of each Observe and each eviction pass so passes are atomic with respect to other
// engine events.
type Store struct {
	config Config

	mu              sync.RWMutex // Protects everything below here
	associations    map[netip.Addr]*Association
	queue           *evictionQueue
	resolutionCount int
	evLog           *evictionLog
	storeStats
}

// New constructs a Store. The scorer is mandatory; other zero values select defaults, except
// CacheSize where zero is taken literally (a negative CacheSize selects the default).
func New(config Config) (*Store, error) {
	if config.Scorer == nil {
		return nil, errors.New(me + ": a Scorer is mandatory")
	}
	if config.CacheSize < 0 {
		config.CacheSize = DefaultConfig.CacheSize
	}
	if config.EvictionLogSize <= 0 {
		config.EvictionLogSize = DefaultConfig.EvictionLogSize
	}

	t := &Store{config: config}
	t.associations = make(map[netip.Addr]*Association)
	t.queue = newEvictionQueue()
	t.evLog = newEvictionLog(config.EvictionLogSize)

	return t, nil
}

// SetRecycler installs the recycler after construction. The store and the batcher refer to each
// other so one of them has to be bound late; the store drew the short straw.
func (t *Store) SetRecycler(r Recycler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.config.Recycler = r
}

// SetCacheSize replaces the cache bound at runtime. A shrink is not acted on immediately;
// subsequent eviction passes converge on the new bound.
func (t *Store) SetCacheSize(size int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if size >= 0 {
		t.config.CacheSize = size
	}
}

// Observe records one telemetry hit: a forward chain (terminal name first, outermost query name
// last) observed resolving to an address. The association and resolution are found or created,
// counters and trend updated, the address is touched to the tail of the eviction queue and, if the
// cache bound is now exceeded, an eviction pass runs before Observe returns.
func (t *Store) Observe(address netip.Addr, chain []string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !address.IsValid() || len(chain) == 0 {
		t.invalidTelemetry++
		return ErrInvalidTelemetry
	}
	for _, name := range chain {
		if len(name) == 0 {
			t.invalidTelemetry++
			return ErrInvalidTelemetry
		}
	}
	t.observations++

	assoc, ok := t.associations[address]
	if !ok {
		assoc = &Association{
			address:     address,
			resolutions: make(map[string]*Resolution),
		}
		t.associations[address] = assoc
	}

	terminal := chain[0]
	res, ok := assoc.resolutions[terminal]
	if ok {
		gap := now.Sub(res.lastSeen).Seconds()
		if gap < 0 {
			gap = 0
		}
		res.trend = t.config.Scorer.UpdateTrend(res.trend, gap)
		res.lastSeen = now
		res.queryCount++
		res.chain = append([]string{}, chain...)
		res.reloaded = false // A live observation usurps any reload marker
	} else {
		res = &Resolution{
			chain:      append([]string{}, chain...),
			queryCount: 1,
			firstSeen:  now,
			lastSeen:   now,
		}
		assoc.resolutions[terminal] = res
		t.resolutionCount++
	}

	assoc.bestCache = ""
	t.queue.touch(address)

	if t.resolutionCount > t.config.CacheSize {
		t.evict(now)
	}

	return nil
}

// Seed installs a reload-marker resolution for an address read from the zone at startup. The
// resolution has no meaningful chain beyond its terminal name and is not eligible as best once any
// live resolution exists.
func (t *Store) Seed(address netip.Addr, terminal string, first, last time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !address.IsValid() || len(terminal) == 0 {
		return ErrInvalidTelemetry
	}
	t.reloadSeeds++

	assoc, ok := t.associations[address]
	if !ok {
		assoc = &Association{
			address:     address,
			resolutions: make(map[string]*Resolution),
		}
		t.associations[address] = assoc
	}
	if _, ok := assoc.resolutions[terminal]; ok { // Already known - nothing to reconstruct
		return nil
	}

	assoc.resolutions[terminal] = &Resolution{
		chain:      []string{terminal},
		queryCount: 1,
		firstSeen:  first,
		lastSeen:   last,
		reloaded:   true,
	}
	t.resolutionCount++
	assoc.bestCache = ""
	t.queue.touch(address)

	if t.resolutionCount > t.config.CacheSize {
		t.evict(last)
	}

	return nil
}

// evict is the shearing pass. Caller holds the lock.
//
// The head of the queue is walked summing resolution counts until the cumulative sum meets the
// overage; across that cohort the lowest-scoring resolutions are removed until exactly 'overage'
// are gone. Survivors are recycled to the tail and handed to the Recycler; empty associations are
// deleted - and also handed to the Recycler so the zone can drop their PTR.
func (t *Store) evict(now time.Time) {
	overage := t.resolutionCount - t.config.CacheSize
	if overage <= 0 {
		return
	}
	t.evictionPasses++

	// Select K associations from the head such that their cumulative resolution count covers
	// the overage.

	var selected []*Association
	cum := 0
	for _, address := range t.queue.slice(true, t.queue.len()) {
		assoc, ok := t.associations[address]
		if !ok {
			panic(me + ": queue/store desync: queued address has no association: " + address.String())
		}
		selected = append(selected, assoc)
		cum += len(assoc.resolutions)
		if cum >= overage {
			break
		}
	}

	sheared, shortfall := t.queue.shear(len(selected))
	if shortfall != 0 || len(sheared) != len(selected) {
		panic(fmt.Sprintf("%s: queue shorter than its own head cohort (%d/%d)",
			me, len(sheared), len(selected)))
	}

	// Order every resolution in the cohort by ascending score and remove the worst until the
	// overage is covered. Ties break on terminal name then address so a pass is deterministic.

	type candidate struct {
		assoc *Association
		res   *Resolution
		score float64
	}
	candidates := make([]candidate, 0, cum)
	for _, assoc := range selected {
		for _, res := range assoc.resolutions {
			candidates = append(candidates, candidate{
				assoc: assoc,
				res:   res,
				score: t.config.Scorer.Score(res.sample(), now),
			})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		if candidates[i].res.terminal() != candidates[j].res.terminal() {
			return candidates[i].res.terminal() < candidates[j].res.terminal()
		}
		return candidates[i].assoc.address.Less(candidates[j].assoc.address)
	})

	removed := make([]RemovedResolution, 0, overage)
	for _, c := range candidates[:overage] {
		delete(c.assoc.resolutions, c.res.terminal())
		c.assoc.bestCache = ""
		t.resolutionCount--
		removed = append(removed, RemovedResolution{
			Address:  c.assoc.address,
			Terminal: c.res.terminal(),
			Score:    c.score,
		})
	}
	t.resolutionsSheared += len(removed)

	// Recycle survivors back to the tail, delete the emptied. Either way the address goes to
	// the Recycler: survivors need their zone entry refreshed, the deleted need theirs removed.

	ev := EvictionEvent{
		When:       now,
		Overage:    overage,
		TargetPool: t.config.CacheSize,
		Selected:   len(selected),
		Removed:    removed,
	}
	for _, assoc := range selected {
		if len(assoc.resolutions) > 0 {
			t.queue.touch(assoc.address)
			ev.Recycled++
			t.associationsRecycled++
		} else {
			delete(t.associations, assoc.address)
			ev.Deleted++
			t.associationsDeleted++
		}
		if t.config.Recycler != nil {
			t.config.Recycler.Add(assoc.address)
		}
	}
	ev.Affected = ev.Deleted
	seen := make(map[netip.Addr]bool)
	for _, r := range removed {
		if !seen[r.Address] {
			seen[r.Address] = true
			if _, ok := t.associations[r.Address]; ok {
				ev.Affected++
			}
		}
	}
	ev.ActualPool = t.resolutionCount
	ev.Remaining = len(t.associations)
	t.evLog.add(ev)
}

// bestOf computes the preferred resolution of an association: highest score wins, reload markers
// are excluded when any live resolution exists, ties go to the lexicographically smaller terminal
// name. Caller holds the lock. An association in the store is never empty so this always finds
// one.
func (t *Store) bestOf(assoc *Association, now time.Time) (*Resolution, float64) {
	liveExists := false
	for _, res := range assoc.resolutions {
		if !res.reloaded {
			liveExists = true
			break
		}
	}

	var best *Resolution
	var bestScore float64
	for _, res := range assoc.resolutions {
		if liveExists && res.reloaded {
			continue
		}
		score := t.config.Scorer.Score(res.sample(), now)
		switch {
		case best == nil:
		case score > bestScore:
		case score == bestScore && res.terminal() < best.terminal():
		default:
			continue
		}
		best = res
		bestScore = score
	}
	if best == nil {
		panic(me + ": association with no selectable resolution: " + assoc.address.String())
	}
	assoc.bestCache = best.terminal()

	return best, bestScore
}

// Lookup returns a snapshot of the association for an address without touching the eviction
// queue. The second return is false if the address is not present.
func (t *Store) Lookup(address netip.Addr, now time.Time) (AssociationView, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	assoc, ok := t.associations[address]
	if !ok {
		return AssociationView{}, false
	}

	best, _ := t.bestOf(assoc, now)
	view := AssociationView{Address: address, Best: best.terminal()}
	for _, res := range assoc.resolutions {
		view.Resolutions = append(view.Resolutions, res.view(t.config.Scorer.Score(res.sample(), now)))
	}
	sort.Slice(view.Resolutions, func(i, j int) bool {
		return view.Resolutions[i].Terminal() < view.Resolutions[j].Terminal()
	})

	return view, true
}

// BestEntry returns the zone-facing entry for an address: the best resolution's terminal plus the
// counters published in the metadata TXT. The refresh batcher calls this at commit time; a false
// return means the address has left the store and its zone entry should be removed.
func (t *Store) BestEntry(address netip.Addr, now time.Time) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	assoc, ok := t.associations[address]
	if !ok {
		return Entry{}, false
	}
	best, score := t.bestOf(assoc, now)

	return Entry{
		Address:   address,
		Terminal:  best.terminal(),
		FirstSeen: best.firstSeen,
		LastSeen:  best.lastSeen,
		Score:     score,
	}, true
}

// Addresses returns every address currently in the store in no particular order.
func (t *Store) Addresses() []netip.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]netip.Addr, 0, len(t.associations))
	for address := range t.associations {
		out = append(out, address)
	}

	return out
}

// ResolutionCount returns the total resolution count across the store.
func (t *Store) ResolutionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.resolutionCount
}

// AssociationCount returns the number of associations in the store.
func (t *Store) AssociationCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.associations)
}

// QueueDepth returns the eviction queue length. This always equals AssociationCount unless
// something has gone badly wrong.
func (t *Store) QueueDepth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.queue.len()
}

// QueueSlice returns up to n addresses from the nominated end of the eviction queue, "head" being
// the most idle addresses.
func (t *Store) QueueSlice(end string, n int) ([]netip.Addr, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	switch end {
	case "head":
		return t.queue.slice(true, n), nil
	case "tail":
		return t.queue.slice(false, n), nil
	}

	return nil, fmt.Errorf("%s: queue end must be 'head' or 'tail', not '%s'", me, end)
}

// RecentEvictions returns up to n eviction events, newest first.
func (t *Store) RecentEvictions(n int) []EvictionEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.evLog.recent(n)
}

// Name implements the reporter interface
func (t *Store) Name() string {
	return "Assoc Store"
}

// Report implements the reporter interface.
func (t *Store) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := fmt.Sprintf("assoc=%d res=%d/%d q=%d obs=%d bad=%d seeds=%d passes=%d sheared=%d recycled=%d deleted=%d",
		len(t.associations), t.resolutionCount, t.config.CacheSize, t.queue.len(),
		t.observations, t.invalidTelemetry, t.reloadSeeds,
		t.evictionPasses, t.resolutionsSheared, t.associationsRecycled, t.associationsDeleted)

	if resetCounters {
		t.storeStats = storeStats{}
	}

	return s
}
