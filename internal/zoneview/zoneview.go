/*
Package zoneview maintains a passive in-memory mirror of the RPZ as published. It is populated
once at startup by reading the zone master file and thereafter mutated only by successful refresh
commits. The view never issues DNS queries of its own; its whole purpose is to let the operator
diff "what the zone says" against "what the association store believes" without touching either.
*/
package zoneview

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/markdingo/rearview/internal/dnsutil"
	"github.com/markdingo/rearview/internal/refresh"
)

const me = "zoneview"

// Entry is one published reverse mapping.
type Entry struct {
	Address  netip.Addr
	Owner    string // Reverse-map owner name
	Terminal string // The published PTR target
	Metadata dnsutil.Metadata
	HasMeta  bool // A TXT was present/published for this owner
}

// Seeder receives reconstructed resolutions during the startup load. The association store
// satisfies this: each PTR found in the zone becomes a reload-marker resolution.
type Seeder interface {
	Seed(address netip.Addr, terminal string, first, last time.Time) error
}

// Discrepancy is one difference between the zone view and the association store, as reported by
// the a2z cross-check.
type Discrepancy struct {
	Address netip.Addr
	Zone    string // Terminal the zone publishes, empty if absent
	Store   string // Terminal the store would publish, empty if absent
}

// viewStats is split out so resetCounters() is a trivial struct copy.
type viewStats struct {
	loadedPtrs   int
	loadedTxts   int
	garbage      int // Unrecognized records seen in the zone
	applied      int
	removed      int
	applyIgnored int // Apply calls for failed/absent entries
}

// View is the mirror. All access is through value copies under a single mutex.
type View struct {
	zone string

	mu      sync.RWMutex // Protects everything below here
	entries map[netip.Addr]Entry
	viewStats
}

// New constructs an empty view for the named zone.
func New(zone string) *View {
	return &View{
		zone:    dns.Fqdn(zone),
		entries: make(map[netip.Addr]Entry),
	}
}

// LoadFile reads the zone master file, populating the view and seeding the store. Missing files
// are not an error - a fresh deployment starts with an empty zone. The garbage function is called
// once per unrecognized record so the caller can log (or suppress) the noise.
func (t *View) LoadFile(path string, seeder Seeder, garbage func(rr dns.RR)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%s: %s", me, err.Error())
	}
	defer f.Close()

	return t.Load(f, seeder, garbage)
}

// Load is LoadFile over an arbitrary reader. PTR records under the reverse-map domains become
// entries and seeds; TXT records re-attach published metadata; anything else is garbage (the SOA
// and NS records every zone carries included - the RPZ is expected to be dedicated to this
// agent's output).
func (t *View) Load(r io.Reader, seeder Seeder, garbage func(rr dns.RR)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	zp := dns.NewZoneParser(r, t.zone, "")
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		switch rr := rr.(type) {
		case *dns.PTR:
			address, err := dnsutil.ParseReverseName(rr.Hdr.Name)
			if err != nil {
				t.garbage++
				if garbage != nil {
					garbage(rr)
				}
				continue
			}
			entry := t.entries[address]
			entry.Address = address
			entry.Owner = strings.ToLower(dns.Fqdn(rr.Hdr.Name))
			entry.Terminal = rr.Ptr
			t.entries[address] = entry
			t.loadedPtrs++

		case *dns.TXT:
			address, err := dnsutil.ParseReverseName(rr.Hdr.Name)
			if err != nil {
				t.garbage++
				if garbage != nil {
					garbage(rr)
				}
				continue
			}
			md, err := dnsutil.ParseMetadata(strings.Join(rr.Txt, ""))
			if err != nil {
				t.garbage++
				if garbage != nil {
					garbage(rr)
				}
				continue
			}
			entry := t.entries[address]
			entry.Address = address
			entry.Owner = strings.ToLower(dns.Fqdn(rr.Hdr.Name))
			entry.Metadata = md
			entry.HasMeta = true
			t.entries[address] = entry
			t.loadedTxts++

		default:
			t.garbage++
			if garbage != nil {
				garbage(rr)
			}
		}
	}
	if err := zp.Err(); err != nil {
		return fmt.Errorf("%s: %s", me, err.Error())
	}

	// A TXT without a PTR is metadata for nothing - drop it. Then seed the store with
	// reload markers for what remains.

	for address, entry := range t.entries {
		if len(entry.Terminal) == 0 {
			delete(t.entries, address)
			continue
		}
		if seeder != nil {
			first, last := entry.Metadata.First, entry.Metadata.Last
			if !entry.HasMeta {
				first = time.Now()
				last = first
			}
			if err := seeder.Seed(address, entry.Terminal, first, last); err != nil {
				return fmt.Errorf("%s: seeding %s: %s", me, address, err.Error())
			}
		}
	}

	return nil
}

// Apply folds a successfully committed batch into the view. Satisfies refresh.Applier. Departed
// addresses are removed; live ones replace their entry wholesale.
func (t *View) Apply(updates []refresh.Update, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, u := range updates {
		if !u.Present {
			if _, ok := t.entries[u.Address]; ok {
				delete(t.entries, u.Address)
				t.removed++
			} else {
				t.applyIgnored++
			}
			continue
		}

		owner, err := dnsutil.ReverseName(u.Address)
		if err != nil { // Can't happen for a valid address but never desync silently
			t.applyIgnored++
			continue
		}
		t.entries[u.Address] = Entry{
			Address:  u.Address,
			Owner:    owner,
			Terminal: dns.Fqdn(u.Entry.Terminal),
			Metadata: dnsutil.Metadata{
				First:  u.Entry.FirstSeen,
				Last:   u.Entry.LastSeen,
				Update: at,
				Score:  u.Entry.Score,
			},
			HasMeta: true,
		}
		t.applied++
	}
}

// Lookup returns the published entry for an address.
func (t *View) Lookup(address netip.Addr) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[address]

	return entry, ok
}

// Len returns the number of published entries.
func (t *View) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}

// CrossCheck diffs the view against the association store's current bests. Returned discrepancies
// are sorted by address for stable operator output. A persistent non-empty result while the
// refresh path is failing is exactly the drift the spec promises to make observable.
func (t *View) CrossCheck(addresses []netip.Addr, best func(address netip.Addr) (string, bool)) []Discrepancy {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Discrepancy
	seen := make(map[netip.Addr]bool, len(addresses))
	for _, address := range addresses {
		terminal, ok := best(address)
		if !ok {
			continue // Raced an eviction; the zone side is picked up below
		}
		seen[address] = true
		entry, published := t.entries[address]
		if !published {
			out = append(out, Discrepancy{Address: address, Store: terminal})
			continue
		}
		if entry.Terminal != terminal {
			out = append(out, Discrepancy{Address: address, Zone: entry.Terminal, Store: terminal})
		}
	}

	for address, entry := range t.entries { // Zone entries with no live association
		if !seen[address] {
			out = append(out, Discrepancy{Address: address, Zone: entry.Terminal})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Address.Less(out[j].Address) })

	return out
}

// Name implements the reporter interface
func (t *View) Name() string {
	return "Zone View"
}

// Report implements the reporter interface.
func (t *View) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := fmt.Sprintf("entries=%d ptrs=%d txts=%d garbage=%d applied=%d removed=%d ignored=%d %s",
		len(t.entries), t.loadedPtrs, t.loadedTxts, t.garbage,
		t.applied, t.removed, t.applyIgnored, t.zone)

	if resetCounters {
		t.viewStats = viewStats{}
	}

	return s
}
