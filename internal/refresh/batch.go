/*
Package refresh accumulates recycled addresses into bounded batches and commits each batch as one
dynamic DNS update transaction against the zone master. Addresses are held as keys only - they are
re-resolved against the association store at commit time, which is the moment the batch's
consistency window closes.
*/
package refresh

import (
	"net/netip"
	"time"

	"github.com/markdingo/rearview/internal/association"
)

// BatchState is the lifecycle of a batch. Transitions are monotonic and one-way:
//
//	new --first-add--> accumulating --tick(size & time)--> writing --response--> complete
type BatchState int

const (
	StateNew BatchState = iota
	StateAccumulating
	StateWriting
	StateComplete
)

func (t BatchState) String() string {
	switch t {
	case StateNew:
		return "new"
	case StateAccumulating:
		return "accumulating"
	case StateWriting:
		return "writing"
	case StateComplete:
		return "complete"
	}

	return "unknown"
}

// Batch is one unit of dynamic-update work. Completed batches are retained in a bounded ring for
// operator introspection; the live batch is only ever seen as a copy.
type Batch struct {
	Created   time.Time
	State     BatchState
	AddCalls  int // Attempted additions including those dropped by the cap
	Addresses []netip.Addr

	ElapsedAccumulating time.Duration
	ElapsedProcessing   time.Duration
	WireRequestBytes    int
	WireResponseBytes   int
	Rcode               int
	TransportError      string // Non-empty when the update never got a usable response
}

// contains reports whether the address is already in the batch. Batches are set-like: a second
// recycle of the same address before commit costs an add call but not a slot.
func (t *Batch) contains(address netip.Addr) bool {
	for _, a := range t.Addresses {
		if a == address {
			return true
		}
	}

	return false
}

// copyOf returns a value copy safe to hand outside the batcher's lock.
func (t *Batch) copyOf() Batch {
	c := *t
	c.Addresses = append([]netip.Addr{}, t.Addresses...)

	return c
}

// Update is one address's contribution to a commit transaction. Present false means the address
// has left the association store and its zone entry should be removed.
type Update struct {
	Address netip.Addr
	Present bool
	Entry   association.Entry // Valid only when Present
}

// CommitResult is what the update client reports back for a transaction that got a response.
type CommitResult struct {
	Rcode         int
	RequestBytes  int
	ResponseBytes int
}

// Committer issues one update transaction to the zone master. The updater package provides the
// production implementation; tests substitute their own.
type Committer interface {
	Commit(updates []Update) (CommitResult, error)
}

// Applier receives the updates of a successfully committed batch. The zone view satisfies this to
// stay a faithful mirror of the published zone.
type Applier interface {
	Apply(updates []Update, at time.Time)
}

// EntrySource resolves an address to its current zone-facing entry. The association store
// satisfies this.
type EntrySource interface {
	BestEntry(address netip.Addr, now time.Time) (association.Entry, bool)
}
