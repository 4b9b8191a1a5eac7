package refresh

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"
)

const me = "refresh"

// Config defines the batcher parameters. BatchSize is a hard cap on addresses per batch;
// Frequency is the minimum accumulation time before a partial batch writes; Threshold is the
// fractional fill (0.0-1.0) a partial batch needs before its timer is honoured - so a sparsely
// loaded server is not pestered with near-empty update transactions.
type Config struct {
	BatchSize int
	Frequency time.Duration
	Threshold float64
	LogSize   int

	Source    EntrySource
	Committer Committer
	Applier   Applier // May be nil (tests)

	NowFunc func() time.Time // Defaults to time.Now, substitutable for tests
}

var (
	DefaultConfig = Config{
		BatchSize: 32,
		Frequency: time.Minute,
		Threshold: 0.1,
		LogSize:   64,
	}
)

// batcherStats is split out so resetCounters() is a trivial struct copy.
type batcherStats struct {
	addCalls        int
	dropped         int
	committedOk     int
	committedFailed int
	updatesWritten  int
	removalsWritten int
}

// Batcher accumulates recycled addresses and drives the committer. At most one batch is writing
// at any time; a fresh batch accumulates concurrently while a commit is in flight.
type Batcher struct {
	config Config

	mu      sync.Mutex // Protects everything below here
	current *Batch
	writing bool
	log     *refreshLog
	batcherStats
}

// New constructs a Batcher. Source and Committer are mandatory; zero values elsewhere select
// defaults.
func New(config Config) (*Batcher, error) {
	if config.Source == nil {
		return nil, errors.New(me + ": an EntrySource is mandatory")
	}
	if config.Committer == nil {
		return nil, errors.New(me + ": a Committer is mandatory")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig.BatchSize
	}
	if config.Frequency <= 0 {
		config.Frequency = DefaultConfig.Frequency
	}
	if config.Threshold < 0 || config.Threshold > 1 {
		return nil, fmt.Errorf("%s: Threshold is not in range 0.0-1.0: %f", me, config.Threshold)
	}
	if config.Threshold == 0 {
		config.Threshold = DefaultConfig.Threshold
	}
	if config.LogSize <= 0 {
		config.LogSize = DefaultConfig.LogSize
	}
	if config.NowFunc == nil {
		config.NowFunc = time.Now
	}

	t := &Batcher{config: config}
	t.log = newRefreshLog(config.LogSize)

	return t, nil
}

// Add offers a recycled address to the current batch, creating one if none exists. An address
// already in the batch, or offered when the batch is full, costs an add call but not a slot.
// Satisfies the association store's Recycler interface.
func (t *Batcher) Add(address netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.addCalls++
	if t.current == nil {
		t.current = &Batch{Created: t.config.NowFunc(), State: StateNew}
	}
	t.current.AddCalls++

	if len(t.current.Addresses) >= t.config.BatchSize || t.current.contains(address) {
		t.dropped++
		return
	}

	t.current.Addresses = append(t.current.Addresses, address)
	if t.current.State == StateNew {
		t.current.State = StateAccumulating
	}
}

// Tick is the periodic clock. An accumulating batch is promoted to writing and committed when it
// is full, or when it is old enough and filled past the threshold. The commit runs on the
// caller's goroutine; a new batch accumulates concurrently via Add but no second batch can reach
// writing until this one completes.
func (t *Batcher) Tick(now time.Time) {
	t.mu.Lock()
	if t.writing || t.current == nil || t.current.State != StateAccumulating {
		t.mu.Unlock()
		return
	}

	b := t.current
	full := len(b.Addresses) >= t.config.BatchSize
	timed := now.Sub(b.Created) >= t.config.Frequency &&
		float64(len(b.Addresses)) >= t.config.Threshold*float64(t.config.BatchSize)
	if !full && !timed {
		t.mu.Unlock()
		return
	}

	b.State = StateWriting
	b.ElapsedAccumulating = now.Sub(b.Created)
	t.current = nil
	t.writing = true
	t.mu.Unlock()

	t.commit(b)
}

// commit resolves the batch addresses against the association store, issues the transaction and
// finalizes the batch. Addresses that have left the store become removals so the zone drops their
// PTR. Failed batches do not advance the zone view and their addresses are not re-queued - the
// next eviction touching them re-enqueues naturally.
func (t *Batcher) commit(b *Batch) {
	start := t.config.NowFunc()

	updates := make([]Update, 0, len(b.Addresses))
	removals := 0
	for _, address := range b.Addresses {
		entry, ok := t.config.Source.BestEntry(address, start)
		if !ok {
			removals++
		}
		updates = append(updates, Update{Address: address, Present: ok, Entry: entry})
	}

	result, err := t.config.Committer.Commit(updates)
	done := t.config.NowFunc()

	b.ElapsedProcessing = done.Sub(start)
	b.Rcode = result.Rcode
	b.WireRequestBytes = result.RequestBytes
	b.WireResponseBytes = result.ResponseBytes
	if err != nil {
		b.TransportError = err.Error()
	}
	b.State = StateComplete

	ok := err == nil && result.Rcode == dns.RcodeSuccess
	if ok && t.config.Applier != nil {
		t.config.Applier.Apply(updates, done)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		t.committedOk++
		t.updatesWritten += len(updates) - removals
		t.removalsWritten += removals
	} else {
		t.committedFailed++
	}
	t.log.add(*b)
	t.writing = false
}

// Pending returns the address count of the accumulating batch, if any.
func (t *Batcher) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return 0
	}

	return len(t.current.Addresses)
}

// Current returns a copy of the accumulating batch. The second return is false if none exists.
func (t *Batcher) Current() (Batch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return Batch{}, false
	}

	return t.current.copyOf(), true
}

// RecentRefreshes returns up to n completed batches, newest first.
func (t *Batcher) RecentRefreshes(n int) []Batch {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.log.recent(n)
}

// Name implements the reporter interface
func (t *Batcher) Name() string {
	return "Refresh"
}

// Report implements the reporter interface.
func (t *Batcher) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := 0
	if t.current != nil {
		pending = len(t.current.Addresses)
	}
	s := fmt.Sprintf("adds=%d drops=%d pending=%d ok=%d fail=%d written=%d removed=%d",
		t.addCalls, t.dropped, pending, t.committedOk, t.committedFailed,
		t.updatesWritten, t.removalsWritten)

	if resetCounters {
		t.batcherStats = batcherStats{}
	}

	return s
}
