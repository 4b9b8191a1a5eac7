package main

import (
	"net/netip"
	"time"

	"github.com/markdingo/rearview/internal/association"
	"github.com/markdingo/rearview/internal/console"
	"github.com/markdingo/rearview/internal/refresh"
	"github.com/markdingo/rearview/internal/zoneview"
)

// engine glues the store, batcher and zone view together and exposes the read-only introspection
// window the diagnostic console serves to operators. All methods snapshot under the component
// locks - the console deliberately blocks the engine for the duration of each command.
type engine struct {
	store   *association.Store
	batcher *refresh.Batcher
	zone    *zoneview.View
}

// CrossCheck is the a2z verb: diff every association's best against the published zone.
func (t *engine) CrossCheck() []zoneview.Discrepancy {
	now := time.Now()

	return t.zone.CrossCheck(t.store.Addresses(), func(address netip.Addr) (string, bool) {
		entry, ok := t.store.BestEntry(address, now)
		return entry.Terminal, ok
	})
}

func (t *engine) AddressDetails(address netip.Addr) (association.AssociationView, bool) {
	return t.store.Lookup(address, time.Now())
}

func (t *engine) ZoneEntry(address netip.Addr) (zoneview.Entry, bool) {
	return t.zone.Lookup(address)
}

func (t *engine) QueueDepths() console.Depths {
	return console.Depths{
		Associations: t.store.AssociationCount(),
		Resolutions:  t.store.ResolutionCount(),
		CacheSize:    cfg.cacheSize,
		Queue:        t.store.QueueDepth(),
		BatchPending: t.batcher.Pending(),
	}
}

func (t *engine) QueueSlice(end string, n int) ([]netip.Addr, error) {
	return t.store.QueueSlice(end, n)
}

func (t *engine) RecentEvictions(n int) []association.EvictionEvent {
	return t.store.RecentEvictions(n)
}

func (t *engine) RecentRefreshes(n int) []refresh.Batch {
	return t.batcher.RecentRefreshes(n)
}
