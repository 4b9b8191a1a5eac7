package association

import (
	"net/netip"
	"testing"
)

var (
	qa = netip.MustParseAddr("10.0.0.1")
	qb = netip.MustParseAddr("10.0.0.2")
	qc = netip.MustParseAddr("10.0.0.3")
)

func addrs(t *evictionQueue, fromHead bool) []netip.Addr {
	return t.slice(fromHead, t.len())
}

func TestQueueTouchOrder(t *testing.T) {
	q := newEvictionQueue()

	q.touch(qa)
	q.touch(qb)
	q.touch(qc)
	if q.len() != 3 {
		t.Fatal("Expected 3 nodes, got", q.len())
	}

	order := addrs(q, true)
	if order[0] != qa || order[1] != qb || order[2] != qc {
		t.Error("Insertion order should be head to tail", order)
	}

	// Touching the head moves it to the tail
	q.touch(qa)
	order = addrs(q, true)
	if order[0] != qb || order[2] != qa {
		t.Error("Touch did not move node to tail", order)
	}

	// Touching the tail is a no-op
	q.touch(qa)
	order = addrs(q, true)
	if order[2] != qa || q.len() != 3 {
		t.Error("Touching tail should change nothing", order)
	}

	// Touching the middle
	q.touch(qc)
	order = addrs(q, true)
	if order[0] != qb || order[1] != qa || order[2] != qc {
		t.Error("Touch of middle node wrong", order)
	}
}

func TestQueueShear(t *testing.T) {
	q := newEvictionQueue()
	q.touch(qa)
	q.touch(qb)
	q.touch(qc)

	got, shortfall := q.shear(2)
	if shortfall != 0 {
		t.Error("No shortfall expected", shortfall)
	}
	if len(got) != 2 || got[0] != qa || got[1] != qb {
		t.Error("Shear should remove from the head in order", got)
	}
	if q.len() != 1 || q.contains(qa) || q.contains(qb) || !q.contains(qc) {
		t.Error("Sheared nodes should be gone from the map")
	}

	// Over-shearing returns everything and reports the shortfall
	got, shortfall = q.shear(5)
	if len(got) != 1 || got[0] != qc || shortfall != 4 {
		t.Error("Over-shear wrong", got, shortfall)
	}
	if q.len() != 0 {
		t.Error("Queue should be empty")
	}
}

func TestQueueRemove(t *testing.T) {
	q := newEvictionQueue()
	q.touch(qa)
	q.touch(qb)
	q.touch(qc)

	if !q.remove(qb) {
		t.Error("Removing a known address should succeed")
	}
	if q.remove(qb) {
		t.Error("Removing it twice should fail")
	}
	order := addrs(q, true)
	if len(order) != 2 || order[0] != qa || order[1] != qc {
		t.Error("Remove broke the links", order)
	}

	// Remove head and tail
	q.remove(qa)
	q.remove(qc)
	if q.len() != 0 {
		t.Error("Queue should be empty", q.len())
	}
	q.touch(qa) // And still usable
	if q.len() != 1 {
		t.Error("Queue unusable after emptying")
	}
}

func TestQueueSlice(t *testing.T) {
	q := newEvictionQueue()
	q.touch(qa)
	q.touch(qb)
	q.touch(qc)

	head := q.slice(true, 2)
	if len(head) != 2 || head[0] != qa || head[1] != qb {
		t.Error("Head slice wrong", head)
	}
	tail := q.slice(false, 2)
	if len(tail) != 2 || tail[0] != qc || tail[1] != qb {
		t.Error("Tail slice wrong", tail)
	}
	all := q.slice(true, 99)
	if len(all) != 3 {
		t.Error("Oversized slice should cap at queue length", all)
	}
}
