package console

import (
	"bufio"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/markdingo/rearview/internal/association"
	"github.com/markdingo/rearview/internal/refresh"
	"github.com/markdingo/rearview/internal/zoneview"
)

// mockIntrospector serves canned engine state.
type mockIntrospector struct {
	known netip.Addr
}

func (t *mockIntrospector) CrossCheck() []zoneview.Discrepancy {
	return []zoneview.Discrepancy{
		{Address: netip.MustParseAddr("10.0.0.2"), Zone: "old.example.", Store: "new.example."},
		{Address: netip.MustParseAddr("10.0.0.3"), Store: "fresh.example."},
	}
}

func (t *mockIntrospector) AddressDetails(address netip.Addr) (association.AssociationView, bool) {
	if address != t.known {
		return association.AssociationView{}, false
	}

	return association.AssociationView{
		Address: address,
		Best:    "www.a.example.",
		Resolutions: []association.ResolutionView{
			{Chain: []string{"www.a.example.", "a.example."}, QueryCount: 7,
				FirstSeen: time.Unix(1000, 0), LastSeen: time.Unix(2000, 0), Score: 1.5},
		},
	}, true
}

func (t *mockIntrospector) ZoneEntry(address netip.Addr) (zoneview.Entry, bool) {
	if address != t.known {
		return zoneview.Entry{}, false
	}

	return zoneview.Entry{
		Address:  address,
		Owner:    "5.66.2.10.in-addr.arpa.",
		Terminal: "www.a.example.",
	}, true
}

func (t *mockIntrospector) QueueDepths() Depths {
	return Depths{Associations: 3, Resolutions: 5, CacheSize: 700, Queue: 3, BatchPending: 2}
}

func (t *mockIntrospector) QueueSlice(end string, n int) ([]netip.Addr, error) {
	return []netip.Addr{netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2")}, nil
}

func (t *mockIntrospector) RecentEvictions(n int) []association.EvictionEvent {
	return []association.EvictionEvent{
		{When: time.Unix(3000, 0), Overage: 1, TargetPool: 2, ActualPool: 2, Selected: 1, Deleted: 1,
			Removed: []association.RemovedResolution{
				{Address: netip.MustParseAddr("10.0.0.1"), Terminal: "a.example.", Score: 0.5}}},
	}
}

func (t *mockIntrospector) RecentRefreshes(n int) []refresh.Batch {
	return []refresh.Batch{
		{Created: time.Unix(4000, 0), State: refresh.StateComplete, AddCalls: 3,
			Addresses: []netip.Addr{netip.MustParseAddr("10.0.0.1")}, Rcode: 0},
	}
}

// session starts a server, runs the supplied commands over a real socket and returns all response
// lines.
func session(t *testing.T, commands []string) []string {
	t.Helper()
	known := netip.MustParseAddr("10.2.66.5")
	srv, err := New(Config{ListenAddress: "127.0.0.1:0", Introspector: &mockIntrospector{known: known}})
	if err != nil {
		t.Fatal(err)
	}
	errorChan := make(chan error, 1)
	wg := &sync.WaitGroup{}
	if err := srv.Start(errorChan, wg); err != nil {
		t.Fatal("Start failed", err)
	}
	defer func() {
		srv.Stop()
		wg.Wait()
	}()

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for _, c := range commands {
		conn.Write([]byte(c + "\n"))
	}
	conn.Write([]byte("quit\n"))

	var lines []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	return lines
}

func TestConsoleA2z(t *testing.T) {
	lines := session(t, []string{"a2z"})
	if len(lines) != 4 { // 2 data + terminator + quit
		t.Fatal("Unexpected line count", lines)
	}
	if !strings.HasPrefix(lines[0], "210 10.0.0.2 zone=old.example. store=new.example.") {
		t.Error("First discrepancy wrong:", lines[0])
	}
	if !strings.HasPrefix(lines[1], "210 10.0.0.3 zone=- store=fresh.example.") {
		t.Error("Second discrepancy wrong:", lines[1])
	}
	if lines[2] != "212 2 discrepancies" {
		t.Error("Terminator wrong:", lines[2])
	}
}

func TestConsoleAddr(t *testing.T) {
	lines := session(t, []string{"addr 10.2.66.5", "addr 10.9.9.9", "addr junk", "addr"})
	if len(lines) != 6 {
		t.Fatal("Unexpected line count", lines)
	}
	if !strings.HasPrefix(lines[0], "210 www.a.example. qc=7") || !strings.Contains(lines[0], " best") {
		t.Error("Resolution detail wrong:", lines[0])
	}
	if !strings.HasPrefix(lines[1], "212 10.2.66.5 1 resolutions") {
		t.Error("Terminator wrong:", lines[1])
	}
	if !strings.HasPrefix(lines[2], "500 not found 10.9.9.9") {
		t.Error("Unknown address should be a 500 miss:", lines[2])
	}
	if !strings.HasPrefix(lines[3], "400 ") || !strings.HasPrefix(lines[4], "400 ") {
		t.Error("Bad arguments should be 400s:", lines[3], lines[4])
	}
}

func TestConsoleZone(t *testing.T) {
	lines := session(t, []string{"zone 10.2.66.5", "zone 10.9.9.9"})
	if !strings.HasPrefix(lines[0], "200 5.66.2.10.in-addr.arpa. PTR www.a.example.") {
		t.Error("Zone entry wrong:", lines[0])
	}
	if !strings.HasPrefix(lines[1], "500 not found") {
		t.Error("Unknown zone entry should be a 500 miss:", lines[1])
	}
}

func TestConsoleQueues(t *testing.T) {
	lines := session(t, []string{"queues"})
	if !strings.HasPrefix(lines[0], "200 assoc=3 res=5/700 queue=3 pending=2") {
		t.Error("Queue depths wrong:", lines[0])
	}
}

func TestConsoleQslice(t *testing.T) {
	lines := session(t, []string{"qslice head 2", "qslice middle 2", "qslice head junk"})
	if !strings.HasPrefix(lines[0], "210 0 10.0.0.1") || !strings.HasPrefix(lines[1], "210 1 10.0.0.2") {
		t.Error("Slice data wrong:", lines[0], lines[1])
	}
	if lines[2] != "212 head 2 addresses" {
		t.Error("Terminator wrong:", lines[2])
	}
	if !strings.HasPrefix(lines[3], "400 ") || !strings.HasPrefix(lines[4], "400 ") {
		t.Error("Bad qslice arguments should be 400s:", lines[3], lines[4])
	}
}

func TestConsoleLogs(t *testing.T) {
	lines := session(t, []string{"evictions 1", "refreshes 1"})
	if !strings.HasPrefix(lines[0], "210 3000 overage=1 pool=2/2 sel=1 rec=0 del=1") {
		t.Error("Eviction line wrong:", lines[0])
	}
	if !strings.HasPrefix(lines[1], "210   10.0.0.1 a.example. score=0.500") {
		t.Error("Removed resolution line wrong:", lines[1])
	}
	if lines[2] != "212 1 evictions" {
		t.Error("Eviction terminator wrong:", lines[2])
	}
	if !strings.HasPrefix(lines[3], "210 4000 complete adds=3 addrs=1") {
		t.Error("Refresh line wrong:", lines[3])
	}
	if lines[4] != "212 1 refreshes" {
		t.Error("Refresh terminator wrong:", lines[4])
	}
}

func TestConsoleUnknownVerb(t *testing.T) {
	lines := session(t, []string{"frob"})
	if !strings.HasPrefix(lines[0], "400 unknown command 'frob'") {
		t.Error("Unknown verb should be a 400:", lines[0])
	}

	srv, _ := New(Config{ListenAddress: "127.0.0.1:0", Introspector: &mockIntrospector{}})
	r := srv.Report(false)
	if !strings.Contains(r, "cmds=") {
		t.Error("Report looks malformed", r)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{ListenAddress: ":0"}); err == nil {
		t.Error("Console without an introspector should be rejected")
	}
	if _, err := New(Config{Introspector: &mockIntrospector{}}); err == nil {
		t.Error("Console without a listen address should be rejected")
	}
}
