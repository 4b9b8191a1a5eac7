package telemetry

import (
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/markdingo/rearview/internal/association"
)

// recordingSink captures observations.
type recordingSink struct {
	mu     sync.Mutex
	addrs  []netip.Addr
	chains [][]string
	err    error
}

func (t *recordingSink) Observe(address netip.Addr, chain []string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.addrs = append(t.addrs, address)
	t.chains = append(t.chains, chain)

	return nil
}

func (t *recordingSink) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.addrs)
}

func TestNewUDPJSONValidation(t *testing.T) {
	if _, err := NewUDPJSON(UDPJSONConfig{ListenAddress: "127.0.0.1:0"}); err == nil {
		t.Error("Listener without a sink should be rejected")
	}
	if _, err := NewUDPJSON(UDPJSONConfig{Sink: &recordingSink{}}); err == nil {
		t.Error("Listener without an address should be rejected")
	}
}

// Drive the ingest path directly - no socket needed for protocol-level tests.
func TestIngest(t *testing.T) {
	sink := &recordingSink{}
	now := time.Unix(1722600000, 0)
	l, err := NewUDPJSON(UDPJSONConfig{
		ListenAddress: "127.0.0.1:0",
		Sink:          sink,
		NowFunc:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}

	l.ingest([]byte(`{"address": "10.2.66.5", "chain": ["www.a.example.", "a.example."]}`))
	if sink.count() != 1 {
		t.Fatal("Valid datagram should reach the sink")
	}
	if sink.addrs[0] != netip.MustParseAddr("10.2.66.5") {
		t.Error("Address mangled", sink.addrs[0])
	}
	if len(sink.chains[0]) != 2 || sink.chains[0][0] != "www.a.example." {
		t.Error("Chain mangled", sink.chains[0])
	}

	// Names are qualified on the way through
	l.ingest([]byte(`{"address": "2001:0db8::1", "chain": ["b.example"]}`))
	if sink.count() != 2 || sink.chains[1][0] != "b.example." {
		t.Error("Chain names should be fully qualified", sink.chains)
	}

	// The various rejects: bad json, bad address, zoned address, empty chain, empty label
	for _, datagram := range []string{
		`{nope`,
		`{"address": "999.1.1.1", "chain": ["a.example."]}`,
		`{"address": "fe80::1%eth0", "chain": ["a.example."]}`,
		`{"address": "10.0.0.1", "chain": []}`,
		`{"address": "10.0.0.1", "chain": ["a..example."]}`,
	} {
		l.ingest([]byte(datagram))
	}
	if sink.count() != 2 {
		t.Error("Malformed datagrams must not reach the sink", sink.count())
	}

	r := l.Report(false)
	if !strings.Contains(r, "pkts=7 obs=2") {
		t.Error("Report counters wrong:", r)
	}
}

// The listener satisfies the Source interface end to end over a real socket.
func TestStartStop(t *testing.T) {
	sink := &recordingSink{}
	l, err := NewUDPJSON(UDPJSONConfig{ListenAddress: "127.0.0.1:0", Sink: sink})
	if err != nil {
		t.Fatal(err)
	}

	errorChan := make(chan error, 1)
	wg := &sync.WaitGroup{}
	if err := l.Start(errorChan, wg); err != nil {
		t.Fatal("Start failed", err)
	}

	conn, err := net.Dial("udp", l.conn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.Write([]byte(`{"address": "10.0.0.1", "chain": ["x.example."]}`))

	for i := 0; i < 100 && sink.count() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	if sink.count() != 1 {
		t.Error("Datagram did not arrive via the socket")
	}

	l.Stop()
	wg.Wait() // Read loop must exit cleanly on Stop
	select {
	case err := <-errorChan:
		t.Error("Stop should not produce an error", err)
	default:
	}
}

// The association store is a Sink without adaptation.
var _ Sink = (*association.Store)(nil)
