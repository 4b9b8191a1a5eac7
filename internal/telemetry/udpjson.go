package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/markdingo/rearview/internal/dnsutil"
)

const me = "telemetry"

type tfxIndex int

const ( // tfx = Telemetry Failure indeX into failure counter array
	tfxReadError tfxIndex = iota
	tfxBadJSON
	tfxBadAddress
	tfxBadChain
	tfxSinkRejected
	tfxArraySize
)

// listenerStats is split out so resetCounters() is a trivial struct copy.
type listenerStats struct {
	packets         int
	observations    int
	failureCounters [tfxArraySize]int
}

// UDPJSONConfig defines the JSON/UDP listener parameters.
type UDPJSONConfig struct {
	ListenAddress string
	Sink          Sink

	LogIn  bool      // Compact print of each accepted observation
	Stdout io.Writer // Destination for LogIn output

	NowFunc func() time.Time // Defaults to time.Now, substitutable for tests
}

// UDPJSON listens for JSON telemetry datagrams: {"address": <str>, "chain": [<str>, ...]}. One
// datagram carries one observation. Malformed datagrams are counted and dropped without
// disturbing the sink.
type UDPJSON struct {
	config UDPJSONConfig
	conn   net.PacketConn

	mu sync.RWMutex // Protects everything below here
	listenerStats
}

// NewUDPJSON constructs a listener. The sink is mandatory.
func NewUDPJSON(config UDPJSONConfig) (*UDPJSON, error) {
	if config.Sink == nil {
		return nil, errors.New(me + ": a Sink is mandatory")
	}
	if len(config.ListenAddress) == 0 {
		return nil, errors.New(me + ": a listen address is mandatory")
	}
	if config.NowFunc == nil {
		config.NowFunc = time.Now
	}

	return &UDPJSON{config: config}, nil
}

// Start opens the socket and runs the read loop in a new go-routine. A socket-open failure is
// returned directly; read-loop failures after a successful start arrive on errorChan.
func (t *UDPJSON) Start(errorChan chan<- error, wg *sync.WaitGroup) error {
	conn, err := net.ListenPacket("udp", t.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("%s: %s", me, err.Error())
	}
	t.conn = conn

	wg.Add(1)
	go func() {
		defer wg.Done()
		t.readLoop(errorChan)
	}()

	return nil
}

// Stop closes the socket which unblocks the read loop.
func (t *UDPJSON) Stop() {
	if t.conn != nil {
		t.conn.Close()
	}
}

func (t *UDPJSON) readLoop(errorChan chan<- error) {
	buf := make([]byte, 65536) // Max UDP payload; chains are tiny but don't truncate odd ones
	for {
		n, _, err := t.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) { // Stop() was called
				return
			}
			t.bumpFailure(tfxReadError)
			errorChan <- fmt.Errorf("%s: read: %s", me, err.Error())
			return
		}
		t.ingest(buf[:n])
	}
}

// ingest decodes and validates one datagram and delivers it to the sink. Each failure mode has
// its own counter so a misbehaving producer is diagnosable from the status report alone.
func (t *UDPJSON) ingest(data []byte) {
	t.mu.Lock()
	t.packets++
	t.mu.Unlock()

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.bumpFailure(tfxBadJSON)
		return
	}

	address, err := dnsutil.ParseAddr(ev.Address)
	if err != nil {
		t.bumpFailure(tfxBadAddress)
		return
	}
	chain, err := dnsutil.ValidateChain(ev.Chain)
	if err != nil {
		t.bumpFailure(tfxBadChain)
		return
	}

	if err := t.config.Sink.Observe(address, chain, t.config.NowFunc()); err != nil {
		t.bumpFailure(tfxSinkRejected)
		return
	}

	t.mu.Lock()
	t.observations++
	t.mu.Unlock()

	if t.config.LogIn && t.config.Stdout != nil {
		fmt.Fprintln(t.config.Stdout, "TI:"+address.String(), chain[0], len(chain))
	}
}

func (t *UDPJSON) bumpFailure(ix tfxIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failureCounters[ix]++
}

// Name implements the reporter interface
func (t *UDPJSON) Name() string {
	return "Telemetry"
}

// Report implements the reporter interface.
//
// Failure counters are read/json/addr/chain/sink.
func (t *UDPJSON) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	errs := 0
	for _, v := range t.failureCounters {
		errs += v
	}
	s := fmt.Sprintf("pkts=%d obs=%d errs=%d (%d/%d/%d/%d/%d) (%s)",
		t.packets, t.observations, errs,
		t.failureCounters[tfxReadError], t.failureCounters[tfxBadJSON],
		t.failureCounters[tfxBadAddress], t.failureCounters[tfxBadChain],
		t.failureCounters[tfxSinkRejected],
		t.config.ListenAddress)

	if resetCounters {
		t.listenerStats = listenerStats{}
	}

	return s
}
