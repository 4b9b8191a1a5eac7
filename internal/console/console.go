/*
Package console is the line-oriented diagnostic TCP server. Each inbound line is one command; each
response line is prefixed with a three-digit code and a space: 200 for a single-line success, 210
for the data lines of a multi-line response, 212 for its terminator, 400 for a bad command and 500
for a lookup miss or internal error. Internal errors are mapped to their code - stack-level detail
never reaches the client.

Commands are served synchronously against the live engine under its locks, deliberately trading
throughput for snapshot consistency. The listener is capped with a connection limit so a stuck
operator session cannot accumulate unbounded goroutines.
*/
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/markdingo/rearview/internal/association"
	"github.com/markdingo/rearview/internal/concurrencytracker"
	"github.com/markdingo/rearview/internal/connectiontracker"
	"github.com/markdingo/rearview/internal/constants"
	"github.com/markdingo/rearview/internal/dnsutil"
	"github.com/markdingo/rearview/internal/refresh"
	"github.com/markdingo/rearview/internal/zoneview"
)

const (
	me             = "console"
	maxConnections = 4 // Concurrent operator sessions - more means someone left a screen behind
)

// Depths is the payload of the 'queues' verb: every bounded structure in the engine and where it
// presently sits.
type Depths struct {
	Associations int
	Resolutions  int
	CacheSize    int
	Queue        int
	BatchPending int
}

// Introspector is the read-only window onto the engine that the console exposes to operators. The
// agent's engine glue satisfies this.
type Introspector interface {
	CrossCheck() []zoneview.Discrepancy
	AddressDetails(address netip.Addr) (association.AssociationView, bool)
	ZoneEntry(address netip.Addr) (zoneview.Entry, bool)
	QueueDepths() Depths
	QueueSlice(end string, n int) ([]netip.Addr, error)
	RecentEvictions(n int) []association.EvictionEvent
	RecentRefreshes(n int) []refresh.Batch
}

// Config defines the console server parameters.
type Config struct {
	ListenAddress string
	Introspector  Introspector

	LogCommands bool      // Compact print of each command served
	Stdout      io.Writer // Destination for LogCommands output
}

// serverStats is split out so resetCounters() is a trivial struct copy.
type serverStats struct {
	commands    int
	badCommands int
	misses      int
}

// Server is the console listener.
type Server struct {
	config   Config
	consts   constants.Constants
	listener net.Listener
	ccTrk    concurrencytracker.Counter
	connTrk  *connectiontracker.Tracker

	mu sync.RWMutex // Protects everything below here
	serverStats
}

// New constructs a console server.
func New(config Config) (*Server, error) {
	if config.Introspector == nil {
		return nil, errors.New(me + ": an Introspector is mandatory")
	}
	if len(config.ListenAddress) == 0 {
		return nil, errors.New(me + ": a listen address is mandatory")
	}

	t := &Server{config: config, consts: constants.Get()}
	t.connTrk = connectiontracker.New(config.ListenAddress)

	return t, nil
}

// Start opens the listen socket and runs the accept loop in a new go-routine. The listener is
// wrapped in a connection limiter so operator sessions are bounded.
func (t *Server) Start(errorChan chan<- error, wg *sync.WaitGroup) error {
	listener, err := net.Listen("tcp", t.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("%s: %s", me, err.Error())
	}
	t.listener = netutil.LimitListener(listener, maxConnections)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := t.listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) { // Stop() was called
					return
				}
				errorChan <- fmt.Errorf("%s: accept: %s", me, err.Error())
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				t.serve(conn)
			}()
		}
	}()

	return nil
}

// Stop closes the listen socket. In-flight sessions run to completion of their current command.
func (t *Server) Stop() {
	if t.listener != nil {
		t.listener.Close()
	}
}

// Tracker returns the connection tracker for periodic reporting alongside the server itself.
func (t *Server) Tracker() *connectiontracker.Tracker {
	return t.connTrk
}

// serve runs one operator session to completion.
func (t *Server) serve(conn net.Conn) {
	defer conn.Close()
	key := conn.RemoteAddr().String()
	t.connTrk.StateChange(key, time.Now(), connectiontracker.StateNew)
	defer t.connTrk.StateChange(key, time.Now(), connectiontracker.StateClosed)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, t.consts.ConsoleLineLimit), t.consts.ConsoleLineLimit)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 {
			continue
		}
		if line == "quit" {
			fmt.Fprintf(conn, "%s goodbye\n", t.consts.ConsoleOk)
			return
		}

		t.connTrk.StateChange(key, time.Now(), connectiontracker.StateActive)
		t.connTrk.CommandAdd(key)
		t.ccTrk.Add()
		t.command(conn, line)
		t.ccTrk.Done()
		t.connTrk.CommandDone(key)
		t.connTrk.StateChange(key, time.Now(), connectiontracker.StateIdle)

		if t.config.LogCommands && t.config.Stdout != nil {
			fmt.Fprintln(t.config.Stdout, "DC:"+key, line)
		}
	}
}

// command dispatches one line. Every path writes at least one coded response line.
func (t *Server) command(w io.Writer, line string) {
	t.mu.Lock()
	t.commands++
	t.mu.Unlock()

	fields := strings.Fields(line)
	verb := fields[0]
	args := fields[1:]

	switch verb {
	case "a2z":
		t.a2z(w, args)
	case "addr":
		t.addressDetails(w, args)
	case "zone":
		t.zoneEntry(w, args)
	case "queues":
		t.queueDepths(w, args)
	case "qslice":
		t.queueSlice(w, args)
	case "evictions":
		t.recentEvictions(w, args)
	case "refreshes":
		t.recentRefreshes(w, args)
	default:
		t.bad(w, "unknown command '"+verb+"' (a2z addr zone queues qslice evictions refreshes quit)")
	}
}

func (t *Server) bad(w io.Writer, text string) {
	t.mu.Lock()
	t.badCommands++
	t.mu.Unlock()
	fmt.Fprintf(w, "%s %s\n", t.consts.ConsoleBad, text)
}

func (t *Server) miss(w io.Writer, text string) {
	t.mu.Lock()
	t.misses++
	t.mu.Unlock()
	fmt.Fprintf(w, "%s %s\n", t.consts.ConsoleNotFound, text)
}

// parseAddrArg extracts the single address argument common to addr/zone.
func (t *Server) parseAddrArg(w io.Writer, args []string) (netip.Addr, bool) {
	if len(args) != 1 {
		t.bad(w, "expected exactly one address argument")
		return netip.Addr{}, false
	}
	address, err := dnsutil.ParseAddr(args[0])
	if err != nil {
		t.bad(w, "bad address '"+args[0]+"'")
		return netip.Addr{}, false
	}

	return address, true
}

// parseCountArg extracts the optional trailing count argument, defaulting to def.
func (t *Server) parseCountArg(w io.Writer, args []string, def int) (int, bool) {
	if len(args) == 0 {
		return def, true
	}
	if len(args) > 1 {
		t.bad(w, "expected at most one count argument")
		return 0, false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		t.bad(w, "bad count '"+args[0]+"'")
		return 0, false
	}

	return n, true
}

func (t *Server) a2z(w io.Writer, args []string) {
	if len(args) != 0 {
		t.bad(w, "a2z takes no arguments")
		return
	}
	diffs := t.config.Introspector.CrossCheck()
	for _, d := range diffs {
		zone, store := d.Zone, d.Store
		if len(zone) == 0 {
			zone = "-"
		}
		if len(store) == 0 {
			store = "-"
		}
		fmt.Fprintf(w, "%s %s zone=%s store=%s\n", t.consts.ConsoleData, d.Address, zone, store)
	}
	fmt.Fprintf(w, "%s %d discrepancies\n", t.consts.ConsoleEnd, len(diffs))
}

func (t *Server) addressDetails(w io.Writer, args []string) {
	address, ok := t.parseAddrArg(w, args)
	if !ok {
		return
	}
	view, ok := t.config.Introspector.AddressDetails(address)
	if !ok {
		t.miss(w, "not found "+address.String())
		return
	}
	for _, res := range view.Resolutions {
		marker := ""
		if res.Reloaded {
			marker = " reloaded"
		}
		best := ""
		if res.Terminal() == view.Best {
			best = " best"
		}
		fmt.Fprintf(w, "%s %s qc=%d first=%d last=%d trend=%0.1f score=%0.3f depth=%d%s%s\n",
			t.consts.ConsoleData, res.Terminal(), res.QueryCount,
			res.FirstSeen.Unix(), res.LastSeen.Unix(), res.Trend, res.Score,
			len(res.Chain), marker, best)
	}
	fmt.Fprintf(w, "%s %s %d resolutions\n", t.consts.ConsoleEnd, address, len(view.Resolutions))
}

func (t *Server) zoneEntry(w io.Writer, args []string) {
	address, ok := t.parseAddrArg(w, args)
	if !ok {
		return
	}
	entry, ok := t.config.Introspector.ZoneEntry(address)
	if !ok {
		t.miss(w, "not found "+address.String())
		return
	}
	meta := ""
	if entry.HasMeta {
		meta = " " + dnsutil.EncodeMetadata(entry.Metadata)
	}
	fmt.Fprintf(w, "%s %s PTR %s%s\n", t.consts.ConsoleOk, entry.Owner, entry.Terminal, meta)
}

func (t *Server) queueDepths(w io.Writer, args []string) {
	if len(args) != 0 {
		t.bad(w, "queues takes no arguments")
		return
	}
	d := t.config.Introspector.QueueDepths()
	fmt.Fprintf(w, "%s assoc=%d res=%d/%d queue=%d pending=%d consoles=%d\n",
		t.consts.ConsoleOk, d.Associations, d.Resolutions, d.CacheSize,
		d.Queue, d.BatchPending, t.ccTrk.Current())
}

func (t *Server) queueSlice(w io.Writer, args []string) {
	if len(args) < 1 || (args[0] != "head" && args[0] != "tail") {
		t.bad(w, "expected: qslice head|tail [n]")
		return
	}
	n, ok := t.parseCountArg(w, args[1:], 10)
	if !ok {
		return
	}
	addresses, err := t.config.Introspector.QueueSlice(args[0], n)
	if err != nil {
		t.bad(w, err.Error())
		return
	}
	for ix, address := range addresses {
		fmt.Fprintf(w, "%s %d %s\n", t.consts.ConsoleData, ix, address)
	}
	fmt.Fprintf(w, "%s %s %d addresses\n", t.consts.ConsoleEnd, args[0], len(addresses))
}

func (t *Server) recentEvictions(w io.Writer, args []string) {
	n, ok := t.parseCountArg(w, args, 5)
	if !ok {
		return
	}
	evs := t.config.Introspector.RecentEvictions(n)
	for _, ev := range evs {
		fmt.Fprintf(w, "%s %d overage=%d pool=%d/%d sel=%d rec=%d del=%d aff=%d removed=%d\n",
			t.consts.ConsoleData, ev.When.Unix(), ev.Overage, ev.ActualPool, ev.TargetPool,
			ev.Selected, ev.Recycled, ev.Deleted, ev.Affected, len(ev.Removed))
		for _, rm := range ev.Removed {
			fmt.Fprintf(w, "%s   %s %s score=%0.3f\n",
				t.consts.ConsoleData, rm.Address, rm.Terminal, rm.Score)
		}
	}
	fmt.Fprintf(w, "%s %d evictions\n", t.consts.ConsoleEnd, len(evs))
}

func (t *Server) recentRefreshes(w io.Writer, args []string) {
	n, ok := t.parseCountArg(w, args, 5)
	if !ok {
		return
	}
	batches := t.config.Introspector.RecentRefreshes(n)
	for _, b := range batches {
		errText := ""
		if len(b.TransportError) > 0 {
			errText = " terr"
		}
		fmt.Fprintf(w, "%s %d %s adds=%d addrs=%d acc=%0.1fs proc=%0.3fs req=%d resp=%d rcode=%d%s\n",
			t.consts.ConsoleData, b.Created.Unix(), b.State, b.AddCalls, len(b.Addresses),
			b.ElapsedAccumulating.Seconds(), b.ElapsedProcessing.Seconds(),
			b.WireRequestBytes, b.WireResponseBytes, b.Rcode, errText)
	}
	fmt.Fprintf(w, "%s %d refreshes\n", t.consts.ConsoleEnd, len(batches))
}

// Name implements the reporter interface
func (t *Server) Name() string {
	return "Console"
}

// Report implements the reporter interface.
func (t *Server) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := fmt.Sprintf("cmds=%d bad=%d miss=%d Concurrency=%d (%s)",
		t.commands, t.badCommands, t.misses, t.ccTrk.Peak(resetCounters),
		t.config.ListenAddress)

	if resetCounters {
		t.serverStats = serverStats{}
	}

	return s
}
