/*
Package connectiontracker tracks connections for statistical purposes - ostensibly for inbound
diagnostic console connections - but it is a generic package that should apply to other
connections. The goal is to determine occupancy and concurrency on a per-listen-address basis and
within a given connection for those connections which carry discrete commands.

connectiontracker presents a reporter interface so its output can be periodically logged.

Typical usage is to create a connectiontracker for a given listen address then drive it from the
accept/serve loop, i.e:

	ct := connectiontracker.New("Name")
	conn := listener.Accept()
	ct.StateChange(conn.RemoteAddr().String(), time.Now(), connectiontracker.StateNew)
	... per command:
	ct.CommandAdd(conn.RemoteAddr().String())
	defer ct.CommandDone(conn.RemoteAddr().String())
	... at close:
	ct.StateChange(conn.RemoteAddr().String(), time.Now(), connectiontracker.StateClosed)

The connection key can be any string you like so long as it is consistent and accurately reflects a
unique connection endpoint. Normally it's a remote address/port and by virtue of the fact that a
connectiontracker is associated with a server having a unique listen address the remote
address/port/listen-address tuple makes the key appropriately unique.
*/
package connectiontracker

import (
	"sync"
	"time"
)

// State is this package's view of a connection's lifecycle. It exists so callers that are not
// net/http servers can drive the tracker from a plain TCP accept loop.
type State int

const (
	StateNew    State = iota // Connection just accepted
	StateActive              // A command is being processed
	StateIdle                // Between commands
	StateClosed              // Gone
)

type connectionStats struct {
	connStart       time.Time     // When connection was first established
	activeStart     time.Time     // Last transition to active
	activeFor       time.Duration // Sum of active periods
	currentCommands int
	peakCommands    int
}

type connection struct {
	connectionStats
}

type errIx int

const (
	errNoConnInMap         errIx = iota // Connection not present for state change
	errNoConnForCommand                 // No Connection found for command
	errDanglingConn                     // New when already active
	errNegativeConcurrency              // More Done than Add calls
	errConnsLost                        // Closed with commands still outstanding
	errUnknownState                     // State value from the future
	errArSize
)

type trackerStats struct {
	peakConns    int
	peakCommands int
	connFor      time.Duration // Total connections existence time (can easily be GT elapse)
	activeFor    time.Duration // Total connections active time
	errors       [errArSize]int
}

type Tracker struct {
	name string
	mu   sync.Mutex

	connMap map[string]*connection // Indexed by address of connection
	trackerStats
}

// New constructs a tracker object - in particular the map used to track each connection key
func New(name string) *Tracker {
	t := &Tracker{name: name}
	t.connMap = make(map[string]*connection)

	return t
}

// StateChange is called when a connection transitions to a new state. StateChange checks that the
// new state makes sense for the connection and if it does, the connection is updated and true is
// returned. If the new state doesn't make sense, the transition and internal state are reconciled
// and false is returned. Reconciliation favours the current state over the previous to avoid
// dangling connections.
//
// This is a statistics gathering function, not a logic validation monster; it merely checks those
// transitions which need to be correct for it to perform its function.
func (t *Tracker) StateChange(key string, now time.Time, state State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.connMap[key]
	if state == StateNew { // All other states must have a pre-existing connection
		cs := &connection{} // Always create anew and possibly over-write any dangling
		cs.connStart = now  // connection.
		t.connMap[key] = cs
		if ok { // Dangling connection? Report it
			t.errors[errDanglingConn]++
		}
		cc := len(t.connMap)
		if cc > t.peakConns {
			t.peakConns = cc
		}
		return !ok
	}

	if !ok { // If it's not a pre-existing connection then record the error and exit
		t.errors[errNoConnInMap]++
		return false
	}

	switch state {
	case StateActive:
		cs.activeStart = now
		return true

	case StateIdle:
		if !cs.activeStart.IsZero() {
			cs.activeFor += now.Sub(cs.activeStart)
			cs.activeStart = time.Time{}
		}
		return true

	case StateClosed:
		t.connFor += now.Sub(cs.connStart)
		if !cs.activeStart.IsZero() { // Capture last active period
			cs.activeFor += now.Sub(cs.activeStart)
		}
		t.activeFor += cs.activeFor

		delete(t.connMap, key)
		if cs.currentCommands > 0 {
			t.errors[errConnsLost]++
			return false
		}
		if cs.peakCommands > t.peakCommands {
			t.peakCommands = cs.peakCommands
		}
		return true
	}

	t.errors[errUnknownState]++
	return false
}

// CommandAdd increments the in-flight command counter within a connection. Return false if the
// connection key is not known.
func (t *Tracker) CommandAdd(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.connMap[key]
	if !ok {
		t.errors[errNoConnForCommand]++
		return false
	}

	cs.currentCommands++
	if cs.currentCommands > cs.peakCommands {
		cs.peakCommands = cs.currentCommands
	}

	return true
}

// CommandDone undoes CommandAdd.
func (t *Tracker) CommandDone(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.connMap[key]
	if !ok {
		t.errors[errNoConnForCommand]++
		return false
	}

	if cs.currentCommands <= 0 {
		t.errors[errNegativeConcurrency]++
		return false
	}
	cs.currentCommands--

	return true
}

// Current returns the number of connections presently in the map.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.connMap)
}
