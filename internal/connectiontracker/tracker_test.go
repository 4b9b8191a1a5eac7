package connectiontracker

import (
	"strings"
	"testing"
	"time"
)

func TestStateTransitions(t *testing.T) {
	trk := New("test")
	now := time.Now()

	if !trk.StateChange("c1", now, StateNew) {
		t.Error("StateNew on fresh key should return true")
	}
	if trk.Current() != 1 {
		t.Error("Expected one connection, got", trk.Current())
	}
	if !trk.StateChange("c1", now.Add(time.Second), StateActive) {
		t.Error("StateActive on known key should return true")
	}
	if !trk.StateChange("c1", now.Add(2*time.Second), StateIdle) {
		t.Error("StateIdle on known key should return true")
	}
	if !trk.StateChange("c1", now.Add(3*time.Second), StateClosed) {
		t.Error("StateClosed on known key should return true")
	}
	if trk.Current() != 0 {
		t.Error("Connection should be gone after close", trk.Current())
	}

	// Unknown keys record errors rather than failing hard
	if trk.StateChange("nosuch", now, StateActive) {
		t.Error("StateActive on unknown key should return false")
	}
}

func TestCommands(t *testing.T) {
	trk := New("test")
	now := time.Now()
	trk.StateChange("c1", now, StateNew)

	if !trk.CommandAdd("c1") {
		t.Error("CommandAdd on known connection should succeed")
	}
	if trk.CommandAdd("nosuch") {
		t.Error("CommandAdd on unknown connection should fail")
	}
	if !trk.CommandDone("c1") {
		t.Error("CommandDone should succeed")
	}
	if trk.CommandDone("c1") { // Negative concurrency
		t.Error("CommandDone without Add should fail")
	}

	// Closing with commands outstanding is recorded as a lost connection
	trk.CommandAdd("c1")
	if trk.StateChange("c1", now, StateClosed) {
		t.Error("Close with outstanding commands should return false")
	}

	r := trk.Report(false)
	if !strings.Contains(r, "errs=") {
		t.Error("Report looks malformed", r)
	}
}

func TestDanglingConnection(t *testing.T) {
	trk := New("test")
	now := time.Now()
	trk.StateChange("c1", now, StateNew)
	if trk.StateChange("c1", now, StateNew) { // Same key again without close
		t.Error("Duplicate StateNew should return false")
	}
	if trk.Current() != 1 {
		t.Error("Dangling connection should have been replaced, not added")
	}
}
