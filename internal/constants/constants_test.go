package constants

import (
	"testing"
)

// Get() hands out copies so a caller scribbling on the returned struct must never affect anyone
// else.
func TestGetReturnsCopy(t *testing.T) {
	c1 := Get()
	c1.AgentProgramName = "scribble"
	c1.PtrTTL = 1

	c2 := Get()
	if c2.AgentProgramName == "scribble" {
		t.Error("Get() did not return a copy - AgentProgramName was modified")
	}
	if c2.PtrTTL == 1 {
		t.Error("Get() did not return a copy - PtrTTL was modified")
	}
}

func TestPlausibleValues(t *testing.T) {
	c := Get()
	if len(c.AgentProgramName) == 0 || len(c.CtlProgramName) == 0 {
		t.Error("Program names should not be empty")
	}
	if c.V4ReverseSuffix[len(c.V4ReverseSuffix)-1] != '.' {
		t.Error("V4ReverseSuffix must be fully qualified", c.V4ReverseSuffix)
	}
	if c.V6ReverseSuffix[len(c.V6ReverseSuffix)-1] != '.' {
		t.Error("V6ReverseSuffix must be fully qualified", c.V6ReverseSuffix)
	}
	if c.ConsoleLineLimit < 64 {
		t.Error("ConsoleLineLimit implausibly small", c.ConsoleLineLimit)
	}
}
