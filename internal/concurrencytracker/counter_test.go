package concurrencytracker

import (
	"testing"
)

func TestCounter(t *testing.T) {
	var c Counter

	if !c.Add() { // 1 - new peak
		t.Error("First Add() should report a new peak")
	}
	if !c.Add() { // 2 - new peak
		t.Error("Second Add() should report a new peak")
	}
	if c.Current() != 2 {
		t.Error("Current should be 2, not", c.Current())
	}
	c.Done() // 1
	if c.Add() { // 2 again - not a new peak
		t.Error("Add() back to previous peak should not report an increase")
	}
	if c.Peak(false) != 2 {
		t.Error("Peak should be 2, not", c.Peak(false))
	}

	c.Done()
	c.Done()
	if c.Peak(true) != 2 { // Returns old peak, then resets to current (0)
		t.Error("Peak(true) should return 2")
	}
	if c.Peak(false) != 0 {
		t.Error("Peak should have reset to current of zero, not", c.Peak(false))
	}
}

func TestCounterPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Done() without Add() should panic")
		}
	}()

	var c Counter
	c.Done()
}
