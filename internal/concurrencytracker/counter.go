/*
Package concurrencytracker keeps track of how many concurrent activities are active. The purpose is
to report peak concurrency over a reporting period - the diagnostic console uses it to track
simultaneous client commands.
Typical usage:

	var cct concurrencytracker.Counter

	func ServeSomething() {
	  cct.Add()
	  defer cct.Done()
	  ... do some work
	}

and in some reporting function

	fmt.Println("Peak Concurrency", cct.Peak(true))
*/
package concurrencytracker

import (
	"sync"
)

type Counter struct {
	sync.Mutex
	current int // Count of pending Done() calls
	peak    int // Max 'current' has ever reached
}

// Add increments 'current' and if a new peak has been reached, the peak value is updated. Return
// true if the peak has increased as a result of this call.
func (t *Counter) Add() (increased bool) {
	t.Lock()
	defer t.Unlock()
	t.current++
	if t.current > t.peak {
		t.peak = t.current
		increased = true
	}

	return
}

// Done decrements 'current'. Done() must only be called after an Add() call, otherwise a panic
// ensues.
func (t *Counter) Done() {
	t.Lock()
	defer t.Unlock()
	if t.current == 0 {
		panic("concurrencytracker.Done() lacks matching .Add()") // Someone goofed
	}
	t.current--
}

// Current returns the present count of pending Done() calls. The diagnostic console reports this
// via its 'queues' verb.
func (t *Counter) Current() int {
	t.Lock()
	defer t.Unlock()

	return t.current
}

// Peak returns the highest value 'current' has reached. If resetCounters is true the peak is reset
// to the current concurrency level (not zero, as outstanding activities still exist).
func (t *Counter) Peak(resetCounters bool) int {
	t.Lock()
	defer t.Unlock()
	p := t.peak
	if resetCounters {
		t.peak = t.current
	}

	return p
}
