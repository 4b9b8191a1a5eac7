package main

import (
	"bytes"
	"fmt"
	"strings"
	"syscall"
	"testing"
	"time"
)

type mainTestCase struct {
	description string
	willRunFor  time.Duration // The agent should run for this amount of time before being terminated
	args        []string      // ARGV - not counting command
	stdout      []string      // Expected stdout strings
	stderr      string        // Expected stderr string
}

var mainTestCases = []mainTestCase{
	{"minimal",
		100 * time.Millisecond,
		[]string{"-v", "--zone", "rpz.example.org", "--update-target", "127.0.0.1:53",
			"-t", "127.0.0.1:0", "--console", "127.0.0.1:0"},
		[]string{"Starting", "Telemetry: (UDP on", "Console: (TCP on", "Exiting"}, ""},

	{"zone reload",
		100 * time.Millisecond,
		[]string{"-v", "--zone", "rpz.example.org", "--update-target", "127.0.0.1:53",
			"--zone-file", "testdata/zone.db", "-t", "127.0.0.1:0", "--console", ""},
		[]string{"Starting", "Reloaded: 2 entries", "Exiting"}, ""},

	{"logging",
		100 * time.Millisecond,
		[]string{"-v", "--log-all", "--zone", "rpz.example.org", "--update-target", "127.0.0.1:53",
			"--zone-file", "testdata/zone.db", "-t", "127.0.0.1:0", "--console", ""},
		[]string{"Starting", "ZG:", "Exiting"}, ""},

	{"profiles",
		100 * time.Millisecond,
		[]string{"-v", "--cpu-profile", "testdata/cpu", "--mem-profile", "testdata/mem",
			"--zone", "rpz.example.org", "--update-target", "127.0.0.1:53",
			"-t", "127.0.0.1:0", "--console", ""},
		[]string{"Starting", "Exiting"}, ""},
}

func TestMain(t *testing.T) {
	for tx, tc := range mainTestCases {
		t.Run(fmt.Sprintf("%d %s", tx, tc.description), func(t *testing.T) {
			args := append([]string{"rearview-agent"}, tc.args...)
			out := &bytes.Buffer{}
			err := &bytes.Buffer{}
			mainInit(out, err)
			done := make(chan error)
			go func() {
				done <- waitForMainExecute(t, tc.willRunFor)
			}()
			ec := mainExecute(args)
			e := <-done // Get waitForMainExecute results
			if e != nil {
				t.Fatal(e)
			}
			if ec != 0 {
				t.Error("Zero Exit code expected, not:", ec)
			}

			outStr := out.String()
			errStr := err.String()
			if len(errStr) > 0 && len(tc.stderr) == 0 {
				t.Error("Did not expect a fatal error:", errStr)
			}
			if !strings.Contains(errStr, tc.stderr) {
				t.Error("Stderr expected:", tc.stderr, "Got:", errStr)
			}

			for _, o := range tc.stdout {
				if !strings.Contains(outStr, o) {
					t.Error("Stdout expected:", o, "Got:", outStr)
				}
			}
		})
	}
}

// waitForMainExecute is a helper routine which makes sure that the mainExecute() function starts
// up and terminates as expected. If not, return an error.
func waitForMainExecute(t *testing.T, howLong time.Duration) error {
	for ix := 0; ix < 10; ix++ { // Wait for up to one second for main to get running
		if isMain(started) {
			break
		}
		time.Sleep(time.Millisecond * 100)
	}
	if !isMain(started) {
		return fmt.Errorf("main did not reach started state after a second for %s", t.Name())
	}
	time.Sleep(howLong)          // Give it the designated time to complete
	stopMain()                   // Then ask it to finish up
	for ix := 0; ix < 10; ix++ { // Wait for up to two seconds for main to terminate
		if isMain(stopped) {
			break
		}
		time.Sleep(time.Millisecond * 200)
	}
	if !isMain(stopped) {
		return fmt.Errorf("main did not reach stopped state two seconds after stopMain() for %s", t.Name())
	}

	return nil
}

func TestNextInterval(t *testing.T) {
	tt := []struct {
		now      time.Time
		interval time.Duration
		nextIn   time.Duration
	}{
		// mod(01:01:01, minute)++ -> 01:02:00 needs 59s
		{time.Date(2019, 5, 7, 1, 1, 1, 0, time.UTC), time.Minute, time.Second * 59},
		// mod(01:13:58, 15m)++ -> 01:15:00 needs 1m2s
		{time.Date(2019, 5, 7, 1, 13, 58, 0, time.UTC), time.Minute * 15, time.Minute + time.Second*2},
		// mod(01:01:01, hour)++ -> 02:00:00 needs 58m59s
		{time.Date(2019, 5, 7, 1, 1, 1, 0, time.UTC), time.Hour, time.Minute*58 + time.Second*59},
	}

	for tx, tc := range tt {
		t.Run(fmt.Sprintf("%d", tx), func(t *testing.T) {
			nextIn := nextInterval(tc.now, tc.interval)
			if nextIn != tc.nextIn {
				t.Error("nextIn NE:now", tc.now, "Int", tc.interval, "Want", tc.nextIn, "Got", nextIn)
			}
		})
	}
}

// Test that SIGUSR1 causes a stats report
func TestUSR1(t *testing.T) {
	out := &bytes.Buffer{}
	err := &bytes.Buffer{}
	args := []string{"rearview-agent", "--zone", "rpz.example.org", "--update-target", "127.0.0.1:53",
		"-t", "127.0.0.1:0", "--console", ""}
	mainInit(out, err) // Start up quietly
	go func() {
		stopChannel <- syscall.SIGUSR1
		time.Sleep(time.Millisecond * 200) // Give it time to process
		stopMain()
	}()
	ec := mainExecute(args)
	outStr := out.String()
	errStr := err.String()
	if ec != 0 {
		t.Error("Expected zero exit return, not", ec, errStr)
	}
	if !strings.Contains(outStr, "User1 Assoc Store:") {
		t.Error("Expected 'User1 Assoc Store:', got", outStr)
	}
}
