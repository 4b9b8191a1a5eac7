package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"
)

type testUsageCase struct {
	expectToRun bool     // waitForMainExecute should not return an error if this is true
	args        []string // ARGV - not counting command
	stdout      []string // Expected stdout strings
	stderr      string   // Expected stderr string
}

var testUsageCases = []testUsageCase{
	{false, []string{"--version"}, []string{"rearview-agent", "Version:"}, ""},
	{false, []string{"-h"}, []string{"NAME", "SYNOPSIS", "OPTIONS", "Version: v"}, ""},
	{false, []string{"-badopt"}, []string{}, "flag provided but not defined"},
	{false, []string{"Command", "line", "goop"}, []string{}, "Unexpected parameters"},

	// Mandatory engine settings
	{false, []string{}, []string{}, "Must supply the RPZ name"},
	{false, []string{"--zone", "rpz.example.org"}, []string{}, "Must supply the zone master"},
	{false, []string{"--zone", "rpz.example.org", "--update-target", "127.0.0.1:53",
		"--cache-size", "-7"}, []string{}, "must be GE zero"},

	// Constructor-level validation surfaces as a fatal
	{false, []string{"--zone", "rpz.example.org", "--update-target", "127.0.0.1:53",
		"--trending-alpha", "1.5"}, []string{}, "Alpha is not in range"},
	{false, []string{"--zone", "rpz.example.org", "--update-target", "127.0.0.1:53",
		"--batch-threshold", "1.5"}, []string{}, "Threshold is not in range"},
	{false, []string{"--zone", "rpz.example.org", "--update-target", "127.0.0.1:53",
		"--tsig-name", "k."}, []string{}, "TSIG name and secret"},

	// Config file handling
	{false, []string{"--config", "testdata/nosuchfile"}, []string{}, "config file"},
	{true, []string{"-v", "--config", "testdata/rearview.yaml",
		"-t", "127.0.0.1:0", "--console", ""}, []string{"Starting", "Exiting"}, ""},
}

func TestUsage(t *testing.T) {
	for tx, tc := range testUsageCases {
		t.Run(fmt.Sprintf("%d", tx), func(t *testing.T) {
			args := append([]string{"rearview-agent"}, tc.args...)
			out := &bytes.Buffer{}
			err := &bytes.Buffer{}
			mainInit(out, err)
			done := make(chan error)
			go func() {
				done <- waitForMainExecute(t, time.Millisecond*200)
			}()
			ec := mainExecute(args)
			e := <-done // Get waitForMainExecute results
			outStr := out.String()
			errStr := err.String()

			if e != nil && tc.expectToRun {
				t.Fatal("Expected to run, but", e, errStr, outStr)
			}
			if ec == 0 && len(tc.stderr) > 0 {
				t.Error("Expected error exit from Execute() with stderr", tc.stderr)
			}

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
