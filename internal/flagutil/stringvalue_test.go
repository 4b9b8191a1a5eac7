package flagutil

import (
	"flag"
	"testing"
)

func TestStringValue(t *testing.T) {
	var sv StringValue
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&sv, "t", "Telemetry listen address")

	err := fs.Parse([]string{"-t", "127.0.0.1:5302", "-t", "[::1]:5302"})
	if err != nil {
		t.Fatal("Unexpected parse error", err)
	}

	if sv.NArg() != 2 {
		t.Fatal("Expected 2 args, got", sv.NArg())
	}
	args := sv.Args()
	if args[0] != "127.0.0.1:5302" || args[1] != "[::1]:5302" {
		t.Error("Args out of order or mangled", args)
	}
	if sv.String() != "127.0.0.1:5302 [::1]:5302" {
		t.Error("String() wrong", sv.String())
	}

	// Args() must return a copy
	args[0] = "mangled"
	if sv.Args()[0] == "mangled" {
		t.Error("Args() did not return a copy")
	}
}
