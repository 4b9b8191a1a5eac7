package main

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

const usageMessageTemplate = `
NAME
          {{.CtlProgramName}} -- interrogate a running {{.AgentProgramName}}

SYNOPSIS
          {{.CtlProgramName}} [options] [command [args]]

DESCRIPTION
          {{.CtlProgramName}} connects to the diagnostic console of a running
          {{.AgentProgramName}} and issues commands. With a command on the invocation line it
          runs that one command and exits; without one it reads commands from stdin, one per
          line, until EOF.

          Response lines arrive prefixed with a status code: 200 for a single-line success, 210
          for the data lines of a multi-line response, 212 for its terminator, 400 for a bad
          command and 500 for a lookup miss. The codes are printed as received.

COMMANDS
          a2z                   diff the association store against the published zone
          addr <ip>             resolutions held for an address, scores and counters included
          zone <ip>             the published zone entry for an address
          queues                depths of every bounded structure in the engine
          qslice head|tail [n]  peek at the idle or fresh end of the eviction queue
          evictions [n]         recent eviction passes
          refreshes [n]         recent update batches

EXIT STATUS
          Zero when every command received a 2xx response; one otherwise.

OPTIONS
          [-h | --help] [-s server] [-t timeout] [--version]

`

//////////////////////////////////////////////////////////////////////

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err) // We've messed up our template
	}
	err = tmpl.Execute(out, consts)
	if err != nil {
		panic(err) // We've messed up our template
	}
	flagSet.SetOutput(out) // This is permanent so we assume an exit summarily
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.help, "help", false, "Print usage message to Stdout then exit(0)")
	flagSet.StringVar(&cfg.server, "s", defaultServerAddress, "Console `address` of the target agent")
	flagSet.DurationVar(&cfg.timeout, "t", 5*time.Second, "Connect and per-command response `timeout`")
	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
}
