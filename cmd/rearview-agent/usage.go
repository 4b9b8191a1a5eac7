package main

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.AgentProgramName}} -- synthesize PTR records from DNS telemetry into an RPZ

SYNOPSIS
          {{.AgentProgramName}} [options] --zone name --update-target server

DESCRIPTION
          {{.AgentProgramName}} watches live DNS resolution telemetry and turns the forward
          answer chains it sees into a reverse-mapping overlay. When a client later asks "who is
          10.2.66.5?" the recursive resolver serving the Response Policy Zone returns the most
          recently and most confidently observed forward name that led to that address, rather
          than the generic registrar PTR.

          Telemetry arrives as JSON datagrams, one observation per datagram:

              {"address": "10.2.66.5", "chain": ["www.a.example.", "a.example."]}

          with the terminal name (closest to the address) first and the original query name
          last. Addresses are accepted in v4 dotted-quad or any v6 textual form; v6 is
          canonicalized to RFC 5952 form, v4-mapped v6 is unmapped and zoned addresses are
          rejected.

          Observations are held in a bounded in-memory cache ranked by a time-decayed heuristic.
          When the cache overflows, the most idle addresses are sheared of their lowest-scoring
          resolutions and re-published; the surviving name of each address is batched into a
          single dynamic update transaction against the zone master.

STARTUP AND THE ZONE
          If a zone master file is supplied with --zone-file it is read once at startup to
          reconstruct the published state: each PTR becomes a reload-marker entry which is
          superseded the moment the address is observed live. Unrecognized records are counted
          as garbage and reported only with --log-garbage.

          The zone is the source of truth across restarts. Pending batches are abandoned at
          shutdown; the next telemetry reconstructs anything lost.

DIAGNOSTIC CONSOLE
          A line-oriented TCP console (see {{.CtlProgramName}}) exposes the live engine:
          'a2z' diffs the association store against the published zone, 'addr' and 'zone' show
          per-address detail, 'queues', 'qslice', 'evictions' and 'refreshes' expose the
          eviction queue and the activity rings. Console commands run against the live engine
          under its locks - snapshot consistency is preferred over throughput.

CONFIG FILE
          The engine tunables can also be supplied in a YAML file via --config, e.g:

              zone: rpz.example.org
              update-target: 127.0.0.1:53
              cache-size: 700
              batch-size: 32
              batch-frequency: 60
              batch-threshold: 0.1

          Explicitly set command-line flags always win over file values.

OPTIONS
          [-h | --help] [-v] [-i status-interval]

          [--config file]

          [-t telemetry-listen-address] ...
          [--console console-listen-address]

          [--zone name] [--zone-file file] [--update-target server]
          [--tsig-name name] [--tsig-secret secret]

          [--cache-size n] [--trending-alpha a]
          [--batch-size n] [--batch-frequency duration] [--batch-threshold fraction]
          [--eviction-log-size n] [--refresh-log-size n] [--update-timeout duration]

          [--log-telemetry-in] [--log-update-out] [--log-update-in]
          [--log-console] [--log-garbage]
          [--log-all]

          [--gops] [--cpu-profile file] [--mem-profile file]

          [--user userName] [--group groupName] [--chroot directory]

          [--version]

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
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.help, "help", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.verbose, "v", false, "Verbose status and stats - otherwise only errors are output")
	flagSet.DurationVar(&cfg.statusInterval, "i", time.Minute*15, "Periodic Status Report `interval` (needs -v set)")

	flagSet.StringVar(&cfg.configFile, "config", "", "YAML `file` of engine tunables - explicit flags win")

	flagSet.Var(&cfg.telemetryAddresses, "t",
		"Listen `address` for JSON/UDP telemetry (default "+defaultTelemetryAddress+")")
	flagSet.StringVar(&cfg.consoleAddress, "console", defaultConsoleAddress,
		"Listen `address` for the diagnostic console ('' disables)")

	flagSet.StringVar(&cfg.zoneName, "zone", "", "RPZ `name` receiving synthesized PTRs")
	flagSet.StringVar(&cfg.zoneFile, "zone-file", "", "Zone master `file` read once at startup")
	flagSet.StringVar(&cfg.updateTarget, "update-target", "", "host:port of the zone master taking dynamic updates")
	flagSet.StringVar(&cfg.tsigName, "tsig-name", "", "TSIG key `name` for signing updates")
	flagSet.StringVar(&cfg.tsigSecret, "tsig-secret", "", "TSIG key `secret` for signing updates")

	flagSet.IntVar(&cfg.cacheSize, "cache-size", 700, "Upper bound on total resolution `count`")
	flagSet.Float64Var(&cfg.trendingAlpha, "trending-alpha", 0.1, "Exponential `weight` for the trend update")
	flagSet.IntVar(&cfg.batchSize, "batch-size", 32, "Hard cap on `addresses` per update batch")
	flagSet.DurationVar(&cfg.batchFrequency, "batch-frequency", time.Minute,
		"Minimum `duration` between batch writes")
	flagSet.Float64Var(&cfg.batchThreshold, "batch-threshold", 0.1,
		"Fractional batch `fill` required before the timer writes (0.0-1.0)")
	flagSet.IntVar(&cfg.evictionLogSize, "eviction-log-size", 64, "Eviction ring buffer `capacity`")
	flagSet.IntVar(&cfg.refreshLogSize, "refresh-log-size", 64, "Refresh ring buffer `capacity`")
	flagSet.DurationVar(&cfg.updateTimeout, "update-timeout", 5*time.Second, "Dynamic update `timeout`")

	flagSet.BoolVar(&cfg.logAll, "log-all", false, "Turns on all other --log-* options")
	flagSet.BoolVar(&cfg.logTelemetryIn, "log-telemetry-in", false, "Compact print of each accepted observation")
	flagSet.BoolVar(&cfg.logUpdateOut, "log-update-out", false, "Compact print of outbound update transactions")
	flagSet.BoolVar(&cfg.logUpdateIn, "log-update-in", false, "Compact print of update responses")
	flagSet.BoolVar(&cfg.logConsole, "log-console", false, "Compact print of console commands served")
	flagSet.BoolVar(&cfg.logGarbage, "log-garbage", false, "Print unrecognized records found in the zone")

	// gops and go pprof settings

	flagSet.BoolVar(&cfg.gops, "gops", false, "Start github.com/google/gops agent")
	flagSet.StringVar(&cfg.cpuprofile, "cpu-profile", "", "write cpu profile to `file`")
	flagSet.StringVar(&cfg.memprofile, "mem-profile", "", "write mem profile to `file`")

	// Process Constraint parameters

	flagSet.StringVar(&cfg.setuidName, "user", "", "setuid `username` to constrain process after start-up (disabled for Linux)")
	flagSet.StringVar(&cfg.setgidName, "group", "", "setgid `groupname` to constrain process after start-up (disabled for Linux)")
	flagSet.StringVar(&cfg.chrootDir, "chroot", "", "chroot `directory` to constrain process after start-up")

	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
}
