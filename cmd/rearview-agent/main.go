// Watch DNS resolution telemetry and publish synthesized PTRs into an RPZ
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/miekg/dns"

	"github.com/markdingo/rearview/internal/association"
	"github.com/markdingo/rearview/internal/console"
	"github.com/markdingo/rearview/internal/constants"
	"github.com/markdingo/rearview/internal/heuristic"
	"github.com/markdingo/rearview/internal/osutil"
	"github.com/markdingo/rearview/internal/refresh"
	"github.com/markdingo/rearview/internal/reporter"
	"github.com/markdingo/rearview/internal/telemetry"
	"github.com/markdingo/rearview/internal/updater"
	"github.com/markdingo/rearview/internal/zoneview"
)

// Program-wide variables
var (
	consts                  = constants.Get()
	cfg                     *config
	defaultTelemetryAddress = "127.0.0.1:" + consts.TelemetryDefaultPort
	defaultConsoleAddress   = "127.0.0.1:" + consts.ConsoleDefaultPort

	stdout io.Writer // All I/O goes via these writers
	stderr io.Writer

	startTime   = time.Now()
	stopChannel chan os.Signal
	flagSet     *flag.FlagSet
)

//////////////////////////////////////////////////////////////////////

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.AgentProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

func stopMain() {
	stopChannel <- syscall.SIGINT
}

//////////////////////////////////////////////////////////////////////
// main wrappers make it easy for test programs
//////////////////////////////////////////////////////////////////////

// mainInit resets everything such that mainExecute() can be called multiple times in one program
// execution. stopChannel is buffered as the reader may disappear if there is a fatal error and
// multiple writers may try and write to the channel and we don't want those writers to stall
// forever.
func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
	mainState(initial)
	stopChannel = make(chan os.Signal, 4) // All reasonable signals cause us to quit or stats report
	osutil.SignalNotify(stopChannel)
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	defer mainState(stopped) // Tell testers we've stopped even on error returns
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	err := parseCommandLine(args)
	if err != nil {
		return 1 // Error already printed by the flag package
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.AgentProgramName, "Version:", consts.Version)
		return 0
	}

	if flagSet.NArg() > 0 {
		return fatal("Unexpected parameters on the command line", strings.Join(flagSet.Args(), " "))
	}

	if cfg.logAll {
		cfg.logTelemetryIn = true
		cfg.logUpdateOut = true
		cfg.logUpdateIn = true
		cfg.logConsole = true
		cfg.logGarbage = true
	}

	// Merge in the config file, if any, under explicitly set flags.

	if len(cfg.configFile) > 0 {
		set := make(map[string]bool)
		flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if err := loadConfigFile(cfg.configFile, set); err != nil {
			return fatal(err)
		}
	}

	// Validate engine settings. Alpha and threshold ranges are checked by their constructors;
	// the presence checks happen here where we can say which option is missing.

	if len(cfg.zoneName) == 0 {
		return fatal("Must supply the RPZ name with --zone")
	}
	if len(cfg.updateTarget) == 0 {
		return fatal("Must supply the zone master with --update-target")
	}
	if cfg.cacheSize < 0 {
		return fatal("--cache-size", cfg.cacheSize, "must be GE zero")
	}

	var reporters []reporter.Reporter // Track all reportables for periodic reporting

	// Construct the engine: scorer, store, update client, batcher, zone view. The store and
	// batcher refer to each other so the store's recycler is bound after construction.

	scorer, err := heuristic.NewDecay(heuristic.DecayConfig{Alpha: cfg.trendingAlpha})
	if err != nil {
		return fatal(err)
	}

	store, err := association.New(association.Config{
		CacheSize:       cfg.cacheSize,
		EvictionLogSize: cfg.evictionLogSize,
		Scorer:          scorer,
	})
	if err != nil {
		return fatal(err)
	}
	reporters = append(reporters, store)

	updateClient, err := updater.New(updater.Config{
		Zone:       cfg.zoneName,
		Server:     cfg.updateTarget,
		Timeout:    cfg.updateTimeout,
		PtrTTL:     consts.PtrTTL,
		TxtTTL:     consts.TxtTTL,
		TsigName:   cfg.tsigName,
		TsigSecret: cfg.tsigSecret,
		LogOut:     cfg.logUpdateOut,
		LogIn:      cfg.logUpdateIn,
		Stdout:     stdout,
	})
	if err != nil {
		return fatal(err)
	}
	reporters = append(reporters, updateClient)

	zone := zoneview.New(cfg.zoneName)
	reporters = append(reporters, zone)

	batcher, err := refresh.New(refresh.Config{
		BatchSize: cfg.batchSize,
		Frequency: cfg.batchFrequency,
		Threshold: cfg.batchThreshold,
		LogSize:   cfg.refreshLogSize,
		Source:    store,
		Committer: updateClient,
		Applier:   zone,
	})
	if err != nil {
		return fatal(err)
	}
	reporters = append(reporters, batcher)
	store.SetRecycler(batcher)

	// Reconstruct published state from the zone master file, if supplied.

	if len(cfg.zoneFile) > 0 {
		garbage := func(rr dns.RR) {
			if cfg.logGarbage {
				fmt.Fprintln(stdout, "ZG:"+rr.String())
			}
		}
		if err := zone.LoadFile(cfg.zoneFile, store, garbage); err != nil {
			return fatal(err)
		}
	}

	// Start CPU profiling now that most error checking is complete

	if len(cfg.cpuprofile) > 0 {
		f, err := os.Create(cfg.cpuprofile)
		if err != nil {
			return fatal(err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	// Memory profile is triggered at the end of the program but we open the output file and
	// hold it open prior to any possible chroot/setuid/setgid action.

	var memProfileFile *os.File
	if len(cfg.memprofile) > 0 {
		memProfileFile, err = os.Create(cfg.memprofile)
		if err != nil {
			return fatal(err)
		}
		defer memProfileFile.Close()
	}

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fatal(err)
		}
		defer agent.Close()
	}

	if cfg.verbose {
		fmt.Fprintln(stdout, consts.AgentProgramName, consts.Version, "Starting")
		fmt.Fprintln(stdout, "Zone:", cfg.zoneName, "Master:", cfg.updateTarget)
		if zone.Len() > 0 {
			fmt.Fprintln(stdout, "Reloaded:", zone.Len(), "entries from", cfg.zoneFile)
		}
	}

	// Start the telemetry listeners and the diagnostic console.

	if cfg.telemetryAddresses.NArg() == 0 { // Use loopback if none supplied
		cfg.telemetryAddresses.Set(defaultTelemetryAddress)
	}

	errorChannel := make(chan error, cfg.telemetryAddresses.NArg()+1)
	wg := &sync.WaitGroup{} // Wait on all listeners
	var sources []telemetry.Source

	for _, addr := range cfg.telemetryAddresses.Args() {
		listener, err := telemetry.NewUDPJSON(telemetry.UDPJSONConfig{
			ListenAddress: addr,
			Sink:          store,
			LogIn:         cfg.logTelemetryIn,
			Stdout:        stdout,
		})
		if err != nil {
			return fatal(err)
		}
		if err := listener.Start(errorChannel, wg); err != nil {
			return fatal(err)
		}
		if cfg.verbose {
			fmt.Fprintln(stdout, "Telemetry: (UDP on "+addr+")")
		}
		sources = append(sources, listener)
		reporters = append(reporters, listener)
	}

	var consoleServer *console.Server
	if len(cfg.consoleAddress) > 0 {
		consoleServer, err = console.New(console.Config{
			ListenAddress: cfg.consoleAddress,
			Introspector:  &engine{store: store, batcher: batcher, zone: zone},
			LogCommands:   cfg.logConsole,
			Stdout:        stdout,
		})
		if err != nil {
			return fatal(err)
		}
		if err := consoleServer.Start(errorChannel, wg); err != nil {
			return fatal(err)
		}
		if cfg.verbose {
			fmt.Fprintln(stdout, "Console: (TCP on "+cfg.consoleAddress+")")
		}
		reporters = append(reporters, consoleServer, consoleServer.Tracker())
	}

	// Constrain the process via setuid/setgid/chroot. This is a no-op call if all parameters
	// are empty strings. The listeners above have already bound their sockets so the powerful
	// uid is no longer needed.

	err = osutil.Constrain(cfg.setuidName, cfg.setgidName, cfg.chrootDir)
	if err != nil {
		return fatal(err)
	}
	if cfg.verbose && (len(cfg.setuidName) > 0 || len(cfg.setgidName) > 0 || len(cfg.chrootDir) > 0) {
		fmt.Fprintf(stdout, "Constraints: %s\n", osutil.ConstraintReport())
	}

	// Loop forever driving the batch clock, giving periodic status reports and checking for a
	// termination event. The batch tick runs the commit on this go-routine which means a slow
	// zone master stalls status reports for at most the update timeout - an acceptable trade
	// for never having two batches in flight.

	mainState(started) // Tell testers we're up and running
	batchTicker := time.NewTicker(time.Second)
	defer batchTicker.Stop()
	nextStatusIn := nextInterval(time.Now(), cfg.statusInterval)

Running:
	for {
		select {
		case s := <-stopChannel:
			if osutil.IsSignalUSR1(s) {
				statusReport("User1", false, reporters)
				break
			}
			if cfg.verbose {
				fmt.Fprintln(stdout, "\nSignal", s)
			}
			break Running // All signals bar USR1 cause loop exit

		case err := <-errorChannel:
			return fatal(err) // No cleanup if we get a listener startup error

		case now := <-batchTicker.C:
			batcher.Tick(now)

		case <-time.After(nextStatusIn):
			if cfg.verbose {
				statusReport("Status", true, reporters)
			}
			nextStatusIn = nextInterval(time.Now(), cfg.statusInterval)
		}
	}

	// Shutting down. Pending batches are abandoned - the zone is the source of truth and the
	// next telemetry reconstructs anything lost.

	for _, s := range sources {
		s.Stop()
	}
	if consoleServer != nil {
		consoleServer.Stop()
	}
	mainState(stopped) // Tell testers we've stopped accepting telemetry
	wg.Wait()          // Wait for all listeners to completely shut down

	if cfg.verbose {
		statusReport("Status", true, reporters) // One last report prior to exiting
		fmt.Fprintln(stdout, consts.AgentProgramName, consts.Version, "Exiting after", uptime())
	}

	// Memory profile is written at the end of the program

	if memProfileFile != nil {
		runtime.GC() // get up-to-date statistics
		err := pprof.WriteHeapProfile(memProfileFile)
		if err != nil {
			return fatal(err)
		}
	}

	return 0
}

// nextInterval calculates the duration to now+modulo interval. If now is 00:01:17 and the interval
// is 15m then the returned duration is 13m43s which is the distance to the 00:15:00. The idea is to
// provide a wait/sleep value which gets the caller to the next interval tick-over.
func nextInterval(now time.Time, interval time.Duration) time.Duration {
	return now.Truncate(interval).Add(interval).Sub(now)
}

// uptime calculates how long this agent has been running and returns a log-friendly and
// granularity-appropriate representation of that duration.
func uptime() string {
	return time.Now().Sub(startTime).Truncate(time.Second).String()
}

// statusReport prints stats about the agent and all known reporters
func statusReport(what string, resetCounters bool, reporters []reporter.Reporter) {
	fmt.Fprintln(stdout, "Status Up:", consts.AgentProgramName, consts.Version, uptime())
	for _, r := range reporters {
		reps := strings.Split(r.Report(resetCounters), "\n")
		for _, s := range reps {
			if len(s) > 0 {
				fmt.Fprintf(stdout, "%s %s: %s\n", what, r.Name(), s)
			}
		}
	}
}

// A compile-time check that the engine glue really is the console's window.
var _ console.Introspector = (*engine)(nil)

// And that the store plugs straight into the telemetry and refresh interfaces.
var _ telemetry.Sink = (*association.Store)(nil)
var _ refresh.EntrySource = (*association.Store)(nil)
var _ refresh.Committer = (*updater.Client)(nil)
var _ refresh.Applier = (*zoneview.View)(nil)
var _ association.Recycler = (*refresh.Batcher)(nil)
var _ zoneview.Seeder = (*association.Store)(nil)
