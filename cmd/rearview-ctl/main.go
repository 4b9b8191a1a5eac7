// Interrogate the diagnostic console of a running rearview-agent
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/markdingo/rearview/internal/constants"
)

// Program-wide variables
var (
	consts               = constants.Get()
	cfg                  *config
	defaultServerAddress = "127.0.0.1:" + consts.ConsoleDefaultPort

	stdout io.Writer
	stderr io.Writer

	flagSet *flag.FlagSet
)

//////////////////////////////////////////////////////////////////////

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.CtlProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

//////////////////////////////////////////////////////////////////////
// main is a wrapper for mainExecute() so tests can call mainExecute()
//////////////////////////////////////////////////////////////////////

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args, os.Stdin))
}

func mainExecute(args []string, stdin io.Reader) int {
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
		fmt.Fprintln(stdout, consts.CtlProgramName, "Version:", consts.Version)
		return 0
	}

	conn, err := net.DialTimeout("tcp", cfg.server, cfg.timeout)
	if err != nil {
		return fatal(err)
	}
	defer conn.Close()
	responses := bufio.NewReader(conn)

	// A command on the invocation line runs alone; otherwise stdin supplies them.

	if flagSet.NArg() > 0 {
		return runCommand(conn, responses, strings.Join(flagSet.Args(), " "))
	}

	exitCode := 0
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 {
			continue
		}
		if ec := runCommand(conn, responses, line); ec != 0 {
			exitCode = ec
		}
	}

	return exitCode
}

// runCommand sends one command and prints response lines through the terminating status code.
// Data lines are 210; anything else ends the response.
func runCommand(conn net.Conn, responses *bufio.Reader, command string) int {
	conn.SetDeadline(time.Now().Add(cfg.timeout))
	if _, err := fmt.Fprintln(conn, command); err != nil {
		return fatal(err)
	}

	for {
		line, err := responses.ReadString('\n')
		if err != nil {
			return fatal("lost console connection:", err)
		}
		line = strings.TrimRight(line, "\r\n")
		fmt.Fprintln(stdout, line)

		code := ""
		if len(line) >= 3 {
			code = line[:3]
		}
		switch code {
		case consts.ConsoleData:
			continue // More to come
		case consts.ConsoleOk, consts.ConsoleEnd:
			return 0
		default: // 400, 500 and anything unexpected
			return 1
		}
	}
}
