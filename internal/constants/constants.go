/*
Package constants provides common values used across all rearview packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other modules when they call Get().

Typically usage:

    consts := constants.Get()
    fmt.Println("I am", consts.AgentProgramName)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

// Constants contains the system-wide constants
type Constants struct {
	AgentProgramName string // Package related constants
	CtlProgramName   string
	Version          string
	PackageName      string
	PackageURL       string

	DNSDefaultPort       string // DNS related constants
	ConsoleDefaultPort   string // Diagnostic console TCP listen port
	TelemetryDefaultPort string // JSON/UDP telemetry listen port

	V4ReverseSuffix string // Owner-name suffixes accepted from the zone
	V6ReverseSuffix string

	PtrTTL uint32 // TTL applied to synthesized PTR records
	TxtTTL uint32 // TTL applied to metadata TXT records

	ConsoleOk        string // Response line prefixes spoken by the console
	ConsoleData      string
	ConsoleEnd       string
	ConsoleBad       string
	ConsoleNotFound  string
	ConsoleLineLimit int // Longest command line the console will read

	DNSUDPTransport string // Suitable for the "net" package, but just to make sure we're
	DNSTCPTransport string // consistent across the whole package.
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set. The main reason for returning a struct is so that callers can
// inspect and/or use packages that introspect - particularly */template packages.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		AgentProgramName: "rearview-agent",
		CtlProgramName:   "rearview-ctl",
		Version:          "v0.1.0",
		PackageName:      "Rearview RPZ",
		PackageURL:       "https://github.com/markdingo/rearview",

		DNSDefaultPort:       "53",
		ConsoleDefaultPort:   "5303",
		TelemetryDefaultPort: "5302",

		V4ReverseSuffix: "in-addr.arpa.",
		V6ReverseSuffix: "ip6.arpa.",

		PtrTTL: 600,
		TxtTTL: 600,

		ConsoleOk:        "200",
		ConsoleData:      "210",
		ConsoleEnd:       "212",
		ConsoleBad:       "400",
		ConsoleNotFound:  "500",
		ConsoleLineLimit: 512,

		DNSUDPTransport: "udp",
		DNSTCPTransport: "tcp",
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the Constant struct. Return by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
