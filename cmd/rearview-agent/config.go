package main

import (
	"fmt"
	"os"
	"time"

	"github.com/markdingo/rearview/internal/flagutil"

	"gopkg.in/yaml.v3"
)

type config struct {
	gops    bool
	help    bool
	verbose bool
	version bool

	configFile string // Optional YAML engine config - explicit flags win

	telemetryAddresses flagutil.StringValue // Addresses for inbound JSON/UDP telemetry
	consoleAddress     string               // Diagnostic console TCP listen address

	zoneName     string // The RPZ receiving synthesized PTRs
	zoneFile     string // Master file read once at startup
	updateTarget string // host:port of the zone master
	tsigName     string
	tsigSecret   string

	cacheSize       int     // Upper bound on total resolution count
	trendingAlpha   float64 // Exponential weight for the trend update
	batchSize       int     // Hard cap on addresses per update batch
	batchFrequency  time.Duration
	batchThreshold  float64
	evictionLogSize int
	refreshLogSize  int
	updateTimeout   time.Duration

	statusInterval time.Duration

	logAll         bool // Turns on all other log options
	logTelemetryIn bool // Compact print of each accepted telemetry observation
	logUpdateOut   bool // Compact print of each outbound update transaction
	logUpdateIn    bool // Compact print of each update response
	logConsole     bool // Compact print of each console command served
	logGarbage     bool // Print unrecognized records found in the zone at startup

	cpuprofile, memprofile string

	setuidName, setgidName, chrootDir string // Process constraint settings
}

// fileConfig is the YAML form of the engine options. Only the tunables live here - listen
// addresses, logging and process constraints stay on the command line where operators expect
// them.
type fileConfig struct {
	Zone            *string  `yaml:"zone"`
	ZoneFile        *string  `yaml:"zone-file"`
	UpdateTarget    *string  `yaml:"update-target"`
	TsigName        *string  `yaml:"tsig-name"`
	TsigSecret      *string  `yaml:"tsig-secret"`
	CacheSize       *int     `yaml:"cache-size"`
	TrendingAlpha   *float64 `yaml:"trending-alpha"`
	BatchSize       *int     `yaml:"batch-size"`
	BatchFrequency  *int     `yaml:"batch-frequency"` // Seconds
	BatchThreshold  *float64 `yaml:"batch-threshold"`
	EvictionLogSize *int     `yaml:"eviction-log-size"`
	RefreshLogSize  *int     `yaml:"refresh-log-size"`
	UpdateTimeout   *int     `yaml:"update-timeout"` // Seconds
}

// loadConfigFile merges a YAML config file under the command line: a file value only lands when
// the corresponding flag was not explicitly set. Fields are pointers so "absent" and "zero" are
// distinguishable.
func loadConfigFile(path string, set map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %s", err.Error())
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config file %s: %s", path, err.Error())
	}

	if fc.Zone != nil && !set["zone"] {
		cfg.zoneName = *fc.Zone
	}
	if fc.ZoneFile != nil && !set["zone-file"] {
		cfg.zoneFile = *fc.ZoneFile
	}
	if fc.UpdateTarget != nil && !set["update-target"] {
		cfg.updateTarget = *fc.UpdateTarget
	}
	if fc.TsigName != nil && !set["tsig-name"] {
		cfg.tsigName = *fc.TsigName
	}
	if fc.TsigSecret != nil && !set["tsig-secret"] {
		cfg.tsigSecret = *fc.TsigSecret
	}
	if fc.CacheSize != nil && !set["cache-size"] {
		cfg.cacheSize = *fc.CacheSize
	}
	if fc.TrendingAlpha != nil && !set["trending-alpha"] {
		cfg.trendingAlpha = *fc.TrendingAlpha
	}
	if fc.BatchSize != nil && !set["batch-size"] {
		cfg.batchSize = *fc.BatchSize
	}
	if fc.BatchFrequency != nil && !set["batch-frequency"] {
		cfg.batchFrequency = time.Duration(*fc.BatchFrequency) * time.Second
	}
	if fc.BatchThreshold != nil && !set["batch-threshold"] {
		cfg.batchThreshold = *fc.BatchThreshold
	}
	if fc.EvictionLogSize != nil && !set["eviction-log-size"] {
		cfg.evictionLogSize = *fc.EvictionLogSize
	}
	if fc.RefreshLogSize != nil && !set["refresh-log-size"] {
		cfg.refreshLogSize = *fc.RefreshLogSize
	}
	if fc.UpdateTimeout != nil && !set["update-timeout"] {
		cfg.updateTimeout = time.Duration(*fc.UpdateTimeout) * time.Second
	}

	return nil
}
