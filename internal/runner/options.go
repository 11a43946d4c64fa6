package runner

import (
	"fmt"
	"strings"

	"github.com/logrusorgru/aurora/v4"
	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/formatter"
	"github.com/projectdiscovery/gologger/levels"
	envutil "github.com/projectdiscovery/utils/env"

	"terminalscan/internal/discovery"
)

var au = aurora.New(aurora.WithColors(true))

// ListenEnv sets the default listen address of the web panel.
var ListenEnv = envutil.GetEnvOrDefault("TERMINALSCAN_LISTEN", "127.0.0.1:0")

// Options contains the configuration options for a scan or the web panel.
type Options struct {
	ConfigFile string

	Subnet       string
	Ranges       goflags.StringSlice
	Targets      goflags.StringSlice
	BatchSize    int
	ProbeTimeout int
	Yield        int

	Output string
	JSON   bool

	Listen    string
	NoBrowser bool

	Verbose bool
	Silent  bool
	NoColor bool
	Version bool
}

// ParseOptions parses the flags that follow a subcommand.
func ParseOptions(args []string) (*Options, error) {
	options := &Options{}
	flagSet := goflags.NewFlagSet()

	flagSet.SetDescription(`terminalscan finds RFID attendance terminals on a local network`)

	flagSet.CreateGroup("input", "Input",
		flagSet.StringVarP(&options.Subnet, "subnet", "s", "", "subnet prefix to scan (e.g. 192.168.1 or 192.168.1.0/24)"),
		flagSet.StringSliceVarP(&options.Ranges, "range", "r", nil, "host octet ranges in scan order (e.g. 100-150,1-10)", goflags.CommaSeparatedStringSliceOptions),
		flagSet.StringSliceVarP(&options.Targets, "target", "t", nil, "explicit IPs or CIDRs to probe instead of the subnet", goflags.CommaSeparatedStringSliceOptions),
	)

	flagSet.CreateGroup("rate", "Rate",
		flagSet.IntVarP(&options.BatchSize, "batch-size", "b", discovery.DefaultBatchSize, "number of addresses probed concurrently"),
		flagSet.IntVarP(&options.ProbeTimeout, "timeout", "to", discovery.DefaultProbeTimeoutMs, "per-address probe timeout in milliseconds"),
		flagSet.IntVarP(&options.Yield, "yield", "y", discovery.DefaultYieldMs, "pause between batches in milliseconds"),
	)

	flagSet.CreateGroup("output", "Output",
		flagSet.StringVarP(&options.Output, "output", "o", "", "write the session export to a file"),
		flagSet.BoolVarP(&options.JSON, "json", "j", false, "print devices as JSON lines"),
	)

	flagSet.CreateGroup("panel", "Panel",
		flagSet.StringVarP(&options.Listen, "listen", "l", ListenEnv, "web panel listen address"),
		flagSet.BoolVarP(&options.NoBrowser, "no-browser", "nb", false, "do not open a browser for the web panel"),
	)

	flagSet.CreateGroup("config", "Config",
		flagSet.StringVar(&options.ConfigFile, "config", "", "yaml flag configuration file"),
	)

	flagSet.CreateGroup("debug", "Debug",
		flagSet.BoolVarP(&options.Verbose, "verbose", "v", false, "show verbose output"),
		flagSet.BoolVar(&options.Silent, "silent", false, "show only devices in output"),
		flagSet.BoolVarP(&options.NoColor, "no-color", "nc", false, "disable output content coloring (ANSI escape codes)"),
		flagSet.BoolVar(&options.Version, "version", false, "show version of the project"),
	)

	if err := flagSet.Parse(args...); err != nil {
		return nil, err
	}
	if options.ConfigFile != "" {
		if err := flagSet.MergeConfigFile(options.ConfigFile); err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", options.ConfigFile, err)
		}
	}

	options.configureOutput()
	return options, nil
}

// configureOutput configures the output on the screen
func (options *Options) configureOutput() {
	if options.Verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelVerbose)
	}
	if options.NoColor {
		gologger.DefaultLogger.SetFormatter(formatter.NewCLI(true))
		au = aurora.New(aurora.WithColors(false))
	}
	if options.Silent {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelSilent)
	}
}

// ScanConfig turns the flags into a session configuration. Without a subnet
// or targets the first shortlisted subnet is used.
func (options *Options) ScanConfig() (discovery.Config, error) {
	cfg := discovery.Config{
		Subnet:         strings.TrimSpace(options.Subnet),
		BatchSize:      options.BatchSize,
		ProbeTimeoutMs: options.ProbeTimeout,
		YieldMs:        options.Yield,
	}
	for _, raw := range options.Ranges {
		r, err := discovery.ParseRange(raw)
		if err != nil {
			return cfg, err
		}
		cfg.Ranges = append(cfg.Ranges, r)
	}
	for _, target := range options.Targets {
		if target = strings.TrimSpace(target); target != "" {
			cfg.Targets = append(cfg.Targets, target)
		}
	}
	if cfg.Subnet == "" && len(cfg.Targets) == 0 {
		if subnets := discovery.DefaultSubnets(); len(subnets) > 0 {
			cfg.Subnet = subnets[0]
			gologger.Info().Msgf("no subnet given, scanning %s", cfg.Subnet)
		}
	}
	if err := cfg.WithDefaults().Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
