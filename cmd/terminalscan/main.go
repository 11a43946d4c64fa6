package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/projectdiscovery/gologger"
	envutil "github.com/projectdiscovery/utils/env"

	"terminalscan/internal/runner"
)

const usage = `terminalscan - find RFID attendance terminals on the local network

Usage:
  terminalscan scan [flags]   Scan a subnet and print the devices found.
  terminalscan open [flags]   Open the web panel.
  terminalscan help           Show this help.

Run "terminalscan scan -h" for the list of flags.
`

// HeadlessEnv makes "open" parse its flags and return without serving.
const HeadlessEnv = "TERMINALSCAN_HEADLESS"

func main() {
	if err := run(os.Args[1:]); err != nil {
		gologger.Error().Msgf("%s", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Print(usage)
		return nil
	}

	switch args[0] {
	case "scan", "open":
		options, err := runner.ParseOptions(args[1:])
		if err != nil {
			return err
		}
		if options.Version {
			gologger.Info().Msgf("Current Version: %s", runner.Version)
			return nil
		}
		runner.ShowBanner()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r := runner.New(options)
		if args[0] == "scan" {
			return r.RunScan(ctx)
		}
		if envutil.GetEnvOrDefault(HeadlessEnv, "") != "" {
			gologger.Info().Msgf("headless mode, not serving the web panel")
			return nil
		}
		return r.Serve(ctx)
	case "help", "--help", "-h":
		fmt.Print(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func init() {
	// usage is printed with fmt.Print
	if len(usage) == 0 || usage[len(usage)-1] != '\n' {
		panic(errors.New("usage string must end with a newline"))
	}
}
