/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command s7toolsd is the daemon entrypoint: it loads configuration, builds
// an Engine, and serves it until told to stop. Flag/signal handling follows
// the teacher's ingester main() shape (_examples/gravwell-gravwell/ingesters).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/s7tools/engine/engine"
	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/orchestrator"
	"github.com/s7tools/engine/s7toolsconf"
)

const (
	defaultConfigLoc = `/etc/s7tools/s7toolsd.conf`
	appName          = `s7toolsd`
	version          = `0.1.0`
)

var (
	confLoc    = flag.String("config-file", defaultConfigLoc, "location of the daemon's configuration file")
	verbose    = flag.Bool("v", false, "print startup status to stdout")
	showVer    = flag.Bool("version", false, "print version information and exit")
	stagerPath = flag.String("stager-payload", "", "path to the bootloader stager payload to install on connect")
	dumperPath = flag.String("dumper-payload", "", "path to the memory-dumper payload to install before a dump")
	retryPreset = flag.String("retry-preset", "default", "retry policy: default, conservative, or aggressive")
)

func debugout(format string, args ...any) {
	if *verbose {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

func main() {
	flag.Parse()
	if *showVer {
		fmt.Fprintf(os.Stdout, "%s version %s\n", appName, version)
		os.Exit(0)
	}

	cfg, err := s7toolsconf.Load(*confLoc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration %q: %v\n", *confLoc, err)
		os.Exit(1)
	}
	if err := cfg.Verify(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	lg, err := cfg.GetLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	if _, err := cfg.EnsureUUID(); err != nil {
		lg.Warn("failed to stamp daemon UUID", logging.KVErr(err))
	}

	payloads, err := loadPayloads(*stagerPath, *dumperPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load payloads: %v\n", err)
		os.Exit(1)
	}

	retries, err := retryConfigurationFor(*retryPreset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	debugout("starting %s, profiles at %s\n", appName, cfg.Global.Profiles_Base_Path)
	eng, err := engine.New(cfg, payloads, retries, lg)
	if err != nil {
		lg.Warn("failed to build engine", logging.KVErr(err))
		fmt.Fprintf(os.Stderr, "failed to build engine: %v\n", err)
		os.Exit(1)
	}

	sch := make(chan os.Signal, 1)
	signal.Notify(sch, os.Interrupt, syscall.SIGTERM)
	<-sch

	debugout("shutting down %s\n", appName)
	eng.Stop()
}

func loadPayloads(stagerPath, dumperPath string) (orchestrator.PayloadProvider, error) {
	var stager, dumper []byte
	var err error
	if stagerPath != `` {
		if stager, err = os.ReadFile(stagerPath); err != nil {
			return nil, fmt.Errorf("reading stager payload: %w", err)
		}
	}
	if dumperPath != `` {
		if dumper, err = os.ReadFile(dumperPath); err != nil {
			return nil, fmt.Errorf("reading dumper payload: %w", err)
		}
	}
	return orchestrator.StaticPayloadProvider{Stager: stager, Dumper: dumper}, nil
}

func retryConfigurationFor(preset string) (*orchestrator.RetryConfiguration, error) {
	switch preset {
	case "", "default":
		return orchestrator.DefaultRetryConfiguration(), nil
	case "conservative":
		return orchestrator.ConservativeRetryConfiguration(), nil
	case "aggressive":
		return orchestrator.AggressiveRetryConfiguration(), nil
	default:
		return nil, fmt.Errorf("unknown retry preset %q", preset)
	}
}
