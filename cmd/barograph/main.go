// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

// Package main is the entry point for the Barograph command line analyzer.
//
// Barograph reads the raw file set a BMC RESmart CPAP machine writes to its
// SD card, reconstructs therapy sessions from the binary pressure stream and
// produces usage metrics, respiratory event estimates and trend artifacts
// without any vendor software. It is an analysis aid, not a medical device;
// every report carries the corresponding disclaimer.
//
// # Analysis Pipeline
//
// One invocation runs the full pipeline in order:
//
//  1. Discovery: Locate and fingerprint the device file set (D.000..D.NNN, D.log, D.evt)
//  2. Calibration: Choose the raw-count divisor when none is configured
//  3. Decode: Parallel fixed-width decode of all segment files
//  4. Timeline: Anchor samples to wall-clock time and split therapy sessions
//  5. Detection: Estimate apnea and hypopnea events from pressure morphology
//  6. Metrics: Aggregate usage, pressure and AHI over the reporting window
//  7. Assessment: Classify compliance, efficacy, stability and AHI severity
//  8. Artifacts: Text report, JSON export and PNG trend chart
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Command line flags (each maps onto the equivalent environment variable)
//   - Environment variables (DATA_DIR, SCALE_DIVISOR, WINDOW_MONTHS, ...)
//   - Config file (barograph.yaml, or the path in CONFIG_PATH)
//   - Built-in defaults calibrated for RESmart F-series firmware
//
// A positional directory argument is shorthand for -data-dir and takes
// precedence over it.
//
// # Example Usage
//
// Analyze a mounted SD card and print the report:
//
//	barograph /media/sdcard
//
// Restrict metrics to the last three months and export the full result as JSON:
//
//	barograph -months 3 -export result.json /media/sdcard
//
// Pin the scale divisor (skips auto-calibration) and render the trend chart:
//
//	barograph -divisor 13 -chart trend.png /media/sdcard
//
// Cross-check computed metrics against a mobile app summary:
//
//	barograph -reference app-summary.json /media/sdcard
//
// Environment-only invocation (no flags):
//
//	export DATA_DIR=/media/sdcard
//	export WINDOW_MONTHS=6
//	export LOG_FORMAT=json
//	barograph
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the run between pipeline stages; partial results
// are discarded and no artifacts are written.
//
// # Exit Status
//
// The process exits 0 when the analysis completes and every requested
// artifact is written, 1 on analysis or artifact failure, 2 on usage errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/barograph/internal/analyzer"
	"github.com/tomtom215/barograph/internal/config"
	"github.com/tomtom215/barograph/internal/export"
	"github.com/tomtom215/barograph/internal/logging"
	"github.com/tomtom215/barograph/internal/report"
)

// cliFlags maps each command line flag onto the environment variable the
// config layer reads. Flags are registered as strings; type checking happens
// in config validation so flag and env values fail the same way.
var cliFlags = []struct {
	name  string
	env   string
	usage string
}{
	{"data-dir", "DATA_DIR", "directory containing the device file set"},
	{"device", "DEVICE_ID", "device file prefix, e.g. B3927162 (default: auto-detect)"},
	{"months", "WINDOW_MONTHS", "trailing metrics window in months, 0 = all history"},
	{"divisor", "SCALE_DIVISOR", "fixed raw-count divisor, 0 = auto-calibrate"},
	{"reference", "REFERENCE_PATH", "JSON reference summary to correlate against"},
	{"export", "EXPORT_PATH", "write the full result as JSON to this path"},
	{"report", "REPORT_PATH", "write the text report to this path, - for stdout"},
	{"chart", "CHART_PATH", "write a PNG nightly trend chart to this path"},
	{"log-level", "LOG_LEVEL", "log level: trace, debug, info, warn, error"},
	{"log-format", "LOG_FORMAT", "log format: console or json"},
}

func main() {
	envByFlag := make(map[string]string, len(cliFlags))
	for _, f := range cliFlags {
		flag.String(f.name, "", fmt.Sprintf("%s (env %s)", f.usage, f.env))
		envByFlag[f.name] = f.env
	}
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintln(out, "Usage: barograph [flags] [data-dir]")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Each flag maps onto the equivalent environment variable; flags win.")
		flag.PrintDefaults()
	}
	flag.Parse()

	// Apply explicitly set flags as environment overrides before the config
	// layer runs, so flag > env > file > default precedence holds.
	flag.Visit(func(f *flag.Flag) {
		if env, ok := envByFlag[f.Name]; ok {
			_ = os.Setenv(env, f.Value.String())
		}
	})

	switch flag.NArg() {
	case 0:
	case 1:
		_ = os.Setenv("DATA_DIR", flag.Arg(0))
	default:
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	device := cfg.Input.DeviceID
	if device == "" {
		device = "auto-detect"
	}
	logging.Info().
		Str("data_dir", cfg.Input.DataDir).
		Str("device_id", device).
		Int("window_months", cfg.Metrics.WindowMonths).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Warn().Str("signal", sig.String()).Msg("Received shutdown signal, canceling analysis")
		cancel()
	}()

	result, err := analyzer.Run(ctx, cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logging.Warn().Msg("Analysis canceled before completion")
			os.Exit(1)
		}
		logging.Fatal().Err(err).Msg("Analysis failed")
	}

	if cfg.Output.ReportPath != "" {
		if err := report.Write(result, cfg.Output.ReportPath); err != nil {
			logging.Fatal().Err(err).Msg("Failed to write report")
		}
	}

	if cfg.Output.ExportPath != "" {
		if err := export.Write(result, cfg.Output.ExportPath); err != nil {
			logging.Fatal().Err(err).Msg("Failed to write JSON export")
		}
	}

	if cfg.Output.ChartPath != "" {
		switch err := report.WriteChart(result, cfg.Output.ChartPath); {
		case err == nil:
		case errors.Is(err, report.ErrTooFewSessions):
			logging.Warn().Msg("Not enough plotted sessions for a trend chart, skipping")
		default:
			logging.Fatal().Err(err).Msg("Failed to write trend chart")
		}
	}

	logging.Info().Str("run_id", result.RunID).Msg("Barograph finished")
}
