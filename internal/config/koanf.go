// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"barograph.yaml",
	"barograph.yml",
	"/etc/barograph/config.yaml",
	"/etc/barograph/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all calibrated default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			DataDir:  ".",
			DeviceID: "", // Auto-detected from *.log / *.000 pairs when empty
		},
		Layout: LayoutConfig{
			RecordSize:   2,
			ScaleDivisor: 0, // 0 = auto-calibrate over ScaleCandidates
			ScaleCandidates: []float64{
				12.5, 13.0, 13.5, 14.0, 15.0,
			},
			EnvelopeMin:    0.0,
			EnvelopeMax:    25.0,
			TherapeuticMin: 4.0,
			TherapeuticMax: 20.0,
		},
		Decode: DecodeConfig{
			Workers: 0, // 0 = use runtime.NumCPU()
		},
		Timeline: TimelineConfig{
			SampleInterval:      2 * time.Second,
			IdleGap:             5 * time.Minute,
			RateMismatchPercent: 10.0,
		},
		Events: EventsConfig{
			ApneaEnabled:             true,
			ApneaMinDuration:         10 * time.Second,
			ApneaFlatnessBand:        0.12,
			HypopneaEnabled:          true,
			HypopneaMinDuration:      10 * time.Second,
			HypopneaReductionPercent: 30.0,
			BaselineWindow:           2 * time.Minute,
			MergeGapSamples:          2,
		},
		Metrics: MetricsConfig{
			WindowMonths:      0, // All history by default; 3/6/12 select trailing windows
			MinimalUsageHours: 0.5,
			MonthDays:         30,
		},
		Correlation: CorrelationConfig{
			ReferencePath:        "",
			MinComparableMetrics: 3,
		},
		Output: OutputConfig{
			ExportPath: "",
			ReportPath: "-",
			ChartPath:  "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in calibrated defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// This function is the preferred way to load configuration and provides:
//   - Type-safe configuration unmarshaling
//   - Clear precedence: ENV > File > Defaults
//   - Support for nested configuration via koanf struct tags
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// DATA_DIR -> input.data_dir
	// APNEA_MIN_DURATION -> events.apnea_min_duration
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"layout.scale_candidates",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from defaults or YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		if _, ok := val.([]float64); ok {
			continue
		}

		// If it's a string, split by comma
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - DATA_DIR -> input.data_dir
//   - RECORD_SIZE -> layout.record_size
//   - IDLE_GAP -> timeline.idle_gap
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Input mappings
		"data_dir":  "input.data_dir",
		"device_id": "input.device_id",

		// Layout mappings
		"record_size":      "layout.record_size",
		"scale_divisor":    "layout.scale_divisor",
		"scale_candidates": "layout.scale_candidates",
		"envelope_min":     "layout.envelope_min",
		"envelope_max":     "layout.envelope_max",
		"therapeutic_min":  "layout.therapeutic_min",
		"therapeutic_max":  "layout.therapeutic_max",

		// Decode mappings
		"decode_workers": "decode.workers",

		// Timeline mappings
		"sample_interval":       "timeline.sample_interval",
		"idle_gap":              "timeline.idle_gap",
		"rate_mismatch_percent": "timeline.rate_mismatch_percent",

		// Event detection mappings
		"apnea_enabled":              "events.apnea_enabled",
		"apnea_min_duration":         "events.apnea_min_duration",
		"apnea_flatness_band":        "events.apnea_flatness_band",
		"hypopnea_enabled":           "events.hypopnea_enabled",
		"hypopnea_min_duration":      "events.hypopnea_min_duration",
		"hypopnea_reduction_percent": "events.hypopnea_reduction_percent",
		"baseline_window":            "events.baseline_window",
		"merge_gap_samples":          "events.merge_gap_samples",

		// Metrics mappings
		"window_months":       "metrics.window_months",
		"minimal_usage_hours": "metrics.minimal_usage_hours",
		"month_days":          "metrics.month_days",

		// Correlation mappings
		"reference_path":         "correlation.reference_path",
		"min_comparable_metrics": "correlation.min_comparable_metrics",

		// Output mappings
		"export_path": "output.export_path",
		"report_path": "output.report_path",
		"chart_path":  "output.chart_path",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	// This prevents random environment variables from polluting config
	return ""
}
