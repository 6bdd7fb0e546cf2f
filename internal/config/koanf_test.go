// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	// Input defaults (empty - required fields)
	if cfg.Input.DataDir != "" {
		t.Errorf("Input.DataDir should be empty by default, got %q", cfg.Input.DataDir)
	}
	if cfg.Input.DeviceID != "" {
		t.Errorf("Input.DeviceID should be empty by default, got %q", cfg.Input.DeviceID)
	}

	// Layout defaults
	if cfg.Layout.RecordSize != 2 {
		t.Errorf("Layout.RecordSize = %d, want 2", cfg.Layout.RecordSize)
	}
	if cfg.Layout.ScaleDivisor != 0 {
		t.Errorf("Layout.ScaleDivisor = %g, want 0 (auto-calibration)", cfg.Layout.ScaleDivisor)
	}
	if len(cfg.Layout.ScaleCandidates) != 5 {
		t.Errorf("Layout.ScaleCandidates has %d entries, want 5", len(cfg.Layout.ScaleCandidates))
	}
	if cfg.Layout.EnvelopeMin != 0 || cfg.Layout.EnvelopeMax != 25 {
		t.Errorf("Layout envelope = [%g, %g], want [0, 25]", cfg.Layout.EnvelopeMin, cfg.Layout.EnvelopeMax)
	}
	if cfg.Layout.TherapeuticMin != 4 || cfg.Layout.TherapeuticMax != 20 {
		t.Errorf("Layout therapeutic range = [%g, %g], want [4, 20]",
			cfg.Layout.TherapeuticMin, cfg.Layout.TherapeuticMax)
	}

	// Decode defaults
	if cfg.Decode.Workers != 0 {
		t.Errorf("Decode.Workers = %d, want 0 (NumCPU)", cfg.Decode.Workers)
	}

	// Timeline defaults
	if cfg.Timeline.SampleInterval != 2*time.Second {
		t.Errorf("Timeline.SampleInterval = %v, want 2s", cfg.Timeline.SampleInterval)
	}
	if cfg.Timeline.IdleGap != 5*time.Minute {
		t.Errorf("Timeline.IdleGap = %v, want 5m", cfg.Timeline.IdleGap)
	}
	if cfg.Timeline.RateMismatchPercent != 10 {
		t.Errorf("Timeline.RateMismatchPercent = %g, want 10", cfg.Timeline.RateMismatchPercent)
	}

	// Events defaults
	if !cfg.Events.ApneaEnabled {
		t.Errorf("Events.ApneaEnabled should be true by default")
	}
	if cfg.Events.ApneaMinDuration != 10*time.Second {
		t.Errorf("Events.ApneaMinDuration = %v, want 10s", cfg.Events.ApneaMinDuration)
	}
	if cfg.Events.ApneaFlatnessBand != 0.12 {
		t.Errorf("Events.ApneaFlatnessBand = %g, want 0.12", cfg.Events.ApneaFlatnessBand)
	}
	if !cfg.Events.HypopneaEnabled {
		t.Errorf("Events.HypopneaEnabled should be true by default")
	}
	if cfg.Events.HypopneaMinDuration != 10*time.Second {
		t.Errorf("Events.HypopneaMinDuration = %v, want 10s", cfg.Events.HypopneaMinDuration)
	}
	if cfg.Events.HypopneaReductionPercent != 30 {
		t.Errorf("Events.HypopneaReductionPercent = %g, want 30", cfg.Events.HypopneaReductionPercent)
	}
	if cfg.Events.BaselineWindow != 2*time.Minute {
		t.Errorf("Events.BaselineWindow = %v, want 2m", cfg.Events.BaselineWindow)
	}
	if cfg.Events.MergeGapSamples != 2 {
		t.Errorf("Events.MergeGapSamples = %d, want 2", cfg.Events.MergeGapSamples)
	}

	// Metrics defaults
	if cfg.Metrics.WindowMonths != 0 {
		t.Errorf("Metrics.WindowMonths = %d, want 0 (all history)", cfg.Metrics.WindowMonths)
	}
	if cfg.Metrics.MinimalUsageHours != 0.5 {
		t.Errorf("Metrics.MinimalUsageHours = %g, want 0.5", cfg.Metrics.MinimalUsageHours)
	}
	if cfg.Metrics.MonthDays != 30 {
		t.Errorf("Metrics.MonthDays = %d, want 30", cfg.Metrics.MonthDays)
	}

	// Correlation defaults
	if cfg.Correlation.ReferencePath != "" {
		t.Errorf("Correlation.ReferencePath should be empty by default, got %q", cfg.Correlation.ReferencePath)
	}
	if cfg.Correlation.MinComparableMetrics != 3 {
		t.Errorf("Correlation.MinComparableMetrics = %d, want 3", cfg.Correlation.MinComparableMetrics)
	}

	// Output defaults
	if cfg.Output.ReportPath != "-" {
		t.Errorf("Output.ReportPath = %q, want - (stdout)", cfg.Output.ReportPath)
	}
	if cfg.Output.ExportPath != "" {
		t.Errorf("Output.ExportPath should be empty by default, got %q", cfg.Output.ExportPath)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Logging.Format = %q, want console", cfg.Logging.Format)
	}
}

// TestEnvTransformFunc verifies environment variable name transformations
func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Input
		{"DATA_DIR", "input.data_dir"},
		{"DEVICE_ID", "input.device_id"},

		// Layout
		{"RECORD_SIZE", "layout.record_size"},
		{"SCALE_DIVISOR", "layout.scale_divisor"},
		{"SCALE_CANDIDATES", "layout.scale_candidates"},
		{"ENVELOPE_MIN", "layout.envelope_min"},
		{"ENVELOPE_MAX", "layout.envelope_max"},
		{"THERAPEUTIC_MIN", "layout.therapeutic_min"},
		{"THERAPEUTIC_MAX", "layout.therapeutic_max"},

		// Decode
		{"DECODE_WORKERS", "decode.workers"},

		// Timeline
		{"SAMPLE_INTERVAL", "timeline.sample_interval"},
		{"IDLE_GAP", "timeline.idle_gap"},
		{"RATE_MISMATCH_PERCENT", "timeline.rate_mismatch_percent"},

		// Events
		{"APNEA_ENABLED", "events.apnea_enabled"},
		{"APNEA_MIN_DURATION", "events.apnea_min_duration"},
		{"APNEA_FLATNESS_BAND", "events.apnea_flatness_band"},
		{"HYPOPNEA_ENABLED", "events.hypopnea_enabled"},
		{"HYPOPNEA_MIN_DURATION", "events.hypopnea_min_duration"},
		{"HYPOPNEA_REDUCTION_PERCENT", "events.hypopnea_reduction_percent"},
		{"BASELINE_WINDOW", "events.baseline_window"},
		{"MERGE_GAP_SAMPLES", "events.merge_gap_samples"},

		// Metrics
		{"WINDOW_MONTHS", "metrics.window_months"},
		{"MINIMAL_USAGE_HOURS", "metrics.minimal_usage_hours"},
		{"MONTH_DAYS", "metrics.month_days"},

		// Correlation
		{"REFERENCE_PATH", "correlation.reference_path"},
		{"MIN_COMPARABLE_METRICS", "correlation.min_comparable_metrics"},

		// Output
		{"EXPORT_PATH", "output.export_path"},
		{"REPORT_PATH", "output.report_path"},
		{"CHART_PATH", "output.chart_path"},

		// Logging
		{"LOG_LEVEL", "logging.level"},
		{"LOG_FORMAT", "logging.format"},
		{"LOG_CALLER", "logging.caller"},

		// Unknown (should return empty)
		{"RANDOM_VAR", ""},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := envTransformFunc(tt.input)
			if result != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestFindConfigFile verifies config file discovery
func TestFindConfigFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	origDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	defer func() {
		if err := os.Chdir(origDir); err != nil {
			t.Errorf("Failed to restore working directory: %v", err)
		}
	}()

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change to temp directory: %v", err)
	}

	t.Run("no config file exists", func(t *testing.T) {
		os.Unsetenv(ConfigPathEnvVar)
		result := findConfigFile()
		if result != "" {
			t.Errorf("findConfigFile() = %q, want empty string", result)
		}
	})

	t.Run("barograph.yaml exists", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "barograph.yaml")
		if err := os.WriteFile(configPath, []byte("test: true"), 0644); err != nil {
			t.Fatalf("Failed to create config file: %v", err)
		}
		defer os.Remove(configPath)

		os.Unsetenv(ConfigPathEnvVar)
		result := findConfigFile()
		if result != "barograph.yaml" {
			t.Errorf("findConfigFile() = %q, want barograph.yaml", result)
		}
	})

	t.Run("CONFIG_PATH env var takes precedence", func(t *testing.T) {
		customPath := filepath.Join(tmpDir, "custom_config.yaml")
		if err := os.WriteFile(customPath, []byte("test: true"), 0644); err != nil {
			t.Fatalf("Failed to create custom config file: %v", err)
		}
		defer os.Remove(customPath)

		os.Setenv(ConfigPathEnvVar, customPath)
		defer os.Unsetenv(ConfigPathEnvVar)

		result := findConfigFile()
		if result != customPath {
			t.Errorf("findConfigFile() = %q, want %q", result, customPath)
		}
	})

	t.Run("CONFIG_PATH env var with non-existent file", func(t *testing.T) {
		os.Setenv(ConfigPathEnvVar, "/non/existent/config.yaml")
		defer os.Unsetenv(ConfigPathEnvVar)

		result := findConfigFile()
		if result != "" {
			t.Errorf("findConfigFile() = %q, want empty string", result)
		}
	})
}

// TestLoadWithKoanfEnvVars tests loading configuration from environment variables
func TestLoadWithKoanfEnvVars(t *testing.T) {
	os.Clearenv()

	// Set required variables
	os.Setenv("DATA_DIR", "/mnt/sdcard")

	// Set some custom values to override defaults
	os.Setenv("DECODE_WORKERS", "4")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("IDLE_GAP", "10m")
	os.Setenv("SCALE_DIVISOR", "13.0")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	// Verify required values
	if cfg.Input.DataDir != "/mnt/sdcard" {
		t.Errorf("Input.DataDir = %q, want /mnt/sdcard", cfg.Input.DataDir)
	}

	// Verify custom overrides
	if cfg.Decode.Workers != 4 {
		t.Errorf("Decode.Workers = %d, want 4", cfg.Decode.Workers)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Timeline.IdleGap != 10*time.Minute {
		t.Errorf("Timeline.IdleGap = %v, want 10m", cfg.Timeline.IdleGap)
	}
	if cfg.Layout.ScaleDivisor != 13.0 {
		t.Errorf("Layout.ScaleDivisor = %g, want 13.0", cfg.Layout.ScaleDivisor)
	}

	// Verify defaults are still applied for unset values
	if cfg.Layout.RecordSize != 2 {
		t.Errorf("Layout.RecordSize = %d, want 2 (default)", cfg.Layout.RecordSize)
	}
	if cfg.Timeline.SampleInterval != 2*time.Second {
		t.Errorf("Timeline.SampleInterval = %v, want 2s (default)", cfg.Timeline.SampleInterval)
	}
}

// TestLoadWithKoanfSliceEnvVars tests comma-separated slice parsing from env vars
func TestLoadWithKoanfSliceEnvVars(t *testing.T) {
	os.Clearenv()

	os.Setenv("DATA_DIR", "/mnt/sdcard")
	os.Setenv("SCALE_CANDIDATES", "12.5, 14.0, 15.0")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	want := []float64{12.5, 14.0, 15.0}
	if len(cfg.Layout.ScaleCandidates) != len(want) {
		t.Fatalf("Layout.ScaleCandidates has %d entries, want %d: %v",
			len(cfg.Layout.ScaleCandidates), len(want), cfg.Layout.ScaleCandidates)
	}
	for i, v := range want {
		if cfg.Layout.ScaleCandidates[i] != v {
			t.Errorf("Layout.ScaleCandidates[%d] = %g, want %g", i, cfg.Layout.ScaleCandidates[i], v)
		}
	}
}

// TestLoadWithKoanfConfigFile tests loading configuration from a YAML file
func TestLoadWithKoanfConfigFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `
input:
  data_dir: "/data/resmart"
  device_id: "GII-5931"

layout:
  scale_divisor: 12.5

timeline:
  idle_gap: 7m

logging:
  level: "warn"
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	os.Clearenv()
	os.Setenv(ConfigPathEnvVar, configPath)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	// Verify values from config file
	if cfg.Input.DataDir != "/data/resmart" {
		t.Errorf("Input.DataDir = %q, want /data/resmart", cfg.Input.DataDir)
	}
	if cfg.Input.DeviceID != "GII-5931" {
		t.Errorf("Input.DeviceID = %q, want GII-5931", cfg.Input.DeviceID)
	}
	if cfg.Layout.ScaleDivisor != 12.5 {
		t.Errorf("Layout.ScaleDivisor = %g, want 12.5", cfg.Layout.ScaleDivisor)
	}
	if cfg.Timeline.IdleGap != 7*time.Minute {
		t.Errorf("Timeline.IdleGap = %v, want 7m", cfg.Timeline.IdleGap)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}

	// Verify defaults are still applied for unset values
	if cfg.Events.MergeGapSamples != 2 {
		t.Errorf("Events.MergeGapSamples = %d, want 2 (default)", cfg.Events.MergeGapSamples)
	}
}

// TestLoadWithKoanfEnvOverridesFile tests that env vars override config file
func TestLoadWithKoanfEnvOverridesFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `
input:
  data_dir: "/data/resmart"

timeline:
  idle_gap: 7m

logging:
  level: "warn"
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	os.Clearenv()
	os.Setenv(ConfigPathEnvVar, configPath)
	os.Setenv("IDLE_GAP", "15m")    // Override value from config file
	os.Setenv("LOG_LEVEL", "error") // Override log level from config file
	os.Setenv("MONTH_DAYS", "31")   // Override a default value

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	// Verify values from config file (not overridden by env)
	if cfg.Input.DataDir != "/data/resmart" {
		t.Errorf("Input.DataDir = %q, want /data/resmart (from file)", cfg.Input.DataDir)
	}

	// Verify env vars override config file
	if cfg.Timeline.IdleGap != 15*time.Minute {
		t.Errorf("Timeline.IdleGap = %v, want 15m (env override)", cfg.Timeline.IdleGap)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %q, want error (env override)", cfg.Logging.Level)
	}

	// Verify env vars override defaults
	if cfg.Metrics.MonthDays != 31 {
		t.Errorf("Metrics.MonthDays = %d, want 31 (env override)", cfg.Metrics.MonthDays)
	}
}

// TestLoadWithKoanfValidation tests that validation still works
func TestLoadWithKoanfValidation(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name:    "missing DATA_DIR",
			envVars: map[string]string{},
			wantErr: true,
		},
		{
			name: "invalid RECORD_SIZE",
			envVars: map[string]string{
				"DATA_DIR":    "/mnt/sdcard",
				"RECORD_SIZE": "0",
			},
			wantErr: true,
		},
		{
			name: "inverted envelope",
			envVars: map[string]string{
				"DATA_DIR":     "/mnt/sdcard",
				"ENVELOPE_MIN": "30",
				"ENVELOPE_MAX": "10",
			},
			wantErr: true,
		},
		{
			name: "unsupported WINDOW_MONTHS",
			envVars: map[string]string{
				"DATA_DIR":      "/mnt/sdcard",
				"WINDOW_MONTHS": "7",
			},
			wantErr: true,
		},
		{
			name: "valid configuration",
			envVars: map[string]string{
				"DATA_DIR": "/mnt/sdcard",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			_, err := LoadWithKoanf()

			if tt.wantErr {
				if err == nil {
					t.Errorf("LoadWithKoanf() expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("LoadWithKoanf() unexpected error = %v", err)
				}
			}
		})
	}
}

// TestLoadDelegatesToKoanf ensures the Load entry point wires through the
// koanf loader with defaults intact
func TestLoadDelegatesToKoanf(t *testing.T) {
	os.Clearenv()
	os.Setenv("DATA_DIR", "/mnt/sdcard")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Input.DataDir != "/mnt/sdcard" {
		t.Errorf("Input.DataDir = %q, want /mnt/sdcard", cfg.Input.DataDir)
	}
	if cfg.Layout.RecordSize != 2 {
		t.Errorf("Layout.RecordSize = %d, want 2 (default)", cfg.Layout.RecordSize)
	}
}
