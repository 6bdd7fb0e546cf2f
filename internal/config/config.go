// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package config

import "time"

// Config holds all application configuration loaded from environment variables and
// an optional YAML config file.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in device-calibrated defaults for all settings
//  2. Config File: Optional YAML config file (barograph.yaml) for persistent settings
//  3. Environment Variables: Override any setting via environment variables
//
// Every numeric analysis constant in this struct is a firmware-calibrated default, not
// ground truth: record layout, sampling interval and detection thresholds vary across
// device firmware revisions and should be validated against known-good reference
// recordings before absolute AHI/pressure values are trusted.
//
// Example - Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("Failed to load config")
//	}
//	// cfg.Input.DataDir, cfg.Timeline.IdleGap, etc. are now populated
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access.
type Config struct {
	Input       InputConfig       `koanf:"input"`
	Layout      LayoutConfig      `koanf:"layout"`
	Decode      DecodeConfig      `koanf:"decode"`
	Timeline    TimelineConfig    `koanf:"timeline"`
	Events      EventsConfig      `koanf:"events"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Correlation CorrelationConfig `koanf:"correlation"`
	Output      OutputConfig      `koanf:"output"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// InputConfig selects the SD card file set to analyze.
//
// Environment Variables:
//   - DATA_DIR: Directory containing the device file set (required)
//   - DEVICE_ID: Device file prefix, e.g. "B3927162" (default: auto-detect)
type InputConfig struct {
	// DataDir is the directory holding D.000..D.NNN, D.evt, D.log, D.idx.
	DataDir string `koanf:"data_dir"`

	// DeviceID is the filename prefix shared by the device's files.
	// Empty means auto-detect by probing for *.log / *.000 pairs.
	DeviceID string `koanf:"device_id"`
}

// LayoutConfig describes the binary record layout of segment files.
// Values are firmware-specific; the defaults match RESmart F-series cards.
//
// Environment Variables:
//   - RECORD_SIZE: Bytes per sample record (default: 2)
//   - SCALE_DIVISOR: Fixed uint16->cmH2O divisor; 0 enables auto-calibration (default: 0)
//   - SCALE_CANDIDATES: Comma-separated divisor candidates for calibration
//   - ENVELOPE_MIN / ENVELOPE_MAX: Sane physical pressure envelope in cmH2O (default: 0 / 25)
//   - THERAPEUTIC_MIN / THERAPEUTIC_MAX: Therapeutic range used by calibration (default: 4 / 20)
type LayoutConfig struct {
	// RecordSize is the fixed byte width of one sample record.
	RecordSize int `koanf:"record_size"`

	// ScaleDivisor converts raw little-endian counts to cmH2O.
	// 0 selects auto-calibration over ScaleCandidates.
	ScaleDivisor float64 `koanf:"scale_divisor"`

	// ScaleCandidates are the divisors tried during auto-calibration.
	ScaleCandidates []float64 `koanf:"scale_candidates"`

	// EnvelopeMin/EnvelopeMax bound physically plausible pressures.
	// Samples outside the envelope become sentinel "missing" samples.
	EnvelopeMin float64 `koanf:"envelope_min"`
	EnvelopeMax float64 `koanf:"envelope_max"`

	// TherapeuticMin/TherapeuticMax bound clinically expected pressures.
	// Calibration requires the median decoded pressure to land inside.
	TherapeuticMin float64 `koanf:"therapeutic_min"`
	TherapeuticMax float64 `koanf:"therapeutic_max"`
}

// DecodeConfig controls the parallel segment decode stage.
//
// Environment Variables:
//   - DECODE_WORKERS: Worker pool size; 0 uses runtime.NumCPU() (default: 0)
type DecodeConfig struct {
	Workers int `koanf:"workers"`
}

// TimelineConfig controls timestamp assignment and session splitting.
//
// Environment Variables:
//   - SAMPLE_INTERVAL: Time between consecutive samples (default: 2s)
//   - IDLE_GAP: Minimum idle gap that terminates a session (default: 5m)
//   - RATE_MISMATCH_PERCENT: Log-vs-sample-count divergence that triggers a
//     per-session effective-rate override (default: 10)
type TimelineConfig struct {
	SampleInterval      time.Duration `koanf:"sample_interval"`
	IdleGap             time.Duration `koanf:"idle_gap"`
	RateMismatchPercent float64       `koanf:"rate_mismatch_percent"`
}

// EventsConfig holds respiratory event detection thresholds.
// These drive best-effort signal-derived estimation, not certified diagnostics.
//
// Environment Variables:
//   - APNEA_ENABLED: Enable the apnea detector (default: true)
//   - APNEA_MIN_DURATION: Minimum plateau duration (default: 10s)
//   - APNEA_FLATNESS_BAND: Rolling stddev ceiling in cmH2O for a plateau (default: 0.12)
//   - HYPOPNEA_ENABLED: Enable the hypopnea detector (default: true)
//   - HYPOPNEA_MIN_DURATION: Minimum reduced-amplitude duration (default: 10s)
//   - HYPOPNEA_REDUCTION_PERCENT: Relative amplitude reduction threshold (default: 30)
//   - BASELINE_WINDOW: Rolling baseline span for amplitude comparison (default: 2m)
//   - MERGE_GAP_SAMPLES: Same-kind candidates closer than this merge (default: 2)
type EventsConfig struct {
	ApneaEnabled             bool          `koanf:"apnea_enabled"`
	ApneaMinDuration         time.Duration `koanf:"apnea_min_duration"`
	ApneaFlatnessBand        float64       `koanf:"apnea_flatness_band"`
	HypopneaEnabled          bool          `koanf:"hypopnea_enabled"`
	HypopneaMinDuration      time.Duration `koanf:"hypopnea_min_duration"`
	HypopneaReductionPercent float64       `koanf:"hypopnea_reduction_percent"`
	BaselineWindow           time.Duration `koanf:"baseline_window"`
	MergeGapSamples          int           `koanf:"merge_gap_samples"`
}

// MetricsConfig controls aggregation windows and qualification floors.
//
// Environment Variables:
//   - WINDOW_MONTHS: Trailing window in months, 0 = all history (default: 0; 3/6/12 typical)
//   - MINIMAL_USAGE_HOURS: Sessions shorter than this are excluded from AHI
//     aggregation but still count toward usage statistics (default: 0.5)
//   - MONTH_DAYS: Fixed days-per-month unit for reproducible windows (default: 30)
type MetricsConfig struct {
	WindowMonths      int     `koanf:"window_months"`
	MinimalUsageHours float64 `koanf:"minimal_usage_hours"`
	MonthDays         int     `koanf:"month_days"`
}

// CorrelationConfig controls the optional reference-summary comparison.
//
// Environment Variables:
//   - REFERENCE_PATH: JSON reference summary (e.g. mobile app statistics); empty disables
//   - MIN_COMPARABLE_METRICS: Below this count the result is LOW_CONFIDENCE (default: 3)
type CorrelationConfig struct {
	ReferencePath        string `koanf:"reference_path"`
	MinComparableMetrics int    `koanf:"min_comparable_metrics"`
}

// OutputConfig selects which artifacts to write. Empty paths disable an artifact;
// ReportPath "-" writes the text report to stdout.
//
// Environment Variables:
//   - EXPORT_PATH: JSON export of the full result object
//   - REPORT_PATH: Plain-text clinical report ("-" for stdout)
//   - CHART_PATH: PNG chart of nightly pressure/AHI trend
type OutputConfig struct {
	ExportPath string `koanf:"export_path"`
	ReportPath string `koanf:"report_path"`
	ChartPath  string `koanf:"chart_path"`
}

// LoggingConfig holds logging settings for zerolog.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: console, json (default: console)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from environment variables and an optional config file.
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Built-in defaults
//  2. Config file (barograph.yaml if exists, or path specified in CONFIG_PATH env var)
//  3. Environment variables
//
// See LoadWithKoanf() for the underlying implementation.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
