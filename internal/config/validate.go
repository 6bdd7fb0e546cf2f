// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package config

import "fmt"

// Validate checks the configuration for invalid or inconsistent values.
// Error messages name the environment variable that controls the offending
// setting so a misconfigured run is fixable without reading source.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateInput,
		c.validateLayout,
		c.validateDecode,
		c.validateTimeline,
		c.validateEvents,
		c.validateMetrics,
		c.validateCorrelation,
		c.validateLogging,
	}

	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateInput() error {
	if c.Input.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	return nil
}

func (c *Config) validateLayout() error {
	if c.Layout.RecordSize < 1 || c.Layout.RecordSize > 64 {
		return fmt.Errorf("RECORD_SIZE must be between 1 and 64, got %d", c.Layout.RecordSize)
	}
	if c.Layout.ScaleDivisor < 0 {
		return fmt.Errorf("SCALE_DIVISOR must be >= 0 (0 enables auto-calibration), got %g", c.Layout.ScaleDivisor)
	}
	if c.Layout.ScaleDivisor == 0 && len(c.Layout.ScaleCandidates) == 0 {
		return fmt.Errorf("SCALE_CANDIDATES must not be empty when SCALE_DIVISOR=0 (auto-calibration)")
	}
	for _, d := range c.Layout.ScaleCandidates {
		if d <= 0 {
			return fmt.Errorf("SCALE_CANDIDATES entries must be > 0, got %g", d)
		}
	}
	if c.Layout.EnvelopeMin >= c.Layout.EnvelopeMax {
		return fmt.Errorf("ENVELOPE_MIN (%g) must be below ENVELOPE_MAX (%g)",
			c.Layout.EnvelopeMin, c.Layout.EnvelopeMax)
	}
	if c.Layout.TherapeuticMin >= c.Layout.TherapeuticMax {
		return fmt.Errorf("THERAPEUTIC_MIN (%g) must be below THERAPEUTIC_MAX (%g)",
			c.Layout.TherapeuticMin, c.Layout.TherapeuticMax)
	}
	if c.Layout.TherapeuticMin < c.Layout.EnvelopeMin || c.Layout.TherapeuticMax > c.Layout.EnvelopeMax {
		return fmt.Errorf("therapeutic range [%g, %g] must lie inside envelope [%g, %g]",
			c.Layout.TherapeuticMin, c.Layout.TherapeuticMax,
			c.Layout.EnvelopeMin, c.Layout.EnvelopeMax)
	}
	return nil
}

func (c *Config) validateDecode() error {
	if c.Decode.Workers < 0 {
		return fmt.Errorf("DECODE_WORKERS must be >= 0 (0 = runtime.NumCPU()), got %d", c.Decode.Workers)
	}
	return nil
}

func (c *Config) validateTimeline() error {
	if c.Timeline.SampleInterval <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL must be positive, got %s", c.Timeline.SampleInterval)
	}
	if c.Timeline.IdleGap <= c.Timeline.SampleInterval {
		return fmt.Errorf("IDLE_GAP (%s) must exceed SAMPLE_INTERVAL (%s)",
			c.Timeline.IdleGap, c.Timeline.SampleInterval)
	}
	if c.Timeline.RateMismatchPercent < 0 || c.Timeline.RateMismatchPercent > 100 {
		return fmt.Errorf("RATE_MISMATCH_PERCENT must be within [0, 100], got %g", c.Timeline.RateMismatchPercent)
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.ApneaMinDuration <= 0 {
		return fmt.Errorf("APNEA_MIN_DURATION must be positive, got %s", c.Events.ApneaMinDuration)
	}
	if c.Events.ApneaFlatnessBand <= 0 {
		return fmt.Errorf("APNEA_FLATNESS_BAND must be positive, got %g", c.Events.ApneaFlatnessBand)
	}
	if c.Events.HypopneaMinDuration <= 0 {
		return fmt.Errorf("HYPOPNEA_MIN_DURATION must be positive, got %s", c.Events.HypopneaMinDuration)
	}
	if c.Events.HypopneaReductionPercent <= 0 || c.Events.HypopneaReductionPercent >= 100 {
		return fmt.Errorf("HYPOPNEA_REDUCTION_PERCENT must be within (0, 100), got %g",
			c.Events.HypopneaReductionPercent)
	}
	if c.Events.BaselineWindow <= 0 {
		return fmt.Errorf("BASELINE_WINDOW must be positive, got %s", c.Events.BaselineWindow)
	}
	if c.Events.MergeGapSamples < 0 {
		return fmt.Errorf("MERGE_GAP_SAMPLES must be >= 0, got %d", c.Events.MergeGapSamples)
	}
	return nil
}

func (c *Config) validateMetrics() error {
	switch c.Metrics.WindowMonths {
	case 0, 3, 6, 12:
		// Supported trailing windows; 0 = all history.
	default:
		return fmt.Errorf("WINDOW_MONTHS must be one of 0, 3, 6, 12, got %d", c.Metrics.WindowMonths)
	}
	if c.Metrics.MinimalUsageHours < 0 {
		return fmt.Errorf("MINIMAL_USAGE_HOURS must be >= 0, got %g", c.Metrics.MinimalUsageHours)
	}
	if c.Metrics.MonthDays < 28 || c.Metrics.MonthDays > 31 {
		return fmt.Errorf("MONTH_DAYS must be within [28, 31], got %d", c.Metrics.MonthDays)
	}
	return nil
}

func (c *Config) validateCorrelation() error {
	if c.Correlation.MinComparableMetrics < 1 {
		return fmt.Errorf("MIN_COMPARABLE_METRICS must be >= 1, got %d", c.Correlation.MinComparableMetrics)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
