// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/barograph/internal/timeline"
)

// HypopneaDetector flags sustained partial reductions of respiratory
// effort.
//
// Breathing modulates the delivered pressure, so the peak-to-trough
// spread of a short window is a workable effort proxy. The detector
// compares each window's spread against a trailing rolling baseline of
// the same proxy and flags windows whose amplitude drops by at least the
// configured percentage. The baseline trails strictly behind the window
// under test so an ongoing reduction cannot drag down its own reference.
type HypopneaDetector struct {
	config  HypopneaConfig
	enabled bool
	mu      sync.RWMutex
}

// NewHypopneaDetector creates a hypopnea detector with default
// configuration.
func NewHypopneaDetector() *HypopneaDetector {
	return &HypopneaDetector{
		config:  DefaultHypopneaConfig(),
		enabled: true,
	}
}

// Kind returns the detector kind.
func (d *HypopneaDetector) Kind() Kind {
	return KindHypopnea
}

// Enabled returns whether this detector is enabled.
func (d *HypopneaDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *HypopneaDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Configure updates the detector configuration.
func (d *HypopneaDetector) Configure(config json.RawMessage) error {
	var cfg HypopneaConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("invalid hypopnea config: %w", err)
	}

	if cfg.MinDuration <= 0 {
		return fmt.Errorf("min_duration must be positive")
	}
	if cfg.ReductionPercent <= 0 || cfg.ReductionPercent >= 100 {
		return fmt.Errorf("reduction_percent must be between 0 and 100 exclusive")
	}
	if cfg.BaselineWindow <= 0 {
		return fmt.Errorf("baseline_window must be positive")
	}
	if cfg.MergeGapSamples < 0 {
		return fmt.Errorf("merge_gap_samples must not be negative")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = cfg
	return nil
}

// Scan evaluates one session for hypopnea runs.
func (d *HypopneaDetector) Scan(session *timeline.Session) []Event {
	d.mu.RLock()
	if !d.enabled {
		d.mu.RUnlock()
		return nil
	}
	cfg := d.config
	d.mu.RUnlock()

	points := session.Points
	interval := sampleInterval(points)
	if interval <= 0 {
		return nil
	}
	width := minSamples(cfg.MinDuration, interval)
	if width < 2 || len(points) < 2*width {
		return nil
	}
	baselineSpan := int(cfg.BaselineWindow / interval)
	if baselineSpan < width {
		baselineSpan = width
	}

	windows := len(points) - width + 1
	amps := make([]float64, windows)
	valid := make([]bool, windows)
	for i := 0; i < windows; i++ {
		window := points[i : i+width]
		amp, usable := windowAmplitude(window)
		if !usable {
			continue
		}
		mean, _, _ := windowStats(window)
		if mean <= 0 {
			// Blower-off stretches have no effort to reduce.
			continue
		}
		amps[i] = amp
		valid[i] = true
	}

	// Prefix sums over valid amplitudes keep the trailing baseline
	// lookup constant-time.
	ampSum := make([]float64, windows+1)
	ampCount := make([]int, windows+1)
	for i := 0; i < windows; i++ {
		ampSum[i+1] = ampSum[i]
		ampCount[i+1] = ampCount[i]
		if valid[i] {
			ampSum[i+1] += amps[i]
			ampCount[i+1]++
		}
	}

	cut := 1 - cfg.ReductionPercent/100
	flagged := make([]bool, windows)
	reduction := make([]float64, windows)
	for i := width; i < windows; i++ {
		if !valid[i] {
			continue
		}
		lo := i - baselineSpan
		if lo < 0 {
			lo = 0
		}
		count := ampCount[i] - ampCount[lo]
		if count < width {
			continue
		}
		baseline := (ampSum[i] - ampSum[lo]) / float64(count)
		if baseline <= 0 {
			continue
		}
		if amps[i] <= baseline*cut {
			flagged[i] = true
			reduction[i] = 1 - amps[i]/baseline
		}
	}

	spans := mergeSpans(chainWindows(flagged, width), cfg.MergeGapSamples)
	if len(spans) == 0 {
		return nil
	}

	events := make([]Event, 0, len(spans))
	for _, sp := range spans {
		events = append(events, spanEvent(session, sp, interval, KindHypopnea,
			d.severity(cfg, sp, interval, width, flagged, reduction)))
	}
	return events
}

// severity ranks a reduction run by how long it lasted and how far below
// the baseline it dipped. Internal ordering aid only.
func (d *HypopneaDetector) severity(cfg HypopneaConfig, sp span, interval time.Duration, width int, flagged []bool, reduction []float64) float64 {
	duration := float64(sp.samples()) * interval.Seconds()
	durFactor := clamp01(duration / (3 * cfg.MinDuration.Seconds()))

	threshold := cfg.ReductionPercent / 100
	deepest := threshold
	lastStart := sp.last - width + 1
	if lastStart >= len(flagged) {
		lastStart = len(flagged) - 1
	}
	for i := sp.first; i <= lastStart; i++ {
		if i >= 0 && flagged[i] && reduction[i] > deepest {
			deepest = reduction[i]
		}
	}
	depthFactor := clamp01((deepest - threshold) / (1 - threshold))
	return clamp01(0.6*durFactor + 0.4*depthFactor)
}
