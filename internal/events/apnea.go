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

// ApneaDetector flags sustained flat plateaus in the pressure trace.
//
// During an apnea the airway is closed and respiratory modulation of the
// delivered pressure collapses, so the trace sits inside a narrow band
// around the set pressure. The detector slides a window sized to the
// minimum event duration across each session and flags windows whose
// standard deviation stays at or under the flatness band. Overlapping
// flagged windows chain into one candidate, which guarantees every
// candidate already meets the duration floor.
type ApneaDetector struct {
	config  ApneaConfig
	enabled bool
	mu      sync.RWMutex
}

// NewApneaDetector creates an apnea detector with default configuration.
func NewApneaDetector() *ApneaDetector {
	return &ApneaDetector{
		config:  DefaultApneaConfig(),
		enabled: true,
	}
}

// Kind returns the detector kind.
func (d *ApneaDetector) Kind() Kind {
	return KindApnea
}

// Enabled returns whether this detector is enabled.
func (d *ApneaDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *ApneaDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Configure updates the detector configuration.
func (d *ApneaDetector) Configure(config json.RawMessage) error {
	var cfg ApneaConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("invalid apnea config: %w", err)
	}

	if cfg.MinDuration <= 0 {
		return fmt.Errorf("min_duration must be positive")
	}
	if cfg.FlatnessBand <= 0 {
		return fmt.Errorf("flatness_band must be positive")
	}
	if cfg.MergeGapSamples < 0 {
		return fmt.Errorf("merge_gap_samples must not be negative")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = cfg
	return nil
}

// Scan evaluates one session for apnea plateaus.
func (d *ApneaDetector) Scan(session *timeline.Session) []Event {
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
	if width < 2 || len(points) < width {
		return nil
	}

	flagged := make([]bool, len(points)-width+1)
	for i := range flagged {
		mean, stddev, usable := windowStats(points[i : i+width])
		// Plateaus at zero pressure are blower-off stretches, not
		// airway events.
		flagged[i] = usable && mean > 0 && stddev <= cfg.FlatnessBand
	}

	spans := mergeSpans(chainWindows(flagged, width), cfg.MergeGapSamples)
	if len(spans) == 0 {
		return nil
	}

	events := make([]Event, 0, len(spans))
	for _, sp := range spans {
		events = append(events, spanEvent(session, sp, interval, KindApnea, d.severity(cfg, sp, interval, points)))
	}
	return events
}

// severity ranks a plateau by how long it lasted and how completely the
// respiratory modulation collapsed. Internal ordering aid only.
func (d *ApneaDetector) severity(cfg ApneaConfig, sp span, interval time.Duration, points []timeline.Point) float64 {
	duration := float64(sp.samples()) * interval.Seconds()
	durFactor := clamp01(duration / (3 * cfg.MinDuration.Seconds()))
	depthFactor := clamp01(1 - spanStddev(points[sp.first:sp.last+1])/cfg.FlatnessBand)
	return clamp01(0.6*durFactor + 0.4*depthFactor)
}
