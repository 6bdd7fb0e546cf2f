// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package events

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/barograph/internal/timeline"
)

// EstimationDisclaimer must appear in every artifact that presents
// detected events. Detection works from the pressure signal alone, which
// is a best-effort estimate, not a certified diagnostic measurement.
const EstimationDisclaimer = "Respiratory events are estimated from the pressure signal alone " +
	"and are not a certified diagnostic measurement."

// Kind identifies the respiratory event category a detector produces.
type Kind string

const (
	// KindApnea marks a sustained flat/low-variance pressure plateau.
	KindApnea Kind = "apnea"

	// KindHypopnea marks a sustained amplitude reduction against the
	// session's rolling baseline.
	KindHypopnea Kind = "hypopnea"
)

// Event is one detected respiratory event.
//
// Events of the same kind never overlap within a session; candidates
// closer than the merge gap are unioned before they surface. Severity is
// an internal ranking aid and deliberately stays out of serialized
// output; clinical categories come from internal/clinical instead.
type Event struct {
	SessionID int           `json:"session_id"`
	Start     time.Time     `json:"start"`
	Duration  time.Duration `json:"duration"`
	Kind      Kind          `json:"kind"`
	Severity  float64       `json:"-"`
}

// End is the instant the event span closes.
func (e Event) End() time.Time {
	return e.Start.Add(e.Duration)
}

// Detector is the interface all event detectors implement.
type Detector interface {
	// Kind returns the event kind this detector produces.
	Kind() Kind

	// Scan evaluates one session and returns its detected events,
	// already merged per the detector's gap rule.
	Scan(session *timeline.Session) []Event

	// Configure updates the detector configuration.
	Configure(config json.RawMessage) error

	// Enabled returns whether this detector is currently enabled.
	Enabled() bool

	// SetEnabled enables or disables the detector.
	SetEnabled(enabled bool)
}

// ApneaConfig configures the apnea detector.
type ApneaConfig struct {
	// MinDuration is the shortest plateau that counts as an event.
	MinDuration time.Duration `json:"min_duration"`

	// FlatnessBand is the rolling-window standard deviation (cmH2O) at
	// or under which the signal counts as flat.
	FlatnessBand float64 `json:"flatness_band"`

	// MergeGapSamples merges same-kind candidates separated by fewer
	// than this many samples.
	MergeGapSamples int `json:"merge_gap_samples"`
}

// DefaultApneaConfig returns sensible defaults.
func DefaultApneaConfig() ApneaConfig {
	return ApneaConfig{
		MinDuration:     10 * time.Second, // clinical apnea floor
		FlatnessBand:    0.12,
		MergeGapSamples: 2,
	}
}

// HypopneaConfig configures the hypopnea detector.
type HypopneaConfig struct {
	// MinDuration is the shortest reduced-amplitude run that counts.
	MinDuration time.Duration `json:"min_duration"`

	// ReductionPercent is the amplitude drop against the rolling
	// baseline required to flag a window.
	ReductionPercent float64 `json:"reduction_percent"`

	// BaselineWindow is the trailing span the rolling amplitude
	// baseline averages over.
	BaselineWindow time.Duration `json:"baseline_window"`

	// MergeGapSamples merges same-kind candidates separated by fewer
	// than this many samples.
	MergeGapSamples int `json:"merge_gap_samples"`
}

// DefaultHypopneaConfig returns sensible defaults.
func DefaultHypopneaConfig() HypopneaConfig {
	return HypopneaConfig{
		MinDuration:      10 * time.Second,
		ReductionPercent: 30,
		BaselineWindow:   2 * time.Minute,
		MergeGapSamples:  2,
	}
}
