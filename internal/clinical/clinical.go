// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

// Package clinical maps aggregate metrics onto ordinal clinical
// categories using fixed threshold tables. Classification is a pure
// function of the aggregate; no category is ever inferred from partial
// data without an explicit insufficient_data fallback.
package clinical

import (
	"math"

	"github.com/tomtom215/barograph/internal/metrics"
)

// InsufficientData is the fallback category for any classification the
// aggregate cannot support.
const InsufficientData = "insufficient_data"

// Effectiveness grades overall therapy outcome.
type Effectiveness string

const (
	EffectivenessExcellent            Effectiveness = "EXCELLENT"
	EffectivenessGood                 Effectiveness = "GOOD"
	EffectivenessRequiresOptimization Effectiveness = "REQUIRES_OPTIMIZATION"
	EffectivenessInsufficient         Effectiveness = InsufficientData
)

// Compliance grades usage consistency.
type Compliance string

const (
	ComplianceExcellent    Compliance = "EXCELLENT"
	ComplianceModerate     Compliance = "MODERATE"
	CompliancePoor         Compliance = "POOR"
	ComplianceInsufficient Compliance = InsufficientData
)

// Stability grades night-to-night pressure consistency.
type Stability string

const (
	StabilityExcellent    Stability = "excellent"
	StabilityModerate     Stability = "moderate"
	StabilityPoor         Stability = "poor"
	StabilityInsufficient Stability = InsufficientData
)

// AHISeverity grades the apnea-hypopnea index.
type AHISeverity string

const (
	AHINormal       AHISeverity = "Normal"
	AHIMild         AHISeverity = "Mild"
	AHIModerate     AHISeverity = "Moderate"
	AHISevere       AHISeverity = "Severe"
	AHIInsufficient AHISeverity = InsufficientData
)

// Assessment is the full ordinal classification of one window.
// Immutable once computed and always recomputable from the same
// aggregate.
type Assessment struct {
	TherapyEffectiveness Effectiveness `json:"therapy_effectiveness"`
	ComplianceStatus     Compliance    `json:"compliance_status"`
	PressureStability    Stability     `json:"pressure_stability"`
	AHISeverity          AHISeverity   `json:"ahi_severity"`

	// InsufficientData is set when any category fell back.
	InsufficientData bool `json:"insufficient_data"`
}

// Threshold tables, ordered highest band first; the first band whose
// inclusive lower bound the value reaches wins. Kept as data so the
// clinical constants are auditable in one place.
var (
	complianceBands = []struct {
		min    float64
		status Compliance
	}{
		{70, ComplianceExcellent},
		{50, ComplianceModerate},
		{math.Inf(-1), CompliancePoor},
	}

	ahiBands = []struct {
		min      float64
		severity AHISeverity
	}{
		{30, AHISevere},
		{15, AHIModerate},
		{5, AHIMild},
		{math.Inf(-1), AHINormal},
	}

	stabilityBands = []struct {
		min   float64
		level Stability
	}{
		{0.9, StabilityExcellent},
		{0.75, StabilityModerate},
		{math.Inf(-1), StabilityPoor},
	}
)

// Classify derives the clinical assessment for one aggregate window.
func Classify(agg metrics.Aggregate) Assessment {
	if agg.SessionCount == 0 {
		return Assessment{
			TherapyEffectiveness: EffectivenessInsufficient,
			ComplianceStatus:     ComplianceInsufficient,
			PressureStability:    StabilityInsufficient,
			AHISeverity:          AHIInsufficient,
			InsufficientData:     true,
		}
	}

	a := Assessment{
		ComplianceStatus:  complianceFor(agg.UsageDaysPercent),
		PressureStability: stabilityFor(agg),
		AHISeverity:       severityFor(agg),
	}
	a.TherapyEffectiveness = effectivenessFor(a.AHISeverity, a.PressureStability)
	a.InsufficientData = a.ComplianceStatus == ComplianceInsufficient ||
		a.PressureStability == StabilityInsufficient ||
		a.AHISeverity == AHIInsufficient ||
		a.TherapyEffectiveness == EffectivenessInsufficient
	return a
}

func complianceFor(usagePercent float64) Compliance {
	for _, b := range complianceBands {
		if usagePercent >= b.min {
			return b.status
		}
	}
	return ComplianceInsufficient
}

func severityFor(agg metrics.Aggregate) AHISeverity {
	if !agg.AHIDefined {
		return AHIInsufficient
	}
	for _, b := range ahiBands {
		if agg.AHI >= b.min {
			return b.severity
		}
	}
	return AHIInsufficient
}

// stabilityFor bands the stability score. A single night produces a
// trivially perfect score, which is a sample-size artifact, not steady
// therapy; the metrics layer marks that case and it falls back here.
func stabilityFor(agg metrics.Aggregate) Stability {
	if agg.StabilityLabel == metrics.StabilityUnknown {
		return StabilityInsufficient
	}
	for _, b := range stabilityBands {
		if agg.PressureStability >= b.min {
			return b.level
		}
	}
	return StabilityInsufficient
}

// effectivenessFor combines AHI severity and pressure stability. The
// top grade requires a normal AHI and excellent stability; mild AHI
// with at least moderate stability still earns GOOD.
func effectivenessFor(severity AHISeverity, stability Stability) Effectiveness {
	if severity == AHIInsufficient || stability == StabilityInsufficient {
		return EffectivenessInsufficient
	}
	if severity == AHINormal && stability == StabilityExcellent {
		return EffectivenessExcellent
	}
	ahiOK := severity == AHINormal || severity == AHIMild
	stabilityOK := stability == StabilityExcellent || stability == StabilityModerate
	if ahiOK && stabilityOK {
		return EffectivenessGood
	}
	return EffectivenessRequiresOptimization
}
