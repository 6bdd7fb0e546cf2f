// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

// Package correlation cross-checks computed aggregates against an external
// reference summary, typically the vendor mobile app's own statistics for
// the same card. It answers one question: does an independent analysis of
// the raw SD data land close enough to the vendor's numbers to trust both?
//
// Each metric present on both sides contributes a similarity in [0,1]:
// 1 minus the mismatch relative to the reference magnitude, clamped at
// zero. The overall similarity is the mean over those shared metrics.
// Comparisons built on too few shared metrics are flagged LOW_CONFIDENCE
// rather than suppressed, so the report can still show the little it knows.
package correlation

import (
	"math"

	"github.com/tomtom215/barograph/internal/logging"
	"github.com/tomtom215/barograph/internal/metrics"
)

// Confidence labels how trustworthy an overall similarity is.
type Confidence string

const (
	// ConfidenceNormal means enough metrics were present on both sides
	// for the overall similarity to be meaningful.
	ConfidenceNormal Confidence = "NORMAL"

	// ConfidenceLow flags a comparison built on fewer shared metrics
	// than the configured floor.
	ConfidenceLow Confidence = "LOW_CONFIDENCE"
)

// DefaultMinComparableMetrics is the fewest shared metrics a comparison
// needs before its overall similarity is reported at normal confidence.
const DefaultMinComparableMetrics = 3

// MetricDelta compares one metric across both sources. RelDelta is the
// absolute delta over the reference magnitude and stays zero when the
// reference is zero, where no relative scale exists.
type MetricDelta struct {
	Name       string  `json:"name"`
	Reference  float64 `json:"reference"`
	Computed   float64 `json:"computed"`
	Delta      float64 `json:"delta"`
	AbsDelta   float64 `json:"abs_delta"`
	RelDelta   float64 `json:"rel_delta"`
	Similarity float64 `json:"similarity"`
}

// Result is the outcome of correlating an aggregate with a reference.
// Skipped lists reference metrics the analysis could not produce a
// counterpart for, such as leak rates on a pressure-only card.
type Result struct {
	Metrics    []MetricDelta `json:"metrics"`
	Skipped    []string      `json:"skipped_metrics,omitempty"`
	Comparable int           `json:"comparable_metrics"`
	Overall    float64       `json:"overall_similarity"`
	Confidence Confidence    `json:"confidence"`
}

// comparisons pairs each reference field with the aggregate value that
// answers it. The bool reports whether the aggregate side is defined at
// all: an AHI without qualifying hours, pressure statistics without a
// single active sample, or usage percentages over an empty window have
// nothing to compare against.
var comparisons = []struct {
	name string
	ref  func(Reference) *float64
	agg  func(metrics.Aggregate) (float64, bool)
}{
	{
		name: "ahi",
		ref:  func(r Reference) *float64 { return r.AHI },
		agg:  func(a metrics.Aggregate) (float64, bool) { return a.AHI, a.AHIDefined },
	},
	{
		name: "avg_pressure",
		ref:  func(r Reference) *float64 { return r.AvgPressure },
		agg:  func(a metrics.Aggregate) (float64, bool) { return a.MeanPressure, a.MaxPressure > 0 },
	},
	{
		name: "p95_pressure",
		ref:  func(r Reference) *float64 { return r.P95Pressure },
		agg:  func(a metrics.Aggregate) (float64, bool) { return a.P95Pressure, a.MaxPressure > 0 },
	},
	{
		name: "min_pressure",
		ref:  func(r Reference) *float64 { return r.MinPressure },
		agg:  func(a metrics.Aggregate) (float64, bool) { return a.MinPressure, a.MaxPressure > 0 },
	},
	{
		name: "max_pressure",
		ref:  func(r Reference) *float64 { return r.MaxPressure },
		agg:  func(a metrics.Aggregate) (float64, bool) { return a.MaxPressure, a.MaxPressure > 0 },
	},
	{
		// Leak is measured by the blower's flow sensor and never reaches
		// the pressure channel on the card, so no counterpart exists.
		name: "avg_leak",
		ref:  func(r Reference) *float64 { return r.AvgLeak },
		agg:  func(metrics.Aggregate) (float64, bool) { return 0, false },
	},
	{
		name: "usage_days_percent",
		ref:  func(r Reference) *float64 { return r.UsageDaysPercent },
		agg:  func(a metrics.Aggregate) (float64, bool) { return a.UsageDaysPercent, a.WindowDays > 0 },
	},
	{
		name: "usage_4h_percent",
		ref:  func(r Reference) *float64 { return r.Usage4hPercent },
		agg:  func(a metrics.Aggregate) (float64, bool) { return a.Usage4hPercent, a.WindowDays > 0 },
	},
}

// Correlate compares an aggregate with a reference summary using
// DefaultMinComparableMetrics as the confidence floor.
func Correlate(agg metrics.Aggregate, ref Reference) Result {
	return CorrelateWithMinimum(agg, ref, DefaultMinComparableMetrics)
}

// CorrelateWithMinimum is Correlate with an explicit comparable-metric
// floor. Floors below one fall back to the default.
func CorrelateWithMinimum(agg metrics.Aggregate, ref Reference, minComparable int) Result {
	if minComparable < 1 {
		minComparable = DefaultMinComparableMetrics
	}

	res := Result{Metrics: make([]MetricDelta, 0, len(comparisons))}

	var sum float64
	for _, c := range comparisons {
		refVal := c.ref(ref)
		if refVal == nil {
			continue
		}
		computed, ok := c.agg(agg)
		if !ok {
			res.Skipped = append(res.Skipped, c.name)
			continue
		}
		d := compare(c.name, *refVal, computed)
		res.Metrics = append(res.Metrics, d)
		sum += d.Similarity
	}

	res.Comparable = len(res.Metrics)
	if res.Comparable > 0 {
		res.Overall = sum / float64(res.Comparable)
	}
	res.Confidence = ConfidenceNormal
	if res.Comparable < minComparable {
		res.Confidence = ConfidenceLow
	}

	logging.Debug().
		Int("comparable", res.Comparable).
		Int("skipped", len(res.Skipped)).
		Float64("overall_similarity", res.Overall).
		Str("confidence", string(res.Confidence)).
		Msg("reference correlation computed")

	return res
}

// compare scores one metric. An exact match scores 1; a computed value
// off by the full reference magnitude or more scores 0. A zero reference
// admits no relative scale, so agreement there is all or nothing.
func compare(name string, refVal, computed float64) MetricDelta {
	d := MetricDelta{
		Name:      name,
		Reference: refVal,
		Computed:  computed,
		Delta:     computed - refVal,
	}
	d.AbsDelta = math.Abs(d.Delta)

	scale := math.Abs(refVal)
	if scale == 0 {
		if d.AbsDelta == 0 {
			d.Similarity = 1
		}
		return d
	}

	d.RelDelta = d.AbsDelta / scale
	d.Similarity = math.Max(0, 1-d.RelDelta)
	return d
}
