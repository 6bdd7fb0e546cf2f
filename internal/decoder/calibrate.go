// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package decoder

import (
	"fmt"
	"sort"

	"github.com/tomtom215/barograph/internal/logging"
)

// DefaultScaleDivisor is the fallback count-to-cmH2O divisor used when
// auto-calibration cannot pick a candidate. It sits in the middle of the
// firmware divisor range seen across RESmart units.
const DefaultScaleDivisor = 13.0

// CalibrationError reports that no candidate divisor produced a
// physiologically plausible pressure distribution.
type CalibrationError struct {
	Candidates []float64
	Samples    int
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("no divisor in %v places the median of %d samples inside the therapeutic range",
		e.Candidates, e.Samples)
}

// Calibrate selects the count-to-cmH2O divisor for a card whose firmware
// version is unknown.
//
// Each candidate divisor is scored by the fraction of nonzero counts it
// scales into the therapeutic range; a candidate only qualifies when the
// median scaled pressure also lands inside that range. The best-scoring
// qualifier wins, with ties going to the earlier candidate so repeat runs
// agree. Zero counts are idle (blower off) and are excluded from scoring
// so a card with long mask-off stretches still calibrates.
func Calibrate(inputs []Input, layout Layout, candidates []float64, therapeuticMin, therapeuticMax float64) (float64, error) {
	counts := collectCounts(inputs, layout)
	if len(counts) == 0 {
		return 0, &CalibrationError{Candidates: candidates, Samples: 0}
	}

	best := -1.0
	chosen := 0.0

	for _, divisor := range candidates {
		if divisor <= 0 {
			continue
		}

		inBand := 0
		scaled := make([]float64, len(counts))
		for i, c := range counts {
			p := float64(c) / divisor
			scaled[i] = p
			if p >= therapeuticMin && p <= therapeuticMax {
				inBand++
			}
		}

		med := median(scaled)
		if med < therapeuticMin || med > therapeuticMax {
			continue
		}

		score := float64(inBand) / float64(len(counts))
		if score > best {
			best = score
			chosen = divisor
		}
	}

	if best < 0 {
		return 0, &CalibrationError{Candidates: candidates, Samples: len(counts)}
	}

	logging.Info().
		Float64("divisor", chosen).
		Float64("in_band_fraction", best).
		Int("samples", len(counts)).
		Msg("Scale divisor calibrated")

	return chosen, nil
}

// collectCounts gathers every nonzero raw count from the complete records
// of every input segment. Trailing fragments and empty files contribute
// nothing, matching what Decode would later accept.
func collectCounts(inputs []Input, layout Layout) []uint16 {
	var counts []uint16
	for _, in := range inputs {
		if len(in.Data) < layout.RecordSize {
			continue
		}
		complete := len(in.Data) / layout.RecordSize
		for i := 0; i < complete; i++ {
			c := layout.count(in.Data, i*layout.RecordSize)
			if c == 0 {
				continue
			}
			counts = append(counts, c)
		}
	}
	return counts
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
