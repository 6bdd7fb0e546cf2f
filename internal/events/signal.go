// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package events

import (
	"math"
	"time"

	"github.com/tomtom215/barograph/internal/timeline"
)

// span is a candidate event in sample-index space, both ends inclusive.
type span struct {
	first int
	last  int
}

func (s span) samples() int {
	return s.last - s.first + 1
}

// sampleInterval derives the sampling cadence from the first two points.
// The assembler emits uniformly spaced points, so one pair is enough.
// Returns 0 when the session is too short to carry a cadence.
func sampleInterval(points []timeline.Point) time.Duration {
	if len(points) < 2 {
		return 0
	}
	return points[1].Timestamp.Sub(points[0].Timestamp)
}

// minSamples converts a duration threshold into a window length in
// samples, rounding up so a run never undershoots the threshold.
func minSamples(d, interval time.Duration) int {
	if interval <= 0 {
		return 0
	}
	return int((d + interval - 1) / interval)
}

// windowStats computes mean and sample standard deviation over one
// window of points. A window touching a missing sample is unusable: a
// hole in the signal cannot support a flatness or amplitude claim.
func windowStats(points []timeline.Point) (mean, stddev float64, usable bool) {
	n := len(points)
	if n < 2 {
		return 0, 0, false
	}
	var sum float64
	for _, p := range points {
		if p.Missing {
			return 0, 0, false
		}
		sum += p.Pressure
	}
	mean = sum / float64(n)
	var sq float64
	for _, p := range points {
		d := p.Pressure - mean
		sq += d * d
	}
	variance := sq / float64(n-1)
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance), true
}

// windowAmplitude computes the peak-to-trough spread over one window, a
// cheap proxy for respiratory effort on the pressure trace. Windows with
// missing samples are unusable.
func windowAmplitude(points []timeline.Point) (amp float64, usable bool) {
	if len(points) < 2 {
		return 0, false
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if p.Missing {
			return 0, false
		}
		if p.Pressure < lo {
			lo = p.Pressure
		}
		if p.Pressure > hi {
			hi = p.Pressure
		}
	}
	return hi - lo, true
}

// chainWindows turns flagged rolling-window start positions into
// candidate spans. Window starts i and k describe overlapping or
// touching windows when k-i <= width, so their union stays contiguous;
// a larger step opens a real gap and starts a new candidate.
func chainWindows(flagged []bool, width int) []span {
	var spans []span
	chainStart, lastStart := -1, -1
	flush := func() {
		if chainStart >= 0 {
			spans = append(spans, span{first: chainStart, last: lastStart + width - 1})
		}
		chainStart, lastStart = -1, -1
	}
	for i, f := range flagged {
		if !f {
			continue
		}
		if chainStart >= 0 && i-lastStart <= width {
			lastStart = i
			continue
		}
		flush()
		chainStart, lastStart = i, i
	}
	flush()
	return spans
}

// mergeSpans unions same-kind candidates separated by fewer than gap
// samples. A separation of exactly gap samples keeps them apart.
func mergeSpans(spans []span, gap int) []span {
	if len(spans) < 2 {
		return spans
	}
	merged := spans[:1]
	for _, s := range spans[1:] {
		cur := &merged[len(merged)-1]
		between := s.first - cur.last - 1
		if between < gap {
			if s.last > cur.last {
				cur.last = s.last
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// spanStddev measures spread over an entire candidate span, skipping
// missing samples. Used for severity ranking only, so a hole in the
// span degrades the estimate instead of invalidating it.
func spanStddev(points []timeline.Point) float64 {
	var sum float64
	n := 0
	for _, p := range points {
		if p.Missing {
			continue
		}
		sum += p.Pressure
		n++
	}
	if n < 2 {
		return 0
	}
	mean := sum / float64(n)
	var sq float64
	for _, p := range points {
		if p.Missing {
			continue
		}
		d := p.Pressure - mean
		sq += d * d
	}
	variance := sq / float64(n-1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// spanEvent materializes a candidate span into an event anchored on the
// session's point timestamps.
func spanEvent(session *timeline.Session, sp span, interval time.Duration, kind Kind, severity float64) Event {
	return Event{
		SessionID: session.ID,
		Start:     session.Points[sp.first].Timestamp,
		Duration:  time.Duration(sp.samples()) * interval,
		Kind:      kind,
		Severity:  severity,
	}
}

// clamp01 bounds a severity component to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
