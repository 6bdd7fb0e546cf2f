// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package timeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tomtom215/barograph/internal/decoder"
	"github.com/tomtom215/barograph/internal/logging"
)

// TimingSource records which strategy produced a session's timestamps.
type TimingSource string

const (
	// TimingLogBased means the session anchored to a device log record.
	TimingLogBased TimingSource = "log_based"

	// TimingInferred means boundaries and timestamps were reconstructed
	// from pressure-trace gaps; absolute times carry low confidence.
	TimingInferred TimingSource = "inferred_from_gaps"
)

// Warning kinds surfaced into the data-quality section of the result.
const (
	WarnLowConfidenceTiming = "low_confidence_timing"
	WarnTimingInconsistency = "timing_inconsistency"
	WarnRateAdjusted        = "sampling_rate_adjusted"
)

// Warning is a non-fatal degradation notice from timeline assembly.
type Warning struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Point is one timestamped pressure reading. Timestamps strictly
// increase within a session.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Pressure  float64   `json:"pressure"`
	Missing   bool      `json:"missing,omitempty"`
}

// Session is one continuous therapy block.
type Session struct {
	ID       int           `json:"id"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
	Points   []Point       `json:"-"`

	// SegmentFirst and SegmentLast are the numeric suffixes of the first
	// and last segment files contributing samples to this session.
	SegmentFirst int `json:"segment_first"`
	SegmentLast  int `json:"segment_last"`

	Timing TimingSource `json:"timing"`
}

// UsageHours is the session duration in hours.
func (s *Session) UsageHours() float64 {
	return s.Duration.Hours()
}

// Options tunes timeline assembly.
type Options struct {
	// SampleInterval is the nominal device write rate (one sample per
	// interval). Adjusted at assembly time when the log disagrees by
	// more than RateMismatchPercent.
	SampleInterval time.Duration

	// IdleGap is the zero/missing run length at or beyond which the
	// stream splits into separate sessions.
	IdleGap time.Duration

	RateMismatchPercent float64

	// FallbackStart anchors the first inferred session when no log
	// record can supply an absolute time.
	FallbackStart time.Time
}

func (o Options) withDefaults() Options {
	if o.SampleInterval <= 0 {
		o.SampleInterval = 2 * time.Second
	}
	if o.IdleGap <= 0 {
		o.IdleGap = 5 * time.Minute
	}
	return o
}

// streamSample is one slot of the flattened card-wide sample stream.
type streamSample struct {
	pressure float64
	missing  bool
	segment  int
}

func (s streamSample) active() bool {
	return !s.missing && s.pressure > 0
}

// Assemble reconstructs ordered therapy sessions from decoded segments
// and the device session log.
//
// With usable log records, each session anchors to its log-reported
// start time and the log duration is authoritative. Without them the
// assembler falls back to splitting the stream on idle gaps, which
// yields correct relative structure but low-confidence absolute times;
// that fallback is reported as a warning, never an error.
func Assemble(segments []decoder.Segment, records []LogRecord, opts Options) ([]Session, []Warning) {
	opts = opts.withDefaults()

	stream := flatten(segments)
	if len(stream) == 0 {
		return nil, nil
	}

	if len(records) == 0 {
		warns := []Warning{{
			Kind:   WarnLowConfidenceTiming,
			Detail: "no usable session log; boundaries inferred from pressure gaps",
		}}
		sessions, inferWarns := assembleInferred(stream, opts.SampleInterval, opts.IdleGap, opts.FallbackStart, 1)
		warns = append(warns, inferWarns...)
		logAssembly(sessions, warns)
		return sessions, warns
	}

	sessions, warns := assembleLogBased(stream, records, opts)
	logAssembly(sessions, warns)
	return sessions, warns
}

// flatten concatenates segment samples into one stream ordered by
// segment number. Corrupt segments contribute nothing; the surrounding
// segments join directly, which the data-quality report accounts for.
func flatten(segments []decoder.Segment) []streamSample {
	ordered := make([]decoder.Segment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Number < ordered[j].Number
	})

	total := 0
	for _, seg := range ordered {
		total += len(seg.Samples)
	}

	stream := make([]streamSample, 0, total)
	for _, seg := range ordered {
		for _, s := range seg.Samples {
			stream = append(stream, streamSample{
				pressure: s.Pressure,
				missing:  s.Missing,
				segment:  seg.Number,
			})
		}
	}
	return stream
}

func assembleLogBased(stream []streamSample, records []LogRecord, opts Options) ([]Session, []Warning) {
	var warns []Warning

	ordered := make([]LogRecord, len(records))
	copy(ordered, records)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Start.Before(ordered[j].Start)
	})

	interval, rateWarn := effectiveInterval(stream, ordered, opts)
	if rateWarn != nil {
		warns = append(warns, *rateWarn)
	}

	var sessions []Session
	cursor := 0

	for i, rec := range ordered {
		if i > 0 {
			prev := ordered[i-1]
			if rec.Start.Before(prev.Start.Add(prev.Duration)) {
				warns = append(warns, Warning{
					Kind: WarnTimingInconsistency,
					Detail: fmt.Sprintf("log session starting %s overlaps the previous session",
						rec.Start.Format(time.RFC3339)),
				})
			}
		}

		if cursor >= len(stream) {
			warns = append(warns, Warning{
				Kind: WarnTimingInconsistency,
				Detail: fmt.Sprintf("log session starting %s has no samples in the stream",
					rec.Start.Format(time.RFC3339)),
			})
			continue
		}

		expected := int(math.Round(float64(rec.Duration) / float64(interval)))
		if expected < 1 {
			expected = 1
		}
		take := expected
		if remaining := len(stream) - cursor; take > remaining {
			take = remaining
			warns = append(warns, Warning{
				Kind: WarnTimingInconsistency,
				Detail: fmt.Sprintf("stream ends %d samples short of the log-reported duration for session %d",
					expected-take, len(sessions)+1),
			})
		}

		chunk := stream[cursor : cursor+take]
		cursor += take

		id := len(sessions) + 1
		points := make([]Point, len(chunk))
		for j, s := range chunk {
			points[j] = Point{
				Timestamp: rec.Start.Add(time.Duration(j) * interval),
				Pressure:  s.pressure,
				Missing:   s.missing,
			}
		}

		first, last := segmentSpan(chunk)
		sessions = append(sessions, Session{
			ID:           id,
			Start:        rec.Start,
			End:          rec.Start.Add(rec.Duration),
			Duration:     rec.Duration,
			Points:       points,
			SegmentFirst: first,
			SegmentLast:  last,
			Timing:       TimingLogBased,
		})
	}

	if cursor < len(stream) {
		tail := stream[cursor:]
		warns = append(warns, Warning{
			Kind: WarnLowConfidenceTiming,
			Detail: fmt.Sprintf("%d samples beyond the final log record; boundaries inferred",
				len(tail)),
		})

		anchor := opts.FallbackStart
		firstID := 1
		if n := len(sessions); n > 0 {
			anchor = sessions[n-1].End.Add(opts.IdleGap)
			firstID = sessions[n-1].ID + 1
		}

		tailSessions, tailWarns := assembleInferred(tail, interval, opts.IdleGap, anchor, firstID)
		sessions = append(sessions, tailSessions...)
		warns = append(warns, tailWarns...)
	}

	return sessions, warns
}

// effectiveInterval compares the configured sampling interval against
// what the log implies (total logged seconds over total stream samples)
// and overrides it when the deviation exceeds the mismatch threshold.
// This catches firmware builds writing at a different fixed rate.
func effectiveInterval(stream []streamSample, records []LogRecord, opts Options) (time.Duration, *Warning) {
	interval := opts.SampleInterval
	if opts.RateMismatchPercent <= 0 || len(stream) == 0 {
		return interval, nil
	}

	var totalLog time.Duration
	for _, rec := range records {
		totalLog += rec.Duration
	}
	if totalLog <= 0 {
		return interval, nil
	}

	effective := totalLog / time.Duration(len(stream))
	if effective <= 0 {
		return interval, nil
	}

	deviation := math.Abs(float64(effective-interval)) / float64(interval) * 100
	if deviation <= opts.RateMismatchPercent {
		return interval, nil
	}

	return effective, &Warning{
		Kind: WarnRateAdjusted,
		Detail: fmt.Sprintf("log implies one sample per %s, configured %s (%.0f%% off); using log rate",
			effective, interval, deviation),
	}
}

// assembleInferred splits the stream on idle gaps. A session is a
// maximal run of active samples; zero/missing runs shorter than the idle
// gap stay inside it (brief mask-off), runs at or beyond the gap split
// it. The clock advances one interval per stream slot from the anchor,
// so idle time between sessions still passes.
func assembleInferred(stream []streamSample, interval, idleGap time.Duration, anchor time.Time, firstID int) ([]Session, []Warning) {
	idleLimit := int((idleGap + interval - 1) / interval)
	if idleLimit < 1 {
		idleLimit = 1
	}

	var active []int
	for i, s := range stream {
		if s.active() {
			active = append(active, i)
		}
	}
	if len(active) == 0 {
		return nil, []Warning{{
			Kind:   WarnTimingInconsistency,
			Detail: "stream contains no active pressure samples",
		}}
	}

	type span struct{ first, last int }
	spans := []span{{first: active[0], last: active[0]}}
	for _, idx := range active[1:] {
		cur := &spans[len(spans)-1]
		if idx-cur.last-1 >= idleLimit {
			spans = append(spans, span{first: idx, last: idx})
			continue
		}
		cur.last = idx
	}

	sessions := make([]Session, 0, len(spans))
	for i, sp := range spans {
		chunk := stream[sp.first : sp.last+1]

		points := make([]Point, len(chunk))
		start := anchor.Add(time.Duration(sp.first) * interval)
		for j, s := range chunk {
			points[j] = Point{
				Timestamp: start.Add(time.Duration(j) * interval),
				Pressure:  s.pressure,
				Missing:   s.missing,
			}
		}

		duration := time.Duration(len(chunk)) * interval
		first, last := segmentSpan(chunk)
		sessions = append(sessions, Session{
			ID:           firstID + i,
			Start:        start,
			End:          start.Add(duration),
			Duration:     duration,
			Points:       points,
			SegmentFirst: first,
			SegmentLast:  last,
			Timing:       TimingInferred,
		})
	}

	return sessions, nil
}

func segmentSpan(chunk []streamSample) (first, last int) {
	if len(chunk) == 0 {
		return 0, 0
	}
	first, last = chunk[0].segment, chunk[0].segment
	for _, s := range chunk[1:] {
		if s.segment < first {
			first = s.segment
		}
		if s.segment > last {
			last = s.segment
		}
	}
	return first, last
}

func logAssembly(sessions []Session, warns []Warning) {
	logging.Debug().
		Int("sessions", len(sessions)).
		Int("warnings", len(warns)).
		Msg("Timeline assembled")
}
