// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package analyzer

import (
	"time"

	"github.com/tomtom215/barograph/internal/clinical"
	"github.com/tomtom215/barograph/internal/correlation"
	"github.com/tomtom215/barograph/internal/decoder"
	"github.com/tomtom215/barograph/internal/events"
	"github.com/tomtom215/barograph/internal/metrics"
	"github.com/tomtom215/barograph/internal/sdcard"
)

// Result is the complete outcome of one analysis run over one SD card
// file set. It is self-contained: every number a report or export
// presents, plus the provenance needed to reproduce it, is in here.
type Result struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	DeviceID    string    `json:"device_id"`
	DataDir     string    `json:"data_dir"`

	Aggregate  metrics.Aggregate        `json:"aggregate"`
	Assessment clinical.Assessment      `json:"assessment"`
	Sessions   []metrics.SessionMetrics `json:"sessions"`
	Events     []events.Event           `json:"events"`

	// AnnotationCrossCheck is nil when the card carries no .evt file.
	AnnotationCrossCheck *events.CrossCheck `json:"annotation_cross_check,omitempty"`

	// Correlation is nil unless a reference summary was configured and
	// loaded cleanly.
	Correlation *correlation.Result `json:"correlation,omitempty"`

	DataQuality DataQuality `json:"data_quality"`
	Stats       RunStats    `json:"stats"`

	// Disclaimer travels with the result so no artifact can present
	// estimated events without it.
	Disclaimer string `json:"disclaimer"`
}

// DataQuality accounts for every input byte and every degradation the
// run absorbed instead of failing on.
type DataQuality struct {
	// Manifest lists every recognized device file with its size and
	// BLAKE2b fingerprint, exactly as discovery saw it.
	Manifest []sdcard.File `json:"manifest"`

	// Segments reports the decode outcome per segment file, in number
	// order.
	Segments []SegmentQuality `json:"segments"`

	Warnings []Warning `json:"warnings,omitempty"`

	// TimingSource summarizes session timestamp provenance: a
	// timeline source when all sessions agree, otherwise TimingMixed,
	// or TimingNone when the run produced no sessions.
	TimingSource string `json:"timing_source"`

	// ScaleDivisor is the count-to-cmH2O divisor the run actually
	// used. Calibrated reports whether it came from auto-calibration
	// rather than configuration or the fallback constant.
	ScaleDivisor float64 `json:"scale_divisor"`
	Calibrated   bool    `json:"calibrated"`

	LogPresent bool `json:"log_present"`
	EvtPresent bool `json:"evt_present"`
}

// SegmentQuality is the decode outcome for one segment file.
type SegmentQuality struct {
	Number  int                   `json:"number"`
	Status  decoder.SegmentStatus `json:"status"`
	Samples int                   `json:"samples"`

	// Checksum is the xxHash64 of the file content, hex-encoded so
	// JSON consumers keep all 64 bits.
	Checksum string `json:"checksum"`

	Detail string `json:"detail,omitempty"`
}

// TimingSource summary values beyond the per-session timeline sources.
const (
	// TimingNone means the run produced no sessions at all.
	TimingNone = "none"

	// TimingMixed means sessions disagree on their timing source.
	TimingMixed = "mixed"
)

// Warning is one non-fatal degradation, attributed to the pipeline
// stage that raised it.
type Warning struct {
	Stage  string `json:"stage"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Warning stages, in pipeline order.
const (
	StageCalibration = "calibration"
	StageDecode      = "decode"
	StageTimeline    = "timeline"
	StageCorrelation = "correlation"
)

// Warning kinds raised by the run itself. Timeline warnings pass
// through with the kinds declared in internal/timeline.
const (
	WarnCalibrationFallback = "calibration_fallback"
	WarnDuplicateSegments   = "duplicate_segment_content"
	WarnLogUnusable         = "log_unusable"
	WarnReferenceMismatch   = "reference_mismatch"
)

// RunStats tracks what one analysis run read, decoded and produced.
type RunStats struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	BytesRead       int64 `json:"bytes_read"`
	SegmentsTotal   int   `json:"segments_total"`
	SegmentsOK      int   `json:"segments_ok"`
	SegmentsPartial int   `json:"segments_partial"`
	SegmentsCorrupt int   `json:"segments_corrupt"`
	SamplesDecoded  int   `json:"samples_decoded"`
	SessionCount    int   `json:"session_count"`
	EventCount      int   `json:"event_count"`
	WarningCount    int   `json:"warning_count"`
}

// Duration returns how long the run took, or has been going when it
// has not finished yet.
func (s *RunStats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// DecodeSuccessPercent returns the share of segment files that yielded
// samples, 0-100.
func (s *RunStats) DecodeSuccessPercent() float64 {
	if s.SegmentsTotal == 0 {
		return 0
	}
	return float64(s.SegmentsTotal-s.SegmentsCorrupt) / float64(s.SegmentsTotal) * 100
}

// SamplesPerSecond returns the decode throughput over the run so far.
func (s *RunStats) SamplesPerSecond() float64 {
	seconds := s.Duration().Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(s.SamplesDecoded) / seconds
}

// RunSummary is the loggable snapshot of one run's statistics.
type RunSummary struct {
	Status           string    `json:"status"`
	StartTime        time.Time `json:"start_time"`
	DurationSeconds  float64   `json:"duration_seconds"`
	BytesRead        int64     `json:"bytes_read"`
	SegmentsTotal    int       `json:"segments_total"`
	SegmentsCorrupt  int       `json:"segments_corrupt"`
	DecodePercent    float64   `json:"decode_success_percent"`
	SamplesDecoded   int       `json:"samples_decoded"`
	SamplesPerSecond float64   `json:"samples_per_second"`
	Sessions         int       `json:"sessions"`
	Events           int       `json:"events"`
	Warnings         int       `json:"warnings"`
}

// ToSummary converts the stats to a summary for logging.
func (s *RunStats) ToSummary() *RunSummary {
	summary := &RunSummary{
		Status:           "completed",
		StartTime:        s.StartTime,
		DurationSeconds:  s.Duration().Seconds(),
		BytesRead:        s.BytesRead,
		SegmentsTotal:    s.SegmentsTotal,
		SegmentsCorrupt:  s.SegmentsCorrupt,
		DecodePercent:    s.DecodeSuccessPercent(),
		SamplesDecoded:   s.SamplesDecoded,
		SamplesPerSecond: s.SamplesPerSecond(),
		Sessions:         s.SessionCount,
		Events:           s.EventCount,
		Warnings:         s.WarningCount,
	}
	if s.EndTime.IsZero() {
		summary.Status = "running"
	}
	return summary
}
