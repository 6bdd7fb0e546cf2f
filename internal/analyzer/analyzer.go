// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/barograph/internal/clinical"
	"github.com/tomtom215/barograph/internal/config"
	"github.com/tomtom215/barograph/internal/correlation"
	"github.com/tomtom215/barograph/internal/decoder"
	"github.com/tomtom215/barograph/internal/events"
	"github.com/tomtom215/barograph/internal/logging"
	"github.com/tomtom215/barograph/internal/metrics"
	"github.com/tomtom215/barograph/internal/sdcard"
	"github.com/tomtom215/barograph/internal/timeline"
)

// Run executes one analysis over the card selected by cfg.
//
// The context is checked between stages; decode work already in flight
// finishes before a cancellation is honored. Identical inputs and
// configuration produce an identical Result apart from RunID and the
// run timestamps.
func Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	stats := RunStats{StartTime: time.Now().UTC()}

	logging.Info().
		Str("data_dir", cfg.Input.DataDir).
		Str("device_id", cfg.Input.DeviceID).
		Int("window_months", cfg.Metrics.WindowMonths).
		Msg("Analysis run starting")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs, err := sdcard.Discover(cfg.Input.DataDir, cfg.Input.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("discovering file set: %w", err)
	}
	stats.BytesRead = fs.TotalBytes()

	inputs := make([]decoder.Input, len(fs.Segments))
	sizes := make(map[int]int, len(fs.Segments))
	for i, sf := range fs.Segments {
		inputs[i] = decoder.Input{Number: sf.Number, Data: sf.Data}
		sizes[sf.Number] = len(sf.Data)
	}

	var warnings []Warning

	layout := decoder.Layout{
		RecordSize:   cfg.Layout.RecordSize,
		ScaleDivisor: cfg.Layout.ScaleDivisor,
		EnvelopeMin:  cfg.Layout.EnvelopeMin,
		EnvelopeMax:  cfg.Layout.EnvelopeMax,
	}
	calibrated := false
	if layout.ScaleDivisor <= 0 {
		divisor, err := decoder.Calibrate(inputs, layout, cfg.Layout.ScaleCandidates,
			cfg.Layout.TherapeuticMin, cfg.Layout.TherapeuticMax)
		if err != nil {
			layout.ScaleDivisor = decoder.DefaultScaleDivisor
			warnings = append(warnings, Warning{
				Stage: StageCalibration,
				Kind:  WarnCalibrationFallback,
				Detail: fmt.Sprintf("auto-calibration failed (%v); using divisor %g",
					err, decoder.DefaultScaleDivisor),
			})
			logging.Warn().Err(err).
				Float64("divisor", layout.ScaleDivisor).
				Msg("Calibration failed; using fallback divisor")
		} else {
			layout.ScaleDivisor = divisor
			calibrated = true
		}
	}

	segments := decoder.DecodeAll(inputs, layout, cfg.Decode.Workers)
	for _, seg := range segments {
		switch seg.Status {
		case decoder.StatusOK:
			stats.SegmentsOK++
		case decoder.StatusPartial:
			stats.SegmentsPartial++
		case decoder.StatusCorrupt:
			stats.SegmentsCorrupt++
		}
	}
	stats.SegmentsTotal = len(segments)
	stats.SamplesDecoded = decoder.SampleCount(segments)
	if stats.SamplesDecoded == 0 {
		return nil, fmt.Errorf("device %s: no usable samples in %d segment files",
			fs.DeviceID, len(segments))
	}
	warnings = append(warnings, duplicateWarnings(segments, sizes)...)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := timeline.ParseLog(fs.LogData)
	if err != nil {
		warnings = append(warnings, Warning{
			Stage:  StageTimeline,
			Kind:   WarnLogUnusable,
			Detail: err.Error(),
		})
		records = nil
	}

	sessions, tlWarns := timeline.Assemble(segments, records, timeline.Options{
		SampleInterval:      cfg.Timeline.SampleInterval,
		IdleGap:             cfg.Timeline.IdleGap,
		RateMismatchPercent: cfg.Timeline.RateMismatchPercent,
	})
	for _, w := range tlWarns {
		warnings = append(warnings, Warning{Stage: StageTimeline, Kind: w.Kind, Detail: w.Detail})
	}
	stats.SessionCount = len(sessions)

	engine, err := buildEngine(cfg)
	if err != nil {
		return nil, err
	}
	evs := engine.DetectAll(sessions)
	stats.EventCount = len(evs)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var crossCheck *events.CrossCheck
	if fs.EvtData != nil {
		check := events.CrossCheckAnnotations(evs, events.ParseAnnotations(fs.EvtData))
		crossCheck = &check
	}

	window := metrics.NewWindow(cfg.Metrics.WindowMonths)
	if cfg.Metrics.MonthDays > 0 {
		window.MonthDays = cfg.Metrics.MonthDays
	}
	if cfg.Metrics.MinimalUsageHours > 0 {
		window.MinimalUsageHours = cfg.Metrics.MinimalUsageHours
	}
	// A zero now anchors the window at the recording's end, so reruns
	// on the same card agree.
	agg, perSession := metrics.Compute(sessions, evs, window, time.Time{})
	assessment := clinical.Classify(agg)

	var corr *correlation.Result
	if cfg.Correlation.ReferencePath != "" {
		ref, err := correlation.LoadReference(cfg.Correlation.ReferencePath)
		if err != nil {
			warnings = append(warnings, Warning{
				Stage:  StageCorrelation,
				Kind:   WarnReferenceMismatch,
				Detail: err.Error(),
			})
			logging.Warn().Err(err).
				Str("path", cfg.Correlation.ReferencePath).
				Msg("Reference summary unusable; skipping correlation")
		} else {
			res := correlation.CorrelateWithMinimum(agg, ref, cfg.Correlation.MinComparableMetrics)
			corr = &res
		}
	}

	stats.EndTime = time.Now().UTC()
	stats.WarningCount = len(warnings)

	if perSession == nil {
		perSession = []metrics.SessionMetrics{}
	}
	if evs == nil {
		evs = []events.Event{}
	}

	result := &Result{
		RunID:                uuid.NewString(),
		GeneratedAt:          stats.EndTime,
		DeviceID:             fs.DeviceID,
		DataDir:              fs.Dir,
		Aggregate:            agg,
		Assessment:           assessment,
		Sessions:             perSession,
		Events:               evs,
		AnnotationCrossCheck: crossCheck,
		Correlation:          corr,
		DataQuality: DataQuality{
			Manifest:     fs.Manifest,
			Segments:     segmentQuality(segments),
			Warnings:     warnings,
			TimingSource: timingSummary(sessions),
			ScaleDivisor: layout.ScaleDivisor,
			Calibrated:   calibrated,
			LogPresent:   fs.LogData != nil,
			EvtPresent:   fs.EvtData != nil,
		},
		Stats:      stats,
		Disclaimer: events.EstimationDisclaimer,
	}

	summary := stats.ToSummary()
	logging.Info().
		Str("run_id", result.RunID).
		Str("device_id", fs.DeviceID).
		Float64("duration_seconds", summary.DurationSeconds).
		Int("segments", stats.SegmentsTotal).
		Int("samples", stats.SamplesDecoded).
		Int("sessions", stats.SessionCount).
		Int("events", stats.EventCount).
		Int("warnings", stats.WarningCount).
		Str("effectiveness", string(assessment.TherapyEffectiveness)).
		Msg("Analysis run completed")

	return result, nil
}

// buildEngine constructs the detection engine from configuration. Both
// detectors are always registered; disabled ones stay registered but
// are skipped at detection time.
func buildEngine(cfg *config.Config) (*events.Engine, error) {
	engine := events.NewEngine()

	apnea := events.NewApneaDetector()
	apnea.SetEnabled(cfg.Events.ApneaEnabled)
	apneaCfg, err := json.Marshal(events.ApneaConfig{
		MinDuration:     cfg.Events.ApneaMinDuration,
		FlatnessBand:    cfg.Events.ApneaFlatnessBand,
		MergeGapSamples: cfg.Events.MergeGapSamples,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding apnea detector config: %w", err)
	}
	if err := apnea.Configure(apneaCfg); err != nil {
		return nil, fmt.Errorf("configuring apnea detector: %w", err)
	}
	engine.Register(apnea)

	hypopnea := events.NewHypopneaDetector()
	hypopnea.SetEnabled(cfg.Events.HypopneaEnabled)
	hypopneaCfg, err := json.Marshal(events.HypopneaConfig{
		MinDuration:      cfg.Events.HypopneaMinDuration,
		ReductionPercent: cfg.Events.HypopneaReductionPercent,
		BaselineWindow:   cfg.Events.BaselineWindow,
		MergeGapSamples:  cfg.Events.MergeGapSamples,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding hypopnea detector config: %w", err)
	}
	if err := hypopnea.Configure(hypopneaCfg); err != nil {
		return nil, fmt.Errorf("configuring hypopnea detector: %w", err)
	}
	engine.Register(hypopnea)

	return engine, nil
}

// duplicateWarnings flags distinct segment files carrying byte-identical
// content. Firmware re-flushes after an unsafe card removal can leave
// the same block stored under two numbers, which double-counts usage
// downstream. Empty files are excluded; they are trivially identical
// and already flagged corrupt.
func duplicateWarnings(segments []decoder.Segment, sizes map[int]int) []Warning {
	bySum := make(map[uint64][]int)
	var order []uint64
	for _, seg := range segments {
		if sizes[seg.Number] == 0 {
			continue
		}
		if _, seen := bySum[seg.Checksum]; !seen {
			order = append(order, seg.Checksum)
		}
		bySum[seg.Checksum] = append(bySum[seg.Checksum], seg.Number)
	}

	var warns []Warning
	for _, sum := range order {
		numbers := bySum[sum]
		if len(numbers) < 2 {
			continue
		}
		names := make([]string, len(numbers))
		for i, n := range numbers {
			names[i] = fmt.Sprintf("%03d", n)
		}
		warns = append(warns, Warning{
			Stage:  StageDecode,
			Kind:   WarnDuplicateSegments,
			Detail: fmt.Sprintf("segments %s carry identical content", strings.Join(names, ", ")),
		})
	}
	return warns
}

// segmentQuality converts decoded segments into their data-quality
// entries, preserving number order.
func segmentQuality(segments []decoder.Segment) []SegmentQuality {
	quality := make([]SegmentQuality, len(segments))
	for i, seg := range segments {
		quality[i] = SegmentQuality{
			Number:   seg.Number,
			Status:   seg.Status,
			Samples:  len(seg.Samples),
			Checksum: fmt.Sprintf("%016x", seg.Checksum),
		}
		if seg.Err != nil {
			quality[i].Detail = seg.Err.Error()
		}
	}
	return quality
}

// timingSummary collapses per-session timing sources into one label.
func timingSummary(sessions []timeline.Session) string {
	if len(sessions) == 0 {
		return TimingNone
	}
	first := sessions[0].Timing
	for _, s := range sessions[1:] {
		if s.Timing != first {
			return TimingMixed
		}
	}
	return string(first)
}
