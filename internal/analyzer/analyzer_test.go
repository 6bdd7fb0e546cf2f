// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package analyzer

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/barograph/internal/config"
	"github.com/tomtom215/barograph/internal/correlation"
	"github.com/tomtom215/barograph/internal/decoder"
	"github.com/tomtom215/barograph/internal/events"
	"github.com/tomtom215/barograph/internal/timeline"
)

const testDeviceID = "B3927162"

var sessionStart = time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)

// oscillating builds n little-endian uint16 records alternating between
// base and base+8. The alternation keeps the rolling stddev well above
// the apnea flatness band so fixtures stay event-free.
func oscillating(n int, base uint16) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		c := base
		if i%2 == 1 {
			c = base + 8
		}
		binary.LittleEndian.PutUint16(buf[i*2:], c)
	}
	return buf
}

// constant builds n records all holding the same count.
func constant(n int, count uint16) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], count)
	}
	return buf
}

// logEntry encodes one session log record.
func logEntry(start time.Time, seconds uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(start.Unix()))
	binary.LittleEndian.PutUint32(buf[4:8], seconds)
	return buf
}

// evtBlock encodes one device annotation block.
func evtBlock(typ byte, seconds uint16) []byte {
	buf := []byte{0xAA, 0xAA, 0xAA, 0xAA, typ, 0, 0}
	binary.LittleEndian.PutUint16(buf[5:7], seconds)
	return buf
}

func writeCard(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return dir
}

// testConfig mirrors the built-in defaults with a pinned scale divisor,
// so tests do not depend on calibration picking a candidate.
func testConfig(dir string) *config.Config {
	return &config.Config{
		Input: config.InputConfig{DataDir: dir},
		Layout: config.LayoutConfig{
			RecordSize:      2,
			ScaleDivisor:    13,
			ScaleCandidates: []float64{12.5, 13, 13.5, 14, 15},
			EnvelopeMin:     0,
			EnvelopeMax:     25,
			TherapeuticMin:  4,
			TherapeuticMax:  20,
		},
		Decode: config.DecodeConfig{Workers: 2},
		Timeline: config.TimelineConfig{
			SampleInterval:      2 * time.Second,
			IdleGap:             5 * time.Minute,
			RateMismatchPercent: 10,
		},
		Events: config.EventsConfig{
			ApneaEnabled:             true,
			ApneaMinDuration:         10 * time.Second,
			ApneaFlatnessBand:        0.12,
			HypopneaEnabled:          true,
			HypopneaMinDuration:      10 * time.Second,
			HypopneaReductionPercent: 30,
			BaselineWindow:           2 * time.Minute,
			MergeGapSamples:          2,
		},
		Metrics: config.MetricsConfig{
			MinimalUsageHours: 0.5,
			MonthDays:         30,
		},
		Correlation: config.CorrelationConfig{MinComparableMetrics: 3},
	}
}

func hasWarning(warns []Warning, stage, kind string) bool {
	for _, w := range warns {
		if w.Stage == stage && w.Kind == kind {
			return true
		}
	}
	return false
}

func TestRunFullCard(t *testing.T) {
	// One two-hour session: 3600 samples at 2s, anchored by the log.
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": oscillating(3600, 100),
		testDeviceID + ".log": logEntry(sessionStart, 7200),
	})

	result, err := Run(context.Background(), testConfig(dir))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.RunID == "" {
		t.Error("RunID is empty")
	}
	if result.GeneratedAt.IsZero() {
		t.Error("GeneratedAt is zero")
	}
	if result.DeviceID != testDeviceID {
		t.Errorf("DeviceID = %q, want %q (inferred)", result.DeviceID, testDeviceID)
	}
	if result.Disclaimer != events.EstimationDisclaimer {
		t.Errorf("Disclaimer = %q, want the estimation disclaimer", result.Disclaimer)
	}

	s := result.Stats
	if s.SegmentsTotal != 1 || s.SegmentsOK != 1 {
		t.Errorf("segments total/ok = %d/%d, want 1/1", s.SegmentsTotal, s.SegmentsOK)
	}
	if s.SamplesDecoded != 3600 {
		t.Errorf("SamplesDecoded = %d, want 3600", s.SamplesDecoded)
	}
	if s.SessionCount != 1 {
		t.Fatalf("SessionCount = %d, want 1", s.SessionCount)
	}
	if want := int64(7208); s.BytesRead != want {
		t.Errorf("BytesRead = %d, want %d", s.BytesRead, want)
	}
	if s.EndTime.Before(s.StartTime) {
		t.Errorf("EndTime %v before StartTime %v", s.EndTime, s.StartTime)
	}

	if got := result.Sessions[0].Start; !got.Equal(sessionStart) {
		t.Errorf("session start = %v, want %v", got, sessionStart)
	}
	if got := result.Sessions[0].UsageHours; math.Abs(got-2.0) > 1e-9 {
		t.Errorf("UsageHours = %v, want 2.0", got)
	}

	// Counts alternate 100/108, so the pooled mean is 104/13 = 8 cmH2O.
	if got := result.Aggregate.MeanPressure; math.Abs(got-8.0) > 1e-9 {
		t.Errorf("MeanPressure = %v, want 8.0", got)
	}
	if !result.Aggregate.AHIDefined {
		t.Error("AHIDefined = false, want true")
	}
	if result.Aggregate.AHI != 0 {
		t.Errorf("AHI = %v, want 0 (no events in an oscillating trace)", result.Aggregate.AHI)
	}
	if len(result.Events) != 0 {
		t.Errorf("Events = %d, want 0", len(result.Events))
	}

	q := result.DataQuality
	if q.TimingSource != "log_based" {
		t.Errorf("TimingSource = %q, want log_based", q.TimingSource)
	}
	if !q.LogPresent || q.EvtPresent {
		t.Errorf("LogPresent/EvtPresent = %v/%v, want true/false", q.LogPresent, q.EvtPresent)
	}
	if len(q.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", q.Warnings)
	}
	if q.ScaleDivisor != 13 || q.Calibrated {
		t.Errorf("divisor/calibrated = %v/%v, want 13/false", q.ScaleDivisor, q.Calibrated)
	}
	if len(q.Manifest) != 2 {
		t.Fatalf("Manifest entries = %d, want 2", len(q.Manifest))
	}
	for _, f := range q.Manifest {
		if f.Fingerprint == "" || f.Size == 0 {
			t.Errorf("manifest entry %s missing size or fingerprint", f.Name)
		}
	}
	if result.AnnotationCrossCheck != nil {
		t.Error("AnnotationCrossCheck set without an .evt file")
	}
	if result.Correlation != nil {
		t.Error("Correlation set without a reference path")
	}
}

func TestRunWithoutLog(t *testing.T) {
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": oscillating(3600, 100),
	})

	result, err := Run(context.Background(), testConfig(dir))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	q := result.DataQuality
	if q.LogPresent {
		t.Error("LogPresent = true, want false")
	}
	if q.TimingSource != "inferred_from_gaps" {
		t.Errorf("TimingSource = %q, want inferred_from_gaps", q.TimingSource)
	}
	if !hasWarning(q.Warnings, StageTimeline, timeline.WarnLowConfidenceTiming) {
		t.Errorf("warnings %v missing timeline/low_confidence_timing", q.Warnings)
	}
	if result.Stats.SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1", result.Stats.SessionCount)
	}
}

func TestRunUnusableLog(t *testing.T) {
	// Log bytes present but every record implausible: fall back to
	// gap inference and report why.
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": oscillating(3600, 100),
		testDeviceID + ".log": make([]byte, 16),
	})

	result, err := Run(context.Background(), testConfig(dir))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	q := result.DataQuality
	if !q.LogPresent {
		t.Error("LogPresent = false, want true (file exists, content unusable)")
	}
	if !hasWarning(q.Warnings, StageTimeline, WarnLogUnusable) {
		t.Errorf("warnings %v missing timeline/log_unusable", q.Warnings)
	}
	if q.TimingSource != "inferred_from_gaps" {
		t.Errorf("TimingSource = %q, want inferred_from_gaps", q.TimingSource)
	}
}

func TestRunCorruptSegmentAmongFive(t *testing.T) {
	// Four good segments and one truncated to a single byte. The good
	// ones still contribute; the corrupt one is accounted for.
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": oscillating(900, 100),
		testDeviceID + ".001": oscillating(900, 110),
		testDeviceID + ".002": {0xFF},
		testDeviceID + ".003": oscillating(900, 120),
		testDeviceID + ".004": oscillating(900, 130),
		testDeviceID + ".log": logEntry(sessionStart, 7200),
	})

	result, err := Run(context.Background(), testConfig(dir))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	s := result.Stats
	if s.SegmentsTotal != 5 || s.SegmentsOK != 4 || s.SegmentsCorrupt != 1 {
		t.Errorf("segments total/ok/corrupt = %d/%d/%d, want 5/4/1",
			s.SegmentsTotal, s.SegmentsOK, s.SegmentsCorrupt)
	}
	if s.SamplesDecoded != 3600 {
		t.Errorf("SamplesDecoded = %d, want 3600", s.SamplesDecoded)
	}
	if s.SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1", s.SessionCount)
	}

	if len(result.DataQuality.Segments) != 5 {
		t.Fatalf("quality segments = %d, want 5", len(result.DataQuality.Segments))
	}
	bad := result.DataQuality.Segments[2]
	if bad.Number != 2 || bad.Status != decoder.StatusCorrupt {
		t.Errorf("segment 002 quality = %+v, want corrupt", bad)
	}
	if bad.Detail == "" {
		t.Error("corrupt segment carries no detail")
	}
	if bad.Samples != 0 {
		t.Errorf("corrupt segment samples = %d, want 0", bad.Samples)
	}
	// Corrupt segments live in the segment table, not the warning list.
	if len(result.DataQuality.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", result.DataQuality.Warnings)
	}
}

func TestRunAllSegmentsCorrupt(t *testing.T) {
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": {0x01},
		testDeviceID + ".001": {0x02},
	})

	result, err := Run(context.Background(), testConfig(dir))
	if err == nil {
		t.Fatal("Run() error = nil, want failure when nothing decodes")
	}
	if result != nil {
		t.Errorf("Run() result = %+v, want nil", result)
	}
	if !strings.Contains(err.Error(), "no usable samples") {
		t.Errorf("error = %v, want mention of unusable samples", err)
	}
}

func TestRunAutoCalibration(t *testing.T) {
	// Constant count 300 only lands inside the therapeutic range for
	// divisor 15 (300/15 = 20.0); every other candidate's median falls
	// above it.
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": constant(1800, 300),
		testDeviceID + ".log": logEntry(sessionStart, 3600),
	})

	cfg := testConfig(dir)
	cfg.Layout.ScaleDivisor = 0

	result, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	q := result.DataQuality
	if q.ScaleDivisor != 15 {
		t.Errorf("ScaleDivisor = %v, want 15", q.ScaleDivisor)
	}
	if !q.Calibrated {
		t.Error("Calibrated = false, want true")
	}
	if hasWarning(q.Warnings, StageCalibration, WarnCalibrationFallback) {
		t.Errorf("unexpected calibration fallback in %v", q.Warnings)
	}
	// A perfectly flat trace is one long plateau.
	if result.Stats.EventCount == 0 {
		t.Error("EventCount = 0, want a plateau event from the flat trace")
	}
}

func TestRunCalibrationFallback(t *testing.T) {
	// Count 65535 scales outside the therapeutic range for every
	// candidate; the run falls back to the default divisor and every
	// sample lands outside the envelope as missing.
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": constant(1800, 65535),
	})

	cfg := testConfig(dir)
	cfg.Layout.ScaleDivisor = 0

	result, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v, want degraded success", err)
	}

	q := result.DataQuality
	if !hasWarning(q.Warnings, StageCalibration, WarnCalibrationFallback) {
		t.Errorf("warnings %v missing calibration/calibration_fallback", q.Warnings)
	}
	if q.ScaleDivisor != decoder.DefaultScaleDivisor {
		t.Errorf("ScaleDivisor = %v, want fallback %v", q.ScaleDivisor, decoder.DefaultScaleDivisor)
	}
	if q.Calibrated {
		t.Error("Calibrated = true after fallback")
	}
	if q.TimingSource != TimingNone {
		t.Errorf("TimingSource = %q, want %q", q.TimingSource, TimingNone)
	}
	if result.Stats.SessionCount != 0 {
		t.Errorf("SessionCount = %d, want 0 (all samples out of envelope)", result.Stats.SessionCount)
	}
	if !result.Assessment.InsufficientData {
		t.Error("Assessment.InsufficientData = false, want true with no sessions")
	}
	if result.Sessions == nil || result.Events == nil {
		t.Error("Sessions/Events are nil, want empty slices")
	}
}

func TestRunDuplicateSegments(t *testing.T) {
	// Segments 000 and 001 carry identical bytes; 002 is distinct.
	dup := oscillating(900, 100)
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": dup,
		testDeviceID + ".001": append([]byte(nil), dup...),
		testDeviceID + ".002": oscillating(900, 120),
	})

	result, err := Run(context.Background(), testConfig(dir))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var dups []Warning
	for _, w := range result.DataQuality.Warnings {
		if w.Kind == WarnDuplicateSegments {
			dups = append(dups, w)
		}
	}
	if len(dups) != 1 {
		t.Fatalf("duplicate warnings = %d (%v), want 1", len(dups), dups)
	}
	if !strings.Contains(dups[0].Detail, "000") || !strings.Contains(dups[0].Detail, "001") {
		t.Errorf("Detail = %q, want segments 000 and 001 named", dups[0].Detail)
	}
	if strings.Contains(dups[0].Detail, "002") {
		t.Errorf("Detail = %q names the distinct segment 002", dups[0].Detail)
	}
}

func TestRunAnnotationCrossCheck(t *testing.T) {
	evt := append(evtBlock(0x01, 15), evtBlock(0x01, 20)...)
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": oscillating(3600, 100),
		testDeviceID + ".log": logEntry(sessionStart, 7200),
		testDeviceID + ".evt": evt,
	})

	result, err := Run(context.Background(), testConfig(dir))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !result.DataQuality.EvtPresent {
		t.Error("EvtPresent = false, want true")
	}
	check := result.AnnotationCrossCheck
	if check == nil {
		t.Fatal("AnnotationCrossCheck = nil, want populated")
	}
	if check.Annotated != 2 {
		t.Errorf("Annotated = %d, want 2", check.Annotated)
	}
	if check.Detected != 0 {
		t.Errorf("Detected = %d, want 0", check.Detected)
	}
	if check.Verdict != events.VerdictUndercount {
		t.Errorf("Verdict = %q, want %q", check.Verdict, events.VerdictUndercount)
	}
	if check.ByType["Obstructive Apnea"] != 2 {
		t.Errorf("ByType = %v, want 2 obstructive apneas", check.ByType)
	}
}

func TestRunWithReference(t *testing.T) {
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": oscillating(3600, 100),
		testDeviceID + ".log": logEntry(sessionStart, 7200),
	})
	refPath := filepath.Join(t.TempDir(), "reference.json")
	if err := os.WriteFile(refPath, []byte(`{"ahi": 0}`), 0o644); err != nil {
		t.Fatalf("writing reference: %v", err)
	}

	cfg := testConfig(dir)
	cfg.Correlation.ReferencePath = refPath

	result, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	corr := result.Correlation
	if corr == nil {
		t.Fatal("Correlation = nil, want populated")
	}
	if corr.Comparable != 1 {
		t.Errorf("Comparable = %d, want 1 (only AHI present in the reference)", corr.Comparable)
	}
	if corr.Overall != 1.0 {
		t.Errorf("Overall = %v, want 1.0 (both sides zero)", corr.Overall)
	}
	if corr.Confidence != correlation.ConfidenceLow {
		t.Errorf("Confidence = %q, want %q under the comparable floor",
			corr.Confidence, correlation.ConfidenceLow)
	}
}

func TestRunReferenceMismatch(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T) string
	}{
		{
			name: "rejected content",
			prepare: func(t *testing.T) string {
				t.Helper()
				path := filepath.Join(t.TempDir(), "reference.json")
				if err := os.WriteFile(path, []byte(`{"ahi": -1}`), 0o644); err != nil {
					t.Fatalf("writing reference: %v", err)
				}
				return path
			},
		},
		{
			name: "missing file",
			prepare: func(t *testing.T) string {
				t.Helper()
				return filepath.Join(t.TempDir(), "absent.json")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeCard(t, map[string][]byte{
				testDeviceID + ".000": oscillating(3600, 100),
				testDeviceID + ".log": logEntry(sessionStart, 7200),
			})
			cfg := testConfig(dir)
			cfg.Correlation.ReferencePath = tt.prepare(t)

			result, err := Run(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Run() error = %v, want degraded success", err)
			}
			if result.Correlation != nil {
				t.Errorf("Correlation = %+v, want nil", result.Correlation)
			}
			if !hasWarning(result.DataQuality.Warnings, StageCorrelation, WarnReferenceMismatch) {
				t.Errorf("warnings %v missing correlation/reference_mismatch",
					result.DataQuality.Warnings)
			}
		})
	}
}

func TestRunCancelledContext(t *testing.T) {
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": oscillating(3600, 100),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Run(ctx, testConfig(dir))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if result != nil {
		t.Errorf("Run() result = %+v, want nil", result)
	}
}

func TestRunDeterministic(t *testing.T) {
	dir := writeCard(t, map[string][]byte{
		testDeviceID + ".000": oscillating(900, 100),
		testDeviceID + ".001": oscillating(900, 110),
		testDeviceID + ".log": logEntry(sessionStart, 3600),
	})
	cfg := testConfig(dir)

	first, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if !reflect.DeepEqual(first.Aggregate, second.Aggregate) {
		t.Errorf("aggregates differ:\n%+v\n%+v", first.Aggregate, second.Aggregate)
	}
	if !reflect.DeepEqual(first.Sessions, second.Sessions) {
		t.Error("session metrics differ between identical runs")
	}
	if !reflect.DeepEqual(first.Events, second.Events) {
		t.Error("events differ between identical runs")
	}
	if !reflect.DeepEqual(first.DataQuality, second.DataQuality) {
		t.Errorf("data quality differs:\n%+v\n%+v", first.DataQuality, second.DataQuality)
	}
	if first.RunID == second.RunID {
		t.Error("RunID repeated across runs")
	}
}

func TestDuplicateWarnings(t *testing.T) {
	segments := []decoder.Segment{
		{Number: 0, Checksum: 111},
		{Number: 1, Checksum: 222},
		{Number: 2, Checksum: 111},
		{Number: 3, Checksum: 333},
	}
	sizes := map[int]int{0: 10, 1: 10, 2: 10, 3: 10}

	warns := duplicateWarnings(segments, sizes)
	if len(warns) != 1 {
		t.Fatalf("duplicateWarnings() = %v, want one warning", warns)
	}
	if !strings.Contains(warns[0].Detail, "000") || !strings.Contains(warns[0].Detail, "002") {
		t.Errorf("Detail = %q, want segments 000 and 002 named", warns[0].Detail)
	}
}

func TestDuplicateWarningsSkipEmptyFiles(t *testing.T) {
	// Empty files share a checksum trivially and are already flagged
	// corrupt; they must not raise duplicate warnings.
	segments := []decoder.Segment{
		{Number: 0, Checksum: 999},
		{Number: 1, Checksum: 999},
		{Number: 2, Checksum: 111},
	}
	sizes := map[int]int{0: 0, 1: 0, 2: 10}

	if warns := duplicateWarnings(segments, sizes); len(warns) != 0 {
		t.Errorf("duplicateWarnings() = %v, want none", warns)
	}
}

func TestTimingSummary(t *testing.T) {
	tests := []struct {
		name     string
		sessions []timeline.Session
		want     string
	}{
		{"no sessions", nil, TimingNone},
		{
			"all log based",
			[]timeline.Session{{Timing: timeline.TimingLogBased}, {Timing: timeline.TimingLogBased}},
			"log_based",
		},
		{
			"all inferred",
			[]timeline.Session{{Timing: timeline.TimingInferred}},
			"inferred_from_gaps",
		},
		{
			"mixed",
			[]timeline.Session{{Timing: timeline.TimingLogBased}, {Timing: timeline.TimingInferred}},
			TimingMixed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := timingSummary(tt.sessions); got != tt.want {
				t.Errorf("timingSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}
