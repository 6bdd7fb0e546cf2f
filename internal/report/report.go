// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

// Package report renders analysis results into the human-facing
// artifacts: a plain-text clinical report and a PNG trend chart. It
// consumes a finished Result and never mutates it.
package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/tomtom215/barograph/internal/analyzer"
	"github.com/tomtom215/barograph/internal/events"
	"github.com/tomtom215/barograph/internal/logging"
	"github.com/tomtom215/barograph/internal/metrics"
)

const lineWidth = 80

var (
	rule        = strings.Repeat("=", lineWidth)
	sectionRule = strings.Repeat("-", lineWidth)
)

// Render produces the full plain-text clinical report.
func Render(result *analyzer.Result) string {
	var b strings.Builder

	writeHeader(&b, result)
	writeDataQuality(&b, result)
	writeUsage(&b, result)
	writePressure(&b, result)
	writeEvents(&b, result)
	writeTrend(&b, result)
	writeCorrelation(&b, result)
	writeAssessment(&b, result)

	b.WriteString("\n")
	for _, l := range wrap(result.Disclaimer, lineWidth) {
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString(rule)
	b.WriteString("\n")

	return b.String()
}

// Write renders the report to path; "-" writes to stdout.
func Write(result *analyzer.Result, path string) error {
	text := Render(result)
	if path == "-" {
		_, err := os.Stdout.WriteString(text)
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	logging.Info().Str("path", path).Int("bytes", len(text)).Msg("Report written")
	return nil
}

func section(b *strings.Builder, title string) {
	fmt.Fprintf(b, "\n%s\n%s\n", title, sectionRule)
}

func line(b *strings.Builder, label, format string, args ...interface{}) {
	fmt.Fprintf(b, "%-24s%s\n", label+":", fmt.Sprintf(format, args...))
}

func timeframe(w metrics.Window) string {
	if w.AllHistory() {
		return "Full recording"
	}
	return fmt.Sprintf("Last %d months", w.Months)
}

func writeHeader(b *strings.Builder, result *analyzer.Result) {
	fmt.Fprintf(b, "BAROGRAPH CPAP DATA ANALYSIS REPORT\n%s\n\n", rule)
	line(b, "Device ID", "%s", result.DeviceID)
	line(b, "Run ID", "%s", result.RunID)
	line(b, "Generated", "%s", result.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	line(b, "Data directory", "%s", result.DataDir)
	line(b, "Timeframe", "%s", timeframe(result.Aggregate.Window))
	line(b, "Sessions", "%d (%d qualifying for AHI)",
		result.Aggregate.SessionCount, result.Aggregate.QualifyingSessions)
}

func writeDataQuality(b *strings.Builder, result *analyzer.Result) {
	section(b, "DATA QUALITY")
	q := result.DataQuality
	s := result.Stats

	line(b, "Files read", "%d (%d bytes)", len(q.Manifest), s.BytesRead)
	line(b, "Segment decode", "%d ok, %d partial, %d corrupt of %d",
		s.SegmentsOK, s.SegmentsPartial, s.SegmentsCorrupt, s.SegmentsTotal)
	line(b, "Samples decoded", "%d", s.SamplesDecoded)
	line(b, "Scale divisor", "%g (%s)", q.ScaleDivisor, divisorProvenance(q))
	line(b, "Timing source", "%s", q.TimingSource)
	line(b, "Session log", "%s", presence(q.LogPresent))
	line(b, "Event annotations", "%s", presence(q.EvtPresent))

	if degraded := degradedSegments(q.Segments); len(degraded) > 0 {
		fmt.Fprintf(b, "\n  %-9s%-9s%9s  %s\n", "SEGMENT", "STATUS", "SAMPLES", "DETAIL")
		for _, seg := range degraded {
			fmt.Fprintf(b, "  %-9s%-9s%9d  %s\n",
				fmt.Sprintf("%03d", seg.Number), seg.Status, seg.Samples, seg.Detail)
		}
	}

	if len(q.Warnings) == 0 {
		line(b, "Warnings", "none")
		return
	}
	b.WriteString("Warnings:\n")
	for _, w := range q.Warnings {
		for i, l := range wrap(fmt.Sprintf("[%s] %s: %s", w.Stage, w.Kind, w.Detail), lineWidth-4) {
			indent := "  - "
			if i > 0 {
				indent = "    "
			}
			fmt.Fprintf(b, "%s%s\n", indent, l)
		}
	}
}

func divisorProvenance(q analyzer.DataQuality) string {
	if q.Calibrated {
		return "auto-calibrated"
	}
	for _, w := range q.Warnings {
		if w.Kind == analyzer.WarnCalibrationFallback {
			return "fallback default"
		}
	}
	return "configured"
}

func presence(present bool) string {
	if present {
		return "present"
	}
	return "absent"
}

func degradedSegments(segments []analyzer.SegmentQuality) []analyzer.SegmentQuality {
	var out []analyzer.SegmentQuality
	for _, seg := range segments {
		if seg.Detail != "" {
			out = append(out, seg)
		}
	}
	return out
}

func writeUsage(b *strings.Builder, result *analyzer.Result) {
	section(b, "USAGE AND COMPLIANCE")
	agg := result.Aggregate

	line(b, "Window days", "%d", agg.WindowDays)
	line(b, "Usage days", "%.1f%% of nights (target >= 70%%)", agg.UsageDaysPercent)
	line(b, "Nights >= 4 hours", "%.1f%%", agg.Usage4hPercent)
	line(b, "Total usage", "%.1f hours", agg.TotalUsageHours)
	if agg.SessionCount > 0 {
		line(b, "Average per session", "%.1f hours", agg.TotalUsageHours/float64(agg.SessionCount))
	}
	line(b, "Compliance", "%s", result.Assessment.ComplianceStatus)
}

func writePressure(b *strings.Builder, result *analyzer.Result) {
	section(b, "PRESSURE STATISTICS")
	agg := result.Aggregate

	if agg.MaxPressure <= 0 {
		fmt.Fprintf(b, "No active pressure samples in the window.\n")
		return
	}
	line(b, "Mean pressure", "%.1f cmH2O", agg.MeanPressure)
	line(b, "95th percentile", "%.1f cmH2O", agg.P95Pressure)
	line(b, "Range", "%.1f - %.1f cmH2O", agg.MinPressure, agg.MaxPressure)
	if agg.StabilityLabel != metrics.StabilityUnknown {
		line(b, "Stability score", "%.2f (%s, CV %.2f)",
			agg.PressureStability, agg.StabilityLabel, agg.CV)
	} else {
		line(b, "Stability score", "insufficient data")
	}
	if agg.SlopeDefined {
		line(b, "Nightly drift", "%+.3f cmH2O/day", agg.PressureSlope)
	}
}

func writeEvents(b *strings.Builder, result *analyzer.Result) {
	section(b, "RESPIRATORY EVENTS")
	agg := result.Aggregate

	counts := events.CountByKind(result.Events)
	line(b, "Events detected", "%d (apnea %d, hypopnea %d)",
		len(result.Events), counts[events.KindApnea], counts[events.KindHypopnea])

	if agg.AHIDefined {
		line(b, "AHI", "%.1f events/hour", agg.AHI)
	} else {
		line(b, "AHI", "undefined (no qualifying usage)")
	}
	line(b, "AHI severity", "%s", result.Assessment.AHISeverity)

	if check := result.AnnotationCrossCheck; check != nil {
		if check.RatioDefined {
			line(b, "Device annotations", "%d respiratory (ratio %.2f, %s)",
				check.Annotated, check.Ratio, check.Verdict)
		} else {
			line(b, "Device annotations", "none on card")
		}
	}
}

func writeTrend(b *strings.Builder, result *analyzer.Result) {
	section(b, "TREND VS PREVIOUS WINDOW")
	trend := result.Aggregate.Trend

	if !trend.HasBaseline {
		fmt.Fprintf(b, "No prior window of equal length to compare against.\n")
		return
	}
	line(b, "Usage days", "%+.1f pp", trend.UsageDaysPercentDelta)
	line(b, "Nights >= 4 hours", "%+.1f pp", trend.Usage4hPercentDelta)
	line(b, "Mean pressure", "%+.1f cmH2O", trend.MeanPressureDelta)
	if trend.AHIDeltaDefined {
		line(b, "AHI", "%+.1f events/hour", trend.AHIDelta)
	} else {
		line(b, "AHI", "not comparable")
	}
}

func writeCorrelation(b *strings.Builder, result *analyzer.Result) {
	corr := result.Correlation
	if corr == nil {
		return
	}
	section(b, "REFERENCE CORRELATION")

	line(b, "Overall similarity", "%.3f", corr.Overall)
	line(b, "Confidence", "%s (%d comparable metrics)", corr.Confidence, corr.Comparable)

	if len(corr.Metrics) > 0 {
		fmt.Fprintf(b, "\n  %-20s%10s%10s%8s%12s\n",
			"METRIC", "REFERENCE", "COMPUTED", "DELTA", "SIMILARITY")
		for _, m := range corr.Metrics {
			fmt.Fprintf(b, "  %-20s%10.2f%10.2f%+8.2f%12.3f\n",
				m.Name, m.Reference, m.Computed, m.Delta, m.Similarity)
		}
	}
	if len(corr.Skipped) > 0 {
		fmt.Fprintf(b, "\nNo computed counterpart for: %s\n", strings.Join(corr.Skipped, ", "))
	}
}

func writeAssessment(b *strings.Builder, result *analyzer.Result) {
	section(b, "CLINICAL ASSESSMENT")
	a := result.Assessment

	line(b, "Therapy effectiveness", "%s", a.TherapyEffectiveness)
	line(b, "Compliance", "%s", a.ComplianceStatus)
	line(b, "Pressure stability", "%s", a.PressureStability)
	line(b, "AHI severity", "%s", a.AHISeverity)
	if a.InsufficientData {
		fmt.Fprintf(b, "\nOne or more categories lacked sufficient data for classification.\n")
	}
}

// wrap greedily folds s into lines no wider than width. Words longer
// than the width stay on their own line unbroken.
func wrap(s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]
	for _, w := range words[1:] {
		if len(current)+1+len(w) > width {
			lines = append(lines, current)
			current = w
			continue
		}
		current += " " + w
	}
	return append(lines, current)
}
