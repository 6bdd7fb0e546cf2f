// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/tomtom215/barograph/internal/analyzer"
	"github.com/tomtom215/barograph/internal/logging"
)

// ErrTooFewSessions means the window holds fewer than two plottable
// sessions, so there is no trend to draw. Callers usually log it and
// skip the chart rather than failing the run.
var ErrTooFewSessions = errors.New("too few sessions to chart a trend")

// RenderChart draws the nightly trend as a PNG: mean pressure per
// session on the primary axis and, when enough sessions define one,
// AHI on the secondary axis.
func RenderChart(result *analyzer.Result) ([]byte, error) {
	var times []time.Time
	var pressures []float64
	for _, s := range result.Sessions {
		if s.ActiveSamples == 0 {
			continue
		}
		times = append(times, s.Start)
		pressures = append(pressures, s.MeanPressure)
	}
	if len(times) < 2 {
		return nil, ErrTooFewSessions
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Mean pressure (cmH2O)",
			Style:   chart.Style{StrokeColor: chart.ColorBlue, StrokeWidth: 2},
			XValues: times,
			YValues: pressures,
		},
	}

	var ahiTimes []time.Time
	var ahis []float64
	for _, s := range result.Sessions {
		if !s.AHIDefined {
			continue
		}
		ahiTimes = append(ahiTimes, s.Start)
		ahis = append(ahis, s.AHI)
	}
	if len(ahiTimes) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "AHI (events/hour)",
			Style:   chart.Style{StrokeColor: chart.ColorRed, StrokeWidth: 2},
			YAxis:   chart.YAxisSecondary,
			XValues: ahiTimes,
			YValues: ahis,
		})
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("Nightly therapy trend - device %s", result.DeviceID),
		Width:  1024,
		Height: 480,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("Jan 02"),
		},
		YAxis:          chart.YAxis{Name: "Pressure (cmH2O)"},
		YAxisSecondary: chart.YAxis{Name: "AHI"},
		Series:         series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("rendering chart: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteChart renders the trend chart to path.
func WriteChart(result *analyzer.Result, path string) error {
	png, err := RenderChart(result)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("writing chart: %w", err)
	}
	logging.Info().Str("path", path).Int("bytes", len(png)).Msg("Chart written")
	return nil
}
