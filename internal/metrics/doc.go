// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

// Package metrics rolls sessions and detected events up into compliance
// and pressure statistics over a selectable trailing window.
//
// # Windows
//
// A window is 3, 6 or 12 trailing months (a month is a fixed 30 days so
// results never depend on the calendar the analysis runs under) or all
// history. Windows anchor at the end of the recording by default, which
// makes reruns on the same card byte-identical. Trend deltas compare a
// fixed window against the immediately preceding window of equal
// length; when no prior window holds data the trend carries
// HasBaseline=false rather than fabricated zeros.
//
// # AHI Aggregation
//
// Sessions shorter than the minimal-usage floor are excluded from AHI
// aggregation but still count toward usage statistics. The aggregate
// AHI is total qualifying events over total qualifying hours, never an
// average of per-session AHI values: averaging would let a ten-minute
// nap with one event weigh as much as a full night.
//
// # Pipeline Position
//
//	timeline.Session + events.Event
//	    ↓ Compute(window)
//	Aggregate + []SessionMetrics
//	    ↓ clinical.Classify, correlation.Correlate, report, export
package metrics
