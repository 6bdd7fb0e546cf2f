// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

// Package events estimates respiratory events from the assembled
// pressure timeline and decodes the device's own event annotations.
//
// # Detection Model
//
// Detectors implement the Detector interface and are run per session by
// the Engine. Two detectors ship by default:
//
//   - apnea: a rolling window the size of the minimum event duration
//     must sit entirely inside a narrow standard-deviation band. A
//     closed airway stops respiratory modulation of the delivered
//     pressure, which reads as a flat plateau.
//
//   - hypopnea: the window's peak-to-trough amplitude must drop by a
//     configured percentage against a trailing rolling baseline of the
//     same measure. Partial obstruction damps modulation without
//     flattening it.
//
// Candidates of the same kind separated by fewer samples than the merge
// gap are unioned into one event. A span claimed by both detectors
// surfaces as the apnea only.
//
// # Pipeline Position
//
//	timeline.Session (uniform points)
//	    ↓ Engine.DetectAll
//	[]Event
//	    ↓ metrics.Compute (AHI), report, export
//
// # Estimation Caveat
//
// The device records pressure, not airflow. Detection from pressure
// alone is an estimate; EstimationDisclaimer must accompany every
// surfaced event count. The .evt annotations parsed here provide an
// order-of-magnitude cross-check (CrossCheckAnnotations), never a
// ground-truth alignment, because annotation blocks carry no usable
// timestamps.
package events
