// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

// Package timeline reconstructs timestamped therapy sessions from the
// flat sample stream the decoder produces.
//
// Segment files carry no timestamps of their own; absolute time comes
// from the device session log, which maps each therapy block to a start
// time and duration. The assembler anchors the first sample of each
// session to its log record and advances subsequent samples by the
// sampling interval.
//
// # Timing Strategies
//
//	.log present and usable → LogBased
//	    anchor = log start, duration = log duration,
//	    sampling rate cross-checked against the log totals
//
//	.log missing/garbage    → InferredFromGaps
//	    sessions split where the pressure trace goes idle for the
//	    configured gap, anchored at a caller-supplied fallback time,
//	    reported as a low_confidence_timing warning
//
// The strategy is recorded per session so downstream consumers can see
// which timestamps to trust. A card can mix both: samples past the final
// log record fall back to gap inference for the tail only.
package timeline
