// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

// Package decoder converts raw SD-card segment files into pressure samples.
//
// RESmart-family devices append pressure history to numbered segment files
// (<device>.000, <device>.001, ...) as fixed-size binary records. Each
// record's leading two bytes are a little-endian uint16 count; dividing the
// count by a firmware-dependent scale divisor yields the treatment pressure
// in cmH2O.
//
// # Pipeline Position
//
//	SD card segment files (internal/sdcard)
//	       ↓
//	Decode / DecodeAll (this package)
//	       ↓
//	Timeline assembly (internal/timeline)
//
// # Degradation Model
//
// Decoding never fails the run outright. A malformed segment is kept in
// the output with a corrupt or partial status and a DecodeError so the
// data-quality report can show exactly which files degraded and why:
//
//   - empty file, or shorter than one record → corrupt, zero samples
//   - trailing fragment after complete records → partial, fragment dropped
//   - count scaling outside the pressure envelope → Missing placeholder
//
// Only a card where every segment is corrupt leaves the caller with
// nothing to analyze; that decision belongs to internal/analyzer.
//
// # Scale Calibration
//
// The uint16-to-cmH2O divisor varies by firmware build. When configuration
// does not pin it, Calibrate tries a candidate divisor set against the
// card's own counts and picks the one that places the pressure
// distribution inside the therapeutic range. See Calibrate for the
// selection rule.
package decoder
