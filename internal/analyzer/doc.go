// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

// Package analyzer runs the full analysis pipeline over one SD card file
// set and assembles the Result that the report, export and chart
// artifacts are rendered from.
//
// # Pipeline
//
// One Run is a fixed sequence of batch stages, each owned by its package:
//
//	discover   (internal/sdcard)     locate and fingerprint the file set
//	     ↓
//	calibrate  (internal/decoder)    pick the scale divisor unless pinned
//	     ↓
//	decode     (internal/decoder)    parallel fixed-width segment decode
//	     ↓
//	timeline   (internal/timeline)   anchor samples, split sessions
//	     ↓
//	detect     (internal/events)     apnea/hypopnea estimation + .evt cross-check
//	     ↓
//	metrics    (internal/metrics)    windowed usage, pressure and AHI
//	     ↓
//	classify   (internal/clinical)   threshold-table assessment
//	     ↓
//	correlate  (internal/correlation, optional) reference summary compare
//
// Data flows strictly forward; no stage mutates a predecessor's output,
// and the Result object is assembled once at the end.
//
// # Failure Policy
//
// Degradations along the way never abort the run: a failed calibration
// falls back to the default divisor, an unusable log degrades to
// gap-inferred timing, a corrupt segment stays in the segment quality
// table, and a rejected reference summary skips correlation. Each lands
// in Result.DataQuality as a Warning or a segment status so the report
// can disclose caveats. The run fails outright only when discovery finds
// nothing to analyze or no segment decodes a single sample.
//
// # Determinism
//
// Identical inputs and configuration produce an identical Result apart
// from RunID and the run timestamps. The metrics window anchors at the
// recording's end rather than the wall clock, so reruns on the same
// card agree.
package analyzer
