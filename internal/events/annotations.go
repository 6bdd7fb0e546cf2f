// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package events

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// annotationMarker prefixes every device-written event block in the
// .evt file. The marker bytes also occupy the block's nominal timestamp
// field, so blocks carry no usable wall-clock time; annotations are
// positional and the cross-check against detected events is count-based.
var annotationMarker = []byte{0xAA, 0xAA, 0xAA, 0xAA}

// annotationBlockLen covers marker (4), type (1) and duration (2).
const annotationBlockLen = 7

// AnnotationType is the device's event-type code.
type AnnotationType uint8

const (
	AnnotationObstructiveApnea  AnnotationType = 0x01
	AnnotationHypopnea          AnnotationType = 0x02
	AnnotationCentralApnea      AnnotationType = 0x03
	AnnotationMixedApnea        AnnotationType = 0x04
	AnnotationFlowLimitation    AnnotationType = 0x05
	AnnotationRERA              AnnotationType = 0x06
	AnnotationLargeLeak         AnnotationType = 0x07
	AnnotationMaskOff           AnnotationType = 0x08
	AnnotationClearAirway       AnnotationType = 0x09
	AnnotationPeriodicBreathing AnnotationType = 0x0A
	AnnotationMarker            AnnotationType = 0xAA
	AnnotationSessionEnd        AnnotationType = 0xFF
)

var annotationNames = map[AnnotationType]string{
	AnnotationObstructiveApnea:  "Obstructive Apnea",
	AnnotationHypopnea:          "Hypopnea",
	AnnotationCentralApnea:      "Central Apnea",
	AnnotationMixedApnea:        "Mixed Apnea",
	AnnotationFlowLimitation:    "Flow Limitation",
	AnnotationRERA:              "RERA",
	AnnotationLargeLeak:         "Large Leak",
	AnnotationMaskOff:           "Mask Off",
	AnnotationClearAirway:       "Clear Airway",
	AnnotationPeriodicBreathing: "Periodic Breathing",
	AnnotationMarker:            "Marker/Timestamp",
	AnnotationSessionEnd:        "Session End",
}

func (t AnnotationType) String() string {
	if name, ok := annotationNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02X)", uint8(t))
}

// Respiratory reports whether this type counts toward an AHI-comparable
// event tally. Flow limitation and RERA are arousal-index material and
// leak/mask/marker codes are machine state, so none of those qualify.
func (t AnnotationType) Respiratory() bool {
	switch t {
	case AnnotationObstructiveApnea, AnnotationHypopnea, AnnotationCentralApnea,
		AnnotationMixedApnea, AnnotationClearAirway:
		return true
	default:
		return false
	}
}

// Annotation is one device-recorded event block from the .evt file.
type Annotation struct {
	// Offset is the marker's byte position within the file.
	Offset int

	// Type is the device's event classification.
	Type AnnotationType

	// Duration is the device-reported event length.
	Duration time.Duration
}

// ParseAnnotations scans raw .evt bytes for marker-prefixed event
// blocks. Blocks with an unknown type code and a zero duration are
// treated as noise and dropped; a nil or markerless input yields nil.
func ParseAnnotations(raw []byte) []Annotation {
	var anns []Annotation
	for pos := 0; pos+annotationBlockLen <= len(raw); {
		idx := bytes.Index(raw[pos:], annotationMarker)
		if idx < 0 {
			break
		}
		at := pos + idx
		pos = at + len(annotationMarker)
		if at+annotationBlockLen > len(raw) {
			break
		}

		typ := AnnotationType(raw[at+4])
		duration := binary.LittleEndian.Uint16(raw[at+5 : at+7])
		if _, known := annotationNames[typ]; !known && duration == 0 {
			continue
		}

		anns = append(anns, Annotation{
			Offset:   at,
			Type:     typ,
			Duration: time.Duration(duration) * time.Second,
		})
	}
	return anns
}

// CountAnnotationsByType tallies annotations per human-readable type.
func CountAnnotationsByType(anns []Annotation) map[string]int {
	counts := make(map[string]int)
	for _, a := range anns {
		counts[a.Type.String()]++
	}
	return counts
}

// Cross-check verdicts.
const (
	VerdictConsistent    = "consistent"
	VerdictOvercount     = "detector_overcount"
	VerdictUndercount    = "detector_undercount"
	VerdictNoAnnotations = "no_annotations"
)

// CrossCheck compares detector output against the device's own event
// annotations. Annotations carry no timestamps, so the comparison is a
// count ratio, not an alignment.
type CrossCheck struct {
	Detected     int            `json:"detected"`
	Annotated    int            `json:"annotated"`
	Ratio        float64        `json:"ratio"`
	RatioDefined bool           `json:"ratio_defined"`
	Verdict      string         `json:"verdict"`
	ByType       map[string]int `json:"by_type,omitempty"`
}

// CrossCheckAnnotations summarizes how the detected event count compares
// with the respiratory annotations on the card. A ratio within a factor
// of two in either direction counts as consistent; estimation from the
// pressure signal alone cannot be held to tighter agreement.
func CrossCheckAnnotations(detected []Event, anns []Annotation) CrossCheck {
	check := CrossCheck{
		Detected: len(detected),
		ByType:   CountAnnotationsByType(anns),
	}
	for _, a := range anns {
		if a.Type.Respiratory() {
			check.Annotated++
		}
	}

	if check.Annotated == 0 {
		check.Verdict = VerdictNoAnnotations
		return check
	}

	check.Ratio = float64(check.Detected) / float64(check.Annotated)
	check.RatioDefined = true
	switch {
	case check.Ratio > 2:
		check.Verdict = VerdictOvercount
	case check.Ratio < 0.5:
		check.Verdict = VerdictUndercount
	default:
		check.Verdict = VerdictConsistent
	}
	return check
}
