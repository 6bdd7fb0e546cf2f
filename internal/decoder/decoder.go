// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package decoder

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/tomtom215/barograph/internal/logging"
)

// SegmentStatus describes the decode outcome for a single segment file.
type SegmentStatus string

const (
	// StatusOK means every record in the segment decoded cleanly.
	StatusOK SegmentStatus = "ok"

	// StatusPartial means the segment ended mid-record; the complete
	// records were decoded and the trailing fragment was discarded.
	StatusPartial SegmentStatus = "partial"

	// StatusCorrupt means the segment yielded no usable samples.
	StatusCorrupt SegmentStatus = "corrupt"
)

// RawSample is a single decoded pressure reading.
//
// A sample whose stored count scales to a value outside the plausible
// pressure envelope is kept as a positional placeholder with Missing set;
// Pressure is zero in that case and must not be used.
type RawSample struct {
	Index    int     `json:"index"`
	Pressure float64 `json:"pressure"`
	Missing  bool    `json:"missing,omitempty"`
}

// Segment is the decoded form of one numbered segment file.
//
// Corrupt and partial segments are retained in the result set so the
// data-quality report can account for every input file; they are never
// silently dropped.
type Segment struct {
	Number   int           `json:"number"`
	Samples  []RawSample   `json:"samples,omitempty"`
	Status   SegmentStatus `json:"status"`
	Checksum uint64        `json:"checksum"`
	Err      error         `json:"-"`
}

// Layout describes the on-card binary format of segment files.
//
// RESmart-family firmware writes fixed-size records whose leading bytes
// hold a little-endian uint16 pressure count; the count divided by
// ScaleDivisor yields cmH2O. ByteOrder defaults to little-endian when nil.
type Layout struct {
	RecordSize   int
	ByteOrder    binary.ByteOrder
	ScaleDivisor float64
	EnvelopeMin  float64
	EnvelopeMax  float64
}

func (l Layout) order() binary.ByteOrder {
	if l.ByteOrder == nil {
		return binary.LittleEndian
	}
	return l.ByteOrder
}

// count extracts the raw pressure count at the given record offset.
func (l Layout) count(raw []byte, off int) uint16 {
	if l.RecordSize == 1 {
		return uint16(raw[off])
	}
	return l.order().Uint16(raw[off : off+2])
}

// DecodeError reports a malformed segment file. It is diagnostic, not
// fatal: the run continues with the remaining segments and the error is
// surfaced in the data-quality section of the result.
type DecodeError struct {
	Segment int
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("segment %03d: %s", e.Segment, e.Reason)
}

// Input is one segment file awaiting decode, keyed by its numeric
// filename suffix.
type Input struct {
	Number int
	Data   []byte
}

// Decode converts one segment file into samples.
//
// An empty file or one shorter than a single record is corrupt and
// yields no samples. A trailing fragment shorter than a record marks the
// segment partial; the complete records before it still decode and
// contribute downstream. Counts that scale outside the envelope become
// Missing placeholders so downstream indexing stays positional.
func Decode(number int, raw []byte, layout Layout) Segment {
	seg := Segment{
		Number:   number,
		Status:   StatusOK,
		Checksum: xxhash.Sum64(raw),
	}

	if len(raw) == 0 {
		seg.Status = StatusCorrupt
		seg.Err = &DecodeError{Segment: number, Reason: "empty segment file"}
		return seg
	}
	if len(raw) < layout.RecordSize {
		seg.Status = StatusCorrupt
		seg.Err = &DecodeError{
			Segment: number,
			Reason: fmt.Sprintf("%d bytes is shorter than one %d-byte record",
				len(raw), layout.RecordSize),
		}
		return seg
	}

	complete := len(raw) / layout.RecordSize
	if rem := len(raw) % layout.RecordSize; rem != 0 {
		seg.Status = StatusPartial
		seg.Err = &DecodeError{
			Segment: number,
			Reason: fmt.Sprintf("trailing %d-byte fragment after %d records",
				rem, complete),
		}
	}

	seg.Samples = make([]RawSample, complete)
	for i := 0; i < complete; i++ {
		count := layout.count(raw, i*layout.RecordSize)
		pressure := float64(count) / layout.ScaleDivisor

		if pressure < layout.EnvelopeMin || pressure > layout.EnvelopeMax {
			seg.Samples[i] = RawSample{Index: i, Missing: true}
			continue
		}
		seg.Samples[i] = RawSample{Index: i, Pressure: pressure}
	}

	return seg
}

// DecodeAll decodes every input segment through a bounded worker pool.
//
// A failing segment never aborts its siblings; its Segment carries the
// error and a corrupt or partial status instead. Results are returned
// sorted by segment number regardless of worker completion order, so
// repeat runs over the same inputs produce identical output.
func DecodeAll(inputs []Input, layout Layout, workers int) []Segment {
	if len(inputs) == 0 {
		return nil
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	segments := make([]Segment, len(inputs))
	jobChan := make(chan int, len(inputs))
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobChan {
				in := inputs[idx]
				segments[idx] = Decode(in.Number, in.Data, layout)
			}
		}()
	}

	for idx := range inputs {
		jobChan <- idx
	}
	close(jobChan)
	wg.Wait()

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Number < segments[j].Number
	})

	for _, seg := range segments {
		if seg.Err != nil {
			logging.Warn().
				Int("segment", seg.Number).
				Str("status", string(seg.Status)).
				Err(seg.Err).
				Msg("Segment decode degraded")
		}
	}

	return segments
}

// SampleCount sums decoded samples across segments.
func SampleCount(segments []Segment) int {
	total := 0
	for _, seg := range segments {
		total += len(seg.Samples)
	}
	return total
}
